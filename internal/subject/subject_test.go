package subject

import "testing"

func TestValid(t *testing.T) {
	cases := []struct {
		s     string
		valid bool
	}{
		{"relay.agent.a", true},
		{"relay", true},
		{"a.b.c.d.e.f.g.h", true},
		{"a.b.c.d.e.f.g.h.i", false}, // 9 tokens
		{"", false},
		{"relay..agent", false},
		{"relay.agent!", false},
	}
	for _, c := range cases {
		err := Valid(c.s)
		if (err == nil) != c.valid {
			t.Errorf("Valid(%q) = %v, want valid=%v", c.s, err, c.valid)
		}
	}
}

func TestValidPattern(t *testing.T) {
	cases := []struct {
		p     string
		valid bool
	}{
		{"relay.agent.*", true},
		{"relay.agent.>", true},
		{">", true},
		{"a.>.b", false}, // tail-only rule
		{"a.>.", false},
		{"", false},
	}
	for _, c := range cases {
		err := ValidPattern(c.p)
		if (err == nil) != c.valid {
			t.Errorf("ValidPattern(%q) = %v, want valid=%v", c.p, err, c.valid)
		}
	}
}

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern, subject string
		want             bool
	}{
		{"relay.agent.a", "relay.agent.a", true},
		{"relay.agent.*", "relay.agent.x", true},
		{"relay.agent.*", "relay.agent.x.y", false},
		{"relay.agent.>", "relay.agent.x", true},
		{"relay.agent.>", "relay.agent.x.y.z", true},
		{">", "relay.agent.x", true},
		{"relay.agent.a", "relay.agent.b", false},
		{"relay.*.a", "relay.human.a", true},
	}
	for _, c := range cases {
		got := Matches(c.pattern, c.subject)
		if got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.pattern, c.subject, got, c.want)
		}
	}
}
