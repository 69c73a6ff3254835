package envelope

import "testing"

func TestNewAssignsTraceID(t *testing.T) {
	env, err := New("relay.agent.a", "relay.human.console", "", map[string]int{"x": 1}, Budget{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if env.ID == "" {
		t.Fatal("expected non-empty id")
	}
	if env.TraceID != env.ID {
		t.Errorf("top-level envelope TraceID = %q, want equal to ID %q", env.TraceID, env.ID)
	}
	if env.Status != StatusNew {
		t.Errorf("Status = %q, want %q", env.Status, StatusNew)
	}
}

func TestDeriveInheritsTraceID(t *testing.T) {
	parent, _ := New("relay.agent.a", "relay.human.console", "", map[string]int{}, Budget{})
	child, err := Derive(parent, "relay.agent.b", "relay.agent.a", map[string]int{}, Budget{})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if child.TraceID != parent.TraceID {
		t.Errorf("child TraceID = %q, want %q", child.TraceID, parent.TraceID)
	}
	if child.ID == parent.ID {
		t.Error("child should have a distinct ID")
	}
}

func TestStatusIsTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusNew:        false,
		StatusDelivered:  true,
		StatusFailed:     true,
		StatusDeadLetter: true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%q.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	env, _ := New("relay.agent.a", "relay.human.console", "", map[string]int{"x": 1}, Budget{Visited: []uint64{1, 2}})
	clone := env.Clone()
	clone.Budget.Visited[0] = 999

	if env.Budget.Visited[0] == 999 {
		t.Error("mutating clone's visited set affected original")
	}
}

func TestValidateRequiresFields(t *testing.T) {
	env := &Envelope{}
	if err := env.Validate(); err == nil {
		t.Error("expected error for empty envelope")
	}
}
