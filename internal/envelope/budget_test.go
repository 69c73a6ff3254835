package envelope

import (
	"testing"
	"time"
)

func TestNormalizeBudgetDefaults(t *testing.T) {
	now := time.Now()
	b := NormalizeBudget(Budget{}, now)

	if b.MaxHops != DefaultMaxHops {
		t.Errorf("MaxHops = %d, want %d", b.MaxHops, DefaultMaxHops)
	}
	if b.TTLMs != DefaultTTLMs {
		t.Errorf("TTLMs = %d, want %d", b.TTLMs, DefaultTTLMs)
	}
	if !b.Deadline.After(now) {
		t.Errorf("Deadline %v should be after now %v", b.Deadline, now)
	}
}

func TestNormalizeBudgetClamps(t *testing.T) {
	now := time.Now()
	b := NormalizeBudget(Budget{MaxHops: 200, TTLMs: 9_999_999}, now)

	if b.MaxHops != maxMaxHops {
		t.Errorf("MaxHops = %d, want clamped to %d", b.MaxHops, maxMaxHops)
	}
	if b.TTLMs != maxTTLMs {
		t.Errorf("TTLMs = %d, want clamped to %d", b.TTLMs, maxTTLMs)
	}
}

func TestCheckBudgetHopLimit(t *testing.T) {
	now := time.Now()
	b := NormalizeBudget(Budget{MaxHops: 1}, now)
	b = b.WithVisited(SubjectHash("relay.loop.a"))

	reason, ok := CheckBudget(b, "relay.loop.b", "relay.loop.a", now)
	if ok || reason != ReasonHopLimit {
		t.Errorf("CheckBudget = (%v, %v), want (hop_limit, false)", reason, ok)
	}
}

func TestCheckBudgetCycleDetected(t *testing.T) {
	now := time.Now()
	b := NormalizeBudget(Budget{}, now)
	b = b.WithVisited(SubjectHash("relay.loop.a"))

	reason, ok := CheckBudget(b, "relay.loop.a", "relay.loop.a", now)
	if ok || reason != ReasonCycleDetected {
		t.Errorf("CheckBudget = (%v, %v), want (cycle_detected, false)", reason, ok)
	}
}

func TestCheckBudgetTTLExpired(t *testing.T) {
	now := time.Now()
	b := NormalizeBudget(Budget{TTLMs: 1}, now.Add(-time.Hour))

	reason, ok := CheckBudget(b, "relay.agent.a", "relay.human.console", now)
	if ok || reason != ReasonTTLExpired {
		t.Errorf("CheckBudget = (%v, %v), want (ttl_expired, false)", reason, ok)
	}
}

func TestCheckBudgetOK(t *testing.T) {
	now := time.Now()
	b := NormalizeBudget(Budget{}, now)

	reason, ok := CheckBudget(b, "relay.agent.a", "relay.human.console", now)
	if !ok || reason != "" {
		t.Errorf("CheckBudget = (%v, %v), want (\"\", true)", reason, ok)
	}
}
