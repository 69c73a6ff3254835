package subs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaybus/relay/internal/envelope"
)

func testEnvelope(t *testing.T, subj string) *envelope.Envelope {
	t.Helper()
	env, err := envelope.New(subj, "relay.human.console", "", nil, envelope.Budget{})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	return env
}

func TestPublishLocalFanOutInRegistrationOrder(t *testing.T) {
	b := New(50)
	var mu sync.Mutex
	var order []string

	cancel1, err := b.Subscribe("relay.agent.>", func(env *envelope.Envelope) error {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cancel1()

	cancel2, err := b.Subscribe("relay.agent.*", func(env *envelope.Envelope) error {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cancel2()

	results := b.PublishLocal(testEnvelope(t, "relay.agent.a"))
	if len(results) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(results))
	}
	mu.Lock()
	defer mu.Unlock()
	if order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected registration order, got %v", order)
	}
}

func TestHandlerErrorDoesNotAbortOtherSubscribers(t *testing.T) {
	b := New(50)
	var delivered bool

	c1, _ := b.Subscribe("relay.agent.a", func(env *envelope.Envelope) error {
		return errors.New("boom")
	})
	defer c1()
	c2, _ := b.Subscribe("relay.agent.a", func(env *envelope.Envelope) error {
		delivered = true
		return nil
	})
	defer c2()

	results := b.PublishLocal(testEnvelope(t, "relay.agent.a"))
	if len(results) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(results))
	}
	if !delivered {
		t.Fatal("expected second subscriber to still be invoked")
	}
}

func TestSlowHandlerTimesOutAndEmitsBackpressure(t *testing.T) {
	b := New(10)
	var gotBackpressure bool

	cancelSig, _ := b.OnSignal("relay.agent.>", func(sig Signal) {
		if sig.Type == "backpressure" {
			gotBackpressure = true
		}
	})
	defer cancelSig()

	c, _ := b.Subscribe("relay.agent.a", func(env *envelope.Envelope) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	defer c()

	results := b.PublishLocal(testEnvelope(t, "relay.agent.a"))
	if len(results) != 1 || !results[0].TimedOut {
		t.Fatalf("expected a timed-out delivery, got %+v", results)
	}
	if !gotBackpressure {
		t.Fatal("expected a backpressure signal")
	}
}

func TestCancelRemovesSubscription(t *testing.T) {
	b := New(50)
	var called bool
	cancel, _ := b.Subscribe("relay.agent.a", func(env *envelope.Envelope) error {
		called = true
		return nil
	})
	cancel()

	b.PublishLocal(testEnvelope(t, "relay.agent.a"))
	if called {
		t.Fatal("expected no delivery after cancel")
	}
}

func TestNonMatchingSubjectNotDelivered(t *testing.T) {
	b := New(50)
	var called bool
	cancel, _ := b.Subscribe("relay.agent.a", func(env *envelope.Envelope) error {
		called = true
		return nil
	})
	defer cancel()

	b.PublishLocal(testEnvelope(t, "relay.agent.b"))
	if called {
		t.Fatal("expected no delivery for non-matching subject")
	}
}
