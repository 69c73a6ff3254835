package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaybus/relay/internal/deadletter"
	"github.com/relaybus/relay/internal/endpoint"
	"github.com/relaybus/relay/internal/envelope"
	"github.com/relaybus/relay/internal/msgstore"
	"github.com/relaybus/relay/internal/store"
	"github.com/relaybus/relay/internal/subs"
	"github.com/relaybus/relay/internal/trace"
)

type harness struct {
	engine *Engine
	bus    *subs.Bus
	msgs   *msgstore.Store
	eps    *endpoint.Registry
	dls    *deadletter.Store
	tr     *trace.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(store.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	msgs := msgstore.New(db)
	eps := endpoint.New(db)
	dls := deadletter.New(db)
	tr := trace.New(db, 7)
	bus := subs.New(100)
	engine := New(msgs, eps, dls, tr, bus, Config{Workers: 2, QueueSize: 16})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		engine.Shutdown(ctx)
	})
	return &harness{engine: engine, bus: bus, msgs: msgs, eps: eps, dls: dls, tr: tr}
}

func TestPublishNoSubscribersDeliversZero(t *testing.T) {
	h := newHarness(t)
	res, err := h.engine.Publish(context.Background(), "relay.agent.a", map[string]string{"x": "1"}, PublishOptions{From: "relay.human.console"})
	require.NoError(t, err)
	require.Equal(t, uint(0), res.DeliveredTo)
	require.NotEmpty(t, res.MessageID)
}

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	h := newHarness(t)
	_, err := h.eps.Register("relay.agent.a", "")
	require.NoError(t, err)

	received := make(chan struct{}, 1)
	cancel, err := h.bus.Subscribe("relay.agent.a", func(env *envelope.Envelope) error {
		received <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	defer cancel()

	res, err := h.engine.Publish(context.Background(), "relay.agent.a", map[string]string{"x": "1"}, PublishOptions{From: "relay.human.console"})
	require.NoError(t, err)
	require.Equal(t, uint(1), res.DeliveredTo)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	stored, err := h.msgs.Get(res.MessageID)
	require.NoError(t, err)
	require.Equal(t, envelope.StatusDelivered, stored.Status)
}

func TestPublishDeliversToRegisteredEndpointWithoutBusSubscriber(t *testing.T) {
	h := newHarness(t)
	_, err := h.eps.Register("relay.agent.a", "")
	require.NoError(t, err)

	res, err := h.engine.Publish(context.Background(), "relay.agent.a", map[string]string{"x": "1"}, PublishOptions{From: "relay.human.console"})
	require.NoError(t, err)
	require.Equal(t, uint(1), res.DeliveredTo)

	stored, err := h.msgs.Get(res.MessageID)
	require.NoError(t, err)
	require.Equal(t, envelope.StatusDelivered, stored.Status)

	rec, err := h.dls.Get(res.MessageID)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestPublishInvalidSubjectRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Publish(context.Background(), "", nil, PublishOptions{From: "relay.human.console"})
	require.Error(t, err)
}

func TestPublishExpiredTTLDeadLetters(t *testing.T) {
	h := newHarness(t)
	budget := envelope.Budget{Deadline: time.Now().Add(-time.Minute)}
	res, err := h.engine.Publish(context.Background(), "relay.agent.a", nil, PublishOptions{From: "relay.human.console", Budget: budget})
	require.NoError(t, err)
	require.Equal(t, uint(0), res.DeliveredTo)

	rec, err := h.dls.Get(res.MessageID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, envelope.ReasonTTLExpired, rec.Reason)
}
