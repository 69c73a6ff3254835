package msgstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaybus/relay/internal/envelope"
	"github.com/relaybus/relay/internal/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(store.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func newTestEnvelope(t *testing.T, subject, from string) *envelope.Envelope {
	t.Helper()
	env, err := envelope.New(subject, from, "", map[string]int{"x": 1}, envelope.Budget{})
	require.NoError(t, err)
	env.Budget = envelope.NormalizeBudget(env.Budget, time.Now())
	return env
}

func TestAppendAndGet(t *testing.T) {
	s := setupTestStore(t)
	env := newTestEnvelope(t, "relay.agent.a", "relay.human.console")

	require.NoError(t, s.Append(env))

	got, err := s.Get(env.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, env.Subject, got.Subject)
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := setupTestStore(t)
	got, err := s.Get("does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestListNewestFirst(t *testing.T) {
	s := setupTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		env := newTestEnvelope(t, "relay.agent.a", "relay.human.console")
		env.CreatedAt = time.Now().Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, s.Append(env))
		ids = append(ids, env.ID)
	}

	result, err := s.List(ListQuery{Subject: "relay.agent.a", Limit: 10})
	require.NoError(t, err)
	require.Len(t, result.Messages, 3)
	require.Equal(t, ids[2], result.Messages[0].ID)
	require.Equal(t, ids[0], result.Messages[2].ID)
}

func TestSetStatusOnlyFromNew(t *testing.T) {
	s := setupTestStore(t)
	env := newTestEnvelope(t, "relay.agent.a", "relay.human.console")
	require.NoError(t, s.Append(env))

	require.NoError(t, s.SetStatus(env.ID, envelope.StatusDelivered))

	err := s.SetStatus(env.ID, envelope.StatusFailed)
	require.Error(t, err)
}
