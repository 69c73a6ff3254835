package deadletter

import (
	"testing"

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

func TestRecordAndGet(t *testing.T) {
	s := setupTestStore(t)
	env, err := envelope.New("relay.agent.a", "relay.human.console", "", nil, envelope.Budget{})
	require.NoError(t, err)

	require.NoError(t, s.Record(env, 42, envelope.ReasonHopLimit))

	rec, err := s.Get(env.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, envelope.ReasonHopLimit, rec.Reason)
	require.Equal(t, uint64(42), rec.EndpointHash)
}

func TestListByTarget(t *testing.T) {
	s := setupTestStore(t)
	env1, _ := envelope.New("relay.agent.a", "relay.human.console", "", nil, envelope.Budget{})
	env2, _ := envelope.New("relay.agent.b", "relay.human.console", "", nil, envelope.Budget{})

	require.NoError(t, s.Record(env1, 7, envelope.ReasonEndpointNotFound))
	require.NoError(t, s.Record(env2, 7, envelope.ReasonTTLExpired))

	recs, err := s.ListByTarget(7)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestListAll(t *testing.T) {
	s := setupTestStore(t)
	env, _ := envelope.New("relay.agent.a", "relay.human.console", "", nil, envelope.Budget{})
	require.NoError(t, s.Record(env, 0, envelope.ReasonCycleDetected))

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
}
