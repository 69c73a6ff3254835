package endpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaybus/relay/internal/store"
)

func setupTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := store.Open(store.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestRegisterUnregisterRegisterRoundTrip(t *testing.T) {
	r := setupTestRegistry(t)

	ep1, err := r.Register("relay.agent.a", "")
	require.NoError(t, err)
	require.Equal(t, "relay.agent.a", ep1.Subject)

	ok, err := r.Unregister("relay.agent.a")
	require.NoError(t, err)
	require.True(t, ok)

	ep2, err := r.Register("relay.agent.a", "")
	require.NoError(t, err)
	require.Equal(t, ep1.Subject, ep2.Subject)
}

func TestUnregisterIdempotent(t *testing.T) {
	r := setupTestRegistry(t)
	ok, err := r.Unregister("relay.agent.never-registered")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFindMatchingWildcards(t *testing.T) {
	r := setupTestRegistry(t)
	_, err := r.Register("relay.agent.>", "")
	require.NoError(t, err)
	_, err = r.Register("relay.agent.*", "")
	require.NoError(t, err)
	_, err = r.Register("relay.other.a", "")
	require.NoError(t, err)

	matches, err := r.FindMatching("relay.agent.x")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		require.Contains(t, []string{"relay.agent.>", "relay.agent.*"}, m.Subject)
	}
}

func TestRegisterInvalidSubject(t *testing.T) {
	r := setupTestRegistry(t)
	_, err := r.Register("", "")
	require.Error(t, err)
}
