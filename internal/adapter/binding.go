package adapter

import (
	"encoding/json"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/relaybus/relay/internal/relayerr"
	"github.com/relaybus/relay/internal/store"
)

// SessionStrategy names how a binding maps channel sessions onto agent
// sessions.
type SessionStrategy string

const (
	SessionPerChat SessionStrategy = "per-chat"
	SessionShared  SessionStrategy = "shared"
)

// Binding maps an external channel (an adapter instance) to an agent
// (SPEC_FULL.md §3).
type Binding struct {
	ID              string          `json:"id"`
	AdapterID       string          `json:"adapterId"`
	AgentID         string          `json:"agentId"`
	AgentDir        string          `json:"agentDir"`
	SessionStrategy SessionStrategy `json:"sessionStrategy"`
	Label           string          `json:"label"`
}

// BindingStore is the durable binding registry, plus the active-session
// bookkeeping that cleanupOrphanedSessions consults when a binding is
// removed.
type BindingStore struct {
	db *store.Store

	mu             sync.Mutex
	activeSessions map[string]map[string]bool // bindingID -> sessionID -> active
}

func NewBindingStore(db *store.Store) *BindingStore {
	return &BindingStore{db: db, activeSessions: make(map[string]map[string]bool)}
}

// Create persists a new binding.
func (s *BindingStore) Create(b Binding) error {
	return s.put(b)
}

// Get returns a binding by id, or nil if not found.
func (s *BindingStore) Get(id string) (*Binding, error) {
	data, err := s.db.Get(store.BindingKey(id))
	if err == store.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "get binding", err)
	}
	var b Binding
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "decode binding", err)
	}
	return &b, nil
}

// List returns every binding.
func (s *BindingStore) List() ([]*Binding, error) {
	rows, err := s.db.Scan([]byte(store.BindingPrefix), store.ScanOptions{})
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "scan bindings", err)
	}
	out := make([]*Binding, 0, len(rows))
	for _, row := range rows {
		var b Binding
		if err := json.Unmarshal(row.Value, &b); err != nil {
			continue
		}
		out = append(out, &b)
	}
	return out, nil
}

// Delete removes a binding and cleans up any sessions the router was
// tracking for it, so it stops targeting a removed pairing.
func (s *BindingStore) Delete(id string) error {
	if err := s.db.Delete(store.BindingKey(id)); err != nil {
		return relayerr.Wrap(relayerr.StorageError, "delete binding", err)
	}
	s.cleanupOrphanedSessions(id)
	return nil
}

// TrackSession records that a binding has an active session, for later
// orphan cleanup.
func (s *BindingStore) TrackSession(bindingID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions, ok := s.activeSessions[bindingID]
	if !ok {
		sessions = make(map[string]bool)
		s.activeSessions[bindingID] = sessions
	}
	sessions[sessionID] = true
}

// cleanupOrphanedSessions drops every tracked session for a binding that
// no longer exists.
func (s *BindingStore) cleanupOrphanedSessions(bindingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeSessions, bindingID)
}

func (s *BindingStore) put(b Binding) error {
	data, err := json.Marshal(b)
	if err != nil {
		return relayerr.Wrap(relayerr.StorageError, "marshal binding", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(store.BindingKey(b.ID), data)
	})
}
