// Package endpoint is the persistent subject->endpoint registry of
// SPEC_FULL.md §4.3, built on internal/store the same way internal/kv's
// kvStore sits over omni's BadgerStore, with findMatching delegating to
// internal/subject for the §4.1 wildcard semantics — the same
// "iterate then filter" shape the teacher's broker uses for topic lookup.
package endpoint

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/relaybus/relay/internal/envelope"
	"github.com/relaybus/relay/internal/relayerr"
	"github.com/relaybus/relay/internal/store"
	"github.com/relaybus/relay/internal/subject"
)

// Endpoint is a persisted registration binding a subject to a logical
// receiver (SPEC_FULL.md §3).
type Endpoint struct {
	Subject      string    `json:"subject"`
	SubjectHash  uint64    `json:"subjectHash"`
	RegisteredAt time.Time `json:"registeredAt"`
	Description  string    `json:"description,omitempty"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
	MessageCount int64     `json:"messageCount"`
}

type Registry struct {
	db *store.Store
}

func New(db *store.Store) *Registry {
	return &Registry{db: db}
}

// Register creates or idempotently returns an endpoint for subject.
// Subject is a pattern under §4.1's grammar, so wildcard registrations
// like "relay.agent.>" are accepted: FindMatching below treats every
// registered subject as a pattern regardless.
func (r *Registry) Register(subj, description string) (*Endpoint, error) {
	if err := subject.ValidPattern(subj); err != nil {
		return nil, err
	}

	existing, err := r.get(subj)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	ep := &Endpoint{
		Subject:      subj,
		SubjectHash:  envelope.SubjectHash(subj),
		RegisteredAt: time.Now().UTC(),
		Description:  description,
	}
	if err := r.put(ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// Unregister removes the endpoint for subject, idempotently.
func (r *Registry) Unregister(subj string) (bool, error) {
	existed, err := r.db.Exists(store.EndpointKey(subj))
	if err != nil {
		return false, relayerr.Wrap(relayerr.StorageError, "check endpoint existence", err)
	}
	if err := r.db.Delete(store.EndpointKey(subj)); err != nil {
		return false, relayerr.Wrap(relayerr.StorageError, "delete endpoint", err)
	}
	return existed, nil
}

// List returns every registered endpoint.
func (r *Registry) List() ([]*Endpoint, error) {
	rows, err := r.db.Scan([]byte(store.EndpointPrefix), store.ScanOptions{})
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "scan endpoints", err)
	}
	out := make([]*Endpoint, 0, len(rows))
	for _, row := range rows {
		var ep Endpoint
		if err := json.Unmarshal(row.Value, &ep); err != nil {
			continue
		}
		out = append(out, &ep)
	}
	return out, nil
}

// FindMatching returns every endpoint whose registered subject matches s
// under §4.1 matcher semantics, so a subscriber on `relay.agent.>`
// receives all `relay.agent.*` publishes (SPEC_FULL.md §4.3).
func (r *Registry) FindMatching(s string) ([]*Endpoint, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []*Endpoint
	for _, ep := range all {
		if subject.Matches(ep.Subject, s) {
			out = append(out, ep)
		}
	}
	return out, nil
}

// RecordActivity bumps an endpoint's message count and last-activity
// timestamp after a successful delivery.
func (r *Registry) RecordActivity(subj string) error {
	ep, err := r.get(subj)
	if err != nil {
		return err
	}
	if ep == nil {
		return nil
	}
	ep.MessageCount++
	ep.LastActivity = time.Now().UTC()
	return r.put(ep)
}

func (r *Registry) get(subj string) (*Endpoint, error) {
	data, err := r.db.Get(store.EndpointKey(subj))
	if err == store.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "get endpoint", err)
	}
	var ep Endpoint
	if err := json.Unmarshal(data, &ep); err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "decode endpoint", err)
	}
	return &ep, nil
}

func (r *Registry) put(ep *Endpoint) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return relayerr.Wrap(relayerr.StorageError, "marshal endpoint", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(store.EndpointKey(ep.Subject), data)
	})
}
