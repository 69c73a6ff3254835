// Package deadletter is the dead-letter store of SPEC_FULL.md §3/§4.5
// step 8: envelopes the delivery engine could not place anywhere end up
// here, queryable by the endpoint they were bound for. Built the same
// way internal/msgstore layers a domain-shaped API over internal/store.
package deadletter

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/relaybus/relay/internal/envelope"
	"github.com/relaybus/relay/internal/relayerr"
	"github.com/relaybus/relay/internal/store"
)

// Record is a persisted dead-letter entry.
type Record struct {
	MessageID    string             `json:"messageId"`
	EndpointHash uint64             `json:"endpointHash"`
	Reason       envelope.RejectReason `json:"reason"`
	Envelope     *envelope.Envelope `json:"envelope"`
	FailedAt     time.Time          `json:"failedAt"`
}

type Store struct {
	db *store.Store
}

func New(db *store.Store) *Store {
	return &Store{db: db}
}

// Record persists a dead-lettered envelope against the endpoint (if any)
// it failed to reach. endpointHash is 0 when the rejection happened
// before a target endpoint was resolved (e.g. ttl_expired, cycle_detected).
func (s *Store) Record(env *envelope.Envelope, endpointHash uint64, reason envelope.RejectReason) error {
	rec := &Record{
		MessageID:    env.ID,
		EndpointHash: endpointHash,
		Reason:       reason,
		Envelope:     env,
		FailedAt:     time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return relayerr.Wrap(relayerr.StorageError, "marshal dead letter", err)
	}

	primaryKey := store.DeadLetterKey(rec.MessageID)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(primaryKey, data); err != nil {
			return err
		}
		return txn.Set(store.DeadLetterByTargetKey(endpointHash, rec.MessageID), primaryKey)
	})
}

// Get returns the dead-letter record for a message id, or nil if none.
func (s *Store) Get(messageID string) (*Record, error) {
	data, err := s.db.Get(store.DeadLetterKey(messageID))
	if err == store.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "get dead letter", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "decode dead letter", err)
	}
	return &rec, nil
}

// ListByTarget returns dead letters bound for a given endpoint in
// ascending message-id order (a forward key scan over the target prefix;
// ids are time-ordered UUIDv7, so the oldest envelope comes first).
func (s *Store) ListByTarget(endpointHash uint64) ([]*Record, error) {
	rows, err := s.db.Scan(store.DeadLetterByTargetKey(endpointHash, ""), store.ScanOptions{})
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "scan dead letters", err)
	}
	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		data, err := s.db.Get(row.Value)
		if err == store.ErrKeyNotFound {
			continue
		}
		if err != nil {
			return nil, relayerr.Wrap(relayerr.StorageError, "fetch dead letter", err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// List returns every dead letter in the store.
func (s *Store) List() ([]*Record, error) {
	rows, err := s.db.Scan([]byte(store.DeadLetterPrefix), store.ScanOptions{})
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "scan dead letters", err)
	}
	out := make([]*Record, 0, len(rows))
	for _, row := range rows {
		var rec Record
		if err := json.Unmarshal(row.Value, &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}
