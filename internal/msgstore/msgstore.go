// Package msgstore is the durable append-only envelope log of
// SPEC_FULL.md §4.2, built on internal/store the way omni's internal/kv
// typed-wrapper sits on top of its BadgerStore: a thin, validated,
// domain-shaped API over a generic key-value engine.
package msgstore

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/relaybus/relay/internal/envelope"
	"github.com/relaybus/relay/internal/relayerr"
	"github.com/relaybus/relay/internal/store"
)

const maxListLimit = 200

// Store is the append-only, cursor-paginated envelope log.
type Store struct {
	db *store.Store
}

func New(db *store.Store) *Store {
	return &Store{db: db}
}

// Append writes the envelope atomically. Primary and secondary index
// entries are written in the same transaction for atomicity, following
// the common.KeyBuilder prefix-index convention.
func (s *Store) Append(env *envelope.Envelope) error {
	data, err := env.ToJSON()
	if err != nil {
		return relayerr.Wrap(relayerr.StorageError, "marshal envelope", err)
	}

	nanos := env.CreatedAt.UnixNano()
	primaryKey := store.MessageKey(nanos, env.ID)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(primaryKey, data); err != nil {
			return err
		}
		if err := txn.Set(store.MessageByIDKey(env.ID), primaryKey); err != nil {
			return err
		}
		if err := txn.Set(store.MessageBySubjectKey(env.Subject, nanos, env.ID), primaryKey); err != nil {
			return err
		}
		if err := txn.Set(store.MessageByFromKey(env.From, nanos, env.ID), primaryKey); err != nil {
			return err
		}
		return txn.Set(store.MessageByStatusKey(string(env.Status), nanos, env.ID), primaryKey)
	})
	if err != nil {
		return relayerr.Wrap(relayerr.StorageError, "append envelope", err)
	}
	return nil
}

// Get returns the envelope with the given id, or nil if not found.
func (s *Store) Get(id string) (*envelope.Envelope, error) {
	primaryKey, err := s.db.Get(store.MessageByIDKey(id))
	if err == store.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "lookup envelope id index", err)
	}

	data, err := s.db.Get(primaryKey)
	if err == store.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "fetch envelope", err)
	}
	return envelope.FromJSON(data)
}

// ListQuery narrows a List call. Cursor is an opaque token from a prior
// page's NextCursor.
type ListQuery struct {
	Subject string
	Status  string
	From    string
	Cursor  string
	Limit   int
}

// ListResult is one page of messages, newest-first.
type ListResult struct {
	Messages   []*envelope.Envelope
	NextCursor string
}

// List returns envelopes newest-first, optionally filtered by subject,
// status, or from, paginated by an opaque (createdAt, id) cursor
// (SPEC_FULL.md §4.2). Reads never block writers: badger's View runs a
// lock-free snapshot iteration.
func (s *Store) List(q ListQuery) (*ListResult, error) {
	limit := q.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	var cursorNanos int64 = 1<<63 - 1
	var cursorID string
	if q.Cursor != "" {
		var err error
		cursorNanos, cursorID, err = decodeCursor(q.Cursor)
		if err != nil {
			return nil, relayerr.New(relayerr.SchemaViolation, "invalid cursor")
		}
	}

	prefix, err := indexPrefix(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Scan(prefix, store.ScanOptions{Reverse: true})
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "scan messages", err)
	}

	var out []*envelope.Envelope
	var lastNanos int64
	var lastID string
	truncated := false

	for _, row := range rows {
		nanos, id, ok := parseIndexKey(row.Key, prefix)
		if !ok {
			continue
		}
		if q.Cursor != "" && !before(nanos, id, cursorNanos, cursorID) {
			continue
		}
		if len(out) >= limit {
			truncated = true
			break
		}

		primaryKey := row.Value
		data, err := s.db.Get(primaryKey)
		if err == store.ErrKeyNotFound {
			continue
		}
		if err != nil {
			return nil, relayerr.Wrap(relayerr.StorageError, "fetch envelope", err)
		}
		env, err := envelope.FromJSON(data)
		if err != nil {
			return nil, relayerr.Wrap(relayerr.StorageError, "decode envelope", err)
		}
		out = append(out, env)
		lastNanos, lastID = nanos, id
	}

	result := &ListResult{Messages: out}
	if truncated {
		result.NextCursor = encodeCursor(lastNanos, lastID)
	}
	return result, nil
}

// indexPrefix picks the secondary index to scan based on which filter the
// caller supplied. When multiple are supplied, subject takes priority,
// then status, then from — mirroring the teacher's "iterate then filter"
// broker idiom rather than a general multi-column index.
func indexPrefix(q ListQuery) ([]byte, error) {
	switch {
	case q.Subject != "":
		return store.MessageBySubjectPrefix(q.Subject), nil
	case q.Status != "":
		return store.MessageByStatusPrefix(q.Status), nil
	case q.From != "":
		return store.MessageByFromPrefix(q.From), nil
	default:
		return []byte(store.MessagePrefix), nil
	}
}

func parseIndexKey(key, prefix []byte) (nanos int64, id string, ok bool) {
	s := string(key)
	if !strings.HasPrefix(s, string(prefix)) {
		return 0, "", false
	}
	rest := strings.TrimPrefix(s, string(prefix))
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	n, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return n, parts[1], true
}

// before reports whether (nanos, id) sorts strictly before (cursorNanos,
// cursorID) in the newest-first ordering list uses.
func before(nanos int64, id string, cursorNanos int64, cursorID string) bool {
	if nanos != cursorNanos {
		return nanos < cursorNanos
	}
	return id < cursorID
}

func encodeCursor(nanos int64, id string) string {
	raw := fmt.Sprintf("%d:%s", nanos, id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (int64, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", err
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("malformed cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", err
	}
	return nanos, parts[1], nil
}

// SetStatus transitions an envelope's status. Only new -> terminal is
// allowed (SPEC_FULL.md §4.2); anything else is rejected with
// INVALID_TRANSITION.
func (s *Store) SetStatus(id string, status envelope.Status) error {
	env, err := s.Get(id)
	if err != nil {
		return err
	}
	if env == nil {
		return relayerr.New(relayerr.NotFound, "envelope not found: "+id)
	}
	if env.Status != envelope.StatusNew {
		return relayerr.New(relayerr.InvalidTransition, "envelope already terminal: "+string(env.Status))
	}
	if !status.IsTerminal() {
		return relayerr.New(relayerr.InvalidTransition, "target status must be terminal: "+string(status))
	}

	oldStatusKey := store.MessageByStatusKey(string(env.Status), env.CreatedAt.UnixNano(), env.ID)
	env.Status = status
	data, err := env.ToJSON()
	if err != nil {
		return relayerr.Wrap(relayerr.StorageError, "marshal envelope", err)
	}

	primaryKey := store.MessageKey(env.CreatedAt.UnixNano(), env.ID)
	newStatusKey := store.MessageByStatusKey(string(status), env.CreatedAt.UnixNano(), env.ID)

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(primaryKey, data); err != nil {
			return err
		}
		if err := txn.Delete(oldStatusKey); err != nil {
			return err
		}
		return txn.Set(newStatusKey, primaryKey)
	})
}
