// Package store wraps a single embedded Badger database in the durable
// KV primitive every Relay persistence component builds on, adapted from
// omni/internal/storage.BadgerStore. Relay does not run badger as a
// client/server RDBMS; instead each logical "table" SPEC_FULL.md's
// persistence layout calls for (envelopes, endpoints, dead-letters,
// spans, adapter configs, bindings) is a key-prefix namespace within this
// one database, following the prefix-partitioning convention of
// omni/internal/common.KeyBuilder.
package store

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

var ErrKeyNotFound = fmt.Errorf("store: key not found")

type Config struct {
	Dir              string
	ValueLogFileSize int64
	BlockCacheSize   int64
	Compression      options.CompressionType
}

func DefaultConfig(dir string) *Config {
	return &Config{
		Dir:              dir,
		ValueLogFileSize: 1 << 28,
		BlockCacheSize:   64 << 20,
		Compression:      options.Snappy,
	}
}

// Store is the generic badger-backed key-value engine shared by every
// persistence component in the kernel.
type Store struct {
	db     *badger.DB
	config *Config
	mu     sync.RWMutex
	closed bool
}

func Open(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("store: config cannot be nil")
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("store: failed to create directory: %w", err)
	}

	opts := badger.DefaultOptions(config.Dir)
	opts.ValueLogFileSize = config.ValueLogFileSize
	opts.BlockCacheSize = config.BlockCacheSize
	opts.Compression = config.Compression
	opts.Logger = &badgerLogger{}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open badger database: %w", err)
	}

	return &Store{db: db, config: config}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) Get(key []byte) ([]byte, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("store: closed")
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}
	return value, err
}

func (s *Store) Set(key, value []byte) error {
	if s.isClosed() {
		return fmt.Errorf("store: closed")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *Store) SetWithTTL(key, value []byte, ttl time.Duration) error {
	if s.isClosed() {
		return fmt.Errorf("store: closed")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

func (s *Store) Delete(key []byte) error {
	if s.isClosed() {
		return fmt.Errorf("store: closed")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *Store) Exists(key []byte) (bool, error) {
	if s.isClosed() {
		return false, fmt.Errorf("store: closed")
	}
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// ScanOptions controls iteration direction and limit for Scan.
type ScanOptions struct {
	Limit   int
	Reverse bool
}

// KV is a single key/value pair returned from a scan, in iteration order.
type KV struct {
	Key   []byte
	Value []byte
}

// Scan iterates keys with the given prefix in key order (or reverse key
// order when Reverse is set), up to Limit results (<=0 means unbounded).
func (s *Store) Scan(prefix []byte, opts ScanOptions) ([]KV, error) {
	if s.isClosed() {
		return nil, fmt.Errorf("store: closed")
	}

	var results []KV
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = true
		iterOpts.Reverse = opts.Reverse

		seekKey := prefix
		if opts.Reverse {
			// Seek to the end of the prefix range for reverse iteration,
			// the standard badger idiom for "largest key with this prefix".
			seekKey = append(append([]byte{}, prefix...), 0xFF)
		}

		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if opts.Limit > 0 && len(results) >= opts.Limit {
				break
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			key := item.KeyCopy(nil)
			results = append(results, KV{Key: key, Value: value})
		}
		return nil
	})
	return results, err
}

// Update runs fn within a read-write transaction.
func (s *Store) Update(fn func(txn *badger.Txn) error) error {
	if s.isClosed() {
		return fmt.Errorf("store: closed")
	}
	return s.db.Update(fn)
}

// View runs fn within a read-only transaction.
func (s *Store) View(fn func(txn *badger.Txn) error) error {
	if s.isClosed() {
		return fmt.Errorf("store: closed")
	}
	return s.db.View(fn)
}

func (s *Store) Backup(w io.Writer, since uint64) error {
	if s.isClosed() {
		return fmt.Errorf("store: closed")
	}
	_, err := s.db.Backup(w, since)
	return err
}

func (s *Store) RunValueLogGC(discardRatio float64) error {
	if s.isClosed() {
		return fmt.Errorf("store: closed")
	}
	for {
		if err := s.db.RunValueLogGC(discardRatio); err != nil {
			if err == badger.ErrNoRewrite {
				return nil
			}
			return err
		}
	}
}

type badgerLogger struct{}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	fmt.Printf("STORE ERROR: "+format+"\n", args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {}
func (l *badgerLogger) Infof(format string, args ...interface{})    {}
func (l *badgerLogger) Debugf(format string, args ...interface{})   {}

// CurrentSchemaVersion is the compiled-in version of the persistence
// layout (SPEC_FULL.md §6). There are no migrations yet, so the only
// rule is the one spec calls for: an unknown version on disk is fatal.
const CurrentSchemaVersion = 1

// CheckSchemaVersion stamps a fresh database with CurrentSchemaVersion,
// or fails loudly if an existing database carries a different one.
// Migrations are forward-only and none exist yet, so "different" always
// means "unknown" at this stage.
func (s *Store) CheckSchemaVersion() error {
	data, err := s.Get([]byte(SchemaVersionKey))
	if err == ErrKeyNotFound {
		return s.Set([]byte(SchemaVersionKey), []byte(fmt.Sprintf("%d", CurrentSchemaVersion)))
	}
	if err != nil {
		return fmt.Errorf("store: failed to read schema version: %w", err)
	}
	var onDisk int
	if _, err := fmt.Sscanf(string(data), "%d", &onDisk); err != nil {
		return fmt.Errorf("store: malformed schema version %q", string(data))
	}
	if onDisk != CurrentSchemaVersion {
		return fmt.Errorf("store: unknown schema version %d (expected %d); migrations are forward-only", onDisk, CurrentSchemaVersion)
	}
	return nil
}
