// Package trace is the trace store of SPEC_FULL.md §4.6: an immutable,
// append-only span log recording an envelope's journey (publish, accept,
// deliver, reject, dead_letter), plus aggregate delivery metrics and an
// age-based pruning sweep. Built on internal/store the way msgstore and
// deadletter are, with the pruning loop grounded on
// omni/internal/storage/badger.go's StartGarbageCollector ticker shape.
package trace

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/relaybus/relay/internal/envelope"
	"github.com/relaybus/relay/internal/relayerr"
	"github.com/relaybus/relay/internal/store"
)

// EventType names a point in an envelope's delivery lifecycle.
type EventType string

const (
	EventPublish    EventType = "publish"
	EventAccept     EventType = "accept"
	EventDeliver    EventType = "deliver"
	EventReject     EventType = "reject"
	EventDeadLetter EventType = "dead_letter"
)

// Span is one immutable lifecycle event for an envelope (SPEC_FULL.md §3).
type Span struct {
	TraceID         string    `json:"traceId"`
	MessageID       string    `json:"messageId"`
	ParentMessageID string    `json:"parentMessageId,omitempty"`
	Subject         string    `json:"subject"`
	From            string    `json:"from"`
	ToSubject       string    `json:"toSubject,omitempty"`
	EventType       EventType `json:"eventType"`
	Timestamp       time.Time `json:"timestamp"`
	DurationMs      *int64    `json:"durationMs,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Metrics is the aggregate view returned by GetMetrics.
type Metrics struct {
	TotalMessages          int64                    `json:"totalMessages"`
	DeliveredCount         int64                    `json:"deliveredCount"`
	FailedCount            int64                    `json:"failedCount"`
	DeadLetterByReason     map[envelope.RejectReason]int64 `json:"deadLetterByReason"`
	AvgDeliveryLatencyMs   float64                  `json:"avgDeliveryLatencyMs"`
	P95DeliveryLatencyMs   float64                  `json:"p95DeliveryLatencyMs"`
}

const defaultRetentionDays = 7

type Store struct {
	db        *store.Store
	seq       atomic.Int64
	retention time.Duration
}

func New(db *store.Store, retentionDays int) *Store {
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	return &Store{db: db, retention: time.Duration(retentionDays) * 24 * time.Hour}
}

// RecordSpan appends an immutable span, indexed by trace and by message.
func (s *Store) RecordSpan(span *Span) error {
	if span.Timestamp.IsZero() {
		span.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(span)
	if err != nil {
		return relayerr.Wrap(relayerr.StorageError, "marshal span", err)
	}

	seq := int(s.seq.Add(1))
	primaryKey := store.SpanKey(span.TraceID, span.Timestamp.UnixNano(), seq)

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(primaryKey, data); err != nil {
			return err
		}
		return txn.Set(store.SpanByMessageKey(span.MessageID, seq), primaryKey)
	})
}

// GetSpan returns the most recent span recorded for a message, or nil.
func (s *Store) GetSpan(messageID string) (*Span, error) {
	rows, err := s.db.Scan(store.SpanByMessagePrefix(messageID), store.ScanOptions{Reverse: true, Limit: 1})
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "scan span by message", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	data, err := s.db.Get(rows[0].Value)
	if err == store.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "fetch span", err)
	}
	var span Span
	if err := json.Unmarshal(data, &span); err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "decode span", err)
	}
	return &span, nil
}

// GetTrace returns every span sharing traceID, ordered by timestamp then
// arrival (sequence number), per SPEC_FULL.md §4.6.
func (s *Store) GetTrace(traceID string) ([]*Span, error) {
	prefix := store.SpanByTraceIDPrefix(traceID)
	rows, err := s.db.Scan(prefix, store.ScanOptions{})
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "scan trace", err)
	}
	spans := make([]*Span, 0, len(rows))
	seqs := make(map[*Span]int, len(rows))
	for _, row := range rows {
		var span Span
		if err := json.Unmarshal(row.Value, &span); err != nil {
			continue
		}
		spans = append(spans, &span)
		seqs[&span] = lastColon(string(row.Key))
	}
	sort.Slice(spans, func(i, j int) bool {
		if !spans[i].Timestamp.Equal(spans[j].Timestamp) {
			return spans[i].Timestamp.Before(spans[j].Timestamp)
		}
		return seqs[spans[i]] < seqs[spans[j]]
	})
	return spans, nil
}

// GetMetrics aggregates every span in the store into delivery metrics.
// Latency is last(deliver.timestamp) - accept.timestamp per envelope;
// undelivered envelopes contribute to counts but not latency.
func (s *Store) GetMetrics() (*Metrics, error) {
	rows, err := s.db.Scan([]byte(store.SpanPrefix), store.ScanOptions{})
	if err != nil {
		return nil, relayerr.Wrap(relayerr.StorageError, "scan spans", err)
	}

	type acc struct {
		accept  time.Time
		deliver time.Time
	}
	byMessage := make(map[string]*acc)
	reasons := make(map[envelope.RejectReason]int64)
	var delivered, failed int64
	seen := make(map[string]bool)

	for _, row := range rows {
		var span Span
		if err := json.Unmarshal(row.Value, &span); err != nil {
			continue
		}
		seen[span.MessageID] = true

		a, ok := byMessage[span.MessageID]
		if !ok {
			a = &acc{}
			byMessage[span.MessageID] = a
		}
		switch span.EventType {
		case EventAccept:
			a.accept = span.Timestamp
		case EventDeliver:
			a.deliver = span.Timestamp
			delivered++
		case EventReject, EventDeadLetter:
			failed++
			if span.Error != "" {
				reasons[envelope.RejectReason(span.Error)]++
			}
		}
	}

	var latencies []float64
	var sum float64
	for _, a := range byMessage {
		if !a.accept.IsZero() && !a.deliver.IsZero() {
			ms := float64(a.deliver.Sub(a.accept).Milliseconds())
			latencies = append(latencies, ms)
			sum += ms
		}
	}

	metrics := &Metrics{
		TotalMessages:      int64(len(seen)),
		DeliveredCount:     delivered,
		FailedCount:        failed,
		DeadLetterByReason: reasons,
	}
	if len(latencies) > 0 {
		metrics.AvgDeliveryLatencyMs = sum / float64(len(latencies))
		sort.Float64s(latencies)
		idx := int(float64(len(latencies))*0.95)
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		metrics.P95DeliveryLatencyMs = latencies[idx]
	}
	return metrics, nil
}

// PruneOnce deletes span records (and their by-message index entries)
// older than the configured retention, returning the count removed.
func (s *Store) PruneOnce() (int, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	rows, err := s.db.Scan([]byte(store.SpanPrefix), store.ScanOptions{})
	if err != nil {
		return 0, relayerr.Wrap(relayerr.StorageError, "scan spans for prune", err)
	}

	removed := 0
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, row := range rows {
			var span Span
			if err := json.Unmarshal(row.Value, &span); err != nil {
				continue
			}
			if span.Timestamp.After(cutoff) {
				continue
			}
			if err := txn.Delete(row.Key); err != nil {
				return err
			}
			seq := lastColon(string(row.Key))
			if err := txn.Delete(store.SpanByMessageKey(span.MessageID, seq)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, relayerr.Wrap(relayerr.StorageError, "prune spans", err)
	}
	return removed, nil
}

func lastColon(key string) int {
	idx := strings.LastIndex(key, ":")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(key[idx+1:])
	if err != nil {
		return 0
	}
	return n
}

// Run sweeps expired spans every hour until ctx is cancelled, following
// the same ticker-loop shape as the teacher's StartGarbageCollector.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PruneOnce()
		}
	}
}
