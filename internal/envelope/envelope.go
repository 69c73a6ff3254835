// Package envelope provides the core transport unit for Relay: the
// Envelope that carries a subject, payload, budget, and delivery status
// through the kernel, following the metadata-wrapping idiom of the
// teacher's internal/envelope package but replacing its agent-routing
// fields with Relay's subject/budget/status model (SPEC_FULL.md §3).
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/relaybus/relay/internal/relayerr"
)

// Status is the terminal/non-terminal state of an envelope's delivery.
type Status string

const (
	StatusNew        Status = "new"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

// IsTerminal reports whether s is one of the terminal states.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusDeadLetter
}

// Budget caps hops, TTL, and membership in a cycle-detection visited set,
// per SPEC_FULL.md §3/§4.5.
type Budget struct {
	MaxHops  uint8     `json:"maxHops"`
	TTLMs    uint32    `json:"ttlMs"`
	Deadline time.Time `json:"deadline"`
	Visited  []uint64  `json:"visited,omitempty"`
}

// Clone returns a deep copy of b, used so each subscriber hop gets its own
// visited set (SPEC_FULL.md §4.5 tie-break (c): visited is copied per
// subscriber to avoid cross-contamination).
func (b Budget) Clone() Budget {
	clone := b
	if b.Visited != nil {
		clone.Visited = make([]uint64, len(b.Visited))
		copy(clone.Visited, b.Visited)
	}
	return clone
}

// HasVisited reports whether hash is already present in the visited set.
func (b Budget) HasVisited(hash uint64) bool {
	for _, v := range b.Visited {
		if v == hash {
			return true
		}
	}
	return false
}

// WithVisited returns a copy of b with hash appended to the visited set.
func (b Budget) WithVisited(hash uint64) Budget {
	clone := b.Clone()
	clone.Visited = append(clone.Visited, hash)
	return clone
}

// Envelope is the unit of transport routed by the delivery engine.
type Envelope struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	ReplyTo string `json:"replyTo,omitempty"`

	Payload json.RawMessage `json:"payload"`
	Budget  Budget          `json:"budget"`
	Status  Status          `json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	TraceID   string    `json:"traceId"`
}

// New creates a new top-level envelope (traceId = id) with status "new".
// The payload is marshaled to JSON, following the teacher's
// NewEnvelope(source, destination, messageType, payload) constructor
// idiom, generalized to Relay's subject/budget model.
func New(subject, from, replyTo string, payload interface{}, budget Budget) (*Envelope, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.SchemaViolation, "payload not serializable", err)
	}

	id := uuid.Must(uuid.NewV7()).String()

	return &Envelope{
		ID:        id,
		Subject:   subject,
		From:      from,
		ReplyTo:   replyTo,
		Payload:   payloadBytes,
		Budget:    budget,
		Status:    StatusNew,
		CreatedAt: time.Now().UTC(),
		TraceID:   id,
	}, nil
}

// Derive creates a re-published envelope that inherits the parent's
// traceId, following SPEC_FULL.md §4.5 step 7: "recursive publishes
// inherit traceId... and re-enter step 1".
func Derive(parent *Envelope, subject, from string, payload interface{}, budget Budget) (*Envelope, error) {
	env, err := New(subject, from, "", payload, budget)
	if err != nil {
		return nil, err
	}
	env.TraceID = parent.TraceID
	return env, nil
}

// UnmarshalPayload unmarshals the envelope's payload into v.
func (e *Envelope) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// IsExpired reports whether now is past the envelope's budget deadline.
func (e *Envelope) IsExpired(now time.Time) bool {
	if e.Budget.Deadline.IsZero() {
		return false
	}
	return now.After(e.Budget.Deadline)
}

// Clone returns a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	clone.Budget = e.Budget.Clone()
	if e.Payload != nil {
		clone.Payload = make(json.RawMessage, len(e.Payload))
		copy(clone.Payload, e.Payload)
	}
	return &clone
}

// Validate checks that the envelope carries its required fields.
func (e *Envelope) Validate() error {
	if e.ID == "" {
		return relayerr.New(relayerr.SchemaViolation, "envelope id is required")
	}
	if e.Subject == "" {
		return relayerr.New(relayerr.InvalidSubject, "subject is required")
	}
	if e.From == "" {
		return relayerr.New(relayerr.InvalidSubject, "from is required")
	}
	return nil
}

// ToJSON serializes the envelope.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an envelope.
func FromJSON(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
