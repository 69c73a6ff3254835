// Package delivery is the delivery engine of SPEC_FULL.md §4.5 — the
// single publish entry point and its eight-step budgeted pipeline,
// generalized from the teacher's handlePublishEnvelope (validate -> stamp
// routing metadata -> find-or-create destination -> append to history ->
// fan out to subscribers) into Relay's budget-checked, dead-lettering
// variant. Worker pool follows §5's "MPSC queue with a dedicated writer"
// allowance for the message store's single-writer discipline.
package delivery

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/relaybus/relay/internal/deadletter"
	"github.com/relaybus/relay/internal/endpoint"
	"github.com/relaybus/relay/internal/envelope"
	"github.com/relaybus/relay/internal/msgstore"
	"github.com/relaybus/relay/internal/relayerr"
	"github.com/relaybus/relay/internal/subject"
	"github.com/relaybus/relay/internal/subs"
	"github.com/relaybus/relay/internal/trace"
)

// PublishOptions carries the optional fields of a publish call.
type PublishOptions struct {
	From        string
	ReplyTo     string
	Budget      envelope.Budget
	parent      *envelope.Envelope
	viaEndpoint uint64
	hasParent   bool
}

// Result is what publish() returns to its caller.
type Result struct {
	MessageID   string
	TraceID     string
	DeliveredTo uint
}

// Engine is the delivery engine: the kernel's single publish entry point.
type Engine struct {
	messages  *msgstore.Store
	endpoints *endpoint.Registry
	deadLetts *deadletter.Store
	traces    *trace.Store
	bus       *subs.Bus
	debug     bool

	queue chan publishJob
	wg    sync.WaitGroup
}

type publishJob struct {
	subj string
	payload interface{}
	opts    PublishOptions
	result  chan publishOutcome
}

type publishOutcome struct {
	res Result
	err error
}

// Config controls the engine's worker pool.
type Config struct {
	Workers   int
	QueueSize int
	Debug     bool
}

func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 256}
}

func New(messages *msgstore.Store, endpoints *endpoint.Registry, deadLetts *deadletter.Store, traces *trace.Store, bus *subs.Bus, cfg Config) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	e := &Engine{
		messages:  messages,
		endpoints: endpoints,
		deadLetts: deadLetts,
		traces:    traces,
		bus:       bus,
		debug:     cfg.Debug,
		queue:     make(chan publishJob, queueSize),
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Shutdown stops accepting new work and waits for in-flight jobs to drain.
func (e *Engine) Shutdown(ctx context.Context) error {
	close(e.queue)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for job := range e.queue {
		res, err := e.publish(job.subj, job.payload, job.opts)
		job.result <- publishOutcome{res: res, err: err}
	}
}

// Publish enqueues a publish request and blocks for its result. This is
// the entry point external callers (the HTTP edge, adapters, re-publish
// from within a handler) use.
func (e *Engine) Publish(ctx context.Context, subj string, payload interface{}, opts PublishOptions) (Result, error) {
	job := publishJob{subj: subj, payload: payload, opts: opts, result: make(chan publishOutcome, 1)}
	select {
	case e.queue <- job:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case outcome := <-job.result:
		return outcome.res, outcome.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// publish runs the eight-step pipeline synchronously on the calling
// worker goroutine (SPEC_FULL.md §4.5).
func (e *Engine) publish(subj string, payload interface{}, opts PublishOptions) (Result, error) {
	now := time.Now().UTC()

	// Step 1: validate.
	if err := subject.Valid(subj); err != nil {
		return Result{}, relayerr.Wrap(relayerr.InvalidSubject, "invalid publish subject", err)
	}
	if opts.From != "" {
		if err := subject.Valid(opts.From); err != nil {
			return Result{}, relayerr.Wrap(relayerr.InvalidSubject, "invalid from subject", err)
		}
	}
	if opts.ReplyTo != "" {
		if err := subject.Valid(opts.ReplyTo); err != nil {
			return Result{}, relayerr.Wrap(relayerr.InvalidSubject, "invalid replyTo subject", err)
		}
	}

	// Step 2: normalize budget.
	budget := envelope.NormalizeBudget(opts.Budget, now)

	// Step 3: assign envelope.
	var env *envelope.Envelope
	var err error
	if opts.hasParent && opts.parent != nil {
		env, err = envelope.Derive(opts.parent, subj, opts.From, payload, budget)
	} else {
		env, err = envelope.New(subj, opts.From, opts.ReplyTo, payload, budget)
	}
	if err != nil {
		return Result{}, relayerr.Wrap(relayerr.SchemaViolation, "assign envelope", err)
	}

	// Step 4: pre-persist budget check.
	if reason, ok := envelope.CheckBudget(env.Budget, env.Subject, env.From, now); !ok {
		e.recordSpan(env, trace.EventReject, "", reason, nil)
		env.Status = envelope.StatusDeadLetter
		if appendErr := e.messages.Append(env); appendErr != nil {
			return Result{}, appendErr
		}
		if dlErr := e.deadLetts.Record(env, opts.viaEndpoint, reason); dlErr != nil {
			return Result{}, dlErr
		}
		e.bus.EmitDeadLetter(env.Subject, string(reason))
		return Result{MessageID: env.ID, TraceID: env.TraceID, DeliveredTo: 0}, nil
	}

	// Step 5: resolve subscribers.
	endpoints, err := e.endpoints.FindMatching(env.Subject)
	if err != nil {
		return Result{}, err
	}

	// Step 6: persist, accept span.
	if err := e.messages.Append(env); err != nil {
		return Result{}, err
	}
	e.recordSpan(env, trace.EventAccept, "", "", nil)

	if len(endpoints) == 0 {
		return Result{MessageID: env.ID, TraceID: env.TraceID, DeliveredTo: 0}, nil
	}

	// Step 7: fan-out. FindMatching's result is the persistent endpoint
	// registry (§2.3/§4.3); the envelope is already in that endpoint's
	// durable inbox via the Append at step 6, so registration is itself
	// delivery. bus.PublishLocal is a best-effort push to whatever is
	// live on the ephemeral subscription bus (§2.7/§4.4) right now — an
	// SSE stream, a connected adapter — and does not gate whether a
	// registered endpoint counts as delivered.
	for _, ep := range endpoints {
		visited := env.Budget.WithVisited(ep.SubjectHash)
		deliverEnv := env.Clone()
		deliverEnv.Budget = visited
		e.bus.PublishLocal(deliverEnv)

		e.recordSpan(env, trace.EventDeliver, ep.Subject, "", nil)
		if err := e.endpoints.RecordActivity(ep.Subject); err != nil && e.debug {
			log.Printf("delivery: record activity for %s: %v", ep.Subject, err)
		}
	}
	delivered := uint(len(endpoints))

	// Step 8: finalize.
	if err := e.messages.SetStatus(env.ID, envelope.StatusDelivered); err != nil && e.debug {
		log.Printf("delivery: finalize delivered status for %s: %v", env.ID, err)
	}

	return Result{MessageID: env.ID, TraceID: env.TraceID, DeliveredTo: delivered}, nil
}

func (e *Engine) recordSpan(env *envelope.Envelope, eventType trace.EventType, toSubject string, reason envelope.RejectReason, _ interface{}) {
	span := &trace.Span{
		TraceID:   env.TraceID,
		MessageID: env.ID,
		Subject:   env.Subject,
		From:      env.From,
		ToSubject: toSubject,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
	if reason != "" {
		span.Error = string(reason)
	}
	if err := e.traces.RecordSpan(span); err != nil && e.debug {
		log.Printf("delivery: record span: %v", err)
	}
}
