// Package store owns the persisted event log. Every mutation runs on a
// single writer goroutine that reads the whole log, applies the change and
// writes it back, so concurrent captures cannot overwrite each other.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"

	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/dedupe"
	"github.com/faultline/faultline/internal/metrics"
	"github.com/faultline/faultline/internal/model"
	"github.com/faultline/faultline/internal/storage"
	"github.com/faultline/faultline/internal/validation"
)

// ErrClosed is returned once Stop has been called.
var ErrClosed = errors.New("store: closed")

const (
	queueSize = 256
	kvTimeout = 5 * time.Second
)

// Result is the outcome of Append.
type Result int

const (
	Accepted Result = iota
	RejectedInvalid
	RejectedDuplicate
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return metrics.OutcomeAccepted
	case RejectedInvalid:
		return metrics.OutcomeInvalid
	case RejectedDuplicate:
		return metrics.OutcomeDuplicate
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Removal reasons.
const (
	ReasonCapacity   = "capacity"
	ReasonRetention  = "retention"
	ReasonSuperseded = "superseded"
	ReasonCleared    = "cleared"
)

// Change describes a write to the log.
type Change struct {
	// Appended is set when an event was accepted.
	Appended *model.Event
	Removed  int
	Reason   string
	Size     int
}

// Notifier is told about every successful write. It runs on the writer
// goroutine and must not block.
type Notifier interface {
	LogChanged(ctx context.Context, c Change)
}

type NotifierFunc func(ctx context.Context, c Change)

func (f NotifierFunc) LogChanged(ctx context.Context, c Change) { f(ctx, c) }

type Option func(*Store)

// WithNotifier adds a change subscriber.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifiers = append(s.notifiers, n) }
}

type request struct {
	// apply computes the next log; changed=false skips the write.
	apply func(log []model.Event) (next []model.Event, change Change, changed bool)
	reply chan error
}

type Store struct {
	kv        storage.KV
	validator *validation.Validator
	dedupe    *dedupe.Engine
	maxEvents int
	notifiers []Notifier

	requests chan request
	stopped  chan struct{}
}

func New(kv storage.KV, cfg config.CaptureConfig, opts ...Option) *Store {
	s := &Store{
		kv:        kv,
		validator: validation.NewValidator(),
		dedupe:    dedupe.NewEngine(cfg.DedupeWindow),
		maxEvents: cfg.MaxEvents,
		requests:  make(chan request, queueSize),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve runs the writer until ctx is canceled. It implements suture.Service.
func (s *Store) Serve(ctx context.Context) error {
	log.Info().Str("backend", s.kv.Name()).Msg("Event store writer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopped:
			return suture.ErrDoNotRestart
		case req := <-s.requests:
			metrics.StoreQueueDepth.Dec()
			req.reply <- s.handle(req)
		}
	}
}

func (s *Store) String() string { return "event-store" }

// Stop makes pending and future calls fail with ErrClosed.
func (s *Store) Stop() {
	select {
	case <-s.stopped:
	default:
		close(s.stopped)
	}
}

func (s *Store) handle(req request) error {
	// Writes are not tied to the caller; an in-flight write completes even
	// if the caller has gone away.
	ctx, cancel := context.WithTimeout(context.Background(), kvTimeout)
	defer cancel()

	current, err := s.load(ctx)
	if err != nil {
		return err
	}

	next, change, changed := req.apply(current)
	if !changed {
		return nil
	}

	if over := len(next) - s.maxEvents; s.maxEvents > 0 && over > 0 {
		next = next[over:]
		metrics.EventsEvicted.WithLabelValues(ReasonCapacity).Add(float64(over))
	}

	if err := storage.SetJSON(ctx, s.kv, storage.KeyEvents, next); err != nil {
		return fmt.Errorf("write event log: %w", err)
	}

	change.Size = len(next)
	metrics.EventLogSize.Set(float64(len(next)))
	if change.Removed > 0 && change.Reason != "" {
		metrics.EventsEvicted.WithLabelValues(change.Reason).Add(float64(change.Removed))
	}
	for _, n := range s.notifiers {
		n.LogChanged(ctx, change)
	}
	return nil
}

// load reads the log. A missing record is an empty log; a record that no
// longer decodes is discarded.
func (s *Store) load(ctx context.Context) ([]model.Event, error) {
	var events []model.Event
	err := storage.GetJSON(ctx, s.kv, storage.KeyEvents, &events)
	switch {
	case err == nil:
		return events, nil
	case errors.Is(err, storage.ErrNotFound):
		return []model.Event{}, nil
	}

	var decodeErr *storage.DecodeError
	if errors.As(err, &decodeErr) {
		log.Warn().Err(err).Msg("Discarding unreadable event log")
		return []model.Event{}, nil
	}
	return nil, fmt.Errorf("read event log: %w", err)
}

// do queues a request and waits for the writer.
func (s *Store) do(ctx context.Context, apply func([]model.Event) ([]model.Event, Change, bool)) error {
	req := request{apply: apply, reply: make(chan error, 1)}

	select {
	case <-s.stopped:
		return ErrClosed
	default:
	}

	metrics.StoreQueueDepth.Inc()
	select {
	case s.requests <- req:
	case <-s.stopped:
		metrics.StoreQueueDepth.Dec()
		return ErrClosed
	case <-ctx.Done():
		metrics.StoreQueueDepth.Dec()
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Append validates e, drops observed events the candidate supersedes,
// rejects duplicates and otherwise adds e at the tail of the log. An
// accepted event is given an ID if it has none.
func (s *Store) Append(ctx context.Context, e model.Event) (Result, error) {
	if err := s.validator.Validate(&e); err != nil {
		log.Warn().Err(err).Str("kind", string(e.Kind)).Stringer("context", e.ContextID).Msg("Dropped invalid event")
		metrics.EventsAppended.WithLabelValues(string(e.Kind), metrics.OutcomeInvalid).Inc()
		return RejectedInvalid, nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	result := Accepted
	err := s.do(ctx, func(current []model.Event) ([]model.Event, Change, bool) {
		if dedupe.HasDetailed(&e, current) {
			result = RejectedDuplicate
			return current, Change{}, false
		}

		cleaned, superseded := dedupe.Supersede(&e, current)
		if s.dedupe.IsDuplicate(&e, cleaned) {
			result = RejectedDuplicate
			// The superseded events stay removed.
			return cleaned, Change{Removed: superseded, Reason: ReasonSuperseded}, superseded > 0
		}

		appended := e
		return append(cleaned, appended), Change{
			Appended: &appended,
			Removed:  superseded,
			Reason:   ReasonSuperseded,
		}, true
	})
	if err != nil {
		metrics.EventsAppended.WithLabelValues(string(e.Kind), metrics.OutcomeError).Inc()
		return Accepted, err
	}

	metrics.EventsAppended.WithLabelValues(string(e.Kind), result.String()).Inc()
	return result, nil
}

// ClearContext removes every event of id and returns how many were removed.
func (s *Store) ClearContext(ctx context.Context, id model.ContextID) (int, error) {
	return s.Evict(ctx, ReasonCleared, func(e *model.Event) bool {
		return e.ContextID == id
	})
}

// Evict removes every event matching drop and returns how many were removed.
func (s *Store) Evict(ctx context.Context, reason string, drop func(e *model.Event) bool) (int, error) {
	removed := 0
	err := s.do(ctx, func(current []model.Event) ([]model.Event, Change, bool) {
		kept := make([]model.Event, 0, len(current))
		for i := range current {
			if drop(&current[i]) {
				continue
			}
			kept = append(kept, current[i])
		}
		removed = len(current) - len(kept)
		return kept, Change{Removed: removed, Reason: reason}, removed > 0
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// EventsFor returns the events of id in arrival order.
func (s *Store) EventsFor(ctx context.Context, id model.ContextID) ([]model.Event, error) {
	return s.filter(ctx, func(e *model.Event) bool { return e.ContextID == id })
}

// All returns the whole log in arrival order.
func (s *Store) All(ctx context.Context) ([]model.Event, error) {
	return s.filter(ctx, func(*model.Event) bool { return true })
}

func (s *Store) filter(ctx context.Context, keep func(e *model.Event) bool) ([]model.Event, error) {
	out := []model.Event{}
	err := s.do(ctx, func(current []model.Event) ([]model.Event, Change, bool) {
		for i := range current {
			if keep(&current[i]) {
				out = append(out, current[i])
			}
		}
		return current, Change{}, false
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
