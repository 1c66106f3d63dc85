// Package processor routes inbound messages to the capture components:
// it builds candidate events, attaches the preceding user actions and hands
// them to the event store, and answers the read and lifecycle messages.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/faultline/faultline/internal/actions"
	"github.com/faultline/faultline/internal/allowlist"
	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/enricher"
	"github.com/faultline/faultline/internal/message"
	"github.com/faultline/faultline/internal/metrics"
	"github.com/faultline/faultline/internal/model"
	"github.com/faultline/faultline/internal/retention"
	"github.com/faultline/faultline/internal/sanitizer"
	"github.com/faultline/faultline/internal/storage"
	"github.com/faultline/faultline/internal/store"
	"github.com/faultline/faultline/internal/tabstate"
)

// ErrNoContext is returned for messages that need a context id and lack one.
var ErrNoContext = errors.New("message has no context id")

// EventStore is the part of the store the processor drives.
type EventStore interface {
	Append(ctx context.Context, e model.Event) (store.Result, error)
	ClearContext(ctx context.Context, id model.ContextID) (int, error)
	EventsFor(ctx context.Context, id model.ContextID) ([]model.Event, error)
	All(ctx context.Context) ([]model.Event, error)
}

// Meta describes the sender of a message.
type Meta struct {
	UserAgent string
}

// Deps are the components a Processor coordinates.
type Deps struct {
	KV        storage.KV
	Store     EventStore
	Table     *tabstate.Table
	Retention *retention.Manager
	Snapshots *actions.Snapshotter
	AllowList *allowlist.List
	Sanitizer *sanitizer.Sanitizer
	Enricher  *enricher.Enricher
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

type Processor struct {
	Deps
	cfg config.CaptureConfig
	now func() time.Time
}

func New(deps Deps, cfg config.CaptureConfig, opts ...Option) *Processor {
	p := &Processor{Deps: deps, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes one message and returns the reply for its sender.
func (p *Processor) Handle(ctx context.Context, msg message.Message, meta Meta) (any, error) {
	metrics.MessagesReceived.WithLabelValues(string(msg.Type())).Inc()
	log.Debug().Str("type", string(msg.Type())).Stringer("context", msg.Context()).Msg("Message received")

	switch m := msg.(type) {
	case *message.UserAction:
		return p.userAction(m)
	case *message.PageCaptureReady:
		return p.pageCaptureReady(m)
	case *message.Console:
		return p.console(ctx, m, meta)
	case *message.NetworkPage:
		return p.networkPage(ctx, m, meta)
	case *message.NetworkObserved:
		return p.networkObserved(ctx, m, meta)
	case *message.ClearTabEvents:
		return p.clear(ctx, m.Context())
	case *message.ClearEvents:
		return p.clear(ctx, p.orActive(m.Context()))
	case *message.GetClosedTabs:
		return p.closedTabs(), nil
	case *message.GetAllowList:
		return p.AllowList.Get(ctx)
	case *message.SetAllowList:
		if _, err := p.AllowList.Set(ctx, m.AllowList); err != nil {
			return nil, fmt.Errorf("set allow-list: %w", err)
		}
		return Ack{OK: true}, nil
	case *message.IsAllowedHost:
		return p.AllowList.IsAllowed(ctx, m.Host), nil
	case *message.ContextActivated:
		if m.Context() > model.NoContext {
			p.Table.SetActive(m.Context(), p.now())
		}
		return p.sweep(ctx)
	case *message.ContextUpdated:
		if m.Status != "complete" {
			return Ack{OK: true}, nil
		}
		return p.sweep(ctx)
	case *message.ContextRemoved:
		return p.contextRemoved(ctx, m)
	case *message.CaptureToggled:
		if err := storage.SetJSON(ctx, p.KV, storage.KeyCaptureEnabled, m.Enabled); err != nil {
			return nil, fmt.Errorf("set capture flag: %w", err)
		}
		log.Info().Bool("enabled", m.Enabled).Msg("Capture toggled")
		return Ack{OK: true}, nil
	case *message.GetEvents:
		return p.events(ctx, m.Context())
	case *message.GetBadge:
		return p.badge(ctx, p.orActive(m.Context()))
	}
	return nil, fmt.Errorf("%w: %T", message.ErrUnknownType, msg)
}

func (p *Processor) userAction(m *message.UserAction) (any, error) {
	id := m.Context()
	if id <= model.NoContext {
		return nil, ErrNoContext
	}
	if !m.Action.Known() {
		return Ack{OK: false}, nil
	}
	p.Table.RecordAction(id, m.Action, p.now())
	p.saveSnapshot()
	return Ack{OK: true}, nil
}

func (p *Processor) pageCaptureReady(m *message.PageCaptureReady) (any, error) {
	if m.Context() <= model.NoContext {
		return nil, ErrNoContext
	}
	p.Table.MarkCaptureReady(m.Context(), p.now())
	return Ack{OK: true}, nil
}

func (p *Processor) console(ctx context.Context, m *message.Console, meta Meta) (any, error) {
	if !p.captureEnabled(ctx) {
		return Captured(Ignored), nil
	}

	event := model.Event{
		Kind:      model.KindConsole,
		Source:    model.SourceConsole,
		ContextID: m.Context(),
		Time:      p.now().UnixMilli(),
		Level:     m.Level,
		Message:   m.Message,
		Stack:     m.Stack,
		Actions:   p.correlate(ctx, m.Context(), m.Actions),
	}
	return p.append(ctx, event, meta)
}

func (p *Processor) networkPage(ctx context.Context, m *message.NetworkPage, meta Meta) (any, error) {
	if !p.captureEnabled(ctx) {
		return Captured(Ignored), nil
	}

	method := m.Method
	if method == "" && m.Request != nil {
		method = m.Request.Method
	}

	event := model.Event{
		Kind:      model.KindNetwork,
		Source:    model.SourcePage,
		ContextID: m.Context(),
		Time:      m.Time,
		Status:    m.Status,
		URL:       m.URL,
		Method:    method,
		Detail:    m.Detail,
		Actions:   p.correlate(ctx, m.Context(), m.Actions),
	}
	if event.Time == 0 {
		event.Time = p.now().UnixMilli()
	}
	if m.Request != nil {
		info := p.Sanitizer.Sanitize(method, m.Request.Payload(), m.Request.Headers)
		event.RequestInfo = &info
	}
	if m.Response != nil {
		info := p.Sanitizer.Sanitize("", m.Response.Payload(), m.Response.Headers)
		event.ResponseInfo = &info
	}
	return p.append(ctx, event, meta)
}

// networkObserved handles the coarse fallback path. It records only
// failures on allow-listed hosts of contexts without page capture.
func (p *Processor) networkObserved(ctx context.Context, m *message.NetworkObserved, meta Meta) (any, error) {
	id := m.Context()
	if id <= model.NoContext || !p.captureEnabled(ctx) {
		return Captured(Ignored), nil
	}

	status := m.Status
	if m.Error != "" {
		if !p.cfg.RecordFallbackFailures {
			return Captured(Ignored), nil
		}
		status = model.FailStatus()
	} else if status != nil && status.Valid() && !status.Fail && status.Code < 400 {
		return Captured(Ignored), nil
	}

	if !p.AllowList.IsAllowed(ctx, m.URL) || p.Table.CaptureReady(id) {
		return Captured(Ignored), nil
	}

	event := model.Event{
		Kind:      model.KindNetwork,
		Source:    model.SourceObserved,
		ContextID: id,
		Time:      m.Time,
		Status:    status,
		URL:       m.URL,
		Method:    m.Method,
		Error:     m.Error,
		Actions:   p.correlate(ctx, id, nil),
	}
	if event.Time == 0 {
		event.Time = p.now().UnixMilli()
	}
	return p.append(ctx, event, meta)
}

func (p *Processor) append(ctx context.Context, event model.Event, meta Meta) (any, error) {
	p.Enricher.Enrich(&event, meta.UserAgent)

	result, err := p.Store.Append(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("append %s event: %w", event.Kind, err)
	}
	return Captured(Outcome(result.String())), nil
}

// correlate picks the actions attached to a fault: the sender's own list
// when it has one, else the context buffer, else the persisted snapshot.
func (p *Processor) correlate(ctx context.Context, id model.ContextID, supplied []model.ActionRecord) []model.ActionRecord {
	n := p.cfg.ActionsPerError

	known := make([]model.ActionRecord, 0, len(supplied))
	for _, a := range supplied {
		if a.Known() {
			known = append(known, a)
		}
	}
	if len(known) > 0 {
		if len(known) > n {
			known = known[len(known)-n:]
		}
		return known
	}

	if id <= model.NoContext {
		return []model.ActionRecord{}
	}
	if recent := p.Table.RecentActions(id, n); len(recent) > 0 {
		return recent
	}
	return p.Snapshots.Load(ctx, id, n)
}

func (p *Processor) clear(ctx context.Context, id model.ContextID) (any, error) {
	if id <= model.NoContext {
		return ClearResponse{OK: false}, nil
	}
	removed, err := p.Store.ClearContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("clear context %s: %w", id, err)
	}
	return ClearResponse{OK: true, Removed: removed}, nil
}

// orActive falls back to the active context when the sender named none.
func (p *Processor) orActive(id model.ContextID) model.ContextID {
	if id > model.NoContext {
		return id
	}
	if active, ok := p.Table.Active(); ok {
		return active
	}
	return id
}

func (p *Processor) closedTabs() map[string]int64 {
	out := make(map[string]int64)
	for id, remaining := range p.Retention.ClosedContexts() {
		out[id.String()] = remaining
	}
	return out
}

func (p *Processor) sweep(ctx context.Context) (any, error) {
	if _, err := p.Retention.Sweep(ctx); err != nil {
		return nil, fmt.Errorf("retention sweep: %w", err)
	}
	return Ack{OK: true}, nil
}

func (p *Processor) contextRemoved(ctx context.Context, m *message.ContextRemoved) (any, error) {
	if m.Context() <= model.NoContext {
		return nil, ErrNoContext
	}
	_, err := p.Retention.OnContextRemoved(ctx, m.Context())
	p.saveSnapshot()
	if err != nil {
		return nil, fmt.Errorf("retention sweep: %w", err)
	}
	return Ack{OK: true}, nil
}

func (p *Processor) events(ctx context.Context, id model.ContextID) ([]model.Event, error) {
	if id == model.NoContext {
		return p.Store.All(ctx)
	}
	return p.Store.EventsFor(ctx, id)
}

func (p *Processor) badge(ctx context.Context, id model.ContextID) (any, error) {
	events, err := p.Store.EventsFor(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	return BadgeResponse{ContextID: id, Count: len(events)}, nil
}

// captureEnabled reads the persisted flag; capture stays on unless it was
// explicitly turned off.
func (p *Processor) captureEnabled(ctx context.Context) bool {
	enabled := true
	if err := storage.GetJSON(ctx, p.KV, storage.KeyCaptureEnabled, &enabled); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Msg("Failed to read capture flag, capturing")
		}
		return true
	}
	return enabled
}

func (p *Processor) saveSnapshot() {
	closed := p.Table.Closed()
	ids := make([]model.ContextID, 0, len(closed))
	for id := range closed {
		ids = append(ids, id)
	}
	live := p.Table.SnapshotActions(p.cfg.SnapshotMaxContexts, p.cfg.ActionsPerError)
	p.Snapshots.Merge(live, ids, p.cfg.SnapshotMaxContexts)
}
