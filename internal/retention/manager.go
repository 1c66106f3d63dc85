// Package retention evicts the events of closed contexts once they have
// aged past the retention window, and forgets closed contexts after the
// same window.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/metrics"
	"github.com/faultline/faultline/internal/model"
	"github.com/faultline/faultline/internal/store"
	"github.com/faultline/faultline/internal/tabstate"
)

// Evictor is the store's removal contract.
type Evictor interface {
	Evict(ctx context.Context, reason string, drop func(e *model.Event) bool) (int, error)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type Manager struct {
	table    *tabstate.Table
	store    Evictor
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewManager(table *tabstate.Table, st Evictor, cfg config.CaptureConfig, opts ...Option) *Manager {
	m := &Manager{
		table:    table,
		store:    st,
		ttl:      cfg.Retention,
		interval: cfg.SweepInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnContextRemoved marks id closed and runs a sweep.
func (m *Manager) OnContextRemoved(ctx context.Context, id model.ContextID) (int, error) {
	m.table.Close(id, m.now())
	return m.Sweep(ctx)
}

// Sweep evicts aged events of closed contexts, then prunes expired close
// markers. An event whose context has no close marker is kept. Running it
// again without new closures changes nothing.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	closed := m.table.Closed()

	removed := 0
	if len(closed) > 0 {
		var err error
		removed, err = m.store.Evict(ctx, store.ReasonRetention, func(e *model.Event) bool {
			closedAt, ok := closed[e.ContextID]
			if !ok {
				return false
			}
			return now.Sub(closedAt) >= m.ttl && now.Sub(time.UnixMilli(e.Time)) >= m.ttl
		})
		if err != nil {
			return 0, err
		}
	}

	pruned := m.table.PruneClosed(now, m.ttl)
	metrics.ClosedContexts.Set(float64(len(closed) - pruned))

	if removed > 0 || pruned > 0 {
		log.Debug().Int("evicted", removed).Int("pruned", pruned).Msg("Retention sweep")
	}
	return removed, nil
}

// ClosedContexts returns the remaining retention time in milliseconds of
// every closed context, clamped at zero.
func (m *Manager) ClosedContexts() map[model.ContextID]int64 {
	now := m.now()
	out := make(map[model.ContextID]int64)
	for id, closedAt := range m.table.Closed() {
		remaining := m.ttl - now.Sub(closedAt)
		if remaining < 0 {
			remaining = 0
		}
		out[id] = remaining.Milliseconds()
	}
	return out
}

// Serve sweeps every interval until ctx is canceled. It implements
// suture.Service.
func (m *Manager) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				log.Warn().Err(err).Msg("Retention sweep failed")
			}
		}
	}
}

func (m *Manager) String() string { return "retention-sweeper" }
