// Package tabstate is the per-context state table: action buffers, the
// page-capture-ready flag and close times, keyed by context id. Entries are
// created on first use and their buffers are dropped when the context closes.
package tabstate

import (
	"sort"
	"sync"
	"time"

	"github.com/faultline/faultline/internal/actions"
	"github.com/faultline/faultline/internal/model"
)

type entry struct {
	actions      *actions.Buffer
	captureReady time.Time
	closedAt     time.Time
	lastActive   time.Time
}

// Table is safe for concurrent use.
type Table struct {
	mu         sync.RWMutex
	entries    map[model.ContextID]*entry
	active     model.ContextID
	bufferSize int
}

func NewTable(bufferSize int) *Table {
	return &Table{
		entries:    make(map[model.ContextID]*entry),
		bufferSize: bufferSize,
	}
}

// getLocked returns the entry for id, creating it. Must hold mu.
func (t *Table) getLocked(id model.ContextID) *entry {
	e, ok := t.entries[id]
	if !ok {
		e = &entry{}
		t.entries[id] = e
	}
	return e
}

// RecordAction appends to the context's action buffer.
func (t *Table) RecordAction(id model.ContextID, action model.ActionRecord, now time.Time) {
	t.mu.Lock()
	e := t.getLocked(id)
	if e.actions == nil {
		e.actions = actions.NewBuffer(t.bufferSize)
	}
	e.lastActive = now
	buf := e.actions
	t.mu.Unlock()

	buf.Record(action)
}

// RecentActions returns up to n recent actions for id, most recent last.
func (t *Table) RecentActions(id model.ContextID, n int) []model.ActionRecord {
	t.mu.RLock()
	e, ok := t.entries[id]
	var buf *actions.Buffer
	if ok {
		buf = e.actions
	}
	t.mu.RUnlock()

	if buf == nil {
		return []model.ActionRecord{}
	}
	return buf.Recent(n)
}

// MarkCaptureReady records that rich page-level network capture is active.
func (t *Table) MarkCaptureReady(id model.ContextID, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getLocked(id)
	e.captureReady = now
	e.lastActive = now
}

// CaptureReady reports whether the fallback observer should defer to page
// capture for id.
func (t *Table) CaptureReady(id model.ContextID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return ok && !e.captureReady.IsZero()
}

// Close marks id closed at the given time, discards its action buffer and
// clears the page-capture flag. A context closes only once; later calls keep
// the first close time.
func (t *Table) Close(id model.ContextID, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.getLocked(id)
	if e.closedAt.IsZero() {
		e.closedAt = at
	}
	e.actions = nil
	e.captureReady = time.Time{}
	if t.active == id {
		t.active = model.NoContext
	}
}

// SetActive records id as the context the user is looking at.
func (t *Table) SetActive(id model.ContextID, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = id
	t.getLocked(id).lastActive = now
}

// Active returns the active context, if one is known and still open.
func (t *Table) Active() (model.ContextID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active, t.active > model.NoContext
}

// ClosedAt returns the close time of id, if it has one.
func (t *Table) ClosedAt(id model.ContextID) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok || e.closedAt.IsZero() {
		return time.Time{}, false
	}
	return e.closedAt, true
}

// Closed returns every context that still has a close marker.
func (t *Table) Closed() map[model.ContextID]time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[model.ContextID]time.Time)
	for id, e := range t.entries {
		if !e.closedAt.IsZero() {
			out[id] = e.closedAt
		}
	}
	return out
}

// PruneClosed removes closed contexts whose close time is more than ttl
// before now. It returns how many entries were removed.
func (t *Table) PruneClosed(now time.Time, ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pruned := 0
	for id, e := range t.entries {
		if !e.closedAt.IsZero() && now.Sub(e.closedAt) > ttl {
			delete(t.entries, id)
			pruned++
		}
	}
	return pruned
}

// SnapshotActions returns the open contexts' recent actions, keeping only
// the maxContexts most recently active ones.
func (t *Table) SnapshotActions(maxContexts, perContext int) actions.Snapshot {
	type candidate struct {
		id         model.ContextID
		buf        *actions.Buffer
		lastActive time.Time
	}

	t.mu.RLock()
	candidates := make([]candidate, 0, len(t.entries))
	for id, e := range t.entries {
		if e.actions == nil || !e.closedAt.IsZero() {
			continue
		}
		candidates = append(candidates, candidate{id: id, buf: e.actions, lastActive: e.lastActive})
	}
	t.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastActive.After(candidates[j].lastActive)
	})
	if maxContexts > 0 && len(candidates) > maxContexts {
		candidates = candidates[:maxContexts]
	}

	snap := make(actions.Snapshot, len(candidates))
	for _, c := range candidates {
		snap[c.id.String()] = c.buf.Recent(perContext)
	}
	return snap
}
