// Package dedupe collapses repeated network faults. A candidate is a
// duplicate when the nearest earlier network event for the same context,
// URL and status lies within the window.
package dedupe

import (
	"time"

	"github.com/faultline/faultline/internal/model"
)

type Engine struct {
	window int64 // ms
}

func NewEngine(window time.Duration) *Engine {
	return &Engine{window: window.Milliseconds()}
}

// IsDuplicate scans log from the tail; only the first match is consulted.
func (d *Engine) IsDuplicate(candidate *model.Event, log []model.Event) bool {
	if !candidate.IsNetwork() || candidate.Status == nil || candidate.URL == "" {
		return false
	}

	for i := len(log) - 1; i >= 0; i-- {
		existing := &log[i]
		if !sameRequest(existing, candidate) || !existing.Status.Equal(candidate.Status) {
			continue
		}
		delta := candidate.Time - existing.Time
		if delta < 0 {
			delta = -delta
		}
		return delta <= d.window
	}
	return false
}

// Supersede removes coarse observed events for the candidate's context and
// URL when the candidate comes from page capture. It returns the remaining
// log and how many events were removed.
func Supersede(candidate *model.Event, log []model.Event) ([]model.Event, int) {
	if !candidate.IsNetwork() || candidate.Source != model.SourcePage {
		return log, 0
	}

	kept := make([]model.Event, 0, len(log))
	for i := range log {
		if log[i].Source == model.SourceObserved && sameRequest(&log[i], candidate) {
			continue
		}
		kept = append(kept, log[i])
	}
	return kept, len(log) - len(kept)
}

// HasDetailed reports whether log already holds a page-detail event for the
// candidate's context and URL, making an observed candidate redundant.
func HasDetailed(candidate *model.Event, log []model.Event) bool {
	if !candidate.IsNetwork() || candidate.Source != model.SourceObserved {
		return false
	}
	for i := range log {
		if log[i].Detail != "" && sameRequest(&log[i], candidate) {
			return true
		}
	}
	return false
}

func sameRequest(a, b *model.Event) bool {
	return a.IsNetwork() && a.ContextID == b.ContextID && a.URL == b.URL
}
