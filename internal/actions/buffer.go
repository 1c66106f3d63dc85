// Package actions keeps the recent user actions of one browsing context so
// they can be attached to the next fault captured there.
package actions

import (
	"container/ring"
	"sync"

	"github.com/faultline/faultline/internal/model"
)

// Buffer is a fixed-capacity ring of actions, oldest overwritten first.
type Buffer struct {
	mu       sync.Mutex
	ring     *ring.Ring
	capacity int
	size     int
}

// NewBuffer creates a buffer holding at most capacity actions.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		ring:     ring.New(capacity),
		capacity: capacity,
	}
}

// Record appends an action, evicting the oldest once full.
func (b *Buffer) Record(action model.ActionRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring.Value = action
	b.ring = b.ring.Next()
	if b.size < b.capacity {
		b.size++
	}
}

// Recent returns up to n most recent actions, most recent last. Recording a
// fault does not consume them.
func (b *Buffer) Recent(n int) []model.ActionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || b.size == 0 {
		return []model.ActionRecord{}
	}
	if n > b.size {
		n = b.size
	}

	// b.ring points at the next write slot; step back n entries.
	out := make([]model.ActionRecord, 0, n)
	r := b.ring.Move(-n)
	for i := 0; i < n; i++ {
		out = append(out, r.Value.(model.ActionRecord))
		r = r.Next()
	}
	return out
}

// Len returns the number of buffered actions.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
