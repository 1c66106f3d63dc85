package actions

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/faultline/faultline/internal/model"
	"github.com/faultline/faultline/internal/storage"
)

const snapshotWriteTimeout = 5 * time.Second

// Snapshot maps a context id (decimal string) to its recent actions. It is
// persisted under storage.KeyLastActions so the fallback network path can
// still attach actions after a restart.
type Snapshot map[string][]model.ActionRecord

// Snapshotter persists Snapshots. Saves are fire-and-forget and coalesce:
// when several are queued only the newest is written.
type Snapshotter struct {
	kv storage.KV

	seq     atomic.Uint64
	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func NewSnapshotter(kv storage.KV) *Snapshotter {
	return &Snapshotter{kv: kv}
}

// Save schedules snap to replace the persisted snapshot and returns
// immediately.
func (s *Snapshotter) Save(snap Snapshot) {
	s.schedule(func(context.Context) (Snapshot, error) { return snap, nil })
}

// Merge schedules live to be merged into the persisted snapshot. Live
// contexts overwrite their persisted entries and closed contexts are
// dropped. Entries of contexts this process has not seen are kept, so a
// restarted process does not wipe actions it has not rebuilt yet. The result
// is bounded to maxContexts, live contexts first and then the remaining ones
// by descending id.
func (s *Snapshotter) Merge(live Snapshot, closed []model.ContextID, maxContexts int) {
	s.schedule(func(ctx context.Context) (Snapshot, error) {
		var persisted Snapshot
		if err := storage.GetJSON(ctx, s.kv, storage.KeyLastActions, &persisted); err != nil {
			var decodeErr *storage.DecodeError
			if !errors.Is(err, storage.ErrNotFound) && !errors.As(err, &decodeErr) {
				return nil, err
			}
			persisted = nil
		}
		return merge(persisted, live, closed, maxContexts), nil
	})
}

func merge(persisted, live Snapshot, closed []model.ContextID, maxContexts int) Snapshot {
	out := make(Snapshot, len(live)+len(persisted))
	for id, records := range live {
		out[id] = records
	}

	dropped := make(map[string]bool, len(closed))
	for _, id := range closed {
		dropped[id.String()] = true
		delete(out, id.String())
	}

	stale := make([]string, 0, len(persisted))
	for id := range persisted {
		if _, ok := out[id]; !ok && !dropped[id] {
			stale = append(stale, id)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return idOrder(stale[i]) > idOrder(stale[j]) })

	for _, id := range stale {
		if maxContexts > 0 && len(out) >= maxContexts {
			break
		}
		out[id] = persisted[id]
	}
	return out
}

func idOrder(id string) int64 {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// schedule runs build and writes its snapshot in the background. Only the
// newest scheduled write runs; older ones still queued are skipped.
func (s *Snapshotter) schedule(build func(ctx context.Context) (Snapshot, error)) {
	seq := s.seq.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		if seq != s.seq.Load() {
			return // superseded by a newer snapshot
		}

		ctx, cancel := context.WithTimeout(context.Background(), snapshotWriteTimeout)
		defer cancel()
		snap, err := build(ctx)
		if err == nil {
			err = storage.SetJSON(ctx, s.kv, storage.KeyLastActions, snap)
		}
		if err != nil {
			log.Warn().Err(err).Msg("Failed to persist action snapshot")
		}
	}()
}

// Wait blocks until every scheduled save has finished.
func (s *Snapshotter) Wait() {
	s.wg.Wait()
}

// Load returns up to n persisted actions for id, most recent last. A missing
// or malformed snapshot yields an empty slice.
func (s *Snapshotter) Load(ctx context.Context, id model.ContextID, n int) []model.ActionRecord {
	var snap Snapshot
	if err := storage.GetJSON(ctx, s.kv, storage.KeyLastActions, &snap); err != nil {
		return []model.ActionRecord{}
	}
	recorded := snap[id.String()]
	if n >= 0 && len(recorded) > n {
		recorded = recorded[len(recorded)-n:]
	}
	if recorded == nil {
		return []model.ActionRecord{}
	}
	return recorded
}
