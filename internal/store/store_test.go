package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/metrics"
	"github.com/faultline/faultline/internal/model"
	"github.com/faultline/faultline/internal/storage"
)

func newTestStore(t *testing.T, kv storage.KV, opts ...Option) *Store {
	t.Helper()
	cfg := config.Default().Capture
	s := New(kv, cfg, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func networkEvent(ctx model.ContextID, url string, code int, at int64) model.Event {
	return model.Event{
		Kind:      model.KindNetwork,
		Source:    model.SourcePage,
		ContextID: ctx,
		URL:       url,
		Status:    model.HTTPStatus(code),
		Time:      at,
	}
}

func TestStore_AppendAndRead(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	ctx := context.Background()

	res, err := s.Append(ctx, networkEvent(1, "/a", 500, 1000))
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	res, err = s.Append(ctx, model.Event{Kind: model.KindConsole, Level: "error", Message: "boom", ContextID: 2, Time: 1001})
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotEmpty(t, all[0].ID)
	assert.NotEqual(t, all[0].ID, all[1].ID)

	mine, err := s.EventsFor(ctx, 2)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "boom", mine[0].Message)
}

func TestStore_RejectsInvalid(t *testing.T) {
	kv := storage.NewMemory()
	s := newTestStore(t, kv)

	res, err := s.Append(context.Background(), model.Event{Kind: model.KindNetwork, Time: 1, URL: "/a"})
	require.NoError(t, err)
	assert.Equal(t, RejectedInvalid, res)

	_, err = kv.Get(context.Background(), storage.KeyEvents)
	assert.ErrorIs(t, err, storage.ErrNotFound, "an invalid event never touches the log")
}

func TestStore_Capacity(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	ctx := context.Background()
	max := config.Default().Capture.MaxEvents
	const extra = 7

	for i := 0; i < max+extra; i++ {
		res, err := s.Append(ctx, networkEvent(1, fmt.Sprintf("/r/%d", i), 500, int64(1000+i)))
		require.NoError(t, err)
		require.Equal(t, Accepted, res)
	}

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, max)
	assert.Equal(t, fmt.Sprintf("/r/%d", extra), all[0].URL)
	assert.Equal(t, fmt.Sprintf("/r/%d", max+extra-1), all[max-1].URL)
}

func TestStore_Dedupe(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	ctx := context.Background()
	window := config.Default().Capture.DedupeWindow.Milliseconds()
	const T = 50_000

	res, _ := s.Append(ctx, networkEvent(7, "/a", 500, T))
	require.Equal(t, Accepted, res)

	res, err := s.Append(ctx, networkEvent(7, "/a", 500, T+window-1))
	require.NoError(t, err)
	assert.Equal(t, RejectedDuplicate, res)

	res, err = s.Append(ctx, networkEvent(7, "/a", 500, T+window+1))
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	all, _ := s.All(ctx)
	assert.Len(t, all, 2)
}

func TestStore_Supersede(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	ctx := context.Background()

	coarse := networkEvent(3, "/b", 404, 1000)
	coarse.Source = model.SourceObserved
	res, _ := s.Append(ctx, coarse)
	require.Equal(t, Accepted, res)

	rich := networkEvent(3, "/b", 404, 1200)
	rich.Detail = "Not Found"
	res, err := s.Append(ctx, rich)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	events, _ := s.EventsFor(ctx, 3)
	require.Len(t, events, 1)
	assert.Equal(t, "Not Found", events[0].Detail)
	assert.Equal(t, model.SourcePage, events[0].Source)

	// A later coarse report of the same request is redundant.
	late := networkEvent(3, "/b", 404, 90_000)
	late.Source = model.SourceObserved
	res, err = s.Append(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, RejectedDuplicate, res)
}

func TestStore_SupersedeSurvivesDuplicate(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	ctx := context.Background()

	res, _ := s.Append(ctx, networkEvent(3, "/c", 404, 1000))
	require.Equal(t, Accepted, res)
	coarse := networkEvent(3, "/c", 500, 1100)
	coarse.Source = model.SourceObserved
	res, _ = s.Append(ctx, coarse)
	require.Equal(t, Accepted, res)

	// Duplicate of the first page event; the coarse entry is removed anyway.
	res, err := s.Append(ctx, networkEvent(3, "/c", 404, 1500))
	require.NoError(t, err)
	assert.Equal(t, RejectedDuplicate, res)

	all, _ := s.All(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, int64(1000), all[0].Time)
}

func TestStore_ClearAndEvict(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = s.Append(ctx, networkEvent(1, fmt.Sprintf("/x/%d", i), 500, 1000))
		_, _ = s.Append(ctx, networkEvent(2, fmt.Sprintf("/x/%d", i), 500, 1000))
	}

	removed, err := s.ClearContext(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	removed, err = s.ClearContext(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = s.Evict(ctx, ReasonRetention, func(e *model.Event) bool { return e.URL == "/x/0" })
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	all, _ := s.All(ctx)
	assert.Len(t, all, 2)
}

func TestStore_Notifies(t *testing.T) {
	var (
		mu      sync.Mutex
		changes []Change
	)
	s := newTestStore(t, storage.NewMemory(), WithNotifier(NotifierFunc(func(_ context.Context, c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})))
	ctx := context.Background()

	_, _ = s.Append(ctx, networkEvent(1, "/a", 500, 1000))
	_, _ = s.Append(ctx, networkEvent(1, "/a", 500, 1001)) // duplicate, no write
	_, _ = s.ClearContext(ctx, 1)
	_, _ = s.ClearContext(ctx, 1) // nothing removed, no write

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 2)
	require.NotNil(t, changes[0].Appended)
	assert.Equal(t, "/a", changes[0].Appended.URL)
	assert.Equal(t, 1, changes[0].Size)
	assert.Equal(t, 1, changes[1].Removed)
	assert.Equal(t, ReasonCleared, changes[1].Reason)
}

func TestStore_KVFailure(t *testing.T) {
	kv := storage.NewMemory()
	s := newTestStore(t, kv)
	ctx := context.Background()

	_, err := s.Append(ctx, networkEvent(1, "/a", 500, 1000))
	require.NoError(t, err)

	kv.FailWrites(errors.New("disk full"))
	_, err = s.Append(ctx, networkEvent(1, "/b", 500, 1000))
	require.Error(t, err)

	kv.FailWrites(nil)
	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "a failed write leaves the log as it was")
}

func TestStore_UnreadableLogIsDiscarded(t *testing.T) {
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(context.Background(), storage.KeyEvents, []byte(`{"not":"a list"}`)))
	s := newTestStore(t, kv)

	res, err := s.Append(context.Background(), networkEvent(1, "/a", 500, 1000))
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	all, _ := s.All(context.Background())
	assert.Len(t, all, 1)
}

func TestStore_ConcurrentAppendsAreNotLost(t *testing.T) {
	s := newTestStore(t, storage.NewMemory())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(ctx, networkEvent(model.ContextID(i%4+1), fmt.Sprintf("/c/%d", i), 500, 1000))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 50)
}

func TestStore_Stop(t *testing.T) {
	s := New(storage.NewMemory(), config.Default().Capture)
	s.Stop()
	s.Stop()

	_, err := s.Append(context.Background(), networkEvent(1, "/a", 500, 1000))
	assert.ErrorIs(t, err, ErrClosed)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, s.Serve(ctx))
}

func TestStore_QueueDepthIsBalanced(t *testing.T) {
	s := New(storage.NewMemory(), config.Default().Capture)
	baseline := testutil.ToFloat64(metrics.StoreQueueDepth)

	// No writer yet: fill the queue.
	var wg sync.WaitGroup
	for i := 0; i < queueSize; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(context.Background(), networkEvent(1, fmt.Sprintf("/q/%d", i), 500, int64(1000+i*10_000)))
			assert.NoError(t, err)
		}(i)
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.StoreQueueDepth) == baseline+queueSize
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Append(ctx, networkEvent(2, "/late", 500, 1000))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, baseline+queueSize, testutil.ToFloat64(metrics.StoreQueueDepth), "a request that never queued is not counted")

	serveCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(serveCtx)
	}()
	wg.Wait()
	stop()
	<-done

	assert.Equal(t, baseline, testutil.ToFloat64(metrics.StoreQueueDepth))
}
