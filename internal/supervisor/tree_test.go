package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingService struct {
	starts atomic.Int32
	fail   bool
}

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	if s.fail {
		return errors.New("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string { return "counting" }

func TestTree_RunsAndRestartsServices(t *testing.T) {
	tree := NewTree(TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})
	steady := &countingService{}
	flaky := &countingService{fail: true}
	tree.AddDataService(steady)
	tree.AddMessagingService(flaky)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool { return steady.starts.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return flaky.starts.Load() > 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
	assert.Equal(t, int32(1), steady.starts.Load())
}

type fakeServer struct {
	stop     chan struct{}
	listen   error
	shutdown atomic.Bool
}

func (f *fakeServer) ListenAndServe() error {
	if f.listen != nil {
		return f.listen
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdown.Store(true)
	close(f.stop)
	return nil
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	srv := &fakeServer{stop: make(chan struct{})}
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, srv.shutdown.Load())
	assert.Equal(t, "http-server", svc.String())
}

func TestHTTPServerService_ListenFailure(t *testing.T) {
	srv := &fakeServer{stop: make(chan struct{}), listen: errors.New("address in use")}
	err := NewHTTPServerService(srv, 0).Serve(context.Background())
	assert.ErrorContains(t, err, "address in use")
}
