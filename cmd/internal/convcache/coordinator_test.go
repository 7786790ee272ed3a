package convcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_FetchesOnce(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.history["u2"] = []Message{msgAt("m1", "u2", self, t0)}
	c := NewCache(self)
	co := NewCoordinator(c, tr, time.Second, nil, nil)

	fetched, err := co.EnsureLoaded(context.Background(), "u2")
	require.NoError(t, err)
	require.True(t, fetched)

	fetched, err = co.EnsureLoaded(context.Background(), "u2")
	require.NoError(t, err)
	require.False(t, fetched)

	require.Equal(t, 1, tr.calls("u2"))
	require.Equal(t, Fetched, c.LoadingState("u2"))
	require.Equal(t, []string{"m1"}, ids(c.Messages("u2")))
}

func TestCoordinator_StateIsFetchingDuringTransportCall(t *testing.T) {
	t.Parallel()

	c := NewCache(self)
	tr := newFakeTransport()
	var during LoadingState
	tr.onFetch = func(peer string) { during = c.LoadingState(peer) }

	co := NewCoordinator(c, tr, time.Second, nil, nil)
	_, err := co.EnsureLoaded(context.Background(), "u2")
	require.NoError(t, err)
	require.Equal(t, Fetching, during)
}

func TestCoordinator_ConcurrentCallersShareOneFetch(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	started := make(chan struct{})
	var startOnce sync.Once
	tr.onFetch = func(string) { startOnce.Do(func() { close(started) }) }

	c := NewCache(self)
	co := NewCoordinator(c, tr, 5*time.Second, nil, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := co.EnsureLoaded(context.Background(), "u2")
		errCh <- err
	}()
	<-started

	// Surfaces arriving while the fetch is in flight return immediately.
	const surfaces = 16
	var wg sync.WaitGroup
	for i := 0; i < surfaces; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetched, err := co.EnsureLoaded(context.Background(), "u2")
			assert.NoError(t, err)
			assert.False(t, fetched)
		}()
	}
	wg.Wait()
	require.Equal(t, Fetching, c.LoadingState("u2"))

	close(tr.gate)
	require.NoError(t, <-errCh)
	require.Equal(t, 1, tr.calls("u2"))
	require.Equal(t, Fetched, c.LoadingState("u2"))
}

func TestCoordinator_FailureRollsBackAndAllowsRetry(t *testing.T) {
	t.Parallel()

	boom := errors.New("network down")
	tr := newFakeTransport()
	tr.fetchErr = boom

	c := NewCache(self)
	co := NewCoordinator(c, tr, time.Second, nil, nil)

	_, err := co.EnsureLoaded(context.Background(), "u2")
	require.ErrorIs(t, err, ErrFetchFailed)
	require.ErrorIs(t, err, boom)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "u2", fe.Peer)
	require.Equal(t, NeverFetched, c.LoadingState("u2"))

	tr.mu.Lock()
	tr.fetchErr = nil
	tr.mu.Unlock()

	fetched, err := co.EnsureLoaded(context.Background(), "u2")
	require.NoError(t, err)
	require.True(t, fetched)
	require.Equal(t, 2, tr.calls("u2"))
	require.Equal(t, Fetched, c.LoadingState("u2"))
}

func TestCoordinator_HungFetchTimesOut(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)

	// This transport ignores its context entirely.
	tr := TransportFuncs{Fetch: func(context.Context, string, string) ([]Message, error) {
		<-block
		return nil, nil
	}}

	c := NewCache(self)
	co := NewCoordinator(c, tr, 30*time.Millisecond, nil, nil)

	_, err := co.EnsureLoaded(context.Background(), "u2")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, ErrFetchFailed)
	require.Equal(t, NeverFetched, c.LoadingState("u2"))
}

func TestCoordinator_CallerCancellationRollsBack(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.gate = make(chan struct{})

	c := NewCache(self)
	co := NewCoordinator(c, tr, time.Minute, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	tr.onFetch = func(string) { cancel() }

	_, err := co.EnsureLoaded(ctx, "u2")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, NeverFetched, c.LoadingState("u2"))
}

func TestCoordinator_RejectsEmptyPeer(t *testing.T) {
	t.Parallel()

	co := NewCoordinator(NewCache(self), newFakeTransport(), 0, nil, nil)
	_, err := co.EnsureLoaded(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyPeer)
}

func TestCoordinator_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	tr := newFakeTransport()
	co := NewCoordinator(NewCache(self), tr, time.Second, nil, m)

	_, _ = co.EnsureLoaded(context.Background(), "u2")
	_, _ = co.EnsureLoaded(context.Background(), "u2")

	tr.fetchErr = errors.New("boom")
	_, _ = co.EnsureLoaded(context.Background(), "u3")

	require.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.fetchSkipped))
}
