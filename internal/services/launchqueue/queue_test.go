package launchqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"seatwatch/internal/integrations/classinfo"
	"seatwatch/internal/models"
)

// recordingClient tracks concurrency and launch times across Lookup calls.
type recordingClient struct {
	mu       sync.Mutex
	launches []time.Time
	order    []string

	cur atomic.Int64
	max atomic.Int64

	delay time.Duration
	err   error
}

func (c *recordingClient) Lookup(ctx context.Context, classNumber string) (classinfo.ClassStatus, error) {
	n := c.cur.Add(1)
	for {
		prev := c.max.Load()
		if n <= prev || c.max.CompareAndSwap(prev, n) {
			break
		}
	}
	c.mu.Lock()
	c.launches = append(c.launches, time.Now())
	c.order = append(c.order, classNumber)
	c.mu.Unlock()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.cur.Add(-1)

	if c.err != nil {
		return classinfo.ClassStatus{}, c.err
	}
	return classinfo.ClassStatus{ClassNumber: classNumber, SeatStatus: models.SeatStatusOpen}, nil
}

func (c *recordingClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.launches)
}

type fixedRand struct{ v int }

func (r fixedRand) Intn(n int) int {
	if r.v >= n {
		return n - 1
	}
	return r.v
}

func startQueue(t *testing.T, q *Queue) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = q.Run(ctx) }()
	return ctx
}

func TestQueue_NeverExceedsConcurrencyOne(t *testing.T) {
	c := &recordingClient{delay: 10 * time.Millisecond}
	q := New(c, nil, Config{MinLaunchInterval: time.Millisecond})
	ctx := startQueue(t, q)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(ctx, "12345")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), c.max.Load())
	require.Equal(t, int64(1), q.Stats().MaxObservedInFlight)
	require.Equal(t, int64(8), q.Stats().TotalLaunches)
	require.Equal(t, int64(0), q.Stats().Depth)
}

func TestQueue_MinimumSpacingBetweenLaunches(t *testing.T) {
	const spacing = 60 * time.Millisecond

	c := &recordingClient{}
	q := New(c, nil, Config{MinLaunchInterval: spacing})
	ctx := startQueue(t, q)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(ctx, "12345")
		}()
	}
	wg.Wait()

	c.mu.Lock()
	launches := append([]time.Time{}, c.launches...)
	c.mu.Unlock()
	require.Len(t, launches, 4)
	for i := 1; i < len(launches); i++ {
		gap := launches[i].Sub(launches[i-1])
		// Small slack for timer granularity.
		require.GreaterOrEqual(t, gap, spacing-5*time.Millisecond,
			"launch %d only %s after launch %d", i, gap, i-1)
	}
}

func TestQueue_NotFoundNeverRetried(t *testing.T) {
	c := &recordingClient{err: &classinfo.LookupError{Kind: classinfo.ErrNotFound, ClassNumber: "99999"}}
	q := New(c, nil, Config{MinLaunchInterval: time.Millisecond})
	ctx := startQueue(t, q)

	_, err := q.Enqueue(ctx, "99999")
	require.Error(t, err)
	require.Equal(t, classinfo.ErrNotFound, classinfo.KindOf(err))

	require.Equal(t, 1, c.calls())
	require.Equal(t, int64(0), q.Stats().TotalRetries)
	require.Equal(t, int64(1), q.Stats().TotalFailures)
}

func TestQueue_TransientFailureRetriedThenFailed(t *testing.T) {
	c := &recordingClient{err: &classinfo.LookupError{Kind: classinfo.ErrTimeout, ClassNumber: "12345"}}
	q := New(c, nil, Config{MinLaunchInterval: time.Millisecond, MaxRetries: 3}).
		WithPlanner(NewRetryPlanner(time.Millisecond, 0, fixedRand{}))
	ctx := startQueue(t, q)

	_, err := q.Enqueue(ctx, "12345")
	require.Error(t, err)
	require.Equal(t, classinfo.ErrTimeout, classinfo.KindOf(err))

	// Initial attempt + 3 retries, never a 5th launch.
	require.Equal(t, 4, c.calls())
	require.Equal(t, int64(3), q.Stats().TotalRetries)
	require.Equal(t, int64(1), q.Stats().TotalFailures)
}

func TestQueue_TransientFailureEventuallySucceeds(t *testing.T) {
	c := &flakyClient{failures: 2}
	q := New(c, nil, Config{MinLaunchInterval: time.Millisecond, MaxRetries: 3}).
		WithPlanner(NewRetryPlanner(time.Millisecond, 0, fixedRand{}))
	ctx := startQueue(t, q)

	st, err := q.Enqueue(ctx, "12345")
	require.NoError(t, err)
	require.Equal(t, models.SeatStatusOpen, st.SeatStatus)
	require.Equal(t, int64(2), q.Stats().TotalRetries)
	require.Equal(t, int64(0), q.Stats().TotalFailures)
}

type flakyClient struct {
	calls    atomic.Int64
	failures int64
}

func (c *flakyClient) Lookup(ctx context.Context, classNumber string) (classinfo.ClassStatus, error) {
	if c.calls.Add(1) <= c.failures {
		return classinfo.ClassStatus{}, &classinfo.LookupError{Kind: classinfo.ErrProcessFailure, ClassNumber: classNumber}
	}
	return classinfo.ClassStatus{ClassNumber: classNumber, SeatStatus: models.SeatStatusOpen}, nil
}

func TestQueue_EnqueueHonorsCanceledContext(t *testing.T) {
	q := New(&recordingClient{}, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Enqueue(ctx, "12345")
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueue_RunDrainsOnShutdown(t *testing.T) {
	c := &recordingClient{delay: 50 * time.Millisecond}
	q := New(c, nil, Config{MinLaunchInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	require.ErrorIs(t, <-done, context.Canceled)
}
