package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"seatwatch/internal/broker/messages"
	"seatwatch/internal/models"
	"seatwatch/internal/services/notifier"
)

type fakeProducer struct {
	mu     sync.Mutex
	topic  string
	values [][]byte
	err    error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.values = append(p.values, value)
	return nil
}

func (p *fakeProducer) published() []messages.ClassChecked {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]messages.ClassChecked, 0, len(p.values))
	for _, v := range p.values {
		var m messages.ClassChecked
		_ = json.Unmarshal(v, &m)
		out = append(out, m)
	}
	return out
}

type fakeChecker struct {
	mu    sync.Mutex
	out   notifier.Outcome
	err   error
	calls int
}

func (c *fakeChecker) CheckWatch(ctx context.Context, w *models.Watch) (notifier.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return notifier.Outcome{}, c.err
	}
	return c.out, nil
}

func (c *fakeChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type pagedRepo struct {
	mu      sync.Mutex
	watches []*models.Watch
	offsets []int
	limits  []int
	err     error
}

func (r *pagedRepo) ListActiveWatches(ctx context.Context, limit, offset int) ([]*models.Watch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.offsets = append(r.offsets, offset)
	r.limits = append(r.limits, limit)
	if offset >= len(r.watches) {
		return nil, nil
	}
	end := offset + limit
	if end > len(r.watches) {
		end = len(r.watches)
	}
	return r.watches[offset:end], nil
}

func makeWatches(n int) []*models.Watch {
	out := make([]*models.Watch, n)
	for i := range out {
		out[i] = &models.Watch{
			ID:          uint64(i + 1),
			ClassNumber: "12345",
			LastStatus:  models.SeatStatusClosed,
			IsActive:    true,
		}
	}
	return out
}

func TestPoller_processOne_publishesOutcome(t *testing.T) {
	fp := &fakeProducer{}
	ck := &fakeChecker{out: notifier.Outcome{
		Status:     models.SeatStatusOpen,
		Transition: true,
		EmailSent:  true,
	}}
	p := New(nil, ck, fp, "class.checked")

	p.processOne(context.Background(), &models.Watch{ID: 42, ClassNumber: "12345"})

	msgs := fp.published()
	require.Len(t, msgs, 1)
	require.Equal(t, "class.checked", fp.topic)
	require.Equal(t, uint64(42), msgs[0].WatchID)
	require.Equal(t, models.SeatStatusOpen, msgs[0].SeatStatus)
	require.True(t, msgs[0].Notified)
	require.Nil(t, msgs[0].Error)

	st := p.Stats()
	require.Equal(t, int64(1), st.TotalChecked)
	require.Equal(t, int64(1), st.TotalTransitions)
	require.Equal(t, int64(1), st.TotalEmailsSent)
	require.Equal(t, int64(0), st.TotalErrors)
}

func TestPoller_processOne_checkErrorStillPublishes(t *testing.T) {
	fp := &fakeProducer{}
	ck := &fakeChecker{err: errors.New("boom")}
	p := New(nil, ck, fp, "class.checked")

	p.processOne(context.Background(), &models.Watch{ID: 7, ClassNumber: "99999"})

	msgs := fp.published()
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Error)
	require.Contains(t, *msgs[0].Error, "boom")
	require.Empty(t, msgs[0].SeatStatus)

	st := p.Stats()
	require.Equal(t, int64(1), st.TotalChecked)
	require.Equal(t, int64(1), st.TotalErrors)
	require.Contains(t, st.LastError, "boom")
}

func TestPoller_runOnce_pagesThroughActiveSet(t *testing.T) {
	repo := &pagedRepo{watches: makeWatches(12)}
	ck := &fakeChecker{out: notifier.Outcome{Status: models.SeatStatusClosed}}
	p := New(repo, ck, nil, "class.checked").WithSettings(time.Minute, 5, 0)

	p.runOnce(context.Background())

	require.Equal(t, []int{0, 5, 10}, repo.offsets)
	require.Equal(t, []int{5, 5, 5}, repo.limits)
	require.Equal(t, 12, ck.callCount())
	require.Equal(t, int64(12), p.Stats().TotalChecked)
	require.Equal(t, int64(0), p.Stats().InFlight)
}

func TestPoller_runOnce_emptySetDoesNothing(t *testing.T) {
	repo := &pagedRepo{}
	ck := &fakeChecker{}
	p := New(repo, ck, nil, "class.checked").WithSettings(time.Minute, 5, 0)

	p.runOnce(context.Background())

	require.Equal(t, []int{0}, repo.offsets)
	require.Zero(t, ck.callCount())
}

func TestPoller_runOnce_listErrorAbortsCycle(t *testing.T) {
	repo := &pagedRepo{err: errors.New("pg down")}
	ck := &fakeChecker{}
	p := New(repo, ck, nil, "class.checked")

	p.runOnce(context.Background())

	require.Zero(t, ck.callCount())
	require.Contains(t, p.Stats().LastError, "pg down")
}

func TestPoller_WithSettings(t *testing.T) {
	p := New(nil, nil, nil, "t").WithSettings(7*time.Second, 9, 11*time.Millisecond)
	require.Equal(t, 7*time.Second, p.pollInterval)
	require.Equal(t, 9, p.batchSize)
	require.Equal(t, 11*time.Millisecond, p.batchDelay)
}
