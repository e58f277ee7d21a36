package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"seatwatch/internal/broker/messages"
	"seatwatch/internal/models"
	"seatwatch/internal/services/notifier"
)

type Repository interface {
	ListActiveWatches(ctx context.Context, limit, offset int) ([]*models.Watch, error)
}

type Checker interface {
	CheckWatch(ctx context.Context, w *models.Watch) (notifier.Outcome, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Poller walks the active watch set in fixed-size batches once per cycle.
// The next cycle is scheduled only after the current one fully settles, so
// cycles never overlap regardless of how long checks take.
type Poller struct {
	repo     Repository
	checker  Checker
	producer Producer

	topic string

	pollInterval time.Duration
	batchSize    int
	batchDelay   time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalChecked        atomic.Int64
	totalTransitions    atomic.Int64
	totalEmailsSent     atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, checker Checker, producer Producer, topic string) *Poller {
	return &Poller{
		repo: repo, checker: checker, producer: producer, topic: topic,
		pollInterval:      5 * time.Minute,
		batchSize:         5,
		batchDelay:        time.Second,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize int, batchDelay time.Duration) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if batchDelay >= 0 {
		p.batchDelay = batchDelay
	}
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt        time.Time  `json:"startedAt"`
	LastCycleAt      *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt    *time.Time `json:"lastTriggerAt,omitempty"`
	TotalChecked     int64      `json:"totalChecked"`
	TotalTransitions int64      `json:"totalTransitions"`
	TotalEmailsSent  int64      `json:"totalEmailsSent"`
	TotalErrors      int64      `json:"totalErrors"`
	InFlight         int64      `json:"inFlight"`
	LastError        string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:        time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalChecked:     p.totalChecked.Load(),
		TotalTransitions: p.totalTransitions.Load(),
		TotalEmailsSent:  p.totalEmailsSent.Load(),
		TotalErrors:      p.totalErrors.Load(),
		InFlight:         p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

// Run blocks until ctx is canceled. The interval timer is re-armed after a
// cycle completes, so a slow cycle pushes the next one out rather than
// stacking up behind it.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		case <-p.triggerCh:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
		}
		p.runOnce(ctx)
		t.Reset(p.pollInterval)
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	p.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())

	offset := 0
	for {
		if ctx.Err() != nil {
			return
		}

		batch, err := p.repo.ListActiveWatches(ctx, p.batchSize, offset)
		if err != nil {
			slog.Error("list active watches", "offset", offset, "error", err.Error())
			p.noteError(err)
			return
		}
		if len(batch) == 0 {
			return
		}

		p.runBatch(ctx, batch)

		if len(batch) < p.batchSize {
			return
		}
		offset += p.batchSize

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.batchDelay):
		}
	}
}

// runBatch settles every watch in the batch before returning. Checks are
// enqueued concurrently; the launch queue downstream serializes the actual
// subprocess launches.
func (p *Poller) runBatch(ctx context.Context, batch []*models.Watch) {
	var wg sync.WaitGroup
	for _, w := range batch {
		wg.Add(1)
		wCopy := w
		p.inFlight.Add(1)
		go func() {
			defer func() {
				p.inFlight.Add(-1)
				wg.Done()
			}()
			p.processOne(ctx, wCopy)
		}()
	}
	wg.Wait()
}

func (p *Poller) processOne(ctx context.Context, w *models.Watch) {
	now := time.Now().UTC()
	out, err := p.checker.CheckWatch(ctx, w)

	msg := messages.ClassChecked{
		WatchID:     w.ID,
		ClassNumber: w.ClassNumber,
		CheckedAt:   now,
	}

	p.totalChecked.Add(1)
	if err != nil {
		p.totalErrors.Add(1)
		p.noteError(err)
		slog.Error("check watch", "watch_id", w.ID, "class_number", w.ClassNumber, "error", err.Error())
		e := err.Error()
		msg.Error = &e
	} else {
		msg.SeatStatus = out.Status
		msg.Notified = out.Transition
		if out.Transition {
			p.totalTransitions.Add(1)
		}
		if out.EmailSent {
			p.totalEmailsSent.Add(1)
		}
	}

	if err := p.publish(ctx, w.ID, msg); err != nil {
		p.noteError(err)
		slog.Error("publish class.checked", "watch_id", w.ID, "error", err.Error())
	}
}

func (p *Poller) publish(ctx context.Context, watchID uint64, msg messages.ClassChecked) error {
	if p.producer == nil {
		return nil
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}

	key := []byte(fmt.Sprintf("%d", watchID))
	// Kafka may not be ready right after docker compose starts; retry a bit.
	var pubErr error
	for i := 0; i < 10; i++ {
		if err := p.producer.Publish(ctx, p.topic, key, b); err == nil {
			return nil
		} else {
			pubErr = err
			time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
		}
	}
	return pubErr
}

func (p *Poller) noteError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}
