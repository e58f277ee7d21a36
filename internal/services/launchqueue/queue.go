package launchqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"seatwatch/internal/integrations/classinfo"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Config struct {
	// MaxConcurrency is the in-flight bound on scraper invocations. The
	// shared browser automation corrupts under concurrent use, so this stays
	// at 1 in production; the bound is tracked and asserted either way.
	MaxConcurrency int
	// MinLaunchInterval is the spacing between successive launches, measured
	// launch-to-launch even when the previous call already finished.
	MinLaunchInterval time.Duration
	// MaxRetries bounds requeues per entry for transient failures.
	MaxRetries int
	// RateLimitPerMinute caps launches per wall-clock minute via the shared
	// rate limiter. 0 disables the cap.
	RateLimitPerMinute int64
}

func defaultConfig(cfg Config) Config {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MinLaunchInterval <= 0 {
		cfg.MinLaunchInterval = 2 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return cfg
}

type result struct {
	status classinfo.ClassStatus
	err    error
}

// entry is owned by the queue between Enqueue and resolution; nothing else
// touches it.
type entry struct {
	classNumber string
	retryCount  int
	enqueuedAt  time.Time
	done        chan result
	resolved    atomic.Bool
}

// Queue serializes access to the scraper: one worker goroutine drains a
// channel, so admission control is the channel receive rather than a busy
// poll. Transient failures are re-enqueued after planner backoff; NotFound
// resolves immediately.
type Queue struct {
	client  classinfo.Client
	rl      RateLimiter
	cfg     Config
	planner *RetryPlanner

	entries chan *entry

	// Only the run loop reads or writes lastLaunch.
	lastLaunch time.Time

	depth         atomic.Int64
	inFlight      atomic.Int64
	maxInFlight   atomic.Int64
	totalLaunches atomic.Int64
	totalRetries  atomic.Int64
	totalFailures atomic.Int64
}

func New(client classinfo.Client, rl RateLimiter, cfg Config) *Queue {
	return &Queue{
		client:  client,
		rl:      rl,
		cfg:     defaultConfig(cfg),
		planner: DefaultRetryPlanner(),
		entries: make(chan *entry, 256),
	}
}

func (q *Queue) WithPlanner(p *RetryPlanner) *Queue {
	if p != nil {
		q.planner = p
	}
	return q
}

type Stats struct {
	Depth               int64 `json:"depth"`
	InFlight            int64 `json:"inFlight"`
	MaxObservedInFlight int64 `json:"maxObservedInFlight"`
	TotalLaunches       int64 `json:"totalLaunches"`
	TotalRetries        int64 `json:"totalRetries"`
	TotalFailures       int64 `json:"totalFailures"`
}

func (q *Queue) Stats() Stats {
	return Stats{
		Depth:               q.depth.Load(),
		InFlight:            q.inFlight.Load(),
		MaxObservedInFlight: q.maxInFlight.Load(),
		TotalLaunches:       q.totalLaunches.Load(),
		TotalRetries:        q.totalRetries.Load(),
		TotalFailures:       q.totalFailures.Load(),
	}
}

// Enqueue submits one class-status check and blocks until it resolves or ctx
// is done. Retries happen inside the queue; the caller sees only the final
// outcome.
func (q *Queue) Enqueue(ctx context.Context, classNumber string) (classinfo.ClassStatus, error) {
	e := &entry{
		classNumber: classNumber,
		enqueuedAt:  time.Now().UTC(),
		done:        make(chan result, 1),
	}

	q.depth.Add(1)
	select {
	case q.entries <- e:
	case <-ctx.Done():
		q.depth.Add(-1)
		return classinfo.ClassStatus{}, ctx.Err()
	}

	select {
	case r := <-e.done:
		return r.status, r.err
	case <-ctx.Done():
		return classinfo.ClassStatus{}, ctx.Err()
	}
}

// Run services the queue until ctx is done. It must be running for Enqueue
// calls to make progress.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			q.drain(ctx.Err())
			return ctx.Err()
		case e := <-q.entries:
			if err := q.waitSpacing(ctx); err != nil {
				q.resolve(e, classinfo.ClassStatus{}, err)
				q.drain(err)
				return err
			}
			q.throttle(ctx)
			q.launch(ctx, e)
		}
	}
}

// waitSpacing enforces the minimum launch-to-launch interval.
func (q *Queue) waitSpacing(ctx context.Context) error {
	if q.lastLaunch.IsZero() {
		return nil
	}
	wait := q.cfg.MinLaunchInterval - time.Since(q.lastLaunch)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// throttle applies the optional shared per-minute cap. Like the spacing rule
// it only delays, never fails the entry.
func (q *Queue) throttle(ctx context.Context) {
	if q.rl == nil || q.cfg.RateLimitPerMinute <= 0 {
		return
	}
	key := fmt.Sprintf("rl:scraper:%s", time.Now().UTC().Format("200601021504"))
	allowed, n, err := q.rl.Allow(ctx, key, q.cfg.RateLimitPerMinute, 70*time.Second)
	if err != nil {
		slog.Warn("scraper rate limiter unavailable", "error", err.Error())
		return
	}
	if !allowed {
		slog.Warn("scraper launch rate limit exceeded", "count", n)
		time.Sleep(500 * time.Millisecond)
	}
}

func (q *Queue) launch(ctx context.Context, e *entry) {
	q.lastLaunch = time.Now()

	n := q.inFlight.Add(1)
	for {
		prev := q.maxInFlight.Load()
		if n <= prev || q.maxInFlight.CompareAndSwap(prev, n) {
			break
		}
	}
	if n > int64(q.cfg.MaxConcurrency) {
		// Load-bearing invariant; a breach means the queue itself is broken.
		slog.Error("scraper concurrency bound exceeded", "in_flight", n, "max", q.cfg.MaxConcurrency)
	}
	q.totalLaunches.Add(1)

	st, err := q.client.Lookup(ctx, e.classNumber)
	q.inFlight.Add(-1)

	if err == nil {
		q.resolve(e, st, nil)
		return
	}

	if !classinfo.Retryable(err) || e.retryCount >= q.cfg.MaxRetries {
		q.totalFailures.Add(1)
		q.resolve(e, classinfo.ClassStatus{}, err)
		return
	}

	delay := q.planner.Delay(e.retryCount)
	e.retryCount++
	q.totalRetries.Add(1)
	slog.Warn("lookup failed, requeueing",
		"class_number", e.classNumber,
		"retry", e.retryCount,
		"delay", delay.String(),
		"error", err.Error(),
	)

	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			q.resolve(e, classinfo.ClassStatus{}, ctx.Err())
			return
		}
		select {
		case q.entries <- e:
		case <-ctx.Done():
			q.resolve(e, classinfo.ClassStatus{}, ctx.Err())
		}
	})
}

// resolve is idempotent: an entry can reach it from both the run loop and a
// pending requeue timer during shutdown.
func (q *Queue) resolve(e *entry, st classinfo.ClassStatus, err error) {
	if !e.resolved.CompareAndSwap(false, true) {
		return
	}
	q.depth.Add(-1)
	e.done <- result{status: st, err: err}
}

// drain fails everything still buffered so no Enqueue caller hangs past
// shutdown.
func (q *Queue) drain(err error) {
	for {
		select {
		case e := <-q.entries:
			q.resolve(e, classinfo.ClassStatus{}, err)
		default:
			return
		}
	}
}
