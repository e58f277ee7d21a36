package launchqueue

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

// RetryPlanner computes the re-enqueue delay for a failed lookup:
// base doubled per retry, plus random jitter so parallel watchers don't
// resubmit in lockstep.
type RetryPlanner struct {
	base      time.Duration // default 3s
	maxJitter time.Duration // default 1s
	r         Rand
}

func NewRetryPlanner(base, maxJitter time.Duration, r Rand) *RetryPlanner {
	if base <= 0 {
		base = 3 * time.Second
	}
	if maxJitter < 0 {
		maxJitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RetryPlanner{base: base, maxJitter: maxJitter, r: r}
}

func DefaultRetryPlanner() *RetryPlanner {
	return NewRetryPlanner(3*time.Second, 1*time.Second, nil)
}

// Delay returns the backoff before retry number retryCount+1.
// retryCount is the number of attempts already failed, starting at 0.
func (p *RetryPlanner) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 10 {
		retryCount = 10
	}
	d := p.base << uint(retryCount)
	if p.maxJitter > 0 {
		ms := int(p.maxJitter.Milliseconds())
		d += time.Duration(p.r.Intn(ms+1)) * time.Millisecond
	}
	return d
}
