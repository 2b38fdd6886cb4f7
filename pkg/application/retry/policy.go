// Package retry holds the backoff policy shared by the outbox publisher and
// the consumer redelivery path, and the per-delivery state machine.
package retry

import (
	"time"

	"github.com/cenkalti/backoff"
)

// Policy describes exponential backoff: the n-th failure waits
// BaseDelay*2^(n-1), capped at MaxDelay, randomized by ±Jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is a randomization factor in [0, 1).
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Minute,
		Jitter:      0.2,
	}
}

// Delay returns the wait before the next attempt, given how many attempts
// have already failed: BaseDelay * 2^(failedAttempts-1), capped at MaxDelay,
// so the first retry waits BaseDelay.
func (p Policy) Delay(failedAttempts int) time.Duration {
	if failedAttempts < 1 {
		failedAttempts = 1
	}
	b := p.backOff()
	var delay time.Duration
	for i := 0; i < failedAttempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// Exhausted reports whether no further attempt is allowed after
// failedAttempts failures.
func (p Policy) Exhausted(failedAttempts int) bool {
	return p.MaxAttempts > 0 && failedAttempts >= p.MaxAttempts
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	base := p.BaseDelay
	if base <= 0 {
		base = backoff.DefaultInitialInterval
	}
	maxDelay := p.MaxDelay
	if maxDelay < base {
		maxDelay = base
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: p.Jitter,
		Multiplier:          2,
		MaxInterval:         maxDelay,
		// attempts are bounded by MaxAttempts, not by wall time
		MaxElapsedTime: 0,
		Clock:          backoff.SystemClock,
	}
	b.Reset()
	return b
}
