package worker

import (
	"math"
	"time"
)

// RetryPolicy drives the backoff between refund payout attempts.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// defaultRetryPolicy retries the payout quickly at first, backs off to a
// minute, and gives up after five attempts.
func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  2 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}
}

// normalized fills zero fields from the default policy.
func (r RetryPolicy) normalized() RetryPolicy {
	def := defaultRetryPolicy()
	if r.MaxRetries <= 0 {
		r.MaxRetries = def.MaxRetries
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = def.InitialDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = def.MaxDelay
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = def.BackoffFactor
	}
	return r
}

// NextDelay returns the delay before the given attempt (1-based), growing
// geometrically and clamped to MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	p := r.normalized()
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1)))
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return delay
}
