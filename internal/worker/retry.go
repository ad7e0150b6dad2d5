package worker

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter adds a uniform random delay in [0, Jitter) on top of NextDelay.
	Jitter time.Duration
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && (d > r.MaxDelay || delay > float64(math.MaxInt64)) {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// DelayWithJitter is NextDelay plus the configured jitter.
func (r RetryPolicy) DelayWithJitter(attempt int) time.Duration {
	d := r.NextDelay(attempt)
	if r.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(r.Jitter)))
	}
	return d
}

// LinearDelay returns step*attempt, used for short in-request retries.
func LinearDelay(step time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return step * time.Duration(attempt)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
