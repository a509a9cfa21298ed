package engine

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// retryPolicy is a node's retry/back-off behavior. Default mirrors the
// HTTP handler's own backoff (1s base, doubling, capped at 5s, with
// jitter) so a node's engine-level retries and a handler's internal retry
// loop (e.g. HTTP_REQUEST) behave consistently from an operator's point of
// view.
type retryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
}

// runWithRetry calls fn up to p.MaxAttempts+1 times (the first call plus
// MaxAttempts retries), waiting an exponentially increasing, jittered
// delay between attempts. It stops early if ctx is cancelled.
func runWithRetry(ctx context.Context, p retryPolicy, fn func(attempt int) error) error {
	delay := p.BaseDelay
	var lastErr error
	for attempt := 0; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay + jitter):
			}
			delay = time.Duration(math.Min(float64(delay*2), float64(p.MaxDelay)))
		}
		if err := fn(attempt); err != nil {
			lastErr = err
			if _, ok := err.(*nonRetriable); ok {
				return err
			}
			continue
		}
		return nil
	}
	return lastErr
}
