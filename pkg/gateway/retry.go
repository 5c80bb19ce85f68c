package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrier retries transient failures with exponential backoff and
// jitter, up to a fixed attempt cap. Exhausting the cap reclassifies the
// failure as permanent.
type Retrier struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func NewRetrier() *Retrier {
	return &Retrier{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

// Do invokes fn until it succeeds, fails permanently, or the attempt cap
// is reached. fn receives the zero-based attempt number.
func (r *Retrier) Do(ctx context.Context, fn func(attempt int) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.InitialInterval
	policy.MaxInterval = r.MaxInterval
	policy.Reset()

	var lastErr error

	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if IsPermanent(lastErr) {
			return lastErr
		}

		if attempt == r.MaxAttempts-1 {
			break
		}

		wait := policy.NextBackOff()

		select {
		case <-ctx.Done():
			return Permanent(ctx.Err())
		case <-time.After(wait):
		}
	}

	return Permanent(fmt.Errorf("retries exhausted after %d attempts: %w", r.MaxAttempts, lastErr))
}
