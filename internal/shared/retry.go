package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds RetryOnConflict.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy backs off 100ms, 200ms, 400ms.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}

// RetryOnConflict runs fn, retrying with exponential backoff while it fails
// with a busy, locked or serialization error. Other errors are returned immediately.
func RetryOnConflict(ctx context.Context, op string, policy RetryPolicy, fn func() error) error {
	if policy.MaxRetries <= 0 {
		policy = DefaultRetryPolicy
	}

	var err error
	for i := 0; i < policy.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsConflictError(err) || i == policy.MaxRetries-1 {
			break
		}

		delay := policy.BaseDelay * time.Duration(1<<i)
		slog.Debug("Database busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}

	if IsConflictError(err) {
		return fmt.Errorf("%s failed after %d attempts: %w", op, policy.MaxRetries, err)
	}
	return err
}
