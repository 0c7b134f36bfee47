package n8n

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// retryable classifies a failed attempt. Transport errors (including
// per-request timeouts) and 429/5xx responses are retried; cancellation of
// the caller's context is not.
func retryable(ctx context.Context, status int, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// computeBackoff returns the delay before retry number attempt (0-based):
// base * 2^attempt, capped at max.
func computeBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	return delay
}

// waitForBackoff sleeps for delay or returns early with the context error.
func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
