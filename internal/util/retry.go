package util

import (
	"context"
	"fmt"
	"time"
)

// Retry runs fn until it succeeds, giving up after maxAttempts calls. The
// wait between calls starts at baseDelay and doubles each time. Cancelling
// the context cuts the wait short; it does not interrupt a call already in
// flight. The final error is wrapped, so sentinel checks on fn's errors
// still work through errors.Is.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts {
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
