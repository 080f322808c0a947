package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrInvalidMaxAttempts is returned when maxAttempts is not positive.
var ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

// MaxDelay caps the doubled delay between attempts.
const MaxDelay = 30 * time.Second

// Sleep waits for d or until ctx is done, whichever comes first.
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

// Option configures WithBackoff.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger attempts are reported to.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBackoff retries operation up to maxAttempts times. The delay starts at
// baseDelay and doubles after every failure, capped at MaxDelay.
// Returns the error from the last attempt if all attempts fail.
func WithBackoff(ctx context.Context, operation func(context.Context) error, maxAttempts int, baseDelay time.Duration, opts ...Option) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			if attempt > 1 {
				o.logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		o.logger.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", maxAttempts, "error", lastErr)

		if attempt == maxAttempts {
			break
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
		if delay *= 2; delay > MaxDelay {
			delay = MaxDelay
		}
	}

	return lastErr
}
