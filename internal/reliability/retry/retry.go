package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config bounds how hard an operation is retried.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultConfig is tuned for outbound notification delivery: a short first
// pause so transient mail-API hiccups recover quickly, and a low cap so the
// single delivery worker keeps draining its queue.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2,
	}
}

// Do runs fn until it succeeds, the attempts are exhausted, or the context is
// cancelled. Backoff grows geometrically from InitialBackoff up to MaxBackoff
// and waits are context-aware, so a shutdown is never held up by a sleeping
// retry.
func Do[T any](ctx context.Context, cfg *Config, log *slog.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if log == nil {
		log = slog.Default()
	}

	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt >= cfg.MaxAttempts {
			break
		}

		log.Warn("retrying after failure",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return zero, fmt.Errorf("%s gave up after %d attempts: %w", op, cfg.MaxAttempts, lastErr)
}
