package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ErrCancelled is returned when the context ends while waiting for the next attempt.
var ErrCancelled = errors.New("retry cancelled")

// Config defines retry behavior
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterEnabled bool
}

// DefaultConfig returns production-ready retry settings
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   10,
		InitialDelay:  2 * time.Second,
		MaxDelay:      60 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// FixedConfig retries every interval, retries times after the first attempt.
func FixedConfig(retries int, interval time.Duration) Config {
	if retries < 0 {
		retries = 0
	}
	return Config{
		MaxAttempts:  retries + 1,
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1,
	}
}

// WithBackoff executes fn with exponential backoff and optional jitter.
// fn receives the 1-based attempt number.
func WithBackoff(ctx context.Context, cfg Config, logger *zap.Logger, operation string, fn func(attempt int) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("Operation succeeded after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt))
			}
			return nil
		}

		if attempt == maxAttempts {
			return fmt.Errorf("%s failed after %d attempts: %w", operation, maxAttempts, lastErr)
		}

		delay := calculateBackoff(cfg, attempt)

		logger.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("retry_in", delay),
			zap.Error(lastErr))

		if Wait(ctx, delay) == Cancelled {
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}

	return lastErr
}

func calculateBackoff(cfg Config, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt-1))

	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	// Add jitter to prevent thundering herd
	if cfg.JitterEnabled {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}
