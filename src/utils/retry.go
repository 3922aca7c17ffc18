package utils

import (
	"context"
	"time"

	"github.com/zwehtet-dev/exchange-bot/src/logger"
)

// RetryPolicy retries a function with exponential backoff. Delay after
// attempt n is BaseDelay * Multiplier^(n-1).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is done.
// The last error is returned when all attempts fail.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		logger.L.Warn("Operation failed, retrying", "op", op, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}
	return err
}
