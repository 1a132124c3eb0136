package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls Retry.
type RetryConfig struct {
	// Attempts is the total number of tries including the first. Default: 3.
	Attempts int
	// BaseDelay is the wait before the first retry. Default: 500ms.
	BaseDelay time.Duration
	// MaxDelay caps any single wait. Default: 30s.
	MaxDelay time.Duration
	// Jitter spreads each wait by up to ±Jitter of its value. Default: 0.25.
	Jitter float64
	// Retryable decides whether an error is retried. Nil uses IsTransient.
	Retryable func(err error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the settings used for upstream API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
		Jitter:    0.25,
	}
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempt budget runs out, or ctx is done. The last error is returned.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var (
		zero T
		err  error
	)
	for attempt := 1; ; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !retryable(err) || attempt >= cfg.Attempts {
			return zero, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		timer := time.NewTimer(cfg.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// delay doubles BaseDelay per completed attempt, caps it, then jitters it.
func (c RetryConfig) delay(attempt int) time.Duration {
	d := math.Min(float64(c.BaseDelay)*math.Pow(2, float64(attempt-1)), float64(c.MaxDelay))
	if c.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * c.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

// LogRetries returns an OnRetry hook that logs at Warn.
func LogRetries(upstream string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying upstream call",
			zap.String("upstream", upstream),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
