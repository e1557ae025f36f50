package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/catherinevee/driftcert/internal/logger"
)

// Config controls the backoff loop
type Config struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
	IsRetryable func(error) bool
}

// DefaultConfig retries any error three times with exponential backoff
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.3,
		IsRetryable: func(error) bool {
			return true
		},
	}
}

// ForgeAPIConfig retries rate limits, server errors and transient network
// failures. Auth and not-found errors are terminal.
func ForgeAPIConfig() *Config {
	cfg := DefaultConfig()
	cfg.IsRetryable = func(err error) bool {
		if err == nil {
			return false
		}
		msg := err.Error()
		for _, marker := range []string{
			"status 429", "status 500", "status 502", "status 503", "status 504",
			"connection reset", "connection refused", "EOF", "timeout",
			"no such host", "TLS handshake",
		} {
			if strings.Contains(msg, marker) {
				return true
			}
		}
		return false
	}
	return cfg
}

// StoreConfig retries sqlite lock contention with a short base delay
func StoreConfig() *Config {
	return &Config{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.3,
		IsRetryable: func(err error) bool {
			if err == nil {
				return false
			}
			msg := strings.ToLower(err.Error())
			return strings.Contains(msg, "database is locked") ||
				strings.Contains(msg, "database table is locked") ||
				strings.Contains(msg, "busy")
		},
	}
}

// Do runs fn with the config's backoff policy. The last error is returned
// when retries are exhausted or the error is not retryable.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg, attempt)
			logger.New("retry").Debug("retrying after failure",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !cfg.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// DoWithResult is Do for functions returning a value
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func backoffDelay(cfg *Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.Jitter > 0 {
		delay += delay * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	if max := float64(cfg.MaxDelay); delay > max {
		delay = max
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
