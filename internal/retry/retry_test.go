package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retryable func(error) bool) *Config {
	return &Config{
		MaxRetries:  3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
		IsRetryable: retryable,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(func(error) bool { return true }), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	terminal := errors.New("auth failed")
	calls := 0
	err := Do(context.Background(), fastConfig(func(err error) bool { return false }), func() error {
		calls++
		return terminal
	})
	assert.Equal(t, terminal, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(func(error) bool { return true }), func() error {
		calls++
		return fmt.Errorf("attempt %d", calls)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls) // initial try plus MaxRetries
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(func(error) bool { return true }), func() error {
		return errors.New("always")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(func(error) bool { return true }), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestForgeAPIConfigClassification(t *testing.T) {
	cfg := ForgeAPIConfig()
	assert.True(t, cfg.IsRetryable(errors.New("forge: unexpected status 429: slow down")))
	assert.True(t, cfg.IsRetryable(errors.New("forge: unexpected status 503: maintenance")))
	assert.True(t, cfg.IsRetryable(errors.New("read tcp: connection reset by peer")))
	assert.False(t, cfg.IsRetryable(errors.New("forge: authentication failed")))
	assert.False(t, cfg.IsRetryable(errors.New("forge: not found")))
}

func TestStoreConfigClassification(t *testing.T) {
	cfg := StoreConfig()
	assert.True(t, cfg.IsRetryable(errors.New("database is locked")))
	assert.True(t, cfg.IsRetryable(errors.New("SQLITE_BUSY: busy")))
	assert.False(t, cfg.IsRetryable(errors.New("no such table: services")))
}
