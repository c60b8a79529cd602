package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return errors.New("still failing")
	})

	require.Error(t, err)
	assert.Equal(t, "still failing", err.Error())
	assert.Equal(t, 2, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	base := errors.New("bad request")
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(base)
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, base)
	assert.True(t, IsPermanent(err))
}

func TestDo_RespectsRetryablePredicate(t *testing.T) {
	retryable := errors.New("retry me")
	cfg := fastConfig(4)
	cfg.Retryable = func(err error) bool { return errors.Is(err, retryable) }

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls == 1 {
			return retryable
		}
		return errors.New("fatal")
	})

	assert.EqualError(t, err, "fatal")
	assert.Equal(t, 2, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastConfig(3), func() error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("once")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestBackoffIsBounded(t *testing.T) {
	cfg := Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2}.withDefaults()

	assert.Equal(t, 10*time.Millisecond, cfg.backoff(1))
	assert.Equal(t, 20*time.Millisecond, cfg.backoff(2))
	assert.Equal(t, 40*time.Millisecond, cfg.backoff(3))
	assert.Equal(t, 40*time.Millisecond, cfg.backoff(8))
}
