package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/harvest/internal/domain"
)

func transientErr() error {
	return domain.NewProviderError("test", "AAPL", domain.ErrKindTransientNetwork, errors.New("connection reset"))
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 3}.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 3, Delay: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return transientErr()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 3, Delay: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		return transientErr()
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, domain.ErrKindTransientNetwork, domain.ClassifyError(err))
}

func TestDoDoesNotRetryNotFound(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 5, Delay: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		return domain.NewProviderError("test", "NOPE", domain.ErrKindNotFound, errors.New("unknown ticker"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoDoesNotRetryRateLimited(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 5, Delay: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		return domain.NewRateLimitError("test", "AAPL", time.Minute, errors.New("throttled"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoZeroValueRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func() error {
		calls++
		return transientErr()
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Policy{MaxAttempts: 10, Delay: time.Hour}.Do(ctx, func() error {
		calls++
		cancel()
		return transientErr()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoCustomRetryable(t *testing.T) {
	sentinel := errors.New("retry me")
	calls := 0
	err := Policy{
		MaxAttempts: 2,
		Delay:       time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, sentinel) },
	}.Do(context.Background(), func() error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, calls)
}
