package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mallku/internal/merrorkind"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), "store", "get", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoExhaustsRetriesAndWrapsTransient(t *testing.T) {
	cfg := Config{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxRetries: 3}
	calls := 0
	err := Do(context.Background(), cfg, "store", "insert", func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 4, calls) // initial + 3 retries
	require.True(t, merrorkind.IsKind(err, merrorkind.KindTransient))
}

func TestDoHonorsContextCancellation(t *testing.T) {
	cfg := Config{BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, MaxRetries: 5}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, cfg, "store", "query", func(ctx context.Context) error {
		calls++
		return errors.New("still failing")
	})
	require.Error(t, err)
	require.True(t, merrorkind.IsKind(err, merrorkind.KindTransient))
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: 20 * time.Millisecond, SuccessThreshold: 1})
	require.True(t, cb.Allow())
	cb.Record(errors.New("fail 1"))
	require.Equal(t, StateClosed, cb.State())
	cb.Record(errors.New("fail 2"))
	require.Equal(t, StateOpen, cb.State())
	require.False(t, cb.Allow())

	time.Sleep(25 * time.Millisecond)
	require.True(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())
	cb.Record(nil)
	require.Equal(t, StateClosed, cb.State())
}
