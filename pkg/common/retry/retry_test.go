package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastPolicy(retryable Predicate, attempts uint64) *Policy {
	return NewPolicy(retryable,
		WithMaxAttempts(attempts),
		WithInitialInterval(time.Millisecond),
		WithMaxInterval(2*time.Millisecond),
		WithMaxElapsedTime(time.Second),
	)
}

// TestDoRetriesTransientErrors verifies a transient failure is replayed
// until the operation succeeds.
func TestDoRetriesTransientErrors(t *testing.T) {
	policy := fastPolicy(func(error) bool { return true }, 5)

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

// TestDoStopsOnFatalError verifies the predicate short-circuits retries and
// the original error surfaces unchanged.
func TestDoStopsOnFatalError(t *testing.T) {
	fatal := errors.New("corrupted")
	policy := fastPolicy(func(err error) bool { return !errors.Is(err, fatal) }, 5)

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

// TestDoExhaustsAttemptBudget verifies the attempt cap includes the first
// attempt.
func TestDoExhaustsAttemptBudget(t *testing.T) {
	policy := fastPolicy(func(error) bool { return true }, 3)

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

// TestDoHonorsContextCancellation verifies cancellation stops the backoff
// loop.
func TestDoHonorsContextCancellation(t *testing.T) {
	policy := NewPolicy(func(error) bool { return true },
		WithMaxAttempts(100),
		WithInitialInterval(50*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := policy.Do(ctx, func(ctx context.Context) error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}
