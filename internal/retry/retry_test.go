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
var errPermanent = errors.New("permanent")

// retryTransient is the classifier used by most tests: only
// errTransient is worth another attempt.
func retryTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func TestPolicy_SuccessFirstTry(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, Retryable: retryTransient}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_RetriesTransientUpToCap(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, Retryable: retryTransient}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls, "must attempt exactly MaxAttempts times, no more")
}

func TestPolicy_SuccessStopsRetrying(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 5, Retryable: retryTransient}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_NeverRetriesPermanentFailures(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 5, Retryable: retryTransient}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errPermanent
	})

	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls, "permanent failures must fail immediately")
}

func TestPolicy_NilRetryableRetriesEverything(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 2}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errPermanent
	})

	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	p := Policy{}

	_ = p.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	assert.Equal(t, 1, calls)
}

// TestPolicy_GivesUpWhenDelayExceedsBudget verifies the policy returns
// the last error instead of sleeping past the caller's deadline.
func TestPolicy_GivesUpWhenDelayExceedsBudget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	p := Policy{MaxAttempts: 3, Backoff: time.Second, Retryable: retryTransient}

	start := time.Now()
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return errTransient
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
	assert.Less(t, elapsed, 500*time.Millisecond, "must not sleep out the full backoff")
}

func TestPolicy_LinearBackoff(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, Backoff: 10 * time.Millisecond, Retryable: retryTransient}

	start := time.Now()
	_ = p.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	elapsed := time.Since(start)

	assert.Equal(t, 3, calls)
	// delays: 1×10ms after the first attempt, 2×10ms after the second
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

// TestPolicy_SplitsRemainingBudget verifies each attempt runs under an
// even share of the remaining deadline rather than consuming it all.
func TestPolicy_SplitsRemainingBudget(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	parentDeadline, _ := parent.Deadline()

	var firstDeadline time.Time
	p := Policy{MaxAttempts: 3, Retryable: retryTransient}

	_ = p.Do(parent, func(ctx context.Context) error {
		if firstDeadline.IsZero() {
			d, ok := ctx.Deadline()
			require.True(t, ok)
			firstDeadline = d
		}
		return errTransient
	})

	assert.True(t, firstDeadline.Before(parentDeadline),
		"first attempt must get a fraction of the budget, not all of it")
}

func TestPolicy_CancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	p := Policy{MaxAttempts: 5, Backoff: 50 * time.Millisecond, Retryable: retryTransient}

	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}
