package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearBackOffDelays(t *testing.T) {
	policy := &linearBackOff{base: 100 * time.Millisecond}

	// The delay before attempt k+1 is base × k
	assert.Equal(t, 100*time.Millisecond, policy.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, policy.NextBackOff())
	assert.Equal(t, 300*time.Millisecond, policy.NextBackOff())

	policy.Reset()
	assert.Equal(t, 100*time.Millisecond, policy.NextBackOff())
}

func TestRetryExactAttemptCountOnPersistentFailure(t *testing.T) {
	attempts := 0
	testErr := errors.New("persistent error")

	err := retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		return testErr
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, testErr)
}

func TestRetryStopsOnFirstSuccess(t *testing.T) {
	attempts := 0
	err := retry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("temporary")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryLinearDelayElapsed(t *testing.T) {
	base := 20 * time.Millisecond
	start := time.Now()

	_ = retry(context.Background(), 3, base, func() error {
		return errors.New("always fails")
	})

	// Delays of base×1 and base×2 must both have elapsed
	assert.GreaterOrEqual(t, time.Since(start), 3*base)
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	attempts := 0
	permanentErr := errors.New("do not retry")

	err := retry(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		return backoff.Permanent(permanentErr)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, permanentErr)
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := retry(ctx, 10, 50*time.Millisecond, func() error {
		attempts++
		return errors.New("error")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, attempts, 10)
}
