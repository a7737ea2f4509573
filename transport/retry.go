package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff computes the delay before attempt k+1 as base × k.
// The policy is deliberately linear, not exponential: the delay grows
// with the attempt number instead of doubling.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.base
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// retry executes fn up to attempts times, sleeping the linear backoff
// delay between failures. The last attempt's error is returned with its
// classification intact, never swallowed. Errors wrapped with
// backoff.Permanent stop the loop immediately.
func retry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: base}, uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(fn, policy)
}
