package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Strob0t/QuantForge/internal/domain"
)

// RetryPolicy describes how transient failures are retried: exponential
// backoff with jitter, bounded by MaxTries.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

// Retryable reports whether err belongs to a transient failure class.
// Validation failures, open circuits, and non-idempotent failures are
// never retried.
func Retryable(err error) bool {
	return errors.Is(err, domain.ErrTransient)
}

// Retry runs fn under the policy, retrying only transient failures. A
// non-transient error aborts immediately. The final error is returned
// unwrapped from the backoff machinery.
func (p RetryPolicy) Retry(ctx context.Context, fn func() error) error {
	op := func() (struct{}, error) {
		err := fn()
		if err != nil && !Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.Multiplier = p.Multiplier
	eb.MaxInterval = p.MaxInterval

	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(eb), backoff.WithMaxTries(p.MaxTries))
	return err
}
