// Package retry provides an explicit retry policy for pipeline operations.
// The engines themselves never retry; callers wrap engine invocations with a
// Policy that knows which error kinds are safe to replay. Retrying is always
// safe because a failed extraction or apply leaves watermarks and version
// history untouched.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// Predicate reports whether an error is transient and worth retrying.
type Predicate func(error) bool

// Policy defines how failed operations are replayed: attempt budget, backoff
// schedule, and the predicate that separates transient from fatal errors.
type Policy struct {
	maxAttempts     uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	retryable       Predicate
}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxAttempts bounds the total number of attempts, including the first.
func WithMaxAttempts(n uint64) Option {
	return func(p *Policy) { p.maxAttempts = n }
}

// WithInitialInterval sets the first backoff interval.
func WithInitialInterval(d time.Duration) Option {
	return func(p *Policy) { p.initialInterval = d }
}

// WithMaxInterval caps the backoff interval.
func WithMaxInterval(d time.Duration) Option {
	return func(p *Policy) { p.maxInterval = d }
}

// WithMaxElapsedTime bounds the total time spent across attempts.
func WithMaxElapsedTime(d time.Duration) Option {
	return func(p *Policy) { p.maxElapsedTime = d }
}

// NewPolicy creates a retry policy. The predicate decides retryability;
// errors it rejects are returned immediately without further attempts.
func NewPolicy(retryable Predicate, opts ...Option) *Policy {
	p := &Policy{
		maxAttempts:     5,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
		maxElapsedTime:  5 * time.Minute,
		retryable:       retryable,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do executes the operation, replaying it per the policy until it succeeds,
// the predicate rejects the error, the attempt budget is exhausted, or the
// context is canceled.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.initialInterval
	expBackoff.MaxInterval = p.maxInterval
	expBackoff.MaxElapsedTime = p.maxElapsedTime

	b := backoff.WithContext(backoff.WithMaxRetries(expBackoff, p.maxAttempts-1), ctx)

	operation := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.retryable != nil && !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, b); err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return perm.Err
		}
		return err
	}
	return nil
}
