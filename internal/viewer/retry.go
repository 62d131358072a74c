// Package viewer implements the consumer side of the RPC channel: capability
// handshake, receive transport setup, producer discovery, and idempotent
// attach with bounded retry.
package viewer

import "time"

// RetryPolicy bounds attach attempts. Backoff returns the pause after the
// given 1-based failed attempt; no pause follows the final attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// LinearBackoff grows the pause by step per failed attempt.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// DefaultRetryPolicy matches the documented attach behaviour: five attempts
// with linearly growing pauses.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff:     LinearBackoff(250 * time.Millisecond),
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = DefaultRetryPolicy().Backoff
	}
	return p
}
