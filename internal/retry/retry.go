// Package retry provides the bounded retry policy applied to each poll
// attempt. Retry exhaustion is an ordinary returned error, not a control
// flow surprise, so callers can count and classify it.
package retry

import (
	"context"
	"time"
)

// Policy wraps an operation with bounded retries and a linearly growing
// inter-attempt delay.
//
// Retries are gated by Retryable: failures it rejects (rejected
// credentials, malformed responses) are returned immediately since
// repeating them cannot help. The policy never overshoots the caller's
// context deadline; each attempt runs under an even share of whatever
// budget remains, and the loop gives up early when the remaining budget
// cannot fit the next delay.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Backoff is the delay after the first failed attempt; attempt n
	// waits n × Backoff before the next try.
	Backoff time.Duration

	// Retryable decides whether a failure is worth another attempt.
	// A nil Retryable retries everything.
	Retryable func(error) bool
}

// Do runs op until it succeeds, exhausts the attempt budget, exhausts
// the context deadline, or fails non-transiently. The last error from op
// is returned on failure.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = p.runAttempt(ctx, op, attempts-attempt+1)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		delay := time.Duration(attempt) * p.Backoff
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= delay {
			// sleeping would eat the rest of the budget
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
	return err
}

// runAttempt executes op under an even share of the remaining deadline,
// so one slow attempt cannot consume the budget of those still to come.
func (p Policy) runAttempt(ctx context.Context, op func(context.Context) error, attemptsLeft int) error {
	deadline, ok := ctx.Deadline()
	if !ok || attemptsLeft <= 1 {
		return op(ctx)
	}
	share := time.Until(deadline) / time.Duration(attemptsLeft)
	attemptCtx, cancel := context.WithTimeout(ctx, share)
	defer cancel()
	return op(attemptCtx)
}
