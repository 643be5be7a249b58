package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/bulkmutate/internal/remote"
)

// Decision is the backoff controller's verdict on one retryable signal.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason string
}

// Backoff turns rate-limit and re-authentication signals into waits. It
// counts retries since the last Reset and refuses once MaxRetries is
// exceeded so a row or block can never loop forever.
type Backoff struct {
	RateLimitDelay     time.Duration
	AuthChallengeDelay time.Duration
	MaxRetries         int

	attempts int
}

// Next classifies err. Only rate limits and auth challenges are retried;
// an advertised retry-after wins over the configured default.
func (b *Backoff) Next(err error) Decision {
	var delay time.Duration

	switch {
	case errors.Is(err, remote.ErrRateLimited):
		delay = b.RateLimitDelay

		if re, ok := remote.AsError(err); ok && re.RetryAfter > 0 {
			delay = re.RetryAfter
		}
	case errors.Is(err, remote.ErrAuthChallenge):
		delay = b.AuthChallengeDelay
	default:
		return Decision{Reason: "not retryable"}
	}

	b.attempts++
	if b.attempts > b.MaxRetries {
		return Decision{Reason: fmt.Sprintf("retry limit of %d exceeded", b.MaxRetries)}
	}

	return Decision{Retry: true, Delay: delay, Reason: fmt.Sprintf("attempt %d of %d", b.attempts, b.MaxRetries)}
}

// Attempts returns the retries granted since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset clears the retry count.
func (b *Backoff) Reset() {
	b.attempts = 0
}
