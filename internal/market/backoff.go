package market

import "time"

// Backoff is an exponential reconnect policy without jitter.
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

// DefaultBackoff returns 1s doubling over five attempts.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, MaxAttempts: 5}
}

// Next returns the wait before attempt (1-based): Base * 2^(attempt-1).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	return base << (attempt - 1)
}

// Exhausted reports whether attempt is past the cap.
func (b Backoff) Exhausted(attempt int) bool {
	max := b.MaxAttempts
	if max <= 0 {
		max = 5
	}
	return attempt > max
}
