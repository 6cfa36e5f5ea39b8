package livechan

import "time"

// BackoffPolicy bounds the reconnect loop. The delay before attempt n is
// min(Base * 2^(n-1), Cap). MaxRetries of 0 retries forever.
type BackoffPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// Delay returns the wait before the given reconnect attempt (1-based).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		d = p.Cap
	}
	return d
}

// Exhausted returns true once the attempt counter has passed the retry budget.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return p.MaxRetries > 0 && attempt > p.MaxRetries
}
