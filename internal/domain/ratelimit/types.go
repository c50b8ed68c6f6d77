// Package ratelimit defines the per-peer request budget enforced by the
// security gate.
package ratelimit

import "time"

// Budget is a GCRA budget: Rate requests per Period on average, with up to
// Burst of them admitted back to back.
type Budget struct {
	Rate   int
	Burst  int
	Period time.Duration
}

// PerMinute returns a budget of rate requests per minute. A burst of 0
// means the whole minute's allowance may arrive at once.
func PerMinute(rate, burst int) Budget {
	return Budget{Rate: rate, Burst: burst, Period: time.Minute}
}

// Normalize fills unusable fields: Rate 1, Burst Rate, Period one minute.
func (b Budget) Normalize() Budget {
	if b.Rate <= 0 {
		b.Rate = 1
	}
	if b.Burst <= 0 {
		b.Burst = b.Rate
	}
	if b.Period <= 0 {
		b.Period = time.Minute
	}
	return b
}

// Interval is the spacing between requests at the sustained rate.
func (b Budget) Interval() time.Duration {
	n := b.Normalize()
	return n.Period / time.Duration(n.Rate)
}

// Tolerance is how far a key's theoretical arrival time may run ahead of
// the clock before requests are refused.
func (b Budget) Tolerance() time.Duration {
	return time.Duration(b.Normalize().Burst) * b.Interval()
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool

	// Remaining is how many more requests would be admitted right now.
	Remaining int

	// RetryAfter is set when Allowed is false.
	RetryAfter time.Duration
}

// PeerKey returns the limiter key for a client IP.
func PeerKey(ip string) string {
	return "peer:" + ip
}
