package flush

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how hard the writer tries a window before backing off.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first failed attempt
	// within one round. 0 means a single attempt per round.
	MaxRetries int

	// Backoff determines the delay between attempts of a round.
	// If nil, attempts are immediate.
	Backoff BackoffStrategy

	// Cooldown is how long the writer stays idle after a failed round
	// before trying the same window again.
	Cooldown time.Duration

	// OnRetry is called before each retry with the 0-indexed retry number.
	OnRetry func(attempt int, err error)
}

// BackoffStrategy determines delays between attempts
type BackoffStrategy interface {
	// Next returns the delay before retry `attempt` (0-indexed).
	// Returns (0, false) to end the round early.
	Next(attempt int) (delay time.Duration, shouldContinue bool)
}

// ConstantBackoff waits the same delay before every retry
type ConstantBackoff struct {
	Delay time.Duration
}

func (c ConstantBackoff) Next(_ int) (time.Duration, bool) {
	return c.Delay, true
}

// ExponentialBackoff grows the delay by Multiplier each attempt, capped at Max.
//
// The delay for attempt n is: min(Base * Multiplier^n * jitterFactor, Max)
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration

	// Multiplier defaults to 2.0 if zero
	Multiplier float64

	// Jitter of 0.1 means ±10% variance; 0 is deterministic
	Jitter float64
}

func (e ExponentialBackoff) Next(attempt int) (time.Duration, bool) {
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}

	delay := float64(e.Base) * math.Pow(multiplier, float64(attempt))

	if e.Jitter > 0 {
		//nolint:gosec // jitter doesn't need cryptographic randomness
		delay *= 1.0 + e.Jitter*(2*rand.Float64()-1)
	}

	if e.Max > 0 && time.Duration(delay) > e.Max {
		delay = float64(e.Max)
	}

	return time.Duration(delay), true
}

// DefaultRetryPolicy is used when the configuration leaves retry unset
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff:    ExponentialBackoff{Base: 100 * time.Millisecond, Max: 5 * time.Second, Jitter: 0.1},
		Cooldown:   10 * time.Second,
	}
}
