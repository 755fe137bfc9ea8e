package resilience

import (
	"math"
	"math/rand"
	"time"
)

// Backoff maps an attempt number to a wait duration. The zero value waits
// Base between every attempt (fixed backoff); a Multiplier > 1 grows the
// delay exponentially up to Max. Jitter randomizes each delay over
// [0, delay) to avoid synchronized retries.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// FixedBackoff waits the same duration between every attempt
func FixedBackoff(d time.Duration) Backoff {
	return Backoff{Base: d}
}

// ExponentialBackoff doubles the delay each attempt up to max, with jitter
func ExponentialBackoff(base, max time.Duration) Backoff {
	return Backoff{Base: base, Max: max, Multiplier: 2.0, Jitter: true}
}

// Delay returns the wait before the given retry attempt. Attempt numbering
// starts at 1 for the delay after the first failure.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.Base)
	if b.Multiplier > 1 {
		delay = float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1))
	}

	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	if b.Jitter && delay > 0 {
		delay = rand.Float64() * delay
	}

	return time.Duration(delay)
}
