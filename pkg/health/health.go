// Package health implements bounded-timeout liveness probes for monitored
// instances. A probe is side-effect-free, maps any failure (including
// timeout) to DOWN, and never blocks the caller beyond its timeout.
package health

import (
	"context"
	"time"
)

// Verdict is the outcome of one probe
type Verdict string

const (
	// VerdictUnknown means the instance has not been probed yet
	VerdictUnknown Verdict = "UNKNOWN"
	// VerdictUp means the instance answered its liveness check
	VerdictUp Verdict = "UP"
	// VerdictDown means the check failed, timed out or was unreachable
	VerdictDown Verdict = "DOWN"
)

// Result carries one probe outcome with its observed latency
type Result struct {
	Verdict   Verdict       `json:"verdict"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Detail    string        `json:"detail,omitempty"`
}

// Prober checks the liveness of a single instance. Implementations must
// honor context cancellation and return within their configured timeout.
type Prober interface {
	Probe(ctx context.Context) Result
	Kind() string
}

// DefaultTimeout bounds a probe when no explicit timeout is configured
const DefaultTimeout = 5 * time.Second

// run wraps a check with timing and the probe timeout
func run(ctx context.Context, timeout time.Duration, check func(ctx context.Context) (Verdict, string)) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	verdict, detail := check(ctx)

	return Result{
		Verdict:   verdict,
		Latency:   time.Since(start),
		CheckedAt: start,
		Detail:    detail,
	}
}
