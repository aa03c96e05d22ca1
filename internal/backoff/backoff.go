// Package backoff implements the exponential-backoff-with-jitter
// reconnection policy shared by internal/service and internal/endpoint
// (spec §4.2, §4.6), generalized from the teacher's per-channel
// voice-connection Reconnector into a transport-agnostic retry helper.
package backoff

import (
	"math/rand"
	"time"
)

// Defaults are a 1s initial delay, a 1.5 multiplier and a 30s cap, following
// the teacher's voice-connection Reconnector with the multiplier made
// configurable per spec §4.2's
// per-service override and a bounded-attempts default for Services (spec
// §4.2: "at most 5 attempts"). Endpoint Sessions configure MaxAttempts=0
// (unbounded) per spec §4.6.
const (
	DefaultInitial    = 1 * time.Second
	DefaultMultiplier = 1.5
	DefaultMax        = 30 * time.Second
	DefaultAttempts   = 5
)

// Policy computes successive backoff durations with jitter.
type Policy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	// MaxAttempts is the number of retries permitted before giving up.
	// Zero means unbounded.
	MaxAttempts int
}

// NewPolicy fills in zero fields with the package defaults.
func NewPolicy(initial time.Duration, multiplier float64, max time.Duration, maxAttempts int) Policy {
	if initial <= 0 {
		initial = DefaultInitial
	}
	if multiplier <= 1 {
		multiplier = DefaultMultiplier
	}
	if max <= 0 {
		max = DefaultMax
	}
	return Policy{Initial: initial, Multiplier: multiplier, Max: max, MaxAttempts: maxAttempts}
}

// Exhausted reports whether attempt (1-based) exceeds MaxAttempts. Always
// false when MaxAttempts is zero (unbounded).
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// Delay returns the backoff duration for the given 1-based attempt number,
// with up to 20% jitter applied to avoid synchronized reconnect storms
// across many services/sessions.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d > float64(p.Max) {
			d = float64(p.Max)
			break
		}
	}
	jitter := d * 0.2 * (rand.Float64()*2 - 1)
	result := time.Duration(d + jitter)
	if result < 0 {
		result = 0
	}
	return result
}
