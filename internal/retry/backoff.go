// Package retry provides the reconnect backoff policy used by network
// supervisors.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes increasing delays between consecutive reconnect
// attempts. It is stepwise rather than loop-driven: the supervisor calls
// Next after every failure and Reset once a connection has proven stable.
type Backoff struct {
	// InitialDelay is the delay after the first failure (default 1s).
	InitialDelay time.Duration
	// MaxDelay caps the delay (default 60s).
	MaxDelay time.Duration
	// Multiplier increases the delay each consecutive failure (default 2.0).
	Multiplier float64
	// Jitter adds ±25% randomisation to prevent thundering herd.
	Jitter bool

	failures int
}

// DefaultBackoff returns the policy used for IRC reconnects.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Next records a failure and returns how long to wait before the next
// attempt.
func (b *Backoff) Next() time.Duration {
	initial := b.InitialDelay
	if initial == 0 {
		initial = time.Second
	}
	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	maxDelay := b.MaxDelay
	if maxDelay == 0 {
		maxDelay = 60 * time.Second
	}

	delay := float64(initial) * math.Pow(multiplier, float64(b.failures))
	b.failures++
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	wait := time.Duration(delay)
	if b.Jitter {
		wait = addJitter(wait)
	}
	return wait
}

// Failures returns the number of consecutive failures recorded since the
// last Reset.
func (b *Backoff) Failures() int {
	return b.failures
}

// Reset clears the failure count so the next delay starts from
// InitialDelay again.
func (b *Backoff) Reset() {
	b.failures = 0
}

// addJitter adds ±25% randomisation to a duration.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	result := float64(d) + delta
	return time.Duration(math.Max(result, float64(time.Millisecond)))
}
