package source

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds the configuration for exponential backoff.
type BackoffConfig struct {
	Initial    time.Duration // Initial backoff delay (default: 500ms)
	Max        time.Duration // Maximum backoff delay (default: 30s)
	Multiplier float64       // Multiplier for each attempt (default: 2)
	JitterPct  float64       // Jitter as a percentage of delay (default: 0.4 = ±20%)
}

// DefaultBackoffConfig returns sensible defaults for retrying the search
// backend.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2,
		JitterPct:  0.4, // ±20% jitter
	}
}

// Backoff calculates exponential backoff delays with jitter. The jitter
// sequence is deterministic for a given seed.
type Backoff struct {
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a Backoff calculator.
func NewBackoff(seed int64, cfg BackoffConfig) *Backoff {
	return &Backoff{
		config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Next returns the next backoff delay and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Calculate()
	b.attempts++
	return delay
}

// Calculate returns the current backoff delay without incrementing attempts.
func (b *Backoff) Calculate() time.Duration {
	delay := float64(b.config.Initial) * math.Pow(b.config.Multiplier, float64(b.attempts))

	if delay > float64(b.config.Max) {
		delay = float64(b.config.Max)
	}

	// ±(JitterPct/2) of the delay
	if b.config.JitterPct > 0 {
		jitterRange := delay * b.config.JitterPct
		jitter := jitterRange*b.rng.Float64() - jitterRange/2
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// Reset resets the attempt counter to zero.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Attempts returns the current attempt count.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Wait sleeps for the next delay or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
