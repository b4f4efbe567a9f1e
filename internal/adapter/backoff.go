package adapter

import (
	"math/rand"
	"time"
)

// Backoff implements the framework's capped exponential restart policy:
// 1s -> 30s, doubling on each failure, reset once the adapter has stayed
// healthy for healthyAfter. A small jitter avoids synchronized reconnect
// storms when several adapters fail together.
type Backoff struct {
	min, max    time.Duration
	healthyAfter time.Duration
	current     time.Duration
	lastFailure time.Time
	rng         *rand.Rand
}

// NewBackoff builds the standard 1s->30s/60s-reset policy the framework
// uses for every subprocess-backed adapter.
func NewBackoff() *Backoff {
	return &Backoff{
		min:          time.Second,
		max:          30 * time.Second,
		healthyAfter: 60 * time.Second,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay before the next restart attempt and advances the
// internal state. Call MarkHealthy once the adapter has been running
// without error for healthyAfter to reset the sequence.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.min
	} else {
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	}
	b.lastFailure = time.Now()
	jitter := time.Duration(float64(b.current) * (0.5 + b.rng.Float64()))
	if jitter > b.max {
		jitter = b.max
	}
	return jitter
}

// MarkHealthy resets the backoff sequence if the adapter has been alive for
// at least healthyAfter since its last failure.
func (b *Backoff) MarkHealthy(runningSince time.Time) {
	if b.current == 0 {
		return
	}
	if time.Since(runningSince) >= b.healthyAfter {
		b.current = 0
	}
}

// Reset forces the sequence back to its initial state, used when an adapter
// is explicitly restarted by the caller (e.g. Reconfigure).
func (b *Backoff) Reset() {
	b.current = 0
}
