package subscription

import (
	"math/rand"
	"sync"
	"time"
)

// Reconnection backoff defaults.
const (
	// DefaultInitialBackoff is the initial reconnection delay.
	DefaultInitialBackoff = 1 * time.Second

	// DefaultMaxBackoff is the maximum reconnection delay.
	DefaultMaxBackoff = 60 * time.Second

	// DefaultBackoffMultiplier is the factor by which backoff increases.
	DefaultBackoffMultiplier = 2.0

	// DefaultJitterFactor is the maximum jitter as a fraction of the
	// base delay.
	DefaultJitterFactor = 0.25
)

// BackoffConfig customizes reconnection backoff timing.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// backoff calculates exponential reconnection delays with jitter.
type backoff struct {
	mu sync.Mutex

	current    time.Duration
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	attempts   int

	rng *rand.Rand
}

func newBackoff(cfg BackoffConfig) *backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultInitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultBackoffMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = DefaultJitterFactor
	}

	return &backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next returns the next delay (with jitter) and advances the backoff.
func (b *backoff) next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	if b.jitter > 0 {
		delay += time.Duration(float64(delay) * b.jitter * b.rng.Float64())
	}

	b.attempts++
	advanced := time.Duration(float64(b.current) * b.multiplier)
	if advanced > b.max {
		advanced = b.max
	}
	b.current = advanced

	return delay
}

// reset restores the initial delay. Call after a successful connection.
func (b *backoff) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// attemptCount returns the attempts since the last reset.
func (b *backoff) attemptCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
