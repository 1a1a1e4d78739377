package taskqueue

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/avencia-dev/taskforge/pkg/config"
)

const (
	defaultInitialBackoff    = 5 * time.Second
	defaultMaxBackoff        = time.Hour
	defaultBackoffMultiplier = 2.0
	defaultJitterFraction    = 0.1
)

// BackoffCalculator computes retry delays:
//
//	delay = min(initial * multiplier^(attempts-1) + jitter, max)
//
// with jitter drawn uniformly from [0, jitterFraction * base). Jitter exists
// to desynchronize retry storms when many tasks fail at the same instant.
type BackoffCalculator struct {
	initial        time.Duration
	max            time.Duration
	multiplier     float64
	jitterFraction float64

	mtx sync.Mutex
	rng *rand.Rand
}

// NewBackoffCalculator builds a calculator from queue settings, falling back
// to sane defaults for zero values.
func NewBackoffCalculator(settings config.QueueSettings) *BackoffCalculator {
	initial := settings.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	max := settings.MaxBackoff
	if max <= 0 {
		max = defaultMaxBackoff
	}
	multiplier := settings.BackoffMultiplier
	if multiplier <= 1 {
		multiplier = defaultBackoffMultiplier
	}
	jitter := settings.JitterFraction
	if jitter < 0 {
		jitter = 0
	} else if jitter == 0 {
		jitter = defaultJitterFraction
	}
	return &BackoffCalculator{
		initial:        initial,
		max:            max,
		multiplier:     multiplier,
		jitterFraction: jitter,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Base returns the unjittered delay for the given attempt count, capped at
// the configured maximum. Attempts below 1 are treated as 1.
func (b *BackoffCalculator) Base(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	scaled := float64(b.initial) * math.Pow(b.multiplier, float64(attempts-1))
	if scaled >= float64(b.max) || math.IsInf(scaled, 1) {
		return b.max
	}
	return time.Duration(scaled)
}

// Delay returns the jittered delay for the given attempt count.
func (b *BackoffCalculator) Delay(attempts int) time.Duration {
	base := b.Base(attempts)
	window := time.Duration(float64(base) * b.jitterFraction)
	if window > 0 {
		b.mtx.Lock()
		base += time.Duration(b.rng.Int63n(int64(window)))
		b.mtx.Unlock()
	}
	if base > b.max {
		return b.max
	}
	return base
}
