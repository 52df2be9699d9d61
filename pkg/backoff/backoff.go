// Package backoff provides retry delay calculation.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Schedule is a fixed sequence of base delays with optional uniform jitter.
// Attempt 1 waits Steps[0], attempt 2 waits Steps[1], and so on; attempts
// past the end of Steps reuse the last step.
type Schedule struct {
	Steps  []time.Duration
	Jitter time.Duration // upper bound (exclusive) of added random jitter
}

// Delay returns the wait before the given retry attempt (1-based).
// Attempts < 1 return zero.
func (s Schedule) Delay(attempt int) time.Duration {
	if attempt < 1 || len(s.Steps) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(s.Steps) {
		idx = len(s.Steps) - 1
	}
	d := s.Steps[idx]
	if s.Jitter > 0 {
		d += rand.N(s.Jitter)
	}
	return d
}

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}
	d := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if d > float64(maxBackoff) {
		d = float64(maxBackoff)
	}
	return time.Duration(d)
}
