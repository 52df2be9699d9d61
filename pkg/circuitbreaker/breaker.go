// Package circuitbreaker implements the circuit breaker pattern.
//
// A breaker tracks consecutive failures against a destination and blocks
// further attempts once a threshold is reached. After a cooldown a single
// probe is let through; its outcome decides whether the circuit closes
// again or reopens.
package circuitbreaker

import (
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	Closed   State = iota // normal operation, requests allowed
	Open                  // failing, requests blocked
	HalfOpen              // cooldown elapsed, probing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker tuning. Zero values use defaults.
type Config struct {
	Threshold int           // consecutive failures before opening (default: 5)
	Cooldown  time.Duration // wait before half-open (default: 30s)
}

// Breaker guards a single destination.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	cfg         Config
}

// New creates a breaker with the given config.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg}
}

// Allow reports whether a request should be attempted now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && time.Since(b.lastFailure) > b.cfg.Cooldown {
		b.state = HalfOpen
	}
	return b.state != Open
}

// RecordSuccess closes the circuit and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = Closed
}

// RecordFailure counts a failure, opening the circuit at the threshold.
// A failure during a half-open probe reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.state = Open
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
