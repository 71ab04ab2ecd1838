// Package circuitbreaker implements the circuit breaker pattern.
//
// A breaker tracks consecutive delivery failures to one destination and
// temporarily blocks attempts once a threshold is crossed, so a dead
// endpoint does not soak up retries meant for healthy ones.
//
// States:
//   - Closed: normal operation, attempts allowed
//   - Open: too many failures, attempts blocked until the cooldown passes
//   - HalfOpen: cooldown elapsed, a probe attempt is allowed through
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
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

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int           // consecutive failures before the circuit opens (default: 5)
	Cooldown  time.Duration // how long the circuit stays open (default: 30s)
}

// Breaker guards a single destination.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	reopenAt  time.Time // when an open breaker allows a half-open probe
	threshold int
	cooldown  time.Duration
}

// New creates a new circuit breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		state:     Closed,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
	}
}

// Allow reports whether an attempt should be made now. An open breaker
// whose cooldown has elapsed moves to half-open and admits one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if time.Now().After(b.reopenAt) {
			b.state = HalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = Closed
}

// RecordFailure counts a failed attempt. A failure during a half-open
// probe reopens the circuit immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	if b.state == HalfOpen || b.failures >= b.threshold {
		b.state = Open
		b.reopenAt = time.Now().Add(b.cooldown)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
