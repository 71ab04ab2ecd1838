// Package testutil provides polling assertions for tests that observe
// asynchronous state: monitor reclaims, dispatcher deliveries, agent
// progress.
package testutil

import (
	"testing"
	"time"
)

type waitConfig struct {
	timeout  time.Duration
	interval time.Duration
}

// WaitOption adjusts how long and how often MustWaitFor polls.
type WaitOption func(*waitConfig)

// WithTimeout sets the maximum wait time (default: 10s).
func WithTimeout(d time.Duration) WaitOption {
	return func(c *waitConfig) {
		c.timeout = d
	}
}

// WithInterval sets the polling interval (default: 20ms).
func WithInterval(d time.Duration) WaitOption {
	return func(c *waitConfig) {
		c.interval = d
	}
}

// MustWaitFor polls condition until it returns true, failing the test if
// the timeout passes first. The condition is checked once immediately so
// already-settled state never waits out an interval.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()

	c := waitConfig{
		timeout:  10 * time.Second,
		interval: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&c)
	}

	if condition() {
		return
	}

	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.interval)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if condition() {
				return
			}
		case <-deadline.C:
			tb.Fatalf("condition not met within %v", c.timeout)
			return
		}
	}
}
