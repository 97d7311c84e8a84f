// Package clock provides a testable abstraction over time operations.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock is the timing adapter consumed by the calibration executor.
// Delay must honor context cancellation so an abort unblocks retry waits
// promptly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Delay pauses for the given duration or until ctx is done,
	// whichever comes first. A canceled context returns its cause.
	Delay(ctx context.Context, d time.Duration) error
}

// Real implements Clock using the standard time package.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// Delay waits d, or returns early with the context's cause if ctx is done.
func (Real) Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Manual is a manually controlled clock for testing. Delay returns
// immediately and records the requested duration.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

// NewManual creates a Manual clock set to the given time.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the mocked current time.
func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set sets the clock to a specific time.
func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Delay records the delay, advances the clock by d and returns immediately.
// A done context still wins, matching Real's cancellation contract.
func (c *Manual) Delay(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	default:
	}
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// Delays returns all recorded delay durations.
func (c *Manual) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.delays))
	copy(out, c.delays)
	return out
}
