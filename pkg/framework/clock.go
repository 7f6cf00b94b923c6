package framework

import (
	"sync/atomic"
	"time"
)

// SystemClock counts milliseconds since it was created.
type SystemClock struct {
	start time.Time
}

// NewSystemClock creates a SystemClock starting at zero.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Millis implements Clock.
func (c *SystemClock) Millis() uint32 {
	return uint32(time.Since(c.start) / time.Millisecond)
}

// ManualClock is a Clock advanced explicitly, used by simulations and tests.
type ManualClock struct {
	now uint32
}

// Millis implements Clock.
func (c *ManualClock) Millis() uint32 {
	return atomic.LoadUint32(&c.now)
}

// Advance moves the clock forward by ms milliseconds.
func (c *ManualClock) Advance(ms uint32) uint32 {
	return atomic.AddUint32(&c.now, ms)
}

// Set sets the current tick.
func (c *ManualClock) Set(ms uint32) {
	atomic.StoreUint32(&c.now, ms)
}
