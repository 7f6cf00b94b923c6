package framework

import (
	"context"
	"time"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// RunFunc is the func form of Runnable.
type RunFunc func(context.Context) error

// Run implements Runnable.
func (f RunFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Task is the body of a scheduled task. It must return promptly:
// a task that blocks stalls every other task sharing the loop.
type Task func()

// Clock provides a monotonic millisecond tick, like a SysTick counter.
// The value wraps around at 2^32.
type Clock interface {
	Millis() uint32
}

// ClockFunc is the func form of Clock.
type ClockFunc func() uint32

// Millis implements Clock.
func (f ClockFunc) Millis() uint32 {
	return f()
}

// TimeSource provides wall time.
type TimeSource interface {
	Time() time.Time
}

// LoopAdder provides specific logic to add components to loop.
type LoopAdder interface {
	AddToLoop(*Loop)
}
