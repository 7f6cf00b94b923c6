package framework

import (
	"context"
	"log"
	"time"

	"github.com/golang/glog"
)

// Loop is the main control loop. It repeatedly runs a Scheduler
// and keeps background Runnables (transport pumps, bridges) alive
// alongside.
type Loop struct {
	// Interval between scheduler passes. Defaults to 1ms.
	Interval  time.Duration
	Scheduler *Scheduler

	runners  []Runnable
	wakeUpCh chan struct{}
}

// NewLoop creates a Loop with a scheduler on the system clock.
func NewLoop() *Loop {
	return &Loop{
		Interval:  time.Millisecond,
		Scheduler: NewScheduler(NewSystemClock()),
		wakeUpCh:  make(chan struct{}, 1),
	}
}

// Add adds LoopAdders.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// AddTask registers a periodic task to the scheduler.
func (l *Loop) AddTask(name string, task Task, rate float64) Handle {
	return l.Scheduler.Register(name, task, rate, true)
}

// AddRunnable adds Runnable implementions.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.runners = append(l.runners, runnables...)
	return l
}

// Run implements Runnable. Background runners are started first and
// the loop exits when ctx is done or any runner fails.
func (l *Loop) Run(ctx context.Context) error {
	if l.wakeUpCh == nil {
		l.wakeUpCh = make(chan struct{}, 1)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runner := NewRunnerWith(ctx)
	runner.Go(l.runners...)
	failedCh := runner.FailedChan()

	interval := l.Interval
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := runner.Wait(); err != nil {
				return err
			}
			return ctx.Err()
		case <-failedCh:
			glog.Error("background runner failed, stopping loop")
			cancel()
			return runner.Wait()
		case <-ticker.C:
			l.Scheduler.Run()
		case <-l.wakeUpCh:
			l.Scheduler.Run()
		}
	}
}

// RunOrFail is intended to be used in main to simply run the loop.
func (l *Loop) RunOrFail(ctx context.Context) {
	if err := l.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalln(err)
	}
}

// TriggerNext schedules a scheduler pass immediately, without waiting
// for the next tick. It never blocks and it's safe from any goroutine.
func (l *Loop) TriggerNext() {
	select {
	case l.wakeUpCh <- struct{}{}:
	default:
	}
}
