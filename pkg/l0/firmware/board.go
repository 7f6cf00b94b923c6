// Package firmware assembles the controller board: axes on simulated
// timers, the command dispatcher, the host link and local peripherals.
package firmware

import (
	"context"
	"fmt"
	"io"

	"github.com/golang/glog"

	fx "github.com/robotalks/stepctl/pkg/framework"
	"github.com/robotalks/stepctl/pkg/l0/comm"
	"github.com/robotalks/stepctl/pkg/l0/console"
	"github.com/robotalks/stepctl/pkg/l0/dispatch"
	"github.com/robotalks/stepctl/pkg/l0/key"
	"github.com/robotalks/stepctl/pkg/l0/stepper"
	"github.com/robotalks/stepctl/pkg/l0/uart"
	"github.com/robotalks/stepctl/pkg/sim"
)

// Self test timing.
const (
	SelfTestAngle  = 90
	SelfTestBudget = 2000
	SelfTestRate   = 100
)

// Board is the assembled controller.
type Board struct {
	Loop       *fx.Loop
	Engine     *sim.Engine
	Axes       []*stepper.Axis
	Dispatcher *dispatch.Dispatcher
	Link       *comm.Link
	Tx         *uart.Transmitter
	LED        *sim.LED
	KeyPin     *sim.Pin
	Key        *key.Detector
	SelfTest   *fx.Program
	Console    *console.Console
}

// NewBoard creates a Board talking to the host over port.
func NewBoard(cfg Config, port io.ReadWriter) *Board {
	b := &Board{
		Loop:   fx.NewLoop(),
		Engine: sim.NewEngine(cfg.Stepper.BaseClock),
		LED:    &sim.LED{},
		KeyPin: &sim.Pin{},
	}
	motors := make([]dispatch.Motor, cfg.Axes)
	for i := 0; i < cfg.Axes; i++ {
		name := fmt.Sprintf("step%d", i+1)
		ch := b.Engine.NewChannel(name)
		axis := stepper.NewAxis(name, cfg.Stepper, ch.Hardware())
		ch.Attach(axis)
		if cfg.Speed != 0 {
			axis.SetSpeed(cfg.Speed)
		}
		b.Axes = append(b.Axes, axis)
		motors[i] = axis
	}

	b.Tx = uart.NewTransmitter(port, cfg.TxDepth)
	b.Dispatcher = dispatch.New(cfg.Dispatch, b.Tx, motors...)
	b.Dispatcher.Indicator = b.LED
	b.Link = comm.NewLink(port, comm.NewCommandParser())
	b.Link.Handler = comm.HandleFrameFunc(func(ctx context.Context, f *comm.Frame) {
		b.Dispatcher.HandleFrame(ctx, f)
		b.Loop.TriggerNext()
	})
	b.Loop.Scheduler.ReportInterval = cfg.SchedReport

	clock := b.Loop.Scheduler.Clock
	b.SelfTest = b.newSelfTest(clock)
	b.Key = key.NewDetector("key1", key.InputFunc(b.KeyPin.High), clock, b.handleClick)

	b.Loop.Add(b.Engine, b.Dispatcher, b.Key)
	b.Loop.AddTask("selftest", b.SelfTest.Step, SelfTestRate)
	b.Loop.AddRunnable(
		closeOnCancel("link", port, b.Link),
		fx.NamedRun("tx", fx.RunFunc(b.Tx.Run)),
	)
	// disconnected until the first heartbeat.
	b.LED.SetRGB(0xff, 0, 0)
	return b
}

// AttachConsole adds the debug console on rw, driving the first axis.
func (b *Board) AttachConsole(rw io.ReadWriter) {
	b.Console = console.New(b.Axes[0], rw)
	rx := uart.NewReceiver(rw, b.Console.HandleByte, b.Console.HandleIdle)
	b.Loop.Add(b.Console)
	b.Loop.AddRunnable(closeOnCancel("console", rw, rx))
}

// closeOnCancel closes the port of r when ctx is done, which unblocks
// a pending Read. Ports not closable run as is.
func closeOnCancel(name string, port io.ReadWriter, r fx.Runnable) fx.Runnable {
	closer, ok := port.(io.Closer)
	if !ok {
		return fx.NamedRun(name, r)
	}
	return fx.NamedRun(name, fx.RunFunc(func(ctx context.Context) error {
		return fx.RunWithContextCloser(ctx, closer, func() error {
			return r.Run(ctx)
		})
	}))
}

func (b *Board) handleClick(kind byte) {
	switch kind {
	case key.Long:
		if !b.SelfTest.Status().Running {
			glog.Info("[KEY] self test started")
			b.SelfTest.Start()
		}
	case key.Double:
		if b.SelfTest.Status().Running {
			b.SelfTest.Break()
		}
	}
	b.Dispatcher.SendEvent(kind, comm.EventOpSet)
}

// newSelfTest moves every axis forth and back to where it was.
func (b *Board) newSelfTest(clock fx.Clock) *fx.Program {
	var origins []float64
	moveTo := func(offset float64) fx.Task {
		return func() {
			for i, axis := range b.Axes {
				if i >= len(origins) || axis.Rotating() {
					continue
				}
				if target := origins[i] + offset; axis.Angle() != target {
					axis.RotateAbs(target)
				}
			}
		}
	}
	return &fx.Program{
		Clock: clock,
		Steps: []fx.ProgramStep{
			{Name: "origin", Fn: func() {
				origins = origins[:0]
				for _, axis := range b.Axes {
					origins = append(origins, axis.Angle())
				}
			}},
			{Name: "forward", Fn: moveTo(SelfTestAngle), Budget: SelfTestBudget},
			{Name: "back", Fn: moveTo(0), Budget: SelfTestBudget},
		},
		OnBreak: b.StopAll,
		OnDone:  func() { glog.Info("[KEY] self test done") },
	}
}

// StopAll stops every axis.
func (b *Board) StopAll() {
	for _, axis := range b.Axes {
		axis.Stop()
	}
}

// Run implements Runnable.
func (b *Board) Run(ctx context.Context) error {
	glog.Infof("[SCHED] board started with %d axes", len(b.Axes))
	return b.Loop.Run(ctx)
}
