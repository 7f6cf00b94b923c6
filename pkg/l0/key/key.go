// Package key detects short, long and double clicks on a push button.
package key

import (
	"github.com/golang/glog"

	fx "github.com/robotalks/stepctl/pkg/framework"
	"github.com/robotalks/stepctl/pkg/l0/comm"
)

// Click timing in milliseconds.
const (
	ShortMinMillis = 10
	ShortMaxMillis = 300
	LongMillis     = 800
	// PollRate is the rate of the polling task in Hz.
	PollRate = 1000
)

// Click kinds, using the event codes reported to the host.
const (
	Short  = comm.EventKeyShort
	Long   = comm.EventKeyLong
	Double = comm.EventKeyDouble
)

// Input reads the key level.
type Input interface {
	Pressed() bool
}

// InputFunc is the func form of Input.
type InputFunc func() bool

// Pressed implements Input.
func (f InputFunc) Pressed() bool {
	return f()
}

type state int

const (
	released state = iota
	pressed
	// waiting for a second click after a short one.
	clicked
	// held long enough, waiting for release.
	held
)

// Detector polls an Input and reports clicks.
type Detector struct {
	Name    string
	Input   Input
	Clock   fx.Clock
	OnClick func(kind byte)

	state state
	since uint32
	// the second press of a double click.
	second bool
}

// NewDetector creates a Detector.
func NewDetector(name string, input Input, clock fx.Clock, onClick func(byte)) *Detector {
	return &Detector{Name: name, Input: input, Clock: clock, OnClick: onClick}
}

// Poll samples the key once. It's expected to run at PollRate.
func (d *Detector) Poll() {
	now := d.Clock.Millis()
	down := d.Input.Pressed()
	elapsed := now - d.since
	switch d.state {
	case released:
		if down {
			d.state, d.since, d.second = pressed, now, false
		}
	case pressed:
		switch {
		case down && elapsed >= LongMillis:
			d.state = held
			if d.second {
				d.emit(Short)
			}
			d.emit(Long)
		case down:
		case elapsed >= ShortMinMillis && elapsed <= ShortMaxMillis && d.second:
			d.state = released
			d.emit(Double)
		case elapsed >= ShortMinMillis && elapsed <= ShortMaxMillis:
			d.state, d.since = clicked, now
		default:
			// bounce or a press between short and long
			d.state = released
			if d.second {
				d.emit(Short)
			}
		}
	case clicked:
		switch {
		case down:
			d.state, d.since, d.second = pressed, now, true
		case elapsed > ShortMaxMillis:
			d.state = released
			d.emit(Short)
		}
	case held:
		if !down {
			d.state = released
		}
	}
}

func (d *Detector) emit(kind byte) {
	glog.V(2).Infof("[KEY] %s: click %d", d.Name, kind)
	if d.OnClick != nil {
		d.OnClick(kind)
	}
}

// AddToLoop implements LoopAdder.
func (d *Detector) AddToLoop(l *fx.Loop) {
	l.AddTask("key:"+d.Name, d.Poll, PollRate)
}
