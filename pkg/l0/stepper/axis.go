package stepper

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/golang/glog"
)

var (
	// ErrBusy indicates the axis is rotating.
	ErrBusy = errors.New("axis is rotating")
	// ErrZeroSpeed indicates the requested speed is zero.
	ErrZeroSpeed = errors.New("speed is zero")
	// ErrTooFewPulses indicates the rotation is too small to perform.
	ErrTooFewPulses = errors.New("too few pulses")
)

// Direction values.
const (
	DirCCW byte = 0
	DirCW  byte = 1
)

// AxisError is an error with the axis name.
type AxisError struct {
	Axis string
	Err  error
}

// Error implements error.
func (e *AxisError) Error() string {
	return fmt.Sprintf("%s: %v", e.Axis, e.Err)
}

// Unwrap returns the cause.
func (e *AxisError) Unwrap() error {
	return e.Err
}

// Status is a snapshot of an axis.
type Status struct {
	Speed    float64
	Angle    float64
	Target   float64
	Rotating bool
	Dir      byte
}

// Axis controls one stepper motor through a pulse timer generating
// steps and a counting timer interrupting when enough pulses are sent.
type Axis struct {
	name string
	cfg  Config
	hw   Hardware

	lock     sync.Mutex
	speed    float64
	angle    float64
	target   float64
	rotating bool
	dir      byte
	// full-range segments left in the pulse chain, and the final segment.
	segments  uint32
	remainder uint32
}

// NewAxis creates an Axis.
func NewAxis(name string, cfg Config, hw Hardware) *Axis {
	a := &Axis{name: name, cfg: cfg, hw: hw}
	hw.Pulse.ResetCounter()
	hw.Counter.ResetCounter()
	return a
}

// Name implements framework.Named.
func (a *Axis) Name() string {
	return a.name
}

// Config returns the axis config.
func (a *Axis) Config() Config {
	return a.cfg
}

func (a *Axis) fail(err error, format string, args ...interface{}) error {
	glog.Errorf("[STEP] %s: "+format, append([]interface{}{a.name}, args...)...)
	return &AxisError{Axis: a.name, Err: err}
}

// Timing computes the pulse timer register values for a speed.
// The prescaler and period returned are dividers, not register values.
func (c Config) Timing(speed float64) (pps float64, prescaler, period uint32) {
	pps = math.Abs(speed) / 360 * float64(c.PulsesPerRevolution)
	if pps > c.MaxFrequency {
		pps = c.MaxFrequency
	}
	psc := uint64(float64(c.BaseClock) / pps / 2)
	prd := uint64(2)
	for psc > MaxPrescaler && prd < MaxPeriod {
		psc /= 2
		prd *= 2
	}
	if psc > MaxPrescaler {
		psc = MaxPrescaler
	}
	if psc < 1 {
		psc = 1
	}
	return pps, uint32(psc), uint32(prd)
}

// SetSpeed sets the speed in deg/s. It takes effect immediately if the
// axis is rotating.
func (a *Axis) SetSpeed(speed float64) error {
	if math.Abs(speed) < MinSpeed || math.IsNaN(speed) {
		return a.fail(ErrZeroSpeed, "set speed: speed is 0")
	}
	pps, prescaler, period := a.cfg.Timing(speed)
	glog.V(2).Infof("[STEP] %s: set speed %f, pps %f, prescaler %d, period %d",
		a.name, speed, pps, prescaler, period)

	a.lock.Lock()
	defer a.lock.Unlock()
	a.hw.Pulse.Configure(prescaler-1, period-1, period/2)
	a.hw.Pulse.ResetCounter()
	a.speed = speed
	return nil
}

// Rotate starts a rotation relative to the current angle. Positive is
// clockwise.
func (a *Axis) Rotate(delta float64) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.rotate(delta)
}

// RotateAbs starts a rotation to an absolute angle.
func (a *Axis) RotateAbs(target float64) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.rotating {
		return a.fail(ErrBusy, "rotate abs: axis is rotating")
	}
	return a.rotate(target - a.angle)
}

func (a *Axis) pulsesOf(degrees float64) uint64 {
	raw := degrees * float64(a.cfg.PulsesPerRevolution) / 360
	if a.cfg.RoundPulses {
		raw = math.Round(raw)
	}
	if raw >= math.MaxUint32 || math.IsNaN(raw) {
		return math.MaxUint32
	}
	return uint64(raw)
}

func (a *Axis) rotate(delta float64) error {
	if a.rotating {
		return a.fail(ErrBusy, "rotate: axis is rotating")
	}
	pulses := a.pulsesOf(math.Abs(delta))
	if pulses < uint64(a.cfg.MinPulses) {
		return a.fail(ErrTooFewPulses, "rotate: %f deg is %d pulses", delta, pulses)
	}

	dir := DirCCW
	if delta > 0 {
		dir = DirCW
	}
	a.dir = dir
	a.hw.Dir.Set((dir == DirCW) != a.cfg.DirReversed)

	travel := a.cfg.DegreesOf(pulses)
	if dir == DirCW {
		a.target = a.angle + travel
	} else {
		a.target = a.angle - travel
	}

	span := uint64(a.cfg.MaxCount) + 1
	reload := uint32(pulses - 1)
	a.segments, a.remainder = 0, 0
	if pulses > span {
		a.segments = uint32(pulses / span)
		a.remainder = uint32(pulses % span)
		reload = a.cfg.MaxCount
	}
	glog.V(2).Infof("[STEP] %s: rotate %f, pulses %d, dir %d, target %f, segments %d, remainder %d",
		a.name, delta, pulses, dir, a.target, a.segments, a.remainder)

	a.hw.Pulse.ResetCounter()
	a.hw.Counter.ResetCounter()
	a.hw.Counter.SetReload(reload)
	a.rotating = true
	a.hw.Counter.Start()
	a.hw.Pulse.Start()
	return nil
}

// SetAngle overwrites the current angle without moving.
func (a *Axis) SetAngle(angle float64) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.angle = angle
}

// Stop stops the rotation immediately and keeps the estimated angle.
func (a *Axis) Stop() {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.hw.Pulse.Stop()
	a.hw.Counter.Stop()
	a.angle = a.estimate()
	a.hw.Counter.ResetCounter()
	if a.rotating {
		a.rotating = false
		a.segments, a.remainder = 0, 0
		glog.V(2).Infof("[STEP] %s: stopped at %f", a.name, a.angle)
	}
}

// Angle returns the current angle. While rotating, it's interpolated
// from the counting timer within the current segment.
func (a *Axis) Angle() float64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.estimate()
}

func (a *Axis) estimate() float64 {
	if !a.rotating {
		return a.angle
	}
	reload := a.hw.Counter.Reload()
	if reload == 0 {
		return a.angle
	}
	progress := float64(a.hw.Counter.Counter()) / float64(reload)
	return a.angle + (a.target-a.angle)*progress
}

// Rotating tells if the axis is rotating.
func (a *Axis) Rotating() bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.rotating
}

// Status returns a snapshot.
func (a *Axis) Status() Status {
	a.lock.Lock()
	defer a.lock.Unlock()
	return Status{
		Speed:    a.speed,
		Angle:    a.estimate(),
		Target:   a.target,
		Rotating: a.rotating,
		Dir:      a.dir,
	}
}

// HandleCountingInterrupt is called when the counting timer reaches
// its reload value.
func (a *Axis) HandleCountingInterrupt() {
	a.lock.Lock()
	defer a.lock.Unlock()
	if !a.rotating {
		return
	}
	if a.segments == 0 {
		a.finish()
		return
	}
	a.segments--
	if glog.V(4) {
		glog.Infof("[STEP] %s: segments left %d", a.name, a.segments)
	}
	if a.segments == 0 {
		if a.remainder == 0 {
			a.finish()
			return
		}
		a.hw.Counter.SetReload(a.remainder - 1)
	}
}

func (a *Axis) finish() {
	a.hw.Pulse.Stop()
	a.hw.Counter.Stop()
	a.rotating = false
	a.angle = a.target
	glog.V(2).Infof("[STEP] %s: stopped at target %f", a.name, a.angle)
}
