package sim

import (
	"math"
	"sync"
	"time"

	fx "github.com/robotalks/stepctl/pkg/framework"
	"github.com/robotalks/stepctl/pkg/l0/stepper"
)

// EngineRate is the rate of the simulation task in Hz.
const EngineRate = 1000

// Channel is the simulated hardware of one axis.
type Channel struct {
	Name    string
	Pulse   *PulseTimer
	Counter *Counter
	Dir     *Pin

	carry float64
}

// Hardware returns the peripherals for stepper.NewAxis.
func (c *Channel) Hardware() stepper.Hardware {
	return stepper.Hardware{Pulse: c.Pulse, Counter: c.Counter, Dir: c.Dir}
}

// Attach routes counting interrupts to the axis.
func (c *Channel) Attach(axis *stepper.Axis) {
	c.Counter.OnInterrupt = axis.HandleCountingInterrupt
}

// Feed sends n pulses if the pulse timer is running.
func (c *Channel) Feed(n uint64) uint64 {
	if n == 0 || !c.Pulse.Running() {
		return 0
	}
	consumed := c.Counter.Count(n)
	c.Pulse.addEmitted(consumed)
	return consumed
}

func (c *Channel) advance(d time.Duration) {
	freq := c.Pulse.Frequency()
	if freq <= 0 {
		c.carry = 0
		return
	}
	pulses := freq*d.Seconds() + c.carry
	n := math.Floor(pulses)
	c.carry = pulses - n
	c.Feed(uint64(n))
}

// Engine advances the simulated timers with time.
type Engine struct {
	BaseClock uint64

	lock     sync.Mutex
	channels []*Channel
	last     time.Time
}

// NewEngine creates an Engine.
func NewEngine(baseClock uint64) *Engine {
	return &Engine{BaseClock: baseClock}
}

// NewChannel creates the hardware for an axis.
func (e *Engine) NewChannel(name string) *Channel {
	c := &Channel{
		Name:    name,
		Pulse:   NewPulseTimer(e.BaseClock),
		Counter: &Counter{},
		Dir:     &Pin{},
	}
	e.lock.Lock()
	e.channels = append(e.channels, c)
	e.lock.Unlock()
	return c
}

// Channels returns all channels.
func (e *Engine) Channels() []*Channel {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]*Channel(nil), e.channels...)
}

// Advance moves simulated time forward.
func (e *Engine) Advance(d time.Duration) {
	for _, c := range e.Channels() {
		c.advance(d)
	}
}

// Tick advances by the wall time elapsed since the last Tick.
func (e *Engine) Tick() {
	now := time.Now()
	e.lock.Lock()
	last := e.last
	e.last = now
	e.lock.Unlock()
	if !last.IsZero() {
		e.Advance(now.Sub(last))
	}
}

// AddToLoop implements LoopAdder.
func (e *Engine) AddToLoop(l *fx.Loop) {
	l.AddTask("sim", e.Tick, EngineRate)
}
