package sim

import (
	"sync"
)

// PulseTimer simulates a PWM timer generating step pulses.
type PulseTimer struct {
	BaseClock uint64

	lock      sync.Mutex
	prescaler uint32
	period    uint32
	compare   uint32
	running   bool
	emitted   uint64
}

// NewPulseTimer creates a PulseTimer.
func NewPulseTimer(baseClock uint64) *PulseTimer {
	return &PulseTimer{BaseClock: baseClock}
}

// Configure implements stepper.PulseTimer.
func (t *PulseTimer) Configure(prescaler, period, compare uint32) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.prescaler, t.period, t.compare = prescaler, period, compare
}

// Registers returns the programmed register values.
func (t *PulseTimer) Registers() (prescaler, period, compare uint32) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.prescaler, t.period, t.compare
}

// ResetCounter implements stepper.PulseTimer.
func (t *PulseTimer) ResetCounter() {}

// Start implements stepper.PulseTimer.
func (t *PulseTimer) Start() {
	t.lock.Lock()
	t.running = true
	t.lock.Unlock()
}

// Stop implements stepper.PulseTimer.
func (t *PulseTimer) Stop() {
	t.lock.Lock()
	t.running = false
	t.lock.Unlock()
}

// Running tells if pulses are generated.
func (t *PulseTimer) Running() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.running
}

// Frequency returns the pulse rate in Hz, 0 if not running.
func (t *PulseTimer) Frequency() float64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.running {
		return 0
	}
	return float64(t.BaseClock) / (float64(t.prescaler) + 1) / (float64(t.period) + 1)
}

// Emitted returns the total number of pulses sent.
func (t *PulseTimer) Emitted() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.emitted
}

func (t *PulseTimer) addEmitted(n uint64) {
	t.lock.Lock()
	t.emitted += n
	t.lock.Unlock()
}

// Counter simulates a timer clocked by pulses of a PulseTimer.
type Counter struct {
	// OnInterrupt is called when the counter wraps after reload.
	OnInterrupt func()

	lock       sync.Mutex
	reload     uint32
	counter    uint32
	running    bool
	interrupts int
}

// SetReload implements stepper.CountingTimer.
func (c *Counter) SetReload(reload uint32) {
	c.lock.Lock()
	c.reload = reload
	c.lock.Unlock()
}

// Reload implements stepper.CountingTimer.
func (c *Counter) Reload() uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.reload
}

// Counter implements stepper.CountingTimer.
func (c *Counter) Counter() uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.counter
}

// ResetCounter implements stepper.CountingTimer.
func (c *Counter) ResetCounter() {
	c.lock.Lock()
	c.counter = 0
	c.lock.Unlock()
}

// Start implements stepper.CountingTimer.
func (c *Counter) Start() {
	c.lock.Lock()
	c.running = true
	c.lock.Unlock()
}

// Stop implements stepper.CountingTimer.
func (c *Counter) Stop() {
	c.lock.Lock()
	c.running = false
	c.lock.Unlock()
}

// Running tells if the counter is counting.
func (c *Counter) Running() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.running
}

// Interrupts returns the number of interrupts raised.
func (c *Counter) Interrupts() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.interrupts
}

// Count feeds pulses and returns the number consumed. Counting stops
// early when an interrupt handler stops the counter.
func (c *Counter) Count(pulses uint64) uint64 {
	var consumed uint64
	c.lock.Lock()
	for pulses > 0 && c.running {
		need := uint64(c.reload) + 1 - uint64(c.counter)
		if pulses < need {
			c.counter += uint32(pulses)
			consumed += pulses
			break
		}
		pulses -= need
		consumed += need
		c.counter = 0
		c.interrupts++
		fn := c.OnInterrupt
		c.lock.Unlock()
		if fn != nil {
			fn()
		}
		c.lock.Lock()
	}
	c.lock.Unlock()
	return consumed
}

// Pin simulates a digital output.
type Pin struct {
	lock    sync.Mutex
	high    bool
	changes int
}

// Set implements stepper.Pin.
func (p *Pin) Set(high bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.high != high {
		p.changes++
	}
	p.high = high
}

// High returns the output level.
func (p *Pin) High() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.high
}

// LED simulates an RGB indicator.
type LED struct {
	R, G, B Pin
}

// SetRGB implements dispatch.Indicator. A channel is on if non-zero.
func (l *LED) SetRGB(r, g, b byte) {
	l.R.Set(r != 0)
	l.G.Set(g != 0)
	l.B.Set(b != 0)
}

// RGB returns the channels which are on.
func (l *LED) RGB() (r, g, b bool) {
	return l.R.High(), l.G.High(), l.B.High()
}
