package stepper

// PulseTimer generates the step pulse train on one output channel.
// The output frequency is BaseClock / ((prescaler+1) * (period+1)).
type PulseTimer interface {
	// Configure programs the register values, which are one less than
	// the divider and the period.
	Configure(prescaler, period, compare uint32)
	ResetCounter()
	Start()
	Stop()
}

// CountingTimer counts pulses from a PulseTimer and raises an interrupt
// after reload+1 pulses, then restarts from zero.
type CountingTimer interface {
	SetReload(reload uint32)
	Reload() uint32
	Counter() uint32
	ResetCounter()
	Start()
	Stop()
}

// Pin is a digital output.
type Pin interface {
	Set(high bool)
}

// Hardware binds the peripherals used by one axis.
type Hardware struct {
	Pulse   PulseTimer
	Counter CountingTimer
	Dir     Pin
}
