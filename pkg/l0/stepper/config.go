package stepper

// Motor and timer defaults.
const (
	// BaseStepsPerRevolution is the number of full steps per revolution.
	BaseStepsPerRevolution = 200
	// Microsteps is the driver subdivision.
	Microsteps = 16
	// PulsesPerRevolution is the number of pulses for one revolution.
	PulsesPerRevolution = BaseStepsPerRevolution * Microsteps
	// BaseClock is the timer input clock in Hz.
	BaseClock = 240000000
	// MaxFrequency is the pulse rate limit in Hz to avoid losing steps.
	MaxFrequency = 20000
	// MaxCount is the largest value of the counting timer.
	MaxCount = 0xFFFF
	// MinPulses is the smallest rotation accepted, in pulses.
	MinPulses = 2
	// MaxPrescaler is the largest prescaler divider of the pulse timer.
	MaxPrescaler = 0xFFFF
	// MaxPeriod is the largest period of the pulse timer.
	MaxPeriod = 0x10000
	// MinSpeed is the smallest speed magnitude in deg/s.
	MinSpeed = 1e-6
)

// Config defines the motor and timer parameters of an axis.
type Config struct {
	PulsesPerRevolution uint32
	BaseClock           uint64
	MaxFrequency        float64
	MaxCount            uint32
	MinPulses           uint32
	// DirReversed drives the direction pin low for clockwise rotation.
	DirReversed bool
	// RoundPulses rounds the pulse count to nearest, otherwise truncates.
	RoundPulses bool
}

// DefaultConfig returns the default config.
func DefaultConfig() Config {
	return Config{
		PulsesPerRevolution: PulsesPerRevolution,
		BaseClock:           BaseClock,
		MaxFrequency:        MaxFrequency,
		MaxCount:            MaxCount,
		MinPulses:           MinPulses,
		RoundPulses:         true,
	}
}

// DegreesOf returns the rotation of a pulse count.
func (c Config) DegreesOf(pulses uint64) float64 {
	return float64(pulses) * 360 / float64(c.PulsesPerRevolution)
}
