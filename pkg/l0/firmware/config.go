package firmware

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/robotalks/stepctl/pkg/l0/comm"
	"github.com/robotalks/stepctl/pkg/l0/dispatch"
	"github.com/robotalks/stepctl/pkg/l0/stepper"
	"github.com/robotalks/stepctl/pkg/l0/uart"
)

// Board defaults.
const (
	DefaultAxes = 3
	// DefaultSpeed is the speed in deg/s set on every axis at boot.
	DefaultSpeed = 1200
	// DefaultSchedReport is the default of Config.SchedReport.
	DefaultSchedReport = 5000
)

// Config defines the board.
type Config struct {
	Axes int
	// Speed is the initial speed of all axes in deg/s.
	Speed    float64
	Stepper  stepper.Config
	Dispatch dispatch.Config
	// Port is the host link. Ignored when Listen is set.
	Port uart.Config
	// Listen accepts the host link on a TCP address instead of a serial port.
	Listen string
	// ConsoleDevice is the serial device of the debug console, optional.
	ConsoleDevice string
	TxDepth       int
	// SchedReport is the period in ms of logging scheduler task timing
	// at -v=2, zero disables it.
	SchedReport uint32

	byteOrder   string
	ackStrategy string
}

var defaultConfig = Config{
	Axes:     DefaultAxes,
	Speed:    DefaultSpeed,
	Stepper:  stepper.DefaultConfig(),
	Dispatch: dispatch.DefaultConfig(),
	Port:     uart.DefaultConfig(""),
	TxDepth:  uart.DefaultTxDepth,

	SchedReport: DefaultSchedReport,
}

func init() {
	if val := os.Getenv("STEPCTL_SERIAL"); val != "" {
		defaultConfig.Port.Device = val
	}
	if val := os.Getenv("STEPCTL_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			defaultConfig.Port.Baud = baud
		}
	}
	if val := os.Getenv("STEPCTL_LISTEN"); val != "" {
		defaultConfig.Listen = val
	}
	defaultConfig.byteOrder = os.Getenv("STEPCTL_BYTE_ORDER")
	defaultConfig.ackStrategy = os.Getenv("STEPCTL_ACK")
}

// SetupFlags sets command line flags.
func SetupFlags() {
	c := &defaultConfig
	flag.IntVar(&c.Axes, "axes", c.Axes, "Number of axes")
	flag.Float64Var(&c.Speed, "speed", c.Speed, "Initial speed in deg/s")
	flag.StringVar(&c.Port.Device, "serial", c.Port.Device, "Serial device of the host link")
	flag.IntVar(&c.Port.Baud, "baud", c.Port.Baud, "Baud rate")
	flag.StringVar(&c.Port.Driver, "driver", c.Port.Driver, "Serial driver: bugst, tarm")
	flag.StringVar(&c.Listen, "listen", c.Listen, "Accept the host link on a TCP address")
	flag.StringVar(&c.ConsoleDevice, "console", c.ConsoleDevice, "Serial device of the debug console")
	flag.StringVar(&c.byteOrder, "byte-order", c.byteOrder, "Telemetry byte order: be, le")
	flag.StringVar(&c.ackStrategy, "ack", c.ackStrategy, "ACK strategy: fifo, slot")
	flag.Var((*pprFlag)(&c.Stepper.PulsesPerRevolution), "ppr", "Pulses per revolution")
	flag.Float64Var(&c.Stepper.MaxFrequency, "max-freq", c.Stepper.MaxFrequency, "Max pulse frequency in Hz")
	flag.BoolVar(&c.Stepper.DirReversed, "dir-reversed", c.Stepper.DirReversed, "Reverse direction pins")
	flag.BoolVar(&c.Stepper.RoundPulses, "round", c.Stepper.RoundPulses, "Round pulse count instead of truncating")
	flag.Var((*millisFlag)(&c.SchedReport), "sched-report", "Scheduler timing report period in ms, 0 to disable")
}

type pprFlag uint32

func (f *pprFlag) String() string {
	return strconv.FormatUint(uint64(*f), 10)
}

func (f *pprFlag) Set(s string) error {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return err
	}
	if v == 0 {
		return fmt.Errorf("pulses per revolution must be positive")
	}
	*f = pprFlag(v)
	return nil
}

type millisFlag uint32

func (f *millisFlag) String() string {
	return strconv.FormatUint(uint64(*f), 10)
}

func (f *millisFlag) Set(s string) error {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return err
	}
	*f = millisFlag(v)
	return nil
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Validate resolves the string options.
func (c *Config) Validate() error {
	if c.Axes <= 0 || c.Axes > 8 {
		return fmt.Errorf("axes must be within 1..8, got %d", c.Axes)
	}
	if c.byteOrder != "" {
		order, err := comm.ParseByteOrder(c.byteOrder)
		if err != nil {
			return err
		}
		c.Dispatch.ByteOrder = order
	}
	if c.ackStrategy != "" {
		strategy, err := dispatch.ParseAckStrategy(c.ackStrategy)
		if err != nil {
			return err
		}
		c.Dispatch.AckStrategy = strategy
	}
	return nil
}

// OpenPort opens the host link.
func (c *Config) OpenPort(ctx context.Context) (uart.Port, bool, error) {
	if c.Listen != "" {
		port, err := uart.Listen(ctx, c.Listen)
		return port, false, err
	}
	if c.Port.Device == "" {
		return nil, false, fmt.Errorf("serial device or listen address is required")
	}
	port, err := uart.Open(c.Port)
	return port, c.Port.HasReadTimeout(), err
}

// MustNewBoard opens the ports and creates the Board, fails on error.
func (c *Config) MustNewBoard(ctx context.Context) *Board {
	if err := c.Validate(); err != nil {
		log.Fatalln(err)
	}
	port, readTimeout, err := c.OpenPort(ctx)
	if err != nil {
		log.Fatalln(err)
	}
	board := NewBoard(*c, port)
	board.Link.ReadTimeout = readTimeout
	if c.ConsoleDevice != "" {
		cfg := uart.DefaultConfig(c.ConsoleDevice)
		cfg.Driver = c.Port.Driver
		cfg.ReadTimeout = 0
		con, err := uart.Open(cfg)
		if err != nil {
			log.Fatalln(err)
		}
		board.AttachConsole(con)
	}
	return board
}
