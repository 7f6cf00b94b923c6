// Package console implements the line based debug console driving one axis.
//
// Commands:
//
//	s:<deg/s>  set speed
//	r:<deg>    rotate relative
//	g:<deg>    rotate to absolute angle
//	0          set current angle to zero
//	p          stop
package console

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/glog"

	fx "github.com/robotalks/stepctl/pkg/framework"
)

// Console parameters.
const (
	MaxLineSize = 128
	LineQueue   = 4
	TaskRate    = 100
)

var (
	// ErrUnknownCommand indicates the line isn't a known command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrBadArgument indicates the command argument isn't a number.
	ErrBadArgument = errors.New("bad argument")
)

// Axis is what the console drives.
type Axis interface {
	SetSpeed(speed float64) error
	SetAngle(angle float64)
	Rotate(delta float64) error
	RotateAbs(target float64) error
	Stop()
	Angle() float64
}

// Console collects bytes into lines and executes them from a task.
type Console struct {
	Axis Axis
	// Out receives angle reports, optional.
	Out io.Writer

	line  []byte
	lines *fx.Ring[string]
}

// New creates a Console.
func New(axis Axis, out io.Writer) *Console {
	return &Console{
		Axis:  axis,
		Out:   out,
		line:  make([]byte, 0, MaxLineSize),
		lines: fx.NewRing[string](LineQueue),
	}
}

// HandleByte is fed with every received byte, from the receiving goroutine.
func (c *Console) HandleByte(b byte) {
	if b == '\n' {
		c.complete()
		return
	}
	if len(c.line) < MaxLineSize {
		c.line = append(c.line, b)
	}
}

// HandleIdle completes the pending line when the line goes idle.
func (c *Console) HandleIdle() {
	c.complete()
}

func (c *Console) complete() {
	line := strings.TrimSpace(string(c.line))
	c.line = c.line[:0]
	if line == "" {
		return
	}
	if !c.lines.Put(line) {
		glog.Warningf("[CON] line dropped: %q", line)
	}
}

// Task executes received lines. It's expected to run at TaskRate.
func (c *Console) Task() {
	for {
		line, ok := c.lines.Get()
		if !ok {
			return
		}
		if err := c.Execute(line); err != nil {
			glog.Warningf("[CON] %q: %v", line, err)
		}
	}
}

// Execute runs one command line.
func (c *Console) Execute(line string) error {
	if line == "" {
		return ErrUnknownCommand
	}
	switch line[0] {
	case 's':
		v, err := argOf(line, "s:")
		if err != nil {
			return err
		}
		return c.Axis.SetSpeed(v)
	case 'r':
		v, err := argOf(line, "r:")
		if err != nil {
			return err
		}
		return c.Axis.Rotate(v)
	case 'g':
		v, err := argOf(line, "g:")
		if err != nil {
			return err
		}
		return c.Axis.RotateAbs(v)
	case '0':
		c.Axis.SetAngle(0)
		return nil
	case 'p':
		c.Axis.Stop()
		return nil
	}
	return ErrUnknownCommand
}

func argOf(line, prefix string) (float64, error) {
	if !strings.HasPrefix(line, prefix) {
		return 0, ErrBadArgument
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(line[len(prefix):]), 64)
	if err != nil {
		return 0, ErrBadArgument
	}
	return v, nil
}

// Report writes the current angle to Out.
func (c *Console) Report() {
	if c.Out != nil {
		fmt.Fprintf(c.Out, "Step: %f\r\n", c.Axis.Angle())
	}
}

// AddToLoop implements LoopAdder.
func (c *Console) AddToLoop(l *fx.Loop) {
	l.AddTask("console", c.Task, TaskRate)
	if c.Out != nil {
		l.AddTask("report", c.Report, 1)
	}
}
