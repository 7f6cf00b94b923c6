package stepper

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robotalks/stepctl/pkg/cli/sh"
	"github.com/robotalks/stepctl/pkg/l0/comm"
	"github.com/robotalks/stepctl/pkg/l1/env"
	"github.com/robotalks/stepctl/pkg/l1/msgs"
)

// MaskAll selects every axis.
const MaskAll = 0xff

// ParseMask parses an axis mask: a number (0x prefix allowed) or "all".
func ParseMask(s string) (byte, error) {
	if s == "all" || s == "*" {
		return MaskAll, nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid MASK %q", s)
	}
	return byte(v), nil
}

func parseMaskValue(args []string, name string) (byte, float64, error) {
	if len(args) < 2 {
		return 0, 0, fmt.Errorf("MASK and %s required", name)
	}
	mask, err := ParseMask(args[0])
	if err != nil {
		return 0, 0, err
	}
	val, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s: %v", name, err)
	}
	return mask, val, nil
}

type motionFunc func(c *comm.Client, ctx context.Context, mask byte, value float64) error

func motion(name string, fn motionFunc) sh.Handler {
	return sh.MustBeConnected(func(s *sh.Shell, args []string) (interface{}, error) {
		mask, val, err := parseMaskValue(args, name)
		if err != nil {
			return nil, err
		}
		return nil, s.DoCommand(func(ctx context.Context, conn *env.Conn) error {
			return fn(conn.Client, ctx, mask, val)
		})
	})
}

var (
	// Speed sets the speed of axes in deg/s.
	Speed = motion("DEG_S", (*comm.Client).SetSpeed)
	// Angle sets the current angle of axes without moving.
	Angle = motion("DEG", (*comm.Client).SetAngle)
	// Rotate rotates axes relatively.
	Rotate = motion("DEG", (*comm.Client).Rotate)
	// Abs rotates axes to an absolute angle.
	Abs = motion("DEG", (*comm.Client).RotateAbs)
)

// Stop stops axes.
func Stop(s *sh.Shell, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("MASK required")
	}
	mask, err := ParseMask(args[0])
	if err != nil {
		return nil, err
	}
	return nil, s.DoCommand(func(ctx context.Context, conn *env.Conn) error {
		return conn.Stop(ctx, mask)
	})
}

// LED sets the indicator color.
func LED(s *sh.Shell, args []string) (interface{}, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("R G B required")
	}
	var rgb [3]byte
	for i := range rgb {
		v, err := strconv.ParseUint(args[i], 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid color %q", args[i])
		}
		rgb[i] = byte(v)
	}
	return nil, s.DoCommand(func(ctx context.Context, conn *env.Conn) error {
		return conn.SetIndicator(ctx, rgb[0], rgb[1], rgb[2])
	})
}

// StateResult is the output of the state command.
type StateResult struct {
	*msgs.State
}

// String implements fmt.Stringer.
func (r StateResult) String() string {
	var b strings.Builder
	if r.Connected {
		b.WriteString("connected")
	} else {
		b.WriteString("disconnected")
	}
	for _, a := range r.Axes {
		fmt.Fprintf(&b, "\n%d: angle=%.3f target=%.3f speed=%.2f dir=%s", a.Axis, a.Angle, a.Target, a.Speed, a.Dir)
		if a.Rotating {
			b.WriteString(" rotating")
		}
	}
	return b.String()
}

// State prints the last telemetry.
func State(s *sh.Shell, args []string) (interface{}, error) {
	conn := s.Loop.Conn
	st := msgs.StateFrom(s.Loop.Device, time.Now(), conn.Connected(), conn.State())
	return StateResult{State: st}, nil
}

// Stats prints link counters.
func Stats(s *sh.Shell, args []string) (interface{}, error) {
	st := s.Loop.Conn.Link().Stats()
	if s.OutputJSON {
		return st, nil
	}
	return fmt.Sprintf("received=%d dropped=%d sent=%d", st.Received, st.Dropped, st.Sent), nil
}

var (
	// SpeedCmd exposes Speed.
	SpeedCmd = sh.Cmd("speed", []string{"s"}, "MASK DEG/S", Speed)
	// AngleCmd exposes Angle.
	AngleCmd = sh.Cmd("angle", []string{"g"}, "MASK DEG", Angle)
	// RotateCmd exposes Rotate.
	RotateCmd = sh.Cmd("rotate", []string{"r"}, "MASK DEG", Rotate)
	// AbsCmd exposes Abs.
	AbsCmd = sh.Cmd("abs", []string{"a"}, "MASK DEG", Abs)
	// StopCmd exposes Stop.
	StopCmd = sh.Cmd("stop", []string{"x"}, "MASK", sh.MustBeConnected(Stop))
	// LEDCmd exposes LED.
	LEDCmd = sh.Cmd("led", nil, "R G B", sh.MustBeConnected(LED))
	// StateCmd exposes State.
	StateCmd = sh.Cmd("state", []string{"st"}, "", sh.MustBeConnected(State))
	// StatsCmd exposes Stats.
	StatsCmd = sh.Cmd("stats", nil, "", sh.MustBeConnected(Stats))
)

func init() {
	sh.AddCmds(
		&SpeedCmd,
		&AngleCmd,
		&RotateCmd,
		&AbsCmd,
		&StopCmd,
		&LEDCmd,
		&StateCmd,
		&StatsCmd,
	)
}
