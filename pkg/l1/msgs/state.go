package msgs

import (
	"fmt"
	"time"

	"github.com/robotalks/stepctl/pkg/l0/comm"
)

// Direction names.
const (
	DirCW  = "cw"
	DirCCW = "ccw"
)

// AxisState is the reported state of one axis.
type AxisState struct {
	Axis     int     `json:"axis"`
	Speed    float64 `json:"speed"`
	Angle    float64 `json:"angle"`
	Target   float64 `json:"target"`
	Rotating bool    `json:"rotating"`
	Dir      string  `json:"dir"`
}

// State is a telemetry snapshot of a device.
type State struct {
	Device    string      `json:"device"`
	Time      time.Time   `json:"time"`
	Connected bool        `json:"connected"`
	Axes      []AxisState `json:"axes"`
}

// StateFrom converts telemetry reports. Axes are numbered from 1.
func StateFrom(device string, at time.Time, connected bool, axes []comm.AxisReport) *State {
	st := &State{Device: device, Time: at, Connected: connected, Axes: make([]AxisState, len(axes))}
	for i, a := range axes {
		dir := DirCCW
		if a.Dir != 0 {
			dir = DirCW
		}
		st.Axes[i] = AxisState{
			Axis:     i + 1,
			Speed:    a.Speed,
			Angle:    a.Angle,
			Target:   a.Target,
			Rotating: a.Rotating,
			Dir:      dir,
		}
	}
	return st
}

// Event is a key event from a device.
type Event struct {
	Device string    `json:"device"`
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Op     string    `json:"op"`
}

var (
	eventKinds = map[byte]string{
		comm.EventKeyShort:  "short",
		comm.EventKeyLong:   "long",
		comm.EventKeyDouble: "double",
	}
	eventOps = map[byte]string{
		comm.EventOpSet:   "set",
		comm.EventOpClear: "clear",
	}
)

func nameOf(names map[byte]string, v byte) string {
	if name, ok := names[v]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", v)
}

// EventFrom converts an event frame.
func EventFrom(device string, at time.Time, ev comm.Event) *Event {
	return &Event{
		Device: device,
		Time:   at,
		Kind:   nameOf(eventKinds, ev.Code),
		Op:     nameOf(eventOps, ev.Op),
	}
}

// Command is a motion command sent over the message bus.
type Command struct {
	Mask  byte    `json:"mask"`
	Value float64 `json:"value"`
}
