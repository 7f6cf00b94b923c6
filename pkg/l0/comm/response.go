package comm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Fixed-point scales used on the wire.
const (
	SpeedScale = 100
	AngleScale = 1000
)

// AxisReportSize is the encoded size of one AxisReport.
const AxisReportSize = 14

// Event codes.
const (
	EventKeyShort  byte = 0x01
	EventKeyLong   byte = 0x02
	EventKeyDouble byte = 0x03
)

// Event operations.
const (
	EventOpSet   byte = 0x01
	EventOpClear byte = 0x02
)

// AxisReport is the live state of one axis in a telemetry frame.
type AxisReport struct {
	Speed    float64 // deg/s
	Angle    float64 // deg
	Target   float64 // deg
	Rotating bool
	// Dir is 1 for clockwise, 0 for counter-clockwise.
	Dir byte
}

// Event is an asynchronous notification from the firmware.
type Event struct {
	Code byte
	Op   byte
}

// ToFixed converts a value to a scaled int32, saturating on overflow.
func ToFixed(v float64, scale float64) int32 {
	f := math.Round(v * scale)
	switch {
	case math.IsNaN(f):
		return 0
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

// FromFixed converts a scaled int32 back to a value.
func FromFixed(v int32, scale float64) float64 {
	return float64(v) / scale
}

// AppendTelemetry appends the telemetry payload of axes to dst.
func AppendTelemetry(dst []byte, order binary.ByteOrder, axes []AxisReport) []byte {
	var word [4]byte
	for i := range axes {
		a := &axes[i]
		order.PutUint32(word[:], uint32(ToFixed(a.Speed, SpeedScale)))
		dst = append(dst, word[:]...)
		order.PutUint32(word[:], uint32(ToFixed(a.Angle, AngleScale)))
		dst = append(dst, word[:]...)
		order.PutUint32(word[:], uint32(ToFixed(a.Target, AngleScale)))
		dst = append(dst, word[:]...)
		var rotating byte
		if a.Rotating {
			rotating = 1
		}
		dst = append(dst, rotating, a.Dir)
	}
	return dst
}

// ParseTelemetry decodes a telemetry payload.
func ParseTelemetry(payload []byte, order binary.ByteOrder) ([]AxisReport, error) {
	if len(payload)%AxisReportSize != 0 {
		return nil, ErrBadLength
	}
	axes := make([]AxisReport, len(payload)/AxisReportSize)
	for i := range axes {
		rec := payload[i*AxisReportSize:]
		axes[i] = AxisReport{
			Speed:    FromFixed(int32(order.Uint32(rec[0:4])), SpeedScale),
			Angle:    FromFixed(int32(order.Uint32(rec[4:8])), AngleScale),
			Target:   FromFixed(int32(order.Uint32(rec[8:12])), AngleScale),
			Rotating: rec[12] != 0,
			Dir:      rec[13],
		}
	}
	return axes, nil
}

// AppendAckFrame appends an ACK response frame.
func AppendAckFrame(dst []byte, ack byte) []byte {
	return AppendResponse(dst, RespAck, []byte{ack})
}

// AppendEventFrame appends an event response frame.
func AppendEventFrame(dst []byte, ev Event) []byte {
	return AppendResponse(dst, RespEvent, []byte{ev.Code, ev.Op})
}

// ParseAck decodes an ACK payload.
func ParseAck(payload []byte) (byte, error) {
	if len(payload) < 1 {
		return 0, ErrShortPayload
	}
	return payload[0], nil
}

// ParseEvent decodes an event payload.
func ParseEvent(payload []byte) (Event, error) {
	if len(payload) < 2 {
		return Event{}, ErrShortPayload
	}
	return Event{Code: payload[0], Op: payload[1]}, nil
}

// MotionPayload is the payload of speed, angle and rotation commands.
type MotionPayload struct {
	Mask  byte
	Value int32
}

// MotionPayloadSize is the encoded size of MotionPayload.
const MotionPayloadSize = 5

// AppendMotion appends an encoded motion payload.
func AppendMotion(dst []byte, order binary.ByteOrder, m MotionPayload) []byte {
	var word [4]byte
	order.PutUint32(word[:], uint32(m.Value))
	return append(append(dst, m.Mask), word[:]...)
}

// ParseMotion decodes a motion payload.
func ParseMotion(payload []byte, order binary.ByteOrder) (MotionPayload, error) {
	if len(payload) < MotionPayloadSize {
		return MotionPayload{}, ErrShortPayload
	}
	return MotionPayload{Mask: payload[0], Value: int32(order.Uint32(payload[1:5]))}, nil
}

// DefaultByteOrder is the byte order of multi-byte fields on the wire.
var DefaultByteOrder binary.ByteOrder = binary.BigEndian

// ParseByteOrder parses "big" or "little".
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch s {
	case "", "big", "be":
		return binary.BigEndian, nil
	case "little", "le":
		return binary.LittleEndian, nil
	}
	return nil, fmt.Errorf("unknown byte order %q", s)
}
