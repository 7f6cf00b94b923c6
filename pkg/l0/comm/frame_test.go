package comm

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	require.Equal(t, byte(0), Checksum())
	require.Equal(t, byte(0xCE), Checksum([]byte{0xAA, 0x22, 0x00, 0x01, 0x01}))
	require.Equal(t, byte(0x01), Checksum([]byte{0xFF}, []byte{0x02}))
}

func TestAckOf(t *testing.T) {
	require.Equal(t, byte(0x06), AckOf(OpStop, []byte{0x01}))
	require.Equal(t, byte(0x03+0x01+0x00+0x01+0x5F+0x90), AckOf(OpRotate, []byte{0x01, 0x00, 0x01, 0x5F, 0x90}))
	f := &Frame{Opcode: OpStop, Payload: []byte{0xFF}}
	require.Equal(t, byte(0x04), f.Ack())
}

func TestAppendCommand(t *testing.T) {
	require.Equal(t,
		[]byte{0xAA, 0x22, 0x05, 0x01, 0x01, 0xD3},
		AppendCommand(nil, HeaderHost, OpStop, []byte{0x01}))
	require.Len(t, AppendCommand(nil, HeaderHost, 0, make([]byte, MaxPayload+10)), MaxFrameSize)
}

func TestAppendResponse(t *testing.T) {
	ack := AppendAckFrame(nil, 0x06)
	require.Equal(t, []byte{0xAA, 0x55, 0x02, 0x02, 0x06, 0x09}, ack)
	ev := AppendEventFrame(nil, Event{Code: EventKeyLong, Op: EventOpClear})
	require.Equal(t, []byte{0xAA, 0x55, 0x03, 0x03, 0x02, 0x02, 0x09}, ev)
}

func TestFrameWriteTo(t *testing.T) {
	var buf bytes.Buffer
	f := &Frame{Opcode: OpHeartbeat, Payload: []byte{0x01}}
	n, err := f.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(6), n)
	require.Equal(t, []byte{0xAA, 0x22, 0x00, 0x01, 0x01, 0xCE}, buf.Bytes())
}

func TestFrameClone(t *testing.T) {
	payload := []byte{1, 2, 3}
	f := &Frame{Header: HeaderHost, Opcode: 3, Payload: payload}
	c := f.Clone()
	payload[0] = 9
	require.Equal(t, []byte{1, 2, 3}, c.Payload)
	require.Equal(t, f.Opcode, c.Opcode)
}

func TestToFixed(t *testing.T) {
	require.Equal(t, int32(9000), ToFixed(90, SpeedScale))
	require.Equal(t, int32(-12346), ToFixed(-12.3456, AngleScale))
	require.Equal(t, int32(math.MaxInt32), ToFixed(1e12, AngleScale))
	require.Equal(t, int32(math.MinInt32), ToFixed(-1e12, AngleScale))
	require.Equal(t, int32(0), ToFixed(math.NaN(), AngleScale))
	require.Equal(t, 90.5, FromFixed(90500, AngleScale))
}

func TestTelemetry(t *testing.T) {
	axes := []AxisReport{
		{Speed: 90, Angle: 45.5, Target: 90, Rotating: true, Dir: 1},
		{Speed: 10.25, Angle: -3.125, Target: -3.125},
		{},
	}
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		t.Run(order.String(), func(t *testing.T) {
			payload := AppendTelemetry(nil, order, axes)
			require.Len(t, payload, AxisReportSize*3)
			decoded, err := ParseTelemetry(payload, order)
			require.NoError(t, err)
			require.Equal(t, axes, decoded)
		})
	}

	payload := AppendTelemetry(nil, binary.BigEndian, axes[:1])
	require.Equal(t, []byte{
		0x00, 0x00, 0x23, 0x28, // 9000
		0x00, 0x00, 0xB1, 0xBC, // 45500
		0x00, 0x01, 0x5F, 0x90, // 90000
		0x01, 0x01,
	}, payload)

	_, err := ParseTelemetry(payload[:13], binary.BigEndian)
	require.Equal(t, ErrBadLength, err)
}

func TestMotionPayload(t *testing.T) {
	m := MotionPayload{Mask: 0x05, Value: -90000}
	payload := AppendMotion(nil, binary.BigEndian, m)
	require.Equal(t, []byte{0x05, 0xFF, 0xFE, 0xA0, 0x70}, payload)
	decoded, err := ParseMotion(payload, binary.BigEndian)
	require.NoError(t, err)
	require.Equal(t, m, decoded)

	_, err = ParseMotion(payload[:4], binary.BigEndian)
	require.Equal(t, ErrShortPayload, err)
}

func TestAckAndEvent(t *testing.T) {
	ack, err := ParseAck([]byte{0x42})
	require.NoError(t, err)
	require.Equal(t, byte(0x42), ack)
	_, err = ParseAck(nil)
	require.Equal(t, ErrShortPayload, err)

	ev, err := ParseEvent([]byte{EventKeyDouble, EventOpSet})
	require.NoError(t, err)
	require.Equal(t, Event{Code: EventKeyDouble, Op: EventOpSet}, ev)
	_, err = ParseEvent([]byte{1})
	require.Equal(t, ErrShortPayload, err)
}

func TestParseByteOrder(t *testing.T) {
	order, err := ParseByteOrder("")
	require.NoError(t, err)
	require.Equal(t, binary.BigEndian, order)
	order, err = ParseByteOrder("le")
	require.NoError(t, err)
	require.Equal(t, binary.LittleEndian, order)
	_, err = ParseByteOrder("middle")
	require.Error(t, err)
}

func TestUnknownOpcodeError(t *testing.T) {
	err := &UnknownOpcodeError{Opcode: 0x7F}
	require.Equal(t, "unknown opcode 0x7f", err.Error())
}
