package comm

import (
	"io"
)

// Frame header bytes.
const (
	Header1 byte = 0xAA
	// HeaderHost is the second header byte of frames sent by the host.
	HeaderHost byte = 0x22
	// HeaderDevice is the second header byte of frames sent by the firmware.
	// Some hosts also use it for commands.
	HeaderDevice byte = 0x55
)

// Frame size limits.
const (
	// MaxPayload is the maximum payload length of a frame.
	MaxPayload = 120
	// FrameOverhead is the number of non-payload bytes in a frame.
	FrameOverhead = 5
	// MaxFrameSize is the maximum encoded size of a frame.
	MaxFrameSize = MaxPayload + FrameOverhead
)

// Command opcodes.
const (
	OpHeartbeat byte = 0x00
	OpSetSpeed  byte = 0x01
	OpSetAngle  byte = 0x02
	OpRotate    byte = 0x03
	OpRotateAbs byte = 0x04
	OpStop      byte = 0x05
	// OpIndicator sets the board RGB indicator.
	OpIndicator byte = 0x06
)

// Response opcodes.
const (
	RespTelemetry byte = 0x01
	RespAck       byte = 0x02
	RespEvent     byte = 0x03
)

// Layout selects the order of the opcode and length bytes.
type Layout int

const (
	// CommandLayout is header, opcode, length, payload, checksum.
	CommandLayout Layout = iota
	// ResponseLayout is header, length, opcode, payload, checksum where
	// length includes the opcode byte.
	ResponseLayout
)

// Frame is a decoded or to-be-encoded frame.
type Frame struct {
	Header  byte
	Opcode  byte
	Payload []byte
}

// Checksum calculates the 8-bit truncating sum of all bytes.
func Checksum(bufs ...[]byte) byte {
	var sum byte
	for _, buf := range bufs {
		for _, b := range buf {
			sum += b
		}
	}
	return sum
}

// AckOf calculates the ACK byte of a command: the sum of the opcode
// and all payload bytes.
func AckOf(op byte, payload []byte) byte {
	return op + Checksum(payload)
}

// AppendCommand appends an encoded command frame to dst.
// Payload longer than MaxPayload is truncated.
func AppendCommand(dst []byte, header2, op byte, payload []byte) []byte {
	if len(payload) > MaxPayload {
		payload = payload[:MaxPayload]
	}
	start := len(dst)
	dst = append(dst, Header1, header2, op, byte(len(payload)))
	dst = append(dst, payload...)
	return append(dst, Checksum(dst[start:]))
}

// AppendResponse appends an encoded response frame to dst.
// Payload longer than MaxPayload-1 is truncated.
func AppendResponse(dst []byte, op byte, payload []byte) []byte {
	if len(payload) > MaxPayload-1 {
		payload = payload[:MaxPayload-1]
	}
	start := len(dst)
	dst = append(dst, Header1, HeaderDevice, byte(len(payload)+1), op)
	dst = append(dst, payload...)
	return append(dst, Checksum(dst[start:]))
}

// Append appends the encoded frame in the specified layout.
func (f *Frame) Append(dst []byte, layout Layout) []byte {
	if layout == ResponseLayout {
		return AppendResponse(dst, f.Opcode, f.Payload)
	}
	header := f.Header
	if header == 0 {
		header = HeaderHost
	}
	return AppendCommand(dst, header, f.Opcode, f.Payload)
}

// Bytes returns encoded bytes for sending.
func (f *Frame) Bytes(layout Layout) []byte {
	return f.Append(make([]byte, 0, len(f.Payload)+FrameOverhead), layout)
}

// WriteTo writes the frame encoded in CommandLayout.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.Bytes(CommandLayout))
	return int64(n), err
}

// Ack returns the ACK byte expected for this frame as a command.
func (f *Frame) Ack() byte {
	return AckOf(f.Opcode, f.Payload)
}

// Clone returns a copy which doesn't share the payload buffer.
func (f *Frame) Clone() *Frame {
	c := *f
	if f.Payload != nil {
		c.Payload = append([]byte(nil), f.Payload...)
	}
	return &c
}
