package comm

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksum indicates a frame is dropped due to checksum mismatch.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrBadLength indicates the declared length is out of range.
	ErrBadLength = errors.New("bad frame length")
	// ErrIncomplete indicates a partial frame is abandoned on idle timeout.
	ErrIncomplete = errors.New("incomplete frame")
	// ErrNoAck indicates no ACK received after all retries.
	ErrNoAck = errors.New("no ack")
	// ErrNotConnected indicates the peer isn't reporting.
	ErrNotConnected = errors.New("not connected")
	// ErrShortPayload indicates a payload is too short to decode.
	ErrShortPayload = errors.New("payload too short")
	// ErrBusy is returned by a transmitter still sending earlier frames.
	ErrBusy = errors.New("transmitter busy")
)

// UnknownOpcodeError is returned for frames with an unsupported opcode.
type UnknownOpcodeError struct {
	Opcode byte
}

// Error implements error.
func (e *UnknownOpcodeError) Error() string {
	return fmt.Sprintf("unknown opcode 0x%02x", e.Opcode)
}
