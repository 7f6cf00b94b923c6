package stream

import (
	"encoding/binary"
	"io"

	"github.com/robotalks/stepctl/pkg/l0/comm"
)

// MaxPacketSize bounds a recorded packet. A frame never exceeds it.
const MaxPacketSize = comm.MaxFrameSize

// PacketReader reads whole packets.
type PacketReader interface {
	ReadPacket() ([]byte, error)
}

// PacketWriter writes whole packets.
type PacketWriter interface {
	WritePacket([]byte) error
}

// PacketWriterFunc is the func form of PacketWriter.
type PacketWriterFunc func([]byte) error

// WritePacket implements PacketWriter.
func (f PacketWriterFunc) WritePacket(pkt []byte) error {
	return f(pkt)
}

// ReadWriter reads and writes packets on a stream.
// Each packet is prefixed by 4-byte (little-endian) indicate the length.
type ReadWriter struct {
	io.ReadWriter
}

// New creates a ReadWriter with io.ReadWriter.
func New(s io.ReadWriter) *ReadWriter {
	return &ReadWriter{s}
}

// ReadPacket reads the next packet.
func (p *ReadWriter) ReadPacket() ([]byte, error) {
	var size uint32
	if err := binary.Read(p, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	if size > MaxPacketSize {
		return nil, comm.ErrBadLength
	}
	pkt := make([]byte, size)
	if _, err := io.ReadFull(p, pkt); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return pkt, nil
}

// WritePacket writes a packet.
func (p *ReadWriter) WritePacket(pkt []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(pkt)))
	if _, err := p.Write(hdr[:]); err != nil {
		return err
	}
	_, err := p.Write(pkt)
	return err
}
