package dispatch

import (
	"encoding/binary"
	"fmt"

	"github.com/robotalks/stepctl/pkg/l0/comm"
)

// Periodic task timing, in task ticks.
const (
	// TaskRate is the rate of PeriodicTask in Hz.
	TaskRate = 100
	// HeartbeatTimeout is the number of ticks without heartbeat before
	// the host is considered disconnected.
	HeartbeatTimeout = 100
	// TelemetryInterval is the number of ticks between telemetry frames.
	TelemetryInterval = 5
	// AckQueueSize is the capacity of the FIFO ACK queue.
	AckQueueSize = 32
)

// AckStrategy selects the ACK queue implementation.
type AckStrategy string

// ACK strategies.
const (
	AckFIFO AckStrategy = "fifo"
	AckSlot AckStrategy = "slot"
)

// ParseAckStrategy parses an AckStrategy.
func ParseAckStrategy(s string) (AckStrategy, error) {
	switch AckStrategy(s) {
	case "", AckFIFO:
		return AckFIFO, nil
	case AckSlot:
		return AckSlot, nil
	}
	return "", fmt.Errorf("unknown ack strategy %q", s)
}

// Config defines the dispatcher parameters.
type Config struct {
	AckStrategy       AckStrategy
	AckQueueSize      int
	HeartbeatTimeout  int
	TelemetryInterval int
	ByteOrder         binary.ByteOrder
}

// DefaultConfig returns the default config.
func DefaultConfig() Config {
	return Config{
		AckStrategy:       AckFIFO,
		AckQueueSize:      AckQueueSize,
		HeartbeatTimeout:  HeartbeatTimeout,
		TelemetryInterval: TelemetryInterval,
		ByteOrder:         comm.DefaultByteOrder,
	}
}

// NewAckQueue creates the AckQueue of the configured strategy.
func (c Config) NewAckQueue() AckQueue {
	if c.AckStrategy == AckSlot {
		return &SlotAck{}
	}
	return NewFIFOAcks(c.AckQueueSize)
}
