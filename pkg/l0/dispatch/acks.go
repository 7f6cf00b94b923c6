package dispatch

import (
	"sync"

	fx "github.com/robotalks/stepctl/pkg/framework"
)

// AckQueue holds ACK bytes until the periodic task sends them.
type AckQueue interface {
	// Push queues an ACK, returns false if it's dropped.
	Push(ack byte) bool
	// Flush passes pending ACKs to send and returns the number flushed.
	Flush(send func(ack byte)) int
	// Pending returns the number of pending ACKs.
	Pending() int
}

// FIFOAcks is a bounded ACK queue. When full, the newest ACK is dropped.
// All pending ACKs are flushed at once.
type FIFOAcks struct {
	ring *fx.Ring[byte]
}

// NewFIFOAcks creates a FIFOAcks.
func NewFIFOAcks(size int) *FIFOAcks {
	if size <= 0 {
		size = AckQueueSize
	}
	return &FIFOAcks{ring: fx.NewRing[byte](size)}
}

// Push implements AckQueue.
func (q *FIFOAcks) Push(ack byte) bool {
	return q.ring.Put(ack)
}

// Flush implements AckQueue.
func (q *FIFOAcks) Flush(send func(ack byte)) (n int) {
	for {
		ack, ok := q.ring.Get()
		if !ok {
			return
		}
		send(ack)
		n++
	}
}

// Pending implements AckQueue.
func (q *FIFOAcks) Pending() int {
	return q.ring.Len()
}

// SlotAck keeps only the latest ACK. A newer ACK overwrites an unsent one.
type SlotAck struct {
	lock    sync.Mutex
	ack     byte
	pending bool
}

// Push implements AckQueue.
func (s *SlotAck) Push(ack byte) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.ack, s.pending = ack, true
	return true
}

// Flush implements AckQueue.
func (s *SlotAck) Flush(send func(ack byte)) int {
	s.lock.Lock()
	ack, pending := s.ack, s.pending
	s.pending = false
	s.lock.Unlock()
	if !pending {
		return 0
	}
	send(ack)
	return 1
}

// Pending implements AckQueue.
func (s *SlotAck) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.pending {
		return 1
	}
	return 0
}
