package uart

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/stepctl/pkg/l0/comm"
)

// DefaultTxDepth is the number of frames a Transmitter holds.
const DefaultTxDepth = 4

// Transmitter writes frames in the background. Transmit never blocks.
type Transmitter struct {
	w     io.Writer
	queue chan []byte
	pool  sync.Pool

	lock    sync.Mutex
	idle    *sync.Cond
	pending int
	sent    uint64
	failed  uint64
	dropped uint64
}

// NewTransmitter creates a Transmitter holding up to depth frames.
func NewTransmitter(w io.Writer, depth int) *Transmitter {
	if depth <= 0 {
		depth = DefaultTxDepth
	}
	t := &Transmitter{w: w, queue: make(chan []byte, depth)}
	t.idle = sync.NewCond(&t.lock)
	return t
}

// Transmit queues a copy of buf. It returns comm.ErrBusy if the queue
// is full.
func (t *Transmitter) Transmit(buf []byte) error {
	var frame []byte
	if p, ok := t.pool.Get().(*[]byte); ok {
		frame = (*p)[:0]
	}
	frame = append(frame, buf...)
	t.lock.Lock()
	select {
	case t.queue <- frame:
		t.pending++
		t.lock.Unlock()
		return nil
	default:
		t.lock.Unlock()
		return comm.ErrBusy
	}
}

// Run writes queued frames until ctx is done. Frames still queued then
// are dropped.
func (t *Transmitter) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			t.drop()
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			t.drop()
			return ctx.Err()
		case frame := <-t.queue:
			if _, err := t.w.Write(frame); err != nil {
				glog.Warningf("[UART] write: %v", err)
				t.done(frame, &t.failed)
			} else {
				t.done(frame, &t.sent)
			}
		}
	}
}

func (t *Transmitter) done(frame []byte, counter *uint64) {
	atomic.AddUint64(counter, 1)
	t.pool.Put(&frame)
	t.lock.Lock()
	t.pending--
	if t.pending == 0 {
		t.idle.Broadcast()
	}
	t.lock.Unlock()
}

// drop discards frames left in the queue when stopped.
func (t *Transmitter) drop() {
	for {
		select {
		case frame := <-t.queue:
			t.done(frame, &t.dropped)
		default:
			return
		}
	}
}

// Flush blocks until all queued frames are written. Not for tasks.
func (t *Transmitter) Flush() {
	t.lock.Lock()
	defer t.lock.Unlock()
	for t.pending > 0 {
		t.idle.Wait()
	}
}

// Pending returns the number of frames not yet written.
func (t *Transmitter) Pending() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.pending
}

// Sent returns the number of frames written.
func (t *Transmitter) Sent() uint64 {
	return atomic.LoadUint64(&t.sent)
}

// Failed returns the number of frames failed to write.
func (t *Transmitter) Failed() uint64 {
	return atomic.LoadUint64(&t.failed)
}

// Dropped returns the number of frames discarded unwritten when stopped.
func (t *Transmitter) Dropped() uint64 {
	return atomic.LoadUint64(&t.dropped)
}
