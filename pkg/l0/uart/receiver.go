package uart

import (
	"context"
	"io"
	"time"
)

// DefaultIdleTimeout is the gap after which the line is considered idle.
const DefaultIdleTimeout = 10 * time.Millisecond

// Receiver reads a stream and hands over every byte, then notifies
// when the line goes idle.
type Receiver struct {
	Reader      io.Reader
	OnByte      func(byte)
	OnIdle      func()
	IdleTimeout time.Duration
}

// NewReceiver creates a Receiver.
func NewReceiver(r io.Reader, onByte func(byte), onIdle func()) *Receiver {
	return &Receiver{
		Reader:      r,
		OnByte:      onByte,
		OnIdle:      onIdle,
		IdleTimeout: DefaultIdleTimeout,
	}
}

// Run receives until ctx is done or the reader fails. OnByte and OnIdle
// are called from this goroutine.
func (r *Receiver) Run(ctx context.Context) error {
	chunkCh, errCh := make(chan []byte), make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.readLoop(subCtx, chunkCh, errCh)

	timeout := r.IdleTimeout
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	timer := time.NewTimer(timeout)
	timer.Stop()
	var idleCh <-chan time.Time
	for {
		select {
		case chunk := <-chunkCh:
			if r.OnByte != nil {
				for _, b := range chunk {
					r.OnByte(b)
				}
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
			idleCh = timer.C
		case <-idleCh:
			idleCh = nil
			if r.OnIdle != nil {
				r.OnIdle()
			}
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Receiver) readLoop(ctx context.Context, chunkCh chan []byte, errCh chan error) {
	buf := make([]byte, 64)
	for {
		n, err := r.Reader.Read(buf)
		if err != nil {
			errCh <- err
			return
		}
		if n == 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case chunkCh <- append([]byte(nil), buf[:n]...):
		case <-ctx.Done():
			return
		}
	}
}
