package comm

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// FrameHandler is called when a frame is received. The frame is only
// valid during the call.
type FrameHandler interface {
	HandleFrame(context.Context, *Frame)
}

// HandleFrameFunc is func type of FrameHandler.
type HandleFrameFunc func(context.Context, *Frame)

// HandleFrame implements FrameHandler.
func (f HandleFrameFunc) HandleFrame(ctx context.Context, frame *Frame) {
	f(ctx, frame)
}

// LinkStats counts frames going through a Link.
type LinkStats struct {
	Received uint64
	Dropped  uint64
	Sent     uint64
}

// DefaultIdleTimeout is the gap after which a partial frame is abandoned.
const DefaultIdleTimeout = 10 * time.Millisecond

// Link pumps bytes from a stream through a Parser and sends frames.
type Link struct {
	ReadWriter io.ReadWriter
	Parser     *Parser
	Handler    FrameHandler
	// IdleTimeout abandons a partial frame when no byte arrives in time.
	IdleTimeout time.Duration
	// ReadTimeout is set to true if ReadWriter already supports timeout with Read.
	ReadTimeout bool

	sendLock sync.Mutex
	sendBuf  []byte
	idleCh   <-chan time.Time
	stats    LinkStats
}

// NewLink creates a Link with the parser.
func NewLink(rw io.ReadWriter, parser *Parser) *Link {
	return &Link{
		ReadWriter:  rw,
		Parser:      parser,
		IdleTimeout: DefaultIdleTimeout,
	}
}

// Stats returns a snapshot of counters.
func (l *Link) Stats() LinkStats {
	return LinkStats{
		Received: atomic.LoadUint64(&l.stats.Received),
		Dropped:  atomic.LoadUint64(&l.stats.Dropped),
		Sent:     atomic.LoadUint64(&l.stats.Sent),
	}
}

// Send encodes and writes a frame.
func (l *Link) Send(f *Frame, layout Layout) error {
	l.sendLock.Lock()
	defer l.sendLock.Unlock()
	l.sendBuf = f.Append(l.sendBuf[:0], layout)
	if _, err := l.ReadWriter.Write(l.sendBuf); err != nil {
		return err
	}
	atomic.AddUint64(&l.stats.Sent, 1)
	return nil
}

// Run processes the Link in the background.
func (l *Link) Run(ctx context.Context) error {
	l.Parser.Reset()
	if l.ReadTimeout {
		return l.runWithReadTimeout(ctx)
	}
	chunkCh, errCh := make(chan []byte), make(chan error, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.readLoop(subCtx, chunkCh, errCh)
	for {
		select {
		case chunk := <-chunkCh:
			l.parse(ctx, chunk)
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-l.idleCh:
			l.apply(ctx, l.Parser.Timeout())
		}
	}
}

func (l *Link) runWithReadTimeout(ctx context.Context) error {
	var buf [64]byte
	var lastByte time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := l.ReadWriter.Read(buf[:])
		if err != nil && !os.IsTimeout(err) {
			return err
		}
		if n > 0 {
			lastByte = time.Now()
			l.parse(ctx, buf[:n])
			continue
		}
		if l.Parser.Receiving() && time.Since(lastByte) >= l.idleTimeout() {
			l.apply(ctx, l.Parser.Timeout())
		}
	}
}

func (l *Link) readLoop(ctx context.Context, chunkCh chan []byte, errCh chan error) {
	buf := make([]byte, 64)
	for {
		n, err := l.ReadWriter.Read(buf)
		if err != nil {
			errCh <- err
			return
		}
		if n == 0 {
			continue
		}
		select {
		case chunkCh <- append([]byte(nil), buf[:n]...):
		case <-ctx.Done():
			return
		}
	}
}

func (l *Link) parse(ctx context.Context, chunk []byte) {
	var pr ParseResult
	for _, b := range chunk {
		pr = l.Parser.Parse(b)
		l.apply(ctx, pr)
	}
	if !l.ReadTimeout {
		switch pr.WhatAboutTimer() {
		case TimerRestart:
			l.idleCh = time.After(l.idleTimeout())
		case TimerStop:
			l.idleCh = nil
		}
	}
}

func (l *Link) apply(ctx context.Context, pr ParseResult) {
	if pr.Err != nil {
		atomic.AddUint64(&l.stats.Dropped, 1)
		glog.Warningf("[COM] frame dropped: %v", pr.Err)
	}
	if pr.Frame != nil {
		atomic.AddUint64(&l.stats.Received, 1)
		if glog.V(4) {
			glog.Infof("[COM] RCV op=0x%02x len=%d", pr.Frame.Opcode, len(pr.Frame.Payload))
		}
		if h := l.Handler; h != nil {
			h.HandleFrame(ctx, pr.Frame)
		}
	}
}

func (l *Link) idleTimeout() time.Duration {
	if l.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return l.IdleTimeout
}
