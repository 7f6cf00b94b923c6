package stream

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/stepctl/pkg/l0/comm"
)

// Recorder writes every received frame as a packet, then passes it on.
type Recorder struct {
	Writer PacketWriter
	Layout comm.Layout
	Next   comm.FrameHandler

	lock  sync.Mutex
	buf   []byte
	count int
	err   error
}

// NewRecorder creates a Recorder of response frames.
func NewRecorder(w io.Writer, next comm.FrameHandler) *Recorder {
	return &Recorder{
		Writer: New(struct {
			io.Reader
			io.Writer
		}{Writer: w}),
		Layout: comm.ResponseLayout,
		Next:   next,
	}
}

// HandleFrame implements comm.FrameHandler.
func (r *Recorder) HandleFrame(ctx context.Context, f *comm.Frame) {
	r.lock.Lock()
	if r.err == nil {
		r.buf = f.Append(r.buf[:0], r.Layout)
		if r.err = r.Writer.WritePacket(r.buf); r.err != nil {
			glog.Errorf("[REC] recording stopped: %v", r.err)
		} else {
			r.count++
		}
	}
	r.lock.Unlock()
	if r.Next != nil {
		r.Next.HandleFrame(ctx, f)
	}
}

// Count returns the number of recorded frames.
func (r *Recorder) Count() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.count
}

// Err returns the error which stopped recording.
func (r *Recorder) Err() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.err
}

// Replay replays packets recorded on a stream.
func Replay(ctx context.Context, r io.Reader, parser *comm.Parser, handler comm.FrameHandler) (int, error) {
	return ReplayPackets(ctx, New(struct {
		io.Reader
		io.Writer
	}{Reader: r}), parser, handler)
}

// ReplayPackets parses recorded packets and passes the frames to handler.
// It returns the number of frames replayed. A packet which doesn't
// decode to exactly one frame is skipped.
func ReplayPackets(ctx context.Context, rw PacketReader, parser *comm.Parser, handler comm.FrameHandler) (int, error) {
	count := 0
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		pkt, err := rw.ReadPacket()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, errors.Wrapf(err, "packet %d", n)
		}
		parser.Reset()
		var frame *comm.Frame
		for _, b := range pkt {
			pr := parser.Parse(b)
			if pr.Err != nil {
				glog.Warningf("[REC] packet %d: %v", n, pr.Err)
			}
			if pr.Frame != nil {
				frame = pr.Frame
			}
		}
		if frame == nil || parser.Receiving() {
			glog.Warningf("[REC] packet %d skipped", n)
			continue
		}
		handler.HandleFrame(ctx, frame)
		count++
	}
}
