package uart

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/stepctl/pkg/l0/comm"
)

// blockingWriter holds every write until released.
type blockingWriter struct {
	lock    sync.Mutex
	buf     bytes.Buffer
	release chan struct{}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.buf.Write(p)
}

func (w *blockingWriter) String() string {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.buf.String()
}

func TestTransmitterBusy(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	tx := NewTransmitter(w, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tx.Run(ctx)

	buf := []byte("a")
	require.NoError(t, tx.Transmit(buf))
	buf[0] = 'x'
	require.NoError(t, tx.Transmit([]byte("b")))
	require.Eventually(t, func() bool { return len(tx.queue) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, tx.Transmit([]byte("c")))
	require.Equal(t, comm.ErrBusy, tx.Transmit([]byte("d")))
	require.Equal(t, 3, tx.Pending())

	close(w.release)
	tx.Flush()
	require.Equal(t, "abc", w.String())
	require.Equal(t, uint64(3), tx.Sent())
	require.Equal(t, 0, tx.Pending())
}

func TestTransmitterStops(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	close(w.release)
	tx := NewTransmitter(w, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, context.Canceled, tx.Run(ctx))
	require.NoError(t, tx.Transmit([]byte("a")))
	require.Equal(t, context.Canceled, tx.Run(ctx))
	tx.Flush()
	require.Equal(t, 0, tx.Pending())
	require.Zero(t, tx.Sent())
	require.Zero(t, tx.Failed())
	require.Equal(t, uint64(1), tx.Dropped())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestTransmitterWriteFailure(t *testing.T) {
	tx := NewTransmitter(failingWriter{}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tx.Run(ctx)
	require.NoError(t, tx.Transmit([]byte("a")))
	tx.Flush()
	require.Equal(t, uint64(1), tx.Failed())
	require.Zero(t, tx.Sent())
	require.Zero(t, tx.Dropped())
}

func TestReceiver(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()
	var lock sync.Mutex
	var received []byte
	var lines []string
	r := NewReceiver(local, func(b byte) {
		lock.Lock()
		defer lock.Unlock()
		received = append(received, b)
	}, func() {
		lock.Lock()
		defer lock.Unlock()
		lines = append(lines, string(received))
		received = nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	_, err := peer.Write([]byte("s:90"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(lines) == 1
	}, time.Second, time.Millisecond)
	_, err = peer.Write([]byte("p"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(lines) == 2
	}, time.Second, time.Millisecond)
	require.Equal(t, []string{"s:90", "p"}, lines)

	local.Close()
	select {
	case err := <-errCh:
		require.True(t, errors.Is(err, io.ErrClosedPipe))
	case <-time.After(time.Second):
		t.Fatal("receiver not stopped")
	}
}

func TestAcceptAndDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	portCh := make(chan Port, 1)
	go func() {
		port, err := Accept(ctx, ln)
		if err == nil {
			portCh <- port
		}
	}()

	cfg := DefaultConfig(ln.Addr().String())
	cfg.Driver = DriverTCP
	require.False(t, cfg.HasReadTimeout())
	client, err := Open(cfg)
	require.NoError(t, err)
	defer client.Close()

	server := <-portCh
	defer server.Close()
	_, err = client.Write([]byte{0xAA, 0x22})
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0x22}, buf)
}

func TestAcceptCanceled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Accept(ctx, ln)
	require.Equal(t, context.Canceled, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := DefaultConfig("/dev/null")
	cfg.Driver = "usb"
	_, err := Open(cfg)
	require.Error(t, err)
	require.True(t, cfg.HasReadTimeout())
}
