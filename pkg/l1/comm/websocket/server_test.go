package websocket

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/robotalks/stepctl/pkg/l0/comm"
	"github.com/robotalks/stepctl/pkg/l1/msgs"
)

var serverTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func dialTelemetry(t *testing.T, s *Server, baseURL string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(baseURL, "http") + PathTelemetry
	conn, err := websocket.Dial(url, "", "http://localhost/")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, time.Millisecond)
	return conn
}

func TestServerStreamsJSON(t *testing.T) {
	s := NewServer("dev1")
	s.Now = func() time.Time { return serverTime }
	hs := httptest.NewServer(s.Handler())
	defer hs.Close()
	conn := dialTelemetry(t, s, hs.URL)

	s.ConnectionChanged(true)
	s.TelemetryReceived([]comm.AxisReport{{Speed: 90, Angle: 30, Target: 90, Rotating: true, Dir: 1}})
	var text string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, websocket.Message.Receive(conn, &text))
	st, err := msgs.JSONCodec{}.DecodeState([]byte(text))
	require.NoError(t, err)
	require.Equal(t, "dev1", st.Device)
	require.True(t, st.Connected)
	require.Len(t, st.Axes, 1)
	require.Equal(t, 30.0, st.Axes[0].Angle)

	s.EventReceived(comm.Event{Code: comm.EventKeyLong, Op: comm.EventOpSet})
	require.NoError(t, websocket.Message.Receive(conn, &text))
	ev, err := msgs.JSONCodec{}.DecodeEvent([]byte(text))
	require.NoError(t, err)
	require.Equal(t, "long", ev.Kind)

	conn.Close()
	require.Eventually(t, func() bool { return s.Clients() == 0 }, time.Second, time.Millisecond)
}

func TestServerStreamsProto(t *testing.T) {
	s := NewServer("dev1")
	s.Codec = msgs.ProtoCodec{}
	hs := httptest.NewServer(s.Handler())
	defer hs.Close()
	conn := dialTelemetry(t, s, hs.URL)

	s.TelemetryReceived([]comm.AxisReport{{Speed: 10}})
	var data []byte
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, websocket.Message.Receive(conn, &data))
	st, err := msgs.ProtoCodec{}.DecodeState(data)
	require.NoError(t, err)
	require.Equal(t, 10.0, st.Axes[0].Speed)
	require.False(t, st.Connected)
}

func TestServeCanceled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer("dev1").Serve(ctx, ln) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server not stopped")
	}
}
