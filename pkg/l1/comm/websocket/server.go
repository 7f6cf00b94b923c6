package websocket

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/net/websocket"

	"github.com/robotalks/stepctl/pkg/l0/comm"
	"github.com/robotalks/stepctl/pkg/l1/msgs"
)

// PathTelemetry is the websocket endpoint streaming telemetry.
const PathTelemetry = "/telemetry"

// ClientQueue is the number of messages buffered per client.
// Messages to a client with a full queue are dropped.
const ClientQueue = 16

// Server streams device telemetry and events to websocket clients.
// Text messages carry JSON; with a binary codec, messages are binary.
type Server struct {
	DeviceID string
	Codec    msgs.Codec
	Now      func() time.Time

	lock      sync.Mutex
	clients   map[*wsClient]struct{}
	connected bool
}

type wsClient struct {
	rw    *ReadWriter
	queue chan []byte
}

// NewServer creates a Server with JSON codec.
func NewServer(deviceID string) *Server {
	return &Server{
		DeviceID: deviceID,
		Codec:    msgs.JSONCodec{},
		Now:      time.Now,
		clients:  make(map[*wsClient]struct{}),
	}
}

// Handler returns the http.Handler serving PathTelemetry.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(PathTelemetry, websocket.Handler(s.serve))
	return mux
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.clients)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	glog.Infof("[WS] serving on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) serve(conn *websocket.Conn) {
	c := &wsClient{rw: New(conn), queue: make(chan []byte, ClientQueue)}
	send := c.rw.WritePacket
	if s.Codec.Name() == msgs.CodecJSON {
		send = c.rw.WriteText
	}
	s.lock.Lock()
	if s.clients == nil {
		s.clients = make(map[*wsClient]struct{})
	}
	s.clients[c] = struct{}{}
	s.lock.Unlock()
	glog.V(2).Infof("[WS] client %s connected", conn.Request().RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := c.rw.ReadPacket(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.lock.Lock()
		delete(s.clients, c)
		s.lock.Unlock()
		glog.V(2).Infof("[WS] client %s disconnected", conn.Request().RemoteAddr)
	}()
	for {
		select {
		case <-done:
			return
		case msg := <-c.queue:
			if err := send(msg); err != nil {
				glog.Warningf("[WS] send: %v", err)
				return
			}
		}
	}
}

func (s *Server) broadcast(msg []byte) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for c := range s.clients {
		select {
		case c.queue <- msg:
		default:
		}
	}
}

// TelemetryReceived implements comm.ClientListener.
func (s *Server) TelemetryReceived(axes []comm.AxisReport) {
	s.lock.Lock()
	connected := s.connected
	s.lock.Unlock()
	data, err := s.Codec.EncodeState(msgs.StateFrom(s.DeviceID, s.Now(), connected, axes))
	if err != nil {
		glog.Errorf("[WS] encode state: %v", err)
		return
	}
	s.broadcast(data)
}

// EventReceived implements comm.ClientListener.
func (s *Server) EventReceived(ev comm.Event) {
	data, err := s.Codec.EncodeEvent(msgs.EventFrom(s.DeviceID, s.Now(), ev))
	if err != nil {
		glog.Errorf("[WS] encode event: %v", err)
		return
	}
	s.broadcast(data)
}

// ConnectionChanged implements comm.ClientListener.
func (s *Server) ConnectionChanged(connected bool) {
	s.lock.Lock()
	s.connected = connected
	s.lock.Unlock()
}
