package comm

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Client defaults.
const (
	DefaultAckTimeout        = 100 * time.Millisecond
	DefaultAckRetries        = 3
	DefaultHeartbeatInterval = 250 * time.Millisecond
	DefaultConnTimeout       = 500 * time.Millisecond
	DefaultAckPurgeAge       = 500 * time.Millisecond
)

// ClientListener receives notifications from a Client.
type ClientListener interface {
	TelemetryReceived(axes []AxisReport)
	EventReceived(ev Event)
	ConnectionChanged(connected bool)
}

// ClientCaster casts notifications to multiple listeners.
type ClientCaster struct {
	listeners []ClientListener
}

// Subscribe adds a listener.
func (c *ClientCaster) Subscribe(ln ClientListener) {
	c.listeners = append(c.listeners, ln)
}

// TelemetryReceived implements ClientListener.
func (c *ClientCaster) TelemetryReceived(axes []AxisReport) {
	for _, ln := range c.listeners {
		ln.TelemetryReceived(axes)
	}
}

// EventReceived implements ClientListener.
func (c *ClientCaster) EventReceived(ev Event) {
	for _, ln := range c.listeners {
		ln.EventReceived(ev)
	}
}

// ConnectionChanged implements ClientListener.
func (c *ClientCaster) ConnectionChanged(connected bool) {
	for _, ln := range c.listeners {
		ln.ConnectionChanged(connected)
	}
}

// Client provides host side operations over a Link.
type Client struct {
	ClientCaster

	// Order is the byte order of multi-byte fields.
	Order             binary.ByteOrder
	AckTimeout        time.Duration
	AckRetries        int
	HeartbeatInterval time.Duration
	ConnTimeout       time.Duration
	AckPurgeAge       time.Duration

	link      *Link
	eventCh   chan Event
	lock      sync.Mutex
	pending   map[byte]chan struct{}
	unclaimed map[byte]time.Time
	axes      []AxisReport
	connected bool
	lastRecv  time.Time
}

// NewClient creates client and wraps the link.
func NewClient(link *Link) *Client {
	c := &Client{
		Order:             DefaultByteOrder,
		AckTimeout:        DefaultAckTimeout,
		AckRetries:        DefaultAckRetries,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ConnTimeout:       DefaultConnTimeout,
		AckPurgeAge:       DefaultAckPurgeAge,
		link:              link,
		eventCh:           make(chan Event, 16),
		pending:           make(map[byte]chan struct{}),
		unclaimed:         make(map[byte]time.Time),
	}
	link.Handler = c
	return c
}

// NewClientOn creates a Client on a stream with a response parser.
func NewClientOn(rw io.ReadWriter) *Client {
	return NewClient(NewLink(rw, NewResponseParser()))
}

// Link gets wrapped Link.
func (c *Client) Link() *Link {
	return c.link
}

// EventChan retrieves the event reporting chan.
// Events are dropped if the chan is full.
func (c *Client) EventChan() <-chan Event {
	return c.eventCh
}

// Connected tells if the firmware is reporting.
func (c *Client) Connected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.connected
}

// State returns the last received telemetry.
func (c *Client) State() []AxisReport {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]AxisReport(nil), c.axes...)
}

// Send sends a command without waiting for ACK.
func (c *Client) Send(op byte, payload []byte) error {
	return c.link.Send(&Frame{Header: HeaderHost, Opcode: op, Payload: payload}, CommandLayout)
}

// Do sends a command and waits for its ACK, resending on timeout.
func (c *Client) Do(ctx context.Context, op byte, payload []byte) error {
	ack := AckOf(op, payload)
	retries := c.AckRetries
	if retries <= 0 {
		retries = 1
	}
	for n := 0; n < retries; n++ {
		ch := c.expectAck(ack)
		if err := c.Send(op, payload); err != nil {
			c.dropAck(ack, ch)
			return err
		}
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			c.dropAck(ack, ch)
			return ctx.Err()
		case <-time.After(c.AckTimeout):
			c.dropAck(ack, ch)
			glog.Warningf("[COM] ACK 0x%02x timeout, retry %d", ack, retries-n-1)
		}
	}
	glog.Errorf("[COM] ACK 0x%02x reached max retry", ack)
	return ErrNoAck
}

func (c *Client) motion(ctx context.Context, op, mask byte, value int32) error {
	return c.Do(ctx, op, AppendMotion(nil, c.Order, MotionPayload{Mask: mask, Value: value}))
}

// SetSpeed sets speed in deg/s of axes selected by mask.
func (c *Client) SetSpeed(ctx context.Context, mask byte, speed float64) error {
	return c.motion(ctx, OpSetSpeed, mask, ToFixed(speed, SpeedScale))
}

// SetAngle resets the current angle of axes selected by mask.
func (c *Client) SetAngle(ctx context.Context, mask byte, angle float64) error {
	return c.motion(ctx, OpSetAngle, mask, ToFixed(angle, AngleScale))
}

// Rotate rotates axes selected by mask by delta degrees.
func (c *Client) Rotate(ctx context.Context, mask byte, delta float64) error {
	return c.motion(ctx, OpRotate, mask, ToFixed(delta, AngleScale))
}

// RotateAbs rotates axes selected by mask to the target angle.
func (c *Client) RotateAbs(ctx context.Context, mask byte, target float64) error {
	return c.motion(ctx, OpRotateAbs, mask, ToFixed(target, AngleScale))
}

// Stop stops axes selected by mask.
func (c *Client) Stop(ctx context.Context, mask byte) error {
	return c.Do(ctx, OpStop, []byte{mask})
}

// SetIndicator sets the board RGB indicator.
func (c *Client) SetIndicator(ctx context.Context, r, g, b byte) error {
	return c.Do(ctx, OpIndicator, []byte{r, g, b})
}

// Heartbeat sends a heartbeat, which is never ACKed.
func (c *Client) Heartbeat() error {
	return c.Send(OpHeartbeat, []byte{0x01})
}

// HandleFrame implements FrameHandler.
func (c *Client) HandleFrame(ctx context.Context, f *Frame) {
	now := time.Now()
	c.lock.Lock()
	c.lastRecv = now
	c.lock.Unlock()

	switch f.Opcode {
	case RespTelemetry:
		axes, err := ParseTelemetry(f.Payload, c.Order)
		if err != nil {
			glog.Warningf("[COM] bad telemetry: %v", err)
			return
		}
		c.lock.Lock()
		c.axes = axes
		changed := !c.connected
		c.connected = true
		c.lock.Unlock()
		if changed {
			glog.Info("[COM] connected")
			c.ConnectionChanged(true)
		}
		c.TelemetryReceived(axes)
	case RespAck:
		ack, err := ParseAck(f.Payload)
		if err != nil {
			return
		}
		c.lock.Lock()
		if ch, ok := c.pending[ack]; ok {
			delete(c.pending, ack)
			close(ch)
		} else {
			c.unclaimed[ack] = now
		}
		c.lock.Unlock()
	case RespEvent:
		ev, err := ParseEvent(f.Payload)
		if err != nil {
			return
		}
		select {
		case c.eventCh <- ev:
		default:
		}
		c.EventReceived(ev)
	default:
		glog.Warning(&UnknownOpcodeError{Opcode: f.Opcode})
	}
}

// Run runs the link, sends heartbeats and tracks the connection.
func (c *Client) Run(ctx context.Context) error {
	c.lock.Lock()
	c.lastRecv = time.Now()
	c.lock.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- c.link.Run(ctx) }()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	var lastHeartbeat time.Time
	for {
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return <-errCh
		case now := <-ticker.C:
			if now.Sub(lastHeartbeat) >= c.HeartbeatInterval {
				if err := c.Heartbeat(); err != nil {
					glog.Warningf("[COM] heartbeat: %v", err)
				}
				lastHeartbeat = now
			}
			c.checkConnection(now)
			c.purgeAcks(now)
		}
	}
}

func (c *Client) checkConnection(now time.Time) {
	c.lock.Lock()
	lost := c.connected && now.Sub(c.lastRecv) > c.ConnTimeout
	if lost {
		c.connected = false
	}
	c.lock.Unlock()
	if lost {
		glog.Warning("[COM] disconnected")
		c.ConnectionChanged(false)
	}
}

func (c *Client) purgeAcks(now time.Time) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	var n int
	for ack, at := range c.unclaimed {
		if now.Sub(at) > c.AckPurgeAge {
			delete(c.unclaimed, ack)
			n++
		}
	}
	if n > 0 {
		glog.Warningf("[COM] removed %d unrecognized ACK", n)
	}
	return n
}

func (c *Client) expectAck(ack byte) chan struct{} {
	c.lock.Lock()
	defer c.lock.Unlock()
	ch := make(chan struct{})
	delete(c.unclaimed, ack)
	c.pending[ack] = ch
	return ch
}

func (c *Client) dropAck(ack byte, ch chan struct{}) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.pending[ack] == ch {
		delete(c.pending, ack)
	}
}
