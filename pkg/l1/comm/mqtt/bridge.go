package mqtt

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/robotalks/stepctl/pkg/l0/comm"
	"github.com/robotalks/stepctl/pkg/l1/msgs"
)

// Topic suffixes under the device topic.
const (
	TopicState   = "state"
	TopicEvent   = "event"
	TopicConn    = "conn"
	TopicCommand = "cmd"
)

// Connection payloads published retained on TopicConn.
const (
	ConnOnline  = "online"
	ConnOffline = "offline"
)

// Command names accepted under TopicCommand.
const (
	CmdSpeed  = "speed"
	CmdAngle  = "angle"
	CmdRotate = "rotate"
	CmdAbs    = "abs"
	CmdStop   = "stop"
)

// DefaultCommandTimeout bounds a command forwarded to the device.
const DefaultCommandTimeout = time.Second

// Commander executes motion commands on a device.
type Commander interface {
	SetSpeed(ctx context.Context, mask byte, speed float64) error
	SetAngle(ctx context.Context, mask byte, angle float64) error
	Rotate(ctx context.Context, mask byte, delta float64) error
	RotateAbs(ctx context.Context, mask byte, target float64) error
	Stop(ctx context.Context, mask byte) error
}

// Bridge relays device telemetry and events to the message bus and
// forwards commands from the bus to the device.
type Bridge struct {
	PubSub         PubSub
	Commander      Commander
	DeviceID       string
	Codec          msgs.Codec
	CommandTimeout time.Duration
	Now            func() time.Time

	lock      sync.Mutex
	connected bool
	ctx       context.Context
}

// NewBridge creates a Bridge using the JSON codec.
func NewBridge(ps PubSub, cmdr Commander, deviceID string) *Bridge {
	return &Bridge{
		PubSub:         ps,
		Commander:      cmdr,
		DeviceID:       deviceID,
		Codec:          msgs.JSONCodec{},
		CommandTimeout: DefaultCommandTimeout,
		Now:            time.Now,
	}
}

// Topic returns the full topic of a suffix for the device.
func (b *Bridge) Topic(suffix string) string {
	return path.Join(b.DeviceID, suffix)
}

// TelemetryReceived implements comm.ClientListener.
func (b *Bridge) TelemetryReceived(axes []comm.AxisReport) {
	b.lock.Lock()
	connected := b.connected
	b.lock.Unlock()
	data, err := b.Codec.EncodeState(msgs.StateFrom(b.DeviceID, b.Now(), connected, axes))
	if err != nil {
		glog.Errorf("[MQTT] encode state: %v", err)
		return
	}
	if err := b.PubSub.Publish(b.Topic(TopicState), data, false); err != nil {
		glog.Warningf("[MQTT] %v", err)
	}
}

// EventReceived implements comm.ClientListener.
func (b *Bridge) EventReceived(ev comm.Event) {
	data, err := b.Codec.EncodeEvent(msgs.EventFrom(b.DeviceID, b.Now(), ev))
	if err != nil {
		glog.Errorf("[MQTT] encode event: %v", err)
		return
	}
	if err := b.PubSub.Publish(b.Topic(TopicEvent), data, false); err != nil {
		glog.Warningf("[MQTT] %v", err)
	}
}

// ConnectionChanged implements comm.ClientListener.
func (b *Bridge) ConnectionChanged(connected bool) {
	b.lock.Lock()
	b.connected = connected
	b.lock.Unlock()
	if err := b.publishConn(connected); err != nil {
		glog.Warningf("[MQTT] %v", err)
	}
}

func (b *Bridge) publishConn(online bool) error {
	payload := ConnOffline
	if online {
		payload = ConnOnline
	}
	return b.PubSub.Publish(b.Topic(TopicConn), []byte(payload), true)
}

// Run subscribes to commands and blocks until ctx is done.
// The device is reported offline on exit.
func (b *Bridge) Run(ctx context.Context) (err error) {
	b.lock.Lock()
	b.ctx = ctx
	connected := b.connected
	b.lock.Unlock()

	sub, err := b.PubSub.Subscribe(b.Topic(TopicCommand+"/+"), b.handleCommand)
	if err != nil {
		return err
	}
	if err = b.publishConn(connected); err != nil {
		sub.Close()
		return err
	}
	glog.Infof("[MQTT] bridging %s", b.DeviceID)
	<-ctx.Done()
	return multierr.Combine(b.publishConn(false), sub.Close())
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	name := path.Base(topic)
	var cmd msgs.Command
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmd); err != nil {
			glog.Warningf("[MQTT] bad command %s: %v", name, err)
			return
		}
	}
	b.lock.Lock()
	ctx := b.ctx
	b.lock.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		if err := b.Execute(ctx, name, cmd); err != nil {
			glog.Warningf("[MQTT] command %s: %v", name, err)
		}
	}()
}

// Execute runs a named command on the device.
func (b *Bridge) Execute(ctx context.Context, name string, cmd msgs.Command) error {
	timeout := b.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	glog.V(2).Infof("[MQTT] CMD %s mask=%02x value=%v", name, cmd.Mask, cmd.Value)
	var err error
	switch name {
	case CmdSpeed:
		err = b.Commander.SetSpeed(ctx, cmd.Mask, cmd.Value)
	case CmdAngle:
		err = b.Commander.SetAngle(ctx, cmd.Mask, cmd.Value)
	case CmdRotate:
		err = b.Commander.Rotate(ctx, cmd.Mask, cmd.Value)
	case CmdAbs:
		err = b.Commander.RotateAbs(ctx, cmd.Mask, cmd.Value)
	case CmdStop:
		err = b.Commander.Stop(ctx, cmd.Mask)
	default:
		return errors.Errorf("unknown command %q", name)
	}
	return errors.Wrap(err, name)
}
