package dispatch

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"go.uber.org/multierr"

	fx "github.com/robotalks/stepctl/pkg/framework"
	"github.com/robotalks/stepctl/pkg/l0/comm"
	"github.com/robotalks/stepctl/pkg/l0/stepper"
)

// Motor is the axis interface driven by commands.
type Motor interface {
	SetSpeed(speed float64) error
	SetAngle(angle float64)
	Rotate(delta float64) error
	RotateAbs(target float64) error
	Stop()
	Status() stepper.Status
}

// Transmitter sends bytes without blocking. The buffer is copied.
// It returns comm.ErrBusy when the bytes can't be queued.
type Transmitter interface {
	Transmit(buf []byte) error
}

// Indicator is the board RGB LED. A channel is on if non-zero.
// The dispatcher lights it on received frames and connection changes,
// until the host sets a colour explicitly, which holds until the next
// disconnection.
type Indicator interface {
	SetRGB(r, g, b byte)
}

// Dispatcher executes commands from the host and reports back.
type Dispatcher struct {
	Config
	Axes      []Motor
	Tx        Transmitter
	Indicator Indicator

	acks AckQueue

	lock           sync.Mutex
	connected      bool
	manualLED      bool
	heartbeatTicks int
	telemetryTicks int
	txBuf          []byte
	payloadBuf     []byte
}

// New creates a Dispatcher.
func New(cfg Config, tx Transmitter, axes ...Motor) *Dispatcher {
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = comm.DefaultByteOrder
	}
	return &Dispatcher{
		Config: cfg,
		Axes:   axes,
		Tx:     tx,
		acks:   cfg.NewAckQueue(),
	}
}

// Acks returns the ACK queue.
func (d *Dispatcher) Acks() AckQueue {
	return d.acks
}

// Connected tells if the host is sending heartbeats.
func (d *Dispatcher) Connected() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.connected
}

// HandleFrame implements comm.FrameHandler.
func (d *Dispatcher) HandleFrame(ctx context.Context, f *comm.Frame) {
	d.Dispatch(f.Opcode, f.Payload)
}

// Dispatch executes a command. ACKs are queued, never sent here. The ACK
// covers the whole payload, including bytes the command doesn't use.
func (d *Dispatcher) Dispatch(op byte, payload []byte) error {
	d.autoIndicate(0xff, 0xff, 0xff)
	switch op {
	case comm.OpHeartbeat:
		if len(payload) > 0 && payload[0] == 0x01 {
			d.alive()
		}
		return nil
	case comm.OpSetSpeed, comm.OpSetAngle, comm.OpRotate, comm.OpRotateAbs:
		m, err := comm.ParseMotion(payload, d.ByteOrder)
		if err != nil {
			glog.Errorf("[COM] op 0x%02x: %v", op, err)
			return err
		}
		err = d.motion(op, m)
		d.ack(op, payload)
		return err
	case comm.OpStop:
		if len(payload) < 1 {
			glog.Errorf("[COM] stop: %v", comm.ErrShortPayload)
			return comm.ErrShortPayload
		}
		glog.V(2).Infof("[COM] stop 0x%02x", payload[0])
		d.forAxes(payload[0], func(m Motor) error {
			m.Stop()
			return nil
		})
		d.ack(op, payload)
		return nil
	case comm.OpIndicator:
		if len(payload) < 3 {
			glog.Errorf("[COM] indicator: %v", comm.ErrShortPayload)
			return comm.ErrShortPayload
		}
		d.lock.Lock()
		d.manualLED = true
		d.lock.Unlock()
		d.indicate(payload[0], payload[1], payload[2])
		d.ack(op, payload)
		return nil
	}
	err := &comm.UnknownOpcodeError{Opcode: op}
	glog.Errorf("[COM] %v", err)
	return err
}

func (d *Dispatcher) motion(op byte, m comm.MotionPayload) error {
	switch op {
	case comm.OpSetSpeed:
		speed := comm.FromFixed(m.Value, comm.SpeedScale)
		glog.V(2).Infof("[COM] set step speed: 0x%02x, %f", m.Mask, speed)
		return d.forAxes(m.Mask, func(a Motor) error { return a.SetSpeed(speed) })
	case comm.OpSetAngle:
		angle := comm.FromFixed(m.Value, comm.AngleScale)
		glog.V(2).Infof("[COM] set step angle: 0x%02x, %f", m.Mask, angle)
		return d.forAxes(m.Mask, func(a Motor) error {
			a.SetAngle(angle)
			return nil
		})
	case comm.OpRotate:
		angle := comm.FromFixed(m.Value, comm.AngleScale)
		glog.V(2).Infof("[COM] rotate: 0x%02x, %f", m.Mask, angle)
		return d.forAxes(m.Mask, func(a Motor) error { return a.Rotate(angle) })
	default:
		angle := comm.FromFixed(m.Value, comm.AngleScale)
		glog.V(2).Infof("[COM] rotate abs: 0x%02x, %f", m.Mask, angle)
		return d.forAxes(m.Mask, func(a Motor) error { return a.RotateAbs(angle) })
	}
}

// forAxes applies fn to axes selected by mask. Bits beyond the axes
// are ignored.
func (d *Dispatcher) forAxes(mask byte, fn func(Motor) error) (err error) {
	for i, axis := range d.Axes {
		if i < 8 && mask&(1<<uint(i)) != 0 {
			err = multierr.Append(err, fn(axis))
		}
	}
	return
}

func (d *Dispatcher) ack(op byte, payload []byte) {
	ack := comm.AckOf(op, payload)
	if !d.acks.Push(ack) {
		glog.Warningf("[COM] ack queue full, 0x%02x dropped", ack)
	}
}

func (d *Dispatcher) alive() {
	d.lock.Lock()
	d.heartbeatTicks = 0
	changed := !d.connected
	d.connected = true
	d.lock.Unlock()
	if changed {
		d.autoIndicate(0xff, 0xff, 0xff)
		glog.Info("[COM] connected")
	}
}

func (d *Dispatcher) autoIndicate(r, g, b byte) {
	d.lock.Lock()
	manual := d.manualLED
	d.lock.Unlock()
	if !manual {
		d.indicate(r, g, b)
	}
}

func (d *Dispatcher) indicate(r, g, b byte) {
	if ind := d.Indicator; ind != nil {
		ind.SetRGB(r, g, b)
	}
}

// PeriodicTask checks heartbeat, sends ACKs and telemetry.
// It's expected to run at TaskRate.
func (d *Dispatcher) PeriodicTask() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.connected {
		return
	}
	d.heartbeatTicks++
	if d.heartbeatTicks >= d.HeartbeatTimeout {
		d.connected, d.manualLED = false, false
		d.indicate(0xff, 0, 0)
		glog.Warning("[COM] disconnected")
		return
	}

	d.acks.Flush(func(ack byte) {
		d.txBuf = comm.AppendAckFrame(d.txBuf[:0], ack)
		d.transmit("ack")
	})

	d.telemetryTicks++
	if d.telemetryTicks >= d.TelemetryInterval {
		d.telemetryTicks = 0
		d.sendTelemetry()
	}
}

// Telemetry returns the current state of all axes.
func (d *Dispatcher) Telemetry() []comm.AxisReport {
	axes := make([]comm.AxisReport, len(d.Axes))
	for i, axis := range d.Axes {
		st := axis.Status()
		axes[i] = comm.AxisReport{
			Speed:    st.Speed,
			Angle:    st.Angle,
			Target:   st.Target,
			Rotating: st.Rotating,
			Dir:      st.Dir,
		}
	}
	return axes
}

func (d *Dispatcher) sendTelemetry() {
	d.payloadBuf = comm.AppendTelemetry(d.payloadBuf[:0], d.ByteOrder, d.Telemetry())
	d.txBuf = comm.AppendResponse(d.txBuf[:0], comm.RespTelemetry, d.payloadBuf)
	d.transmit("telemetry")
}

// SendEvent sends an event frame immediately.
func (d *Dispatcher) SendEvent(code, op byte) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.txBuf = comm.AppendEventFrame(d.txBuf[:0], comm.Event{Code: code, Op: op})
	return d.transmit("event")
}

func (d *Dispatcher) transmit(what string) error {
	if d.Tx == nil {
		return nil
	}
	err := d.Tx.Transmit(d.txBuf)
	if err != nil {
		glog.Warningf("[COM] %s dropped: %v", what, err)
	}
	return err
}

// AddToLoop implements LoopAdder.
func (d *Dispatcher) AddToLoop(l *fx.Loop) {
	l.AddTask("usercom", d.PeriodicTask, TaskRate)
}
