package dispatch

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/robotalks/stepctl/pkg/l0/comm"
	"github.com/robotalks/stepctl/pkg/l0/stepper"
)

type fakeMotor struct {
	calls  []string
	values []float64
	status stepper.Status
	err    error
}

func (m *fakeMotor) record(call string, v float64) error {
	m.calls = append(m.calls, call)
	m.values = append(m.values, v)
	return m.err
}

func (m *fakeMotor) SetSpeed(speed float64) error   { return m.record("speed", speed) }
func (m *fakeMotor) SetAngle(angle float64)         { m.record("angle", angle) }
func (m *fakeMotor) Rotate(delta float64) error     { return m.record("rotate", delta) }
func (m *fakeMotor) RotateAbs(target float64) error { return m.record("abs", target) }
func (m *fakeMotor) Stop()                          { m.record("stop", 0) }
func (m *fakeMotor) Status() stepper.Status         { return m.status }

type fakeTx struct {
	lock   sync.Mutex
	frames []*comm.Frame
	busy   bool
}

func (tx *fakeTx) Transmit(buf []byte) error {
	tx.lock.Lock()
	defer tx.lock.Unlock()
	if tx.busy {
		return comm.ErrBusy
	}
	p := comm.NewResponseParser()
	for _, b := range buf {
		if pr := p.Parse(b); pr.Frame != nil {
			tx.frames = append(tx.frames, pr.Frame.Clone())
		}
	}
	return nil
}

func (tx *fakeTx) take() []*comm.Frame {
	tx.lock.Lock()
	defer tx.lock.Unlock()
	frames := tx.frames
	tx.frames = nil
	return frames
}

type fakeLED struct {
	r, g, b byte
}

func (l *fakeLED) SetRGB(r, g, b byte) { l.r, l.g, l.b = r, g, b }

type dispatchTestEnv struct {
	d      *Dispatcher
	tx     *fakeTx
	led    *fakeLED
	motors []*fakeMotor
}

func newDispatchTestEnv(cfg Config) *dispatchTestEnv {
	env := &dispatchTestEnv{
		tx:     &fakeTx{},
		led:    &fakeLED{},
		motors: []*fakeMotor{{}, {}, {}},
	}
	env.d = New(cfg, env.tx, env.motors[0], env.motors[1], env.motors[2])
	env.d.Indicator = env.led
	return env
}

func (e *dispatchTestEnv) connect(t *testing.T) {
	require.NoError(t, e.d.Dispatch(comm.OpHeartbeat, []byte{0x01}))
	require.True(t, e.d.Connected())
}

func motion(mask byte, value int32) []byte {
	return comm.AppendMotion(nil, binary.BigEndian, comm.MotionPayload{Mask: mask, Value: value})
}

func acksOf(frames []*comm.Frame) (acks []byte) {
	for _, f := range frames {
		if f.Opcode == comm.RespAck {
			acks = append(acks, f.Payload[0])
		}
	}
	return
}

func TestDispatchMotion(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	require.NoError(t, env.d.Dispatch(comm.OpSetSpeed, motion(0x05, 4550)))
	require.NoError(t, env.d.Dispatch(comm.OpRotate, motion(0x02, -90000)))
	require.NoError(t, env.d.Dispatch(comm.OpRotateAbs, motion(0x01, 1500)))
	require.NoError(t, env.d.Dispatch(comm.OpSetAngle, motion(0x04, 12345)))

	require.Equal(t, []string{"speed", "abs"}, env.motors[0].calls)
	require.Equal(t, []float64{45.5, 1.5}, env.motors[0].values)
	require.Equal(t, []string{"rotate"}, env.motors[1].calls)
	require.Equal(t, []float64{-90}, env.motors[1].values)
	require.Equal(t, []string{"speed", "angle"}, env.motors[2].calls)
	require.Equal(t, []float64{45.5, 12.345}, env.motors[2].values)
	require.Equal(t, 4, env.d.Acks().Pending())
}

func TestDispatchMaskBeyondAxes(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	require.NoError(t, env.d.Dispatch(comm.OpStop, []byte{0xF8}))
	for _, m := range env.motors {
		require.Empty(t, m.calls)
	}
	require.Equal(t, 1, env.d.Acks().Pending())
}

func TestDispatchAxisErrors(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	env.motors[0].err = stepper.ErrBusy
	env.motors[2].err = stepper.ErrTooFewPulses
	err := env.d.Dispatch(comm.OpRotate, motion(0x07, 1000))
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.True(t, errors.Is(err, stepper.ErrBusy))
	require.Equal(t, []string{"rotate"}, env.motors[1].calls)
	require.Equal(t, 1, env.d.Acks().Pending())
}

func TestDispatchRejected(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	require.Equal(t, comm.ErrShortPayload, env.d.Dispatch(comm.OpRotate, []byte{0x01, 0x00}))
	require.Equal(t, comm.ErrShortPayload, env.d.Dispatch(comm.OpStop, nil))
	require.Equal(t, comm.ErrShortPayload, env.d.Dispatch(comm.OpIndicator, []byte{1, 2}))
	err := env.d.Dispatch(0x42, []byte{0x01})
	var opErr *comm.UnknownOpcodeError
	require.True(t, errors.As(err, &opErr))
	require.Equal(t, byte(0x42), opErr.Opcode)
	require.Equal(t, 0, env.d.Acks().Pending())
	for _, m := range env.motors {
		require.Empty(t, m.calls)
	}
}

func TestDispatchHeartbeat(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	require.NoError(t, env.d.Dispatch(comm.OpHeartbeat, []byte{0x00}))
	require.False(t, env.d.Connected())
	require.NoError(t, env.d.Dispatch(comm.OpHeartbeat, nil))
	require.False(t, env.d.Connected())
	env.connect(t)
	require.Equal(t, 0, env.d.Acks().Pending())
	require.Equal(t, fakeLED{0xff, 0xff, 0xff}, *env.led)
}

func TestAckAfterDispatch(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	env.connect(t)
	payload := append(motion(0x01, 90000), 0x77, 0x88)
	require.NoError(t, env.d.Dispatch(comm.OpRotate, payload))
	require.NoError(t, env.d.Dispatch(comm.OpStop, []byte{0x01, 0x99}))
	require.NoError(t, env.d.Dispatch(comm.OpIndicator, []byte{0x10, 0x20, 0x30, 0x40}))
	require.Empty(t, env.tx.take())

	env.d.PeriodicTask()
	acks := acksOf(env.tx.take())
	require.Equal(t, []byte{
		comm.AckOf(comm.OpRotate, payload),
		comm.AckOf(comm.OpStop, []byte{0x01, 0x99}),
		comm.AckOf(comm.OpIndicator, []byte{0x10, 0x20, 0x30, 0x40}),
	}, acks)
	require.NotEqual(t, comm.AckOf(comm.OpRotate, payload[:comm.MotionPayloadSize]), acks[0])
	require.Equal(t, 0, env.d.Acks().Pending())
}

func TestIndicator(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	require.NoError(t, env.d.Dispatch(comm.OpStop, []byte{0x00}))
	require.Equal(t, fakeLED{0xff, 0xff, 0xff}, *env.led)
	env.connect(t)
	require.NoError(t, env.d.Dispatch(comm.OpIndicator, []byte{0x00, 0x80, 0x00}))
	require.Equal(t, fakeLED{0, 0x80, 0}, *env.led)
	require.NoError(t, env.d.Dispatch(comm.OpStop, []byte{0x00}))
	env.connect(t)
	require.Equal(t, fakeLED{0, 0x80, 0}, *env.led)

	for i := 0; i < HeartbeatTimeout; i++ {
		env.d.PeriodicTask()
	}
	require.Equal(t, fakeLED{0xff, 0, 0}, *env.led)
	require.NoError(t, env.d.Dispatch(comm.OpStop, []byte{0x00}))
	require.Equal(t, fakeLED{0xff, 0xff, 0xff}, *env.led)
}

func TestHeartbeatTimeout(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	env.connect(t)
	for i := 0; i < HeartbeatTimeout-1; i++ {
		env.d.PeriodicTask()
	}
	require.True(t, env.d.Connected())
	env.d.PeriodicTask()
	require.False(t, env.d.Connected())
	require.Equal(t, fakeLED{0xff, 0, 0}, *env.led)

	env.tx.take()
	require.NoError(t, env.d.Dispatch(comm.OpStop, []byte{0x01}))
	for i := 0; i < 20; i++ {
		env.d.PeriodicTask()
	}
	require.Empty(t, env.tx.take())
	require.Equal(t, 1, env.d.Acks().Pending())

	env.connect(t)
	env.d.PeriodicTask()
	require.Equal(t, []byte{comm.AckOf(comm.OpStop, []byte{0x01})}, acksOf(env.tx.take()))
}

func TestHeartbeatKeepsConnection(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	env.connect(t)
	for i := 0; i < 3*HeartbeatTimeout; i++ {
		if i%50 == 0 {
			env.connect(t)
		}
		env.d.PeriodicTask()
	}
	require.True(t, env.d.Connected())
}

func TestTelemetry(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	env.motors[0].status = stepper.Status{Speed: 90, Angle: 12.5, Target: 90, Rotating: true, Dir: stepper.DirCW}
	env.motors[2].status = stepper.Status{Speed: -30, Angle: -1}
	env.connect(t)
	for i := 0; i < TelemetryInterval-1; i++ {
		env.d.PeriodicTask()
	}
	require.Empty(t, env.tx.take())
	env.d.PeriodicTask()
	frames := env.tx.take()
	require.Len(t, frames, 1)
	require.Equal(t, comm.RespTelemetry, frames[0].Opcode)
	require.Len(t, frames[0].Payload, 3*comm.AxisReportSize)

	axes, err := comm.ParseTelemetry(frames[0].Payload, binary.BigEndian)
	require.NoError(t, err)
	require.Equal(t, []comm.AxisReport{
		{Speed: 90, Angle: 12.5, Target: 90, Rotating: true, Dir: 1},
		{},
		{Speed: -30, Angle: -1},
	}, axes)
}

func TestTelemetryLittleEndian(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ByteOrder = binary.LittleEndian
	cfg.TelemetryInterval = 1
	env := newDispatchTestEnv(cfg)
	env.motors[1].status = stepper.Status{Speed: 12.34}
	env.connect(t)
	env.d.PeriodicTask()
	frames := env.tx.take()
	require.Len(t, frames, 1)
	require.Equal(t, []byte{0xD2, 0x04, 0, 0}, frames[0].Payload[comm.AxisReportSize:comm.AxisReportSize+4])
}

func TestTransmitterBusy(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	env.connect(t)
	require.NoError(t, env.d.Dispatch(comm.OpStop, []byte{0x01}))
	env.tx.busy = true
	env.d.PeriodicTask()
	env.tx.busy = false
	require.Equal(t, 0, env.d.Acks().Pending())
	require.Empty(t, env.tx.take())
}

func TestAckQueueOverflow(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	env.connect(t)
	for i := 0; i < AckQueueSize+5; i++ {
		require.NoError(t, env.d.Dispatch(comm.OpStop, []byte{byte(i)}))
	}
	require.Equal(t, AckQueueSize, env.d.Acks().Pending())
	env.d.PeriodicTask()
	acks := acksOf(env.tx.take())
	require.Len(t, acks, AckQueueSize)
	require.Equal(t, comm.AckOf(comm.OpStop, []byte{0}), acks[0])
	require.Equal(t, comm.AckOf(comm.OpStop, []byte{AckQueueSize - 1}), acks[AckQueueSize-1])
}

func TestAckSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AckStrategy = AckSlot
	env := newDispatchTestEnv(cfg)
	env.connect(t)
	require.NoError(t, env.d.Dispatch(comm.OpStop, []byte{0x01}))
	require.NoError(t, env.d.Dispatch(comm.OpStop, []byte{0x02}))
	require.Equal(t, 1, env.d.Acks().Pending())
	env.d.PeriodicTask()
	require.Equal(t, []byte{comm.AckOf(comm.OpStop, []byte{0x02})}, acksOf(env.tx.take()))
}

func TestSendEvent(t *testing.T) {
	env := newDispatchTestEnv(DefaultConfig())
	require.NoError(t, env.d.SendEvent(comm.EventKeyLong, comm.EventOpSet))
	frames := env.tx.take()
	require.Len(t, frames, 1)
	require.Equal(t, comm.RespEvent, frames[0].Opcode)
	require.Equal(t, []byte{comm.EventKeyLong, comm.EventOpSet}, frames[0].Payload)

	env.tx.busy = true
	require.Equal(t, comm.ErrBusy, env.d.SendEvent(comm.EventKeyShort, comm.EventOpSet))
}

func TestParseAckStrategy(t *testing.T) {
	s, err := ParseAckStrategy("")
	require.NoError(t, err)
	require.Equal(t, AckFIFO, s)
	s, err = ParseAckStrategy("slot")
	require.NoError(t, err)
	require.Equal(t, AckSlot, s)
	_, err = ParseAckStrategy("lifo")
	require.Error(t, err)
}

func TestDispatchWithAxes(t *testing.T) {
	cfg := stepper.DefaultConfig()
	axis := stepper.NewAxis("step1", cfg, stepper.Hardware{
		Pulse:   &nopPulse{},
		Counter: &nopCounter{},
		Dir:     nopPin{},
	})
	d := New(DefaultConfig(), nil, axis)
	require.NoError(t, d.Dispatch(comm.OpSetSpeed, motion(0x01, 9000)))
	require.NoError(t, d.Dispatch(comm.OpRotate, motion(0x01, 90000)))
	require.True(t, axis.Rotating())
	err := d.Dispatch(comm.OpRotate, motion(0x01, 90000))
	require.True(t, errors.Is(err, stepper.ErrBusy))
	require.Equal(t, 3, d.Acks().Pending())
	require.NoError(t, d.Dispatch(comm.OpStop, []byte{0x01}))
	require.False(t, axis.Rotating())
}

type nopPulse struct{}

func (nopPulse) Configure(prescaler, period, compare uint32) {}
func (nopPulse) ResetCounter()                               {}
func (nopPulse) Start()                                      {}
func (nopPulse) Stop()                                       {}

type nopCounter struct{ reload uint32 }

func (c *nopCounter) SetReload(v uint32) { c.reload = v }
func (c *nopCounter) Reload() uint32     { return c.reload }
func (c *nopCounter) Counter() uint32    { return 0 }
func (c *nopCounter) ResetCounter()      {}
func (c *nopCounter) Start()             {}
func (c *nopCounter) Stop()              {}

type nopPin struct{}

func (nopPin) Set(bool) {}
