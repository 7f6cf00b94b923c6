package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/robotalks/stepctl/pkg/l0/uart"
	"github.com/robotalks/stepctl/pkg/l1/comm/mqtt"
	"github.com/robotalks/stepctl/pkg/l1/env"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool
	// CommandTimeout bounds a command waiting for ACK.
	CommandTimeout time.Duration

	Shell  *ishell.Shell
	Config *env.Config
	Loop   *ConnLoop
}

// ConnLoop is a running connection to the firmware.
type ConnLoop struct {
	Ctx    context.Context
	Cancel func()
	Device string
	Conn   *env.Conn

	done chan error
}

// Handler executes a command. A nil result prints "OK".
type Handler func(s *Shell, args []string) (interface{}, error)

// DefaultCommandTimeout is the default of Shell.CommandTimeout.
const DefaultCommandTimeout = time.Second

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&PortsCmd,
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
	}

	errNotConnected = fmt.Errorf("not connected")
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive:    !evalOnly,
		OutputJSON:     outputJSON,
		CommandTimeout: DefaultCommandTimeout,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// Cmd builds an ishell command from a Handler.
func Cmd(name string, aliases []string, help string, h Handler) ishell.Cmd {
	return ishell.Cmd{
		Name:    name,
		Aliases: aliases,
		Help:    help,
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			res, err := h(s, c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			out, err := s.Format(res)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(out)
		},
	}
}

// Format renders a command result.
func (s *Shell) Format(res interface{}) (string, error) {
	if s.OutputJSON {
		if res == nil {
			res = map[string]bool{"ok": true}
		}
		out, err := json.Marshal(res)
		return string(out), err
	}
	if res == nil {
		return "OK", nil
	}
	return fmt.Sprint(res), nil
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(h Handler) Handler {
	return func(s *Shell, args []string) (interface{}, error) {
		if s.Loop == nil {
			return nil, errNotConnected
		}
		return h(s, args)
	}
}

// DoCommand runs fn on the connection and waits for the ACK.
func (s *Shell) DoCommand(fn func(ctx context.Context, conn *env.Conn) error) error {
	if s.Loop == nil {
		return errNotConnected
	}
	timeout := s.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(s.Loop.Ctx, timeout)
	defer cancel()
	return fn(ctx, s.Loop.Conn)
}

// Connect opens a serial device and connects.
func (s *Shell) Connect(device string, baud int) error {
	conf := *s.Config
	conf.Port.Device = device
	if baud > 0 {
		conf.Port.Baud = baud
	}
	conn, err := conf.Connect()
	if err != nil {
		return err
	}
	s.Attach(device, conn)
	return nil
}

// ConnectOn connects on an opened stream.
func (s *Shell) ConnectOn(name string, rw io.ReadWriteCloser, readTimeout bool) error {
	conn, err := s.Config.NewConn(rw, readTimeout)
	if err != nil {
		return err
	}
	s.Attach(name, conn)
	return nil
}

// Attach runs conn as the current connection.
func (s *Shell) Attach(name string, conn *env.Conn) {
	s.Disconnect()
	loop := &ConnLoop{Device: name, Conn: conn, done: make(chan error, 1)}
	loop.Ctx, loop.Cancel = context.WithCancel(context.Background())
	go func() {
		loop.done <- conn.Run(loop.Ctx)
	}()
	s.Loop = loop
	s.setPrompt(fmt.Sprintf("%s > ", name))
}

// Disconnect disconnects current device.
func (s *Shell) Disconnect() {
	if s.Loop == nil {
		return
	}
	s.Loop.Cancel()
	if err := s.Loop.Conn.Close(); err != nil {
		glog.Warningf("close %s: %v", s.Loop.Device, err)
	}
	if err := <-s.Loop.done; err != nil {
		glog.Warningf("%s: %v", s.Loop.Device, err)
	}
	s.Loop = nil
	s.setPrompt(unconnectedPrompt)
}

func (s *Shell) setPrompt(prompt string) {
	if s.Shell != nil {
		s.Shell.SetPrompt(prompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if dev := s.Config.Port.Device; s.AutoConnect && dev != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", dev)
		}
		if err := s.Connect(dev, 0); err != nil {
			log.Fatalf("connect %q failed: %v", dev, err)
		}
	}
	defer s.Disconnect()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// ListPorts lists serial devices.
func ListPorts(s *Shell, args []string) (interface{}, error) {
	ports, err := uart.Ports()
	if err != nil {
		return nil, err
	}
	if s.OutputJSON {
		if ports == nil {
			ports = []string{}
		}
		return ports, nil
	}
	if len(ports) == 0 {
		return "No serial ports found", nil
	}
	return lines(ports), nil
}

// Discover lists devices announced on the MQTT broker.
func Discover(s *Shell, args []string) (interface{}, error) {
	q, err := s.Config.NewQueue()
	if err != nil {
		return nil, err
	}
	if err := q.ConnectWait(); err != nil {
		return nil, err
	}
	defer q.Close()
	devices, err := mqtt.Discover(context.Background(), q, mqtt.DefaultDiscoverTimeout)
	if err != nil {
		return nil, err
	}
	if s.OutputJSON {
		return devices, nil
	}
	if len(devices) == 0 {
		return "No devices found", nil
	}
	items := make([]string, len(devices))
	for i, dev := range devices {
		state := mqtt.ConnOffline
		if dev.Online {
			state = mqtt.ConnOnline
		}
		items[i] = dev.ID + " " + state
	}
	return lines(items), nil
}

// ConnectDevice connects to DEV [BAUD], or the configured device.
func ConnectDevice(s *Shell, args []string) (interface{}, error) {
	dev, baud := s.Config.Port.Device, 0
	if len(args) > 0 {
		dev = args[0]
	}
	if dev == "" {
		return nil, fmt.Errorf("DEV required")
	}
	if len(args) > 1 {
		val, err := strconv.Atoi(args[1])
		if err != nil || val <= 0 {
			return nil, fmt.Errorf("invalid BAUD %q", args[1])
		}
		baud = val
	}
	return nil, s.Connect(dev, baud)
}

// DisconnectDevice disconnects current device.
func DisconnectDevice(s *Shell, args []string) (interface{}, error) {
	s.Disconnect()
	return nil, nil
}

type lines []string

func (l lines) String() string {
	return strings.Join(l, "\n")
}

var (
	// PortsCmd lists serial ports.
	PortsCmd = Cmd("ports", []string{"p"}, "", ListPorts)
	// DiscoverCmd discovers devices on the broker.
	DiscoverCmd = Cmd("discover", []string{"list", "l"}, "", Discover)
	// ConnectCmd connects a device.
	ConnectCmd = Cmd("connect", []string{"c"}, "DEV [BAUD]", ConnectDevice)
	// DisconnectCmd disconnects current device.
	DisconnectCmd = Cmd("disconnect", []string{"d"}, "", DisconnectDevice)
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.NewConfig()).WithAutoConnect(true).Run(flag.Args()...)
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}
