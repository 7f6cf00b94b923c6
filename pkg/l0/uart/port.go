package uart

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	tarm "github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

// Port is an opened serial device or a socket standing in for one.
type Port interface {
	io.ReadWriteCloser
}

// Drivers.
const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"
	// DriverTCP dials Device as a TCP address, for the simulated firmware.
	DriverTCP = "tcp"
)

// Default port settings.
const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 5 * time.Millisecond
)

// Config defines how to open a port.
type Config struct {
	Device string
	Baud   int
	// ReadTimeout makes Read return (0, nil) when no byte arrives in
	// time. Zero blocks.
	ReadTimeout time.Duration
	Driver      string
}

// DefaultConfig returns the config for the device.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: DefaultReadTimeout,
		Driver:      DriverBugst,
	}
}

// Open opens the port.
func Open(cfg Config) (Port, error) {
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	glog.V(2).Infof("[UART] open %s (%s, %d)", cfg.Device, cfg.Driver, cfg.Baud)
	switch cfg.Driver {
	case "", DriverBugst:
		return openBugst(cfg)
	case DriverTarm:
		return openTarm(cfg)
	case DriverTCP:
		conn, err := net.Dial("tcp", cfg.Device)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s", cfg.Device)
		}
		return conn, nil
	}
	return nil, fmt.Errorf("unknown uart driver %q", cfg.Driver)
}

func openBugst(cfg Config) (Port, error) {
	port, err := bugst.Open(cfg.Device, &bugst.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.Device)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, errors.Wrapf(err, "set read timeout on %s", cfg.Device)
		}
	}
	return port, nil
}

// tarmPort reports read timeouts as empty reads.
type tarmPort struct {
	*tarm.Port
}

func (p *tarmPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

func openTarm(cfg Config) (Port, error) {
	port, err := tarm.OpenPort(&tarm.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.Device)
	}
	if cfg.ReadTimeout > 0 {
		return &tarmPort{Port: port}, nil
	}
	return port, nil
}

// HasReadTimeout tells if ports opened with cfg return from Read on timeout.
func (c Config) HasReadTimeout() bool {
	return c.ReadTimeout > 0 && c.Driver != DriverTCP
}

// Ports lists the serial devices on the system.
func Ports() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "list ports")
	}
	sort.Strings(ports)
	return ports, nil
}

// Accept waits for one connection on ln. The listener is closed
// afterwards.
func Accept(ctx context.Context, ln net.Listener) (Port, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()
	conn, err := ln.Accept()
	ln.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(err, "accept on %s", ln.Addr())
	}
	glog.Infof("[UART] accepted %s", conn.RemoteAddr())
	return conn, nil
}

// Listen waits for one TCP connection on addr.
func Listen(ctx context.Context, addr string) (Port, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	glog.Infof("[UART] listening on %s", ln.Addr())
	return Accept(ctx, ln)
}
