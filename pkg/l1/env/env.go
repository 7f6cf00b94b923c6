package env

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/robotalks/stepctl/pkg/l0/comm"
	"github.com/robotalks/stepctl/pkg/l0/uart"
	"github.com/robotalks/stepctl/pkg/l1/comm/mqtt"
	"github.com/robotalks/stepctl/pkg/l1/comm/stream"
	"github.com/robotalks/stepctl/pkg/l1/msgs"
)

// DefaultMQTTBrokerURL is the broker used when none is configured.
const DefaultMQTTBrokerURL = "mqtt://localhost:1883/stepctl/"

// Config provides common options of host tools.
type Config struct {
	// DeviceID names the device on the message bus.
	DeviceID string
	// Port is the serial link to the firmware.
	Port uart.Config
	// MQTTBrokerURL specifies the MQTT broker to use.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// Codec encodes messages on the bus: json, proto.
	Codec string
	// WebsocketAddr serves the telemetry websocket when set.
	WebsocketAddr string
	// RecordFile records every received frame when set.
	RecordFile string
	// ByteOrder of telemetry and motion values: be, le.
	ByteOrder string
}

var defaultConfig = Config{
	Port:          uart.DefaultConfig(""),
	MQTTBrokerURL: DefaultMQTTBrokerURL,
	Codec:         msgs.CodecJSON,
}

func init() {
	if val := os.Getenv("STEPCTL_SERIAL"); val != "" {
		defaultConfig.Port.Device = val
	}
	if val := os.Getenv("STEPCTL_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			defaultConfig.Port.Baud = baud
		}
	}
	if val := os.Getenv("STEPCTL_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("STEPCTL_CODEC"); val != "" {
		defaultConfig.Codec = val
	}
	defaultConfig.DeviceID = os.Getenv("STEPCTL_ID")
	defaultConfig.ByteOrder = os.Getenv("STEPCTL_BYTE_ORDER")
}

// SetupFlags sets command line flags.
func SetupFlags() {
	c := &defaultConfig
	flag.StringVar(&c.DeviceID, "id", c.DeviceID, "Device ID, default from machine ID")
	flag.StringVar(&c.Port.Device, "serial", c.Port.Device, "Serial device of the firmware")
	flag.IntVar(&c.Port.Baud, "baud", c.Port.Baud, "Baud rate")
	flag.StringVar(&c.Port.Driver, "driver", c.Port.Driver, "Serial driver: bugst, tarm, tcp")
	flag.StringVar(&c.MQTTBrokerURL, "mqtt", c.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&c.Codec, "codec", c.Codec, "Message codec: json, proto")
	flag.StringVar(&c.WebsocketAddr, "ws", c.WebsocketAddr, "Serve telemetry websocket on address")
	flag.StringVar(&c.RecordFile, "record", c.RecordFile, "Record received frames to file")
	flag.StringVar(&c.ByteOrder, "byte-order", c.ByteOrder, "Telemetry byte order: be, le")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// ID returns DeviceID or the one derived from machine ID.
func (c *Config) ID() string {
	if c.DeviceID != "" {
		return c.DeviceID
	}
	return DeviceID()
}

// NewCodec creates the message codec.
func (c *Config) NewCodec() (msgs.Codec, error) {
	return msgs.CodecByName(c.Codec)
}

// NewQueue creates the MQTT queue, not connected.
func (c *Config) NewQueue() (*mqtt.Queue, error) {
	if c.MQTTBrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	return mqtt.NewQueueFromURL(c.MQTTBrokerURL)
}

// Conn is a connection to the firmware.
type Conn struct {
	*comm.Client
	Port     io.Closer
	Recorder *stream.Recorder

	record io.Closer
}

// NewConn creates a Conn on an opened stream.
func (c *Config) NewConn(rw io.ReadWriteCloser, readTimeout bool) (*Conn, error) {
	order, err := comm.ParseByteOrder(c.ByteOrder)
	if err != nil {
		return nil, err
	}
	conn := &Conn{Client: comm.NewClientOn(rw), Port: rw}
	conn.Order = order
	conn.Link().ReadTimeout = readTimeout
	if c.RecordFile != "" {
		f, err := os.Create(c.RecordFile)
		if err != nil {
			return nil, errors.Wrap(err, "create record file")
		}
		conn.record = f
		conn.Recorder = stream.NewRecorder(f, conn.Client)
		conn.Link().Handler = conn.Recorder
	}
	return conn, nil
}

// Connect opens the serial port and creates a Conn.
func (c *Config) Connect() (*Conn, error) {
	if c.Port.Device == "" {
		return nil, fmt.Errorf("serial device is required")
	}
	port, err := uart.Open(c.Port)
	if err != nil {
		return nil, err
	}
	conn, err := c.NewConn(port, c.Port.HasReadTimeout())
	if err != nil {
		port.Close()
		return nil, err
	}
	return conn, nil
}

// MustConnect connects to the firmware and fails on error.
func (c *Config) MustConnect() *Conn {
	conn, err := c.Connect()
	if err != nil {
		log.Fatalln(err)
	}
	return conn
}

// Run runs the client until ctx is done.
func (c *Conn) Run(ctx context.Context) error {
	err := c.Client.Run(ctx)
	if err == context.Canceled {
		err = nil
	}
	return err
}

// Close closes the port and the record file.
func (c *Conn) Close() error {
	err := c.Port.Close()
	if c.record != nil {
		err = multierr.Append(err, c.record.Close())
	}
	return err
}
