package main

import (
	"context"
	"flag"
	"log"
	"path"

	"github.com/robotalks/stepctl/pkg/l1/comm/mqtt"
	"github.com/robotalks/stepctl/pkg/l1/env"
	"github.com/robotalks/stepctl/pkg/l1/msgs"
)

var (
	device   = "+"
	discover bool
)

func init() {
	env.SetupFlags()
	flag.StringVar(&device, "device", device, "Device ID to monitor, + for all.")
	flag.BoolVar(&discover, "discover", discover, "List devices and exit.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	conf := env.Default()
	codec, err := conf.NewCodec()
	if err != nil {
		log.Fatalln(err)
	}
	q, err := conf.NewQueue()
	if err != nil {
		log.Fatalln(err)
	}
	if err := q.ConnectWait(); err != nil {
		log.Fatalln(err)
	}
	defer q.Close()

	if discover {
		devices, err := mqtt.Discover(context.Background(), q, mqtt.DefaultDiscoverTimeout)
		if err != nil {
			log.Fatalln(err)
		}
		for _, dev := range devices {
			log.Printf("%s online=%v", dev.ID, dev.Online)
		}
		return
	}

	_, err = q.Subscribe(device+"/#", func(topic string, payload []byte) {
		switch path.Base(topic) {
		case mqtt.TopicConn:
			log.Printf("%s: %s", topic, string(payload))
		case mqtt.TopicState, mqtt.TopicEvent:
			log.Printf("%s: %s", topic, render(codec, path.Base(topic), payload))
		}
	})
	if err != nil {
		log.Fatalln(err)
	}
	<-(chan struct{})(nil)
}

func render(codec msgs.Codec, kind string, payload []byte) string {
	if codec.Name() == msgs.CodecProto {
		text, err := msgs.ProtoText(payload)
		if err != nil {
			return "bad message: " + err.Error()
		}
		return text
	}
	var err error
	if kind == mqtt.TopicState {
		_, err = codec.DecodeState(payload)
	} else {
		_, err = codec.DecodeEvent(payload)
	}
	if err != nil {
		return "bad message: " + err.Error()
	}
	return string(payload)
}
