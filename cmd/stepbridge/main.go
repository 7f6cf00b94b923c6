package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"log"

	fx "github.com/robotalks/stepctl/pkg/framework"
	"github.com/robotalks/stepctl/pkg/l1/comm/mqtt"
	"github.com/robotalks/stepctl/pkg/l1/comm/websocket"
	"github.com/robotalks/stepctl/pkg/l1/env"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	conf := env.Default()
	id := conf.ID()
	codec, err := conf.NewCodec()
	if err != nil {
		log.Fatalln(err)
	}
	q, err := conf.NewQueue()
	if err != nil {
		log.Fatalln(err)
	}
	conn := conf.MustConnect()
	defer conn.Close()

	bridge := mqtt.NewBridge(q, conn.Client, id)
	bridge.Codec = codec
	conn.Subscribe(bridge)
	q.OnConnect = func(*mqtt.Queue) {
		bridge.ConnectionChanged(conn.Connected())
	}
	if err := q.ConnectWait(); err != nil {
		log.Fatalln(err)
	}
	defer q.Close()

	var ws *websocket.Server
	if conf.WebsocketAddr != "" {
		ws = websocket.NewServer(id)
		ws.Codec = codec
		conn.Subscribe(ws)
	}

	runner := fx.NewRunner().HandleSignals()
	runner.Go(
		fx.NamedRun("link", conn),
		fx.NamedRun("mqtt", bridge),
	)
	if ws != nil {
		runner.Go(fx.NamedRun("websocket", fx.RunFunc(func(ctx context.Context) error {
			return ws.ListenAndServe(ctx, conf.WebsocketAddr)
		})))
	}
	log.Printf("bridging %s as %s", conf.Port.Device, id)
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
