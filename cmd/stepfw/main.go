package main

//go-build: CGO_ENABLED=0

import (
	"flag"

	fx "github.com/robotalks/stepctl/pkg/framework"
	"github.com/robotalks/stepctl/pkg/l0/firmware"
)

func init() {
	firmware.SetupFlags()
}

func main() {
	flag.Parse()

	ctx := fx.NewRunner().HandleSignals().Context
	board := firmware.Default().MustNewBoard(ctx)
	board.Loop.RunOrFail(ctx)
}
