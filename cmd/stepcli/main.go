package main

import (
	"github.com/robotalks/stepctl/pkg/cli/sh"
	"github.com/robotalks/stepctl/pkg/l1/env"

	_ "github.com/robotalks/stepctl/pkg/cli/cmds/stepper"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
