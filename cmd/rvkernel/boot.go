package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"

	"github.com/rvkernel/proccore/pkg/console"
	"github.com/rvkernel/proccore/pkg/kconfig"
	"github.com/rvkernel/proccore/pkg/kernel"
	"github.com/rvkernel/proccore/pkg/procid"
	"github.com/rvkernel/proccore/pkg/registry"
	"github.com/rvkernel/proccore/pkg/timerdev"
)

type bootCmd struct {
	cfg *kconfig.Config
}

func (*bootCmd) Name() string     { return "boot" }
func (*bootCmd) Synopsis() string { return "boot initproc and run the dispatch loop to completion" }
func (*bootCmd) Usage() string {
	return "boot [flags] - load initproc from app-path and run until the ready queue drains\n"
}

func (c *bootCmd) SetFlags(f *flag.FlagSet) {
	kconfig.RegisterFlags(f, c.cfg)
}

func (c *bootCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	reg := registry.New(registry.FromDirectory(c.cfg.AppPath))
	alloc := procid.NewAllocator()
	mgr := kernel.NewProcManager(alloc)

	var con console.Console
	if c.cfg.PacedConsole {
		con = console.NewPaced(time.Millisecond)
	} else {
		con = console.NewQueue()
	}
	timer := timerdev.NewQuantum(c.cfg.QuantumTicks)

	loop := kernel.NewDispatchLoop(mgr, alloc, reg, con, timer)
	if err := loop.Boot(); err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}
	loop.Run()
	return subcommands.ExitSuccess
}
