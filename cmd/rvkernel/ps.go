package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/rvkernel/proccore/pkg/console"
	"github.com/rvkernel/proccore/pkg/kconfig"
	"github.com/rvkernel/proccore/pkg/kernel"
	"github.com/rvkernel/proccore/pkg/procid"
	"github.com/rvkernel/proccore/pkg/registry"
	"github.com/rvkernel/proccore/pkg/timerdev"
)

// psCmd boots initproc but never enters the dispatch loop, so it only
// ever shows the single initial process — a read-only, non-mutating
// view of the app registry's entry point, grounded on SPEC_FULL.md §3's
// Snapshot() being "otherwise unaffected" by introspection.
type psCmd struct {
	cfg *kconfig.Config
}

func (*psCmd) Name() string           { return "ps" }
func (*psCmd) Synopsis() string       { return "show the process table initproc boots into" }
func (*psCmd) Usage() string          { return "ps [flags] - print the initial process snapshot\n" }
func (*psCmd) SetFlags(*flag.FlagSet) {}

func (c *psCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	reg := registry.New(registry.FromDirectory(c.cfg.AppPath))
	alloc := procid.NewAllocator()
	mgr := kernel.NewProcManager(alloc)
	loop := kernel.NewDispatchLoop(mgr, alloc, reg, console.NewQueue(), timerdev.NewQuantum(c.cfg.QuantumTicks))

	if err := loop.Boot(); err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}

	fmt.Printf("%-6s %-6s %-8s %s\n", "PID", "PPID", "STATE", "CODE")
	for _, row := range mgr.Snapshot() {
		fmt.Printf("%-6d %-6d %-8s %d\n", row.PID, row.Parent, row.State, row.Code)
	}
	return subcommands.ExitSuccess
}
