//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/rvkernel/proccore/pkg/console"
	"github.com/rvkernel/proccore/pkg/kconfig"
	"github.com/rvkernel/proccore/pkg/kernel"
	"github.com/rvkernel/proccore/pkg/procid"
	"github.com/rvkernel/proccore/pkg/registry"
	"github.com/rvkernel/proccore/pkg/timerdev"
)

// runCmd boots initproc and runs the dispatch loop against a live
// console attached to this process's own terminal, rather than the
// paced/queue consoles boot uses for scripted and test sessions. It is
// the interactive counterpart to scenario 6 of spec.md §8: a human
// typing at a real terminal, observed by the kernel's `read` syscall
// one scheduling quantum at a time.
type runCmd struct {
	cfg *kconfig.Config
	pty bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "boot initproc and run interactively against this terminal" }
func (*runCmd) Usage() string {
	return "run [flags] - load initproc from app-path and run until the ready queue drains, reading from this terminal\n"
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	kconfig.RegisterFlags(f, c.cfg)
	f.BoolVar(&c.pty, "pty", false, "attach through a pseudo-terminal instead of this process's stdin directly")
}

func (c *runCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	con, cleanup, err := c.attachConsole()
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	reg := registry.New(registry.FromDirectory(c.cfg.AppPath))
	alloc := procid.NewAllocator()
	mgr := kernel.NewProcManager(alloc)
	timer := timerdev.NewQuantum(c.cfg.QuantumTicks)

	loop := kernel.NewDispatchLoop(mgr, alloc, reg, con, timer)
	if err := loop.Boot(); err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}
	loop.Run()
	return subcommands.ExitSuccess
}

// attachConsole wires stdin to the dispatch loop, either directly
// (console.Host, the default) or through a freshly allocated
// pseudo-terminal (console.PTY, -pty) whose slave side is fed from this
// process's own stdin by a forwarding goroutine.
func (c *runCmd) attachConsole() (console.Console, func(), error) {
	if !c.pty {
		host, err := console.NewHost(int(os.Stdin.Fd()))
		if err != nil {
			return nil, nil, fmt.Errorf("run: attaching stdin: %w", err)
		}
		return host, func() {}, nil
	}

	p, err := console.NewPTY()
	if err != nil {
		return nil, nil, fmt.Errorf("run: allocating pty: %w", err)
	}
	go io.Copy(p.Slave(), os.Stdin)
	return p, func() { p.Close() }, nil
}
