package main

import (
	"context"
	"flag"
	"fmt"
	"sort"

	"github.com/google/subcommands"

	"github.com/rvkernel/proccore/pkg/kconfig"
	"github.com/rvkernel/proccore/pkg/registry"
)

type appsCmd struct {
	cfg *kconfig.Config
}

func (*appsCmd) Name() string           { return "apps" }
func (*appsCmd) Synopsis() string       { return "list application images available to exec/boot" }
func (*appsCmd) Usage() string          { return "apps - list names known to the app registry\n" }
func (*appsCmd) SetFlags(*flag.FlagSet) {}

func (c *appsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	reg := registry.New(registry.FromDirectory(c.cfg.AppPath))
	names := reg.Keys()
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
	return subcommands.ExitSuccess
}
