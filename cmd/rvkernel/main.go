// Command rvkernel boots the process management core against a
// directory of compiled application images, mirroring runsc's top-level
// subcommand dispatch (SPEC_FULL.md §1.3, §4).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/rvkernel/proccore/pkg/kconfig"
	"github.com/rvkernel/proccore/pkg/klog"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML boot configuration file")

	cfg := kconfig.Default()
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&bootCmd{cfg: &cfg}, "")
	subcommands.Register(&runCmd{cfg: &cfg}, "")
	subcommands.Register(&appsCmd{cfg: &cfg}, "")
	subcommands.Register(&psCmd{cfg: &cfg}, "")

	flag.Parse()

	if *configPath != "" {
		loaded, err := kconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(int(subcommands.ExitFailure))
		}
		cfg = loaded
	}

	switch cfg.LogLevel {
	case "debug":
		klog.SetLevel(logrus.DebugLevel)
	case "warn":
		klog.SetLevel(logrus.WarnLevel)
	case "error":
		klog.SetLevel(logrus.ErrorLevel)
	default:
		klog.SetLevel(logrus.InfoLevel)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
