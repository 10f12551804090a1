package daemon

import (
	"github.com/gridwire/gridwire/cli"
	"github.com/gridwire/gridwire/logger"
)

type Logger = logger.Logger

var DaemonCmd = &cli.Subcommand{
	Use:   "daemon",
	Short: "run the gridwire daemon",
	Run: func(subcommand *cli.Subcommand, args []string) error {
		return Run(subcommand.Config())
	},
}
