package client

import (
	"github.com/pkg/errors"

	"github.com/gridwire/gridwire/cli"
	"github.com/gridwire/gridwire/config"
	"github.com/gridwire/gridwire/daemon"
)

var SignalCmd = &cli.Subcommand{
	Use:   "signal [reconnect] JOB",
	Short: "signal a peer job to redial its connection now",
	Run: func(subcommand *cli.Subcommand, args []string) error {
		return runSignalCmd(subcommand.Config(), args)
	},
}

func runSignalCmd(config *config.Config, args []string) error {
	if len(args) != 2 {
		return errors.Errorf("Expected 2 arguments: [reconnect] JOB")
	}

	httpc, err := controlHttpClient(config.Global.Control.SockPath)
	if err != nil {
		return err
	}

	var endpoint string
	switch args[0] {
	case "reconnect":
		endpoint = daemon.ControlJobEndpointReconnect
	default:
		return errors.Errorf("Signal %q is not supported", args[0])
	}

	err = jsonRequestResponse(httpc, endpoint,
		struct {
			Name string
		}{
			Name: args[1],
		},
		struct{}{},
	)
	return err
}
