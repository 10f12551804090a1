package client

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/gridwire/gridwire/cli"
	"github.com/gridwire/gridwire/config"
	"github.com/gridwire/gridwire/daemon"
	"github.com/gridwire/gridwire/version"
)

type VersionArgs struct {
	Show      string
	Config    *config.Config
	ConfigErr error
}

var versionArgs VersionArgs

var VersionCmd = &cli.Subcommand{
	Use:             "version",
	Short:           "print version of gridwire binary and running daemon",
	NoRequireConfig: true,
	SetupFlags: func(f *pflag.FlagSet) {
		f.StringVar(&versionArgs.Show, "show", "", "version component to report [client|daemon]")
	},
	Run: func(subcommand *cli.Subcommand, args []string) error {
		versionArgs.Config = subcommand.Config()
		versionArgs.ConfigErr = subcommand.ConfigParsingError()
		return runVersionCmd(versionArgs)
	},
}

func runVersionCmd(args VersionArgs) error {

	die := func() {
		fmt.Fprintf(os.Stderr, "exiting after error\n")
		os.Exit(1)
	}

	if args.Show != "daemon" && args.Show != "client" && args.Show != "" {
		fmt.Fprintf(os.Stderr, "show flag must be 'client' or 'daemon' or be left empty")
		die()
	}

	var clientVersion, daemonVersion *version.GridwireVersionInformation
	if args.Show == "client" || args.Show == "" {
		clientVersion = version.NewGridwireVersionInformation()
		fmt.Printf("client: %s\n", clientVersion.String())
	}
	if args.Show == "daemon" || args.Show == "" {

		if args.Config == nil {
			fmt.Fprintf(os.Stderr, "config parsing error, cannot determine daemon version: %s\n", args.ConfigErr)
			die()
		}

		httpc, err := controlHttpClient(args.Config.Global.Control.SockPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "server: error: %s\n", err)
			die()
		}

		var info version.GridwireVersionInformation
		err = jsonRequestResponse(httpc, daemon.ControlJobEndpointVersion, "", &info)
		if err != nil {
			fmt.Fprintf(os.Stderr, "server: error: %s\n", err)
			die()
		}
		daemonVersion = &info
		fmt.Printf("server: %s\n", daemonVersion.String())
	}

	if args.Show == "" {
		if clientVersion.Version != daemonVersion.Version {
			fmt.Fprintf(os.Stderr, "WARNING: client version != daemon version, restart gridwire daemon\n")
		}
	}

	return nil
}
