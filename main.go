package main

import (
	"github.com/gridwire/gridwire/cli"
	"github.com/gridwire/gridwire/client"
	"github.com/gridwire/gridwire/daemon"
)

func init() {
	cli.AddSubcommand(daemon.DaemonCmd)
	cli.AddSubcommand(client.StatusCmd)
	cli.AddSubcommand(client.SignalCmd)
	cli.AddSubcommand(client.PingCmd)
	cli.AddSubcommand(client.ConfigcheckCmd)
	cli.AddSubcommand(client.VersionCmd)
	cli.AddSubcommand(client.PprofCmd)
}

func main() {
	cli.Run()
}
