package client

import (
	"fmt"
	"os"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/gridwire/gridwire/cli"
	"github.com/gridwire/gridwire/daemon"
	"github.com/gridwire/gridwire/daemon/job"
)

var pingFlags struct {
	Count     int
	Interval  time.Duration
	All       bool
	Agreement int
}

var PingCmd = &cli.Subcommand{
	Use:   "ping JOB | ping --all",
	Short: "send a probe message through a peer job's connection",
	SetupFlags: func(f *pflag.FlagSet) {
		f.IntVar(&pingFlags.Count, "count", 1, "number of probes to send")
		f.DurationVar(&pingFlags.Interval, "interval", 1*time.Second, "wait between probes")
		f.BoolVar(&pingFlags.All, "all", false, "probe every peer job at once")
		f.IntVar(&pingFlags.Agreement, "agreement", 0, "with --all: acks required for success, 0 means all peers")
	},
	Run: runPingCmd,
}

func runPingCmd(s *cli.Subcommand, args []string) error {
	if pingFlags.All {
		if len(args) != 0 {
			return errors.Errorf("--all does not take a JOB argument")
		}
		return runPingAll(s)
	}

	if len(args) != 1 {
		return errors.Errorf("Expected 1 argument: JOB")
	}
	if pingFlags.Count < 1 {
		return errors.Errorf("count must be positive")
	}

	httpc, err := controlHttpClient(s.Config().Global.Control.SockPath)
	if err != nil {
		return err
	}

	rtts := make([]float64, 0, pingFlags.Count)
	for i := 0; i < pingFlags.Count; i++ {
		if i > 0 {
			time.Sleep(pingFlags.Interval)
		}
		var res job.PingResult
		err := jsonRequestResponse(httpc, daemon.ControlJobEndpointPing,
			struct {
				Name string
			}{
				Name: args[0],
			},
			&res,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "probe %d: %s\n", i, err)
			continue
		}
		replyType := "?"
		if res.Ack != nil {
			replyType = res.Ack.MessageType
		}
		fmt.Printf("probe %d: %s rtt=%s\n", i, replyType, res.RTT)
		rtts = append(rtts, res.RTT.Seconds())
	}

	if len(rtts) == 0 {
		return errors.Errorf("all %d probe(s) failed", pingFlags.Count)
	}
	if pingFlags.Count > 1 {
		min, _ := stats.Min(rtts)
		median, _ := stats.Median(rtts)
		p95, _ := stats.Percentile(rtts, 95)
		max, _ := stats.Max(rtts)
		fmt.Printf("%d/%d probes acknowledged\n", len(rtts), pingFlags.Count)
		fmt.Printf("rtt min/median/p95/max = %s/%s/%s/%s\n",
			secondsDuration(min), secondsDuration(median), secondsDuration(p95), secondsDuration(max))
	}
	return nil
}

func secondsDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Microsecond)
}

func runPingAll(s *cli.Subcommand) error {
	httpc, err := controlHttpClient(s.Config().Global.Control.SockPath)
	if err != nil {
		return err
	}

	var res daemon.PingAllResult
	err = jsonRequestResponse(httpc, daemon.ControlJobEndpointPingAll,
		struct {
			Agreement int
		}{
			Agreement: pingFlags.Agreement,
		},
		&res,
	)
	if err != nil {
		return err
	}

	fmt.Printf("%d/%d peers acknowledged (needed %d)\n", len(res.Acked), res.Total, res.Needed)
	for _, name := range res.Acked {
		fmt.Printf("  %s\n", name)
	}
	return nil
}
