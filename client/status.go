package client

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/gridwire/gridwire/cli"
	"github.com/gridwire/gridwire/daemon"
	"github.com/gridwire/gridwire/daemon/job"
	"github.com/gridwire/gridwire/rpc/resilient"
)

var statusFlags struct {
	Raw bool
	Job string
}

var StatusCmd = &cli.Subcommand{
	Use:   "status",
	Short: "show peer connection state or dump as JSON for monitoring",
	SetupFlags: func(f *pflag.FlagSet) {
		f.BoolVar(&statusFlags.Raw, "raw", false, "dump raw status description from gridwire daemon")
		f.StringVar(&statusFlags.Job, "job", "", "only show specified job")
	},
	Run: runStatus,
}

func runStatus(s *cli.Subcommand, args []string) error {
	httpc, err := controlHttpClient(s.Config().Global.Control.SockPath)
	if err != nil {
		return err
	}

	if statusFlags.Raw {
		resp, err := httpc.Get("http://unix" + daemon.ControlJobEndpointStatus)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "Received error response:\n")
			_, err := io.CopyN(os.Stderr, resp.Body, 4096)
			if err != nil {
				return err
			}
			return errors.Errorf("exit")
		}
		if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
			return err
		}
		return nil
	}

	m := make(map[string]*job.Status)
	err = jsonRequestResponse(httpc, daemon.ControlJobEndpointStatus,
		struct{}{},
		&m,
	)
	if err != nil {
		return err
	}

	keys := []string{}
	for k, v := range m {
		if v.Type != job.TypeInternal {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if len(statusFlags.Job) > 0 && k != statusFlags.Job {
			continue
		}
		v := m[k]
		fmt.Printf("Job: %s (type %s)\n", color.New(color.Bold).Sprint(k), v.Type)
		switch js := v.JobSpecific.(type) {
		case *job.ResilientStatus:
			renderResilientStatus(js)
		case *job.MuxStatus:
			renderMuxStatus(js)
		case *job.ListenStatus:
			renderListenStatus(js)
		default:
			fmt.Printf("  no renderer for job type %q\n", v.Type)
		}
		fmt.Println()
	}
	return nil
}

func connectionStateColor(s resilient.Status) *color.Color {
	switch s {
	case resilient.StatusConnected:
		return color.New(color.FgGreen)
	case resilient.StatusHandshaking:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func renderResilientStatus(s *job.ResilientStatus) {
	if s == nil || s.Client == nil {
		fmt.Printf("  client not started yet\n")
		return
	}
	r := s.Client
	col := connectionStateColor(r.Status)
	fmt.Printf("  Connection: %s (since %s)\n",
		col.Sprint(r.Status), time.Since(r.StatusSince).Round(time.Second))
	fmt.Printf("  Send Queue: %d message(s)\n", r.QueueLength)
	if r.Pending != nil {
		fmt.Printf("  Awaiting Ack: %s (request %s, sent %s ago)\n",
			r.Pending.MessageType, r.Pending.RequestID,
			time.Since(r.Pending.SentAt).Round(time.Second))
	}
}

func renderMuxStatus(s *job.MuxStatus) {
	if s == nil || s.Client == nil {
		fmt.Printf("  client not started yet\n")
		return
	}
	r := s.Client
	if r.Connected {
		fmt.Printf("  Connection: %s\n", color.New(color.FgGreen).Sprint("connected"))
	} else {
		fmt.Printf("  Connection: %s (signal a reconnect to replace the client)\n",
			color.New(color.FgRed).Sprint("dead"))
	}
	fmt.Printf("  Send Queue: %d message(s)\n", r.QueueLength)
}

func renderListenStatus(s *job.ListenStatus) {
	if s == nil || s.Addr == "" {
		fmt.Printf("  not listening yet\n")
		return
	}
	fmt.Printf("  Listening: %s\n", s.Addr)
	if len(s.Clients) == 0 {
		fmt.Printf("  Clients: none\n")
		return
	}
	tags := []string{}
	for tag := range s.Clients {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	fmt.Printf("  Clients:\n")
	for _, tag := range tags {
		fmt.Printf("    %s reachable at %s\n", tag, s.Clients[tag])
	}
}
