package job

import (
	"context"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridwire/gridwire/config"
	"github.com/gridwire/gridwire/daemon/job/reconnect"
	"github.com/gridwire/gridwire/daemon/logging"
	"github.com/gridwire/gridwire/rpc/delivery"
	"github.com/gridwire/gridwire/rpc/envelope"
	"github.com/gridwire/gridwire/rpc/fanout"
	"github.com/gridwire/gridwire/rpc/resilient"
	"github.com/gridwire/gridwire/timequeue"
	"github.com/gridwire/gridwire/transport"
	"github.com/gridwire/gridwire/transport/fromconfig"
)

// ResilientJob maintains one resilient client connection for the
// lifetime of the daemon. The client repairs the connection itself, the
// job only hosts its housekeeping task and forwards reconnect signals.
type ResilientJob struct {
	name      string
	identity  config.Identity
	connecter transport.Connecter
	options   resilient.Options

	mtx    sync.Mutex
	client *resilient.Client
}

func resilientJobFromConfig(c *config.Config, in *config.ResilientPeer) (*ResilientJob, error) {
	if in.Name == "" {
		return nil, errors.New("peer name must not be empty")
	}
	identity, err := identityFromConfig(c)
	if err != nil {
		return nil, err
	}
	connecter, err := fromconfig.ConnecterFromConfig(c.Global, in.Connect)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build connecter")
	}
	var options resilient.Options
	if err := copier.Copy(&options, in.Resilience); err != nil {
		return nil, errors.Wrap(err, "cannot map resilience settings")
	}
	j := &ResilientJob{
		name:      in.Name,
		identity:  identity,
		connecter: connecterWithDebug(connecter, in.Debug),
		options:   options,
	}
	return j, nil
}

func (j *ResilientJob) Name() string { return j.name }

func (j *ResilientJob) RegisterMetrics(registerer prometheus.Registerer) {}

type ResilientStatus struct {
	Client *resilient.Report
}

func (j *ResilientJob) Status() *Status {
	j.mtx.Lock()
	client := j.client
	j.mtx.Unlock()
	s := &ResilientStatus{}
	if client != nil {
		s.Client = client.Report()
	}
	return &Status{Type: TypeResilient, JobSpecific: s}
}

func (j *ResilientJob) Run(ctx context.Context) {
	log := GetLogger(ctx)
	defer log.Info("job exiting")

	ctx = logging.WithSubsystemLoggers(ctx, log)

	client, err := resilient.NewClient(resilient.ClientParams{
		Name:          j.name,
		ClientTag:     j.identity.ClientTag,
		ClientAddress: j.identity.ClientAddress,
		Connecter:     j.connecter,
		Correlator:    delivery.NewCorrelator(),
		Options:       j.options,
		Log:           log,
	})
	if err != nil {
		log.WithError(err).Error("cannot build resilient client")
		return
	}
	j.mtx.Lock()
	j.client = client
	j.mtx.Unlock()
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		log.WithError(err).Error("initial dial failed, housekeeping will redial")
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reconnect.Wait(ctx):
				log.Info("reconnect signal received")
				if err := client.Connect(ctx); err != nil {
					log.WithError(err).Error("cannot reconnect")
				}
			}
		}
	}()

	runner := timequeue.NewRunner(log)
	runner.Schedule(client, time.Now())
	runner.Run(ctx)
}

// Ping queues a probe on the maintained client and waits for the
// peer's ack. A probe queued while the peer is down stays in the send
// queue and is delivered on reconnect, ctx bounds only the wait.
func (j *ResilientJob) Ping(ctx context.Context) (*PingResult, error) {
	j.mtx.Lock()
	client := j.client
	j.mtx.Unlock()
	if client == nil {
		return nil, errors.New("job is not running")
	}
	begin := time.Now()
	d, err := client.QueueMessage(&envelope.Control{MessageType: PingMessageType}, nil)
	if err != nil {
		return nil, err
	}
	ctl, _, err := d.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &PingResult{RTT: time.Since(begin), Ack: ctl}, nil
}

func (j *ResilientJob) BroadcastTarget() fanout.Target {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if j.client == nil {
		return nil
	}
	return j.client
}
