package job

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridwire/gridwire/config"
	"github.com/gridwire/gridwire/daemon/job/reconnect"
	"github.com/gridwire/gridwire/daemon/logging"
	"github.com/gridwire/gridwire/rpc/delivery"
	"github.com/gridwire/gridwire/rpc/envelope"
	"github.com/gridwire/gridwire/rpc/fanout"
	"github.com/gridwire/gridwire/rpc/muxclient"
	"github.com/gridwire/gridwire/transport"
	"github.com/gridwire/gridwire/transport/fromconfig"
)

// MuxJob maintains one multiplexed client connection. The mux protocol
// has no repair: when the connection dies the job keeps reporting it
// dead until a reconnect signal replaces the client with a fresh one.
type MuxJob struct {
	name      string
	connecter transport.Connecter

	mtx    sync.Mutex
	client *muxclient.Client
}

func muxJobFromConfig(c *config.Config, in *config.MuxPeer) (*MuxJob, error) {
	if in.Name == "" {
		return nil, errors.New("peer name must not be empty")
	}
	connecter, err := fromconfig.ConnecterFromConfig(c.Global, in.Connect)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build connecter")
	}
	return &MuxJob{
		name:      in.Name,
		connecter: connecterWithDebug(connecter, in.Debug),
	}, nil
}

func (j *MuxJob) Name() string { return j.name }

func (j *MuxJob) RegisterMetrics(registerer prometheus.Registerer) {}

type MuxStatus struct {
	Client *muxclient.Report
}

func (j *MuxJob) Status() *Status {
	j.mtx.Lock()
	client := j.client
	j.mtx.Unlock()
	s := &MuxStatus{}
	if client != nil {
		s.Client = client.Report()
	}
	return &Status{Type: TypeMux, JobSpecific: s}
}

func (j *MuxJob) buildAndConnect(ctx context.Context, log Logger) (*muxclient.Client, error) {
	client, err := muxclient.NewClient(muxclient.ClientParams{
		Name:       j.name,
		Connecter:  j.connecter,
		Correlator: delivery.NewCorrelator(),
		Log:        log,
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot build mux client")
	}
	if err := client.Connect(ctx); err != nil {
		// the client still accepts messages, they queue up until
		// a reconnect signal replaces it
		log.WithError(err).Error("cannot connect")
	}
	return client, nil
}

func (j *MuxJob) Run(ctx context.Context) {
	log := GetLogger(ctx)
	defer log.Info("job exiting")

	ctx = logging.WithSubsystemLoggers(ctx, log)

	client, err := j.buildAndConnect(ctx, log)
	if err != nil {
		log.WithError(err).Error("cannot build mux client")
		return
	}
	j.mtx.Lock()
	j.client = client
	j.mtx.Unlock()

	for {
		select {
		case <-ctx.Done():
			j.mtx.Lock()
			client := j.client
			j.client = nil
			j.mtx.Unlock()
			client.Close()
			return
		case <-reconnect.Wait(ctx):
			log.Info("reconnect signal received, replacing client")
			fresh, err := j.buildAndConnect(ctx, log)
			if err != nil {
				log.WithError(err).Error("keeping current client")
				continue
			}
			j.mtx.Lock()
			old := j.client
			j.client = fresh
			j.mtx.Unlock()
			// deliveries pending on the old client are abandoned,
			// exactly as if the daemon had been restarted
			old.Close()
		}
	}
}

// Ping queues a probe on the maintained client and waits for the
// peer's reply. Probes queued on a dead connection are never
// delivered, the wait runs into ctx's deadline.
func (j *MuxJob) Ping(ctx context.Context) (*PingResult, error) {
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

func (j *MuxJob) BroadcastTarget() fanout.Target {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if j.client == nil {
		return nil
	}
	return j.client
}
