package job

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridwire/gridwire/config"
	"github.com/gridwire/gridwire/daemon/logging"
	"github.com/gridwire/gridwire/rpc/envelope"
	"github.com/gridwire/gridwire/rpc/resilient"
	"github.com/gridwire/gridwire/transport"
	"github.com/gridwire/gridwire/transport/fromconfig"
)

// the config allows at most one listen section, so the job name is fixed
const ListenJobName = "listen"

// ListenJob accepts connections from remote resilient clients,
// acknowledges their messages and answers probes.
type ListenJob struct {
	listenerFactory transport.ListenerFactory

	mtx    sync.Mutex
	server *resilient.Server
	addr   string
}

func listenJobFromConfig(c *config.Config, in *config.ListenServer) (*ListenJob, error) {
	lf, err := fromconfig.ListenerFactoryFromConfig(c.Global, in.Serve)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build listener factory")
	}
	return &ListenJob{
		listenerFactory: listenerFactoryWithDebug(lf, in.Debug),
	}, nil
}

func (j *ListenJob) Name() string { return ListenJobName }

func (j *ListenJob) RegisterMetrics(registerer prometheus.Registerer) {}

type ListenStatus struct {
	Addr    string
	Clients map[string]string
}

func (j *ListenJob) Status() *Status {
	j.mtx.Lock()
	server, addr := j.server, j.addr
	j.mtx.Unlock()
	s := &ListenStatus{Addr: addr}
	if server != nil {
		s.Clients = server.Clients()
	}
	return &Status{Type: TypeListen, JobSpecific: s}
}

func (j *ListenJob) Run(ctx context.Context) {
	log := GetLogger(ctx)
	defer log.Info("job exiting")

	ctx = logging.WithSubsystemLoggers(ctx, log)

	l, err := j.listenerFactory()
	if err != nil {
		log.WithError(err).Error("cannot listen")
		return
	}

	server := resilient.NewServer(ListenJobName, log, resilient.HandlerFunc(handleMessage))
	j.mtx.Lock()
	j.server = server
	j.addr = l.Addr().String()
	j.mtx.Unlock()

	log.WithField("addr", l.Addr().String()).Info("serving")
	server.Serve(ctx, l)
}

func handleMessage(ctx context.Context, ctl *envelope.Control, body envelope.Body) (*resilient.Reply, error) {
	switch ctl.MessageType {
	case PingMessageType:
		// the echoed tag lets a pinging client verify that its
		// identity arrives stamped on the wire
		return &resilient.Reply{
			Extra: map[string]interface{}{"pong": ctl.ClientTag},
		}, nil
	default:
		return nil, errors.Errorf("no handler for message type %q", ctl.MessageType)
	}
}
