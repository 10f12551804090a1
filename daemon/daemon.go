package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridwire/gridwire/config"
	"github.com/gridwire/gridwire/daemon/job"
	"github.com/gridwire/gridwire/daemon/job/reconnect"
	"github.com/gridwire/gridwire/daemon/logging"
	"github.com/gridwire/gridwire/logger"
	"github.com/gridwire/gridwire/rpc/envelope"
	"github.com/gridwire/gridwire/rpc/fanout"
	"github.com/gridwire/gridwire/version"
)

func Run(conf *config.Config) error {

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	outlets, err := logging.OutletsFromConfig(*conf.Global.Logging)
	if err != nil {
		return errors.Wrap(err, "cannot build logging from config")
	}

	confJobs, err := job.JobsFromConfig(conf)
	if err != nil {
		return errors.Wrap(err, "cannot build jobs from config")
	}

	log := logger.NewLogger(outlets, 1*time.Second)
	log.Info(version.NewGridwireVersionInformation().String())

	for _, job := range confJobs {
		if IsInternalJobName(job.Name()) {
			panic(fmt.Sprintf("internal job name used for config job '%s'", job.Name())) //FIXME
		}
	}

	ctx = job.WithLogger(ctx, log)

	jobs := newJobs()

	// start control socket
	controlJob, err := newControlJob(conf.Global.Control.SockPath, jobs)
	if err != nil {
		panic(err) // FIXME
	}
	jobs.start(ctx, controlJob, true)

	for i, jc := range conf.Global.Monitoring {
		var (
			job job.Job
			err error
		)
		switch v := jc.Ret.(type) {
		case *config.PrometheusMonitoring:
			job, err = newPrometheusJobFromConfig(v)
		default:
			return errors.Errorf("unknown monitoring job #%d (type %T)", i, v)
		}
		if err != nil {
			return errors.Wrapf(err, "cannot build monitoring job #%d", i)
		}
		jobs.start(ctx, job, true)
	}

	// register global (=non job-local) metrics
	version.PrometheusRegister(prometheus.DefaultRegisterer)

	log.Info("starting daemon")

	// start regular jobs
	for _, j := range confJobs {
		jobs.start(ctx, j, false)
	}

	select {
	case <-jobs.wait():
		log.Info("all jobs finished")
	case <-ctx.Done():
		log.WithError(ctx.Err()).Info("context finished")
	}
	log.Info("waiting for jobs to finish")
	<-jobs.wait()
	log.Info("daemon exiting")
	return nil
}

type jobs struct {
	wg sync.WaitGroup

	// m protects all fields below it
	m          sync.RWMutex
	reconnects map[string]reconnect.Func // by Job.Name
	jobs       map[string]job.Job
}

func newJobs() *jobs {
	return &jobs{
		reconnects: make(map[string]reconnect.Func),
		jobs:       make(map[string]job.Job),
	}
}

func (s *jobs) wait() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(ch)
	}()
	return ch
}

func (s *jobs) status() map[string]*job.Status {
	s.m.RLock()
	defer s.m.RUnlock()

	type res struct {
		name   string
		status *job.Status
	}
	var wg sync.WaitGroup
	c := make(chan res, len(s.jobs))
	for name, j := range s.jobs {
		wg.Add(1)
		go func(name string, j job.Job) {
			defer wg.Done()
			c <- res{name: name, status: j.Status()}
		}(name, j)
	}
	wg.Wait()
	close(c)
	ret := make(map[string]*job.Status, len(s.jobs))
	for res := range c {
		ret[res.name] = res.status
	}
	return ret
}

func (s *jobs) reconnect(job string) error {
	s.m.RLock()
	defer s.m.RUnlock()

	rc, ok := s.reconnects[job]
	if !ok {
		return errors.Errorf("Job %s does not exist", job)
	}
	return rc()
}

// ping must not hold the lock while the probe is in flight, the probe
// can take up to the control timeout and status requests would stall.
func (s *jobs) ping(ctx context.Context, jobName string) (*job.PingResult, error) {
	s.m.RLock()
	j, ok := s.jobs[jobName]
	s.m.RUnlock()

	if !ok {
		return nil, errors.Errorf("Job %s does not exist", jobName)
	}
	p, ok := j.(job.Pinger)
	if !ok {
		return nil, errors.Errorf("Job %s has no peer connection to ping", jobName)
	}
	return p.Ping(ctx)
}

// PingAllResult lists the peers that acknowledged a broadcast probe.
type PingAllResult struct {
	Acked  []string
	Total  int
	Needed int
}

// pingAll probes every peer job at once. agreement 0 means all peers
// must acknowledge.
func (s *jobs) pingAll(ctx context.Context, log logger.Logger, agreement int) (*PingAllResult, error) {
	s.m.RLock()
	targets := make([]fanout.Target, 0, len(s.jobs))
	for _, j := range s.jobs {
		b, ok := j.(job.Broadcaster)
		if !ok {
			continue
		}
		if t := b.BroadcastTarget(); t != nil {
			targets = append(targets, t)
		}
	}
	s.m.RUnlock()

	if len(targets) == 0 {
		return nil, errors.New("no peer jobs with a running client")
	}
	if agreement == 0 {
		agreement = len(targets)
	}

	replies, err := fanout.Query(ctx, log, targets,
		&envelope.Control{MessageType: job.PingMessageType}, nil, agreement)
	if err != nil {
		return nil, err
	}
	res := &PingAllResult{
		Total:  len(targets),
		Needed: agreement,
		Acked:  make([]string, 0, len(replies)),
	}
	for _, r := range replies {
		res.Acked = append(res.Acked, r.Target)
	}
	sort.Strings(res.Acked)
	return res, nil
}

const (
	logJobField string = "job"
)

const (
	jobNamePrometheus = "_prometheus"
	jobNameControl    = "_control"
)

func IsInternalJobName(s string) bool {
	return strings.HasPrefix(s, "_")
}

func (s *jobs) start(ctx context.Context, j job.Job, internal bool) {
	s.m.Lock()
	defer s.m.Unlock()

	jobLog := job.GetLogger(ctx).
		WithField(logJobField, j.Name()).
		WithOutlet(newPrometheusLogOutlet(j.Name()), logger.Debug)
	jobName := j.Name()
	if !internal && IsInternalJobName(jobName) {
		panic(fmt.Sprintf("internal job name used for non-internal job %s", jobName))
	}
	if internal && !IsInternalJobName(jobName) {
		panic(fmt.Sprintf("internal job does not use internal job name %s", jobName))
	}
	if _, ok := s.jobs[jobName]; ok {
		panic(fmt.Sprintf("duplicate job name %s", jobName))
	}

	j.RegisterMetrics(prometheus.DefaultRegisterer)

	s.jobs[jobName] = j
	ctx = job.WithLogger(ctx, jobLog)
	ctx, reconnectFunc := reconnect.Context(ctx)
	s.reconnects[jobName] = reconnectFunc

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		jobLog.Info("starting job")
		defer jobLog.Info("job exited")
		j.Run(ctx)
	}()
}
