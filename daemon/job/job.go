package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridwire/gridwire/logger"
	"github.com/gridwire/gridwire/rpc/envelope"
	"github.com/gridwire/gridwire/rpc/fanout"
)

type Logger = logger.Logger

type contextKey int

const (
	contextKeyLog contextKey = iota
)

func GetLogger(ctx context.Context) Logger {
	if l, ok := ctx.Value(contextKeyLog).(Logger); ok {
		return l
	}
	return logger.NewNullLogger()
}

func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, contextKeyLog, l)
}

type Job interface {
	Name() string
	Run(ctx context.Context)
	Status() *Status
	RegisterMetrics(registerer prometheus.Registerer)
}

// message type answered by the listen job and sent by Pinger jobs
const PingMessageType = "ping"

// A Pinger can send a round-trip probe through the connection it
// maintains. Implemented by the peer jobs, consumed by the control
// socket's ping endpoint.
type Pinger interface {
	Ping(ctx context.Context) (*PingResult, error)
}

type PingResult struct {
	RTT time.Duration
	Ack *envelope.Control
}

// A Broadcaster exposes the messaging client it maintains for grouped
// queries across several peers at once. Returns nil while the client
// has not been built yet.
type Broadcaster interface {
	BroadcastTarget() fanout.Target
}

type Type string

const (
	TypeInternal  Type = "internal"
	TypeResilient Type = "resilient"
	TypeMux       Type = "mux"
	TypeListen    Type = "listen"
)

type Status struct {
	Type        Type
	JobSpecific interface{}
}

func (s *Status) MarshalJSON() ([]byte, error) {
	typeJson, err := json.Marshal(s.Type)
	if err != nil {
		return nil, err
	}
	jobJSON, err := json.Marshal(s.JobSpecific)
	if err != nil {
		return nil, err
	}
	m := map[string]json.RawMessage{
		"type":         typeJson,
		string(s.Type): jobJSON,
	}
	return json.Marshal(m)
}

func (s *Status) UnmarshalJSON(in []byte) (err error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(in, &m); err != nil {
		return err
	}
	tJSON, ok := m["type"]
	if !ok {
		return fmt.Errorf("field 'type' not found")
	}
	if err := json.Unmarshal(tJSON, &s.Type); err != nil {
		return err
	}
	key := string(s.Type)
	jobJSON, ok := m[key]
	if !ok {
		return fmt.Errorf("field '%s', not found", key)
	}
	switch s.Type {
	case TypeResilient:
		var st ResilientStatus
		err = json.Unmarshal(jobJSON, &st)
		s.JobSpecific = &st
	case TypeMux:
		var st MuxStatus
		err = json.Unmarshal(jobJSON, &st)
		s.JobSpecific = &st
	case TypeListen:
		var st ListenStatus
		err = json.Unmarshal(jobJSON, &st)
		s.JobSpecific = &st
	case TypeInternal:
		// internal jobs do not report specifics
	default:
		err = fmt.Errorf("unknown job type '%s'", key)
	}
	return err
}
