// Package resilient implements the retrying, handshaking message
// client and the corresponding server side of the cluster messaging
// layer.
//
// A resilient client owns at most one in-flight message at a time
// (the pending slot) and keeps everything else in a FIFO send queue.
// Every message is acknowledged by the peer; an acknowledgment that
// does not arrive within the ack timeout causes the connection to be
// torn down and the message to be requeued at the head of the queue.
// All timeout handling is driven by a periodic housekeeping task,
// not by connection-level errors: a broken connection surfaces as a
// missing ack and is repaired on the housekeeping schedule.
package resilient

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/gridwire/gridwire/logger"
	"github.com/gridwire/gridwire/rpc/delivery"
	"github.com/gridwire/gridwire/rpc/envelope"
	"github.com/gridwire/gridwire/transport"
	"github.com/gridwire/gridwire/util/chainlock"
	"github.com/gridwire/gridwire/util/envconst"
)

// HandshakeMessageType is sent as the first message after each
// (re)connect, announcing this client's tag and return address.
const HandshakeMessageType = "resilient-server-handshake"

// handshake control field carrying the address under which
// this client's own listener can be reached
const fieldClientAddress = "client-address"

//go:generate enumer -type=Status -json
type Status uint

const (
	StatusDisconnected Status = 1 + iota
	StatusHandshaking
	StatusConnected
)

var ErrClosed = errors.New("resilient client is closed")

type Options struct {
	// how long a transmitted message may go unacknowledged
	AckTimeout time.Duration
	// how long to stay disconnected before redialing
	RetryInterval time.Duration
	// cadence of the housekeeping task
	PollingInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.AckTimeout == 0 {
		o.AckTimeout = envconst.Duration("GRIDWIRE_RESILIENT_ACK_TIMEOUT", 10*time.Second)
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = envconst.Duration("GRIDWIRE_RESILIENT_RETRY_INTERVAL", 60*time.Second)
	}
	if o.PollingInterval == 0 {
		o.PollingInterval = envconst.Duration("GRIDWIRE_RESILIENT_POLLING_INTERVAL", 3*time.Second)
	}
}

var shutdownTimeout = envconst.Duration("GRIDWIRE_RESILIENT_SHUTDOWN_TIMEOUT", 1*time.Second)

type pendingSlot struct {
	env    *envelope.Envelope
	sentAt time.Time
}

type ClientParams struct {
	// peer name, used in logs and metrics
	Name string
	// identity announced in the handshake
	ClientTag     string
	ClientAddress string

	Connecter  transport.Connecter
	Correlator *delivery.Correlator
	Options    Options
	Log        logger.Logger
}

type Client struct {
	name          string
	clientTag     string
	clientAddress string
	connecter     transport.Connecter
	correlator    *delivery.Correlator
	opts          Options
	log           logger.Logger

	mtx         *chainlock.L
	status      Status
	statusSince time.Time
	conn        *envelope.Conn
	sendq       []*envelope.Envelope
	pending     *pendingSlot
	dialing     bool
	closed      bool
}

// NewClient returns a client in status disconnected.
// Call Connect for the initial dial and drive RunOnce
// periodically for timeout handling and reconnects.
func NewClient(p ClientParams) (*Client, error) {
	if p.Name == "" {
		return nil, errors.New("Name must not be empty")
	}
	if p.ClientTag == "" {
		return nil, errors.New("ClientTag must not be empty")
	}
	if p.ClientAddress == "" {
		return nil, errors.New("ClientAddress must not be empty")
	}
	if p.Connecter == nil {
		return nil, errors.New("Connecter must not be nil")
	}
	if p.Correlator == nil {
		return nil, errors.New("Correlator must not be nil")
	}
	if p.Log == nil {
		p.Log = logger.NewNullLogger()
	}
	opts := p.Options
	opts.setDefaults()
	c := &Client{
		name:          p.Name,
		clientTag:     p.ClientTag,
		clientAddress: p.ClientAddress,
		connecter:     p.Connecter,
		correlator:    p.Correlator,
		opts:          opts,
		log:           p.Log.WithField("peer", p.Name),
		mtx:           chainlock.New(),
		status:        StatusDisconnected,
		statusSince:   time.Now(),
	}
	return c, nil
}

// Connect performs the initial dial and handshake transmission.
// A dial error leaves the client in status disconnected, where the
// housekeeping task redials after RetryInterval: callers may treat
// the returned error as advisory.
func (c *Client) Connect(ctx context.Context) error {
	defer c.mtx.Lock().Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.status != StatusDisconnected {
		return errors.Errorf("invalid status %s for Connect", c.status)
	}
	if c.dialing {
		return errors.New("dial already in flight")
	}
	return c.connectLocked(ctx, time.Now())
}

// connectLocked dials the peer, starts the read loop and transmits
// the handshake. The lock is dropped for the duration of the dial so
// that QueueMessage callers are not blocked behind a slow dial.
func (c *Client) connectLocked(ctx context.Context, now time.Time) error {
	var (
		nc  net.Conn
		err error
	)
	c.dialing = true
	c.mtx.DropWhile(func() {
		nc, err = c.connecter.Connect(ctx)
	})
	c.dialing = false
	if c.closed {
		if nc != nil {
			nc.Close()
		}
		return ErrClosed
	}
	if err != nil {
		c.log.WithError(err).Error("cannot dial peer")
		// stay disconnected for another full retry interval
		c.statusSince = now
		return err
	}
	// The write deadline bounds the time a transmit may hold the lock.
	// No read deadline: an idle ack channel is normal in this protocol.
	conn := envelope.Wrap(nc, 0, c.opts.AckTimeout)
	c.conn = conn
	c.setStatusLocked(StatusHandshaking, now)
	go c.readLoop(conn)
	c.transmitLocked(c.handshakeEnvelope(), now)
	return nil
}

func (c *Client) handshakeEnvelope() *envelope.Envelope {
	return &envelope.Envelope{
		Control: &envelope.Control{
			MessageType: HandshakeMessageType,
			RequestID:   envelope.NewRequestID(),
			Extra: map[string]interface{}{
				fieldClientAddress: c.clientAddress,
			},
		},
	}
}

// QueueMessage registers ctl's request-id for delivery and either
// transmits right away (connected, pending slot free) or appends to
// the send queue. A missing request-id is assigned. The returned
// Delivery is fulfilled with the peer's acknowledgment.
func (c *Client) QueueMessage(ctl *envelope.Control, body envelope.Body) (*delivery.Delivery, error) {
	if ctl == nil || ctl.MessageType == "" {
		return nil, errors.New("control must specify a message type")
	}
	defer c.mtx.Lock().Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if ctl.RequestID == "" {
		ctl.RequestID = envelope.NewRequestID()
	}
	d, err := c.correlator.Register(ctl.RequestID)
	if err != nil {
		return nil, err
	}
	env := &envelope.Envelope{Control: ctl, Body: body}
	if c.status == StatusConnected && c.pending == nil {
		c.transmitLocked(env, time.Now())
	} else {
		c.sendq = append(c.sendq, env)
		prom.QueueLength.WithLabelValues(c.name).Set(float64(len(c.sendq)))
	}
	return d, nil
}

// transmitLocked stamps the client tag, occupies the pending slot and
// writes env to the connection. Write errors are not propagated: the
// slot stays occupied and housekeeping requeues after AckTimeout.
func (c *Client) transmitLocked(env *envelope.Envelope, now time.Time) {
	env.Control.ClientTag = c.clientTag
	c.pending = &pendingSlot{env: env, sentAt: now}
	if err := c.conn.Send(env); err != nil {
		c.log.WithError(err).
			WithField("message_type", env.Control.MessageType).
			WithField("request_id", env.Control.RequestID).
			Error("error transmitting message")
	}
}

// readLoop delivers acks read from conn until conn dies. A read
// error does not touch the status machine: the housekeeping timers
// notice the missing ack and repair the state.
func (c *Client) readLoop(conn *envelope.Conn) {
	for {
		env, err := conn.Receive()
		if err != nil {
			c.mtx.HoldWhile(func() {
				if c.conn == conn {
					c.log.WithError(err).Debug("connection read error")
				}
			})
			return
		}
		c.handleAck(conn, env)
	}
}

// handleAck matches an ack against the pending slot. A mismatched or
// unexpected ack is logged and dropped without touching the slot.
func (c *Client) handleAck(conn *envelope.Conn, env *envelope.Envelope) {
	defer c.mtx.Lock().Unlock()
	if c.conn != conn {
		debug("%s: dropping ack from stale connection", c.name)
		return
	}
	log := c.log.WithField("request_id", env.Control.RequestID)
	if c.pending == nil {
		log.Error("unexpected message: no message awaiting ack")
		return
	}
	if env.Control.RequestID != c.pending.env.Control.RequestID {
		log.WithField("pending_request_id", c.pending.env.Control.RequestID).
			Error("ack does not match pending message")
		return
	}

	sent := c.pending.env
	prom.AckLatency.WithLabelValues(c.name).Observe(time.Since(c.pending.sentAt).Seconds())
	c.pending = nil

	if sent.Control.MessageType == HandshakeMessageType {
		c.setStatusLocked(StatusConnected, time.Now())
	} else {
		// the ack carries the reply payload
		if err := c.correlator.Resolve(env.Control.RequestID, env.Control, env.Body); err != nil {
			log.WithError(err).Error("cannot deliver ack")
		}
	}

	if c.status == StatusConnected && len(c.sendq) > 0 {
		head := c.sendq[0]
		c.sendq = c.sendq[1:]
		prom.QueueLength.WithLabelValues(c.name).Set(float64(len(c.sendq)))
		c.transmitLocked(head, time.Now())
	}
}

// Name implements timequeue.Task.
func (c *Client) Name() string { return c.name }

// RunOnce is the housekeeping tick: it requeues timed-out messages,
// tears down connections whose handshake went unacknowledged, and
// redials once the retry interval has passed. It reschedules itself
// every PollingInterval until the client is closed.
func (c *Client) RunOnce(ctx context.Context, now time.Time) (time.Time, bool) {
	defer c.mtx.Lock().Unlock()
	if c.closed {
		return time.Time{}, false
	}
	switch c.status {
	case StatusConnected:
		if c.pending != nil && now.Sub(c.pending.sentAt) > c.opts.AckTimeout {
			env := c.pending.env
			c.log.WithField("request_id", env.Control.RequestID).
				WithField("message_type", env.Control.MessageType).
				Warn("timeout waiting for ack, requeueing message")
			c.pending = nil
			c.sendq = append([]*envelope.Envelope{env}, c.sendq...)
			prom.RequeuedMessages.WithLabelValues(c.name).Inc()
			prom.QueueLength.WithLabelValues(c.name).Set(float64(len(c.sendq)))
			c.disconnectLocked(now)
		}
	case StatusHandshaking:
		if c.pending != nil && now.Sub(c.pending.sentAt) > c.opts.AckTimeout {
			c.log.Warn("timeout waiting for handshake ack")
			// the handshake is not requeued, reconnecting builds a fresh one
			c.pending = nil
			c.disconnectLocked(now)
		}
	case StatusDisconnected:
		if !c.dialing && now.Sub(c.statusSince) > c.opts.RetryInterval {
			c.log.Info("retry interval elapsed, redialing")
			c.connectLocked(ctx, now) // dial errors are logged inside, retried next interval
		}
	default:
		c.log.WithField("status", uint(c.status)).Error("unknown status")
	}
	return now.Add(c.opts.PollingInterval), true
}

// disconnectLocked closes the current connection in the background
// and enters status disconnected. The read loop belonging to the old
// connection terminates with its connection.
func (c *Client) disconnectLocked(now time.Time) {
	if c.conn != nil {
		conn := c.conn
		c.conn = nil
		go func() {
			if err := conn.Shutdown(time.Now().Add(shutdownTimeout)); err != nil {
				debug("%s: connection shutdown: %s", c.name, err)
			}
		}()
	}
	c.setStatusLocked(StatusDisconnected, now)
}

func (c *Client) setStatusLocked(to Status, now time.Time) {
	prom.StateTransitions.WithLabelValues(c.name, c.status.String(), to.String()).Inc()
	c.status = to
	c.statusSince = now
}

// Close tears down the connection and abandons all undelivered
// messages: their Delivery channels are never fulfilled, waiters
// must rely on their context.
func (c *Client) Close() error {
	defer c.mtx.Lock().Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.pending != nil {
		if c.pending.env.Control.MessageType != HandshakeMessageType {
			c.correlator.Abandon(c.pending.env.Control.RequestID)
		}
		c.pending = nil
	}
	for _, env := range c.sendq {
		c.correlator.Abandon(env.Control.RequestID)
	}
	c.sendq = nil
	prom.QueueLength.WithLabelValues(c.name).Set(0)
	c.disconnectLocked(time.Now())
	return nil
}

type Report struct {
	Name        string
	Status      Status
	StatusSince time.Time
	QueueLength int
	Pending     *PendingReport `json:",omitempty"`
}

type PendingReport struct {
	RequestID   string
	MessageType string
	SentAt      time.Time
}

func (c *Client) Report() *Report {
	defer c.mtx.Lock().Unlock()
	r := &Report{
		Name:        c.name,
		Status:      c.status,
		StatusSince: c.statusSince,
		QueueLength: len(c.sendq),
	}
	if c.pending != nil {
		r.Pending = &PendingReport{
			RequestID:   c.pending.env.Control.RequestID,
			MessageType: c.pending.env.Control.MessageType,
			SentAt:      c.pending.sentAt,
		}
	}
	return r
}
