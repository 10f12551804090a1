// Package muxclient implements the multiplexed client of the cluster
// messaging layer: arbitrarily many requests in flight over a single
// connection, replies correlated by request-id in whatever order the
// peer produces them.
//
// There is no resilience machinery here: no handshake, no acks beyond
// the correlated reply, no reconnect. When the connection dies, queued
// messages accumulate unsent and their Deliveries are never fulfilled;
// callers bound their waits with a context. Peers that need repair use
// package resilient instead.
package muxclient

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/gridwire/gridwire/logger"
	"github.com/gridwire/gridwire/rpc/delivery"
	"github.com/gridwire/gridwire/rpc/envelope"
	"github.com/gridwire/gridwire/transport"
	"github.com/gridwire/gridwire/util/chainlock"
	"github.com/gridwire/gridwire/util/envconst"
)

var ErrClosed = errors.New("mux client is closed")

var (
	writeTimeout    = envconst.Duration("GRIDWIRE_MUX_WRITE_TIMEOUT", 10*time.Second)
	shutdownTimeout = envconst.Duration("GRIDWIRE_MUX_SHUTDOWN_TIMEOUT", 1*time.Second)
)

type ClientParams struct {
	// peer name, used in logs and metrics
	Name       string
	Connecter  transport.Connecter
	Correlator *delivery.Correlator
	Log        logger.Logger
}

type Client struct {
	name       string
	connecter  transport.Connecter
	correlator *delivery.Correlator
	log        logger.Logger

	mtx      *chainlock.L
	nonempty *sync.Cond
	conn     *envelope.Conn
	sendq    []*envelope.Envelope
	dialing  bool
	dead     bool
	closed   bool
}

func NewClient(p ClientParams) (*Client, error) {
	if p.Name == "" {
		return nil, errors.New("Name must not be empty")
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
	c := &Client{
		name:       p.Name,
		connecter:  p.Connecter,
		correlator: p.Correlator,
		log:        p.Log.WithField("peer", p.Name),
		mtx:        chainlock.New(),
	}
	c.nonempty = c.mtx.NewCond()
	return c, nil
}

// Connect dials the peer and starts the writer and reader goroutines.
// Unlike the resilient client there is no redial: a dial error leaves
// the client unusable and is the caller's problem.
func (c *Client) Connect(ctx context.Context) error {
	defer c.mtx.Lock().Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return errors.New("already connected")
	}
	if c.dialing {
		return errors.New("dial already in flight")
	}
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
		return errors.Wrap(err, "cannot dial peer")
	}
	// no read deadline, a quiet reply channel is normal
	conn := envelope.Wrap(nc, 0, writeTimeout)
	c.conn = conn
	go c.writeLoop(conn)
	go c.readLoop(conn)
	return nil
}

// QueueMessage registers ctl's request-id for delivery and appends the
// message to the send queue, waking the writer. It never blocks on the
// peer: the queue is unbounded. A missing request-id is assigned. The
// returned Delivery is fulfilled with the peer's reply.
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
	c.sendq = append(c.sendq, &envelope.Envelope{Control: ctl, Body: body})
	prom.QueueLength.WithLabelValues(c.name).Set(float64(len(c.sendq)))
	c.nonempty.Signal()
	return d, nil
}

// writeLoop drains the entire send queue whenever it becomes non-empty.
// The lock is dropped for the writes themselves so that QueueMessage
// keeps appending while a batch is on the wire.
func (c *Client) writeLoop(conn *envelope.Conn) {
	defer c.mtx.Lock().Unlock()
	for {
		for len(c.sendq) == 0 && !c.closed {
			c.nonempty.Wait()
		}
		if c.closed {
			return
		}
		batch := c.sendq
		c.sendq = nil
		prom.QueueLength.WithLabelValues(c.name).Set(0)
		var err error
		c.mtx.DropWhile(func() {
			for _, env := range batch {
				if err = conn.Send(env); err != nil {
					break
				}
			}
		})
		debug("%s: drained batch of %d messages", c.name, len(batch))
		if err != nil {
			if !c.closed {
				c.log.WithError(err).Error("cannot send queued messages")
				c.dead = true
			}
			return
		}
	}
}

// readLoop resolves replies until conn dies. Replies without a
// request-id and replies nobody is waiting for are logged and dropped.
func (c *Client) readLoop(conn *envelope.Conn) {
	for {
		env, err := conn.Receive()
		if err != nil {
			c.mtx.HoldWhile(func() {
				if !c.closed {
					c.log.WithError(err).Error("connection read error")
					c.dead = true
				}
			})
			return
		}
		if env.Control.RequestID == "" {
			c.log.WithField("message_type", env.Control.MessageType).
				Error("received reply without request-id")
			prom.Replies.WithLabelValues(c.name, "no_request_id").Inc()
			continue
		}
		if err := c.correlator.Resolve(env.Control.RequestID, env.Control, env.Body); err != nil {
			c.log.WithField("request_id", env.Control.RequestID).
				WithError(err).Error("cannot deliver reply")
			prom.Replies.WithLabelValues(c.name, "no_delivery").Inc()
			continue
		}
		prom.Replies.WithLabelValues(c.name, "delivered").Inc()
	}
}

// Close closes the connection and stops both goroutines. Messages still
// in the send queue are discarded and, like in-flight requests, their
// Deliveries are never fulfilled: waiters must rely on their context.
func (c *Client) Close() error {
	defer c.mtx.Lock().Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.sendq = nil
	prom.QueueLength.WithLabelValues(c.name).Set(0)
	c.nonempty.Broadcast()
	if c.conn != nil {
		conn := c.conn
		c.conn = nil
		go func() {
			if err := conn.Shutdown(time.Now().Add(shutdownTimeout)); err != nil {
				debug("%s: connection shutdown: %s", c.name, err)
			}
		}()
	}
	return nil
}

func (c *Client) Name() string { return c.name }

type Report struct {
	Name        string
	Connected   bool
	QueueLength int
}

func (c *Client) Report() *Report {
	defer c.mtx.Lock().Unlock()
	return &Report{
		Name:        c.name,
		Connected:   c.conn != nil && !c.dead,
		QueueLength: len(c.sendq),
	}
}
