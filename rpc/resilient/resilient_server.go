package resilient

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/gridwire/gridwire/logger"
	"github.com/gridwire/gridwire/rpc/envelope"
	"github.com/gridwire/gridwire/transport"
	"github.com/gridwire/gridwire/util/chainlock"
	"github.com/gridwire/gridwire/util/envconst"
)

// ack field carrying a handler failure to the requesting client
const fieldErrorMessage = "error-message"

var serverWriteTimeout = envconst.Duration("GRIDWIRE_RESILIENT_SERVER_WRITE_TIMEOUT", 10*time.Second)

// Reply is what a Handler returns for a successfully handled message.
// Extra is merged into the ack's control map, Body is attached to the
// ack unmodified. A nil Reply acks with the bare request-id.
type Reply struct {
	Extra map[string]interface{}
	Body  envelope.Body
}

// Handler implements the functionality exposed by a Server to its
// clients. The returned error is reported to the client in the
// error-message field of the ack, it does not close the connection.
type Handler interface {
	HandleMessage(ctx context.Context, ctl *envelope.Control, body envelope.Body) (*Reply, error)
}

type HandlerFunc func(ctx context.Context, ctl *envelope.Control, body envelope.Body) (*Reply, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, ctl *envelope.Control, body envelope.Body) (*Reply, error) {
	return f(ctx, ctl, body)
}

// Server accepts resilient client connections, maintains the registry
// of client tags announced by handshake, and acks every message.
type Server struct {
	name string
	h    Handler
	log  logger.Logger

	mtx     *chainlock.L
	clients map[string]string // client-tag to client-address
}

func NewServer(name string, log logger.Logger, handler Handler) *Server {
	if handler == nil {
		panic("handler must not be nil")
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Server{
		name:    name,
		h:       handler,
		log:     log.WithField("listener", name),
		mtx:     chainlock.New(),
		clients: make(map[string]string),
	}
}

// ClientAddress returns the address the given client announced in its
// most recent handshake.
func (s *Server) ClientAddress(clientTag string) (addr string, ok bool) {
	s.mtx.HoldWhile(func() {
		addr, ok = s.clients[clientTag]
	})
	return addr, ok
}

// Clients returns a snapshot of the client registry.
func (s *Server) Clients() map[string]string {
	clients := make(map[string]string)
	s.mtx.HoldWhile(func() {
		for tag, addr := range s.clients {
			clients[tag] = addr
		}
	})
	return clients
}

// Serve consumes the listener and closes it as soon as ctx is done.
// Accept errors are not returned, they are logged and acceptance
// continues.
func (s *Server) Serve(ctx context.Context, l transport.Listener) {

	go func() {
		<-ctx.Done()
		s.log.Debug("context done")
		if err := l.Close(); err != nil {
			s.log.WithError(err).Error("cannot close listener")
		}
	}()
	conns := make(chan net.Conn)
	go func() {
		for {
			conn, err := l.Accept(ctx)
			if err != nil {
				if ctx.Err() != nil {
					s.log.Debug("stop accepting after context is done")
					close(conns)
					return
				}
				s.log.WithError(err).Error("accept error")
				continue
			}
			conns <- conn
		}
	}()
	for conn := range conns {
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	log := s.log.WithField("remote", nc.RemoteAddr().String())
	log.Debug("serveConn begin")
	defer log.Debug("serveConn done")

	// no read deadline: clients are expected to sit idle between messages
	c := envelope.Wrap(nc, 0, serverWriteTimeout)
	go func() {
		<-ctx.Done()
		c.Shutdown(time.Now().Add(shutdownTimeout))
	}()
	defer func() {
		if err := c.Shutdown(time.Now().Add(shutdownTimeout)); err != nil {
			debug("serveConn: shutdown: %s", err)
		}
	}()

	for {
		env, err := c.Receive()
		if err != nil {
			log.WithError(err).Debug("connection read error")
			return
		}
		if err := s.handleMessage(ctx, log, c, env); err != nil {
			log.WithError(err).Error("closing connection")
			return
		}
	}
}

// handleMessage acks env on c. Handshakes update the client registry,
// everything else is dispatched to the handler and acked with the
// handler's reply. The returned error means the connection must go
// down (protocol violation or a dead send path), handler errors are
// only reported to the client.
func (s *Server) handleMessage(ctx context.Context, log logger.Logger, c *envelope.Conn, env *envelope.Envelope) error {
	log = log.
		WithField("message_type", env.Control.MessageType).
		WithField("request_id", env.Control.RequestID).
		WithField("client_tag", env.Control.ClientTag)

	if env.Control.RequestID == "" {
		// nothing to correlate an ack with
		log.Error("dropping message without request-id")
		return nil
	}

	ack := &envelope.Control{
		MessageType: env.Control.MessageType + "-reply",
		RequestID:   env.Control.RequestID,
	}

	if env.Control.MessageType == HandshakeMessageType {
		addr, _ := env.Control.Extra[fieldClientAddress].(string)
		if env.Control.ClientTag == "" || addr == "" {
			return errors.New("malformed handshake: client-tag and client-address are required")
		}
		s.mtx.HoldWhile(func() {
			_, known := s.clients[env.Control.ClientTag]
			s.clients[env.Control.ClientTag] = addr
			if !known {
				prom.KnownClients.WithLabelValues(s.name).Inc()
			}
		})
		log.WithField("client_address", addr).Info("client handshake")
		return c.Send(&envelope.Envelope{Control: ack})
	}

	reply, err := s.h.HandleMessage(ctx, env.Control, env.Body)
	if err != nil {
		log.WithError(err).Error("handler error")
		ack.Extra = map[string]interface{}{fieldErrorMessage: err.Error()}
		return c.Send(&envelope.Envelope{Control: ack})
	}
	if reply != nil {
		ack.Extra = reply.Extra
		return c.Send(&envelope.Envelope{Control: ack, Body: reply.Body})
	}
	return c.Send(&envelope.Envelope{Control: ack})
}
