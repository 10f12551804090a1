// Package transport defines a common interface for
// dialing and accepting peer connections, independent
// of the underlying protocol (TCP, TLS).
//
// Peer authentication is not this package's job: the tls
// transport verifies certificates, but the identity a peer
// claims toward the messaging layer is carried inside the
// messages themselves (client-tag in the handshake).
package transport

import (
	"context"
	"net"

	"github.com/gridwire/gridwire/logger"
)

type Connecter interface {
	Connect(ctx context.Context) (net.Conn, error)
}

// like net.Listener, but with a context-aware Accept:
// implementations are unblocked by closing the listener,
// ctx is used for logging and early abort.
type Listener interface {
	Addr() net.Addr
	Accept(ctx context.Context) (net.Conn, error)
	Close() error
}

// A ListenerFactory is usually constructed from the config at daemon
// startup, but the listen syscalls happen on each invocation so that
// a restarting serve job picks up a fresh socket.
type ListenerFactory func() (Listener, error)

type contextKey int

const contextKeyLog contextKey = 0

type Logger = logger.Logger

func WithLogger(ctx context.Context, log Logger) context.Context {
	return context.WithValue(ctx, contextKeyLog, log)
}

func GetLogger(ctx context.Context) Logger {
	if log, ok := ctx.Value(contextKeyLog).(Logger); ok {
		return log
	}
	return logger.NewNullLogger()
}
