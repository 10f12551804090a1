package job

import (
	"context"
	"net"

	"github.com/gridwire/gridwire/config"
	"github.com/gridwire/gridwire/transport"
	"github.com/gridwire/gridwire/util"
)

type logNetConnConnecter struct {
	transport.Connecter
	ReadDump, WriteDump string
}

var _ transport.Connecter = logNetConnConnecter{}

func (l logNetConnConnecter) Connect(ctx context.Context) (net.Conn, error) {
	conn, err := l.Connecter.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return util.NewNetConnLogger(conn, l.ReadDump, l.WriteDump)
}

type logListener struct {
	transport.Listener
	ReadDump, WriteDump string
}

var _ transport.Listener = logListener{}

func (l logListener) Accept(ctx context.Context) (net.Conn, error) {
	conn, err := l.Listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return util.NewNetConnLogger(conn, l.ReadDump, l.WriteDump)
}

func connecterWithDebug(c transport.Connecter, conf config.PeerDebugSettings) transport.Connecter {
	if conf.Conn == nil {
		return c
	}
	return logNetConnConnecter{c, conf.Conn.ReadDump, conf.Conn.WriteDump}
}

func listenerFactoryWithDebug(f transport.ListenerFactory, conf config.PeerDebugSettings) transport.ListenerFactory {
	if conf.Conn == nil {
		return f
	}
	return func() (transport.Listener, error) {
		l, err := f()
		if err != nil {
			return nil, err
		}
		return logListener{l, conf.Conn.ReadDump, conf.Conn.WriteDump}, nil
	}
}
