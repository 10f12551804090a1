package tcp

import (
	"context"
	"net"

	"github.com/pkg/errors"

	"github.com/gridwire/gridwire/config"
	"github.com/gridwire/gridwire/transport"
	"github.com/gridwire/gridwire/util/tcpsock"
)

func TCPListenerFactoryFromConfig(c *config.Global, in *config.TCPServe) (transport.ListenerFactory, error) {
	if in.Listen == "" {
		return nil, errors.New("must specify field 'listen'")
	}
	lf := func() (transport.Listener, error) {
		l, err := tcpsock.Listen(in.Listen, in.ListenFreeBind)
		if err != nil {
			return nil, err
		}
		return &TCPListener{l}, nil
	}
	return lf, nil
}

type TCPListener struct {
	*net.TCPListener
}

func (f *TCPListener) Accept(ctx context.Context) (net.Conn, error) {
	nc, err := f.TCPListener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	return nc, nil
}
