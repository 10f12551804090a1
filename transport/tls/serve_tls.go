package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/pkg/errors"

	"github.com/gridwire/gridwire/config"
	"github.com/gridwire/gridwire/tlsconf"
	"github.com/gridwire/gridwire/transport"
	"github.com/gridwire/gridwire/util/tcpsock"
)

func TLSListenerFactoryFromConfig(c *config.Global, in *config.TLSServe) (transport.ListenerFactory, error) {

	address := in.Listen
	handshakeTimeout := in.HandshakeTimeout

	if in.Ca == "" || in.Cert == "" || in.Key == "" {
		return nil, errors.New("fields 'ca', 'cert' and 'key'must be specified")
	}

	clientCA, err := tlsconf.ParseCAFile(in.Ca)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse ca file")
	}

	serverCert, err := tls.LoadX509KeyPair(in.Cert, in.Key)
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse cert/key pair")
	}

	clientCNs := make(map[string]struct{}, len(in.ClientCNs))
	for i, cn := range in.ClientCNs {
		if cn == "" {
			return nil, errors.Errorf("empty client_cn #%d", i)
		}
		// dupes are ok for now
		clientCNs[cn] = struct{}{}
	}

	lf := func() (transport.Listener, error) {
		l, err := tcpsock.Listen(address, in.ListenFreeBind)
		if err != nil {
			return nil, err
		}
		tl := tlsconf.NewClientAuthListener(l, clientCA, serverCert, handshakeTimeout)
		return &tlsAuthListener{tl, clientCNs}, nil
	}

	return lf, nil
}

type tlsAuthListener struct {
	*tlsconf.ClientAuthListener
	clientCNs map[string]struct{}
}

func (l tlsAuthListener) Accept(ctx context.Context) (net.Conn, error) {
	conn, cn, err := l.ClientAuthListener.Accept()
	if err != nil {
		return nil, err
	}
	if _, ok := l.clientCNs[cn]; !ok {
		if err := conn.Close(); err != nil {
			transport.GetLogger(ctx).WithError(err).Error("error closing connection with unauthorized common name")
		}
		return nil, fmt.Errorf("unauthorized client common name %q from %s", cn, conn.RemoteAddr())
	}
	return conn, nil
}
