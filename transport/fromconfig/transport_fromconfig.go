// Package fromconfig instantiates transports based on gridwire config structures
// (see package config).
package fromconfig

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/gridwire/gridwire/config"
	"github.com/gridwire/gridwire/transport"
	"github.com/gridwire/gridwire/transport/tcp"
	"github.com/gridwire/gridwire/transport/tls"
)

func ListenerFactoryFromConfig(g *config.Global, in config.ServeEnum) (transport.ListenerFactory, error) {

	var (
		l   transport.ListenerFactory
		err error
	)
	switch v := in.Ret.(type) {
	case *config.TCPServe:
		l, err = tcp.TCPListenerFactoryFromConfig(g, v)
	case *config.TLSServe:
		l, err = tls.TLSListenerFactoryFromConfig(g, v)
	default:
		return nil, errors.Errorf("internal error: unknown serve type %T", v)
	}

	return l, err
}

func ConnecterFromConfig(g *config.Global, in config.ConnectEnum) (transport.Connecter, error) {
	var (
		connecter transport.Connecter
		err       error
	)
	switch v := in.Ret.(type) {
	case *config.TCPConnect:
		connecter, err = tcp.TCPConnecterFromConfig(v)
	case *config.TLSConnect:
		connecter, err = tls.TLSConnecterFromConfig(v)
	default:
		panic(fmt.Sprintf("implementation error: unknown connecter type %T", v))
	}

	return connecter, err
}
