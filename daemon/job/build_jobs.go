package job

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/gridwire/gridwire/config"
)

func JobsFromConfig(c *config.Config) ([]Job, error) {
	js := make([]Job, 0, len(c.Peers)+1)
	for i := range c.Peers {
		j, err := buildPeerJob(c, c.Peers[i])
		if err != nil {
			return nil, err
		}
		if j == nil || j.Name() == "" {
			panic(fmt.Sprintf("implementation error: job builder returned nil job for type %T", c.Peers[i].Ret))
		}
		js = append(js, j)
	}

	if c.Listen != nil {
		j, err := listenJobFromConfig(c, c.Listen)
		if err != nil {
			return nil, errors.Wrap(err, "cannot build listen job")
		}
		js = append(js, j)
	}

	// peer names double as job names, they must be unique
	names := make(map[string]bool, len(js))
	for _, j := range js {
		if names[j.Name()] {
			return nil, errors.Errorf("duplicate job name %q", j.Name())
		}
		names[j.Name()] = true
	}

	return js, nil
}

func buildPeerJob(c *config.Config, in config.PeerEnum) (j Job, err error) {
	cannotBuildJob := func(e error, name string) (Job, error) {
		return nil, errors.Wrapf(e, "cannot build peer job %q", name)
	}
	switch v := in.Ret.(type) {
	case *config.ResilientPeer:
		j, err = resilientJobFromConfig(c, v)
		if err != nil {
			return cannotBuildJob(err, v.Name)
		}
	case *config.MuxPeer:
		j, err = muxJobFromConfig(c, v)
		if err != nil {
			return cannotBuildJob(err, v.Name)
		}
	default:
		panic(fmt.Sprintf("implementation error: unknown peer type %T", v))
	}
	return j, nil
}

func identityFromConfig(c *config.Config) (config.Identity, error) {
	if c.Identity.ClientTag == "" {
		return config.Identity{}, errors.New("identity.client_tag must not be empty")
	}
	if c.Identity.ClientAddress == "" {
		return config.Identity{}, errors.New("identity.client_address must not be empty")
	}
	return c.Identity, nil
}
