// Package reconnect carries a per-job signal channel through the
// context. The control socket uses it to make a peer job redial
// immediately instead of sitting out its retry interval.
package reconnect

import (
	"context"
	"errors"
)

type contextKey int

const contextKeyReconnect contextKey = iota

func Wait(ctx context.Context) <-chan struct{} {
	wc, ok := ctx.Value(contextKeyReconnect).(chan struct{})
	if !ok {
		wc = make(chan struct{})
	}
	return wc
}

type Func func() error

var AlreadySignaled = errors.New("reconnect already signaled")

func Context(ctx context.Context) (context.Context, Func) {
	wc := make(chan struct{})
	wuf := func() error {
		select {
		case wc <- struct{}{}:
			return nil
		default:
			return AlreadySignaled
		}
	}
	return context.WithValue(ctx, contextKeyReconnect, wc), wuf
}
