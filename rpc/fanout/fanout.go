// Package fanout sends one logical query to many peers at once and
// succeeds when enough of them answer.
//
// The typical consumer is quorum-style accounting: ask every data
// reader for a value and accept the result once an agreement level is
// reached, tolerating peers that are down or slow.
package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/gridwire/gridwire/logger"
	"github.com/gridwire/gridwire/rpc/delivery"
	"github.com/gridwire/gridwire/rpc/envelope"
	"github.com/gridwire/gridwire/util/chainlock"
	"github.com/gridwire/gridwire/util/envconst"
	"github.com/gridwire/gridwire/util/errorarray"
	"github.com/gridwire/gridwire/util/semaphore"
)

// Target is the messaging client a query rides on. Both the resilient
// and the mux client satisfy it.
type Target interface {
	Name() string
	QueueMessage(ctl *envelope.Control, body envelope.Body) (*delivery.Delivery, error)
}

type Reply struct {
	Target  string
	Control *envelope.Control
	Body    envelope.Body
}

var concurrency = envconst.Int64("GRIDWIRE_FANOUT_CONCURRENCY", 8)

// Query sends ctl+body to every target, each with its own fresh
// request-id, and waits for the replies. The caller's ctl is not
// modified. It succeeds iff at least agreement replies arrive before
// ctx is done, returning those replies; otherwise it returns an
// aggregate error naming the targets that failed.
func Query(ctx context.Context, log logger.Logger, targets []Target, ctl *envelope.Control, body envelope.Body, agreement int) ([]Reply, error) {
	if ctl == nil || ctl.MessageType == "" {
		return nil, errors.New("control must specify a message type")
	}
	if agreement < 1 || agreement > len(targets) {
		return nil, errors.Errorf("agreement level %d out of range for %d targets", agreement, len(targets))
	}
	if log == nil {
		log = logger.NewNullLogger()
	}

	sem := semaphore.New(concurrency)
	mtx := chainlock.New()
	replies := make([]Reply, 0, len(targets))
	errs := make([]error, 0)

	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			r, err := queryTarget(ctx, sem, target, ctl, body)
			mtx.HoldWhile(func() {
				if err != nil {
					log.WithField("target", target.Name()).WithError(err).Error("fan-out target failed")
					errs = append(errs, errors.Wrapf(err, "target %s", target.Name()))
					return
				}
				replies = append(replies, r)
			})
		}(targets[i])
	}
	wg.Wait()

	if len(replies) < agreement {
		// every target yields exactly one of reply or error, so errs
		// cannot be empty here
		return nil, errorarray.Wrap(errs, fmt.Sprintf("%d of %d replies, need %d", len(replies), len(targets), agreement))
	}
	return replies, nil
}

func queryTarget(ctx context.Context, sem *semaphore.S, target Target, ctl *envelope.Control, body envelope.Body) (Reply, error) {
	guard, err := sem.Acquire(ctx)
	if err != nil {
		return Reply{}, err
	}
	defer guard.Release()

	tctl := &envelope.Control{
		MessageType: ctl.MessageType,
		RequestID:   envelope.NewRequestID(),
		ClientTag:   ctl.ClientTag,
		Extra:       ctl.Extra,
	}
	d, err := target.QueueMessage(tctl, body)
	if err != nil {
		return Reply{}, err
	}
	rctl, rbody, err := d.Wait(ctx)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Target: target.Name(), Control: rctl, Body: rbody}, nil
}
