// package delivery routes replies back to the callers that requested them:
// a Correlator maps each request-id to a Delivery, the one-shot promise
// the caller blocks on.
package delivery

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/gridwire/gridwire/rpc/envelope"
	"github.com/gridwire/gridwire/util/chainlock"
)

// ErrDuplicateRequestID is returned by Register for a request-id that has
// a live entry. Request-ids are 128 bit random values, a collision means
// a caller bug, so we refuse instead of silently dropping the older entry.
var ErrDuplicateRequestID = errors.New("request-id already registered")

// CorrelationMiss reports a reply for a request-id that has no live entry:
// already resolved, abandoned, or never registered here.
// Receivers log it and drop the reply.
type CorrelationMiss struct {
	RequestID string
}

func (e *CorrelationMiss) Error() string {
	return fmt.Sprintf("no delivery registered for request-id %q", e.RequestID)
}

// A Delivery is fulfilled at most once and holds the reply thereafter.
type Delivery struct {
	requestID string
	done      chan struct{}
	control   *envelope.Control
	body      envelope.Body
}

func (d *Delivery) RequestID() string { return d.requestID }

// Done returns a channel that is closed once the reply is in.
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Wait blocks until the reply arrives or ctx is done.
// This package never fulfills a Delivery on its own, a request whose
// reply is lost blocks forever: callers bring their own ctx timeout.
// After fulfillment, every call returns the same reply immediately.
func (d *Delivery) Wait(ctx context.Context) (*envelope.Control, envelope.Body, error) {
	select {
	case <-d.done:
		return d.control, d.body, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// fulfill must be called at most once
func (d *Delivery) fulfill(control *envelope.Control, body envelope.Body) {
	d.control = control
	d.body = body
	close(d.done)
}

type Correlator struct {
	mtx     *chainlock.L
	entries map[string]*Delivery
}

func NewCorrelator() *Correlator {
	return &Correlator{
		mtx:     chainlock.New(),
		entries: make(map[string]*Delivery),
	}
}

func (c *Correlator) Register(requestID string) (*Delivery, error) {
	defer c.mtx.Lock().Unlock()
	if _, ok := c.entries[requestID]; ok {
		return nil, errors.WithStack(ErrDuplicateRequestID)
	}
	d := &Delivery{
		requestID: requestID,
		done:      make(chan struct{}),
	}
	c.entries[requestID] = d
	prom.OpenDeliveries.Inc()
	return d, nil
}

// Resolve removes the entry for requestID and fulfills its Delivery with
// the reply. A second Resolve for the same requestID is a *CorrelationMiss,
// the already-delivered reply is unaffected.
func (c *Correlator) Resolve(requestID string, control *envelope.Control, body envelope.Body) error {
	defer c.mtx.Lock().Unlock()
	d, ok := c.entries[requestID]
	if !ok {
		prom.CorrelationMisses.Inc()
		return &CorrelationMiss{RequestID: requestID}
	}
	delete(c.entries, requestID)
	prom.OpenDeliveries.Dec()
	d.fulfill(control, body)
	return nil
}

// Abandon removes the entry for requestID without fulfilling it.
// The caller that gave up must not Wait on the Delivery afterwards.
// Unknown requestIDs are ignored.
func (c *Correlator) Abandon(requestID string) {
	defer c.mtx.Lock().Unlock()
	if _, ok := c.entries[requestID]; !ok {
		return
	}
	delete(c.entries, requestID)
	prom.OpenDeliveries.Dec()
}

func (c *Correlator) Len() int {
	defer c.mtx.Lock().Unlock()
	return len(c.entries)
}
