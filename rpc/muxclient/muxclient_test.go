package muxclient

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwire/gridwire/logger"
	"github.com/gridwire/gridwire/rpc/delivery"
	"github.com/gridwire/gridwire/rpc/envelope"
	"github.com/gridwire/gridwire/util/socketpair"
)

type testConnecter struct {
	conns chan net.Conn
}

func newTestConnecter() *testConnecter {
	return &testConnecter{conns: make(chan net.Conn, 1)}
}

func (c *testConnecter) Connect(ctx context.Context) (net.Conn, error) {
	clientEnd, peerEnd, err := socketpair.SocketPair()
	if err != nil {
		return nil, err
	}
	c.conns <- peerEnd
	return clientEnd, nil
}

type failConnecter struct{}

func (failConnecter) Connect(ctx context.Context) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

type testPeer struct {
	t    *testing.T
	nc   net.Conn
	conn *envelope.Conn
}

func acceptPeer(t *testing.T, tc *testConnecter) *testPeer {
	t.Helper()
	select {
	case nc := <-tc.conns:
		return &testPeer{t, nc, envelope.Wrap(nc, 5*time.Second, 5*time.Second)}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client dial")
		return nil
	}
}

func (p *testPeer) receive() *envelope.Envelope {
	p.t.Helper()
	env, err := p.conn.Receive()
	require.NoError(p.t, err)
	return env
}

func (p *testPeer) reply(req *envelope.Envelope, extra map[string]interface{}, body envelope.Body) {
	p.t.Helper()
	err := p.conn.Send(&envelope.Envelope{
		Control: &envelope.Control{
			MessageType: req.Control.MessageType + "-reply",
			RequestID:   req.Control.RequestID,
			Extra:       extra,
		},
		Body: body,
	})
	require.NoError(p.t, err)
}

func testClient(t *testing.T, tc *testConnecter) *Client {
	t.Helper()
	c, err := NewClient(ClientParams{
		Name:       "reader-0",
		Connecter:  tc,
		Correlator: delivery.NewCorrelator(),
		Log:        logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	return c
}

func waitDelivery(t *testing.T, d *delivery.Delivery) (*envelope.Control, envelope.Body) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctl, body, err := d.Wait(ctx)
	require.NoError(t, err)
	return ctl, body
}

func TestOutOfOrderRepliesResolveTheirDeliveries(t *testing.T) {
	tc := newTestConnecter()
	c := testClient(t, tc)
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	peer := acceptPeer(t, tc)

	d1, err := c.QueueMessage(&envelope.Control{MessageType: "retrieve-key"}, envelope.ScalarBody([]byte("key-1")))
	require.NoError(t, err)
	d2, err := c.QueueMessage(&envelope.Control{MessageType: "retrieve-key"}, envelope.ScalarBody([]byte("key-2")))
	require.NoError(t, err)
	d3, err := c.QueueMessage(&envelope.Control{MessageType: "retrieve-key"}, envelope.ScalarBody([]byte("key-3")))
	require.NoError(t, err)

	// the writer preserves queue order on the wire
	m1, m2, m3 := peer.receive(), peer.receive(), peer.receive()
	assert.Equal(t, d1.RequestID(), m1.Control.RequestID)
	assert.Equal(t, d2.RequestID(), m2.Control.RequestID)
	assert.Equal(t, d3.RequestID(), m3.Control.RequestID)

	// replies resolve in whatever order the peer produces them
	peer.reply(m3, nil, nil)
	ctl, _ := waitDelivery(t, d3)
	assert.Equal(t, "retrieve-key-reply", ctl.MessageType)
	select {
	case <-d1.Done():
		t.Fatal("d1 must not be fulfilled before its reply was sent")
	case <-d2.Done():
		t.Fatal("d2 must not be fulfilled before its reply was sent")
	default:
	}

	peer.reply(m1, map[string]interface{}{"value-file-id": "vf-00001"}, envelope.ScalarBody([]byte("value-1")))
	ctl, body := waitDelivery(t, d1)
	assert.Equal(t, d1.RequestID(), ctl.RequestID)
	assert.Equal(t, "vf-00001", ctl.Extra["value-file-id"])
	require.Len(t, body, 1)
	assert.Equal(t, []byte("value-1"), body[0])

	peer.reply(m2, nil, nil)
	waitDelivery(t, d2)
}

func TestJunkRepliesAreDropped(t *testing.T) {
	tc := newTestConnecter()
	c := testClient(t, tc)
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	peer := acceptPeer(t, tc)

	d1, err := c.QueueMessage(&envelope.Control{MessageType: "space-usage"}, nil)
	require.NoError(t, err)
	m1 := peer.receive()

	// a reply nobody is waiting for
	require.NoError(t, peer.conn.Send(&envelope.Envelope{Control: &envelope.Control{
		MessageType: "space-usage-reply",
		RequestID:   envelope.NewRequestID(),
	}}))
	// a reply without request-id
	require.NoError(t, peer.conn.Send(&envelope.Envelope{Control: &envelope.Control{
		MessageType: "space-usage-reply",
	}}))

	// the reader survives both and still delivers the real reply
	peer.reply(m1, nil, nil)
	ctl, _ := waitDelivery(t, d1)
	assert.Equal(t, d1.RequestID(), ctl.RequestID)
}

func TestMessagesQueuedBeforeConnectAreDrainedAfterConnect(t *testing.T) {
	tc := newTestConnecter()
	c := testClient(t, tc)
	defer c.Close()

	d1, err := c.QueueMessage(&envelope.Control{MessageType: "archive-key-entire"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Report().QueueLength)
	assert.False(t, c.Report().Connected)

	require.NoError(t, c.Connect(context.Background()))
	peer := acceptPeer(t, tc)
	m1 := peer.receive()
	assert.Equal(t, d1.RequestID(), m1.Control.RequestID)
	peer.reply(m1, nil, nil)
	waitDelivery(t, d1)
}

func TestQueueMessageAssignsRequestID(t *testing.T) {
	tc := newTestConnecter()
	c := testClient(t, tc)
	defer c.Close()

	ctl := &envelope.Control{MessageType: "space-usage"}
	d, err := c.QueueMessage(ctl, nil)
	require.NoError(t, err)
	assert.Regexp(t, "^[0-9a-f]{32}$", ctl.RequestID)
	assert.Equal(t, ctl.RequestID, d.RequestID())

	_, err = c.QueueMessage(&envelope.Control{MessageType: "space-usage", RequestID: ctl.RequestID}, nil)
	require.Error(t, err)
	assert.Equal(t, delivery.ErrDuplicateRequestID, errors.Cause(err))
}

func TestCloseDiscardsQueue(t *testing.T) {
	tc := newTestConnecter()
	c := testClient(t, tc)

	d, err := c.QueueMessage(&envelope.Control{MessageType: "space-usage"}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	r := c.Report()
	assert.False(t, r.Connected)
	assert.Equal(t, 0, r.QueueLength)

	// discarded messages are never fulfilled, the waiter's context is
	// the only way out
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err = d.Wait(ctx)
	assert.Error(t, err)

	_, err = c.QueueMessage(&envelope.Control{MessageType: "space-usage"}, nil)
	assert.Equal(t, ErrClosed, errors.Cause(err))
	assert.Equal(t, ErrClosed, c.Connect(context.Background()))
}

func TestDialErrorSurfacesToCaller(t *testing.T) {
	c, err := NewClient(ClientParams{
		Name:       "reader-0",
		Connecter:  failConnecter{},
		Correlator: delivery.NewCorrelator(),
		Log:        logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	defer c.Close()

	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, c.Report().Connected)
}

func TestConnectionDeathReflectedInReport(t *testing.T) {
	tc := newTestConnecter()
	c := testClient(t, tc)
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	peer := acceptPeer(t, tc)
	assert.True(t, c.Report().Connected)

	d1, err := c.QueueMessage(&envelope.Control{MessageType: "space-usage"}, nil)
	require.NoError(t, err)
	peer.receive()
	require.NoError(t, peer.nc.Close())

	begin := time.Now()
	for c.Report().Connected && time.Since(begin) < 5*time.Second {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, c.Report().Connected)

	// in-flight requests on a dead connection are never fulfilled
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err = d1.Wait(ctx)
	assert.Error(t, err)
}

func TestManyConcurrentRequests(t *testing.T) {
	tc := newTestConnecter()
	c := testClient(t, tc)
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	peer := acceptPeer(t, tc)

	const senders = 8
	const perSender = 25

	go func() {
		for i := 0; i < senders*perSender; i++ {
			env, err := peer.conn.Receive()
			if err != nil {
				t.Errorf("peer receive: %s", err)
				return
			}
			err = peer.conn.Send(&envelope.Envelope{Control: &envelope.Control{
				MessageType: env.Control.MessageType + "-reply",
				RequestID:   env.Control.RequestID,
			}})
			if err != nil {
				t.Errorf("peer send: %s", err)
				return
			}
		}
	}()

	deliveries := make(chan *delivery.Delivery, senders*perSender)
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				d, err := c.QueueMessage(&envelope.Control{MessageType: "space-usage"}, nil)
				if err != nil {
					t.Errorf("queue message: %s", err)
					return
				}
				deliveries <- d
			}
		}()
	}
	wg.Wait()
	close(deliveries)

	n := 0
	for d := range deliveries {
		ctl, _ := waitDelivery(t, d)
		assert.Equal(t, d.RequestID(), ctl.RequestID)
		n++
	}
	assert.Equal(t, senders*perSender, n)
}
