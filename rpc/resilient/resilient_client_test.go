package resilient

import (
	"context"
	"encoding/json"
	"net"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	jsondiff "github.com/yudai/gojsondiff"
	jsondiffformatter "github.com/yudai/gojsondiff/formatter"

	"github.com/gridwire/gridwire/logger"
	"github.com/gridwire/gridwire/rpc/delivery"
	"github.com/gridwire/gridwire/rpc/envelope"
	"github.com/gridwire/gridwire/util/socketpair"
)

// testConnecter hands the peer end of each dialed connection to the
// test via the conns channel.
type testConnecter struct {
	mtx   sync.Mutex
	fail  bool
	conns chan net.Conn
}

func newTestConnecter() *testConnecter {
	return &testConnecter{conns: make(chan net.Conn, 8)}
}

func (c *testConnecter) setFail(fail bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.fail = fail
}

func (c *testConnecter) Connect(ctx context.Context) (net.Conn, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.fail {
		return nil, errors.New("connection refused")
	}
	clientEnd, peerEnd, err := socketpair.SocketPair()
	if err != nil {
		return nil, err
	}
	c.conns <- peerEnd
	return clientEnd, nil
}

type testPeer struct {
	t    *testing.T
	conn *envelope.Conn
}

func acceptPeer(t *testing.T, tc *testConnecter) *testPeer {
	t.Helper()
	select {
	case nc := <-tc.conns:
		return &testPeer{t, envelope.Wrap(nc, 5*time.Second, 5*time.Second)}
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

func (p *testPeer) ack(requestID string) {
	p.t.Helper()
	err := p.conn.Send(&envelope.Envelope{Control: &envelope.Control{
		MessageType: "ack",
		RequestID:   requestID,
	}})
	require.NoError(p.t, err)
}

func testClient(t *testing.T, tc *testConnecter, opts Options) *Client {
	t.Helper()
	c, err := NewClient(ClientParams{
		Name:          "testpeer",
		ClientTag:     "web-writer-01",
		ClientAddress: "10.0.0.23:8400",
		Connecter:     tc,
		Correlator:    delivery.NewCorrelator(),
		Options:       opts,
		Log:           logger.NewTestLogger(t),
	})
	require.NoError(t, err)
	return c
}

var requestIDRegex = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestHandshakeTransmittedOnConnect(t *testing.T) {
	tc := newTestConnecter()
	c := testClient(t, tc, Options{})
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	peer := acceptPeer(t, tc)

	hs := peer.receive()
	assert.Equal(t, HandshakeMessageType, hs.Control.MessageType)
	assert.Regexp(t, requestIDRegex, hs.Control.RequestID)
	assert.Equal(t, "web-writer-01", hs.Control.ClientTag)
	assert.Equal(t, "10.0.0.23:8400", hs.Control.Extra["client-address"])
	assert.Nil(t, hs.Body)

	r := c.Report()
	assert.Equal(t, StatusHandshaking, r.Status)
	require.NotNil(t, r.Pending)
	assert.Equal(t, hs.Control.RequestID, r.Pending.RequestID)
}

func TestQueueGatingAndFIFODrain(t *testing.T) {
	tc := newTestConnecter()
	c := testClient(t, tc, Options{})
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	peer := acceptPeer(t, tc)
	hs := peer.receive()

	// queued while handshaking: no transmission, strict FIFO append
	d1, err := c.QueueMessage(&envelope.Control{MessageType: "archive-key-entire"}, envelope.ScalarBody([]byte("segment-1")))
	require.NoError(t, err)
	d2, err := c.QueueMessage(&envelope.Control{MessageType: "archive-key-entire"}, envelope.ScalarBody([]byte("segment-2")))
	require.NoError(t, err)

	r := c.Report()
	assert.Equal(t, StatusHandshaking, r.Status)
	assert.Equal(t, 2, r.QueueLength)
	require.NotNil(t, r.Pending)
	assert.Equal(t, hs.Control.RequestID, r.Pending.RequestID, "pending slot must still hold the handshake")

	peer.ack(hs.Control.RequestID)

	// one message at a time: the first queued message, then, after its
	// ack, the second
	m1 := peer.receive()
	assert.Equal(t, d1.RequestID(), m1.Control.RequestID)
	assert.Equal(t, "web-writer-01", m1.Control.ClientTag)
	require.Len(t, m1.Body, 1)
	assert.Equal(t, []byte("segment-1"), m1.Body[0])

	peer.ack(m1.Control.RequestID)
	ctl, _ := waitDelivery(t, d1)
	assert.Equal(t, d1.RequestID(), ctl.RequestID)

	m2 := peer.receive()
	assert.Equal(t, d2.RequestID(), m2.Control.RequestID)
	peer.ack(m2.Control.RequestID)
	waitDelivery(t, d2)

	r = c.Report()
	assert.Equal(t, StatusConnected, r.Status)
	assert.Equal(t, 0, r.QueueLength)
	assert.Nil(t, r.Pending)
}

func TestAckTimeoutRequeuesAtHeadAndRetransmitsAfterRedial(t *testing.T) {
	tc := newTestConnecter()
	opts := Options{
		AckTimeout:      50 * time.Millisecond,
		RetryInterval:   100 * time.Millisecond,
		PollingInterval: 10 * time.Millisecond,
	}
	c := testClient(t, tc, opts)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	peer := acceptPeer(t, tc)
	hs := peer.receive()
	peer.ack(hs.Control.RequestID)

	d1, err := c.QueueMessage(&envelope.Control{MessageType: "archive-key-entire"}, nil)
	require.NoError(t, err)
	m1 := peer.receive()
	require.Equal(t, d1.RequestID(), m1.Control.RequestID)
	// no ack: wait out the ack timeout

	time.Sleep(opts.AckTimeout + 20*time.Millisecond)
	c.RunOnce(ctx, time.Now())

	r := c.Report()
	assert.Equal(t, StatusDisconnected, r.Status)
	assert.Nil(t, r.Pending)
	assert.Equal(t, 1, r.QueueLength, "timed-out message must be back in the queue")

	// before the retry interval elapses nothing is redialed
	c.RunOnce(ctx, time.Now())
	assert.Equal(t, StatusDisconnected, c.Report().Status)

	time.Sleep(opts.RetryInterval + 20*time.Millisecond)
	c.RunOnce(ctx, time.Now())

	peer2 := acceptPeer(t, tc)
	hs2 := peer2.receive()
	assert.Equal(t, HandshakeMessageType, hs2.Control.MessageType)
	assert.NotEqual(t, hs.Control.RequestID, hs2.Control.RequestID, "reconnect must build a fresh handshake")
	peer2.ack(hs2.Control.RequestID)

	m1again := peer2.receive()
	assert.Equal(t, d1.RequestID(), m1again.Control.RequestID, "retransmission must keep the request-id")
	assert.Equal(t, "web-writer-01", m1again.Control.ClientTag)
	peer2.ack(m1again.Control.RequestID)

	waitDelivery(t, d1)
}

func TestDialErrorStaysDisconnectedUntilRetry(t *testing.T) {
	tc := newTestConnecter()
	tc.setFail(true)
	opts := Options{
		AckTimeout:      50 * time.Millisecond,
		RetryInterval:   50 * time.Millisecond,
		PollingInterval: 10 * time.Millisecond,
	}
	c := testClient(t, tc, opts)
	defer c.Close()
	ctx := context.Background()

	require.Error(t, c.Connect(ctx))
	assert.Equal(t, StatusDisconnected, c.Report().Status)

	// failed dials are retried on the housekeeping schedule
	time.Sleep(opts.RetryInterval + 10*time.Millisecond)
	c.RunOnce(ctx, time.Now())
	assert.Equal(t, StatusDisconnected, c.Report().Status)

	tc.setFail(false)
	time.Sleep(opts.RetryInterval + 10*time.Millisecond)
	c.RunOnce(ctx, time.Now())
	peer := acceptPeer(t, tc)
	hs := peer.receive()
	assert.Equal(t, HandshakeMessageType, hs.Control.MessageType)
	peer.ack(hs.Control.RequestID)
	waitStatus(t, c, StatusConnected)
}

func TestHandshakeTimeoutDropsPending(t *testing.T) {
	tc := newTestConnecter()
	opts := Options{
		AckTimeout:      50 * time.Millisecond,
		RetryInterval:   time.Hour,
		PollingInterval: 10 * time.Millisecond,
	}
	c := testClient(t, tc, opts)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	peer := acceptPeer(t, tc)
	peer.receive() // handshake, never acked

	time.Sleep(opts.AckTimeout + 20*time.Millisecond)
	c.RunOnce(ctx, time.Now())

	r := c.Report()
	assert.Equal(t, StatusDisconnected, r.Status)
	assert.Nil(t, r.Pending, "an unacknowledged handshake is dropped, not requeued")
	assert.Equal(t, 0, r.QueueLength)
}

func TestMismatchedAckKeepsPendingSlot(t *testing.T) {
	tc := newTestConnecter()
	c := testClient(t, tc, Options{})
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	peer := acceptPeer(t, tc)
	hs := peer.receive()
	peer.ack(hs.Control.RequestID)

	d1, err := c.QueueMessage(&envelope.Control{MessageType: "archive-key-entire"}, nil)
	require.NoError(t, err)
	m1 := peer.receive()

	// an ack for an id we are not waiting for is logged and dropped
	peer.ack(envelope.NewRequestID())
	// an unsolicited second ack for replay scenarios as well
	peer.ack(envelope.NewRequestID())

	waitCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err = d1.Wait(waitCtx)
	assert.Error(t, err, "delivery must not be fulfilled by a mismatched ack")

	r := c.Report()
	assert.Equal(t, StatusConnected, r.Status)
	require.NotNil(t, r.Pending)
	assert.Equal(t, m1.Control.RequestID, r.Pending.RequestID)
}

func TestQueueMessageAssignsRequestID(t *testing.T) {
	tc := newTestConnecter()
	c := testClient(t, tc, Options{})
	defer c.Close()

	ctl := &envelope.Control{MessageType: "space-usage"}
	d, err := c.QueueMessage(ctl, nil)
	require.NoError(t, err)
	assert.Regexp(t, requestIDRegex, ctl.RequestID)
	assert.Equal(t, ctl.RequestID, d.RequestID())

	// caller-chosen ids are kept
	ctl2 := &envelope.Control{MessageType: "space-usage", RequestID: "cafecafecafecafecafecafecafecafe"}
	d2, err := c.QueueMessage(ctl2, nil)
	require.NoError(t, err)
	assert.Equal(t, "cafecafecafecafecafecafecafecafe", d2.RequestID())

	// duplicate registration is refused
	_, err = c.QueueMessage(&envelope.Control{MessageType: "space-usage", RequestID: ctl.RequestID}, nil)
	require.Error(t, err)
	assert.Equal(t, delivery.ErrDuplicateRequestID, errors.Cause(err))
}

func TestClosedClientRefusesMessages(t *testing.T) {
	tc := newTestConnecter()
	c := testClient(t, tc, Options{})
	require.NoError(t, c.Close())

	_, err := c.QueueMessage(&envelope.Control{MessageType: "space-usage"}, nil)
	assert.Equal(t, ErrClosed, errors.Cause(err))
	assert.Equal(t, ErrClosed, c.Connect(context.Background()))

	_, reschedule := c.RunOnce(context.Background(), time.Now())
	assert.False(t, reschedule)
}

// The report is what the status subcommand renders, so its JSON form
// must change whenever the client goes through its lifecycle.
func TestReportReflectsLifecycle(t *testing.T) {
	tc := newTestConnecter()
	opts := Options{
		AckTimeout:      50 * time.Millisecond,
		RetryInterval:   time.Hour,
		PollingInterval: 10 * time.Millisecond,
	}
	c := testClient(t, tc, opts)
	defer c.Close()
	ctx := context.Background()

	reports := make([]*Report, 0, 4)
	snap := func() {
		reports = append(reports, c.Report())
	}

	snap() // disconnected
	require.NoError(t, c.Connect(ctx))
	peer := acceptPeer(t, tc)
	hs := peer.receive()
	snap() // handshaking
	peer.ack(hs.Control.RequestID)
	waitStatus(t, c, StatusConnected)
	snap() // connected
	_, err := c.QueueMessage(&envelope.Control{MessageType: "archive-key-entire"}, nil)
	require.NoError(t, err)
	peer.receive() // swallow the message, never ack
	time.Sleep(opts.AckTimeout + 20*time.Millisecond)
	c.RunOnce(ctx, time.Now())
	snap() // disconnected again, message requeued

	statuses := []Status{StatusDisconnected, StatusHandshaking, StatusConnected, StatusDisconnected}
	for i, r := range reports {
		assert.Equal(t, statuses[i], r.Status)
	}
	assert.Equal(t, 1, reports[3].QueueLength)

	prev, err := json.Marshal(reports[0])
	require.NoError(t, err)
	for _, r := range reports[1:] {
		this, err := json.Marshal(r)
		require.NoError(t, err)
		differ := jsondiff.New()
		diff, err := differ.Compare(prev, this)
		require.NoError(t, err)
		assert.True(t, diff.Modified())
		df := jsondiffformatter.NewDeltaFormatter()
		_, err = df.Format(diff)
		require.NoError(t, err)
		// uncomment the following line to get json diffs between each captured step
		// t.Logf("%s", res)
		prev, err = json.Marshal(r)
		require.NoError(t, err)
	}
}

func waitStatus(t *testing.T, c *Client, s Status) {
	t.Helper()
	begin := time.Now()
	for time.Since(begin) < 5*time.Second {
		if c.Report().Status == s {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client did not reach status %s", s)
}

func waitDelivery(t *testing.T, d *delivery.Delivery) (*envelope.Control, envelope.Body) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctl, body, err := d.Wait(ctx)
	require.NoError(t, err)
	return ctl, body
}
