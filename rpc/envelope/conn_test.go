package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwire/gridwire/rpc/frameconn"
	"github.com/gridwire/gridwire/util/socketpair"
)

func TestFrameTypes(t *testing.T) {
	for _, ft := range []uint32{controlFrame, bodyFrame, moreFlag} {
		assert.True(t, frameconn.IsPublicFrameType(ft))
		assert.False(t, IsPublicFrameType(ft))
	}
	assert.True(t, IsPublicFrameType(1))
}

func connPair(t *testing.T) (a, b *Conn) {
	anc, bnc, err := socketpair.SocketPair()
	require.NoError(t, err)
	return Wrap(anc, 0, 0), Wrap(bnc, 0, 0)
}

func TestEnvelopeRoundtrip(t *testing.T) {
	a, b := connPair(t)
	defer a.Shutdown(time.Now().Add(time.Second))
	defer b.Shutdown(time.Now().Add(time.Second))

	tests := []struct {
		name string
		send *Envelope
		recv *Envelope
	}{
		{
			name: "no body",
			send: &Envelope{Control: &Control{MessageType: "ping", RequestID: "01"}},
			recv: &Envelope{Control: &Control{MessageType: "ping", RequestID: "01"}},
		},
		{
			name: "scalar body stays single segment",
			send: &Envelope{
				Control: &Control{MessageType: "put", RequestID: "02"},
				Body:    ScalarBody([]byte("abc")),
			},
			recv: &Envelope{
				Control: &Control{MessageType: "put", RequestID: "02"},
				Body:    Body{[]byte("abc")},
			},
		},
		{
			name: "multi segment body keeps order",
			send: &Envelope{
				Control: &Control{MessageType: "put", RequestID: "03"},
				Body:    Body{[]byte("seg0"), []byte(""), []byte("seg2")},
			},
			recv: &Envelope{
				Control: &Control{MessageType: "put", RequestID: "03"},
				Body:    Body{[]byte("seg0"), []byte(""), []byte("seg2")},
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			sendErr := make(chan error, 1)
			go func() { sendErr <- a.Send(tc.send) }()
			e, err := b.Receive()
			require.NoError(t, err)
			require.NoError(t, <-sendErr)
			assert.Equal(t, tc.recv.Control, e.Control)
			assert.Equal(t, tc.recv.Body, e.Body)
		})
	}
}

func TestReceiveRejectsLeadingBodyFrame(t *testing.T) {
	anc, bnc, err := socketpair.SocketPair()
	require.NoError(t, err)
	afc := frameconn.Wrap(anc, 0, 0)
	b := Wrap(bnc, 0, 0)
	defer afc.Shutdown(time.Now().Add(time.Second))
	defer b.Shutdown(time.Now().Add(time.Second))

	require.NoError(t, afc.WriteFrame([]byte("stray"), bodyFrame))
	_, err = b.Receive()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control frame")
}
