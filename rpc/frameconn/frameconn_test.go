package frameconn

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwire/gridwire/util/socketpair"
)

func TestIsPublicFrameType(t *testing.T) {
	for i := uint32(0); i < 256; i++ {
		i := i
		t.Run(fmt.Sprintf("^%d", i), func(t *testing.T) {
			assert.False(t, IsPublicFrameType(^i))
		})
	}
	assert.True(t, IsPublicFrameType(0))
	assert.True(t, IsPublicFrameType(1))
	assert.True(t, IsPublicFrameType(255))
	assert.False(t, IsPublicFrameType(rstFrameType))
}

func TestFrameRoundtrip(t *testing.T) {
	anc, bnc, err := socketpair.SocketPair()
	require.NoError(t, err)
	a := Wrap(anc, 0, 0)
	b := Wrap(bnc, 0, 0)
	defer a.Shutdown(time.Now().Add(time.Second))
	defer b.Shutdown(time.Now().Add(time.Second))

	payloads := [][]byte{
		[]byte("hello"),
		{},
		[]byte("world"),
	}
	go func() {
		for i, p := range payloads {
			err := a.WriteFrame(p, uint32(i+1))
			assert.NoError(t, err)
		}
	}()

	for i, p := range payloads {
		f, err := b.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, uint32(i+1), f.Header.Type)
		assert.Equal(t, uint32(len(p)), f.Header.PayloadLen)
		assert.Equal(t, p, append([]byte{}, f.Payload...))
	}
}

func TestShutdownUnblocksPeerRead(t *testing.T) {
	anc, bnc, err := socketpair.SocketPair()
	require.NoError(t, err)
	a := Wrap(anc, 0, 0)
	b := Wrap(bnc, 0, 0)

	require.NoError(t, a.WriteFrame([]byte("x"), 1))
	f, err := b.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, []byte("x"), f.Payload)

	readDone := make(chan error, 1)
	go func() {
		_, err := b.ReadFrame()
		readDone <- err
	}()
	require.NoError(t, a.Shutdown(time.Now().Add(time.Second)))

	select {
	case err := <-readDone:
		assert.Equal(t, ErrShutdown, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("peer read did not observe shutdown")
	}

	// and the shutting-down side refuses new frames
	assert.Equal(t, ErrShutdown, a.WriteFrame([]byte("y"), 1))
	_ = b.Shutdown(time.Now().Add(time.Second))
}
