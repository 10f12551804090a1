// package frameconn implements the binary framing layer of the cluster
// messaging protocol: length-prefixed frames with a type word, sent over
// a net.Conn or anything that looks like one.
package frameconn

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridwire/gridwire/util/envconst"
)

type FrameHeader struct {
	Type       uint32
	PayloadLen uint32
}

// The 4 MSBs of ft are reserved for frameconn.
func IsPublicFrameType(ft uint32) bool {
	return (0xf<<28)&ft == 0
}

const (
	rstFrameType uint32 = 1<<28 + iota
)

func assertPublicFrameType(frameType uint32) {
	if !IsPublicFrameType(frameType) {
		panic(fmt.Sprintf("frameconn: frame type %v cannot be used by consumers of this package", frameType))
	}
}

func (f *FrameHeader) Unmarshal(buf []byte) {
	if len(buf) != 8 {
		panic("frame header is 8 bytes long")
	}
	f.Type = binary.BigEndian.Uint32(buf[0:4])
	f.PayloadLen = binary.BigEndian.Uint32(buf[4:8])
}

var maxPayloadLen = uint32(envconst.Int("GRIDWIRE_FRAMECONN_MAX_PAYLOAD_LEN", 1<<24))

// closeWrite is the half-close of the write direction, required
// for the shutdown dance. *net.TCPConn, *net.UnixConn and *tls.Conn
// all provide it.
type closeWriter interface {
	CloseWrite() error
}

type Conn struct {
	readMtx, writeMtx sync.Mutex
	nc                net.Conn
	readIdleTimeout   time.Duration
	writeIdleTimeout  time.Duration
	timeoutsDisabled  int32
	shutdown          shutdownFSM
}

// Wrap turns nc into a frame-oriented connection.
//
// A nonzero readIdleTimeout (writeIdleTimeout) makes each read (write)
// renew a deadline of that duration on its direction of nc; a stalled
// peer then surfaces as a net.Error with Timeout() == true. Pass zero
// for directions whose liveness is supervised elsewhere; the cluster
// protocol has no heartbeats, so reply-less periods of arbitrary length
// are normal on client connections and only writes carry deadlines there.
func Wrap(nc net.Conn, readIdleTimeout, writeIdleTimeout time.Duration) *Conn {
	return &Conn{nc: nc, readIdleTimeout: readIdleTimeout, writeIdleTimeout: writeIdleTimeout}
}

type Frame struct {
	Header  FrameHeader
	Payload []byte
}

var ErrShutdown = fmt.Errorf("frameconn: shutting down")

func (c *Conn) disableTimeouts() error {
	if atomic.CompareAndSwapInt32(&c.timeoutsDisabled, 0, 1) {
		return c.nc.SetDeadline(time.Time{})
	}
	return nil
}

func (c *Conn) renewReadDeadline() error {
	if c.readIdleTimeout == 0 || atomic.LoadInt32(&c.timeoutsDisabled) != 0 {
		return nil
	}
	return c.nc.SetReadDeadline(time.Now().Add(c.readIdleTimeout))
}

func (c *Conn) renewWriteDeadline() error {
	if c.writeIdleTimeout == 0 || atomic.LoadInt32(&c.timeoutsDisabled) != 0 {
		return nil
	}
	return c.nc.SetWriteDeadline(time.Now().Add(c.writeIdleTimeout))
}

// ReadFrame reads the next frame from the connection.
// The returned payload is owned by the caller.
func (c *Conn) ReadFrame() (Frame, error) {

	if c.shutdown.IsShuttingDown() {
		return Frame{}, ErrShutdown
	}

	// only acquire readMtx now to prioritize the draining in Shutdown()
	// over external callers

	c.readMtx.Lock()
	defer c.readMtx.Unlock()
	f, err := c.readFrame()
	if f.Header.Type == rstFrameType {
		c.shutdown.Begin()
		return Frame{}, ErrShutdown
	}
	return f, err
}

// callers must have readMtx locked
func (c *Conn) readFrame() (Frame, error) {

	if err := c.renewReadDeadline(); err != nil {
		return Frame{}, err
	}

	var hdrBuf [8]byte
	if _, err := io.ReadFull(c.nc, hdrBuf[:]); err != nil {
		return Frame{}, err
	}
	var hdr FrameHeader
	hdr.Unmarshal(hdrBuf[:])

	if hdr.PayloadLen > maxPayloadLen {
		return Frame{}, errors.Errorf("frameconn: peer announced %d byte payload, limit is %d", hdr.PayloadLen, maxPayloadLen)
	}

	frame := Frame{Header: hdr, Payload: make([]byte, hdr.PayloadLen)}
	if hdr.PayloadLen > 0 {
		if err := c.renewReadDeadline(); err != nil {
			return Frame{}, err
		}
		if _, err := io.ReadFull(c.nc, frame.Payload); err != nil {
			return Frame{}, err
		}
	}

	prom.FramesRead.Inc()
	prom.BytesRead.Add(float64(8 + hdr.PayloadLen))
	return frame, nil
}

func (c *Conn) WriteFrame(payload []byte, frameType uint32) error {
	assertPublicFrameType(frameType)
	if c.shutdown.IsShuttingDown() {
		return ErrShutdown
	}
	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()
	return c.writeFrame(payload, frameType)
}

func (c *Conn) writeFrame(payload []byte, frameType uint32) error {
	if uint64(len(payload)) > uint64(maxPayloadLen) {
		return errors.Errorf("frameconn: payload of %d bytes exceeds limit of %d", len(payload), maxPayloadLen)
	}
	if err := c.renewWriteDeadline(); err != nil {
		return err
	}
	var hdrBuf [8]byte
	binary.BigEndian.PutUint32(hdrBuf[0:4], frameType)
	binary.BigEndian.PutUint32(hdrBuf[4:8], uint32(len(payload)))
	bufs := net.Buffers([][]byte{hdrBuf[:], payload})
	if _, err := io.Copy(c.nc, &bufs); err != nil {
		return err
	}
	prom.FramesWritten.Inc()
	prom.BytesWritten.Add(float64(8 + len(payload)))
	return nil
}

// Shutdown closes the connection gracefully:
// it sends an in-band RST frame so that the peer knows to stop sending,
// half-closes the write direction, drains the read direction until EOF
// (bounded by deadline) and only then closes the socket.
//
// Just calling Close would make our kernel answer in-flight peer data
// with TCP RSTs, which can race ahead of data we already sent and erase
// it from the peer's receive buffer before the peer application got to
// read it.
func (c *Conn) Shutdown(deadline time.Time) error {

	defer prometheus.NewTimer(prom.ShutdownSeconds).ObserveDuration()

	closeConn := func(step string) error {
		closeErr := c.nc.Close()
		if closeErr == nil {
			return nil
		}
		if pe, ok := closeErr.(*net.OpError); ok && pe.Err == syscall.ECONNRESET {
			// peer already tore the connection down, which is what we wanted
			return nil
		}
		prom.ShutdownCloseErrors.WithLabelValues(step).Inc()
		return closeErr
	}

	hardclose := func(err error, step string) error {
		prom.ShutdownHardCloses.WithLabelValues(step).Inc()
		return closeConn(step)
	}

	c.shutdown.Begin()
	// new calls to c.ReadFrame and c.WriteFrame will now return ErrShutdown
	// Acquiring writeMtx and readMtx afterwards ensures that already-running calls exit successfully

	// disable renewing timeouts now, enforce the requested deadline instead
	// we need to do this before acquiring locks so that the deadline also
	// bounds in-flight reads and writes of slow or hung peers
	if err := c.disableTimeouts(); err != nil {
		return hardclose(err, "disable_timeouts")
	}
	if err := c.nc.SetDeadline(deadline); err != nil {
		return hardclose(err, "set_deadline")
	}

	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()

	if err := c.writeFrame([]byte{}, rstFrameType); err != nil {
		return hardclose(err, "write_frame")
	}

	cw, ok := c.nc.(closeWriter)
	if !ok {
		// cannot half-close, the RST frame will have to do
		return closeConn("close_no_closewrite")
	}
	if err := cw.CloseWrite(); err != nil {
		return hardclose(err, "close_write")
	}

	c.readMtx.Lock()
	defer c.readMtx.Unlock()

	defer prometheus.NewTimer(prom.ShutdownDrainSeconds).ObserveDuration()
	n, _ := io.Copy(ioutil.Discard, c.nc)
	prom.ShutdownDrainBytesRead.Observe(float64(n))

	return closeConn("close")
}
