package envelope

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/gridwire/gridwire/rpc/frameconn"
)

// Frame types used by this package.
// 4 MSBs are reserved for frameconn, we use the next 4 MSBs:
// a frame is either a control frame or a body frame, and the more bit
// marks a frame that is followed by further frames of the same envelope.
const (
	controlFrame uint32 = 1 << (24 + iota)
	bodyFrame
	moreFlag
)

func IsPublicFrameType(ft uint32) bool {
	return frameconn.IsPublicFrameType(ft) && ft&(0xf<<24) == 0
}

// Conn sends and receives Envelopes over a frameconn.Conn.
//
// Send and Receive each hold a per-direction mutex for the duration of
// the whole envelope so that the frames of concurrently sent envelopes
// cannot interleave on the wire.
type Conn struct {
	sendMtx, recvMtx sync.Mutex
	fc               *frameconn.Conn
}

func Wrap(nc net.Conn, readIdleTimeout, writeIdleTimeout time.Duration) *Conn {
	return &Conn{fc: frameconn.Wrap(nc, readIdleTimeout, writeIdleTimeout)}
}

func (c *Conn) Send(e *Envelope) error {
	if e.Control == nil {
		panic("envelope without control map")
	}
	ctl, err := json.Marshal(e.Control)
	if err != nil {
		return errors.Wrap(err, "marshal control map")
	}

	c.sendMtx.Lock()
	defer c.sendMtx.Unlock()

	ft := controlFrame
	if len(e.Body) > 0 {
		ft |= moreFlag
	}
	if err := c.fc.WriteFrame(ctl, ft); err != nil {
		return err
	}
	for i, seg := range e.Body {
		ft := bodyFrame
		if i != len(e.Body)-1 {
			ft |= moreFlag
		}
		if err := c.fc.WriteFrame(seg, ft); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) Receive() (*Envelope, error) {
	c.recvMtx.Lock()
	defer c.recvMtx.Unlock()

	f, err := c.fc.ReadFrame()
	if err != nil {
		return nil, err
	}
	if f.Header.Type&controlFrame == 0 {
		return nil, errors.Errorf("envelope must begin with a control frame, got frame type %#08x", f.Header.Type)
	}
	var ctl Control
	if err := json.Unmarshal(f.Payload, &ctl); err != nil {
		return nil, errors.Wrap(err, "unmarshal control frame")
	}
	e := &Envelope{Control: &ctl}
	pending := f.Header.Type&moreFlag != 0
	for pending {
		f, err = c.fc.ReadFrame()
		if err != nil {
			return nil, err
		}
		if f.Header.Type&bodyFrame == 0 {
			return nil, errors.Errorf("expected body frame, got frame type %#08x", f.Header.Type)
		}
		e.Body = append(e.Body, f.Payload)
		pending = f.Header.Type&moreFlag != 0
	}
	return e, nil
}

// Shutdown tears the underlying connection down gracefully,
// see frameconn.Conn.Shutdown.
func (c *Conn) Shutdown(deadline time.Time) error {
	return c.fc.Shutdown(deadline)
}
