// package envelope implements the message layer of the cluster protocol:
// a JSON control map followed by zero or more opaque body segments,
// mapped onto frameconn frames.
package envelope

import (
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Control-map keys that all cluster peers agree on.
// Everything else travels in Control.Extra.
const (
	FieldMessageType = "message-type"
	FieldRequestID   = "request-id"
	FieldClientTag   = "client-tag"
)

// Control is the metadata map that precedes every message's payload.
//
// The fixed fields are the keys every peer interprets; Extra holds all
// other keys and round-trips through encode/decode unharmed so that
// peers can add fields without breaking older nodes.
// Fixed fields with zero values are omitted from the encoding.
type Control struct {
	MessageType string
	RequestID   string
	ClientTag   string
	Extra       map[string]interface{}
}

var _ json.Marshaler = (*Control)(nil)
var _ json.Unmarshaler = (*Control)(nil)

func (c *Control) MarshalJSON() ([]byte, error) {
	obj := make(map[string]interface{}, 3+len(c.Extra))
	if c.MessageType != "" {
		obj[FieldMessageType] = c.MessageType
	}
	if c.RequestID != "" {
		obj[FieldRequestID] = c.RequestID
	}
	if c.ClientTag != "" {
		obj[FieldClientTag] = c.ClientTag
	}
	for k, v := range c.Extra {
		switch k {
		case FieldMessageType, FieldRequestID, FieldClientTag:
			return nil, errors.Errorf("extra field %q collides with a fixed control field", k)
		}
		obj[k] = v
	}
	return json.Marshal(obj)
}

func (c *Control) UnmarshalJSON(data []byte) error {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*c = Control{}
	for k, v := range obj {
		switch k {
		case FieldMessageType, FieldRequestID, FieldClientTag:
			s, ok := v.(string)
			if !ok {
				return errors.Errorf("control field %q must be a string, got %T", k, v)
			}
			switch k {
			case FieldMessageType:
				c.MessageType = s
			case FieldRequestID:
				c.RequestID = s
			case FieldClientTag:
				c.ClientTag = s
			}
		default:
			if c.Extra == nil {
				c.Extra = make(map[string]interface{})
			}
			c.Extra[k] = v
		}
	}
	return nil
}

// Body is the ordered sequence of opaque payload segments of an Envelope.
// A nil Body means no payload at all, which is distinct from a Body
// holding a single empty segment.
type Body [][]byte

// ScalarBody wraps a single payload into a one-segment Body.
func ScalarBody(seg []byte) Body { return Body{seg} }

// Scalar returns the payload of a single-segment Body.
// ok is false for nil and multi-segment bodies.
func (b Body) Scalar() (seg []byte, ok bool) {
	if len(b) != 1 {
		return nil, false
	}
	return b[0], true
}

// An Envelope is one logical message.
// Envelopes are not modified by this package; the resilient client stamps
// Control.ClientTag immediately before each transmission, everything else
// is fixed at construction.
type Envelope struct {
	Control *Control
	Body    Body
}

// NewRequestID returns a fresh 128 bit request identifier in the
// cluster-wide convention, 32 hex characters.
func NewRequestID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
