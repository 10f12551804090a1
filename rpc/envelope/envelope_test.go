package envelope

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlJSONRoundtrip(t *testing.T) {
	ctl := &Control{
		MessageType: "archive-key-entire",
		RequestID:   NewRequestID(),
		ClientTag:   "writer-23",
		Extra: map[string]interface{}{
			"collection-id": float64(42),
			"key":           "motoboto",
		},
	}
	data, err := json.Marshal(ctl)
	require.NoError(t, err)

	// fixed fields and extras are flattened into one object
	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &obj))
	assert.Equal(t, "archive-key-entire", obj["message-type"])
	assert.Equal(t, ctl.RequestID, obj["request-id"])
	assert.Equal(t, "writer-23", obj["client-tag"])
	assert.Equal(t, "motoboto", obj["key"])

	var back Control
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, *ctl, back)
}

func TestControlOmitsZeroFixedFields(t *testing.T) {
	// a bare ack only carries a request-id
	ctl := &Control{RequestID: "deadbeef"}
	data, err := json.Marshal(ctl)
	require.NoError(t, err)
	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &obj))
	assert.Equal(t, map[string]interface{}{"request-id": "deadbeef"}, obj)
}

func TestControlRejectsCollidingExtra(t *testing.T) {
	ctl := &Control{
		RequestID: "deadbeef",
		Extra:     map[string]interface{}{"request-id": "cafe"},
	}
	_, err := json.Marshal(ctl)
	require.Error(t, err)
}

func TestControlRejectsNonStringFixedField(t *testing.T) {
	var ctl Control
	err := json.Unmarshal([]byte(`{"request-id": 23}`), &ctl)
	require.Error(t, err)
}

func TestBodyScalar(t *testing.T) {
	seg, ok := ScalarBody([]byte("abc")).Scalar()
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), seg)

	_, ok = Body(nil).Scalar()
	assert.False(t, ok)

	_, ok = Body{[]byte("a"), []byte("b")}.Scalar()
	assert.False(t, ok)
}

func TestNewRequestIDConvention(t *testing.T) {
	hex32 := regexp.MustCompile(`^[0-9a-f]{32}$`)
	a, b := NewRequestID(), NewRequestID()
	assert.Regexp(t, hex32, a)
	assert.Regexp(t, hex32, b)
	assert.NotEqual(t, a, b)
}
