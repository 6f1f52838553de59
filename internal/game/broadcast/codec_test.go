package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type movePayload struct {
	RoomID int64   `json:"roomId"`
	Delta  float64 `json:"delta"`
	Score  int     `json:"score"`
}

func TestNewCodec(t *testing.T) {
	c, err := NewCodec("json")
	require.NoError(t, err)
	assert.False(t, c.Binary())

	c, err = NewCodec("msgpack")
	require.NoError(t, err)
	assert.True(t, c.Binary())

	_, err = NewCodec("xml")
	assert.Error(t, err)
}

func TestJSONCodec_Frame(t *testing.T) {
	data, err := JSONCodec{}.Encode("gameMove", movePayload{RoomID: 4, Delta: -3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"gameMove","data":{"roomId":4,"delta":-3,"score":0}}`, string(data))
}

func TestJSONCodec_DecodeErrors(t *testing.T) {
	_, err := JSONCodec{}.Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = JSONCodec{}.Decode([]byte(`{"data":1}`))
	assert.Error(t, err)

	in, err := JSONCodec{}.Decode([]byte(`{"event":"gameAccept"}`))
	require.NoError(t, err)
	var v movePayload
	assert.Error(t, in.Bind(&v), "missing payload must not bind")
}

func TestJSONCodec_ScalarPayload(t *testing.T) {
	in, err := JSONCodec{}.Decode([]byte(`{"event":"joinChannel","data":12}`))
	require.NoError(t, err)
	var id int64
	require.NoError(t, in.Bind(&id))
	assert.Equal(t, int64(12), id)
}

func TestMsgpackCodec_KeepsZeroScores(t *testing.T) {
	c := MsgpackCodec{}
	data, err := c.Encode("gameMove", movePayload{RoomID: 4, Delta: 2.5})
	require.NoError(t, err)

	in, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "gameMove", in.Event)

	var got map[string]any
	require.NoError(t, in.Bind(&got))
	assert.Contains(t, got, "score")

	var p movePayload
	require.NoError(t, in.Bind(&p))
	assert.Equal(t, movePayload{RoomID: 4, Delta: 2.5}, p)
}
