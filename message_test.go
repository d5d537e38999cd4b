package nexus

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRenderAndParseRoundTrip(t *testing.T) {
	msg := &Message{
		Kind: KindSendChat,
		Fields: map[string]any{
			"channel": "#nexus",
			"body":    "hello there",
		},
	}

	buf, err := msg.RenderBuffer()
	require.NoError(t, err)
	defer RecycleBuffer(buf)

	pool := NewMessagePool(4)
	decoded, err := ReadMessage(bytes.NewReader(buf.Bytes()), pool)
	require.NoError(t, err)

	assert.Equal(t, KindSendChat, decoded.Kind)
	assert.Equal(t, "#nexus", decoded.StringField("channel"))
	assert.Equal(t, "hello there", decoded.StringField("body"))
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var lenPrefix [4]byte
	lenPrefix[0] = 0xFF // absurdly large declared length
	pool := NewMessagePool(4)

	_, err := ReadMessage(bytes.NewReader(lenPrefix[:]), pool)
	require.Error(t, err)

	nerr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidMessageFormat, nerr.Code)
}

func TestReadMessageRejectsZeroLengthFrame(t *testing.T) {
	lenPrefix := [4]byte{0, 0, 0, 0}
	pool := NewMessagePool(4)

	_, err := ReadMessage(bytes.NewReader(lenPrefix[:]), pool)
	require.Error(t, err)
}

func TestMessagePoolRecyclesAndResets(t *testing.T) {
	pool := NewMessagePool(2)
	msg := pool.New()
	msg.Kind = KindLogin
	msg.Fields = map[string]any{"username": "alice"}

	pool.Recycle(msg)

	recycled := pool.New()
	assert.Equal(t, Kind(""), recycled.Kind)
	assert.Nil(t, recycled.Fields)
}
