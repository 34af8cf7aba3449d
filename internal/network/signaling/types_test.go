package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_RoundTripsPayload(t *testing.T) {
	env, err := NewEnvelope(KindHello, "p1", "", HelloPayload{PeerID: "p1", ServerID: "srv1"})
	require.NoError(t, err)
	assert.Equal(t, KindHello, env.Type)
	assert.Equal(t, "p1", env.From)

	var decoded HelloPayload
	require.NoError(t, env.Decode(&decoded))
	assert.Equal(t, "p1", decoded.PeerID)
	assert.Equal(t, "srv1", decoded.ServerID)
}

func TestNewEnvelope_NilPayload(t *testing.T) {
	env, err := NewEnvelope(KindGoodbye, "p1", "", nil)
	require.NoError(t, err)
	assert.Nil(t, env.Payload)
}

func TestEnvelope_DecodeWithNoPayloadFails(t *testing.T) {
	env := &Envelope{Type: KindGoodbye}
	var out GoodbyePayload
	err := env.Decode(&out)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestEnvelope_DecodeInvalidJSON(t *testing.T) {
	env := &Envelope{Type: KindHello, Payload: []byte("not json")}
	var out HelloPayload
	err := env.Decode(&out)
	assert.Error(t, err)
}
