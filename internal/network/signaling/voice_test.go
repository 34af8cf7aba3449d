package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterVoicePeer_ReturnsOtherOccupants(t *testing.T) {
	v := NewVoiceState()

	others := v.RegisterVoicePeer("p1", "u1", "srv1", "chat1", "conn1")
	assert.Empty(t, others)

	others = v.RegisterVoicePeer("p2", "u2", "srv1", "chat1", "conn2")
	require.Len(t, others, 1)
	assert.Equal(t, "p1", others[0].PeerID)
}

func TestRegisterVoicePeer_ReconnectReplacesPriorEntryForSameUser(t *testing.T) {
	v := NewVoiceState()

	v.RegisterVoicePeer("p1-old", "u1", "srv1", "chat1", "conn1")
	v.RegisterVoicePeer("p1-new", "u1", "srv1", "chat1", "conn2")

	occupants := v.OccupantsOf("srv1", "chat1")
	require.Len(t, occupants, 1)
	assert.Equal(t, "p1-new", occupants[0].PeerID)
	assert.Equal(t, "u1", occupants[0].UserID)
}

func TestUnregisterVoicePeer_RemovesOccupantAndEmptiesRoom(t *testing.T) {
	v := NewVoiceState()
	v.RegisterVoicePeer("p1", "u1", "srv1", "chat1", "conn1")

	userID, ok := v.UnregisterVoicePeer("p1", "srv1", "chat1")
	require.True(t, ok)
	assert.Equal(t, UserID("u1"), userID)

	assert.Empty(t, v.OccupantsOf("srv1", "chat1"))
}

func TestUnregisterVoicePeer_UnknownPeerReturnsFalse(t *testing.T) {
	v := NewVoiceState()
	v.RegisterVoicePeer("p1", "u1", "srv1", "chat1", "conn1")

	_, ok := v.UnregisterVoicePeer("nonexistent", "srv1", "chat1")
	assert.False(t, ok)
}

func TestOccupantsOf_UnknownRoomReturnsEmpty(t *testing.T) {
	v := NewVoiceState()
	occupants := v.OccupantsOf("srv1", "chat-nope")
	assert.Empty(t, occupants)
}

func TestHandleVoiceDisconnect_RemovesAcrossRoomsOnSameConn(t *testing.T) {
	v := NewVoiceState()
	v.RegisterVoicePeer("p1", "u1", "srv1", "chat1", "conn1")
	v.RegisterVoicePeer("p1", "u1", "srv1", "chat2", "conn1")
	v.RegisterVoicePeer("p2", "u2", "srv1", "chat1", "conn2")

	departures := v.HandleVoiceDisconnect("conn1")
	require.Len(t, departures, 2)

	occupants := v.OccupantsOf("srv1", "chat1")
	require.Len(t, occupants, 1)
	assert.Equal(t, "p2", occupants[0].PeerID)

	assert.Empty(t, v.OccupantsOf("srv1", "chat2"))
}

func TestHandleVoiceDisconnect_NothingOnUnknownConn(t *testing.T) {
	v := NewVoiceState()
	v.RegisterVoicePeer("p1", "u1", "srv1", "chat1", "conn1")

	departures := v.HandleVoiceDisconnect("conn-nope")
	assert.Empty(t, departures)
	assert.Len(t, v.OccupantsOf("srv1", "chat1"), 1)
}
