package signaling

import "sync"

// VoicePeer is one occupant of a voice room: its peer_id, the user it
// belongs to, and the connection it rides on (needed to cascade removal on
// socket death).
type VoicePeer struct {
	PeerID PeerID
	UserID UserID
	ConnID ConnID
}

type voiceChatKey struct {
	ServerID ServerID
	ChatID   ChatID
}

// VoiceState tracks per-chat voice room membership, independent of
// SignalingState's peer/server indexes — a peer may hold a server
// registration without ever joining voice.
type VoiceState struct {
	mu    sync.Mutex
	chats map[voiceChatKey][]VoicePeer
}

// NewVoiceState constructs an empty voice room index.
func NewVoiceState() *VoiceState {
	return &VoiceState{chats: make(map[voiceChatKey][]VoicePeer)}
}

// RegisterVoicePeer joins peerID (owned by userID, on connID) to the voice
// room identified by (serverID, chatID). Any existing entry for userID in
// that room is replaced first — the reconnect semantics: a new peer_id for
// the same user supersedes the old one rather than creating a duplicate
// occupant. Returns the room's other occupants (excluding the new entry).
func (v *VoiceState) RegisterVoicePeer(peerID PeerID, userID UserID, serverID ServerID, chatID ChatID, connID ConnID) []VoicePeerInfo {
	key := voiceChatKey{serverID, chatID}
	v.mu.Lock()
	defer v.mu.Unlock()

	peers := v.chats[key]
	filtered := peers[:0:0]
	for _, p := range peers {
		if p.UserID != userID {
			filtered = append(filtered, p)
		}
	}
	filtered = append(filtered, VoicePeer{PeerID: peerID, UserID: userID, ConnID: connID})
	v.chats[key] = filtered

	others := make([]VoicePeerInfo, 0, len(filtered))
	for _, p := range filtered {
		if p.PeerID != peerID {
			others = append(others, VoicePeerInfo{PeerID: string(p.PeerID), UserID: string(p.UserID)})
		}
	}
	return others
}

// UnregisterVoicePeer removes peerID from the named room and returns the
// user_id it belonged to, if present. An emptied room is deleted outright.
func (v *VoiceState) UnregisterVoicePeer(peerID PeerID, serverID ServerID, chatID ChatID) (UserID, bool) {
	key := voiceChatKey{serverID, chatID}
	v.mu.Lock()
	defer v.mu.Unlock()

	peers, ok := v.chats[key]
	if !ok {
		return "", false
	}
	idx := -1
	for i, p := range peers {
		if p.PeerID == peerID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "", false
	}
	removed := peers[idx]
	peers = append(peers[:idx], peers[idx+1:]...)
	if len(peers) == 0 {
		delete(v.chats, key)
	} else {
		v.chats[key] = peers
	}
	return removed.UserID, true
}

// OccupantsOf returns the current occupants of (serverID, chatID), or nil
// if the room doesn't exist. Used for broadcasting VoicePeerLeft.
func (v *VoiceState) OccupantsOf(serverID ServerID, chatID ChatID) []VoicePeerInfo {
	key := voiceChatKey{serverID, chatID}
	v.mu.Lock()
	defer v.mu.Unlock()

	peers := v.chats[key]
	occupants := make([]VoicePeerInfo, 0, len(peers))
	for _, p := range peers {
		occupants = append(occupants, VoicePeerInfo{PeerID: string(p.PeerID), UserID: string(p.UserID)})
	}
	return occupants
}

// VoiceDeparture names one occupant removed by a socket-death sweep.
type VoiceDeparture struct {
	ServerID ServerID
	ChatID   ChatID
	PeerID   PeerID
	UserID   UserID
}

// HandleVoiceDisconnect removes every voice occupant riding on connID,
// across every room, and reports each removal so callers can broadcast
// VoicePeerLeft to the rooms affected. Emptied rooms are deleted.
func (v *VoiceState) HandleVoiceDisconnect(connID ConnID) []VoiceDeparture {
	v.mu.Lock()
	defer v.mu.Unlock()

	var departures []VoiceDeparture
	for key, peers := range v.chats {
		kept := peers[:0:0]
		for _, p := range peers {
			if p.ConnID == connID {
				departures = append(departures, VoiceDeparture{
					ServerID: key.ServerID,
					ChatID:   key.ChatID,
					PeerID:   p.PeerID,
					UserID:   p.UserID,
				})
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			delete(v.chats, key)
		} else {
			v.chats[key] = kept
		}
	}
	return departures
}
