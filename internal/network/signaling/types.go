// Package signaling implements the WebSocket signaling, presence, and voice
// room coordination core: it maps transient connections to durable peer,
// server, and user identities and routes messages among them.
package signaling

import (
	"encoding/json"
	"errors"

	"github.com/concord-chat/beacon/internal/presence"
)

// PeerID identifies a logical signaling participant, stable across message
// exchanges within one session. Opaque to the core.
type PeerID string

// ServerID identifies a federated server room. Signaling forwarding is
// restricted to peers sharing a ServerID.
type ServerID string

// SigningPubkey tags a group of presence/server-hint subscribers. Never
// cryptographically verified by the core.
type SigningPubkey string

// ConnID is assigned at WebSocket accept time and used as the socket-death
// cleanup key.
type ConnID string

// UserID identifies a user for voice membership and presence purposes.
type UserID string

// ChatID identifies a voice room within a server.
type ChatID string

// Kind is the discriminant of an inbound or outbound signaling frame.
type Kind string

const (
	KindHello    Kind = "hello"
	KindGoodbye  Kind = "goodbye"
	KindOffer    Kind = "offer"
	KindAnswer   Kind = "answer"
	KindICE      Kind = "ice"
	KindVoiceJoin  Kind = "voice_join"
	KindVoiceLeave Kind = "voice_leave"

	KindPresenceHello       Kind = "presence_hello"
	KindPresenceActive      Kind = "presence_active"
	KindPresenceDisconnect  Kind = "presence_disconnect"
	KindPresenceSubscribe   Kind = "presence_subscribe"
	KindServerHintPublish   Kind = "server_hint_publish"

	// Outbound-only kinds.
	KindWelcome           Kind = "welcome"
	KindPeerJoined        Kind = "peer_joined"
	KindPeerLeft          Kind = "peer_left"
	KindVoicePeers        Kind = "voice_peers"
	KindVoicePeerJoined   Kind = "voice_peer_joined"
	KindVoicePeerLeft     Kind = "voice_peer_left"
	KindServerHintUpdated Kind = "server_hint_updated"
	KindPresenceSnapshot  Kind = "presence_snapshot"
	KindError             Kind = "error"
)

var (
	// ErrInvalidFrame is returned when a frame's payload cannot be decoded
	// into the shape its Type demands.
	ErrInvalidFrame = errors.New("signaling: invalid frame payload")
)

// Envelope is the JSON wire frame for every signaling message. The
// discriminant lives in Type; From/To carry routing information shared by
// several branches, and Payload carries the branch-specific body (including,
// for Offer/Answer/ICE, an opaque blob the core never interprets).
type Envelope struct {
	Type    Kind            `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an Envelope with a JSON-marshaled payload.
func NewEnvelope(kind Kind, from, to string, payload interface{}) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{Type: kind, From: from, To: to, Payload: raw}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e *Envelope) Decode(v interface{}) error {
	if e.Payload == nil {
		return ErrInvalidFrame
	}
	return json.Unmarshal(e.Payload, v)
}

// HelloPayload registers a peer under a server, optionally subscribing it
// to server-hint broadcasts for a signing key.
type HelloPayload struct {
	PeerID        string `json:"peer_id"`
	ServerID      string `json:"server_id"`
	SigningPubkey string `json:"signing_pubkey,omitempty"`
}

// GoodbyePayload explicitly tears down a peer registration.
type GoodbyePayload struct {
	PeerID string `json:"peer_id"`
}

// VoiceJoinPayload joins the sender to a voice room.
type VoiceJoinPayload struct {
	PeerID   string `json:"peer_id"`
	UserID   string `json:"user_id"`
	ServerID string `json:"server_id"`
	ChatID   string `json:"chat_id"`
}

// VoiceLeavePayload leaves a voice room.
type VoiceLeavePayload struct {
	PeerID   string `json:"peer_id"`
	ServerID string `json:"server_id"`
	ChatID   string `json:"chat_id"`
}

// PresenceHelloPayload announces presence under a set of signing keys.
type PresenceHelloPayload struct {
	UserID         string   `json:"user_id"`
	SigningPubkeys []string `json:"signing_pubkeys"`
	Active         string   `json:"active,omitempty"`
}

// PresenceActivePayload updates only the active signing key for a user.
type PresenceActivePayload struct {
	UserID string `json:"user_id"`
	Active string `json:"active,omitempty"`
}

// PresenceDisconnectPayload removes a user from presence entirely.
type PresenceDisconnectPayload struct {
	UserID         string   `json:"user_id"`
	SigningPubkeys []string `json:"signing_pubkeys"`
}

// PresenceSubscribePayload requests a presence snapshot for a signing key.
type PresenceSubscribePayload struct {
	SigningPubkey string `json:"signing_pubkey"`
}

// ServerHintPublishPayload carries an opaque encrypted server-hint update.
// The three-field shape (rather than a single opaque blob) follows the
// EncryptedServerHint shape the coordination protocol was distilled from.
type ServerHintPublishPayload struct {
	SigningPubkey  string `json:"signing_pubkey"`
	EncryptedState string `json:"encrypted_state"`
	Signature      string `json:"signature"`
	LastUpdated    int64  `json:"last_updated"`
}

// WelcomePayload lists peers already present in the joining peer's server.
type WelcomePayload struct {
	Peers []string `json:"peers"`
}

// PeerJoinedPayload / PeerLeftPayload announce a server-scoped peer event.
type PeerJoinedPayload struct {
	PeerID string `json:"peer_id"`
}

type PeerLeftPayload struct {
	PeerID string `json:"peer_id"`
}

// VoicePeerInfo describes one occupant of a voice room.
type VoicePeerInfo struct {
	PeerID string `json:"peer_id"`
	UserID string `json:"user_id"`
}

// VoicePeersPayload lists the existing occupants returned to a joiner.
type VoicePeersPayload struct {
	Peers []VoicePeerInfo `json:"peers"`
}

// VoicePeerJoinedPayload / VoicePeerLeftPayload announce voice room events.
type VoicePeerJoinedPayload struct {
	PeerID string `json:"peer_id"`
	UserID string `json:"user_id"`
}

type VoicePeerLeftPayload struct {
	PeerID string `json:"peer_id"`
	UserID string `json:"user_id"`
}

// ServerHintUpdatedPayload is broadcast to signing-key subscribers.
type ServerHintUpdatedPayload struct {
	SigningPubkey  string `json:"signing_pubkey"`
	EncryptedState string `json:"encrypted_state"`
	Signature      string `json:"signature"`
	LastUpdated    int64  `json:"last_updated"`
}

// PresenceSnapshotPayload answers a PresenceSubscribe request with the
// current members of one signing key.
type PresenceSnapshotPayload struct {
	SigningPubkey string                 `json:"signing_pubkey"`
	Users         []presence.UserStatus  `json:"users"`
}

// ErrorPayload carries a protocol-level error description.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
