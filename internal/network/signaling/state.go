package signaling

import (
	"encoding/json"
	"sync"
)

// PeerConnection is one registered peer's identity: which server it
// belongs to, which signing key (if any) it subscribes server hints
// under, and which physical WebSocket connection it rides on.
type PeerConnection struct {
	PeerID        PeerID
	ServerID      ServerID
	SigningPubkey SigningPubkey // empty ≡ not subscribed to hint broadcasts
	ConnID        ConnID
}

// PeerSender is anything capable of delivering a raw outbound frame to a
// peer's socket. Satisfied by *conn in server.go; kept as an interface here
// so state.go has no dependency on the transport.
type PeerSender interface {
	Send(data []byte) bool
}

// State is the signaling core's index set: every peer registration, the
// server and signing-key membership derived from it, the live sender handle
// used for forwarding, and the connection-to-peers map that makes
// socket-death cleanup exact. All five maps are mutated under one mutex —
// Invariant S1: a peer_id present in peers is present in exactly the
// servers/signing_servers/conn_peers sets its PeerConnection names, and
// nowhere else.
type State struct {
	mu sync.Mutex

	peers          map[PeerID]PeerConnection
	servers        map[ServerID]map[PeerID]struct{}
	signingServers map[SigningPubkey]map[PeerID]struct{}
	peerSenders    map[PeerID]PeerSender
	connPeers      map[ConnID]map[PeerID]struct{}
}

// NewState constructs an empty signaling index.
func NewState() *State {
	return &State{
		peers:          make(map[PeerID]PeerConnection),
		servers:        make(map[ServerID]map[PeerID]struct{}),
		signingServers: make(map[SigningPubkey]map[PeerID]struct{}),
		peerSenders:    make(map[PeerID]PeerSender),
		connPeers:      make(map[ConnID]map[PeerID]struct{}),
	}
}

// ValidatePeerConnection reports whether peerID is registered and bound to
// connID. This enforces connection identity consistency, not authorization.
func (s *State) ValidatePeerConnection(peerID PeerID, connID ConnID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	peer, ok := s.peers[peerID]
	return ok && peer.ConnID == connID
}

// RegisterPeer registers peerID under serverID (and signingPubkey, if
// non-empty) on connID, and returns the peer_ids of every other peer
// already present in the same server.
func (s *State) RegisterPeer(peerID PeerID, serverID ServerID, signingPubkey SigningPubkey, connID ConnID, sender PeerSender) []PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.peers[peerID]; ok && prior.ConnID != connID {
		s.unregisterPeerLocked(peerID)
		if priorSet, ok := s.connPeers[prior.ConnID]; ok {
			delete(priorSet, peerID)
			if len(priorSet) == 0 {
				delete(s.connPeers, prior.ConnID)
			}
		}
	}

	s.peers[peerID] = PeerConnection{
		PeerID:        peerID,
		ServerID:      serverID,
		SigningPubkey: signingPubkey,
		ConnID:        connID,
	}
	s.peerSenders[peerID] = sender

	connSet, ok := s.connPeers[connID]
	if !ok {
		connSet = make(map[PeerID]struct{})
		s.connPeers[connID] = connSet
	}
	connSet[peerID] = struct{}{}

	serverSet, ok := s.servers[serverID]
	if !ok {
		serverSet = make(map[PeerID]struct{})
		s.servers[serverID] = serverSet
	}

	others := make([]PeerID, 0, len(serverSet))
	for existing := range serverSet {
		others = append(others, existing)
	}
	serverSet[peerID] = struct{}{}

	if signingPubkey != "" {
		signingSet, ok := s.signingServers[signingPubkey]
		if !ok {
			signingSet = make(map[PeerID]struct{})
			s.signingServers[signingPubkey] = signingSet
		}
		signingSet[peerID] = struct{}{}
	}

	return others
}

// UnregisterPeer removes peerID from the peer, server, and signing-key
// indexes, and from its sender map. It deliberately leaves conn_peers
// untouched — callers that are cleaning up a dead connection use
// HandleSocketDeath instead, which cascades through conn_peers itself;
// an explicit Goodbye only removes the one peer named.
func (s *State) UnregisterPeer(peerID PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterPeerLocked(peerID)
}

func (s *State) unregisterPeerLocked(peerID PeerID) {
	conn, ok := s.peers[peerID]
	if !ok {
		delete(s.peerSenders, peerID)
		return
	}
	delete(s.peers, peerID)

	if serverSet, ok := s.servers[conn.ServerID]; ok {
		delete(serverSet, peerID)
		if len(serverSet) == 0 {
			delete(s.servers, conn.ServerID)
		}
	}

	if conn.SigningPubkey != "" {
		if signingSet, ok := s.signingServers[conn.SigningPubkey]; ok {
			delete(signingSet, peerID)
			if len(signingSet) == 0 {
				delete(s.signingServers, conn.SigningPubkey)
			}
		}
	}

	delete(s.peerSenders, peerID)
}

// HandleSocketDeath cleans up every peer_id ever registered on connID —
// the cascade a closed socket triggers regardless of whether a Goodbye was
// ever sent — and removes the conn_peers entry itself. It returns the
// PeerConnection record each removed peer held just before removal, so the
// caller can still broadcast PeerLeft to the server room it belonged to.
func (s *State) HandleSocketDeath(connID ConnID) []PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()

	connSet, ok := s.connPeers[connID]
	if !ok {
		return nil
	}
	removed := make([]PeerConnection, 0, len(connSet))
	for peerID := range connSet {
		if conn, ok := s.peers[peerID]; ok {
			removed = append(removed, conn)
		}
		s.unregisterPeerLocked(peerID)
	}
	delete(s.connPeers, connID)
	return removed
}

// forEachPeerInServer invokes fn with the live sender of every peer
// currently registered in serverID. Used for server-scoped broadcasts.
func (s *State) forEachPeerInServer(serverID ServerID, fn func(sender PeerSender)) {
	s.mu.Lock()
	peerSet, ok := s.servers[serverID]
	if !ok {
		s.mu.Unlock()
		return
	}
	senders := make([]PeerSender, 0, len(peerSet))
	for peerID := range peerSet {
		if sender, ok := s.peerSenders[peerID]; ok {
			senders = append(senders, sender)
		}
	}
	s.mu.Unlock()

	for _, sender := range senders {
		fn(sender)
	}
}

// ServerCount returns the number of server rooms with at least one
// registered peer, for the beacon_servers_active gauge.
func (s *State) ServerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.servers)
}

// GetServer returns the server a registered peer belongs to.
func (s *State) GetServer(peerID PeerID) (ServerID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.peers[peerID]
	if !ok {
		return "", false
	}
	return conn.ServerID, true
}

// BroadcastServerHintUpdated forwards a ServerHintUpdated frame to every
// peer subscribed under signingPubkey. Best-effort: a full outbound buffer
// drops the message for that one peer rather than blocking the broadcast.
func (s *State) BroadcastServerHintUpdated(signingPubkey SigningPubkey, payload ServerHintUpdatedPayload) {
	s.mu.Lock()
	peers, ok := s.signingServers[signingPubkey]
	if !ok || len(peers) == 0 {
		s.mu.Unlock()
		return
	}
	senders := make([]PeerSender, 0, len(peers))
	for peerID := range peers {
		if sender, ok := s.peerSenders[peerID]; ok {
			senders = append(senders, sender)
		}
	}
	s.mu.Unlock()

	env, err := NewEnvelope(KindServerHintUpdated, "", "", payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	for _, sender := range senders {
		sender.Send(data)
	}
}

// PeerSenderFor returns the registered sender for a peer, used for
// point-to-point forwarding (offer/answer/ice).
func (s *State) PeerSenderFor(peerID PeerID) (PeerSender, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sender, ok := s.peerSenders[peerID]
	return sender, ok
}

// PeerConnectionFor returns the registered PeerConnection for peerID.
func (s *State) PeerConnectionFor(peerID PeerID) (PeerConnection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.peers[peerID]
	return conn, ok
}
