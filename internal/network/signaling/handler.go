package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/concord-chat/beacon/internal/observability"
	"github.com/concord-chat/beacon/internal/presence"
	"github.com/concord-chat/beacon/internal/security"
)

// presenceOpTimeout bounds every presence backend call a handler makes
// inline. A timed-out op is logged and skipped, never retried inline — the
// next periodic refresh is the retry path.
const presenceOpTimeout = 2 * time.Second

// Handler owns the three core state structures and dispatches every inbound
// frame to the mutation and emission it implies. One Handler is shared by
// every connection.
type Handler struct {
	state       *State
	voice       *VoiceState
	tracker     *ConnectionTracker
	presence    presence.Backend
	presenceTTL time.Duration
	logger      zerolog.Logger
	metrics     *observability.Metrics
	validator   *security.Validator
	wsLimiter   *security.RateLimiter

	liveMu    sync.Mutex
	liveUsers map[string]presence.RefreshUser
}

// NewHandler wires the signaling/voice/presence state together behind one
// dispatcher. wsRateLimitPerMin backs RATE_LIMIT_WS_PER_MIN; 0 disables the
// per-IP message limiter entirely.
func NewHandler(state *State, voice *VoiceState, tracker *ConnectionTracker, backend presence.Backend, presenceTTL time.Duration, wsRateLimitPerMin int, logger zerolog.Logger, metrics *observability.Metrics) *Handler {
	var wsLimiter *security.RateLimiter
	if wsRateLimitPerMin > 0 {
		wsLimiter = security.NewRateLimiter(wsRateLimitPerMin, time.Minute, wsRateLimitPerMin)
	}
	return &Handler{
		state:       state,
		voice:       voice,
		tracker:     tracker,
		presence:    backend,
		presenceTTL: presenceTTL,
		logger:      logger,
		metrics:     metrics,
		validator:   security.NewValidator(),
		wsLimiter:   wsLimiter,
		liveUsers:   make(map[string]presence.RefreshUser),
	}
}

// AllowWSMessage reports whether a message from ip passes the per-IP
// RATE_LIMIT_WS_PER_MIN bucket. Always true when the limiter is disabled.
func (h *Handler) AllowWSMessage(ip string) bool {
	if h.wsLimiter == nil {
		return true
	}
	return h.wsLimiter.Allow(ip)
}

// LiveUsers snapshots every presence-announced user for the periodic
// refresh ticker. This is the handler's own bookkeeping, independent of the
// peer/server/signing-key indexes in State — presence announcements are not
// tied to a particular peer connection.
func (h *Handler) LiveUsers() []presence.RefreshUser {
	h.liveMu.Lock()
	defer h.liveMu.Unlock()
	users := make([]presence.RefreshUser, 0, len(h.liveUsers))
	for _, u := range h.liveUsers {
		users = append(users, u)
	}
	return users
}

// validID drops a frame carrying a malformed opaque identifier (empty,
// oversized, or control-character-laden) before it reaches a map key or a
// log line. Treated as a silent drop, the same disposition as an identity
// mismatch.
func (h *Handler) validID(id, field string) bool {
	if err := h.validator.ValidateIdentifier(id, field); err != nil {
		h.logger.Warn().Err(err).Msg("dropping frame: invalid identifier")
		return false
	}
	return true
}

// validIDs is validID applied to every entry of a slice identifier field
// (e.g. signing_pubkeys).
func (h *Handler) validIDs(ids []string, field string) bool {
	for _, id := range ids {
		if !h.validID(id, field) {
			return false
		}
	}
	return true
}

// dispatch routes one decoded envelope to its branch. Unknown kinds are
// ignored for forward-compatibility; decode failures are logged and dropped
// without closing the connection — the connection only closes on a
// transport-level parse failure (invalid JSON), handled in server.go.
func (h *Handler) dispatch(c *conn, env *Envelope) {
	switch env.Type {
	case KindHello:
		h.handleHello(c, env)
	case KindGoodbye:
		h.handleGoodbye(c, env)
	case KindOffer, KindAnswer, KindICE:
		h.handleForward(c, env)
	case KindVoiceJoin:
		h.handleVoiceJoin(c, env)
	case KindVoiceLeave:
		h.handleVoiceLeave(c, env)
	case KindPresenceHello:
		h.handlePresenceHello(c, env)
	case KindPresenceActive:
		h.handlePresenceActive(c, env)
	case KindPresenceDisconnect:
		h.handlePresenceDisconnect(c, env)
	case KindPresenceSubscribe:
		h.handlePresenceSubscribe(c, env)
	case KindServerHintPublish:
		h.handleServerHintPublish(c, env)
	default:
		h.logger.Debug().Str("type", string(env.Type)).Msg("unknown frame kind, ignored")
	}
}

func (h *Handler) handleHello(c *conn, env *Envelope) {
	var p HelloPayload
	if err := env.Decode(&p); err != nil {
		h.logger.Warn().Err(err).Msg("invalid hello payload")
		return
	}

	if !h.validID(p.PeerID, "peer_id") || !h.validID(p.ServerID, "server_id") {
		return
	}
	if p.SigningPubkey != "" && !h.validID(p.SigningPubkey, "signing_pubkey") {
		return
	}

	peerID := PeerID(p.PeerID)
	serverID := ServerID(p.ServerID)
	signingPubkey := SigningPubkey(p.SigningPubkey)

	others := h.state.RegisterPeer(peerID, serverID, signingPubkey, c.id, c)
	h.metrics.PeersRegistered.Inc()
	h.metrics.ServersActive.Set(float64(h.state.ServerCount()))

	joinLog := observability.WithServerID(observability.WithPeerID(h.logger, p.PeerID), p.ServerID)
	joinLog.Debug().Int("existing_peers", len(others)).Msg("peer registered")

	peerStrings := make([]string, 0, len(others))
	for _, other := range others {
		peerStrings = append(peerStrings, string(other))
	}
	c.sendEnvelope(mustEnvelope(KindWelcome, "", "", WelcomePayload{Peers: peerStrings}))

	joined := PeerJoinedPayload{PeerID: p.PeerID}
	for _, other := range others {
		if sender, ok := h.state.PeerSenderFor(other); ok {
			sender.Send(marshalOrNil(mustEnvelope(KindPeerJoined, "", "", joined)))
		}
	}
}

func (h *Handler) handleGoodbye(c *conn, env *Envelope) {
	var p GoodbyePayload
	if err := env.Decode(&p); err != nil {
		h.logger.Warn().Err(err).Msg("invalid goodbye payload")
		return
	}
	if !h.validID(p.PeerID, "peer_id") {
		return
	}
	peerID := PeerID(p.PeerID)
	if !h.state.ValidatePeerConnection(peerID, c.id) {
		return
	}

	serverID, _ := h.state.GetServer(peerID)
	h.state.UnregisterPeer(peerID)
	h.metrics.PeersRegistered.Dec()
	h.metrics.ServersActive.Set(float64(h.state.ServerCount()))

	h.broadcastPeerLeft(serverID, p.PeerID)
}

func (h *Handler) handleForward(c *conn, env *Envelope) {
	if !h.validID(env.From, "from") || !h.validID(env.To, "to") {
		h.metrics.SignalsDropped.WithLabelValues("invalid_identifier").Inc()
		return
	}
	from := PeerID(env.From)
	to := PeerID(env.To)

	if !h.state.ValidatePeerConnection(from, c.id) {
		observability.WithPeerID(h.logger, env.From).Debug().Msg("forward: identity mismatch, dropped")
		h.metrics.SignalsDropped.WithLabelValues("identity_mismatch").Inc()
		return
	}

	fromServer, ok := h.state.GetServer(from)
	if !ok {
		h.metrics.SignalsDropped.WithLabelValues("no_target").Inc()
		return
	}
	toServer, ok := h.state.GetServer(to)
	if !ok || toServer != fromServer {
		h.metrics.SignalsDropped.WithLabelValues("no_target").Inc()
		return
	}

	sender, ok := h.state.PeerSenderFor(to)
	if !ok {
		h.metrics.SignalsDropped.WithLabelValues("no_target").Inc()
		return
	}

	if sender.Send(marshalOrNil(env)) {
		h.metrics.SignalsForwarded.WithLabelValues(string(env.Type)).Inc()
	} else {
		h.metrics.SignalsDropped.WithLabelValues("backpressure").Inc()
	}
}

func (h *Handler) handleVoiceJoin(c *conn, env *Envelope) {
	var p VoiceJoinPayload
	if err := env.Decode(&p); err != nil {
		h.logger.Warn().Err(err).Msg("invalid voice_join payload")
		return
	}
	if !h.validID(p.PeerID, "peer_id") || !h.validID(p.UserID, "user_id") ||
		!h.validID(p.ServerID, "server_id") || !h.validID(p.ChatID, "chat_id") {
		return
	}
	peerID := PeerID(p.PeerID)
	if !h.state.ValidatePeerConnection(peerID, c.id) {
		observability.WithPeerID(h.logger, p.PeerID).Debug().Msg("voice_join: identity mismatch, dropped")
		return
	}

	serverID := ServerID(p.ServerID)
	chatID := ChatID(p.ChatID)
	userID := UserID(p.UserID)

	others := h.voice.RegisterVoicePeer(peerID, userID, serverID, chatID, c.id)
	h.metrics.VoiceJoinsTotal.WithLabelValues(p.ServerID).Inc()
	h.metrics.VoiceRoomUsers.WithLabelValues(p.ServerID, p.ChatID).Inc()

	c.sendEnvelope(mustEnvelope(KindVoicePeers, "", "", VoicePeersPayload{Peers: others}))

	joined := VoicePeerJoinedPayload{PeerID: p.PeerID, UserID: p.UserID}
	for _, other := range others {
		if sender, ok := h.state.PeerSenderFor(PeerID(other.PeerID)); ok {
			sender.Send(marshalOrNil(mustEnvelope(KindVoicePeerJoined, "", "", joined)))
		}
	}
}

func (h *Handler) handleVoiceLeave(c *conn, env *Envelope) {
	var p VoiceLeavePayload
	if err := env.Decode(&p); err != nil {
		h.logger.Warn().Err(err).Msg("invalid voice_leave payload")
		return
	}
	if !h.validID(p.PeerID, "peer_id") || !h.validID(p.ServerID, "server_id") || !h.validID(p.ChatID, "chat_id") {
		return
	}
	peerID := PeerID(p.PeerID)
	if !h.state.ValidatePeerConnection(peerID, c.id) {
		observability.WithPeerID(h.logger, p.PeerID).Debug().Msg("voice_leave: identity mismatch, dropped")
		return
	}

	serverID := ServerID(p.ServerID)
	chatID := ChatID(p.ChatID)

	userID, ok := h.voice.UnregisterVoicePeer(peerID, serverID, chatID)
	if !ok {
		return
	}
	h.metrics.VoiceRoomUsers.WithLabelValues(p.ServerID, p.ChatID).Dec()

	chatLog := observability.WithChatID(observability.WithServerID(h.logger, p.ServerID), p.ChatID)
	chatLog.Debug().Str("peer_id", p.PeerID).Msg("voice peer left")

	h.broadcastVoicePeerLeft(serverID, chatID, p.PeerID, string(userID))
}

func (h *Handler) handlePresenceHello(c *conn, env *Envelope) {
	var p PresenceHelloPayload
	if err := env.Decode(&p); err != nil {
		h.logger.Warn().Err(err).Msg("invalid presence_hello payload")
		return
	}
	if !h.validID(p.UserID, "user_id") || !h.validIDs(p.SigningPubkeys, "signing_pubkey") {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()

	start := time.Now()
	err := h.presence.Hello(ctx, p.UserID, p.SigningPubkeys, p.Active, h.presenceTTL)
	h.metrics.PresenceOpDuration.WithLabelValues("hello").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		h.metrics.PresenceOpErrors.WithLabelValues("hello").Inc()
		h.logger.Warn().Err(err).Str("user_id", p.UserID).Msg("presence hello failed")
		return
	}

	h.liveMu.Lock()
	h.liveUsers[p.UserID] = presence.RefreshUser{UserID: p.UserID, SigningPubkeys: p.SigningPubkeys, Active: p.Active}
	h.liveMu.Unlock()
}

func (h *Handler) handlePresenceActive(c *conn, env *Envelope) {
	var p PresenceActivePayload
	if err := env.Decode(&p); err != nil {
		h.logger.Warn().Err(err).Msg("invalid presence_active payload")
		return
	}
	if !h.validID(p.UserID, "user_id") {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()

	start := time.Now()
	err := h.presence.Active(ctx, p.UserID, p.Active, h.presenceTTL)
	h.metrics.PresenceOpDuration.WithLabelValues("active").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		h.metrics.PresenceOpErrors.WithLabelValues("active").Inc()
		h.logger.Warn().Err(err).Str("user_id", p.UserID).Msg("presence active failed")
		return
	}

	h.liveMu.Lock()
	entry := h.liveUsers[p.UserID]
	entry.UserID = p.UserID
	entry.Active = p.Active
	h.liveUsers[p.UserID] = entry
	h.liveMu.Unlock()
}

func (h *Handler) handlePresenceDisconnect(c *conn, env *Envelope) {
	var p PresenceDisconnectPayload
	if err := env.Decode(&p); err != nil {
		h.logger.Warn().Err(err).Msg("invalid presence_disconnect payload")
		return
	}
	if !h.validID(p.UserID, "user_id") || !h.validIDs(p.SigningPubkeys, "signing_pubkey") {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()

	start := time.Now()
	err := h.presence.Disconnect(ctx, p.UserID, p.SigningPubkeys)
	h.metrics.PresenceOpDuration.WithLabelValues("disconnect").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		h.metrics.PresenceOpErrors.WithLabelValues("disconnect").Inc()
		h.logger.Warn().Err(err).Str("user_id", p.UserID).Msg("presence disconnect failed")
	}

	h.liveMu.Lock()
	delete(h.liveUsers, p.UserID)
	h.liveMu.Unlock()
}

func (h *Handler) handlePresenceSubscribe(c *conn, env *Envelope) {
	var p PresenceSubscribePayload
	if err := env.Decode(&p); err != nil {
		h.logger.Warn().Err(err).Msg("invalid presence_subscribe payload")
		return
	}
	if !h.validID(p.SigningPubkey, "signing_pubkey") {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()

	start := time.Now()
	users, err := h.presence.Snapshot(ctx, p.SigningPubkey)
	h.metrics.PresenceOpDuration.WithLabelValues("snapshot").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		h.metrics.PresenceOpErrors.WithLabelValues("snapshot").Inc()
		h.logger.Warn().Err(err).Str("signing_pubkey", p.SigningPubkey).Msg("presence snapshot failed")
		users = nil
	}

	c.sendEnvelope(mustEnvelope(KindPresenceSnapshot, "", "", PresenceSnapshotPayload{
		SigningPubkey: p.SigningPubkey,
		Users:         users,
	}))
}

func (h *Handler) handleServerHintPublish(c *conn, env *Envelope) {
	var p ServerHintPublishPayload
	if err := env.Decode(&p); err != nil {
		h.logger.Warn().Err(err).Msg("invalid server_hint_publish payload")
		return
	}
	if !h.validID(p.SigningPubkey, "signing_pubkey") {
		return
	}
	h.state.BroadcastServerHintUpdated(SigningPubkey(p.SigningPubkey), ServerHintUpdatedPayload{
		SigningPubkey:  p.SigningPubkey,
		EncryptedState: p.EncryptedState,
		Signature:      p.Signature,
		LastUpdated:    p.LastUpdated,
	})
}

// handleSocketDeath cascades cleanup for a dead connection through both the
// signaling and voice indexes, broadcasting PeerLeft / VoicePeerLeft to
// whatever remains in the affected server rooms and voice chats.
func (h *Handler) handleSocketDeath(connID ConnID) {
	removed := h.state.HandleSocketDeath(connID)
	for _, peer := range removed {
		h.metrics.PeersRegistered.Dec()
		h.broadcastPeerLeft(peer.ServerID, string(peer.PeerID))
	}
	if len(removed) > 0 {
		h.metrics.ServersActive.Set(float64(h.state.ServerCount()))
	}

	departures := h.voice.HandleVoiceDisconnect(connID)
	for _, d := range departures {
		h.metrics.VoiceRoomUsers.WithLabelValues(string(d.ServerID), string(d.ChatID)).Dec()
		h.broadcastVoicePeerLeft(d.ServerID, d.ChatID, string(d.PeerID), string(d.UserID))
	}
}

// broadcastPeerLeft sends PeerLeft to every peer remaining in serverID.
func (h *Handler) broadcastPeerLeft(serverID ServerID, peerID string) {
	payload := mustEnvelope(KindPeerLeft, "", "", PeerLeftPayload{PeerID: peerID})
	data := marshalOrNil(payload)
	h.state.forEachPeerInServer(serverID, func(sender PeerSender) {
		sender.Send(data)
	})
}

// broadcastVoicePeerLeft sends VoicePeerLeft to every remaining occupant of
// (serverID, chatID).
func (h *Handler) broadcastVoicePeerLeft(serverID ServerID, chatID ChatID, peerID, userID string) {
	payload := mustEnvelope(KindVoicePeerLeft, "", "", VoicePeerLeftPayload{PeerID: peerID, UserID: userID})
	data := marshalOrNil(payload)
	for _, occupant := range h.voice.OccupantsOf(serverID, chatID) {
		if sender, ok := h.state.PeerSenderFor(PeerID(occupant.PeerID)); ok {
			sender.Send(data)
		}
	}
}

func mustEnvelope(kind Kind, from, to string, payload interface{}) *Envelope {
	env, err := NewEnvelope(kind, from, to, payload)
	if err != nil {
		return &Envelope{Type: kind, From: from, To: to}
	}
	return env
}

func marshalOrNil(env *Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		return nil
	}
	return data
}
