package signaling

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/concord-chat/beacon/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 128
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// conn is one physical WebSocket connection. It satisfies PeerSender so
// state.go can hold it behind an interface without depending on gorilla.
type conn struct {
	id     ConnID
	ws     *websocket.Conn
	send   chan []byte
	logger zerolog.Logger

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, logger zerolog.Logger) *conn {
	id := ConnID(uuid.NewString())
	return &conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		logger: observability.WithConnID(logger, string(id)),
	}
}

// Send enqueues a frame without blocking. Returns false if the outbound
// buffer is full — the caller treats this as a dropped delivery, not an
// error worth tearing the connection down for.
func (c *conn) Send(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *conn) sendEnvelope(env *Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		return false
	}
	return c.Send(data)
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// ServeWS is the WebSocket transport entry point: it admits the connection
// through the tracker, upgrades the HTTP request, and runs the read loop
// until the socket dies, at which point it cascades cleanup through
// handleSocketDeath.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !h.tracker.TryRegister(ip) {
		h.metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.tracker.Unregister(ip)
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
	h.metrics.ConnectionsActive.Inc()

	c := newConn(ws, h.logger)
	go c.writePump()
	defer func() {
		h.tracker.Unregister(ip)
		h.metrics.ConnectionsActive.Dec()
		c.close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug().Str("conn_id", string(c.id)).Msg("client disconnected")
			} else {
				h.logger.Warn().Err(err).Str("conn_id", string(c.id)).Msg("read error")
			}
			h.handleSocketDeath(c.id)
			return
		}

		if msgType == websocket.BinaryMessage {
			h.logger.Warn().Str("conn_id", string(c.id)).Msg("binary frame rejected, closing")
			h.closeProtocolViolation(c)
			h.handleSocketDeath(c.id)
			return
		}

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			h.logger.Warn().Err(err).Str("conn_id", string(c.id)).Msg("protocol violation, closing")
			h.closeProtocolViolation(c)
			h.handleSocketDeath(c.id)
			return
		}

		if !h.AllowWSMessage(ip) {
			h.logger.Warn().Str("conn_id", string(c.id)).Str("ip", ip).Msg("ws message rate limit exceeded, closing")
			h.metrics.SignalsDropped.WithLabelValues("rate_limited").Inc()
			h.closePolicyViolation(c)
			h.handleSocketDeath(c.id)
			return
		}

		h.dispatch(c, &env)
	}
}

// closeProtocolViolation sends a close frame carrying the protocol-error
// code and tears down the write side.
func (h *Handler) closeProtocolViolation(c *conn) {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	closeMsg := websocket.FormatCloseMessage(websocket.CloseProtocolError, "protocol violation")
	_ = c.ws.WriteMessage(websocket.CloseMessage, closeMsg)
}

// closePolicyViolation sends a close frame carrying the policy-violation
// code, used when a connection trips RATE_LIMIT_WS_PER_MIN.
func (h *Handler) closePolicyViolation(c *conn) {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded")
	_ = c.ws.WriteMessage(websocket.CloseMessage, closeMsg)
}

// clientIP resolves the caller's address from CF-Connecting-IP, then the
// first token of X-Forwarded-For, defaulting to "unknown".
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return "unknown"
}
