package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a minimal signaling WebSocket client, used by tests to drive
// Handler.ServeWS end to end without a browser.
type Client struct {
	mu   sync.Mutex
	conn *websocket.Conn
	url  string

	inbox chan *Envelope
	done  chan struct{}
}

// NewClient creates a client (not yet connected) for the given ws:// URL.
func NewClient(url string) *Client {
	return &Client{
		url:   url,
		inbox: make(chan *Envelope, 32),
		done:  make(chan struct{}),
	}
}

// Connect dials the server and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("signaling client: connect to %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()
	return nil
}

// Send marshals and writes an envelope.
func (c *Client) Send(env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("signaling client: not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendRaw writes raw bytes as a text frame, bypassing envelope encoding —
// used to exercise the protocol-violation path.
func (c *Client) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("signaling client: not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendBinary writes a binary frame — rejected by the server's protocol.
func (c *Client) SendBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("signaling client: not connected")
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Recv blocks for the next inbound envelope, or returns an error if none
// arrives before timeout.
func (c *Client) Recv(timeout time.Duration) (*Envelope, error) {
	select {
	case env, ok := <-c.inbox:
		if !ok {
			return nil, fmt.Errorf("signaling client: connection closed")
		}
		return env, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("signaling client: timed out waiting for a message")
	}
}

// Close tears down the connection.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) readLoop() {
	defer close(c.inbox)
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		c.inbox <- &env
	}
}
