package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vidbridge/signaling/internal/metrics"
)

// wsConn wraps a websocket connection behind the room.Conn contract: writes
// are serialized, each carries a deadline, and sends after Close are dropped
// silently. Media callbacks deliver candidates from their own goroutines, so
// the write mutex is load-bearing, not defensive.
type wsConn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration
	metrics      *metrics.Metrics

	mu     sync.Mutex
	closed bool
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration, m *metrics.Metrics) *wsConn {
	return &wsConn{
		id:           uuid.NewString(),
		ws:           ws,
		writeTimeout: writeTimeout,
		metrics:      m,
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteJSON(v); err != nil {
		return err
	}
	c.metrics.Inc(metrics.MessagesOut)
	return nil
}

func (c *wsConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// CloseWith writes a close frame with the given code and reason, then closes
// the connection.
func (c *wsConn) CloseWith(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	payload := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, payload, time.Now().Add(c.writeTimeout))
	_ = c.ws.Close()
}

func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.ws.Close()
}
