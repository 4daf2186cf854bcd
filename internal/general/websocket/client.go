package websocket

import (
	"context"
	"sync"
	"time"

	"fleet-tracking/internal/domain/user"
	"fleet-tracking/internal/general/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// client is one upgraded tracking connection. Reads happen on the handler
// goroutine; all writes go through writePump so the conn has a single writer.
type client struct {
	id    string
	ident user.Identity
	conn  *websocket.Conn
	send  chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn *websocket.Conn, ident user.Identity, buffer int) *client {
	return &client{
		id:    uuid.NewString(),
		ident: ident,
		conn:  conn,
		send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

func (c *client) ID() string              { return c.id }
func (c *client) Identity() user.Identity { return c.ident }

// Send queues frame for the write pump. It never blocks: a slow consumer
// loses frames rather than stalling the broadcaster.
func (c *client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket and unblocks the reader.
func (c *client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump delivers inbound text frames to fn until the connection fails.
func (c *client) readPump(ctx context.Context, ws *WebSocket, fn func([]byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(ws.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ws.pongWait))
	})

	for {
		mt, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				ws.logger.Warn(ctx, "ws_unexpected_close", "Tracking connection closed unexpectedly", err,
					map[string]any{"user_id": c.ident.ID})
			} else {
				ws.logger.Debug(ctx, "ws_connection_closed", "Tracking connection closed",
					map[string]any{"user_id": c.ident.ID})
			}
			return
		}
		if mt != websocket.TextMessage {
			c.Send(errorFrame("frames must be JSON text"))
			continue
		}
		fn(payload)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *client) writePump(ctx context.Context, ws *WebSocket) {
	ticker := time.NewTicker(ws.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			writeClose(c.conn, websocket.CloseNormalClosure, "bye")
			return

		case frame := <-c.send:
			if err := writeFrame(c.conn, frame); err != nil {
				ws.logger.Debug(ctx, "ws_write_failed", "Failed to write frame; dropping connection",
					map[string]any{"user_id": c.ident.ID, "error": err.Error()})
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				ws.logger.Debug(ctx, "ws_ping_failed", "Failed to send ping",
					map[string]any{"user_id": c.ident.ID, "error": err.Error()})
				return
			}
		}
	}
}

func (c *client) trackOpen() {
	metrics.ConnectionsActive.Inc()
}

func (c *client) trackClosed() {
	metrics.ConnectionsActive.Dec()
}
