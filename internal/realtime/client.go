package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/millatvt/millat-backend/internal/domain"
	"golang.org/x/time/rate"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameBytes = 16 << 10
)

// Client is one authenticated websocket connection.
type Client struct {
	id        string
	principal domain.Principal
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter
}

func newClient(conn *websocket.Conn, p domain.Principal, buffer int, limit rate.Limit, burst int) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		id:        uuid.NewString(),
		principal: p,
		conn:      conn,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
		limiter:   rate.NewLimiter(limit, burst),
	}
}

func (c *Client) ID() string                  { return c.id }
func (c *Client) Principal() domain.Principal { return c.principal }

// enqueue never blocks. A client that cannot keep up is disconnected.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		slog.Warn("realtime client send buffer full", "client_id", c.id, "principal", c.principal.String())
		c.close()
		return false
	}
}

func (c *Client) emit(event string, data any) {
	frame, err := newFrame(event, data)
	if err != nil {
		slog.Error("realtime frame encode failed", "event", event, "error", err.Error())
		return
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

func (c *Client) emitError(event, message string) {
	c.emit(EventError, ErrorPayload{Event: event, Message: message})
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) readPump(ctx context.Context, handle func(context.Context, *Client, []byte)) {
	defer c.close()
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("realtime read failed", "client_id", c.id, "error", err.Error())
			}
			return
		}
		if !c.limiter.Allow() {
			c.emitError("", "rate limit exceeded")
			continue
		}
		handle(ctx, c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
