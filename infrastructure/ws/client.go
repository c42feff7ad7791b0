package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"ghost-chat/contract"
	"ghost-chat/domain/event"
	"ghost-chat/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type Dispatcher interface {
	Handle(ctx context.Context, conn contract.Connection, in event.Inbound) error
	Disconnect(ctx context.Context, conn contract.Connection)
}

// Client is a middleman between the websocket connection and the dispatcher.
// Consume only enqueues: the write pump is the single writer of the socket.
type Client struct {
	id     string
	conn   *websocket.Conn
	log    *slog.Logger
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, sendBuffer int, log *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		conn: conn,
		log:  log.With("connection_id", id),
		send: make(chan []byte, sendBuffer),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Consume queues the event. A client whose buffer is full is too slow to keep
// up and gets disconnected instead of stalling the fan-out.
func (c *Client) Consume(_ context.Context, e event.Outbound) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.log.Warn("Slow consumer disconnected", "event", e.Type)
		c.closeLocked()
		return errors.ErrSlowConsumer
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump decodes every frame and hands it to the dispatcher, one at a time.
func (c *Client) readPump(ctx context.Context, dispatcher Dispatcher, maxFrameSize int64) {
	defer func() {
		c.Close()
		dispatcher.Disconnect(ctx, c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Unexpected close", "error", err)
			}
			return
		}

		var in event.Inbound
		if err := json.Unmarshal(frame, &in); err != nil {
			c.log.Debug("Invalid JSON frame ignored", "error", err)
			continue
		}
		if err := dispatcher.Handle(ctx, c, in); err != nil {
			c.log.Debug("Event rejected", "event", in.Type, "error", err)
		}
	}
}

// writePump is the only goroutine writing to the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
