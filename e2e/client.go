package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"ghost-chat/domain/event"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
)

// Logf receives the progress of a scenario. testing.T.Logf and fmt.Printf-like functions fit.
type Logf func(format string, args ...any)

type frame struct {
	Type    event.Name      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Client is one scripted participant talking to the websocket endpoint.
type Client struct {
	name   string
	cfg    Config
	logf   Logf
	conn   *websocket.Conn
	frames chan frame
	once   sync.Once
}

func Dial(ctx context.Context, cfg Config, name string, logf Logf) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: cfg.ServerAddr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s unable to dial %s: %w", name, u.String(), err)
	}
	c := &Client{name: name, cfg: cfg, logf: logf, conn: conn, frames: make(chan frame, 64)}
	go c.read()
	return c, nil
}

func (c *Client) read() {
	defer close(c.frames)
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		if c.cfg.DebugJSON {
			c.logf("%s <- %s %s", c.name, f.Type, string(f.Payload))
		}
		c.frames <- f
	}
}

func (c *Client) Send(name event.Name, payload any) error {
	if c.cfg.DebugJSON {
		raw, _ := json.Marshal(payload)
		c.logf("%s -> %s %s", c.name, name, string(raw))
	}
	return c.conn.WriteJSON(event.New(name, payload))
}

// Expect skips frames until one of the given type satisfies match, then decodes it into out.
func (c *Client) Expect(ctx context.Context, name event.Name, out any, match func(json.RawMessage) bool) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s never received %s: %w", c.name, name, ctx.Err())
		case f, ok := <-c.frames:
			if !ok {
				return fmt.Errorf("%s connection closed while waiting for %s", c.name, name)
			}
			if f.Type == event.Error {
				c.logf("%s got error %s", c.name, string(f.Payload))
			}
			if f.Type != name || (match != nil && !match(f.Payload)) {
				continue
			}
			if out == nil {
				return nil
			}
			return json.Unmarshal(f.Payload, out)
		}
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
	})
}

// Step prints a highlighted header for one stage of a scenario.
func Step(cfg Config, logf Logf, name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if cfg.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	logf("%s", header)
}
