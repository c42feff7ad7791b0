package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

type Config struct {
	MaxFrameSize   int64
	SendBuffer     int
	AllowedOrigins []string
}

// Handler upgrades HTTP requests to websocket clients bound to the dispatcher.
type Handler struct {
	ctx        context.Context
	dispatcher Dispatcher
	cfg        Config
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

// NewHandler ties every client to ctx, the lifetime of the server rather than of the upgrade request.
func NewHandler(ctx context.Context, dispatcher Dispatcher, cfg Config, log *slog.Logger) *Handler {
	h := &Handler{ctx: ctx, dispatcher: dispatcher, cfg: cfg, log: log}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts everything when no origin is configured or "*" is listed.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 || lo.Contains(h.cfg.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || lo.Contains(h.cfg.AllowedOrigins, origin)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	client := newClient(conn, h.cfg.SendBuffer, h.log)
	h.log.Debug("Websocket connected", "connection_id", client.ID(), "remote", r.RemoteAddr)
	go client.writePump()
	go client.readPump(h.ctx, h.dispatcher, h.cfg.MaxFrameSize)
}
