// Package api exposes the REST collaborators of the chat server:
// group and message reads, the REST twin of mark-message-viewed, uploads and health.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ghost-chat/domain/chat"
	"ghost-chat/errors"
	"ghost-chat/runtime"
	"ghost-chat/services"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
)

const (
	defaultSearchLimit = 20
	// multipartOverhead leaves room for boundaries and form fields around the file.
	multipartOverhead = 1 << 20
)

type Config struct {
	UploadDir      string
	MaxUploadSize  int64
	AllowedOrigins []string
}

type Handler struct {
	log      *slog.Logger
	chat     services.IChatService
	uploads  services.IUploadService
	validate *validator.Validate
	clock    clockwork.Clock
	started  time.Time
	cfg      Config
}

func NewHandler(
	log *slog.Logger,
	chat services.IChatService,
	uploads services.IUploadService,
	clock clockwork.Clock,
	cfg Config,
) *Handler {
	return &Handler{
		log:      log,
		chat:     chat,
		uploads:  uploads,
		validate: runtime.NewValidator(),
		clock:    clock,
		started:  clock.Now(),
		cfg:      cfg,
	}
}

// NewRouter mounts every REST route. The websocket endpoint is mounted by the caller.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.cors)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/groups", h.ListGroups).Methods(http.MethodGet)
	api.HandleFunc("/groups", h.CreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{groupId}/join", h.JoinGroup).Methods(http.MethodPost)
	api.HandleFunc("/messages/{groupId}/search", h.SearchMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages/{groupId}", h.GetMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages/{messageId}/view", h.ViewMessage).Methods(http.MethodPost)
	api.HandleFunc("/users/online", h.OnlineUsers).Methods(http.MethodGet)
	api.HandleFunc("/upload", h.Upload).Methods(http.MethodPost)

	r.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.cfg.UploadDir))))
	return r
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	now := h.clock.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": now.UTC().Format(time.RFC3339),
		"uptime":    now.Sub(h.started).Seconds(),
	})
}

func (h *Handler) ListGroups(w http.ResponseWriter, _ *http.Request) {
	groups, err := h.chat.ListGroups()
	if err != nil {
		h.writeError(w, err, "Failed to fetch groups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "groups": groups})
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	cmd, err := decodeBody[chat.CreateGroupCommand](h.validate, r)
	if err != nil {
		h.writeError(w, err, "Name and creator are required")
		return
	}
	group, err := h.chat.CreateGroup(r.Context(), cmd)
	if err != nil {
		h.writeError(w, err, "Failed to create group")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "group": group})
}

func (h *Handler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	cmd, err := decodeBody[chat.JoinGroupCommand](h.validate, r)
	if err != nil {
		h.writeError(w, err, "User ID is required")
		return
	}
	cmd.GroupID = mux.Vars(r)["groupId"]
	if err := h.chat.JoinGroup(r.Context(), cmd); err != nil {
		h.writeError(w, err, "Failed to join group")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Joined group successfully"})
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.writeError(w, err, "Invalid limit")
		return
	}
	cmd := chat.GetMessagesCommand{GroupID: mux.Vars(r)["groupId"], Limit: limit}
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		cmd.Cursor = &cursor
	}
	messages, next, err := h.chat.GetMessages(cmd)
	if err != nil {
		h.writeError(w, err, "Failed to fetch messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"messages":   messages,
		"nextCursor": next,
	})
}

func (h *Handler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, fmt.Errorf("%w: q is required", errors.ErrValidation), "")
		return
	}
	limit, err := queryInt(r, "limit", defaultSearchLimit)
	if err != nil {
		h.writeError(w, err, "Invalid limit")
		return
	}
	messages, err := h.chat.SearchMessages(chat.SearchMessagesCommand{
		GroupID: mux.Vars(r)["groupId"],
		Query:   query,
		Limit:   limit,
	})
	if err != nil {
		h.writeError(w, err, "Failed to search messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": messages})
}

func (h *Handler) ViewMessage(w http.ResponseWriter, r *http.Request) {
	cmd, err := decodeBody[chat.ViewMessageCommand](h.validate, r)
	if err != nil {
		h.writeError(w, err, "Failed to mark message as viewed")
		return
	}
	cmd.MessageID = mux.Vars(r)["messageId"]
	h.chat.ViewMessage(cmd)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Message marked as viewed"})
}

func (h *Handler) OnlineUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": h.chat.OnlineUsers()})
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			err = fmt.Errorf("%w: limit is %d bytes", errors.ErrFileTooLarge, h.cfg.MaxUploadSize)
		default:
			err = errors.ErrNoFile
		}
		h.writeError(w, err, "Failed to upload file")
		return
	}
	defer func() { _ = file.Close() }()

	record, err := h.uploads.Upload(r.Context(), services.Upload{
		OriginalName: header.Filename,
		DeclaredType: header.Header.Get("Content-Type"),
		UploadedBy:   r.FormValue("userId"),
		Body:         file,
	})
	if err != nil {
		h.writeError(w, err, "Failed to upload file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"url":      "/uploads/" + record.FileName,
		"fileName": record.OriginalName,
		"size":     record.Size,
		"type":     record.MimeType,
		"id":       record.ID,
	})
}

// cors mirrors the websocket origin policy for browser clients.
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(h.cfg.AllowedOrigins) == 0 ||
			lo.Contains(h.cfg.AllowedOrigins, "*") ||
			lo.Contains(h.cfg.AllowedOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error, fallback string) {
	status := errors.MapToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "error", err)
	} else {
		h.log.Debug("Request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]any{"success": false, "error": errors.UserMessage(err, fallback)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody[T any](v *validator.Validate, r *http.Request) (T, error) {
	var body T
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, fmt.Errorf("%w: malformed body", errors.ErrValidation)
	}
	return body, runtime.Validate(v, body)
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", errors.ErrValidation, name)
	}
	return n, nil
}
