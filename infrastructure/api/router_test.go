package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"ghost-chat/domain"
	"ghost-chat/mocks"
	"ghost-chat/repositories"
	"ghost-chat/services"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)

type triggerSpy struct {
	mu        sync.Mutex
	triggered []string
}

func (t *triggerSpy) Trigger(messageID, groupID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.triggered = append(t.triggered, groupID+"/"+messageID)
	return true
}

type presenceStub []domain.User

func (p presenceStub) ListActive() []domain.User { return p }

type harness struct {
	server *httptest.Server
	store  *repositories.BadgerStore
	clock  *clockwork.FakeClock
	spy    *triggerSpy
}

func newHarness(t *testing.T, maxUpload int64, online ...domain.User) *harness {
	t.Helper()
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	req.NoError(err)
	t.Cleanup(func() { _ = writer.Close() })
	store, err := repositories.NewBadgerStore(db, log, repositories.WithSearchIndex(repositories.NewMessageIndex(writer, log)))
	req.NoError(err)

	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	spy := &triggerSpy{}
	chat := services.NewChatService(log, store, spy, presenceStub(online), publisher)
	dir := t.TempDir()
	uploads, err := services.NewUploadService(log, store, clock, dir, maxUpload)
	req.NoError(err)

	handler := NewHandler(log, chat, uploads, clock, Config{
		UploadDir:      dir,
		MaxUploadSize:  maxUpload,
		AllowedOrigins: []string{"http://localhost:3000"},
	})
	server := httptest.NewServer(NewRouter(handler))
	t.Cleanup(server.Close)
	return &harness{server: server, store: store, clock: clock, spy: spy}
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	request, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	return send(t, request)
}

func send(t *testing.T, request *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (h *harness) upload(t *testing.T, name, contentType string, content []byte) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, form.WriteField("userId", "u1"))
	require.NoError(t, form.Close())

	request, err := http.NewRequest(http.MethodPost, h.server.URL+"/api/upload", &buf)
	require.NoError(t, err)
	request.Header.Set("Content-Type", form.FormDataContentType())
	return send(t, request)
}

func TestRouter_Health(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 1024)

	// Given the server has been up for 90 seconds
	h.clock.Advance(90 * time.Second)

	// When
	status, body := h.do(t, http.MethodGet, "/health", nil)

	// Then
	req.Equal(http.StatusOK, status)
	req.Equal("ok", body["status"])
	req.Equal("2024-05-01T12:01:30Z", body["timestamp"])
	req.InDelta(90.0, body["uptime"], 0.001)
}

func TestRouter_Groups(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 1024)

	// Given a created group
	status, body := h.do(t, http.MethodPost, "/api/groups", map[string]any{
		"name": "Team Rocket", "description": "blast off", "createdBy": "u1",
	})
	req.Equal(http.StatusOK, status)
	req.Equal(true, body["success"])
	group := body["group"].(map[string]any)
	req.Equal("team-rocket", group["id"])
	req.Equal([]any{"u1"}, group["members"])

	// When the groups are listed
	status, body = h.do(t, http.MethodGet, "/api/groups", nil)

	// Then both the seeded and the created group are present
	req.Equal(http.StatusOK, status)
	groups := body["groups"].(map[string]any)
	req.Contains(groups, domain.DefaultGroupID)
	req.Contains(groups, "team-rocket")

	// And a name deriving the same id is a conflict
	status, body = h.do(t, http.MethodPost, "/api/groups", map[string]any{"name": "team rocket", "createdBy": "u2"})
	req.Equal(http.StatusConflict, status)
	req.Equal("group already exists", body["error"])
}

func TestRouter_CreateGroup_Rejects_Invalid_Bodies(t *testing.T) {
	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"missing creator", map[string]any{"name": "x"}, "createdBy is required"},
		{"missing name", map[string]any{"createdBy": "u1"}, "name is required"},
		{"malformed json", "not an object", "malformed body"},
	}
	h := newHarness(t, 1024)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			status, body := h.do(t, http.MethodPost, "/api/groups", tt.body)
			req.Equal(http.StatusBadRequest, status)
			req.Contains(body["error"], tt.message)
		})
	}
}

func TestRouter_JoinGroup(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 1024)

	status, body := h.do(t, http.MethodPost, "/api/groups/general/join", map[string]any{"userId": "u2"})
	req.Equal(http.StatusOK, status)
	req.Equal("Joined group successfully", body["message"])

	// Joining again is accepted without side effect
	status, _ = h.do(t, http.MethodPost, "/api/groups/general/join", map[string]any{"userId": "u2"})
	req.Equal(http.StatusOK, status)

	status, _ = h.do(t, http.MethodPost, "/api/groups/missing/join", map[string]any{"userId": "u2"})
	req.Equal(http.StatusNotFound, status)

	status, body = h.do(t, http.MethodPost, "/api/groups/general/join", map[string]any{})
	req.Equal(http.StatusBadRequest, status)
	req.Contains(body["error"], "userId is required")
}

func TestRouter_Messages(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 1024)
	for i := 1; i <= 3; i++ {
		_, err := h.store.AppendMessage(domain.DefaultGroupID, domain.MessageDraft{Sender: "alice", Text: fmt.Sprintf("Message %d", i)})
		req.NoError(err)
	}

	// When the newest page is requested
	status, body := h.do(t, http.MethodGet, "/api/messages/general?limit=2", nil)

	// Then it holds the two latest messages in order plus a cursor
	req.Equal(http.StatusOK, status)
	messages := body["messages"].([]any)
	req.Len(messages, 2)
	req.Equal("Message 2", messages[0].(map[string]any)["text"])
	req.Equal("Message 3", messages[1].(map[string]any)["text"])
	cursor, ok := body["nextCursor"].(string)
	req.True(ok)

	// And the cursor leads to the remaining message
	status, body = h.do(t, http.MethodGet, "/api/messages/general?limit=2&cursor="+cursor, nil)
	req.Equal(http.StatusOK, status)
	messages = body["messages"].([]any)
	req.Len(messages, 1)
	req.Equal("Message 1", messages[0].(map[string]any)["text"])
	req.Nil(body["nextCursor"])

	status, _ = h.do(t, http.MethodGet, "/api/messages/missing", nil)
	req.Equal(http.StatusNotFound, status)

	status, _ = h.do(t, http.MethodGet, "/api/messages/general?limit=abc", nil)
	req.Equal(http.StatusBadRequest, status)
}

func TestRouter_SearchMessages(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 1024)
	_, err := h.store.AppendMessage(domain.DefaultGroupID, domain.MessageDraft{Sender: "alice", Text: "meet at the harbour"})
	req.NoError(err)
	_, err = h.store.AppendMessage(domain.DefaultGroupID, domain.MessageDraft{Sender: "bob", Text: "bring snacks"})
	req.NoError(err)

	status, body := h.do(t, http.MethodGet, "/api/messages/general/search?q=harbour", nil)

	req.Equal(http.StatusOK, status)
	messages := body["messages"].([]any)
	req.Len(messages, 1)
	req.Equal("alice", messages[0].(map[string]any)["sender"])

	status, body = h.do(t, http.MethodGet, "/api/messages/general/search", nil)
	req.Equal(http.StatusBadRequest, status)
	req.Contains(body["error"], "q is required")
}

func TestRouter_ViewMessage(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 1024)
	message, err := h.store.AppendMessage(domain.DefaultGroupID, domain.MessageDraft{Sender: "alice", Text: "secret"})
	req.NoError(err)

	// When the message is viewed through REST
	status, body := h.do(t, http.MethodPost, "/api/messages/"+message.ID+"/view", map[string]any{"groupId": "general", "userId": "u2"})

	// Then the redaction is armed and the viewer recorded
	req.Equal(http.StatusOK, status)
	req.Equal("Message marked as viewed", body["message"])
	req.Equal([]string{"general/" + message.ID}, h.spy.triggered)
	page, _, err := h.store.ListMessages(domain.DefaultGroupID, nil, 0)
	req.NoError(err)
	req.Equal([]string{"u2"}, page[0].ViewedBy)

	status, _ = h.do(t, http.MethodPost, "/api/messages/"+message.ID+"/view", map[string]any{})
	req.Equal(http.StatusBadRequest, status)
}

func TestRouter_OnlineUsers(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 1024, domain.User{ID: "u1", Username: "alice", IsOnline: true})

	status, body := h.do(t, http.MethodGet, "/api/users/online", nil)

	req.Equal(http.StatusOK, status)
	users := body["users"].([]any)
	req.Len(users, 1)
	req.Equal("alice", users[0].(map[string]any)["username"])
}

func TestRouter_Upload(t *testing.T) {
	t.Run("should store and then serve an image", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, 1024)

		status, body := h.upload(t, "cat.png", "image/png", pngBytes)

		req.Equal(http.StatusOK, status)
		req.Equal(true, body["success"])
		req.Equal("cat.png", body["fileName"])
		req.Equal("image/png", body["type"])
		req.EqualValues(len(pngBytes), body["size"])
		req.NotEmpty(body["id"])
		url := body["url"].(string)
		req.True(strings.HasPrefix(url, "/uploads/"))

		resp, err := http.Get(h.server.URL + url)
		req.NoError(err)
		defer func() { _ = resp.Body.Close() }()
		served, err := io.ReadAll(resp.Body)
		req.NoError(err)
		req.Equal(http.StatusOK, resp.StatusCode)
		req.Equal(pngBytes, served)
	})

	t.Run("should refuse a forbidden type", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, 1024)

		status, body := h.upload(t, "notes.png", "image/png", []byte("plain text pretending"))

		req.Equal(http.StatusUnsupportedMediaType, status)
		req.Contains(body["error"], "file type not allowed")
	})

	t.Run("should refuse a file over the limit", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, 16)

		status, _ := h.upload(t, "cat.png", "image/png", pngBytes)

		req.Equal(http.StatusRequestEntityTooLarge, status)
	})

	t.Run("should require a file part", func(t *testing.T) {
		req := require.New(t)
		h := newHarness(t, 1024)

		status, body := h.do(t, http.MethodPost, "/api/upload", map[string]any{"userId": "u1"})

		req.Equal(http.StatusBadRequest, status)
		req.Contains(body["error"], "no file uploaded")
	})
}

func TestRouter_Cors(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, 1024)

	allowed, err := http.NewRequest(http.MethodGet, h.server.URL+"/health", nil)
	req.NoError(err)
	allowed.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(allowed)
	req.NoError(err)
	_ = resp.Body.Close()
	req.Equal("http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	other, err := http.NewRequest(http.MethodGet, h.server.URL+"/health", nil)
	req.NoError(err)
	other.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(other)
	req.NoError(err)
	_ = resp.Body.Close()
	req.Empty(resp.Header.Get("Access-Control-Allow-Origin"))
}
