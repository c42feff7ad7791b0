package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"ghost-chat/contract"
	"ghost-chat/domain"
	"ghost-chat/domain/event"
	"ghost-chat/errors"
	"ghost-chat/mocks"
	"ghost-chat/repositories"
	"ghost-chat/runtime/workers"

	"github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	t          *testing.T
	store      *repositories.BadgerStore
	clock      *clockwork.FakeClock
	orch       *Orchestrator
	dispatcher *EventDispatcher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := repositories.NewBadgerStore(db, log)
	req.NoError(err)

	clock := clockwork.NewFakeClock()
	cfg.BufferSize = 100
	cfg.SinkTimeout = time.Second
	cfg.RedactionDelay = time.Second
	orch, err := NewOrchestrator(log, store, workers.NewSupervisor(log, 10*time.Millisecond), clock, cfg)
	req.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = orch.Start(ctx) }()
	t.Cleanup(func() {
		orch.Stop()
		cancel()
	})
	return &harness{t: t, store: store, clock: clock, orch: orch, dispatcher: orch.Dispatcher()}
}

func (h *harness) send(conn *recordingConn, name event.Name, payload any) error {
	h.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(h.t, err)
	return h.dispatcher.Handle(context.Background(), conn, event.Inbound{Type: name, Payload: raw})
}

func (h *harness) join(username string) *recordingConn {
	h.t.Helper()
	conn := newRecordingConn()
	require.NoError(h.t, h.send(conn, event.Join, event.JoinPayload{Username: username}))
	require.Eventually(h.t, func() bool { return len(conn.ReceivedOf(event.GroupsUpdated)) > 0 }, waitFor, tick)
	return conn
}

func (h *harness) userID(username string) string {
	for _, user := range h.orch.Registry().ListActive() {
		if user.Username == username {
			return user.ID
		}
	}
	h.t.Fatalf("%s is not connected", username)
	return ""
}

func eventually(t *testing.T, conn *recordingConn, name event.Name, count int) []event.Outbound {
	t.Helper()
	require.Eventually(t, func() bool { return len(conn.ReceivedOf(name)) >= count }, waitFor, tick,
		"expected %d %s", count, name)
	return conn.ReceivedOf(name)
}

func TestEventDispatcher_Team_Scenario(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})

	// Given alice creates a public group
	alice := h.join("alice")
	req.NoError(h.send(alice, event.CreateGroup, event.CreateGroupPayload{Name: "Team", Description: "desc"}))
	updates := eventually(t, alice, event.GroupsUpdated, 2)
	groups := updates[len(updates)-1].Payload.(map[string]domain.Group)
	req.Contains(groups, "team")
	req.Contains(groups, domain.DefaultGroupID)

	// And bob joins
	bob := h.join("bob")
	eventually(t, alice, event.UserConnected, 1)

	// When bob says hi
	req.NoError(h.send(bob, event.SendMessage, event.SendMessagePayload{GroupID: "team", Text: "hi"}))

	// Then every client receives the new message
	var message domain.Message
	for _, conn := range []*recordingConn{alice, bob} {
		received := eventually(t, conn, event.NewMessage, 1)
		message = received[0].Payload.(domain.Message)
		req.Equal("bob", message.Sender)
		req.Equal("hi", message.Text)
		req.False(message.IsEncrypted)
	}

	// When alice views it twice and the delay elapses
	ref := event.MessageRefPayload{MessageID: message.ID, GroupID: "team"}
	req.NoError(h.send(alice, event.MarkMessageViewed, ref))
	req.NoError(h.send(alice, event.MarkMessageViewed, ref))
	h.clock.Advance(time.Second)

	// Then exactly one message-encrypted reaches everybody
	for _, conn := range []*recordingConn{alice, bob} {
		encrypted := eventually(t, conn, event.MessageEncrypted, 1)
		req.Equal(event.MessageEncryptedPayload{MessageID: message.ID, GroupID: "team"}, encrypted[0].Payload)
	}
	req.Never(func() bool { return len(alice.ReceivedOf(event.MessageEncrypted)) > 1 }, 50*time.Millisecond, tick)

	// And the stored text is masked with the same length
	stored, err := h.store.ListGroups()
	req.NoError(err)
	redacted := stored["team"].Messages[0]
	req.True(redacted.IsEncrypted)
	req.Equal(2, utf8.RuneCountInString(redacted.Text))
	req.Equal([]string{h.userID("alice")}, redacted.ViewedBy)
}

func TestEventDispatcher_Duplicate_Group_Is_A_Conflict(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	alice := h.join("alice")

	// Given
	req.NoError(h.send(alice, event.CreateGroup, event.CreateGroupPayload{Name: "My Group!!"}))

	// When
	err := h.send(alice, event.CreateGroup, event.CreateGroupPayload{Name: "my group", IsPrivate: true})

	// Then
	req.ErrorIs(err, errors.ErrConflict)
	failures := eventually(t, alice, event.Error, 1)
	req.Equal(event.ErrorPayload{Message: "group already exists"}, failures[0].Payload)
	group, err := h.store.GetGroup("my-group")
	req.NoError(err)
	req.Equal("My Group!!", group.Name)
	req.False(group.IsPrivate)
}

func TestEventDispatcher_Call_Ended_Before_Accept(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	alice := h.join("alice")
	bob := h.join("bob")

	// Given alice starts a video call in general
	req.NoError(h.send(alice, event.StartCall, event.StartCallPayload{Type: domain.CallVideo, GroupID: domain.DefaultGroupID}))
	requests := eventually(t, bob, event.CallRequest, 1)
	call := requests[0].Payload.(domain.Call)
	req.Equal(domain.CallPending, call.Status)
	req.Empty(alice.ReceivedOf(event.CallRequest))

	// When alice ends it before bob accepts
	req.NoError(h.send(alice, event.EndCall, event.CallRefPayload{CallID: call.ID}))
	eventually(t, alice, event.CallEnded, 1)
	eventually(t, bob, event.CallEnded, 1)
	req.NoError(h.send(bob, event.AcceptCall, event.CallRefPayload{CallID: call.ID}))

	// Then the call stays ended and nobody hears it was accepted
	req.Never(func() bool {
		return len(alice.ReceivedOf(event.CallAccepted))+len(bob.ReceivedOf(event.CallAccepted)) > 0
	}, 50*time.Millisecond, tick)
	stored, err := h.store.GetCall(call.ID)
	req.NoError(err)
	req.Equal(domain.CallEnded, stored.Status)
	req.Empty(bob.ReceivedOf(event.Error))
}

func TestEventDispatcher_Accept_Call(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	alice := h.join("alice")
	bob := h.join("bob")
	req.NoError(h.send(alice, event.StartCall, event.StartCallPayload{Type: domain.CallAudio, GroupID: domain.DefaultGroupID}))
	call := eventually(t, bob, event.CallRequest, 1)[0].Payload.(domain.Call)

	// When
	req.NoError(h.send(bob, event.AcceptCall, event.CallRefPayload{CallID: call.ID}))

	// Then
	accepted := eventually(t, alice, event.CallAccepted, 1)
	req.Equal(event.CallRef{CallID: call.ID}, accepted[0].Payload)
	req.Never(func() bool { return len(bob.ReceivedOf(event.CallAccepted)) > 0 }, 50*time.Millisecond, tick)
}

func TestEventDispatcher_Call_Signal_Is_Targeted(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	alice := h.join("alice")
	bob := h.join("bob")
	carol := h.join("carol")
	signal := json.RawMessage(`{"sdp":"offer"}`)

	// When alice signals bob
	req.NoError(h.send(alice, event.CallSignal, event.CallSignalPayload{To: h.userID("bob"), Signal: signal, CallID: "c1"}))

	// Then only bob receives it
	relayed := eventually(t, bob, event.CallSignal, 1)
	req.Equal(event.RelayedSignal{From: h.userID("alice"), Signal: signal, CallID: "c1"}, relayed[0].Payload)
	req.Never(func() bool {
		return len(alice.ReceivedOf(event.CallSignal))+len(carol.ReceivedOf(event.CallSignal)) > 0
	}, 50*time.Millisecond, tick)

	// And a signal to somebody gone is dropped silently
	req.NoError(h.send(alice, event.CallSignal, event.CallSignalPayload{To: "nobody", Signal: signal}))
	req.Empty(alice.ReceivedOf(event.Error))
}

func TestEventDispatcher_Drops_Events_Before_Join(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	stranger := newRecordingConn()

	// When
	err := h.send(stranger, event.SendMessage, event.SendMessagePayload{GroupID: domain.DefaultGroupID, Text: "hi"})

	// Then
	req.NoError(err)
	req.Never(func() bool { return len(stranger.Received()) > 0 }, 50*time.Millisecond, tick)
	groups, err := h.store.ListGroups()
	req.NoError(err)
	req.Empty(groups[domain.DefaultGroupID].Messages)
}

func TestEventDispatcher_Rejected_Events(t *testing.T) {
	h := newHarness(t, Config{})
	alice := h.join("alice")

	tests := []struct {
		name     string
		conn     func() *recordingConn
		event    event.Name
		payload  any
		wantErr  error
		expected string
	}{
		{
			name:     "join without username",
			conn:     newRecordingConn,
			event:    event.Join,
			payload:  event.JoinPayload{},
			expected: "invalid request: username is required",
		},
		{
			name:     "message without group",
			conn:     func() *recordingConn { return alice },
			event:    event.SendMessage,
			payload:  event.SendMessagePayload{Text: "hi"},
			expected: "invalid request: groupId is required",
		},
		{
			name:     "message to unknown group",
			conn:     func() *recordingConn { return alice },
			event:    event.SendMessage,
			payload:  event.SendMessagePayload{GroupID: "nope", Text: "hi"},
			wantErr:  errors.ErrNotFound,
			expected: "group not found",
		},
		{
			name:     "group without name",
			conn:     func() *recordingConn { return alice },
			event:    event.CreateGroup,
			payload:  event.CreateGroupPayload{},
			expected: "invalid request: name is required",
		},
		{
			name:     "join unknown group",
			conn:     func() *recordingConn { return alice },
			event:    event.JoinGroup,
			payload:  event.GroupRefPayload{GroupID: "nope"},
			wantErr:  errors.ErrNotFound,
			expected: "group not found",
		},
		{
			name:     "call of unknown type",
			conn:     func() *recordingConn { return alice },
			event:    event.StartCall,
			payload:  map[string]string{"type": "hologram", "groupId": "general"},
			expected: "invalid request: type must be one of [audio video]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			conn := tt.conn()
			before := len(conn.ReceivedOf(event.Error))

			err := h.send(conn, tt.event, tt.payload)

			wantErr := tt.wantErr
			if wantErr == nil {
				wantErr = errors.ErrValidation
			}
			req.ErrorIs(err, wantErr)
			failures := eventually(t, conn, event.Error, before+1)
			req.Equal(event.ErrorPayload{Message: tt.expected}, failures[before].Payload)
		})
	}
}

func TestEventDispatcher_Join_Group(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	alice := h.join("alice")
	bob := h.join("bob")
	req.NoError(h.send(alice, event.CreateGroup, event.CreateGroupPayload{Name: "Secret", IsPrivate: true}))
	eventually(t, bob, event.GroupsUpdated, 2)

	// When bob joins twice
	req.NoError(h.send(bob, event.JoinGroup, event.GroupRefPayload{GroupID: "secret"}))
	eventually(t, bob, event.GroupsUpdated, 3)
	req.NoError(h.send(bob, event.JoinGroup, event.GroupRefPayload{GroupID: "secret"}))

	// Then he is a member once and the second join is silent
	group, err := h.store.GetGroup("secret")
	req.NoError(err)
	req.Equal([]string{h.userID("alice"), h.userID("bob")}, group.Members)
	req.Never(func() bool { return len(bob.ReceivedOf(event.GroupsUpdated)) > 3 }, 50*time.Millisecond, tick)
}

func TestEventDispatcher_Typing_Reaches_Others(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	alice := h.join("alice")
	bob := h.join("bob")

	req.NoError(h.send(alice, event.TypingStart, event.GroupRefPayload{GroupID: "general"}))
	req.NoError(h.send(alice, event.TypingStop, event.GroupRefPayload{GroupID: "general"}))

	start := eventually(t, bob, event.TypingStart, 1)
	req.Equal(event.Typing{UserID: h.userID("alice"), GroupID: "general"}, start[0].Payload)
	eventually(t, bob, event.TypingStop, 1)
	req.Empty(alice.ReceivedOf(event.TypingStart))
}

func TestEventDispatcher_Disconnect(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	alice := h.join("alice")
	bob := h.join("bob")
	bobID := h.userID("bob")

	// When bob leaves
	h.dispatcher.Disconnect(context.Background(), bob)

	// Then alice is told and bob is offline
	left := eventually(t, alice, event.UserDisconnected, 1)
	req.Equal(event.UserRef{UserID: bobID}, left[0].Payload)
	require.Eventually(t, func() bool {
		updates := alice.ReceivedOf(event.UsersUpdated)
		return len(updates[len(updates)-1].Payload.([]domain.User)) == 1
	}, waitFor, tick)
	online, err := h.store.ListOnlineUsers()
	req.NoError(err)
	req.Len(online, 1)
	req.Equal("alice", online[0].Username)
}

func TestEventDispatcher_Stale_Disconnect_After_Reconnect(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	alice := h.join("alice")
	oldBob := h.join("bob")
	newBob := h.join("bob")

	// When the first connection of bob finally closes
	h.dispatcher.Disconnect(context.Background(), oldBob)

	// Then bob is still online through the new one
	req.Never(func() bool { return len(alice.ReceivedOf(event.UserDisconnected)) > 0 }, 50*time.Millisecond, tick)
	conn, ok := h.orch.Registry().FindConnectionFor(h.userID("bob"))
	req.True(ok)
	req.Equal(newBob.ID(), conn.ID())
	user, err := h.store.GetUser(h.userID("bob"))
	req.NoError(err)
	req.True(user.IsOnline)
}

func TestEventDispatcher_PruneStale(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	alice := h.join("alice")
	bob := h.join("bob")
	bobID := h.userID("bob")

	// Given bob's transport died without a disconnect
	bob.closed.Store(true)

	// When
	pruned := h.dispatcher.PruneStale(context.Background())

	// Then
	req.Equal(1, pruned)
	eventually(t, alice, event.UserDisconnected, 1)
	user, err := h.store.GetUser(bobID)
	req.NoError(err)
	req.False(user.IsOnline)
	req.Zero(h.dispatcher.PruneStale(context.Background()))
}

func TestEventDispatcher_Moderation(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{EnableModeration: true, CharReplacement: '*'})
	alice := h.join("alice")

	// When
	req.NoError(h.send(alice, event.SendMessage, event.SendMessagePayload{
		GroupID: domain.DefaultGroupID,
		Text:    "this meeting is bullshit and everybody in the room knows it",
	}))

	// Then
	message := eventually(t, alice, event.NewMessage, 1)[0].Payload.(domain.Message)
	req.Equal("this meeting is ******** and everybody in the room knows it", message.Text)
}

func TestEventDispatcher_Unknown_Event(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	alice := h.join("alice")

	err := h.dispatcher.Handle(context.Background(), alice, event.Inbound{Type: "dance"})

	req.NoError(err)
	req.Empty(alice.ReceivedOf(event.Error))
}

func TestEventDispatcher_Views_Of_Unknown_Messages_Are_Dropped(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	alice := h.join("alice")

	// When alice views messages that were never sent
	for i := 0; i < 200; i++ {
		ref := event.MessageRefPayload{MessageID: fmt.Sprintf("bogus-%d", i), GroupID: "nope"}
		req.NoError(h.send(alice, event.MarkMessageViewed, ref))
	}
	h.clock.Advance(2 * time.Second)

	// Then the scheduler tracks none of them and nothing is broadcast
	scheduler := h.orch.Scheduler()
	req.Zero(scheduler.Len())
	req.Equal(Unviewed, scheduler.State("bogus-0"))
	req.Never(func() bool {
		return len(alice.ReceivedOf(event.MessageEncrypted)) > 0 || len(alice.ReceivedOf(event.Error)) > 0
	}, 50*time.Millisecond, tick)
}

func TestEventDispatcher_Rejoin_Under_Another_Username(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	carol := h.join("carol")
	conn := h.join("alice")
	aliceID := h.userID("alice")

	// When the same connection joins again as bob
	req.NoError(h.send(conn, event.Join, event.JoinPayload{Username: "bob"}))

	// Then alice is released like on a disconnect
	left := eventually(t, carol, event.UserDisconnected, 1)
	req.Equal(event.UserRef{UserID: aliceID}, left[0].Payload)
	alice, err := h.store.GetUser(aliceID)
	req.NoError(err)
	req.False(alice.IsOnline)

	// And once the connection closes only carol is left online
	h.dispatcher.Disconnect(context.Background(), conn)
	eventually(t, carol, event.UserDisconnected, 2)
	online, err := h.store.ListOnlineUsers()
	req.NoError(err)
	req.Len(online, 1)
	req.Equal("carol", online[0].Username)
	req.Equal(1, h.orch.Registry().Len())
}

func TestEventDispatcher_Store_Unavailable(t *testing.T) {
	outage := errors.Unavailable("append message", fmt.Errorf("badger: disk full at /var/lib/ghost"))

	tests := []struct {
		name     string
		event    event.Name
		payload  any
		expect   func(store *mocks.MockIStore)
		expected string
	}{
		{
			name:    "send message",
			event:   event.SendMessage,
			payload: event.SendMessagePayload{GroupID: domain.DefaultGroupID, Text: "hi"},
			expect: func(store *mocks.MockIStore) {
				store.EXPECT().AppendMessage(domain.DefaultGroupID, gomock.Any()).Return(domain.Message{}, outage)
			},
			expected: "Failed to send message",
		},
		{
			name:    "create group",
			event:   event.CreateGroup,
			payload: event.CreateGroupPayload{Name: "Team"},
			expect: func(store *mocks.MockIStore) {
				store.EXPECT().CreateGroup("Team", "u1", "", false).Return(domain.Group{}, outage)
				store.EXPECT().ListGroups().Times(0)
			},
			expected: "Failed to create group",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			ctrl := gomock.NewController(t)
			log := logs.GetLoggerFromLevel(slog.LevelDebug)
			store := mocks.NewMockIStore(ctrl)
			publisher := mocks.NewMockPublisher(ctrl)
			var mu sync.Mutex
			var published []contract.Delivery
			publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, d contract.Delivery) error {
					mu.Lock()
					defer mu.Unlock()
					published = append(published, d)
					return nil
				}).AnyTimes()
			registry := NewPresenceRegistry()
			scheduler := NewRedactionScheduler(clockwork.NewFakeClock(), time.Second, store, publisher, log)
			defer scheduler.Stop()
			dispatcher := NewEventDispatcher(store, registry, scheduler, NewCallCoordinator(store, registry, publisher, log), publisher, log)

			// Given alice is connected and the store is down
			conn := newRecordingConn()
			registry.Register(domain.User{ID: "u1", Username: "alice"}, conn)
			tt.expect(store)
			raw, err := json.Marshal(tt.payload)
			req.NoError(err)

			// When
			err = dispatcher.Handle(context.Background(), conn, event.Inbound{Type: tt.event, Payload: raw})

			// Then the caller only gets the generic failure
			req.ErrorIs(err, errors.ErrStoreUnavailable)
			mu.Lock()
			defer mu.Unlock()
			req.Len(published, 1)
			req.Equal(contract.AudienceConnection, published[0].Audience)
			req.Equal(conn, published[0].Conn)
			req.Equal(event.Error, published[0].Event.Type)
			req.Equal(event.ErrorPayload{Message: tt.expected}, published[0].Event.Payload)
		})
	}
}

func TestEventDispatcher_Release_After_Rejoin_Keeps_User_Online(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, Config{})
	alice := h.join("alice")
	oldBob := h.join("bob")
	bobID := h.userID("bob")
	bob, err := h.store.GetUser(bobID)
	req.NoError(err)

	// Given the first session of bob was dropped and bob joined again
	req.True(h.orch.Registry().Unregister(bobID, oldBob.ID()))
	h.join("bob")

	// When the release of the dropped session runs late
	h.dispatcher.release(context.Background(), oldBob, bob)

	// Then bob stays online and nobody is told otherwise
	user, err := h.store.GetUser(bobID)
	req.NoError(err)
	req.True(user.IsOnline)
	req.Never(func() bool { return len(alice.ReceivedOf(event.UserDisconnected)) > 0 }, 50*time.Millisecond, tick)
}
