package runtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"ghost-chat/contract"
	"ghost-chat/domain"
	"ghost-chat/domain/event"
	"ghost-chat/errors"
	"ghost-chat/moderation"
	"ghost-chat/repositories"

	"github.com/go-playground/validator/v10"
	"github.com/moby/locker"
)

type handler func(ctx context.Context, conn contract.Connection, user domain.User, raw json.RawMessage) error

// EventDispatcher is the single entry point of client events. It validates,
// delegates to the store, the registry or the call coordinator, then publishes
// the resulting events. It is the only place where failures become error events.
type EventDispatcher struct {
	store      repositories.IStore
	registry   *PresenceRegistry
	scheduler  *RedactionScheduler
	calls      *CallCoordinator
	publisher  contract.Publisher
	moderator  *moderation.Moderator
	validate   *validator.Validate
	groupLocks *locker.Locker
	log        *slog.Logger
	handlers   map[event.Name]handler
}

type DispatcherOption func(*EventDispatcher)

// WithModerator censors message text and tags its language before it is stored.
func WithModerator(moderator *moderation.Moderator) DispatcherOption {
	return func(d *EventDispatcher) { d.moderator = moderator }
}

func NewEventDispatcher(
	store repositories.IStore,
	registry *PresenceRegistry,
	scheduler *RedactionScheduler,
	calls *CallCoordinator,
	publisher contract.Publisher,
	log *slog.Logger,
	opts ...DispatcherOption,
) *EventDispatcher {
	d := &EventDispatcher{
		store:      store,
		registry:   registry,
		scheduler:  scheduler,
		calls:      calls,
		publisher:  publisher,
		validate:   NewValidator(),
		groupLocks: locker.New(),
		log:        log,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handlers = map[event.Name]handler{
		event.SendMessage:       d.sendMessage,
		event.MarkMessageViewed: d.markViewed,
		event.CreateGroup:       d.createGroup,
		event.JoinGroup:         d.joinGroup,
		event.StartCall:         d.startCall,
		event.AcceptCall:        d.acceptCall,
		event.EndCall:           d.endCall,
		event.CallSignal:        d.callSignal,
		event.TypingStart:       d.typing(event.TypingStart),
		event.TypingStop:        d.typing(event.TypingStop),
	}
	return d
}

var fallbacks = map[event.Name]string{
	event.Join:              "Failed to join",
	event.SendMessage:       "Failed to send message",
	event.MarkMessageViewed: "Failed to mark message as viewed",
	event.CreateGroup:       "Failed to create group",
	event.JoinGroup:         "Failed to join group",
	event.StartCall:         "Failed to start call",
	event.AcceptCall:        "Failed to accept call",
	event.EndCall:           "Failed to end call",
}

// Handle processes one inbound event of conn. Failures are reported to conn as
// an error event and returned for logging.
func (d *EventDispatcher) Handle(ctx context.Context, conn contract.Connection, in event.Inbound) error {
	var err error
	if in.Type == event.Join {
		err = d.join(ctx, conn, in.Payload)
	} else {
		h, known := d.handlers[in.Type]
		if !known {
			d.log.Debug("Unknown event dropped", "event", in.Type, "connection_id", conn.ID())
			return nil
		}
		user, joined := d.registry.UserFor(conn.ID())
		if !joined {
			d.log.Debug("Event from a connection without user dropped", "event", in.Type, "connection_id", conn.ID())
			return nil
		}
		err = h(ctx, conn, user, in.Payload)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, errors.ErrStoreUnavailable) {
		d.log.Error("Event failed", "event", in.Type, "connection_id", conn.ID(), "error", err)
	}
	fallback, ok := fallbacks[in.Type]
	if !ok {
		fallback = "Request failed"
	}
	message := event.ErrorPayload{Message: errors.UserMessage(err, fallback)}
	if pubErr := d.publisher.Publish(ctx, contract.ToConnection(conn, event.New(event.Error, message))); pubErr != nil {
		d.log.Warn("Unable to report error", "connection_id", conn.ID(), "error", pubErr)
	}
	return err
}

func (d *EventDispatcher) join(ctx context.Context, conn contract.Connection, raw json.RawMessage) error {
	payload, err := decode[event.JoinPayload](d.validate, raw)
	if err != nil {
		return err
	}
	user, err := d.store.UpsertUser(payload.Username)
	if err != nil {
		return err
	}
	registration := d.registry.Register(user, conn)
	if registration.Previous != nil {
		d.log.Info("User reconnected", "user_id", user.ID, "previous_connection_id", registration.Previous.ID())
	}
	if displaced := registration.Displaced; displaced != nil {
		d.log.Info("Connection changed user", "connection_id", conn.ID(), "previous_user_id", displaced.ID, "user_id", user.ID)
		d.release(ctx, conn, *displaced)
	}
	groups, err := d.store.ListGroups()
	if err != nil {
		return err
	}
	d.log.Info("User joined", "user_id", user.ID, "username", user.Username, "connection_id", conn.ID())
	return d.publish(ctx,
		contract.ToConnection(conn, event.New(event.GroupsUpdated, groups)),
		contract.ToAll(event.New(event.UsersUpdated, d.registry.ListActive())),
		contract.ToOthers(conn, event.New(event.UserConnected, user)),
	)
}

func (d *EventDispatcher) sendMessage(ctx context.Context, _ contract.Connection, user domain.User, raw json.RawMessage) error {
	payload, err := decode[event.SendMessagePayload](d.validate, raw)
	if err != nil {
		return err
	}
	draft := domain.MessageDraft{
		Sender:     user.Username,
		SenderInfo: user,
		Text:       payload.Text,
		Attachment: payload.Attachment,
	}
	if d.moderator != nil && payload.Text != "" {
		review := d.moderator.Review(payload.Text)
		draft.Text = review.Text
		draft.Language = review.Language
		if len(review.CensoredWords) > 0 {
			d.log.Debug("Message censored", "user_id", user.ID, "group_id", payload.GroupID, "words", len(review.CensoredWords))
		}
	}

	// Held across append and publish so that the fan-out order matches the history order.
	d.groupLocks.Lock(payload.GroupID)
	defer func() { _ = d.groupLocks.Unlock(payload.GroupID) }()

	message, err := d.store.AppendMessage(payload.GroupID, draft)
	if err != nil {
		return err
	}
	return d.publish(ctx, contract.ToAll(event.New(event.NewMessage, message)))
}

// markViewed records the viewer and hands the message to the scheduler.
// The scheduler itself ignores repeated views. Unknown messages are dropped.
func (d *EventDispatcher) markViewed(_ context.Context, _ contract.Connection, user domain.User, raw json.RawMessage) error {
	payload, err := decode[event.MessageRefPayload](d.validate, raw)
	if err != nil {
		return err
	}
	found, err := d.store.MarkViewed(payload.MessageID, payload.GroupID, user.ID)
	switch {
	case err != nil:
		d.log.Warn("Unable to record viewer", "message_id", payload.MessageID, "user_id", user.ID, "error", err)
	case !found:
		d.log.Debug("View of unknown message dropped", "message_id", payload.MessageID, "group_id", payload.GroupID)
		return nil
	}
	d.scheduler.Trigger(payload.MessageID, payload.GroupID)
	return nil
}

func (d *EventDispatcher) createGroup(ctx context.Context, _ contract.Connection, user domain.User, raw json.RawMessage) error {
	payload, err := decode[event.CreateGroupPayload](d.validate, raw)
	if err != nil {
		return err
	}
	group, err := d.store.CreateGroup(payload.Name, user.ID, payload.Description, payload.IsPrivate)
	if err != nil {
		return err
	}
	d.log.Info("Group created", "group_id", group.ID, "user_id", user.ID)
	return d.broadcastGroups(ctx)
}

func (d *EventDispatcher) joinGroup(ctx context.Context, _ contract.Connection, user domain.User, raw json.RawMessage) error {
	payload, err := decode[event.GroupRefPayload](d.validate, raw)
	if err != nil {
		return err
	}
	joined, err := d.store.JoinGroup(payload.GroupID, user.ID)
	if err != nil {
		return err
	}
	if !joined {
		// Either unknown or already a member. Only the former is an error.
		_, err := d.store.GetGroup(payload.GroupID)
		return err
	}
	return d.broadcastGroups(ctx)
}

func (d *EventDispatcher) broadcastGroups(ctx context.Context) error {
	groups, err := d.store.ListGroups()
	if err != nil {
		return err
	}
	return d.publish(ctx, contract.ToAll(event.New(event.GroupsUpdated, groups)))
}

func (d *EventDispatcher) startCall(ctx context.Context, _ contract.Connection, user domain.User, raw json.RawMessage) error {
	payload, err := decode[event.StartCallPayload](d.validate, raw)
	if err != nil {
		return err
	}
	call, err := d.calls.Start(ctx, payload.Type, payload.GroupID, user.ID)
	if err != nil {
		return err
	}
	d.log.Info("Call started", "call_id", call.ID, "group_id", call.GroupID, "user_id", user.ID)
	return nil
}

func (d *EventDispatcher) acceptCall(ctx context.Context, conn contract.Connection, _ domain.User, raw json.RawMessage) error {
	payload, err := decode[event.CallRefPayload](d.validate, raw)
	if err != nil {
		return err
	}
	_, err = d.calls.Accept(ctx, conn, payload.CallID)
	return err
}

func (d *EventDispatcher) endCall(ctx context.Context, _ contract.Connection, _ domain.User, raw json.RawMessage) error {
	payload, err := decode[event.CallRefPayload](d.validate, raw)
	if err != nil {
		return err
	}
	_, err = d.calls.End(ctx, payload.CallID)
	return err
}

// callSignal never reports anything back to the sender: relaying is best effort.
func (d *EventDispatcher) callSignal(ctx context.Context, _ contract.Connection, user domain.User, raw json.RawMessage) error {
	payload, err := decode[event.CallSignalPayload](d.validate, raw)
	if err != nil {
		d.log.Debug("Invalid call signal dropped", "user_id", user.ID, "error", err)
		return nil
	}
	d.calls.RelaySignal(ctx, user.ID, payload.To, payload.Signal, payload.CallID)
	return nil
}

func (d *EventDispatcher) typing(name event.Name) handler {
	return func(ctx context.Context, conn contract.Connection, user domain.User, raw json.RawMessage) error {
		payload, err := decode[event.GroupRefPayload](d.validate, raw)
		if err != nil {
			d.log.Debug("Invalid typing event dropped", "user_id", user.ID, "error", err)
			return nil
		}
		return d.publish(ctx, contract.ToOthers(conn, event.New(name, event.Typing{UserID: user.ID, GroupID: payload.GroupID})))
	}
}

// Disconnect releases the session of conn. A connection that was already
// replaced by a newer join of the same user changes nothing.
func (d *EventDispatcher) Disconnect(ctx context.Context, conn contract.Connection) {
	user, ok := d.registry.UserFor(conn.ID())
	if !ok {
		return
	}
	if !d.registry.Unregister(user.ID, conn.ID()) {
		d.log.Debug("Stale connection closed", "user_id", user.ID, "connection_id", conn.ID())
		return
	}
	d.log.Info("User disconnected", "user_id", user.ID, "connection_id", conn.ID())
	d.release(ctx, conn, user)
}

// PruneStale releases the sessions whose transport closed silently and emits
// the same events as a disconnect.
func (d *EventDispatcher) PruneStale(ctx context.Context) int {
	released := d.registry.Prune()
	for _, user := range released {
		d.log.Warn("Stale presence pruned", "user_id", user.ID)
		d.release(ctx, nil, user)
	}
	return len(released)
}

func (d *EventDispatcher) release(ctx context.Context, conn contract.Connection, user domain.User) {
	// A join of the same user may have landed since the session was dropped.
	// Its own events already went out and the durable flag must stay true.
	if _, live := d.registry.FindConnectionFor(user.ID); live {
		d.log.Debug("User rejoined before release", "user_id", user.ID)
		return
	}
	if _, err := d.store.SetUserOnline(user.ID, false); err != nil {
		d.log.Error("Unable to mark user offline", "user_id", user.ID, "error", err)
	}
	err := d.publish(ctx,
		contract.ToAll(event.New(event.UsersUpdated, d.registry.ListActive())),
		contract.ToOthers(conn, event.New(event.UserDisconnected, event.UserRef{UserID: user.ID})),
	)
	if err != nil {
		d.log.Warn("Unable to publish disconnect", "user_id", user.ID, "error", err)
	}
}

func (d *EventDispatcher) publish(ctx context.Context, deliveries ...contract.Delivery) error {
	for _, delivery := range deliveries {
		if err := d.publisher.Publish(ctx, delivery); err != nil {
			return err
		}
	}
	return nil
}
