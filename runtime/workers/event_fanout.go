package workers

import (
	"context"
	"log/slog"
	"time"

	"ghost-chat/contract"

	"github.com/samber/lo"
)

// EventFanout delivers outbound events to the connections of their audience.
//
// Every delivery goes through a single buffered channel and a single loop, so
// connections observe events in publish order. Sinks are connections that only
// enqueue; a sink exceeding sinkTimeout is skipped for that event.
//
// Publish is safe for concurrent use by multiple goroutines.
type EventFanout struct {
	log         *slog.Logger
	deliveries  chan contract.Delivery
	sessions    contract.SessionSource
	groups      contract.GroupDirectory
	sinkTimeout time.Duration
}

func NewEventFanout(
	log *slog.Logger,
	sessions contract.SessionSource,
	groups contract.GroupDirectory,
	bufferSize int,
	sinkTimeout time.Duration,
) *EventFanout {
	return &EventFanout{
		log:         log,
		deliveries:  make(chan contract.Delivery, bufferSize),
		sessions:    sessions,
		groups:      groups,
		sinkTimeout: sinkTimeout,
	}
}

// Queue exposes the delivery buffer for capacity sampling.
func (w *EventFanout) Queue() NamedChannel {
	return NamedChannel{Name: "fanout", Channel: w.deliveries}
}

// Publish enqueues the delivery, waiting for room in the buffer until ctx is done.
func (w *EventFanout) Publish(ctx context.Context, d contract.Delivery) error {
	select {
	case w.deliveries <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case d := <-w.deliveries:
			w.Fanout(ctx, d)
		case <-ctx.Done():
			w.log.Debug("Context done, stopping event fanout")
			return nil
		}
	}
}

// Fanout One sink for each connection of the audience
func (w *EventFanout) Fanout(ctx context.Context, d contract.Delivery) {
	for _, conn := range w.resolve(d) {
		w.consume(ctx, conn, d)
	}
}

func (w *EventFanout) consume(ctx context.Context, conn contract.Connection, d contract.Delivery) {
	sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
	defer cancel()
	if err := conn.Consume(sinkCtx, d.Event); err != nil {
		w.log.Debug("Event not delivered", "connection_id", conn.ID(), "event", d.Event.Type, "error", err)
	}
}

func (w *EventFanout) resolve(d contract.Delivery) []contract.Connection {
	switch d.Audience {
	case contract.AudienceConnection:
		if d.Conn == nil || d.Conn.Closed() {
			return nil
		}
		return []contract.Connection{d.Conn}
	case contract.AudienceOthers:
		return w.connections(func(s contract.Session) bool {
			return d.Conn == nil || s.Conn.ID() != d.Conn.ID()
		})
	case contract.AudienceAll:
		return w.connections(func(contract.Session) bool { return true })
	case contract.AudienceGroup:
		group, err := w.groups.GetGroup(d.GroupID)
		if err != nil {
			w.log.Warn("Unable to resolve group audience", "group_id", d.GroupID, "event", d.Event.Type, "error", err)
			return nil
		}
		return w.connections(func(s contract.Session) bool {
			if d.ExceptUserID != "" && s.User.ID == d.ExceptUserID {
				return false
			}
			return !group.IsPrivate || group.HasMember(s.User.ID)
		})
	default:
		w.log.Warn("Unknown audience", "audience", d.Audience.String(), "event", d.Event.Type)
		return nil
	}
}

func (w *EventFanout) connections(keep func(contract.Session) bool) []contract.Connection {
	return lo.FilterMap(w.sessions.Sessions(), func(s contract.Session, _ int) (contract.Connection, bool) {
		return s.Conn, keep(s)
	})
}
