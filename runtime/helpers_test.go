package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"ghost-chat/domain/event"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// recordingConn is an in-memory connection remembering what it received.
type recordingConn struct {
	id     string
	closed atomic.Bool
	mu     sync.Mutex
	events []event.Outbound
}

func newRecordingConn() *recordingConn {
	return &recordingConn{id: uuid.NewString()}
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Closed() bool { return c.closed.Load() }

func (c *recordingConn) Consume(_ context.Context, e event.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *recordingConn) Received() []event.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Outbound(nil), c.events...)
}

func (c *recordingConn) ReceivedOf(name event.Name) []event.Outbound {
	return lo.Filter(c.Received(), func(e event.Outbound, _ int) bool { return e.Type == name })
}
