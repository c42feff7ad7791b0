package runtime

import (
	"sort"
	"sync"

	"ghost-chat/contract"
	"ghost-chat/domain"

	"github.com/samber/lo"
)

// PresenceRegistry is the source of truth for who is online right now.
// A user holds at most one session: the latest join wins and the previous
// connection is forgotten, so its late disconnect cannot evict the new one.
type PresenceRegistry struct {
	mu          sync.RWMutex
	sessions    map[string]contract.Session // user id -> session
	connections map[string]domain.User      // connection id -> user
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		sessions:    make(map[string]contract.Session),
		connections: make(map[string]domain.User),
	}
}

// Registration reports what a join displaced.
type Registration struct {
	// Previous is the older connection of the same user, now forgotten.
	Previous contract.Connection
	// Displaced is the user conn was bound to before joining under another username.
	Displaced *domain.User
}

// Register binds conn to user. The latest join wins.
func (r *PresenceRegistry) Register(user domain.User, conn contract.Connection) Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Registration
	user.IsOnline = true
	previous, replaced := r.sessions[user.ID]
	if replaced {
		delete(r.connections, previous.Conn.ID())
		if previous.Conn.ID() != conn.ID() {
			res.Previous = previous.Conn
		}
	}
	if former, ok := r.connections[conn.ID()]; ok && former.ID != user.ID {
		if session, bound := r.sessions[former.ID]; bound && session.Conn.ID() == conn.ID() {
			delete(r.sessions, former.ID)
			res.Displaced = &former
		}
	}
	r.sessions[user.ID] = contract.Session{User: user, Conn: conn}
	r.connections[conn.ID()] = user
	return res
}

// Unregister forgets connID. The user session is released only when connID is
// still the one registered for userID, and the result reports that release.
func (r *PresenceRegistry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connections, connID)
	session, ok := r.sessions[userID]
	if !ok || session.Conn.ID() != connID {
		return false
	}
	delete(r.sessions, userID)
	return true
}

// UserFor returns the user who joined through connID.
func (r *PresenceRegistry) UserFor(connID string) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.connections[connID]
	return user, ok
}

// ListActive returns the users with a registered session, sorted by username.
func (r *PresenceRegistry) ListActive() []domain.User {
	r.mu.RLock()
	users := lo.MapToSlice(r.sessions, func(_ string, s contract.Session) domain.User { return s.User })
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// FindConnectionFor treats a closed transport the same as a missing entry.
func (r *PresenceRegistry) FindConnectionFor(userID string) (contract.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[userID]
	if !ok || session.Conn.Closed() {
		return nil, false
	}
	return session.Conn, true
}

// Sessions returns the sessions whose transport is still open.
func (r *PresenceRegistry) Sessions() []contract.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]contract.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !s.Conn.Closed() {
			res = append(res, s)
		}
	}
	return res
}

// Prune drops the sessions whose transport has closed without a disconnect
// being processed, and returns the released users.
func (r *PresenceRegistry) Prune() []domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released []domain.User
	for userID, s := range r.sessions {
		if !s.Conn.Closed() {
			continue
		}
		delete(r.sessions, userID)
		delete(r.connections, s.Conn.ID())
		released = append(released, s.User)
	}
	return released
}

func (r *PresenceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close forgets every session. Connections themselves are owned by the transport.
func (r *PresenceRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.sessions)
	clear(r.connections)
}
