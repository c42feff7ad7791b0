package domain

import (
	"strings"
	"time"
)

// DefaultGroupID is the group that always exists and is never private.
const DefaultGroupID = "general"

type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsPrivate   bool      `json:"isPrivate"`
	Members     []string  `json:"members"`
	Messages    []Message `json:"messages"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewDefaultGroup builds the "general" group seeded into every fresh store.
func NewDefaultGroup(at time.Time) Group {
	return Group{
		ID:          DefaultGroupID,
		Name:        "General",
		Description: "General discussion for everyone",
		IsPrivate:   false,
		Members:     []string{},
		Messages:    []Message{},
		CreatedBy:   "system",
		CreatedAt:   at,
	}
}

// GroupIDFromName derives the group identifier from its display name:
// lowercased, every run of characters outside [a-z0-9] collapsed into a single
// hyphen, leading and trailing hyphens removed.
// An empty result means the name cannot identify a group.
func GroupIDFromName(name string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// HasMember reports whether userID belongs to the group.
func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}
