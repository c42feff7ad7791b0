// Package chat holds the commands accepted by the REST collaborators.
package chat

type CreateGroupCommand struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"isPrivate"`
	CreatedBy   string `json:"createdBy" validate:"required"`
}

type JoinGroupCommand struct {
	GroupID string `json:"-"`
	UserID  string `json:"userId" validate:"required"`
}

// GetMessagesCommand pages a group history from the newest message backwards.
// Cursor is the opaque value returned with the previous page.
type GetMessagesCommand struct {
	GroupID string
	Cursor  *string
	Limit   int
}

type SearchMessagesCommand struct {
	GroupID string
	Query   string
	Limit   int
}

// ViewMessageCommand is the REST twin of the mark-message-viewed event.
// UserID is optional: without it the viewer is not recorded.
type ViewMessageCommand struct {
	MessageID string `json:"-"`
	GroupID   string `json:"groupId" validate:"required"`
	UserID    string `json:"userId"`
}
