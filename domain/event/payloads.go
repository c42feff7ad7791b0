package event

import (
	"encoding/json"

	"ghost-chat/domain"
)

// Inbound payloads.

type JoinPayload struct {
	Username string `json:"username" validate:"required"`
}

type SendMessagePayload struct {
	GroupID    string             `json:"groupId" validate:"required"`
	Text       string             `json:"text" validate:"required_without=Attachment"`
	Attachment *domain.Attachment `json:"attachment,omitempty" validate:"omitempty"`
}

type MessageRefPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	GroupID   string `json:"groupId" validate:"required"`
}

type CreateGroupPayload struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"isPrivate"`
}

type GroupRefPayload struct {
	GroupID string `json:"groupId" validate:"required"`
}

type StartCallPayload struct {
	Type    domain.CallType `json:"type" validate:"required,oneof=audio video"`
	GroupID string          `json:"groupId" validate:"required"`
}

type CallRefPayload struct {
	CallID string `json:"callId" validate:"required"`
}

type CallSignalPayload struct {
	To     string          `json:"to" validate:"required"`
	Signal json.RawMessage `json:"signal"`
	CallID string          `json:"callId"`
}

// Outbound payloads.

type UserRef struct {
	UserID string `json:"userId"`
}

type MessageEncryptedPayload struct {
	MessageID string `json:"messageId"`
	GroupID   string `json:"groupId"`
}

type CallRef struct {
	CallID string `json:"callId"`
}

type RelayedSignal struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
	CallID string          `json:"callId"`
}

type Typing struct {
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
