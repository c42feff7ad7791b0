// Package event defines the real-time protocol exchanged with clients.
// Every frame is a JSON envelope {"type": ..., "payload": ...}.
package event

import (
	"encoding/json"
)

type Name string

// Inbound (client -> server).
const (
	Join              Name = "join"
	SendMessage       Name = "send-message"
	MarkMessageViewed Name = "mark-message-viewed"
	CreateGroup       Name = "create-group"
	JoinGroup         Name = "join-group"
	StartCall         Name = "start-call"
	AcceptCall        Name = "accept-call"
	EndCall           Name = "end-call"
	CallSignal        Name = "call-signal"
	TypingStart       Name = "typing-start"
	TypingStop        Name = "typing-stop"
)

// Outbound (server -> client).
const (
	GroupsUpdated    Name = "groups-updated"
	UsersUpdated     Name = "users-updated"
	UserConnected    Name = "user-connected"
	UserDisconnected Name = "user-disconnected"
	NewMessage       Name = "new-message"
	MessageEncrypted Name = "message-encrypted"
	CallRequest      Name = "call-request"
	CallAccepted     Name = "call-accepted"
	CallEnded        Name = "call-ended"
	Error            Name = "error"
)

// Inbound is a frame received from a client. The payload is decoded lazily
// once the dispatcher knows which event it carries.
type Inbound struct {
	Type    Name            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Outbound is a frame pushed to clients.
type Outbound struct {
	Type    Name `json:"type"`
	Payload any  `json:"payload"`
}

func New(name Name, payload any) Outbound {
	return Outbound{Type: name, Payload: payload}
}
