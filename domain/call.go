package domain

import "time"

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallAudio || t == CallVideo
}

type CallStatus string

const (
	CallPending CallStatus = "pending"
	CallActive  CallStatus = "active"
	CallEnded   CallStatus = "ended"
)

// CanTransitionTo enforces the monotonic lifecycle pending -> active -> ended.
// A pending call may end without ever being accepted. Nothing leaves ended.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	switch s {
	case CallPending:
		return next == CallActive || next == CallEnded
	case CallActive:
		return next == CallEnded
	default:
		return false
	}
}

type Call struct {
	ID           string     `json:"id"`
	Type         CallType   `json:"type"`
	GroupID      string     `json:"groupId"`
	Initiator    string     `json:"initiator"`
	Participants []string   `json:"participants"`
	Status       CallStatus `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
}
