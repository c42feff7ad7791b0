// Package domain contains core concepts of the chat system.
// This file defines the User entity. Users are created on first join and never deleted.
package domain

import "time"

// User is the durable record of a participant, keyed by a server-assigned id.
// IsOnline is the last known durable flag; live presence is tracked elsewhere.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}
