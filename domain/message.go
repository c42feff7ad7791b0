// Package domain contains core concepts of the chat system.
// This file defines Message entities and the redaction rule.
// Once redacted, a message text is masked and never reverts.
package domain

import "time"

// Attachment references a file previously stored by the upload endpoint.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url" validate:"required"`
	FileName string `json:"fileName,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Message is appended to a group and never removed.
// SenderInfo is a snapshot taken at send time, not a live link to the User.
type Message struct {
	ID          string      `json:"id"`
	GroupID     string      `json:"groupId"`
	Sender      string      `json:"sender"`
	SenderInfo  User        `json:"senderInfo"`
	Text        string      `json:"text"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	Language    string      `json:"language,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	IsEncrypted bool        `json:"isEncrypted"`
	EncryptedAt *time.Time  `json:"encryptedAt,omitempty"`
	ViewedBy    []string    `json:"viewedBy"`
}

// MessageDraft carries what a sender provides. The store assigns the rest.
type MessageDraft struct {
	Sender     string
	SenderInfo User
	Text       string
	Attachment *Attachment
	Language   string
}
