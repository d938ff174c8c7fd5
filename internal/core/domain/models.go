// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"encoding/json"
	"time"
)

// Platform identifies an external messaging platform
type Platform string

const (
	// PlatformFacebook is the page-based platform (Messenger)
	PlatformFacebook Platform = "facebook"

	// PlatformInstagram is the business-account-based platform
	PlatformInstagram Platform = "instagram"
)

// Platforms lists every supported platform in a stable order
var Platforms = []Platform{PlatformFacebook, PlatformInstagram}

// Valid reports whether p is a supported platform
func (p Platform) Valid() bool {
	switch p {
	case PlatformFacebook, PlatformInstagram:
		return true
	}
	return false
}

// MessageKind constants
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindVideo MessageKind = "video"
	MessageKindAudio MessageKind = "audio"
	MessageKindFile  MessageKind = "file"
)

// MediaPlaceholder is shown as a conversation's last message when the
// latest message carries attachments but no text
const MediaPlaceholder = "media message"

// Connection links this system to one external platform account.
// Credentials never leave the process through JSON.
type Connection struct {
	ID                string     `json:"id"`
	Platform          Platform   `json:"platform"`
	AccountID         string     `json:"account_id"`
	DisplayName       string     `json:"display_name"`
	Credential        string     `json:"-"`
	BroaderCredential string     `json:"-"` // user-level token the account token can be derived from
	Connected         bool       `json:"connected"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	WebhookVerified   bool       `json:"webhook_verified"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Conversation is one thread with one external participant on one platform
type Conversation struct {
	ID                string    `json:"id"`
	Platform          Platform  `json:"platform"`
	ParticipantID     string    `json:"participant_id"`
	ParticipantName   string    `json:"participant_name"`
	ParticipantAvatar string    `json:"participant_avatar,omitempty"`
	LastMessage       string    `json:"last_message"`
	LastMessageAt     time.Time `json:"last_message_at"`
	UnreadCount       int       `json:"unread_count"`
	Active            bool      `json:"active"`
	AccountID         string    `json:"account_id,omitempty"`
	AccountName       string    `json:"account_name,omitempty"`
	ClientID          string    `json:"client_id,omitempty"`
	MessageIDs        []string  `json:"message_ids"`
}

// Message is one unit of communication within a Conversation
type Message struct {
	ID             string      `json:"id"`
	Platform       Platform    `json:"platform"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	SenderName     string      `json:"sender_name"`
	SenderAvatar   string      `json:"sender_avatar,omitempty"`
	Text           string      `json:"text"`
	Timestamp      time.Time   `json:"timestamp"`
	Read           bool        `json:"read"`
	Replied        bool        `json:"replied"`
	ReplyText      string      `json:"reply_text,omitempty"`
	RepliedAt      *time.Time  `json:"replied_at,omitempty"`
	Attachments    []string    `json:"attachments"`
	Kind           MessageKind `json:"kind"`
	FromBusiness   bool        `json:"from_business"` // origin flag: true when sent by the business
	ClientID       string      `json:"client_id,omitempty"`
}

// Summary returns the text shown as a conversation's last message
func (m *Message) Summary() string {
	if m.Text != "" {
		return m.Text
	}
	if len(m.Attachments) > 0 {
		return MediaPlaceholder
	}
	return ""
}

// Snapshot is the full canonical state exchanged with the persistence bridge.
// Messages are kept in append order.
type Snapshot struct {
	Connections   []Connection   `json:"connections"`
	Conversations []Conversation `json:"conversations"`
	Messages      []Message      `json:"messages"`
}

// WebhookLog represents the audit trail for incoming webhook events
type WebhookLog struct {
	ID          int64           `json:"id" db:"id"`
	Platform    string          `json:"platform" db:"platform"`
	PayloadJSON json.RawMessage `json:"payload_json" db:"payload_json"`
	Status      string          `json:"status" db:"status"` // "processed", "failed"
	ErrorLog    *string         `json:"error_log,omitempty" db:"error_log"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// WebhookStatus constants for lifecycle management
const (
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
)

// ClientDraft is a best-effort guess of client details for the external CRM
type ClientDraft struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// MaskSecret renders a credential for logs without exposing it
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

// InboxEventType names a change pushed to live dashboard clients
type InboxEventType string

const (
	EventMessageAppended  InboxEventType = "message.appended"
	EventConversationRead InboxEventType = "conversation.read"
)

// InboxEvent is a best-effort notification; clients re-read state from the API
type InboxEvent struct {
	Type           InboxEventType `json:"type"`
	Platform       Platform       `json:"platform"`
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id,omitempty"`
	FromBusiness   bool           `json:"from_business,omitempty"`
	At             time.Time      `json:"at"`
}
