package ports

import (
	"context"
	"time"

	"social-inbox/internal/core/domain"
)

// PlatformAdapter translates one external platform into primitive field sets.
// Implementations hold no shared state beyond their HTTP client.
type PlatformAdapter interface {
	Platform() domain.Platform

	// ValidateCredential asks the platform whether a credential is usable.
	// A non-nil error means the check itself failed (network, malformed response).
	ValidateCredential(ctx context.Context, credential string) (CredentialCheck, error)

	// DeriveCredential recovers an account-level credential from a user-level one
	DeriveCredential(ctx context.Context, broader, accountID string) (string, error)

	// RefreshCredential exchanges a credential nearing or past expiry for a new one
	RefreshCredential(ctx context.Context, credential string) (string, error)

	// ListThreads returns every conversation of an account; paging is hidden
	ListThreads(ctx context.Context, credential, accountID string) ([]NativeThread, error)

	// ListMessages returns a thread's messages oldest-first
	ListMessages(ctx context.Context, credential, threadID string) ([]NativeMessage, error)

	// FetchProfile is best-effort; callers must not abort on error
	FetchProfile(ctx context.Context, credential, participantID string) (Profile, error)

	Send(ctx context.Context, credential string, payload OutboundPayload) (SendResult, error)

	// VerifyWebhookSignature checks a keyed hash over the raw payload bytes
	VerifyWebhookSignature(payload []byte, signatureHeader string) bool

	ParseWebhookPayload(payload []byte) ([]WebhookEvent, error)
}

// CredentialCheck is the outcome of a credential introspection
type CredentialCheck struct {
	Valid   bool
	Expired bool
	Reason  string
}

// NativeParticipant is one listed member of a platform thread
type NativeParticipant struct {
	ID   string
	Name string
}

// NativeThread is a platform conversation record
type NativeThread struct {
	ID           string
	Participants []NativeParticipant
	Snippet      string
	UpdatedAt    time.Time
}

// NativeAttachment is one media item of a platform message
type NativeAttachment struct {
	Kind domain.MessageKind
	URL  string
}

// NativeMessage is a platform message record
type NativeMessage struct {
	ID          string
	SenderID    string
	SenderName  string
	RecipientID string
	Text        string
	CreatedAt   time.Time
	Attachments []NativeAttachment
}

// Kind derives the canonical message kind from the first attachment
func (m NativeMessage) Kind() domain.MessageKind {
	return KindOf(m.Attachments)
}

// URLs returns attachment URLs in platform order
func (m NativeMessage) URLs() []string {
	return URLsOf(m.Attachments)
}

// Profile is a participant's public profile
type Profile struct {
	DisplayName string
	AvatarURL   string
}

// OutboundPayload is either a text body or a media URL
type OutboundPayload struct {
	AccountID   string
	RecipientID string
	Text        string
	MediaURL    string
}

// SendResult carries the platform-confirmed message id
type SendResult struct {
	MessageID string
}

// EventKind classifies a normalized webhook event
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventDelivery EventKind = "delivery"
	EventRead     EventKind = "read"
)

// WebhookEvent is a platform push event normalized by an adapter
type WebhookEvent struct {
	Kind            EventKind
	AccountID       string
	SenderID        string
	RecipientID     string
	TimestampMillis int64
	Text            string
	MessageID       string
	Attachments     []NativeAttachment
}

// MessageKind derives the canonical message kind from the first attachment
func (e WebhookEvent) MessageKind() domain.MessageKind {
	return KindOf(e.Attachments)
}

// KindOf returns the kind of the first attachment, or text when there is none
func KindOf(attachments []NativeAttachment) domain.MessageKind {
	if len(attachments) > 0 && attachments[0].Kind != "" {
		return attachments[0].Kind
	}
	return domain.MessageKindText
}

// URLsOf collects attachment URLs, skipping empty ones
func URLsOf(attachments []NativeAttachment) []string {
	urls := make([]string, 0, len(attachments))
	for _, a := range attachments {
		if a.URL != "" {
			urls = append(urls, a.URL)
		}
	}
	return urls
}
