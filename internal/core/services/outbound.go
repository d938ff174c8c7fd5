package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
	"social-inbox/internal/core/store"
)

// Outbound sends operator messages through the owning account and records
// them in the canonical store
type Outbound struct {
	store       *store.Store
	registry    *store.Registry
	credentials *CredentialManager
	adapters    map[domain.Platform]ports.PlatformAdapter
	now         func() time.Time
}

// NewOutbound creates the send path
func NewOutbound(
	s *store.Store,
	registry *store.Registry,
	credentials *CredentialManager,
	adapters map[domain.Platform]ports.PlatformAdapter,
) *Outbound {
	return &Outbound{
		store:       s,
		registry:    registry,
		credentials: credentials,
		adapters:    adapters,
		now:         time.Now,
	}
}

// SendMessage sends text into a conversation
func (o *Outbound) SendMessage(ctx context.Context, conversationID, text string) (domain.Message, error) {
	return o.send(ctx, conversationID, ports.OutboundPayload{Text: text})
}

// SendMedia sends an image by URL into a conversation
func (o *Outbound) SendMedia(ctx context.Context, conversationID, mediaURL string) (domain.Message, error) {
	return o.send(ctx, conversationID, ports.OutboundPayload{MediaURL: mediaURL})
}

// ReplyToMessage answers a specific received message and records the reply on it
func (o *Outbound) ReplyToMessage(ctx context.Context, platform domain.Platform, messageID, text string) (domain.Message, error) {
	original, ok := o.store.Message(platform, messageID)
	if !ok {
		return domain.Message{}, domain.ErrMessageNotFound
	}

	sent, err := o.send(ctx, original.ConversationID, ports.OutboundPayload{Text: text})
	if err != nil {
		return domain.Message{}, err
	}

	if err := o.store.RecordReply(ctx, platform, messageID, text, sent.Timestamp); err != nil {
		return sent, err
	}
	return sent, nil
}

func (o *Outbound) send(ctx context.Context, conversationID string, payload ports.OutboundPayload) (domain.Message, error) {
	conv, ok := o.store.FindConversation(conversationID)
	if !ok {
		return domain.Message{}, domain.ErrConversationNotFound
	}

	adapter, ok := o.adapters[conv.Platform]
	if !ok {
		return domain.Message{}, domain.ErrNoConnectedAccount
	}

	conn, ok := o.owningConnection(conv)
	if !ok {
		slog.Warn("No connected account for conversation",
			"platform", conv.Platform,
			"conversation_id", conv.ID,
			"account_id", conv.AccountID,
		)
		return domain.Message{}, domain.ErrNoConnectedAccount
	}

	payload.AccountID = conn.AccountID
	payload.RecipientID = conv.ParticipantID

	result, err := adapter.Send(ctx, conn.Credential, payload)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialInvalid) {
			o.credentials.Invalidate(conn.ID)
		}
		slog.Error("Failed to send message",
			"platform", conv.Platform,
			"conversation_id", conv.ID,
			"error", err,
		)
		return domain.Message{}, &domain.SendFailedError{Reason: err.Error(), Err: err}
	}

	msg := domain.Message{
		ID:             result.MessageID,
		Platform:       conv.Platform,
		ConversationID: conv.ID,
		SenderID:       conn.AccountID,
		SenderName:     firstNonEmpty(conn.DisplayName, conv.AccountName),
		Text:           payload.Text,
		Timestamp:      o.now(),
		Read:           true,
		Kind:           domain.MessageKindText,
		FromBusiness:   true,
		ClientID:       conv.ClientID,
	}
	if payload.MediaURL != "" {
		msg.Kind = domain.MessageKindImage
		msg.Attachments = []string{payload.MediaURL}
	}

	if _, err := o.store.AppendMessage(msg); err != nil {
		return domain.Message{}, err
	}
	o.store.RefreshSummary(conv.Platform, conv.ID)
	o.store.Persist(ctx)

	slog.Info("Message sent",
		"platform", conv.Platform,
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"kind", msg.Kind,
	)
	return msg, nil
}

// owningConnection picks the connected account that holds the conversation.
// Conversations without an account fall back to the platform's first connected one.
func (o *Outbound) owningConnection(conv domain.Conversation) (domain.Connection, bool) {
	if conv.AccountID != "" {
		conn, ok := o.registry.FindByAccount(conv.Platform, conv.AccountID)
		if !ok || !conn.Connected {
			return domain.Connection{}, false
		}
		return conn, true
	}

	connected := true
	conns := o.registry.List(store.Filter{Platform: conv.Platform, Connected: &connected})
	if len(conns) == 0 {
		return domain.Connection{}, false
	}
	return conns[0], true
}
