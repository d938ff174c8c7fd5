// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
	"social-inbox/internal/core/store"
)

// IngestResult summarises one webhook delivery
type IngestResult struct {
	Events   int `json:"events"`
	Appended int `json:"appended"`
	Skipped  int `json:"skipped"`
}

// Ingestor applies verified webhook deliveries to the canonical store using
// the same upsert-by-id merge as the sync orchestrator
type Ingestor struct {
	store    *store.Store
	registry *store.Registry
	adapters map[domain.Platform]ports.PlatformAdapter
	audit    ports.WebhookRepository
}

// NewIngestor creates a new ingestor; audit may be nil
func NewIngestor(
	s *store.Store,
	registry *store.Registry,
	adapters map[domain.Platform]ports.PlatformAdapter,
	audit ports.WebhookRepository,
) *Ingestor {
	return &Ingestor{
		store:    s,
		registry: registry,
		adapters: adapters,
		audit:    audit,
	}
}

// Ingest verifies, parses and merges one webhook delivery.
// The signature is checked before anything is parsed.
func (i *Ingestor) Ingest(ctx context.Context, platform domain.Platform, payload []byte, signature string) (IngestResult, error) {
	adapter, ok := i.adapters[platform]
	if !ok {
		return IngestResult{}, fmt.Errorf("no adapter for platform %s: %w", platform, domain.ErrUnsupported)
	}

	if !adapter.VerifyWebhookSignature(payload, signature) {
		slog.Warn("Webhook signature validation failed", "platform", platform)
		return IngestResult{}, domain.ErrSignatureInvalid
	}

	events, err := adapter.ParseWebhookPayload(payload)
	if err != nil {
		slog.Error("Failed to parse webhook payload", "platform", platform, "error", err)
		i.saveLog(platform, payload, err)
		return IngestResult{}, err
	}

	result := IngestResult{Events: len(events)}
	verified := make(map[string]bool)
	changed := false

	for _, ev := range events {
		if ev.AccountID != "" && !verified[ev.AccountID] {
			verified[ev.AccountID] = true
			if _, err := i.registry.EnsureFromWebhook(ctx, platform, ev.AccountID); err != nil {
				slog.Warn("Failed to record webhook account", "platform", platform, "account_id", ev.AccountID, "error", err)
			}
		}

		if ev.Kind != ports.EventMessage {
			// Delivery and read receipts carry nothing the canonical model tracks yet.
			slog.Debug("Skipping non-message webhook event", "platform", platform, "kind", ev.Kind)
			result.Skipped++
			continue
		}

		appended, err := i.applyMessage(platform, ev)
		if err != nil {
			slog.Error("Failed to apply webhook message",
				"platform", platform,
				"message_id", ev.MessageID,
				"error", err,
			)
			result.Skipped++
			continue
		}
		if appended {
			result.Appended++
			changed = true
		} else {
			result.Skipped++
		}
	}

	if changed {
		i.store.Persist(ctx)
	}
	i.saveLog(platform, payload, nil)

	slog.Info("Webhook processing completed",
		"platform", platform,
		"events", result.Events,
		"appended", result.Appended,
		"skipped", result.Skipped,
	)
	return result, nil
}

// applyMessage merges one message event. Panics are contained to the event.
func (i *Ingestor) applyMessage(platform domain.Platform, ev ports.WebhookEvent) (appended bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered while applying webhook message", "panic", r, "platform", platform)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if ev.MessageID == "" {
		return false, fmt.Errorf("message event without id")
	}

	fromBusiness := ev.SenderID == ev.AccountID
	counterpart := ev.SenderID
	if fromBusiness {
		counterpart = ev.RecipientID
	}

	conv := i.resolveConversation(platform, ev.AccountID, counterpart)

	msg := domain.Message{
		ID:             ev.MessageID,
		Platform:       platform,
		ConversationID: conv.ID,
		SenderID:       ev.SenderID,
		SenderName:     conv.ParticipantName,
		Text:           ev.Text,
		Timestamp:      time.UnixMilli(ev.TimestampMillis),
		Read:           fromBusiness,
		Attachments:    ports.URLsOf(ev.Attachments),
		Kind:           ev.MessageKind(),
		FromBusiness:   fromBusiness,
		ClientID:       conv.ClientID,
	}
	if fromBusiness {
		msg.SenderName = conv.AccountName
	} else {
		msg.SenderAvatar = conv.ParticipantAvatar
	}

	appended, err = i.store.AppendMessage(msg)
	if err != nil {
		return false, err
	}
	if appended {
		// Unread only moves for non-origin messages; the recount is derived from the collection.
		i.store.RefreshSummary(platform, conv.ID)
	}
	return appended, nil
}

// resolveConversation returns the conversation held by (platform, account,
// counterpart), creating one keyed "<account>_<counterpart>" when none exists.
func (i *Ingestor) resolveConversation(platform domain.Platform, accountID, counterpart string) domain.Conversation {
	accountName := accountID
	if conn, ok := i.registry.FindByAccount(platform, accountID); ok && conn.DisplayName != "" {
		accountName = conn.DisplayName
	}

	conv, _ := i.store.EnsureConversationForParticipant(domain.Conversation{
		ID:            conversationKey(accountID, counterpart),
		Platform:      platform,
		ParticipantID: counterpart,
		Active:        true,
		AccountID:     accountID,
		AccountName:   accountName,
	})
	return conv
}

func conversationKey(accountID, participantID string) string {
	return accountID + "_" + participantID
}

// saveLog writes the audit row without blocking the webhook response
func (i *Ingestor) saveLog(platform domain.Platform, payload []byte, procErr error) {
	if i.audit == nil {
		return
	}

	log := &domain.WebhookLog{
		Platform:  string(platform),
		Status:    domain.WebhookStatusProcessed,
		CreatedAt: time.Now(),
	}
	if json.Valid(payload) {
		log.PayloadJSON = json.RawMessage(payload)
	} else {
		quoted, _ := json.Marshal(string(payload))
		log.PayloadJSON = quoted
	}
	if procErr != nil {
		msg := procErr.Error()
		log.Status = domain.WebhookStatusFailed
		log.ErrorLog = &msg
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("PANIC in webhook log save", "panic", r)
			}
		}()

		if err := i.audit.SaveLog(context.Background(), log); err != nil {
			slog.Error("Failed to save webhook log (async)", "error", err)
		}
	}()
}
