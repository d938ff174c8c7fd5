// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"social-inbox/internal/core/domain"
)

// StateBridge mirrors the canonical state to durable storage
// LoadState is called once on process start, SaveState after every mutation
type StateBridge interface {
	// LoadState rehydrates connections, conversations and messages
	LoadState(ctx context.Context) (*domain.Snapshot, error)

	// SaveState upserts a full snapshot of the canonical state.
	// Rows missing from the snapshot are left alone.
	SaveState(ctx context.Context, snapshot *domain.Snapshot) error

	// DeleteConnection removes one registered connection and its credentials
	DeleteConnection(ctx context.Context, id string) error
}

// WebhookRepository handles persistence of webhook audit logs
type WebhookRepository interface {
	// SaveLog persists a webhook event to the audit log
	SaveLog(ctx context.Context, log *domain.WebhookLog) error
}

// WebhookLogPurger removes old audit rows when disk space runs low
type WebhookLogPurger interface {
	PurgeWebhookLogs(ctx context.Context, olderThan time.Duration, limit int) (int64, error)
}

// EventPublisher fans inbox changes out to live clients.
// Publish must not block; events may be dropped.
type EventPublisher interface {
	Publish(event domain.InboxEvent)
}
