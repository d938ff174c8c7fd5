package repository

import (
	"context"
	"fmt"
	"log/slog"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
)

// SnapshotCache is a fast read-through copy of the canonical state
type SnapshotCache interface {
	LoadSnapshot(ctx context.Context) (*domain.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error
	Invalidate(ctx context.Context) error
}

var _ ports.StateBridge = (*Bridge)(nil)

// Bridge combines the durable store and the snapshot cache.
// Either side may be nil; with both nil the bridge is a no-op.
type Bridge struct {
	db    ports.StateBridge
	cache SnapshotCache
}

// NewBridge creates the persistence bridge handed to the store
func NewBridge(db ports.StateBridge, cache SnapshotCache) *Bridge {
	return &Bridge{db: db, cache: cache}
}

// LoadState prefers the cache and falls back to the database, warming the
// cache on the way out
func (b *Bridge) LoadState(ctx context.Context) (*domain.Snapshot, error) {
	if b.cache != nil {
		snap, err := b.cache.LoadSnapshot(ctx)
		if err != nil {
			slog.Warn("Snapshot cache unavailable, reading database", "error", err)
		} else if snap != nil {
			return snap, nil
		}
	}

	if b.db == nil {
		return &domain.Snapshot{}, nil
	}

	snap, err := b.db.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	if b.cache != nil {
		if err := b.cache.SaveSnapshot(ctx, snap); err != nil {
			slog.Warn("Failed to warm snapshot cache", "error", err)
		}
	}
	return snap, nil
}

// SaveState writes the database first; a cache that cannot be refreshed is
// dropped so the next load does not return stale state
func (b *Bridge) SaveState(ctx context.Context, snap *domain.Snapshot) error {
	if b.db != nil {
		if err := b.db.SaveState(ctx, snap); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
	}

	if b.cache == nil {
		return nil
	}
	if err := b.cache.SaveSnapshot(ctx, snap); err != nil {
		b.dropCache(ctx)
		if b.db == nil {
			return fmt.Errorf("save state: %w", err)
		}
	}
	return nil
}

// DeleteConnection removes a connection from the database. The cache is
// rewritten by the save that follows every registry removal.
func (b *Bridge) DeleteConnection(ctx context.Context, id string) error {
	if b.db == nil {
		return nil
	}
	if err := b.db.DeleteConnection(ctx, id); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

func (b *Bridge) dropCache(ctx context.Context) {
	if err := b.cache.Invalidate(ctx); err != nil {
		slog.Error("Failed to invalidate snapshot cache", "error", err)
	}
}
