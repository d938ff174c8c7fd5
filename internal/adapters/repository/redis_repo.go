// Package repository implements data persistence adapters
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"social-inbox/internal/core/domain"
)

// Ensure RedisRepository implements SnapshotCache
var _ SnapshotCache = (*RedisRepository)(nil)

// DefaultSnapshotTTL bounds how long a cached snapshot can outlive its writer
const DefaultSnapshotTTL = 24 * time.Hour

// RedisRepository caches the latest canonical snapshot so restarts do not
// have to read every table
type RedisRepository struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisRepository creates a new Redis repository instance
func NewRedisRepository(client *redis.Client, namespace string, ttl time.Duration) *RedisRepository {
	if namespace == "" {
		namespace = "inbox"
	}
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisRepository{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
	}
}

// connectionRecord is the cached form of a Connection; unlike the API form it
// keeps the credentials
type connectionRecord struct {
	domain.Connection
	Credential        string `json:"credential"`
	BroaderCredential string `json:"broader_credential"`
}

type snapshotRecord struct {
	SavedAt       time.Time             `json:"saved_at"`
	Connections   []connectionRecord    `json:"connections"`
	Conversations []domain.Conversation `json:"conversations"`
	Messages      []domain.Message      `json:"messages"`
}

// LoadSnapshot returns the cached snapshot, or nil on a cache miss
func (r *RedisRepository) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	key := buildSnapshotKey(r.namespace)

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		slog.Debug("Snapshot cache miss", "key", key)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var rec snapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	snap := &domain.Snapshot{
		Connections:   make([]domain.Connection, 0, len(rec.Connections)),
		Conversations: rec.Conversations,
		Messages:      rec.Messages,
	}
	for _, c := range rec.Connections {
		conn := c.Connection
		conn.Credential = c.Credential
		conn.BroaderCredential = c.BroaderCredential
		snap.Connections = append(snap.Connections, conn)
	}

	slog.Debug("Snapshot cache hit",
		"key", key,
		"saved_at", rec.SavedAt,
		"messages", len(snap.Messages),
	)
	return snap, nil
}

// SaveSnapshot replaces the cached snapshot
func (r *RedisRepository) SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	rec := snapshotRecord{
		SavedAt:       time.Now(),
		Connections:   make([]connectionRecord, 0, len(snap.Connections)),
		Conversations: snap.Conversations,
		Messages:      snap.Messages,
	}
	for _, c := range snap.Connections {
		rec.Connections = append(rec.Connections, connectionRecord{
			Connection:        c,
			Credential:        c.Credential,
			BroaderCredential: c.BroaderCredential,
		})
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	key := buildSnapshotKey(r.namespace)
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		slog.Error("Failed to cache snapshot",
			"error", err,
			"key", key,
		)
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshot
func (r *RedisRepository) Invalidate(ctx context.Context) error {
	if err := r.client.Del(ctx, buildSnapshotKey(r.namespace)).Err(); err != nil {
		return fmt.Errorf("invalidate snapshot: %w", err)
	}
	return nil
}

// Ping checks the connection
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// buildSnapshotKey constructs the Redis key of the cached snapshot
func buildSnapshotKey(namespace string) string {
	return fmt.Sprintf("%s:state:snapshot", namespace)
}
