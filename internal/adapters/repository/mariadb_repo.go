// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
)

// Ensure MariaDBRepository implements the required interfaces
var (
	_ ports.StateBridge       = (*MariaDBRepository)(nil)
	_ ports.WebhookRepository = (*MariaDBRepository)(nil)
	_ ports.WebhookLogPurger  = (*MariaDBRepository)(nil)
)

// MariaDBRepository is the durable store behind the persistence bridge
type MariaDBRepository struct {
	db *sql.DB
}

// NewMariaDBRepository creates a new MariaDB repository instance
func NewMariaDBRepository(db *sql.DB) *MariaDBRepository {
	return &MariaDBRepository{
		db: db,
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS connections (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		platform VARCHAR(16) NOT NULL,
		account_id VARCHAR(64) NOT NULL,
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		credential TEXT NOT NULL,
		broader_credential TEXT NOT NULL,
		connected TINYINT(1) NOT NULL DEFAULT 0,
		last_sync_at DATETIME(3) NULL,
		webhook_verified TINYINT(1) NOT NULL DEFAULT 0,
		created_at DATETIME(3) NOT NULL,
		UNIQUE KEY uq_platform_account (platform, account_id)
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		platform VARCHAR(16) NOT NULL,
		id VARCHAR(128) NOT NULL,
		participant_id VARCHAR(64) NOT NULL DEFAULT '',
		participant_name VARCHAR(255) NOT NULL DEFAULT '',
		participant_avatar TEXT NOT NULL,
		last_message TEXT NOT NULL,
		last_message_at DATETIME(3) NOT NULL,
		unread_count INT NOT NULL DEFAULT 0,
		active TINYINT(1) NOT NULL DEFAULT 1,
		account_id VARCHAR(64) NOT NULL DEFAULT '',
		account_name VARCHAR(255) NOT NULL DEFAULT '',
		client_id VARCHAR(64) NOT NULL DEFAULT '',
		seq BIGINT NOT NULL,
		PRIMARY KEY (platform, id),
		KEY idx_participant (platform, account_id, participant_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		platform VARCHAR(16) NOT NULL,
		id VARCHAR(191) NOT NULL,
		conversation_id VARCHAR(128) NOT NULL,
		sender_id VARCHAR(64) NOT NULL DEFAULT '',
		sender_name VARCHAR(255) NOT NULL DEFAULT '',
		sender_avatar TEXT NOT NULL,
		text TEXT NOT NULL,
		sent_at DATETIME(3) NOT NULL,
		is_read TINYINT(1) NOT NULL DEFAULT 0,
		replied TINYINT(1) NOT NULL DEFAULT 0,
		reply_text TEXT NOT NULL,
		replied_at DATETIME(3) NULL,
		attachments JSON NOT NULL,
		kind VARCHAR(16) NOT NULL,
		from_business TINYINT(1) NOT NULL DEFAULT 0,
		client_id VARCHAR(64) NOT NULL DEFAULT '',
		seq BIGINT NOT NULL,
		PRIMARY KEY (platform, id),
		KEY idx_conversation (platform, conversation_id)
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_logs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		platform VARCHAR(16) NOT NULL,
		payload_json JSON NOT NULL,
		status VARCHAR(16) NOT NULL,
		error_log TEXT NULL,
		created_at DATETIME(3) NOT NULL,
		KEY idx_created_at (created_at)
	)`,
}

// EnsureSchema creates the tables if they do not exist
func (r *MariaDBRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ============================================================================
// StateBridge Implementation
// ============================================================================

// LoadState reads the full canonical state in append order
func (r *MariaDBRepository) LoadState(ctx context.Context) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{}

	conns, err := r.loadConnections(ctx)
	if err != nil {
		return nil, err
	}
	snap.Connections = conns

	convs, err := r.loadConversations(ctx)
	if err != nil {
		return nil, err
	}
	snap.Conversations = convs

	msgs, err := r.loadMessages(ctx)
	if err != nil {
		return nil, err
	}
	snap.Messages = msgs

	return snap, nil
}

func (r *MariaDBRepository) loadConnections(ctx context.Context) ([]domain.Connection, error) {
	query := `
		SELECT id, platform, account_id, display_name, credential, broader_credential,
			   connected, last_sync_at, webhook_verified, created_at
		FROM connections
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	defer rows.Close()

	var out []domain.Connection
	for rows.Next() {
		var (
			c        domain.Connection
			platform string
			lastSync sql.NullTime
		)
		if err := rows.Scan(
			&c.ID, &platform, &c.AccountID, &c.DisplayName, &c.Credential, &c.BroaderCredential,
			&c.Connected, &lastSync, &c.WebhookVerified, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		c.Platform = domain.Platform(platform)
		if lastSync.Valid {
			t := lastSync.Time
			c.LastSyncAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *MariaDBRepository) loadConversations(ctx context.Context) ([]domain.Conversation, error) {
	query := `
		SELECT platform, id, participant_id, participant_name, participant_avatar,
			   last_message, last_message_at, unread_count, active,
			   account_id, account_name, client_id
		FROM conversations
		ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		var (
			c        domain.Conversation
			platform string
		)
		if err := rows.Scan(
			&platform, &c.ID, &c.ParticipantID, &c.ParticipantName, &c.ParticipantAvatar,
			&c.LastMessage, &c.LastMessageAt, &c.UnreadCount, &c.Active,
			&c.AccountID, &c.AccountName, &c.ClientID,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.Platform = domain.Platform(platform)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *MariaDBRepository) loadMessages(ctx context.Context) ([]domain.Message, error) {
	query := `
		SELECT platform, id, conversation_id, sender_id, sender_name, sender_avatar,
			   text, sent_at, is_read, replied, reply_text, replied_at,
			   attachments, kind, from_business, client_id
		FROM messages
		ORDER BY seq
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			m           domain.Message
			platform    string
			kind        string
			repliedAt   sql.NullTime
			attachments []byte
		)
		if err := rows.Scan(
			&platform, &m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.SenderAvatar,
			&m.Text, &m.Timestamp, &m.Read, &m.Replied, &m.ReplyText, &repliedAt,
			&attachments, &kind, &m.FromBusiness, &m.ClientID,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Platform = domain.Platform(platform)
		m.Kind = domain.MessageKind(kind)
		if repliedAt.Valid {
			t := repliedAt.Time
			m.RepliedAt = &t
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
				slog.Warn("Dropping unreadable attachments",
					"platform", platform,
					"message_id", m.ID,
					"error", err,
				)
				m.Attachments = nil
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveState upserts the whole snapshot in one transaction. Nothing is
// deleted; removed connections go through DeleteConnection.
func (r *MariaDBRepository) SaveState(ctx context.Context, snap *domain.Snapshot) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save state: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("Failed to roll back state save", "error", rbErr)
			}
		}
	}()

	if err = saveConnections(ctx, tx, snap.Connections); err != nil {
		return err
	}
	if err = saveConversations(ctx, tx, snap.Conversations); err != nil {
		return err
	}
	if err = saveMessages(ctx, tx, snap.Messages); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save state: %w", err)
	}

	slog.Debug("Canonical state saved",
		"connections", len(snap.Connections),
		"conversations", len(snap.Conversations),
		"messages", len(snap.Messages),
	)
	return nil
}

func saveConnections(ctx context.Context, tx *sql.Tx, conns []domain.Connection) error {
	query := `
		INSERT INTO connections (
			id, platform, account_id, display_name, credential, broader_credential,
			connected, last_sync_at, webhook_verified, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			display_name = VALUES(display_name),
			credential = VALUES(credential),
			broader_credential = VALUES(broader_credential),
			connected = VALUES(connected),
			last_sync_at = VALUES(last_sync_at),
			webhook_verified = VALUES(webhook_verified)
	`
	for _, c := range conns {
		if _, err := tx.ExecContext(ctx, query,
			c.ID, string(c.Platform), c.AccountID, c.DisplayName, c.Credential, c.BroaderCredential,
			c.Connected, nullTime(c.LastSyncAt), c.WebhookVerified, c.CreatedAt,
		); err != nil {
			return fmt.Errorf("save connection %s: %w", c.ID, err)
		}
	}
	return nil
}

// DeleteConnection removes a connection row. A missing row is not an error.
func (r *MariaDBRepository) DeleteConnection(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete connection %s: %w", id, err)
	}
	slog.Info("Connection row deleted", "connection_id", id)
	return nil
}

func saveConversations(ctx context.Context, tx *sql.Tx, convs []domain.Conversation) error {
	query := `
		INSERT INTO conversations (
			platform, id, participant_id, participant_name, participant_avatar,
			last_message, last_message_at, unread_count, active,
			account_id, account_name, client_id, seq
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			participant_name = VALUES(participant_name),
			participant_avatar = VALUES(participant_avatar),
			last_message = VALUES(last_message),
			last_message_at = VALUES(last_message_at),
			unread_count = VALUES(unread_count),
			active = VALUES(active),
			account_id = VALUES(account_id),
			account_name = VALUES(account_name),
			client_id = VALUES(client_id)
	`
	for i, c := range convs {
		if _, err := tx.ExecContext(ctx, query,
			string(c.Platform), c.ID, c.ParticipantID, c.ParticipantName, c.ParticipantAvatar,
			c.LastMessage, c.LastMessageAt, c.UnreadCount, c.Active,
			c.AccountID, c.AccountName, c.ClientID, i,
		); err != nil {
			return fmt.Errorf("save conversation %s: %w", c.ID, err)
		}
	}
	return nil
}

// saveMessages never rewrites message identity or content, only the mutable flags
func saveMessages(ctx context.Context, tx *sql.Tx, msgs []domain.Message) error {
	query := `
		INSERT INTO messages (
			platform, id, conversation_id, sender_id, sender_name, sender_avatar,
			text, sent_at, is_read, replied, reply_text, replied_at,
			attachments, kind, from_business, client_id, seq
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			is_read = VALUES(is_read),
			replied = VALUES(replied),
			reply_text = VALUES(reply_text),
			replied_at = VALUES(replied_at),
			client_id = VALUES(client_id)
	`
	for i, m := range msgs {
		attachments := m.Attachments
		if attachments == nil {
			attachments = []string{}
		}
		data, err := json.Marshal(attachments)
		if err != nil {
			return fmt.Errorf("marshal attachments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			string(m.Platform), m.ID, m.ConversationID, m.SenderID, m.SenderName, m.SenderAvatar,
			m.Text, m.Timestamp, m.Read, m.Replied, m.ReplyText, nullTime(m.RepliedAt),
			string(data), string(m.Kind), m.FromBusiness, m.ClientID, i,
		); err != nil {
			return fmt.Errorf("save message %s: %w", m.ID, err)
		}
	}
	return nil
}

// ============================================================================
// WebhookRepository Implementation
// ============================================================================

// SaveLog persists a webhook event to the audit log
func (r *MariaDBRepository) SaveLog(ctx context.Context, log *domain.WebhookLog) error {
	query := `
		INSERT INTO webhook_logs (platform, payload_json, status, error_log, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		log.Platform,
		string(log.PayloadJSON),
		log.Status,
		log.ErrorLog,
		log.CreatedAt,
	)
	if err != nil {
		slog.Error("Failed to save webhook log",
			"error", err,
			"platform", log.Platform,
		)
		return fmt.Errorf("save webhook log: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		log.ID = id
	}

	slog.Debug("Webhook log saved",
		"platform", log.Platform,
		"status", log.Status,
	)
	return nil
}

// PurgeWebhookLogs deletes up to limit audit rows older than olderThan
func (r *MariaDBRepository) PurgeWebhookLogs(ctx context.Context, olderThan time.Duration, limit int) (int64, error) {
	query := `
		DELETE FROM webhook_logs
		WHERE created_at < ?
		LIMIT ?
	`

	result, err := r.db.ExecContext(ctx, query, time.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("purge webhook logs: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// ============================================================================
// Helpers
// ============================================================================

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
