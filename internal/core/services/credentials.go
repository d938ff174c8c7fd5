package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
	"social-inbox/internal/core/store"
)

// DefaultValidationTTL is how long a successful validation is trusted
const DefaultValidationTTL = 30 * time.Minute

// CredentialManager validates connection credentials lazily before use and
// walks the refresh/derivation recovery paths when the platform rejects them.
//
//	VALID        -> used as-is (validated within ttl)
//	UNKNOWN      -> validate
//	  valid           -> VALID
//	  invalid:expired -> refresh, then derive from the broader credential, else DISCONNECTED
//	  invalid:other   -> derive, else DISCONNECTED
//	DISCONNECTED -> connected=false, ErrDisconnected
type CredentialManager struct {
	registry *store.Registry
	adapters map[domain.Platform]ports.PlatformAdapter
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	validated map[string]validation
}

type validation struct {
	credential string
	at         time.Time
}

// NewCredentialManager creates a manager; ttl <= 0 uses DefaultValidationTTL
func NewCredentialManager(registry *store.Registry, adapters map[domain.Platform]ports.PlatformAdapter, ttl time.Duration) *CredentialManager {
	if ttl <= 0 {
		ttl = DefaultValidationTTL
	}
	return &CredentialManager{
		registry:  registry,
		adapters:  adapters,
		ttl:       ttl,
		now:       time.Now,
		validated: make(map[string]validation),
	}
}

// Ensure returns a usable credential for conn. It returns ErrDisconnected after
// marking the connection disconnected, or an ErrTransient-wrapped error when the
// platform could not be asked (the connection is left as is).
func (m *CredentialManager) Ensure(ctx context.Context, conn domain.Connection) (string, error) {
	if m.isValid(conn) {
		return conn.Credential, nil
	}

	adapter, ok := m.adapters[conn.Platform]
	if !ok {
		return "", fmt.Errorf("no adapter for platform %s: %w", conn.Platform, domain.ErrUnsupported)
	}

	check, err := adapter.ValidateCredential(ctx, conn.Credential)
	if err != nil {
		slog.Warn("Credential validation unavailable",
			"connection_id", conn.ID,
			"platform", conn.Platform,
			"error", err,
		)
		return "", fmt.Errorf("validate credential: %w", asTransient(err))
	}

	if check.Valid {
		m.markValid(conn.ID, conn.Credential)
		return conn.Credential, nil
	}

	slog.Warn("Credential rejected by platform",
		"connection_id", conn.ID,
		"platform", conn.Platform,
		"expired", check.Expired,
		"reason", check.Reason,
		"credential", domain.MaskSecret(conn.Credential),
	)

	if check.Expired {
		refreshed, err := adapter.RefreshCredential(ctx, conn.Credential)
		if err == nil && refreshed != "" {
			return m.adopt(ctx, conn, refreshed, "refresh")
		}
		slog.Warn("Credential refresh failed",
			"connection_id", conn.ID,
			"error", err,
		)
	}

	if conn.BroaderCredential != "" {
		derived, err := adapter.DeriveCredential(ctx, conn.BroaderCredential, conn.AccountID)
		if err == nil && derived != "" {
			return m.adopt(ctx, conn, derived, "derive")
		}
		slog.Warn("Credential derivation failed",
			"connection_id", conn.ID,
			"error", err,
		)
	}

	return "", m.disconnect(ctx, conn)
}

// Invalidate forgets a cached validation so the next Ensure asks the platform again
func (m *CredentialManager) Invalidate(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.validated, connectionID)
}

func (m *CredentialManager) isValid(conn domain.Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.validated[conn.ID]
	if !ok || v.credential != conn.Credential {
		return false
	}
	return m.now().Sub(v.at) < m.ttl
}

func (m *CredentialManager) markValid(connectionID, credential string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validated[connectionID] = validation{credential: credential, at: m.now()}
}

func (m *CredentialManager) adopt(ctx context.Context, conn domain.Connection, credential, via string) (string, error) {
	if err := m.registry.UpdateCredential(ctx, conn.ID, credential); err != nil {
		return "", fmt.Errorf("store recovered credential: %w", err)
	}
	m.markValid(conn.ID, credential)

	slog.Info("Credential recovered",
		"connection_id", conn.ID,
		"platform", conn.Platform,
		"via", via,
		"credential", domain.MaskSecret(credential),
	)
	return credential, nil
}

func (m *CredentialManager) disconnect(ctx context.Context, conn domain.Connection) error {
	m.Invalidate(conn.ID)
	if err := m.registry.SetConnected(ctx, conn.ID, false); err != nil {
		slog.Error("Failed to mark connection disconnected",
			"connection_id", conn.ID,
			"error", err,
		)
	}

	slog.Warn("Connection disconnected - operator must re-authorize",
		"connection_id", conn.ID,
		"platform", conn.Platform,
		"account_id", conn.AccountID,
	)
	return fmt.Errorf("connection %s: %w", conn.ID, domain.ErrDisconnected)
}

func asTransient(err error) error {
	if errors.Is(err, domain.ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTransient, err)
}
