package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"social-inbox/internal/core/domain"
)

// Filter narrows Registry.List. Zero values match everything.
type Filter struct {
	Platform  domain.Platform
	Connected *bool
}

// Registry is the durable set of connections. It is the only place
// credentials live. Every mutation persists before returning.
type Registry struct {
	store *Store
	now   func() time.Time
}

// NewRegistry creates a registry backed by the store's connection collection
func NewRegistry(s *Store) *Registry {
	return &Registry{
		store: s,
		now:   time.Now,
	}
}

// Add registers a connection. A placeholder opened by a webhook for the same
// (platform, account id) is claimed and filled in; any other existing
// connection for the pair is rejected with ErrConnectionExists.
func (r *Registry) Add(ctx context.Context, conn domain.Connection) (domain.Connection, error) {
	s := r.store
	s.mu.Lock()
	for _, id := range s.connOrder {
		existing := s.connections[id]
		if existing.Platform != conn.Platform || existing.AccountID != conn.AccountID {
			continue
		}
		if !isPlaceholder(existing) {
			s.mu.Unlock()
			return domain.Connection{}, domain.ErrConnectionExists
		}
		claim(existing, conn)
		out := copyConnection(existing)
		s.mu.Unlock()

		slog.Info("Webhook placeholder claimed",
			"connection_id", out.ID,
			"platform", out.Platform,
			"account_id", out.AccountID,
			"credential", domain.MaskSecret(out.Credential),
		)
		s.Persist(ctx)
		return out, nil
	}

	c := conn
	c.ID = uuid.NewString()
	c.CreatedAt = r.now()
	s.connections[c.ID] = &c
	s.connOrder = append(s.connOrder, c.ID)
	out := copyConnection(&c)
	s.mu.Unlock()

	slog.Info("Connection added",
		"connection_id", out.ID,
		"platform", out.Platform,
		"account_id", out.AccountID,
		"credential", domain.MaskSecret(out.Credential),
	)
	s.Persist(ctx)
	return out, nil
}

// Remove deletes a connection. Conversations are kept.
func (r *Registry) Remove(ctx context.Context, id string) error {
	s := r.store
	s.mu.Lock()
	if _, ok := s.connections[id]; !ok {
		s.mu.Unlock()
		return domain.ErrConnectionNotFound
	}
	delete(s.connections, id)
	for i, cid := range s.connOrder {
		if cid == id {
			s.connOrder = append(s.connOrder[:i], s.connOrder[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	slog.Info("Connection removed", "connection_id", id)
	s.deleteConnection(ctx, id)
	s.Persist(ctx)
	return nil
}

// Get returns one connection
func (r *Registry) Get(id string) (domain.Connection, bool) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.connections[id]
	if !ok {
		return domain.Connection{}, false
	}
	return copyConnection(c), true
}

// List returns connections matching f in registration order
func (r *Registry) List(f Filter) []domain.Connection {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Connection, 0, len(s.connOrder))
	for _, id := range s.connOrder {
		c := s.connections[id]
		if f.Platform != "" && c.Platform != f.Platform {
			continue
		}
		if f.Connected != nil && c.Connected != *f.Connected {
			continue
		}
		out = append(out, copyConnection(c))
	}
	return out
}

// FindByAccount returns the connection for a platform account
func (r *Registry) FindByAccount(platform domain.Platform, accountID string) (domain.Connection, bool) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.connOrder {
		c := s.connections[id]
		if c.Platform == platform && c.AccountID == accountID {
			return copyConnection(c), true
		}
	}
	return domain.Connection{}, false
}

// UpdateCredential rotates the account-level credential
func (r *Registry) UpdateCredential(ctx context.Context, id, credential string) error {
	return r.mutate(ctx, id, func(c *domain.Connection) {
		c.Credential = credential
	})
}

// SetBroaderCredential stores the user-level credential used for derivation
func (r *Registry) SetBroaderCredential(ctx context.Context, id, credential string) error {
	return r.mutate(ctx, id, func(c *domain.Connection) {
		c.BroaderCredential = credential
	})
}

// SetConnected flips the connected flag
func (r *Registry) SetConnected(ctx context.Context, id string, connected bool) error {
	return r.mutate(ctx, id, func(c *domain.Connection) {
		c.Connected = connected
	})
}

// SetLastSync records the last successful sync time
func (r *Registry) SetLastSync(ctx context.Context, id string, at time.Time) error {
	return r.mutate(ctx, id, func(c *domain.Connection) {
		t := at
		c.LastSyncAt = &t
	})
}

// SetWebhookVerified records whether the platform has proven webhook delivery
func (r *Registry) SetWebhookVerified(ctx context.Context, id string, verified bool) error {
	return r.mutate(ctx, id, func(c *domain.Connection) {
		c.WebhookVerified = verified
	})
}

// EnsureFromWebhook marks the account's connection as webhook-verified, creating
// a disconnected placeholder when the account is not registered yet.
func (r *Registry) EnsureFromWebhook(ctx context.Context, platform domain.Platform, accountID string) (domain.Connection, error) {
	if conn, ok := r.FindByAccount(platform, accountID); ok {
		if conn.WebhookVerified {
			return conn, nil
		}
		if err := r.SetWebhookVerified(ctx, conn.ID, true); err != nil {
			return domain.Connection{}, err
		}
		conn.WebhookVerified = true
		return conn, nil
	}

	conn, err := r.Add(ctx, domain.Connection{
		Platform:        platform,
		AccountID:       accountID,
		DisplayName:     accountID,
		Connected:       false,
		WebhookVerified: true,
	})
	if err == domain.ErrConnectionExists {
		// An operator registered the account in the meantime.
		conn, _ = r.FindByAccount(platform, accountID)
		return conn, nil
	}
	return conn, err
}

func (r *Registry) mutate(ctx context.Context, id string, fn func(c *domain.Connection)) error {
	s := r.store
	s.mu.Lock()
	c, ok := s.connections[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrConnectionNotFound
	}
	fn(c)
	s.mu.Unlock()

	s.Persist(ctx)
	return nil
}

// isPlaceholder reports whether c was opened by a webhook and never set up
// by an operator
func isPlaceholder(c *domain.Connection) bool {
	return c.WebhookVerified && !c.Connected && c.Credential == "" && c.BroaderCredential == ""
}

// claim fills a placeholder with an operator's registration. Identity,
// creation time and webhook state are kept.
func claim(dst *domain.Connection, src domain.Connection) {
	if src.DisplayName != "" {
		dst.DisplayName = src.DisplayName
	}
	dst.Credential = src.Credential
	dst.BroaderCredential = src.BroaderCredential
	dst.Connected = src.Connected
}
