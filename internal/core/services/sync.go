package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
	"social-inbox/internal/core/store"
)

// SyncOrchestrator pulls conversations and messages from every connected
// account and merges them into the canonical store
type SyncOrchestrator struct {
	store       *store.Store
	registry    *store.Registry
	credentials *CredentialManager
	adapters    map[domain.Platform]ports.PlatformAdapter
	pause       *SyncPause
	now         func() time.Time
}

// NewSyncOrchestrator creates a new orchestrator with dependencies injected
func NewSyncOrchestrator(
	s *store.Store,
	registry *store.Registry,
	credentials *CredentialManager,
	adapters map[domain.Platform]ports.PlatformAdapter,
) *SyncOrchestrator {
	return &SyncOrchestrator{
		store:       s,
		registry:    registry,
		credentials: credentials,
		adapters:    adapters,
		pause:       &SyncPause{},
		now:         time.Now,
	}
}

// Pause returns the switch that halts background sync
func (o *SyncOrchestrator) Pause() *SyncPause {
	return o.pause
}

// SyncPlatform syncs every connected account of a platform, one at a time.
// A failing connection or thread never stops the others. Returns true if at
// least one connection was attempted.
func (o *SyncOrchestrator) SyncPlatform(ctx context.Context, platform domain.Platform) bool {
	adapter, ok := o.adapters[platform]
	if !ok {
		slog.Warn("Sync requested for platform without adapter", "platform", platform)
		return false
	}

	connected := true
	conns := o.registry.List(store.Filter{Platform: platform, Connected: &connected})
	if len(conns) == 0 {
		slog.Info("No connected accounts to sync", "platform", platform)
		return false
	}

	synced, failed := 0, 0
	for _, conn := range conns {
		if err := o.syncConnection(ctx, adapter, conn); err != nil {
			failed++
			slog.Warn("Connection sync failed",
				"platform", platform,
				"connection_id", conn.ID,
				"account_id", conn.AccountID,
				"disconnected", errors.Is(err, domain.ErrDisconnected),
				"error", err,
			)
			continue
		}
		synced++
	}

	o.store.Persist(ctx)

	slog.Info("Platform sync completed",
		"platform", platform,
		"attempted", len(conns),
		"synced", synced,
		"failed", failed,
	)
	return true
}

// SyncAll syncs both platforms concurrently
func (o *SyncOrchestrator) SyncAll(ctx context.Context) map[domain.Platform]bool {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[domain.Platform]bool, len(o.adapters))
	)
	for platform := range o.adapters {
		wg.Add(1)
		go func(p domain.Platform) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("PANIC recovered in platform sync", "panic", r, "platform", p)
				}
			}()

			ok := o.SyncPlatform(ctx, p)
			mu.Lock()
			results[p] = ok
			mu.Unlock()
		}(platform)
	}
	wg.Wait()
	return results
}

// Run syncs every interval until ctx is done, skipping ticks while paused
func (o *SyncOrchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Background sync started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Background sync stopped")
			return
		case <-ticker.C:
			if o.pause.IsActive() {
				slog.Debug("Background sync paused, skipping tick")
				continue
			}
			o.SyncAll(ctx)
		}
	}
}

func (o *SyncOrchestrator) syncConnection(ctx context.Context, adapter ports.PlatformAdapter, conn domain.Connection) error {
	credential, err := o.credentials.Ensure(ctx, conn)
	if err != nil {
		return err
	}

	threads, err := adapter.ListThreads(ctx, credential, conn.AccountID)
	if err != nil {
		return err
	}

	profiles := newProfileCache(adapter, credential)
	added := 0
	for _, thread := range threads {
		n, err := o.syncThread(ctx, adapter, conn, credential, thread, profiles)
		if err != nil {
			slog.Error("Failed to sync thread",
				"platform", conn.Platform,
				"thread_id", thread.ID,
				"error", err,
			)
			continue
		}
		added += n
	}

	if err := o.registry.SetLastSync(ctx, conn.ID, o.now()); err != nil {
		slog.Warn("Failed to record last sync", "connection_id", conn.ID, "error", err)
	}

	slog.Info("Connection synced",
		"platform", conn.Platform,
		"account_id", conn.AccountID,
		"threads", len(threads),
		"new_messages", added,
	)
	return nil
}

func (o *SyncOrchestrator) syncThread(
	ctx context.Context,
	adapter ports.PlatformAdapter,
	conn domain.Connection,
	credential string,
	thread ports.NativeThread,
	profiles *profileCache,
) (int, error) {
	conv := o.resolveConversation(ctx, conn, thread, profiles)

	messages, err := adapter.ListMessages(ctx, credential, thread.ID)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, nm := range messages {
		if o.store.HasMessage(conn.Platform, nm.ID) {
			continue
		}

		fromBusiness := nm.SenderID == conn.AccountID
		msg := domain.Message{
			ID:             nm.ID,
			Platform:       conn.Platform,
			ConversationID: conv.ID,
			SenderID:       nm.SenderID,
			SenderName:     nm.SenderName,
			Text:           nm.Text,
			Timestamp:      nm.CreatedAt,
			Read:           fromBusiness,
			Attachments:    nm.URLs(),
			Kind:           nm.Kind(),
			FromBusiness:   fromBusiness,
			ClientID:       conv.ClientID,
		}
		if fromBusiness {
			msg.SenderName = firstNonEmpty(nm.SenderName, conn.DisplayName)
		} else {
			p := profiles.get(ctx, nm.SenderID)
			msg.SenderName = firstNonEmpty(nm.SenderName, p.DisplayName)
			msg.SenderAvatar = p.AvatarURL
		}

		appended, err := o.store.AppendMessage(msg)
		if err != nil {
			return added, err
		}
		if appended {
			added++
		}
	}

	o.store.RefreshSummary(conn.Platform, conv.ID)
	return added, nil
}

// resolveConversation finds the canonical conversation for a native thread,
// reusing one the webhook path opened for the same participant
func (o *SyncOrchestrator) resolveConversation(
	ctx context.Context,
	conn domain.Connection,
	thread ports.NativeThread,
	profiles *profileCache,
) domain.Conversation {
	participant := pickParticipant(thread.Participants, conn.AccountID)

	if conv, ok := o.store.Conversation(conn.Platform, thread.ID); ok {
		if conv.AccountID == "" || conv.ParticipantAvatar == "" {
			conv, _ = o.store.EnsureConversation(domain.Conversation{
				ID:                conv.ID,
				Platform:          conv.Platform,
				ParticipantAvatar: profiles.get(ctx, participant.ID).AvatarURL,
				AccountID:         conn.AccountID,
				AccountName:       conn.DisplayName,
			})
		}
		return conv
	}

	profile := profiles.get(ctx, participant.ID)

	conv, _ := o.store.EnsureConversationForParticipant(domain.Conversation{
		ID:                thread.ID,
		Platform:          conn.Platform,
		ParticipantID:     participant.ID,
		ParticipantName:   firstNonEmpty(participant.Name, profile.DisplayName),
		ParticipantAvatar: profile.AvatarURL,
		LastMessage:       thread.Snippet,
		LastMessageAt:     thread.UpdatedAt,
		Active:            true,
		AccountID:         conn.AccountID,
		AccountName:       conn.DisplayName,
	})
	return conv
}

// pickParticipant returns the first participant that is not the account itself,
// falling back to the first listed participant
func pickParticipant(participants []ports.NativeParticipant, accountID string) ports.NativeParticipant {
	for _, p := range participants {
		if p.ID != accountID {
			return p
		}
	}
	if len(participants) > 0 {
		return participants[0]
	}
	return ports.NativeParticipant{}
}

// profileCache memoises best-effort profile lookups for one connection run
type profileCache struct {
	adapter    ports.PlatformAdapter
	credential string
	profiles   map[string]ports.Profile
}

func newProfileCache(adapter ports.PlatformAdapter, credential string) *profileCache {
	return &profileCache{
		adapter:    adapter,
		credential: credential,
		profiles:   make(map[string]ports.Profile),
	}
}

func (c *profileCache) get(ctx context.Context, participantID string) ports.Profile {
	if participantID == "" {
		return ports.Profile{}
	}
	if p, ok := c.profiles[participantID]; ok {
		return p
	}

	p, err := c.adapter.FetchProfile(ctx, c.credential, participantID)
	if err != nil {
		slog.Debug("Profile fetch failed", "participant_id", participantID, "error", err)
		p = ports.Profile{}
	}
	c.profiles[participantID] = p
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
