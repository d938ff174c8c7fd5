// Package store holds the canonical conversation/message state and the
// connection registry. It is the only writer of Conversation and Message identity.
package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
)

type key struct {
	platform domain.Platform
	id       string
}

// Store keeps connections, conversations and messages in memory and mirrors
// them through a StateBridge. A nil bridge means in-memory only.
//
// Reads may run concurrently. Merge methods (EnsureConversation, AppendMessage,
// RefreshSummary) do not persist; the calling operation calls Persist once done.
type Store struct {
	mu sync.RWMutex

	connections map[string]*domain.Connection
	connOrder   []string

	conversations map[key]*domain.Conversation
	convOrder     []key

	messages map[key]*domain.Message
	msgOrder []key

	bridge    ports.StateBridge
	persistMu sync.Mutex

	events ports.EventPublisher
}

// New creates an empty store
func New(bridge ports.StateBridge) *Store {
	return &Store{
		connections:   make(map[string]*domain.Connection),
		conversations: make(map[key]*domain.Conversation),
		messages:      make(map[key]*domain.Message),
		bridge:        bridge,
	}
}

// SetPublisher attaches a live event feed. Call before serving traffic.
func (s *Store) SetPublisher(p ports.EventPublisher) {
	s.events = p
}

func (s *Store) publish(ev domain.InboxEvent) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

// Load rehydrates the store from the bridge. On error the bridge is detached
// and the store keeps working in memory only, so an empty snapshot never
// overwrites state it failed to read.
func (s *Store) Load(ctx context.Context) error {
	if s.bridge == nil {
		return nil
	}

	snap, err := s.bridge.LoadState(ctx)
	if err != nil {
		s.persistMu.Lock()
		s.bridge = nil
		s.persistMu.Unlock()
		slog.Error("State load failed, persistence disabled until restart", "error", err)
		return err
	}
	if snap == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.connections = make(map[string]*domain.Connection, len(snap.Connections))
	s.connOrder = s.connOrder[:0]
	for i := range snap.Connections {
		c := snap.Connections[i]
		s.connections[c.ID] = &c
		s.connOrder = append(s.connOrder, c.ID)
	}

	s.conversations = make(map[key]*domain.Conversation, len(snap.Conversations))
	s.convOrder = s.convOrder[:0]
	for i := range snap.Conversations {
		c := snap.Conversations[i]
		c.MessageIDs = nil
		k := key{c.Platform, c.ID}
		s.conversations[k] = &c
		s.convOrder = append(s.convOrder, k)
	}

	s.messages = make(map[key]*domain.Message, len(snap.Messages))
	s.msgOrder = s.msgOrder[:0]
	for i := range snap.Messages {
		m := snap.Messages[i]
		conv, ok := s.conversations[key{m.Platform, m.ConversationID}]
		if !ok {
			slog.Warn("Dropping message without conversation on load",
				"platform", m.Platform,
				"message_id", m.ID,
				"conversation_id", m.ConversationID,
			)
			continue
		}
		k := key{m.Platform, m.ID}
		if _, dup := s.messages[k]; dup {
			continue
		}
		s.messages[k] = &m
		s.msgOrder = append(s.msgOrder, k)
		conv.MessageIDs = append(conv.MessageIDs, m.ID)
	}

	slog.Info("Canonical state loaded",
		"connections", len(s.connections),
		"conversations", len(s.conversations),
		"messages", len(s.messages),
	)
	return nil
}

// Persist saves a snapshot through the bridge. Failures are logged and
// returned; in-memory state stays authoritative either way.
func (s *Store) Persist(ctx context.Context) error {
	// Snapshots are taken and saved in order so an older one never lands last.
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if s.bridge == nil {
		return nil
	}

	snap := s.Snapshot()
	if err := s.bridge.SaveState(context.WithoutCancel(ctx), snap); err != nil {
		slog.Error("Failed to persist canonical state",
			"error", err,
			"conversations", len(snap.Conversations),
			"messages", len(snap.Messages),
		)
		return err
	}
	return nil
}

// deleteConnection removes a connection row through the bridge. Saves never
// delete, so this is the only way a registered connection leaves storage.
func (s *Store) deleteConnection(ctx context.Context, id string) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if s.bridge == nil {
		return nil
	}
	if err := s.bridge.DeleteConnection(context.WithoutCancel(ctx), id); err != nil {
		slog.Error("Failed to delete stored connection", "connection_id", id, "error", err)
		return err
	}
	return nil
}

// Snapshot returns a deep copy of the current state
func (s *Store) Snapshot() *domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &domain.Snapshot{
		Connections:   make([]domain.Connection, 0, len(s.connOrder)),
		Conversations: make([]domain.Conversation, 0, len(s.convOrder)),
		Messages:      make([]domain.Message, 0, len(s.msgOrder)),
	}
	for _, id := range s.connOrder {
		snap.Connections = append(snap.Connections, copyConnection(s.connections[id]))
	}
	for _, k := range s.convOrder {
		snap.Conversations = append(snap.Conversations, copyConversation(s.conversations[k]))
	}
	for _, k := range s.msgOrder {
		snap.Messages = append(snap.Messages, copyMessage(s.messages[k]))
	}
	return snap
}

// ============================================================================
// Reads
// ============================================================================

// Conversation returns the conversation with the given platform and id
func (s *Store) Conversation(platform domain.Platform, id string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[key{platform, id}]
	if !ok {
		return domain.Conversation{}, false
	}
	return copyConversation(c), true
}

// FindConversation resolves a conversation by id alone, checking platforms in order
func (s *Store) FindConversation(id string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.lookupLocked(id)
	if c == nil {
		return domain.Conversation{}, false
	}
	return copyConversation(c), true
}

// Conversations lists conversations, most recent activity first.
// An empty platform lists every platform.
func (s *Store) Conversations(platform domain.Platform) []domain.Conversation {
	s.mu.RLock()
	out := make([]domain.Conversation, 0, len(s.convOrder))
	for _, k := range s.convOrder {
		c := s.conversations[k]
		if platform != "" && c.Platform != platform {
			continue
		}
		out = append(out, copyConversation(c))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// Messages returns a conversation's messages in append order
func (s *Store) Messages(platform domain.Platform, conversationID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[key{platform, conversationID}]
	if !ok {
		return nil
	}
	out := make([]domain.Message, 0, len(c.MessageIDs))
	for _, id := range c.MessageIDs {
		if m, ok := s.messages[key{platform, id}]; ok {
			out = append(out, copyMessage(m))
		}
	}
	return out
}

// Message returns one message
func (s *Store) Message(platform domain.Platform, id string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[key{platform, id}]
	if !ok {
		return domain.Message{}, false
	}
	return copyMessage(m), true
}

// HasMessage reports whether a message id is already recorded for a platform
func (s *Store) HasMessage(platform domain.Platform, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.messages[key{platform, id}]
	return ok
}

// MessageCount returns the size of the message collection
func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ============================================================================
// Merge (upsert-by-id)
// ============================================================================

// EnsureConversation inserts conv if (platform, id) is unknown. For an existing
// conversation only empty descriptive fields are filled in. Returns the stored
// conversation and whether it was created.
func (s *Store) EnsureConversation(conv domain.Conversation) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.conversations[key{conv.Platform, conv.ID}]; ok {
		fillConversation(existing, conv)
		return copyConversation(existing), false
	}
	return s.insertConversationLocked(conv), true
}

func (s *Store) insertConversationLocked(conv domain.Conversation) domain.Conversation {
	k := key{conv.Platform, conv.ID}
	c := copyConversation(&conv)
	c.MessageIDs = nil
	c.UnreadCount = 0
	s.conversations[k] = &c
	s.convOrder = append(s.convOrder, k)

	slog.Info("New conversation created",
		"platform", c.Platform,
		"conversation_id", c.ID,
		"participant_id", c.ParticipantID,
	)
	return copyConversation(&c)
}

// EnsureConversationForParticipant is EnsureConversation for the push and pull
// paths: when (platform, id) is unknown but the account already holds a
// conversation with conv.ParticipantID, that conversation is reused. Lookup and
// insert share one lock, so concurrent paths never split a participant's thread.
func (s *Store) EnsureConversationForParticipant(conv domain.Conversation) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.conversations[key{conv.Platform, conv.ID}]
	if !ok && conv.ParticipantID != "" {
		existing = s.byParticipantLocked(conv.Platform, conv.AccountID, conv.ParticipantID)
	}
	if existing != nil {
		fillConversation(existing, conv)
		return copyConversation(existing), false
	}
	return s.insertConversationLocked(conv), true
}

// AppendMessage inserts msg unless a message with the same (platform, id) exists.
// The check and the insert happen under one lock, so concurrent pull and push
// paths store a message exactly once.
func (s *Store) AppendMessage(msg domain.Message) (bool, error) {
	s.mu.Lock()
	conv, ok := s.conversations[key{msg.Platform, msg.ConversationID}]
	if !ok {
		s.mu.Unlock()
		return false, domain.ErrConversationNotFound
	}

	k := key{msg.Platform, msg.ID}
	if _, exists := s.messages[k]; exists {
		s.mu.Unlock()
		return false, nil
	}

	m := copyMessage(&msg)
	s.messages[k] = &m
	s.msgOrder = append(s.msgOrder, k)
	conv.MessageIDs = append(conv.MessageIDs, m.ID)
	s.mu.Unlock()

	s.publish(domain.InboxEvent{
		Type:           domain.EventMessageAppended,
		Platform:       m.Platform,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		FromBusiness:   m.FromBusiness,
		At:             m.Timestamp,
	})
	return true, nil
}

// RefreshSummary recomputes a conversation's last message and unread count
// from the message collection. The latest timestamp wins; on equal timestamps
// the later message in append order wins.
func (s *Store) RefreshSummary(platform domain.Platform, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[key{platform, conversationID}]
	if !ok {
		return
	}
	s.refreshLocked(conv)
}

func (s *Store) refreshLocked(conv *domain.Conversation) {
	var latest *domain.Message
	unread := 0
	for _, id := range conv.MessageIDs {
		m, ok := s.messages[key{conv.Platform, id}]
		if !ok {
			continue
		}
		if !m.FromBusiness && !m.Read {
			unread++
		}
		if latest == nil || !m.Timestamp.Before(latest.Timestamp) {
			latest = m
		}
	}

	conv.UnreadCount = unread
	if latest != nil {
		conv.LastMessage = latest.Summary()
		conv.LastMessageAt = latest.Timestamp
	}
}

// ============================================================================
// Operator operations (persist before returning)
// ============================================================================

// MarkConversationRead resets the unread count and marks every received message read
func (s *Store) MarkConversationRead(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	conv := s.lookupLocked(conversationID)
	if conv == nil {
		s.mu.Unlock()
		return domain.ErrConversationNotFound
	}
	for _, id := range conv.MessageIDs {
		if m, ok := s.messages[key{conv.Platform, id}]; ok && !m.FromBusiness {
			m.Read = true
		}
	}
	conv.UnreadCount = 0
	platform, id := conv.Platform, conv.ID
	s.mu.Unlock()

	s.Persist(ctx)
	s.publish(domain.InboxEvent{
		Type:           domain.EventConversationRead,
		Platform:       platform,
		ConversationID: id,
		At:             time.Now(),
	})
	return nil
}

// LinkConversationToClient sets the linked client on a conversation and all its messages
func (s *Store) LinkConversationToClient(ctx context.Context, conversationID, clientID string) error {
	s.mu.Lock()
	conv := s.lookupLocked(conversationID)
	if conv == nil {
		s.mu.Unlock()
		return domain.ErrConversationNotFound
	}
	conv.ClientID = clientID
	for _, id := range conv.MessageIDs {
		if m, ok := s.messages[key{conv.Platform, id}]; ok {
			m.ClientID = clientID
		}
	}
	s.mu.Unlock()

	slog.Info("Conversation linked to client",
		"conversation_id", conversationID,
		"client_id", clientID,
	)
	s.Persist(ctx)
	return nil
}

// RecordReply fills the legacy single-reply fields of a message
func (s *Store) RecordReply(ctx context.Context, platform domain.Platform, messageID, text string, at time.Time) error {
	s.mu.Lock()
	m, ok := s.messages[key{platform, messageID}]
	if !ok {
		s.mu.Unlock()
		return domain.ErrMessageNotFound
	}
	m.Replied = true
	m.ReplyText = text
	repliedAt := at
	m.RepliedAt = &repliedAt
	s.mu.Unlock()

	s.Persist(ctx)
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func (s *Store) lookupLocked(id string) *domain.Conversation {
	for _, p := range domain.Platforms {
		if c, ok := s.conversations[key{p, id}]; ok {
			return c
		}
	}
	return nil
}

func (s *Store) byParticipantLocked(platform domain.Platform, accountID, participantID string) *domain.Conversation {
	for _, k := range s.convOrder {
		c := s.conversations[k]
		if c.Platform != platform || c.ParticipantID != participantID {
			continue
		}
		if c.AccountID == "" || accountID == "" || c.AccountID == accountID {
			return c
		}
	}
	return nil
}

// fillConversation copies descriptive fields into empty slots only
func fillConversation(dst *domain.Conversation, src domain.Conversation) {
	fillEmpty(&dst.ParticipantName, src.ParticipantName)
	fillEmpty(&dst.ParticipantAvatar, src.ParticipantAvatar)
	fillEmpty(&dst.AccountID, src.AccountID)
	fillEmpty(&dst.AccountName, src.AccountName)
}

func fillEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

func copyConnection(c *domain.Connection) domain.Connection {
	out := *c
	if c.LastSyncAt != nil {
		t := *c.LastSyncAt
		out.LastSyncAt = &t
	}
	return out
}

func copyConversation(c *domain.Conversation) domain.Conversation {
	out := *c
	out.MessageIDs = append([]string(nil), c.MessageIDs...)
	return out
}

func copyMessage(m *domain.Message) domain.Message {
	out := *m
	out.Attachments = append([]string(nil), m.Attachments...)
	if m.RepliedAt != nil {
		t := *m.RepliedAt
		out.RepliedAt = &t
	}
	return out
}
