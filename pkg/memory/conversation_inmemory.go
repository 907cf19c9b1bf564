package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// InMemoryConversation keeps transcripts in process memory. It is the
// runner's default when no store is configured.
type InMemoryConversation struct {
	mu       sync.RWMutex
	sessions map[string][]ConversationMessage
	config   ConversationConfig
}

func NewInMemoryConversation(config ConversationConfig) *InMemoryConversation {
	return &InMemoryConversation{
		sessions: make(map[string][]ConversationMessage),
		config:   config,
	}
}

// AppendMessage stamps msg with an ID, its session and a creation time, and
// appends it.
func (m *InMemoryConversation) AppendMessage(_ context.Context, sessionID string, msg ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.config.now()
	}
	msg.Metadata = maps.Clone(msg.Metadata)

	m.mu.Lock()
	m.sessions[sessionID] = append(m.sessions[sessionID], msg)
	m.mu.Unlock()
	return nil
}

// GetMessages returns the session's transcript after the configured
// truncation strategy, if any.
func (m *InMemoryConversation) GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error) {
	messages := m.snapshot(sessionID, 0)
	if m.config.TruncationStrategy != nil && len(messages) > 0 {
		return m.config.TruncationStrategy.Truncate(ctx, messages)
	}
	return messages, nil
}

// GetRecentMessages returns the last limit messages, minus tool results whose
// request is older than the window. limit <= 0 returns everything.
func (m *InMemoryConversation) GetRecentMessages(_ context.Context, sessionID string, limit int) ([]ConversationMessage, error) {
	return trimOrphanToolMessages(m.snapshot(sessionID, limit)), nil
}

func (m *InMemoryConversation) snapshot(sessionID string, limit int) []ConversationMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sessions[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return slices.Clone(all)
}

func (m *InMemoryConversation) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

// ListSessions returns all session IDs, sorted.
func (m *InMemoryConversation) ListSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.sessions))
}

// MessageCount returns the number of stored messages in a session, ignoring
// truncation.
func (m *InMemoryConversation) MessageCount(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[sessionID])
}
