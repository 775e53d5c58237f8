// ABOUTME: Mock Store implementation for testing
// ABOUTME: Keeps transcripts in memory and can be told to fail appends

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/2389/toolchat-gateway/internal/chat"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session      // keyed by session ID
	messages map[string][]chat.Message // keyed by session ID

	// AppendErr, when set, is returned by AppendMessage without storing anything.
	AppendErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]chat.Message),
	}
}

// AppendMessage stores a copy of msg at the end of the session.
func (m *MockStore) AppendMessage(ctx context.Context, sessionID string, msg chat.Message) error {
	if sessionID == "" {
		return ErrInvalidSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return m.AppendErr
	}

	now := time.Now().UTC()
	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &Session{ID: sessionID, CreatedAt: now}
		m.sessions[sessionID] = sess
	}
	sess.UpdatedAt = now
	sess.MessageCount++

	// Copy tool calls to avoid external modification
	msg.ToolCalls = append([]chat.ToolCall(nil), msg.ToolCalls...)
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return nil
}

// GetMessages returns a copy of the session transcript.
func (m *MockStore) GetMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]chat.Message{}, m.messages[sessionID]...), nil
}

// ListSessions returns sessions, most recently updated first.
func (m *MockStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteSession removes a session and its messages.
func (m *MockStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
