// ABOUTME: Store interface and data types for transcript persistence
// ABOUTME: Sessions own an append-only sequence of chat messages

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/toolchat-gateway/internal/chat"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidSession is returned for an empty session ID
var ErrInvalidSession = errors.New("invalid session id")

// Session summarizes one conversation
type Session struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store persists conversation transcripts.
//
// Messages are only ever appended; GetMessages returns them in append
// order. A session springs into existence with its first message.
type Store interface {
	AppendMessage(ctx context.Context, sessionID string, msg chat.Message) error
	// GetMessages returns an empty slice for a session with no messages.
	GetMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
	// ListSessions returns sessions ordered by most recent activity.
	ListSessions(ctx context.Context, limit int) ([]*Session, error)
	// DeleteSession removes a session and its messages.
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}

// clampLimit applies the default and maximum session list sizes
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
