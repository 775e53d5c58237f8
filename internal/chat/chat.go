// ABOUTME: Conversation data types shared by the parser, orchestrator, store and API.
// ABOUTME: Defines role-tagged messages and tool calls with forward-only status transitions.

package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition indicates a tool call status change that would move backwards.
var ErrInvalidTransition = errors.New("invalid tool call status transition")

// Role tags a message in the transcript.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool-result"
	RoleSystem     Role = "system"
)

// Status is the lifecycle state of a tool call.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
)

// transitions lists the statuses reachable from each status in one step.
// Error is reachable from pending so that calls which can never run
// (unknown tool, unparseable arguments) terminate without approval.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusError},
	StatusApproved: {StatusRunning, StatusError},
	StatusRunning:  {StatusSuccess, StatusError},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusSuccess || s == StatusError
}

// ToolCall is one structured request to invoke a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Status    Status         `json:"status"`
	Result    any            `json:"result,omitempty"`
}

// NewToolCall creates a pending call with a fresh ID.
func NewToolCall(name string, args map[string]any) ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return ToolCall{
		ID:        uuid.New().String(),
		Name:      name,
		Arguments: args,
		Status:    StatusPending,
	}
}

// Advance moves the call to the next status.
func (c *ToolCall) Advance(to Status) error {
	for _, next := range transitions[c.Status] {
		if next == to {
			c.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
}

// Fail moves the call to the error status, capturing reason as the result.
// Calls already in a terminal status are left untouched.
func (c *ToolCall) Fail(reason string) {
	if c.Status.Terminal() {
		return
	}
	c.Status = StatusError
	c.Result = map[string]any{"error": reason}
}

// Message is one role-tagged entry of a conversation transcript.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// NewMessage stamps a message with a fresh ID and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}
