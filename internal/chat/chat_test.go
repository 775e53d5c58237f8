// ABOUTME: Tests for tool call status transitions and constructors.
// ABOUTME: Ensures statuses only move forward and never re-enter pending.

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToolCall(t *testing.T) {
	call := NewToolCall("calculate", nil)

	assert.NotEmpty(t, call.ID)
	assert.Equal(t, StatusPending, call.Status)
	assert.NotNil(t, call.Arguments, "nil arguments should become an empty map")

	other := NewToolCall("calculate", nil)
	assert.NotEqual(t, call.ID, other.ID)
}

func TestToolCall_Advance(t *testing.T) {
	t.Run("happy path reaches success", func(t *testing.T) {
		call := NewToolCall("x", nil)
		require.NoError(t, call.Advance(StatusApproved))
		require.NoError(t, call.Advance(StatusRunning))
		require.NoError(t, call.Advance(StatusSuccess))
		assert.True(t, call.Status.Terminal())
	})

	t.Run("rejection is terminal", func(t *testing.T) {
		call := NewToolCall("x", nil)
		require.NoError(t, call.Advance(StatusRejected))
		assert.ErrorIs(t, call.Advance(StatusApproved), ErrInvalidTransition)
		assert.Equal(t, StatusRejected, call.Status)
	})

	t.Run("never re-enters pending", func(t *testing.T) {
		call := NewToolCall("x", nil)
		require.NoError(t, call.Advance(StatusApproved))
		assert.ErrorIs(t, call.Advance(StatusPending), ErrInvalidTransition)
	})

	t.Run("cannot skip approval", func(t *testing.T) {
		call := NewToolCall("x", nil)
		assert.ErrorIs(t, call.Advance(StatusRunning), ErrInvalidTransition)
		assert.ErrorIs(t, call.Advance(StatusSuccess), ErrInvalidTransition)
	})
}

func TestToolCall_Fail(t *testing.T) {
	call := NewToolCall("x", nil)
	call.Fail("boom")
	assert.Equal(t, StatusError, call.Status)
	assert.Equal(t, map[string]any{"error": "boom"}, call.Result)

	done := NewToolCall("y", nil)
	done.Status = StatusSuccess
	done.Result = "ok"
	done.Fail("late")
	assert.Equal(t, StatusSuccess, done.Status)
	assert.Equal(t, "ok", done.Result)
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage(RoleUser, "hello")
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.Timestamp.IsZero())
}
