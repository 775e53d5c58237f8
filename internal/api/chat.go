// ABOUTME: Handlers for chat requests, session transcripts and live transcript events.
// ABOUTME: Assistant replies carry goldmark-rendered HTML next to the raw content.

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/toolchat-gateway/internal/chat"
	"github.com/2389/toolchat-gateway/internal/conversation"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

// ChatResponse is the assistant's final turn with every call the request saw.
type ChatResponse struct {
	ID        string          `json:"id"`
	Role      chat.Role       `json:"role"`
	Content   string          `json:"content"`
	HTML      string          `json:"html"`
	Timestamp time.Time       `json:"timestamp"`
	ToolCalls []chat.ToolCall `json:"toolCalls"`
	SessionID string          `json:"sessionId"`
}

// HistoryResponse is the transcript of one session.
type HistoryResponse struct {
	SessionID string         `json:"sessionId"`
	Messages  []chat.Message `json:"messages"`
}

func sessionParam(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("sessionId")); id != "" {
		return id
	}
	return conversation.DefaultSessionID
}

// renderMarkdown converts assistant text to HTML. Rendering failures fall
// back to an empty string; the raw content is always returned alongside.
func (a *API) renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(content), &buf); err != nil {
		a.logger.Error("failed to convert markdown", "error", err)
		return ""
	}
	return buf.String()
}

// handleChat handles POST /chat.
func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = conversation.DefaultSessionID
	}

	reply, err := a.conversations.Chat(r.Context(), sessionID, req.Message)
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		a.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	case errors.Is(err, conversation.ErrLanguageModel):
		a.logger.Error("language model request failed", "session_id", sessionID, "error", err)
		a.sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		a.logger.Error("chat request failed", "session_id", sessionID, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	calls := reply.ToolCalls
	if calls == nil {
		calls = []chat.ToolCall{}
	}
	a.writeJSON(w, http.StatusOK, ChatResponse{
		ID:        reply.Message.ID,
		Role:      reply.Message.Role,
		Content:   reply.Message.Content,
		HTML:      a.renderMarkdown(reply.Message.Content),
		Timestamp: reply.Message.Timestamp,
		ToolCalls: calls,
		SessionID: sessionID,
	})
}

// handleHistory handles GET /history?sessionId=.
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	messages, err := a.conversations.History(r.Context(), sessionID)
	if err != nil {
		a.logger.Error("failed to load history", "session_id", sessionID, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	a.writeJSON(w, http.StatusOK, HistoryResponse{SessionID: sessionID, Messages: messages})
}

// handleResetHistory handles DELETE /history?sessionId=.
func (a *API) handleResetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionParam(r)
	if err := a.conversations.Reset(r.Context(), sessionID); err != nil {
		a.logger.Error("failed to reset session", "session_id", sessionID, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSessions handles GET /sessions?limit=.
func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	sessions, err := a.conversations.Sessions(r.Context(), limit)
	if err != nil {
		a.logger.Error("failed to list sessions", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	a.writeJSON(w, http.StatusOK, sessions)
}

// handleEvents handles GET /events?sessionId= as a Server-Sent Events
// stream of transcript messages.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.logger.Error("streaming not supported")
		a.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessionID := sessionParam(r)
	events, _ := a.events.Subscribe(r.Context(), sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	a.writeSSEEvent(w, "started", map[string]string{"sessionId": sessionID})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			a.writeSSEEvent(w, "message", msg)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (a *API) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		a.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
