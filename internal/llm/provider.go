// ABOUTME: Language model endpoint abstraction used by the conversation orchestrator.
// ABOUTME: Vendor adapters turn a transcript plus tool list into text and structured calls.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/toolchat-gateway/internal/chat"
	"github.com/2389/toolchat-gateway/internal/mcp"
)

var (
	// ErrUnknownProvider indicates an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown LLM provider")
	// ErrEmptyResponse indicates the endpoint answered without any content.
	ErrEmptyResponse = errors.New("LLM returned empty response")
)

// DefaultMaxTokens caps response length when none is configured.
const DefaultMaxTokens = 1024

// Response is one model turn. ToolCalls holds calls the vendor returned in
// structured form; intent expressed only in Text is left to the parser.
type Response struct {
	Text      string
	ToolCalls []chat.ToolCall
}

// Provider sends a transcript to a language model.
type Provider interface {
	Send(ctx context.Context, messages []chat.Message, tools []mcp.Tool) (*Response, error)
	Name() string
}

// Config selects and configures a provider.
type Config struct {
	Provider     string // openai | anthropic
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// New creates the provider named in cfg.
func New(cfg Config) (Provider, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "llm", "provider", cfg.Provider)

	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// turn is a vendor-neutral message: role is "user" or "assistant".
type turn struct {
	role    string
	content string
}

// flatten maps the transcript onto plain user/assistant turns. Tool results
// and system notes are fed back as user text so the model can react to
// them; adjacent turns with the same role are merged.
func flatten(messages []chat.Message) []turn {
	var out []turn
	for _, m := range messages {
		var t turn
		switch m.Role {
		case chat.RoleAssistant:
			t = turn{role: "assistant", content: assistantText(m)}
		case chat.RoleToolResult:
			t = turn{role: "user", content: "Tool result:\n" + m.Content}
		case chat.RoleSystem:
			t = turn{role: "user", content: "Note: " + m.Content}
		default:
			t = turn{role: "user", content: m.Content}
		}
		if t.content == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].role == t.role {
			out[n-1].content += "\n\n" + t.content
			continue
		}
		out = append(out, t)
	}
	return out
}

func assistantText(m chat.Message) string {
	parts := make([]string, 0, len(m.ToolCalls)+1)
	if m.Content != "" {
		parts = append(parts, m.Content)
	}
	for _, c := range m.ToolCalls {
		args, _ := json.Marshal(c.Arguments)
		parts = append(parts, fmt.Sprintf("[Calling %s with arguments: %s]", c.Name, args))
	}
	return strings.Join(parts, "\n")
}

// schemaOrObject returns the tool's input schema, defaulting to an open object.
func schemaOrObject(t mcp.Tool) json.RawMessage {
	if len(t.InputSchema) == 0 {
		return json.RawMessage(`{"type":"object"}`)
	}
	return t.InputSchema
}

// structuredCall converts vendor call arguments into a pending ToolCall.
// Arguments that do not decode to an object produce an error call.
func structuredCall(name string, raw []byte) chat.ToolCall {
	call := chat.NewToolCall(name, nil)
	if len(raw) == 0 || string(raw) == "null" {
		return call
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		call.Fail("could not parse arguments: " + err.Error())
		return call
	}
	if args != nil {
		call.Arguments = args
	}
	return call
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
