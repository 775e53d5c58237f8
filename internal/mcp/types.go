// ABOUTME: Tool server data types and the client/dialer interfaces the registry drives.
// ABOUTME: Keeps the rest of the gateway independent of the MCP client library.

package mcp

import (
	"context"
	"encoding/json"
	"strings"
)

// Tool is one operation advertised by a connected tool server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	// Server is the normalized ID of the server that owns the tool.
	Server string `json:"serverId"`
}

// CallResult is the raw outcome of a tools/call request.
type CallResult struct {
	IsError bool            `json:"isError"`
	Content json.RawMessage `json:"content"`
}

// contentBlock is the subset of an MCP content block we read.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text joins the text blocks of the result. Non-text content is
// returned as its raw JSON.
func (r CallResult) Text() string {
	if len(r.Content) == 0 {
		return ""
	}
	var blocks []contentBlock
	if err := json.Unmarshal(r.Content, &blocks); err != nil {
		return string(r.Content)
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	if len(parts) == 0 {
		return string(r.Content)
	}
	return strings.Join(parts, "\n")
}

// SpawnSpec describes how to start a tool server process.
type SpawnSpec struct {
	Command string            `json:"command" yaml:"command" toml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
}

// Client is a live session with one tool server.
type Client interface {
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error)
	Close() error
}

// Dialer starts a tool server and completes the protocol handshake.
type Dialer interface {
	Dial(ctx context.Context, spec SpawnSpec) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, spec SpawnSpec) (Client, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, spec SpawnSpec) (Client, error) {
	return f(ctx, spec)
}
