// ABOUTME: Stdio transport for tool servers, built on the mark3labs MCP client.
// ABOUTME: Spawns the server process, performs initialize and adapts results to our types.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

// ErrEmptyCommand is returned when a spawn spec has no command.
var ErrEmptyCommand = errors.New("spawn spec has no command")

// StdioDialer launches tool servers as child processes speaking MCP over stdio.
type StdioDialer struct {
	ClientName    string
	ClientVersion string
	Logger        *slog.Logger
}

// Dial starts the process described by spec and initializes the session.
// The process is terminated if initialization fails.
func (d *StdioDialer) Dial(ctx context.Context, spec SpawnSpec) (Client, error) {
	if spec.Command == "" {
		return nil, ErrEmptyCommand
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c, err := mcpclient.NewStdioMCPClient(spec.Command, envList(spec.Env), spec.Args...)
	if err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Command, err)
	}

	req := mcpproto.InitializeRequest{}
	req.Params.ProtocolVersion = mcpproto.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpproto.Implementation{
		Name:    d.clientName(),
		Version: d.clientVersion(),
	}
	init, err := c.Initialize(ctx, req)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initializing %s: %w", spec.Command, err)
	}

	logger.Debug("tool server initialized",
		"command", spec.Command,
		"server_name", init.ServerInfo.Name,
		"server_version", init.ServerInfo.Version,
		"protocol_version", init.ProtocolVersion,
	)

	return &stdioClient{c: c}, nil
}

func (d *StdioDialer) clientName() string {
	if d.ClientName == "" {
		return "toolchat-gateway"
	}
	return d.ClientName
}

func (d *StdioDialer) clientVersion() string {
	if d.ClientVersion == "" {
		return "dev"
	}
	return d.ClientVersion
}

// envList renders an env map as KEY=VALUE pairs in a stable order.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

type stdioClient struct {
	c *mcpclient.Client
}

func (s *stdioClient) ListTools(ctx context.Context) ([]Tool, error) {
	res, err := s.c.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		// Round-trip through JSON so raw and structured schemas come out the same.
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("encoding tool %s: %w", t.Name, err)
		}
		var tool Tool
		if err := json.Unmarshal(raw, &tool); err != nil {
			return nil, fmt.Errorf("decoding tool %s: %w", t.Name, err)
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func (s *stdioClient) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	req := mcpproto.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.c.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(res.Content)
	if err != nil {
		return nil, fmt.Errorf("encoding result of %s: %w", name, err)
	}
	return &CallResult{IsError: res.IsError, Content: content}, nil
}

func (s *stdioClient) Close() error {
	return s.c.Close()
}
