// Package mcp connects the gateway to Model Context Protocol tool servers and
// re-exports their tools to downstream MCP clients.
//
// # Upstream: Tool Servers
//
// Tool servers run as child processes speaking JSON-RPC over stdio. The
// StdioDialer spawns a process from a SpawnSpec, performs the initialize
// handshake using the mark3labs/mcp-go client and returns a Client:
//
//	d := &mcp.StdioDialer{Logger: logger}
//	c, err := d.Dial(ctx, mcp.SpawnSpec{Command: "npx", Args: []string{"-y", "@acme/weather"}})
//	tools, err := c.ListTools(ctx)
//	res, err := c.CallTool(ctx, "get_weather", map[string]any{"city": "Oslo"})
//
// Tool and CallResult are the library-independent shapes the rest of the
// gateway works with. CallResult keeps the raw content array; Text joins its
// text blocks.
//
// # Downstream: Streamable HTTP
//
// Server implements the Streamable HTTP transport on a single endpoint:
//
//   - POST /mcp: JSON-RPC requests (initialize, ping, tools/list, tools/call)
//   - DELETE /mcp: terminate the session named by Mcp-Session-Id
//   - GET /mcp: 405, server-initiated streams are not offered
//
// initialize creates a session and returns its ID in the Mcp-Session-Id
// header; every other request must carry it. Notifications are accepted
// with 202 and no body.
//
// tools/list returns the aggregated tool set of every connected server.
// tools/call is handed to a ToolRunner, which in the gateway is the
// conversation service: the call is approved, validated against its schema
// and routed exactly as if the model had requested it. Rejections, validation
// failures and tool errors come back as results with isError set.
//
// # Authentication
//
// When a TokenVerifier is configured, initialize requests carrying
// "Authorization: Bearer <token>" are verified. With RequireAuth set, requests
// without a token are refused. A session may only be deleted with the same
// bearer token that created it.
package mcp
