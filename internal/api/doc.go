// Package api serves the gateway's REST surface.
//
// # Routes
//
//	GET    /health                 liveness
//	GET    /health/ready           200 once a tool server is connected
//	GET    /servers                live servers plus unconnected catalog entries
//	POST   /servers/connect        {serverId | serverPath}
//	POST   /servers/disconnect     {serverId}
//	POST   /chat                   {message, sessionId?}
//	GET    /history?sessionId=     session transcript
//	DELETE /history?sessionId=     reset a session
//	GET    /sessions               stored sessions, most recent first
//	GET    /events?sessionId=      Server-Sent Events of transcript messages
//	POST   /set-approval-callback  {hasUiCallback}
//	GET    /pending-approvals      calls waiting for a decision
//	POST   /approve-tool           {id, approved}
//	*      /mcp                    MCP Streamable HTTP re-export
//
// Errors are answered as {"error": "..."} with a matching status code.
// When a token verifier is configured every route except /health and
// /health/ready requires an Authorization: Bearer header.
package api
