// Package registry tracks connections to external tool servers.
//
// # Identity
//
// Every server is stored under one record keyed by its normalized ID:
// trimmed, lower-cased, with leading "mcp-" and "server-" prefixes removed.
// "mcp-server-Foo", "server-foo" and "FOO" all name the same server. The
// string first supplied by the caller is kept only for display.
//
// # Lifecycle
//
// Connect dials the server through an mcp.Dialer and lists its tools. A
// failed attempt is retried up to MaxRetries times with exponential backoff
// (BaseDelay, then doubling). When retries run out the error wraps
// ErrConnectionFailed and an existing record is flipped to disconnected; a
// server that never connected gets no record at all.
//
// A second Connect for an ID whose series is still running does not start
// another one. It waits for the running series and returns its outcome.
//
// Disconnect closes the session and removes the record. It also drops any
// connect series still retrying for that ID, so the remaining attempts end
// with ErrConnectionAbandoned instead of resurrecting the server.
//
// # Tool Aggregation
//
// GetAllTools merges the tools of every connected server in connect order.
// When two servers publish the same tool name, the earlier one wins, and
// CallTool routes to it.
//
// # Connect References
//
// ConnectRef accepts a known ID, a script path or a package name. Classify
// decides which, without spawning anything:
//
//	weather                      known ID (live record or catalog entry)
//	./tools/calc.py              python3 ./tools/calc.py
//	server.js                    node server.js
//	@acme/mcp-search             npx -y @acme/mcp-search
//
// Servers reached through a new script or package are written to the
// Catalog so they can be reconnected by ID later.
package registry
