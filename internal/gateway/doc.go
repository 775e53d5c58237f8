// Package gateway orchestrates the toolchat-gateway server components.
//
// # Overview
//
// The gateway package wires every component of the server and owns its
// lifecycle: the transcript store, the server registry file, the tool
// server registry, the approval gate, the language model provider, the
// conversation service, the MCP endpoint and the HTTP API.
//
// # Startup
//
// New builds the components from a config.Config. Run opens the HTTP
// listener and then connects every enabled server from the registry file
// in the background, so the API answers /health while slow tool servers
// are still starting. A server that fails to connect is logged and skipped.
//
// # Shutdown
//
// Shutdown runs in this order:
//
//  1. Reject every pending approval so blocked chat requests return
//  2. Stop the HTTP server
//  3. Wait for the startup auto-connect to finish
//  4. Disconnect all tool servers
//  5. Close the event broadcaster and the store
//
// # Testing
//
// WithDialer and WithProvider replace the process dialer and the model
// provider, which lets tests run the whole stack in-process.
package gateway
