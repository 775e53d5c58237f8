// Package store persists conversation transcripts using SQLite.
//
// # Data Model
//
//   - Session: one conversation, created implicitly by its first message
//   - chat.Message: a role-tagged turn, stored with its tool calls as JSON
//
// Messages are append-only. Each row gets a monotonically increasing
// sequence number and GetMessages orders by it, so the transcript comes
// back in exactly the order it was written even when timestamps tie.
//
// # Implementations
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo). File databases run
// in WAL mode with foreign keys enabled; deleting a session cascades to its
// messages. The path ":memory:" opens a private database pinned to a single
// connection.
//
// MockStore keeps everything in memory for tests and can be told to fail
// appends through AppendErr.
package store
