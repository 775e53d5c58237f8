// Package approval gates tool execution behind a decision.
//
// In auto mode every request is approved on the spot. In external mode the
// request is parked in a pending table and the caller blocks until one of
// three things happens:
//
//   - Resolve is called with the request ID (the UI polls Pending and
//     answers through the API)
//   - the timeout elapses, which counts as a rejection
//   - the caller's context is cancelled, also a rejection
//
// Whoever removes the entry from the table owns the outcome, so each
// request resolves exactly once. A decision that arrives after a timeout
// finds nothing to remove and is ignored.
//
// The mode is read when a request is created. Switching modes leaves
// requests that are already pending untouched.
package approval
