// Package chat defines the conversation types shared across the gateway.
//
// # Messages
//
// A Message is one entry of a transcript, tagged with a Role: user,
// assistant, tool-result or system. Assistant messages carry the tool calls
// the model asked for; tool-result messages carry the same calls once they
// have run, so a provider can see both sides of each exchange.
//
// # Tool Calls
//
// A ToolCall moves forward through a fixed set of statuses:
//
//	pending -> approved -> running -> success
//	pending -> rejected
//	pending | approved | running -> error
//
// Advance refuses any other step with ErrInvalidTransition. Fail is the
// shortcut for calls that cannot run at all, such as an unknown tool or
// arguments that could not be parsed; it records the reason as the result
// and leaves terminal calls untouched.
package chat
