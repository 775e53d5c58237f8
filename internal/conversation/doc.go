// Package conversation runs chat requests against the language model and
// the connected tool servers.
//
// # Service
//
// Service owns the per-session transcripts:
//
//	svc := conversation.New(conversation.Config{
//		Store:    st,
//		Tools:    reg,
//		Approver: gate,
//		Parser:   parser.New(parser.Options{}, logger),
//		Provider: provider,
//	})
//	reply, err := svc.Chat(ctx, "default", "what is 25 times 4?")
//
// A chat request records the user turn, sends the transcript and the
// advertised tools to the model, then records the assistant turn. Tool
// calls come either from the provider's structured output or, when there
// is none, from the response parser. Each pending call then goes through
// one cycle:
//
//  1. Look up the tool; unknown tools fail without asking for approval
//  2. Ask the approver; a refusal or timeout marks the call rejected
//  3. Validate the arguments against the tool's input schema
//  4. Route the call to the owning server
//  5. Record the outcome turn and ask the model to follow up
//
// The number of follow-ups per request is bounded by MaxToolRounds. Calls
// beyond the bound fail with "tool round limit reached".
//
// Requests on the same session are serialized. Every turn is written to
// the store before it is sent anywhere, and is then published to the
// Broadcaster so live listeners can render progress.
//
// # Broadcaster
//
// Broadcaster fans transcript messages out to subscribers keyed by
// session ID. Slow subscribers drop messages rather than blocking the
// request that produced them.
package conversation
