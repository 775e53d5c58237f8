// Package llm adapts language model vendors to a single Provider interface.
//
// Send takes the conversation transcript and the aggregated tool list and
// returns a Response with the model's text and any calls the vendor
// returned in structured form (OpenAI tool_calls, Anthropic tool_use).
// Those calls bypass the text parser; anything the model only wrote out in
// prose is left in Text for the parser to find.
//
// Transcripts are flattened to alternating user and assistant turns. Tool
// results and system notes go back to the model as user text, which every
// vendor accepts without needing to track vendor-specific call IDs.
package llm
