// Package parser recovers tool calls from free-form language model output.
//
// Models that lack native tool calling (or ignore it) describe calls in
// prose. Extract recognizes four shapes, in priority order:
//
//	Tool Call: get_weather              canonical block, optional Result
//	Arguments: {"city": "Paris"}
//	Result: {"temp": 18}
//
//	[Calling get_weather with arguments: {"city": "Paris"}]
//
//	I'll use the get_weather tool       narrative mention (optional)
//
//	```python                           fenced code, reported as render_code
//	print("hi")
//	```
//
// Each matcher claims the text range it consumed. Later matchers skip any
// range overlapping an earlier claim, so a code fence inside a canonical
// block is never reported twice.
//
// Argument and result fragments that fail to decode get one repair pass
// (single quotes, bare keys, trailing commas, clipping to the outer braces).
// A fragment that still fails becomes an empty object and the call is
// marked as an error instead of being dropped.
//
// Narrative mentions are a heuristic: the resulting call is marked
// successful with a note that execution was not observed. Disable them with
// Options.NarrativeMentions when they produce false positives.
package parser
