// ABOUTME: Extracts tool calls from free-form model output.
// ABOUTME: Runs ordered matchers over unclaimed spans and replaces matches with short placeholders.

package parser

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/2389/toolchat-gateway/internal/chat"
)

// RenderCodeTool is the synthetic tool name given to fenced code blocks.
const RenderCodeTool = "render_code"

// NarrativeNote is the result attached to calls recovered from narrative
// mentions. Those calls were never observed running.
const NarrativeNote = "mentioned in text; execution not confirmed"

// Options configures which patterns are recognized.
type Options struct {
	// NarrativeMentions enables "I'll use the X tool" detection.
	NarrativeMentions bool
}

// Result is the outcome of Extract.
type Result struct {
	CleanedText string
	ToolCalls   []chat.ToolCall
}

// Parser recovers tool calls from model text.
type Parser struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Parser. A nil logger uses slog.Default.
func New(opts Options, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{opts: opts, logger: logger.With("component", "parser")}
}

type span struct {
	start, end int
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

type match struct {
	span
	call        chat.ToolCall
	placeholder string
}

// claims is the set of text ranges already consumed by a matcher.
type claims []span

func (c claims) free(s span) bool {
	for _, taken := range c {
		if taken.overlaps(s) {
			return false
		}
	}
	return true
}

var (
	callHeader  = regexp.MustCompile("(?mi)^[ \\t>]*(?:\\*\\*)?Tool[ \\t]*Call:(?:\\*\\*)?[ \\t]*[`\"']?([A-Za-z0-9_.\\-]+)[`\"']?")
	argsLabel   = regexp.MustCompile(`(?i)^\s*(?:\*\*)?(?:Arguments|Args|Input):(?:\*\*)?[ \t]*\n?[ \t]*`)
	resultLabel = regexp.MustCompile(`(?i)^\s*(?:\*\*)?(?:Result|Output):(?:\*\*)?[ \t]*\n?[ \t]*`)

	bracketed    = regexp.MustCompile(`(?i)\[(?:Calling|Invoking|Using)[ \t]+(?:tool[ \t]+)?` + "[`\"']?" + `([A-Za-z0-9_.\-]+)` + "[`\"']?" + `[ \t]+with[ \t]+(?:arguments|args)[ \t]*:?[ \t]*\{`)
	bracketClose = regexp.MustCompile(`^[ \t]*\]`)

	narrative = regexp.MustCompile(`(?i)\b(?:I['’]ll|I[ \t]+will|let[ \t]+me|I['’]m[ \t]+going[ \t]+to|I[ \t]+am[ \t]+going[ \t]+to)[ \t]+(?:now[ \t]+)?(?:use|call|run|invoke)[ \t]+(?:the[ \t]+)?` + "[`\"']?" + `([A-Za-z0-9_.\-]+)` + "[`\"']?" + `[ \t]+tool\b`)

	fence      = regexp.MustCompile("(?s)```([A-Za-z0-9_+#.\\-]*)[^\\n]*\\n(.*?)```")
	openFence  = regexp.MustCompile("^\\s*```[A-Za-z0-9_+#.\\-]*[ \\t]*\\n\\s*")
	closeFence = regexp.MustCompile("^\\s*```")
	nextResult = regexp.MustCompile(`(?mi)^[ \t]*(?:\*\*)?(?:Result|Output):`)

	extraNewlines = regexp.MustCompile(`\n{3,}`)
)

// Extract scans raw for tool invocation patterns in priority order:
// canonical call blocks, bracketed shorthand, narrative mentions (when
// enabled) and fenced code. Later matchers skip text claimed by earlier
// ones. Calls are returned in text order. Text with no recognizable
// pattern is returned unchanged.
func (p *Parser) Extract(raw string) Result {
	var taken claims
	var matches []match

	add := func(found []match) {
		for _, m := range found {
			if taken.free(m.span) {
				taken = append(taken, m.span)
				matches = append(matches, m)
			}
		}
	}

	add(p.canonicalBlocks(raw))
	add(p.bracketedCalls(raw))
	if p.opts.NarrativeMentions {
		add(p.narrativeMentions(raw))
	}
	add(p.codeFences(raw))

	if len(matches) == 0 {
		return Result{CleanedText: raw}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	var b strings.Builder
	calls := make([]chat.ToolCall, 0, len(matches))
	prev := 0
	for _, m := range matches {
		b.WriteString(raw[prev:m.start])
		b.WriteString(m.placeholder)
		prev = m.end
		calls = append(calls, m.call)
	}
	b.WriteString(raw[prev:])

	cleaned := extraNewlines.ReplaceAllString(b.String(), "\n\n")

	p.logger.Debug("extracted tool calls", "count", len(calls))
	return Result{CleanedText: strings.TrimSpace(cleaned), ToolCalls: calls}
}

func toolPlaceholder(name string) string {
	return "[tool: " + name + "]"
}

// fragment returns the JSON-ish text at the start of s and how much of s it
// spans. An opening code fence is skipped and its closing fence consumed.
// Balanced objects end at their closing brace; anything else runs to the
// first blank line or the next result label.
func fragment(s string) (string, int) {
	skip := len(s) - len(strings.TrimLeft(s, " \t\r\n"))
	fenced := false
	if loc := openFence.FindStringIndex(s); loc != nil {
		skip, fenced = loc[1], true
	}

	if n := scanObject(s[skip:]); n > 0 {
		end := skip + n
		if fenced {
			if loc := closeFence.FindStringIndex(s[end:]); loc != nil {
				end += loc[1]
			}
		}
		return s[skip : skip+n], end
	}

	if fenced {
		if i := strings.Index(s[skip:], "```"); i >= 0 {
			return strings.TrimSpace(s[skip : skip+i]), skip + i + 3
		}
	}
	end := strings.Index(s, "\n\n")
	if end < 0 {
		end = len(s)
	}
	if loc := nextResult.FindStringIndex(s[:end]); loc != nil && loc[0] > 0 {
		end = loc[0]
	}
	return strings.TrimRight(s[:end], " \t\r\n"), end
}

func (p *Parser) canonicalBlocks(text string) []match {
	headers := callHeader.FindAllStringSubmatchIndex(text, -1)
	var out []match

	for i, h := range headers {
		limit := len(text)
		if i+1 < len(headers) {
			limit = headers[i+1][0]
		}
		name := text[h[2]:h[3]]
		pos := h[1]

		loc := argsLabel.FindStringIndex(text[pos:limit])
		if loc == nil {
			continue
		}
		pos += loc[1]
		argsText, n := fragment(text[pos:limit])
		pos += n

		call := chat.NewToolCall(name, nil)
		args, ok := repairObject(argsText)
		if ok {
			call.Arguments = args
		} else {
			p.logger.Warn("unrecoverable tool arguments", "tool_name", name)
		}

		if loc := resultLabel.FindStringIndex(text[pos:limit]); loc != nil {
			pos += loc[1]
			resultText, n := fragment(text[pos:limit])
			pos += n

			if result, rok := repairObject(resultText); rok {
				call.Result = result
				call.Status = outcomeStatus(result)
			} else {
				p.logger.Warn("unrecoverable tool result", "tool_name", name)
				call.Result = map[string]any{}
				call.Status = chat.StatusError
			}
		} else {
			call.Status = chat.StatusPending
		}

		if !ok {
			call.Status = chat.StatusError
			if call.Result == nil {
				call.Result = map[string]any{"error": "could not parse arguments"}
			}
		}

		out = append(out, match{
			span:        span{start: h[0], end: pos},
			call:        call,
			placeholder: toolPlaceholder(name),
		})
	}
	return out
}

// outcomeStatus reads a recorded result: an "error" entry or success=false
// marks a failed call.
func outcomeStatus(result map[string]any) chat.Status {
	if e, ok := result["error"]; ok && e != nil && e != false && e != "" {
		return chat.StatusError
	}
	if s, ok := result["success"].(bool); ok && !s {
		return chat.StatusError
	}
	return chat.StatusSuccess
}

// bracketedCalls matches "[Calling X with arguments {...}]". The arguments
// end at their balanced closing brace so several markers can share a line.
// When the braces never balance the marker runs to the first "]" on its line.
func (p *Parser) bracketedCalls(text string) []match {
	var out []match
	end := 0
	for _, m := range bracketed.FindAllStringSubmatchIndex(text, -1) {
		if m[0] < end {
			continue
		}
		name := text[m[2]:m[3]]
		argsStart := m[1] - 1

		var argsText string
		if n := scanObject(text[argsStart:]); n > 0 {
			loc := bracketClose.FindStringIndex(text[argsStart+n:])
			if loc == nil {
				continue
			}
			argsText = text[argsStart : argsStart+n]
			end = argsStart + n + loc[1]
		} else {
			line := text[argsStart:]
			if nl := strings.IndexByte(line, '\n'); nl >= 0 {
				line = line[:nl]
			}
			rb := strings.IndexByte(line, ']')
			if rb < 0 {
				continue
			}
			argsText = line[:rb]
			end = argsStart + rb + 1
		}

		call := chat.NewToolCall(name, nil)
		if args, ok := repairObject(argsText); ok {
			call.Arguments = args
		} else {
			p.logger.Warn("unrecoverable tool arguments", "tool_name", name)
			call.Fail("could not parse arguments")
		}
		out = append(out, match{
			span:        span{start: m[0], end: end},
			call:        call,
			placeholder: toolPlaceholder(name),
		})
	}
	return out
}

// narrativeMentions never looks inside fenced code, which belongs to the
// render_code call for that fence.
func (p *Parser) narrativeMentions(text string) []match {
	var fenced claims
	for _, f := range fence.FindAllStringIndex(text, -1) {
		fenced = append(fenced, span{start: f[0], end: f[1]})
	}

	var out []match
	for _, m := range narrative.FindAllStringSubmatchIndex(text, -1) {
		if !fenced.free(span{start: m[0], end: m[1]}) {
			continue
		}
		name := text[m[2]:m[3]]
		call := chat.NewToolCall(name, nil)
		call.Status = chat.StatusSuccess
		call.Result = map[string]any{"note": NarrativeNote}
		out = append(out, match{
			span:        span{start: m[0], end: m[1]},
			call:        call,
			placeholder: toolPlaceholder(name),
		})
	}
	return out
}

func (p *Parser) codeFences(text string) []match {
	var out []match
	for _, m := range fence.FindAllStringSubmatchIndex(text, -1) {
		lang := text[m[2]:m[3]]
		code := text[m[4]:m[5]]
		call := chat.NewToolCall(RenderCodeTool, map[string]any{
			"language": lang,
			"code":     strings.TrimSuffix(code, "\n"),
		})
		call.Status = chat.StatusSuccess

		placeholder := "[code]"
		if lang != "" {
			placeholder = "[code: " + lang + "]"
		}
		out = append(out, match{
			span:        span{start: m[0], end: m[1]},
			call:        call,
			placeholder: placeholder,
		})
	}
	return out
}
