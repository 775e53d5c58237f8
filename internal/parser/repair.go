// ABOUTME: Recovery for malformed JSON fragments embedded in model output.
// ABOUTME: Applies one bounded repair pass; callers fall back to an empty object when it fails.

package parser

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	bareKey       = regexp.MustCompile(`([{,]\s*)([A-Za-z_$][A-Za-z0-9_$\-]*)(\s*:)`)
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// RepairJSON decodes s, repairing it once if the first attempt fails.
// The repair normalizes single-quoted strings, quotes bare object keys,
// strips trailing commas and clips to the outermost {...} span.
func RepairJSON(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, true
	}
	fixed := repair(s)
	if err := json.Unmarshal([]byte(fixed), &v); err == nil {
		return v, true
	}
	return nil, false
}

// repairObject is RepairJSON restricted to objects.
func repairObject(s string) (map[string]any, bool) {
	v, ok := RepairJSON(s)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func repair(s string) string {
	s = normalizeQuotes(s)
	s = outsideStrings(s, func(seg string) string {
		seg = bareKey.ReplaceAllString(seg, `$1"$2"$3`)
		return trailingComma.ReplaceAllString(seg, `$1`)
	})
	return clipObject(s)
}

// normalizeQuotes rewrites single-quoted strings as double-quoted ones.
// Apostrophes inside double-quoted strings are left alone.
func normalizeQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inDouble, inSingle, escaped := false, false, false

	for _, r := range s {
		switch {
		case escaped:
			escaped = false
			if inSingle && r == '\'' {
				// \' inside a single-quoted string is a plain apostrophe.
				b.WriteRune(r)
				continue
			}
			b.WriteRune('\\')
			b.WriteRune(r)
		case r == '\\' && (inDouble || inSingle):
			escaped = true
		case inDouble:
			if r == '"' {
				inDouble = false
			}
			b.WriteRune(r)
		case inSingle:
			switch r {
			case '\'':
				inSingle = false
				b.WriteRune('"')
			case '"':
				b.WriteString(`\"`)
			default:
				b.WriteRune(r)
			}
		case r == '"':
			inDouble = true
			b.WriteRune(r)
		case r == '\'':
			inSingle = true
			b.WriteRune('"')
		default:
			b.WriteRune(r)
		}
	}
	if escaped {
		b.WriteRune('\\')
	}
	return b.String()
}

// outsideStrings applies f to every segment of s that is not inside a
// double-quoted JSON string.
func outsideStrings(s string, f func(string) string) string {
	var b strings.Builder
	b.Grow(len(s))
	segStart := 0
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				b.WriteString(s[segStart : i+1])
				segStart = i + 1
			}
			continue
		}
		if c == '"' {
			b.WriteString(f(s[segStart:i]))
			segStart = i
			inString = true
		}
	}
	if inString {
		b.WriteString(s[segStart:])
	} else {
		b.WriteString(f(s[segStart:]))
	}
	return b.String()
}

func clipObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// scanObject returns the length of the balanced {...} object at the start
// of s, or -1 if the braces never balance. Braces inside strings are ignored.
func scanObject(s string) int {
	if len(s) == 0 || s[0] != '{' {
		return -1
	}
	depth := 0
	inString, escaped := false, false
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString, quote = true, c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
