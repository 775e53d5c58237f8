// ABOUTME: Runtime validator nodes produced by the schema compiler.
// ABOUTME: Each node reports violations with the dotted path of the offending value.

package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Violation describes one failed constraint.
type Violation struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ValidationError carries every violation found for a value.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		path := v.Path
		if path == "" {
			path = "(root)"
		}
		parts[i] = path + ": " + v.Reason
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type node interface {
	check(path string, v any) []Violation
}

func violation(path, format string, args ...any) []Violation {
	return []Violation{{Path: path, Reason: fmt.Sprintf(format, args...)}}
}

type anyNode struct{}

func (anyNode) check(string, any) []Violation { return nil }

type neverNode struct{}

func (neverNode) check(path string, _ any) []Violation {
	return violation(path, "no value is allowed here")
}

type nullNode struct{}

func (nullNode) check(path string, v any) []Violation {
	if v != nil {
		return violation(path, "expected null, got %s", describe(v))
	}
	return nil
}

type boolNode struct{}

func (boolNode) check(path string, v any) []Violation {
	if _, ok := v.(bool); !ok {
		return violation(path, "expected boolean, got %s", describe(v))
	}
	return nil
}

type stringNode struct {
	minLen, maxLen int
	hasMin, hasMax bool
	pattern        *regexp.Regexp
	format         string
}

func (n stringNode) check(path string, v any) []Violation {
	s, ok := v.(string)
	if !ok {
		return violation(path, "expected string, got %s", describe(v))
	}
	var out []Violation
	count := utf8.RuneCountInString(s)
	if n.hasMin && count < n.minLen {
		out = append(out, violation(path, "string shorter than %d characters", n.minLen)...)
	}
	if n.hasMax && count > n.maxLen {
		out = append(out, violation(path, "string longer than %d characters", n.maxLen)...)
	}
	if n.pattern != nil && !n.pattern.MatchString(s) {
		out = append(out, violation(path, "string does not match pattern %q", n.pattern.String())...)
	}
	if n.format != "" && !checkFormat(n.format, s) {
		out = append(out, violation(path, "string is not a valid %s", n.format)...)
	}
	return out
}

// checkFormat validates the formats we know about. Unknown formats pass.
func checkFormat(format, s string) bool {
	switch format {
	case "email":
		addr, err := mail.ParseAddress(s)
		return err == nil && addr.Address == s
	case "uri", "url":
		u, err := url.Parse(s)
		return err == nil && u.Scheme != "" && (u.Host != "" || u.Opaque != "" || u.Path != "")
	case "uuid":
		_, err := uuid.Parse(s)
		return err == nil
	case "date-time":
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	case "date":
		_, err := time.Parse(time.DateOnly, s)
		return err == nil
	default:
		return true
	}
}

type numberNode struct {
	integer                bool
	min, max               float64
	hasMin, hasMax         bool
	exclMin, exclMax       float64
	hasExclMin, hasExclMax bool
}

func (n numberNode) check(path string, v any) []Violation {
	f, ok := toFloat(v)
	if !ok {
		want := "number"
		if n.integer {
			want = "integer"
		}
		return violation(path, "expected %s, got %s", want, describe(v))
	}
	if n.integer && (math.IsInf(f, 0) || math.Trunc(f) != f) {
		return violation(path, "expected integer, got %v", f)
	}
	var out []Violation
	if n.hasMin && f < n.min {
		out = append(out, violation(path, "value %v is below minimum %v", f, n.min)...)
	}
	if n.hasMax && f > n.max {
		out = append(out, violation(path, "value %v is above maximum %v", f, n.max)...)
	}
	if n.hasExclMin && f <= n.exclMin {
		out = append(out, violation(path, "value %v must be greater than %v", f, n.exclMin)...)
	}
	if n.hasExclMax && f >= n.exclMax {
		out = append(out, violation(path, "value %v must be less than %v", f, n.exclMax)...)
	}
	return out
}

type enumNode struct {
	values []any
	kind   string
}

func (n enumNode) check(path string, v any) []Violation {
	for _, allowed := range n.values {
		if valuesEqual(allowed, v) {
			return nil
		}
	}
	return violation(path, "value %s is not one of %s", describe(v), describeList(n.values))
}

type arrayNode struct {
	items              node
	minItems, maxItems int
	hasMin, hasMax     bool
}

func (n arrayNode) check(path string, v any) []Violation {
	items, ok := asSlice(v)
	if !ok {
		return violation(path, "expected array, got %s", describe(v))
	}
	var out []Violation
	if n.hasMin && len(items) < n.minItems {
		out = append(out, violation(path, "array has fewer than %d items", n.minItems)...)
	}
	if n.hasMax && len(items) > n.maxItems {
		out = append(out, violation(path, "array has more than %d items", n.maxItems)...)
	}
	if n.items != nil {
		for i, item := range items {
			out = append(out, n.items.check(fmt.Sprintf("%s[%d]", path, i), item)...)
		}
	}
	return out
}

type objectNode struct {
	props    map[string]node
	names    []string // sorted keys of props
	required []string
}

// check enforces required properties and validates declared ones.
// Undeclared properties pass through untouched.
func (n objectNode) check(path string, v any) []Violation {
	obj, ok := v.(map[string]any)
	if !ok {
		return violation(path, "expected object, got %s", describe(v))
	}
	var out []Violation
	for _, name := range n.required {
		if _, present := obj[name]; !present {
			out = append(out, violation(joinPath(path, name), "required property is missing")...)
		}
	}
	for _, name := range n.names {
		if val, present := obj[name]; present {
			out = append(out, n.props[name].check(joinPath(path, name), val)...)
		}
	}
	return out
}

type unionNode struct {
	alts []node
}

// check accepts the value as soon as one alternative does.
func (n unionNode) check(path string, v any) []Violation {
	var reasons []string
	for _, alt := range n.alts {
		errs := alt.check(path, v)
		if len(errs) == 0 {
			return nil
		}
		reasons = append(reasons, errs[0].Reason)
	}
	return violation(path, "value matches none of the alternatives (%s)", strings.Join(reasons, " | "))
}

type allNode struct {
	parts []node
}

func (n allNode) check(path string, v any) []Violation {
	var out []Violation
	for _, p := range n.parts {
		out = append(out, p.check(path, v)...)
	}
	return out
}

// toFloat converts any Go numeric value (and json.Number) to float64.
// Booleans are not numbers.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func valuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func describe(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", t)
	case bool:
		return fmt.Sprintf("boolean %v", t)
	case map[string]any:
		return "object"
	}
	if _, ok := toFloat(v); ok {
		return fmt.Sprintf("number %v", v)
	}
	if _, ok := asSlice(v); ok {
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

func describeList(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = describe(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
