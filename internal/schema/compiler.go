// ABOUTME: Compiles JSON-Schema tool input descriptions into runtime validators.
// ABOUTME: Never fails: unsupported shapes degrade to permissive nodes with a logged warning.

package schema

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Compiler turns schema documents into Validators.
type Compiler struct {
	logger *slog.Logger
}

// NewCompiler creates a Compiler. A nil logger uses slog.Default.
func NewCompiler(logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{logger: logger}
}

// Validator checks values against one compiled schema.
type Validator struct {
	root     node
	warnings []string
}

// Validate returns the value unchanged when it satisfies the schema,
// otherwise a *ValidationError listing every violation found.
func (v *Validator) Validate(value any) (any, error) {
	if violations := v.root.check("", value); len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return value, nil
}

// Warnings lists the simplifications applied while compiling.
func (v *Validator) Warnings() []string {
	return v.warnings
}

// Compile parses a raw schema document and compiles it.
// Empty or unparseable input compiles to a validator that accepts anything.
func (c *Compiler) Compile(raw json.RawMessage) *Validator {
	b := &builder{logger: c.logger}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return &Validator{root: anyNode{}}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		b.warn("", fmt.Sprintf("schema is not valid JSON (%v), accepting any value", err))
		return &Validator{root: anyNode{}, warnings: b.warnings}
	}
	root := b.compile("", doc)
	return &Validator{root: root, warnings: b.warnings}
}

// CompileValue compiles an already decoded schema document.
func (c *Compiler) CompileValue(doc any) *Validator {
	b := &builder{logger: c.logger}
	root := b.compile("", doc)
	return &Validator{root: root, warnings: b.warnings}
}

// builder carries per-compilation state.
type builder struct {
	logger   *slog.Logger
	warnings []string
}

func (b *builder) warn(path, msg string) {
	if path != "" {
		msg = path + ": " + msg
	}
	b.warnings = append(b.warnings, msg)
	b.logger.Warn("schema compile warning", "detail", msg)
}

func (b *builder) compile(path string, doc any) node {
	switch d := doc.(type) {
	case nil:
		return anyNode{}
	case bool:
		if d {
			return anyNode{}
		}
		return neverNode{}
	case map[string]any:
		return b.compileObject(path, d)
	default:
		b.warn(path, fmt.Sprintf("unrecognized schema node of type %T, accepting any value", doc))
		return anyNode{}
	}
}

func (b *builder) compileObject(path string, m map[string]any) node {
	if ref, ok := m["$ref"]; ok {
		b.warn(path, fmt.Sprintf("$ref %v is not supported, accepting any value", ref))
		return anyNode{}
	}

	var parts []node

	switch t := m["type"].(type) {
	case string:
		parts = append(parts, b.compileTyped(path, t, m))
	case []any:
		alts := make([]node, 0, len(t))
		for _, item := range t {
			name, ok := item.(string)
			if !ok {
				b.warn(path, fmt.Sprintf("ignoring non-string type entry %v", item))
				continue
			}
			alts = append(alts, b.compileTyped(path, name, m))
		}
		if len(alts) > 0 {
			parts = append(parts, unionNode{alts: alts})
		}
	case nil:
		if inferred := inferType(m); inferred != "" {
			parts = append(parts, b.compileTyped(path, inferred, m))
		} else if en, ok := enumValues(m); ok {
			parts = append(parts, enumNode{values: en})
		}
	default:
		b.warn(path, fmt.Sprintf("unrecognized type keyword %v, accepting any value", t))
	}

	for _, key := range []string{"oneOf", "anyOf"} {
		if alts, ok := m[key].([]any); ok && len(alts) > 0 {
			u := unionNode{alts: make([]node, len(alts))}
			for i, alt := range alts {
				u.alts[i] = b.compile(fmt.Sprintf("%s/%s[%d]", path, key, i), alt)
			}
			parts = append(parts, u)
		}
	}

	if all, ok := m["allOf"].([]any); ok && len(all) > 0 {
		a := allNode{parts: make([]node, len(all))}
		for i, member := range all {
			a.parts[i] = b.compile(fmt.Sprintf("%s/allOf[%d]", path, i), member)
		}
		parts = append(parts, a)
	}

	switch len(parts) {
	case 0:
		return anyNode{}
	case 1:
		return parts[0]
	default:
		return allNode{parts: parts}
	}
}

// inferType guesses the type of an untyped node from its keywords.
func inferType(m map[string]any) string {
	switch {
	case m["properties"] != nil || m["required"] != nil:
		return "object"
	case m["items"] != nil || m["prefixItems"] != nil:
		return "array"
	default:
		return ""
	}
}

func (b *builder) compileTyped(path, typ string, m map[string]any) node {
	en, hasEnum := enumValues(m)

	switch typ {
	case "string":
		if hasEnum {
			return enumNode{values: en, kind: "string"}
		}
		n := stringNode{format: stringValue(m, "format")}
		n.minLen, n.hasMin = intValue(m, "minLength")
		n.maxLen, n.hasMax = intValue(m, "maxLength")
		if p := stringValue(m, "pattern"); p != "" {
			re, err := regexp.Compile(p)
			if err != nil {
				b.warn(path, fmt.Sprintf("pattern %q is not supported (%v), ignoring it", p, err))
			} else {
				n.pattern = re
			}
		}
		return n

	case "number", "integer":
		if hasEnum {
			return enumNode{values: en, kind: typ}
		}
		n := numberNode{integer: typ == "integer"}
		n.min, n.hasMin = floatValue(m, "minimum")
		n.max, n.hasMax = floatValue(m, "maximum")
		n.exclMin, n.hasExclMin = floatValue(m, "exclusiveMinimum")
		n.exclMax, n.hasExclMax = floatValue(m, "exclusiveMaximum")
		return n

	case "boolean":
		if hasEnum {
			return enumNode{values: en, kind: typ}
		}
		return boolNode{}

	case "null":
		return nullNode{}

	case "array":
		return b.compileArray(path, m)

	case "object":
		return b.compileProperties(path, m)

	default:
		b.warn(path, fmt.Sprintf("unknown type %q, accepting any value", typ))
		return anyNode{}
	}
}

func (b *builder) compileArray(path string, m map[string]any) node {
	n := arrayNode{}
	n.minItems, n.hasMin = intValue(m, "minItems")
	n.maxItems, n.hasMax = intValue(m, "maxItems")

	_, hasPrefix := m["prefixItems"]
	switch items := m["items"].(type) {
	case []any:
		b.warn(path, "tuple item schemas are not supported, accepting any array")
		return arrayNode{}
	case nil:
		if hasPrefix {
			b.warn(path, "tuple item schemas are not supported, accepting any array")
			return arrayNode{}
		}
	default:
		n.items = b.compile(path+"[]", items)
	}
	return n
}

func (b *builder) compileProperties(path string, m map[string]any) node {
	n := objectNode{props: map[string]node{}}
	if props, ok := m["properties"].(map[string]any); ok {
		for name := range props {
			n.names = append(n.names, name)
		}
		sort.Strings(n.names)
		for _, name := range n.names {
			n.props[name] = b.compile(joinPath(path, name), props[name])
		}
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				n.required = append(n.required, name)
			}
		}
	}
	return n
}

func enumValues(m map[string]any) ([]any, bool) {
	if c, ok := m["const"]; ok {
		return []any{c}, true
	}
	if e, ok := m["enum"].([]any); ok {
		return e, true
	}
	return nil, false
}

func stringValue(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func floatValue(m map[string]any, key string) (float64, bool) {
	return toFloat(m[key])
}

func intValue(m map[string]any, key string) (int, bool) {
	f, ok := toFloat(m[key])
	if !ok {
		return 0, false
	}
	return int(f), true
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}
