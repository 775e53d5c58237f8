// ABOUTME: Persistent registry file mapping server IDs to spawn specs.
// ABOUTME: Reads and writes JSON, YAML or TOML depending on the file extension.

package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/toolchat-gateway/internal/mcp"
	"github.com/2389/toolchat-gateway/internal/registry"
)

// ErrUnsupportedFormat indicates a registry file extension we cannot read.
var ErrUnsupportedFormat = errors.New("unsupported catalog format")

// Entry is one server definition as stored in the file.
type Entry struct {
	// Enabled defaults to true when omitted.
	Enabled *bool             `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	Command string            `json:"command" yaml:"command" toml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
}

// IsEnabled reports whether the server should be connected at startup.
func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// document is the on-disk layout, compatible with the common mcpServers file.
type document struct {
	Servers map[string]Entry `json:"mcpServers" yaml:"mcpServers" toml:"mcpServers"`
}

// Server pairs a normalized ID with its resolved spawn spec.
type Server struct {
	ID      string
	Name    string
	Enabled bool
	Spec    mcp.SpawnSpec
}

type format int

const (
	formatJSON format = iota
	formatYAML
	formatTOML
)

func formatFor(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", "":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".toml":
		return formatTOML, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Catalog is the in-memory view of the registry file.
type Catalog struct {
	mu      sync.RWMutex
	path    string
	format  format
	entries map[string]Entry  // keyed as written in the file
	index   map[string]string // normalized ID -> file key
	logger  *slog.Logger
}

// Load reads the registry file at path. A missing file yields an empty
// catalog that will be created on the first Add.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := formatFor(path)
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		path:    path,
		format:  f,
		entries: make(map[string]Entry),
		index:   make(map[string]string),
		logger:  logger.With("component", "catalog"),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Debug("server registry not found, starting empty", "path", path)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading server registry: %w", err)
	}

	var doc document
	if err := c.decode(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing server registry %s: %w", path, err)
	}

	// Keys are visited in sorted order so the kept duplicate is stable.
	keys := make([]string, 0, len(doc.Servers))
	for key := range doc.Servers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry := doc.Servers[key]
		id := registry.Normalize(key)
		if id == "" {
			c.logger.Warn("skipping server with empty id", "key", key)
			continue
		}
		if prev, dup := c.index[id]; dup {
			c.logger.Warn("duplicate server id in registry, keeping first",
				"id", id, "kept", prev, "ignored", key)
			continue
		}
		c.entries[key] = entry
		c.index[id] = key
	}

	c.logger.Info("loaded server registry", "path", path, "servers", len(c.entries))
	return c, nil
}

func (c *Catalog) decode(data []byte, doc *document) error {
	switch c.format {
	case formatYAML:
		return yaml.Unmarshal(data, doc)
	case formatTOML:
		_, err := toml.Decode(string(data), doc)
		return err
	default:
		return json.Unmarshal(data, doc)
	}
}

func (c *Catalog) encode(doc document) ([]byte, error) {
	switch c.format {
	case formatYAML:
		return yaml.Marshal(doc)
	case formatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(out, '\n'), nil
	}
}

// Path returns the file backing the catalog.
func (c *Catalog) Path() string {
	return c.path
}

// Lookup returns the spawn spec for id, with ${VAR} references in the
// environment expanded.
func (c *Catalog) Lookup(id string) (mcp.SpawnSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.index[registry.Normalize(id)]
	if !ok {
		return mcp.SpawnSpec{}, false
	}
	return toSpec(c.entries[key]), true
}

// Add stores a new server and rewrites the file. Adding an ID that already
// exists replaces its command but keeps its enabled flag.
func (c *Catalog) Add(id string, spec mcp.SpawnSpec) error {
	norm := registry.Normalize(id)
	if norm == "" {
		return fmt.Errorf("%w: %q", registry.ErrInvalidServerID, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key, exists := c.index[norm]
	entry := Entry{Command: spec.Command, Args: spec.Args, Env: spec.Env}
	if exists {
		entry.Enabled = c.entries[key].Enabled
	} else {
		key = id
	}

	c.entries[key] = entry
	c.index[norm] = key

	if err := c.save(); err != nil {
		return err
	}
	c.logger.Info("added server to registry", "id", norm, "command", spec.Command)
	return nil
}

// save writes the catalog atomically. Caller holds the write lock.
func (c *Catalog) save() error {
	data, err := c.encode(document{Servers: c.entries})
	if err != nil {
		return fmt.Errorf("encoding server registry: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".servers-*")
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing server registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing server registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replacing server registry: %w", err)
	}
	return nil
}

// Servers lists every entry sorted by ID.
func (c *Catalog) Servers() []Server {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Server, 0, len(c.index))
	for id, key := range c.index {
		entry := c.entries[key]
		out = append(out, Server{
			ID:      id,
			Name:    key,
			Enabled: entry.IsEnabled(),
			Spec:    toSpec(entry),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Enabled lists the entries to connect at startup, sorted by ID.
func (c *Catalog) Enabled() []Server {
	var out []Server
	for _, s := range c.Servers() {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

func toSpec(e Entry) mcp.SpawnSpec {
	spec := mcp.SpawnSpec{Command: e.Command}
	if len(e.Args) > 0 {
		spec.Args = append([]string(nil), e.Args...)
	}
	if len(e.Env) > 0 {
		spec.Env = make(map[string]string, len(e.Env))
		for k, v := range e.Env {
			spec.Env[k] = envRef.ReplaceAllStringFunc(v, func(m string) string {
				return os.Getenv(envRef.FindStringSubmatch(m)[1])
			})
		}
	}
	return spec
}
