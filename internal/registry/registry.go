// ABOUTME: Thread-safe registry of tool server connections keyed by normalized ID.
// ABOUTME: Handles connect with exponential-backoff retries, disconnect, tool aggregation and call routing.

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/toolchat-gateway/internal/mcp"
)

// ErrConnectionFailed indicates a server could not be started or initialized
// after every retry.
var ErrConnectionFailed = errors.New("connection failed")

// ErrConnectionAbandoned indicates the server was disconnected while a
// connect attempt was still retrying.
var ErrConnectionAbandoned = errors.New("connection attempt abandoned")

// ErrServerNotFound indicates no record exists for the server ID.
var ErrServerNotFound = errors.New("server not found")

// ErrNotConnected indicates the owning server is known but not connected.
var ErrNotConnected = errors.New("server not connected")

// ErrToolNotFound indicates no connected server advertises the tool.
var ErrToolNotFound = errors.New("tool not found")

// ErrInvalidServerID indicates an ID that normalizes to nothing.
var ErrInvalidServerID = errors.New("invalid server id")

// Default retry policy.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// Catalog persists the spawn specs of known servers.
type Catalog interface {
	Lookup(id string) (mcp.SpawnSpec, bool)
	Add(id string, spec mcp.SpawnSpec) error
}

// ServerInfo is a snapshot of one connection record.
type ServerInfo struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Connected         bool       `json:"connected"`
	Tools             []mcp.Tool `json:"tools"`
	ReconnectAttempts int        `json:"reconnectAttempts"`
}

// connection is the single record kept per normalized ID.
type connection struct {
	id        string // normalized
	name      string // as first supplied by the caller, for display
	spec      mcp.SpawnSpec
	client    mcp.Client
	tools     []mcp.Tool
	connected bool
	attempts  int
}

func (c *connection) info() ServerInfo {
	tools := make([]mcp.Tool, len(c.tools))
	copy(tools, c.tools)
	return ServerInfo{
		ID:                c.id,
		Name:              c.name,
		Connected:         c.connected,
		Tools:             tools,
		ReconnectAttempts: c.attempts,
	}
}

// attempt marks an in-flight connect series. Later callers for the same ID
// wait on done and share the outcome. Disconnect drops it from the pending
// table, which turns the remaining retries into no-ops.
type attempt struct {
	started time.Time
	waiters int
	done    chan struct{}
	info    ServerInfo
	err     error
}

// Config configures a Registry.
type Config struct {
	Dialer  mcp.Dialer
	Catalog Catalog
	Logger  *slog.Logger
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int
	BaseDelay  time.Duration
	// Sleep waits between retries. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Registry owns every tool server connection.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*connection
	order   []string // normalized IDs in first-connect order
	pending map[string]*attempt

	dialer     mcp.Dialer
	catalog    Catalog
	logger     *slog.Logger
	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a Registry. A zero MaxRetries or BaseDelay takes the default.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Registry{
		conns:      make(map[string]*connection),
		pending:    make(map[string]*attempt),
		dialer:     cfg.Dialer,
		catalog:    cfg.Catalog,
		logger:     logger.With("component", "registry"),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleep,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Connect starts the server described by spec and registers its tools under
// the normalized form of id. Failed attempts are retried with exponential
// backoff; after the last retry the record (if any) is marked disconnected
// and ErrConnectionFailed is returned. Connecting an ID that is already
// connected replaces the old session. A Connect for an ID whose series is
// still running joins that series and returns its outcome; its own spec is
// ignored.
func (r *Registry) Connect(ctx context.Context, id string, spec mcp.SpawnSpec) (ServerInfo, error) {
	key := Normalize(id)
	if key == "" {
		return ServerInfo{}, fmt.Errorf("%w: %q", ErrInvalidServerID, id)
	}
	if r.dialer == nil {
		return ServerInfo{}, fmt.Errorf("%w: no dialer configured", ErrConnectionFailed)
	}

	token, owner := r.beginAttempt(key)
	if !owner {
		r.logger.Debug("joining in-flight connection",
			"server_id", key,
			"running_for", time.Since(token.started),
		)
		select {
		case <-token.done:
			return token.info, token.err
		case <-ctx.Done():
			return ServerInfo{}, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, key, ctx.Err())
		}
	}

	info, err := r.connectSeries(ctx, key, id, spec, token)
	r.endAttempt(key, token, info, err)
	return info, err
}

// connectSeries dials with retries while token stays pending.
func (r *Registry) connectSeries(ctx context.Context, key, id string, spec mcp.SpawnSpec, token *attempt) (ServerInfo, error) {
	var lastErr error
	for n := 0; n <= r.maxRetries; n++ {
		if n > 0 {
			delay := r.baseDelay << (n - 1)
			r.logger.Warn("retrying tool server connection",
				"server_id", key,
				"attempt", n+1,
				"delay", delay,
				"error", lastErr,
			)
			if err := r.sleep(ctx, delay); err != nil {
				return ServerInfo{}, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, key, err)
			}
			if !r.stillPending(key, token) {
				return ServerInfo{}, fmt.Errorf("%w: %s", ErrConnectionAbandoned, key)
			}
		}

		client, tools, err := r.dial(ctx, key, spec)
		if err == nil {
			if !r.stillPending(key, token) {
				_ = client.Close()
				return ServerInfo{}, fmt.Errorf("%w: %s", ErrConnectionAbandoned, key)
			}
			return r.install(key, id, spec, client, tools, n), nil
		}
		lastErr = err
		r.recordFailure(key, n+1)
	}

	r.markFailed(key)
	return ServerInfo{}, fmt.Errorf("%w: %s after %d attempts: %v", ErrConnectionFailed, key, r.maxRetries+1, lastErr)
}

func (r *Registry) dial(ctx context.Context, key string, spec mcp.SpawnSpec) (mcp.Client, []mcp.Tool, error) {
	client, err := r.dialer.Dial(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("listing tools: %w", err)
	}
	for i := range tools {
		tools[i].Server = key
	}
	return client, tools, nil
}

// beginAttempt registers a connect series for key. If one is already in
// flight it is returned with owner false.
func (r *Registry) beginAttempt(key string) (token *attempt, owner bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if running, ok := r.pending[key]; ok {
		running.waiters++
		return running, false
	}
	token = &attempt{started: time.Now(), done: make(chan struct{})}
	r.pending[key] = token
	return token, true
}

// endAttempt publishes the outcome to joined callers and clears the pending
// entry unless Disconnect already dropped it.
func (r *Registry) endAttempt(key string, token *attempt, info ServerInfo, err error) {
	token.info, token.err = info, err
	close(token.done)

	r.mu.Lock()
	if r.pending[key] == token {
		delete(r.pending, key)
	}
	r.mu.Unlock()
}

func (r *Registry) stillPending(key string, token *attempt) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending[key] == token
}

func (r *Registry) recordFailure(key string, attempts int) {
	r.mu.Lock()
	if c, ok := r.conns[key]; ok {
		c.attempts = attempts
	}
	r.mu.Unlock()
}

// markFailed flips an existing record to disconnected and drops its session.
// IDs that never connected get no record.
func (r *Registry) markFailed(key string) {
	r.mu.Lock()
	c, ok := r.conns[key]
	var old mcp.Client
	if ok {
		old = c.client
		c.client = nil
		c.tools = nil
		c.connected = false
	}
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	r.logger.Error("tool server unreachable", "server_id", key)
}

func (r *Registry) install(key, name string, spec mcp.SpawnSpec, client mcp.Client, tools []mcp.Tool, retries int) ServerInfo {
	r.mu.Lock()
	c, exists := r.conns[key]
	var old mcp.Client
	if exists {
		old = c.client
	} else {
		c = &connection{id: key, name: name}
		r.conns[key] = c
		r.order = append(r.order, key)
	}
	c.spec = spec
	c.client = client
	c.tools = tools
	c.connected = true
	c.attempts = retries
	info := c.info()
	total := len(r.conns)
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	r.logger.Info("=== SERVER CONNECTED ===",
		"server_id", key,
		"name", name,
		"tool_count", len(tools),
		"retries", retries,
		"total_servers", total,
	)
	return info
}

// Disconnect closes the server's session and removes its record and tools.
// It also abandons any connect series still retrying for the ID. It returns
// whether anything was removed; either way the call succeeds.
func (r *Registry) Disconnect(id string) bool {
	key := Normalize(id)

	r.mu.Lock()
	c, exists := r.conns[key]
	_, retrying := r.pending[key]
	delete(r.pending, key)
	if exists {
		delete(r.conns, key)
		for i, k := range r.order {
			if k == key {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	total := len(r.conns)
	r.mu.Unlock()

	if !exists {
		if retrying {
			r.logger.Info("abandoned pending connection", "server_id", key)
		}
		return retrying
	}

	if c.client != nil {
		if err := c.client.Close(); err != nil {
			r.logger.Warn("error closing tool server", "server_id", key, "error", err)
		}
	}

	r.logger.Info("=== SERVER DISCONNECTED ===",
		"server_id", key,
		"total_servers", total,
	)
	return true
}

// IsConnected reports whether the server is currently connected.
func (r *Registry) IsConnected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[Normalize(id)]
	return ok && c.connected
}

// GetTools returns the tools of one server, or nil if it is not connected.
func (r *Registry) GetTools(id string) []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[Normalize(id)]
	if !ok || !c.connected {
		return nil
	}
	tools := make([]mcp.Tool, len(c.tools))
	copy(tools, c.tools)
	return tools
}

// GetAllTools returns the tools of every connected server, deduplicated by
// name. When two servers publish the same name the earlier-connected wins.
func (r *Registry) GetAllTools() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var tools []mcp.Tool
	for _, key := range r.order {
		c := r.conns[key]
		if !c.connected {
			continue
		}
		for _, t := range c.tools {
			if _, dup := seen[t.Name]; dup {
				continue
			}
			seen[t.Name] = struct{}{}
			tools = append(tools, t)
		}
	}
	return tools
}

// FindTool resolves a tool name to the descriptor that GetAllTools would list.
func (r *Registry) FindTool(name string) (mcp.Tool, bool) {
	for _, t := range r.GetAllTools() {
		if t.Name == name {
			return t, true
		}
	}
	return mcp.Tool{}, false
}

// CallTool routes a call to the server that owns the tool.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {
	tool, ok := r.FindTool(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	r.mu.RLock()
	c, exists := r.conns[tool.Server]
	var client mcp.Client
	if exists && c.connected {
		client = c.client
	}
	r.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, tool.Server)
	}

	r.logger.Debug("routing tool call", "tool_name", name, "server_id", tool.Server)
	return client.CallTool(ctx, name, args)
}

// Spec returns the spawn spec a server was last connected with.
func (r *Registry) Spec(id string) (mcp.SpawnSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[Normalize(id)]
	if !ok {
		return mcp.SpawnSpec{}, false
	}
	return c.spec, true
}

// Get returns a snapshot of one record.
func (r *Registry) Get(id string) (ServerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[Normalize(id)]
	if !ok {
		return ServerInfo{}, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return c.info(), nil
}

// List returns snapshots of every record in first-connect order.
func (r *Registry) List() []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerInfo, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.conns[key].info())
	}
	return out
}

// Close disconnects every server. Called during graceful shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*connection)
	r.order = nil
	r.pending = make(map[string]*attempt)
	r.mu.Unlock()

	for key, c := range conns {
		if c.client == nil {
			continue
		}
		if err := c.client.Close(); err != nil {
			r.logger.Warn("error closing tool server", "server_id", key, "error", err)
		}
	}
	r.logger.Info("registry closed", "servers_closed", len(conns))
}
