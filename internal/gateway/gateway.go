// ABOUTME: Gateway orchestrator that wires the registry, approval gate, model and HTTP API
// ABOUTME: Manages startup auto-connect, the HTTP server lifecycle and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/toolchat-gateway/internal/api"
	"github.com/2389/toolchat-gateway/internal/approval"
	"github.com/2389/toolchat-gateway/internal/auth"
	"github.com/2389/toolchat-gateway/internal/catalog"
	"github.com/2389/toolchat-gateway/internal/config"
	"github.com/2389/toolchat-gateway/internal/conversation"
	"github.com/2389/toolchat-gateway/internal/llm"
	"github.com/2389/toolchat-gateway/internal/mcp"
	"github.com/2389/toolchat-gateway/internal/parser"
	"github.com/2389/toolchat-gateway/internal/registry"
	"github.com/2389/toolchat-gateway/internal/schema"
	"github.com/2389/toolchat-gateway/internal/store"
)

// Gateway orchestrates the toolchat-gateway server components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	catalog      *catalog.Catalog
	registry     *registry.Registry
	gate         *approval.Gate
	conversation *conversation.Service
	broadcaster  *conversation.Broadcaster
	mcpServer    *mcp.Server
	handler      http.Handler
	httpServer   *http.Server
	logger       *slog.Logger

	// connecting tracks the startup auto-connect so shutdown can wait for it.
	connecting sync.WaitGroup

	// dialer and provider may be replaced through options, mainly in tests.
	dialer   mcp.Dialer
	provider llm.Provider
	version  string
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithDialer replaces the stdio process dialer.
func WithDialer(d mcp.Dialer) Option {
	return func(g *Gateway) { g.dialer = d }
}

// WithProvider replaces the configured language model provider.
func WithProvider(p llm.Provider) Option {
	return func(g *Gateway) { g.provider = p }
}

// WithVersion sets the version reported to tool servers and MCP clients.
func WithVersion(v string) Option {
	return func(g *Gateway) { g.version = v }
}

// initStore creates and returns a store based on config.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initVerifier returns a token verifier when a JWT secret is configured.
func initVerifier(cfg *config.Config, logger *slog.Logger) (auth.TokenVerifier, error) {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth disabled - no jwt_secret configured")
		return nil, nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	logger.Info("bearer token auth enabled")
	return verifier, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		config:  cfg,
		logger:  logger.With("component", "gateway"),
		version: "dev",
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.dialer == nil {
		g.dialer = &mcp.StdioDialer{
			ClientName:    "toolchat-gateway",
			ClientVersion: g.version,
			Logger:        logger,
		}
	}
	if g.provider == nil {
		provider, err := llm.New(llm.Config{
			Provider:     cfg.LLM.Provider,
			BaseURL:      cfg.LLM.BaseURL,
			APIKey:       cfg.LLM.APIKey,
			Model:        cfg.LLM.Model,
			SystemPrompt: cfg.LLM.SystemPrompt,
			MaxTokens:    cfg.LLM.MaxTokens,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating language model provider: %w", err)
		}
		g.provider = provider
	}

	cat, err := catalog.Load(cfg.Servers.RegistryPath, logger)
	if err != nil {
		return nil, fmt.Errorf("loading server registry: %w", err)
	}
	g.catalog = cat

	mode, err := approval.ParseMode(cfg.Approval.Mode)
	if err != nil {
		return nil, err
	}

	verifier, err := initVerifier(cfg, g.logger)
	if err != nil {
		return nil, err
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	g.store = s

	g.registry = registry.New(registry.Config{
		Dialer:     g.dialer,
		Catalog:    cat,
		Logger:     logger,
		MaxRetries: cfg.Servers.MaxReconnectAttempts,
		BaseDelay:  cfg.Servers.ReconnectBaseDelay,
	})

	g.gate = approval.New(approval.Config{
		Mode:    mode,
		Timeout: cfg.Approval.Timeout,
		Logger:  logger,
	})

	g.broadcaster = conversation.NewBroadcaster(logger)
	g.conversation = conversation.New(conversation.Config{
		Store:         s,
		Tools:         g.registry,
		Approver:      g.gate,
		Parser:        parser.New(parser.Options{NarrativeMentions: cfg.Parser.NarrativeEnabled()}, logger),
		Provider:      g.provider,
		Compiler:      schema.NewCompiler(logger),
		Broadcaster:   g.broadcaster,
		MaxToolRounds: cfg.LLM.MaxToolRounds,
		Logger:        logger,
	})

	g.mcpServer, err = mcp.NewServer(mcp.ServerConfig{
		Tools:         g.registry,
		Runner:        g.conversation,
		Logger:        logger,
		TokenVerifier: verifier,
		RequireAuth:   verifier != nil,
		Version:       g.version,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	g.handler = api.New(api.Config{
		Registry:      g.registry,
		Catalog:       cat,
		Conversations: g.conversation,
		Approvals:     g.gate,
		Events:        g.broadcaster,
		MCP:           g.mcpServer,
		Verifier:      verifier,
		Logger:        logger,
	})
	g.httpServer = &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.logger.Info("gateway initialized",
		"provider", g.provider.Name(),
		"model", cfg.LLM.Model,
		"approval_mode", mode,
		"registry_path", cat.Path(),
	)
	return g, nil
}

// Handler returns the HTTP handler serving the API.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// AutoConnect connects every enabled server from the registry file.
// Failures are logged and do not stop the remaining connections.
func (g *Gateway) AutoConnect(ctx context.Context) int {
	connected := 0
	for _, s := range g.catalog.Enabled() {
		if ctx.Err() != nil {
			break
		}
		if _, err := g.registry.Connect(ctx, s.Name, s.Spec); err != nil {
			g.logger.Warn("auto-connect failed", "server_id", s.ID, "error", err)
			continue
		}
		connected++
	}
	g.logger.Info("auto-connect finished", "connected", connected)
	return connected
}

// Run starts the HTTP server and the startup auto-connect, and blocks until
// the context is canceled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	connectCtx, cancelConnect := context.WithCancel(ctx)
	defer cancelConnect()
	g.connecting.Add(1)
	go func() {
		defer g.connecting.Done()
		g.AutoConnect(connectCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}
	cancelConnect()

	// The original context is already canceled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases every component. Pending
// approvals are rejected first so in-flight chat requests can finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	if n := g.gate.RejectAll(); n > 0 {
		g.logger.Info("rejected pending approvals", "count", n)
	}

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.connecting.Wait()
	g.registry.Close()
	g.broadcaster.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
