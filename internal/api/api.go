// ABOUTME: REST surface of the gateway built on a chi router.
// ABOUTME: Exposes servers, chat sessions, approvals, live events and health probes.

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/toolchat-gateway/internal/approval"
	"github.com/2389/toolchat-gateway/internal/auth"
	"github.com/2389/toolchat-gateway/internal/catalog"
	"github.com/2389/toolchat-gateway/internal/chat"
	"github.com/2389/toolchat-gateway/internal/conversation"
	"github.com/2389/toolchat-gateway/internal/registry"
	"github.com/2389/toolchat-gateway/internal/store"
)

// Registry is the subset of the connection registry the API drives.
type Registry interface {
	ConnectRef(ctx context.Context, ref string) (registry.ServerInfo, error)
	// Disconnect is idempotent. The result reports whether a record or a
	// pending attempt was removed, not whether the call succeeded.
	Disconnect(id string) bool
	Get(id string) (registry.ServerInfo, error)
	List() []registry.ServerInfo
}

// Catalog lists servers known from the registry file.
type Catalog interface {
	Servers() []catalog.Server
}

// Conversations runs chat requests and exposes session transcripts.
type Conversations interface {
	Chat(ctx context.Context, sessionID, text string) (*conversation.Reply, error)
	History(ctx context.Context, sessionID string) ([]chat.Message, error)
	Reset(ctx context.Context, sessionID string) error
	Sessions(ctx context.Context, limit int) ([]*store.Session, error)
}

// Approvals is the approval gate as seen by the UI.
type Approvals interface {
	Mode() approval.Mode
	SetMode(m approval.Mode) error
	Pending() []approval.PendingApproval
	Resolve(id string, approved bool) bool
}

// Config wires the API to the rest of the gateway.
type Config struct {
	Registry      Registry
	Catalog       Catalog // optional
	Conversations Conversations
	Approvals     Approvals
	Events        *conversation.Broadcaster // optional; enables GET /events
	MCP           http.Handler              // optional; mounted at /mcp
	// Verifier enables bearer-token auth on everything except /health.
	Verifier auth.TokenVerifier
	Logger   *slog.Logger
}

// API serves the gateway's HTTP surface.
type API struct {
	registry      Registry
	catalog       Catalog
	conversations Conversations
	approvals     Approvals
	events        *conversation.Broadcaster
	logger        *slog.Logger
	router        chi.Router
}

// New builds the API and its routes.
func New(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &API{
		registry:      cfg.Registry,
		catalog:       cfg.Catalog,
		conversations: cfg.Conversations,
		approvals:     cfg.Approvals,
		events:        cfg.Events,
		logger:        logger.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)
	r.Use(auth.RequireToken(cfg.Verifier, a.logger, "/health"))

	r.Get("/health", a.handleHealth)
	r.Get("/health/ready", a.handleReady)

	r.Route("/servers", func(r chi.Router) {
		r.Get("/", a.handleListServers)
		r.Post("/connect", a.handleConnect)
		r.Post("/disconnect", a.handleDisconnect)
	})

	r.Post("/chat", a.handleChat)
	r.Get("/history", a.handleHistory)
	r.Delete("/history", a.handleResetHistory)
	r.Get("/sessions", a.handleListSessions)
	if a.events != nil {
		r.Get("/events", a.handleEvents)
	}

	r.Post("/set-approval-callback", a.handleSetApprovalCallback)
	r.Get("/pending-approvals", a.handlePendingApprovals)
	r.Post("/approve-tool", a.handleApproveTool)

	if cfg.MCP != nil {
		r.Handle("/mcp", cfg.MCP)
	}

	a.router = r
	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// logRequests logs each request at debug level once it completes.
func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once at least one tool server is connected.
func (a *API) handleReady(w http.ResponseWriter, _ *http.Request) {
	connected := 0
	for _, s := range a.registry.List() {
		if s.Connected {
			connected++
		}
	}
	status, code := "ready", http.StatusOK
	if connected == 0 {
		status, code = "no tool servers connected", http.StatusServiceUnavailable
	}
	a.writeJSON(w, code, map[string]any{"status": status, "connectedServers": connected})
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

// writeJSON writes v as a JSON response.
func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (a *API) sendJSONError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, map[string]string{"error": message})
}
