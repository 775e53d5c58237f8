// ABOUTME: Handlers for listing, connecting and disconnecting tool servers.
// ABOUTME: Merges live registry records with catalog entries that are not connected.

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/2389/toolchat-gateway/internal/mcp"
	"github.com/2389/toolchat-gateway/internal/registry"
)

// ServerResponse describes one server for the UI.
type ServerResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Connected bool       `json:"connected"`
	Enabled   *bool      `json:"enabled,omitempty"`
	Tools     []mcp.Tool `json:"tools"`
}

// ConnectRequest is the body of POST /servers/connect. ServerPath may be a
// script path or a package name.
type ConnectRequest struct {
	ServerID   string `json:"serverId"`
	ServerPath string `json:"serverPath"`
}

// DisconnectRequest is the body of POST /servers/disconnect.
type DisconnectRequest struct {
	ServerID string `json:"serverId"`
}

// ServerActionResponse answers connect and disconnect requests.
type ServerActionResponse struct {
	Success bool            `json:"success"`
	Server  *ServerResponse `json:"server,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func fromInfo(info registry.ServerInfo) ServerResponse {
	tools := info.Tools
	if tools == nil {
		tools = []mcp.Tool{}
	}
	return ServerResponse{
		ID:        info.ID,
		Name:      info.Name,
		Connected: info.Connected,
		Tools:     tools,
	}
}

// handleListServers handles GET /servers.
func (a *API) handleListServers(w http.ResponseWriter, _ *http.Request) {
	live := a.registry.List()
	out := make([]ServerResponse, 0, len(live))
	seen := make(map[string]bool, len(live))
	for _, info := range live {
		out = append(out, fromInfo(info))
		seen[info.ID] = true
	}

	if a.catalog != nil {
		for _, s := range a.catalog.Servers() {
			if seen[s.ID] {
				continue
			}
			enabled := s.Enabled
			out = append(out, ServerResponse{
				ID:      s.ID,
				Name:    s.Name,
				Enabled: &enabled,
				Tools:   []mcp.Tool{},
			})
		}
	}

	a.writeJSON(w, http.StatusOK, out)
}

// handleConnect handles POST /servers/connect.
func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := decodeJSON(r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ref := strings.TrimSpace(req.ServerID)
	if ref == "" {
		ref = strings.TrimSpace(req.ServerPath)
	}
	if ref == "" {
		a.sendJSONError(w, http.StatusBadRequest, "serverId or serverPath is required")
		return
	}

	info, err := a.registry.ConnectRef(r.Context(), ref)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, registry.ErrServerNotFound):
			status = http.StatusNotFound
		case errors.Is(err, registry.ErrUnrecognizedServerRef), errors.Is(err, registry.ErrInvalidServerID):
			status = http.StatusBadRequest
		case errors.Is(err, registry.ErrConnectionAbandoned):
			status = http.StatusConflict
		}
		a.logger.Warn("connect failed", "ref", ref, "error", err)
		a.writeJSON(w, status, ServerActionResponse{Error: err.Error()})
		return
	}

	resp := fromInfo(info)
	a.writeJSON(w, http.StatusOK, ServerActionResponse{Success: true, Server: &resp})
}

// handleDisconnect handles POST /servers/disconnect. Disconnecting a server
// that is not connected succeeds.
func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req DisconnectRequest
	if err := decodeJSON(r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := strings.TrimSpace(req.ServerID)
	if id == "" {
		a.sendJSONError(w, http.StatusBadRequest, "serverId is required")
		return
	}

	resp := ServerResponse{ID: registry.Normalize(id), Name: id, Tools: []mcp.Tool{}}
	if info, err := a.registry.Get(id); err == nil {
		resp.Name = info.Name
	}
	if !a.registry.Disconnect(id) {
		a.logger.Debug("disconnect for server that was not connected", "server_id", resp.ID)
	}

	a.writeJSON(w, http.StatusOK, ServerActionResponse{Success: true, Server: &resp})
}
