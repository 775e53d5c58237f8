// ABOUTME: Handlers for the approval gate: mode switching, pending list and resolution.
// ABOUTME: A UI registers itself with set-approval-callback to take over decisions.

package api

import (
	"net/http"
	"strings"

	"github.com/2389/toolchat-gateway/internal/approval"
	"github.com/2389/toolchat-gateway/internal/auth"
)

// ApprovalCallbackRequest is the body of POST /set-approval-callback.
type ApprovalCallbackRequest struct {
	HasUICallback bool `json:"hasUiCallback"`
}

// ApproveToolRequest is the body of POST /approve-tool.
type ApproveToolRequest struct {
	ID       string `json:"id"`
	Approved *bool  `json:"approved"`
}

// handleSetApprovalCallback handles POST /set-approval-callback. A UI with a
// callback switches the gate to external mode; without one the gate
// auto-approves.
func (a *API) handleSetApprovalCallback(w http.ResponseWriter, r *http.Request) {
	var req ApprovalCallbackRequest
	if err := decodeJSON(r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	mode := approval.ModeAuto
	if req.HasUICallback {
		mode = approval.ModeExternal
	}
	if err := a.approvals.SetMode(mode); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"success": true, "mode": a.approvals.Mode()})
}

// handlePendingApprovals handles GET /pending-approvals.
func (a *API) handlePendingApprovals(w http.ResponseWriter, _ *http.Request) {
	pending := a.approvals.Pending()
	if pending == nil {
		pending = []approval.PendingApproval{}
	}
	a.writeJSON(w, http.StatusOK, pending)
}

// handleApproveTool handles POST /approve-tool. Unknown or already
// resolved IDs answer 404.
func (a *API) handleApproveTool(w http.ResponseWriter, r *http.Request) {
	var req ApproveToolRequest
	if err := decodeJSON(r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" || req.Approved == nil {
		a.sendJSONError(w, http.StatusBadRequest, "id and approved are required")
		return
	}

	if !a.approvals.Resolve(id, *req.Approved) {
		a.sendJSONError(w, http.StatusNotFound, "no pending approval with that id")
		return
	}
	a.logger.Info("tool call resolved", "approval_id", id, "approved", *req.Approved, "by", callerName(r))
	a.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// callerName returns the authenticated subject, or "anonymous" when auth is off.
func callerName(r *http.Request) string {
	if c := auth.CallerFrom(r.Context()); c != nil {
		return c.Subject
	}
	return "anonymous"
}
