// ABOUTME: Approval gate that holds tool calls until a decision arrives.
// ABOUTME: Auto mode approves immediately; external mode waits on a pending table with a timeout.

package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds how long an external decision is awaited.
const DefaultTimeout = 30 * time.Second

// ErrUnknownMode indicates a mode string other than auto or external.
var ErrUnknownMode = errors.New("unknown approval mode")

// Mode selects where decisions come from.
type Mode string

const (
	// ModeAuto approves every request immediately.
	ModeAuto Mode = "auto"
	// ModeExternal waits for Resolve to be called, typically from the UI.
	ModeExternal Mode = "external"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModeExternal:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Outcome is how an approval request ended.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	// OutcomeTimedOut is handled exactly like a rejection.
	OutcomeTimedOut Outcome = "timed_out"
)

// Approved reports whether the call may run.
func (o Outcome) Approved() bool {
	return o == OutcomeApproved
}

// PendingApproval describes a request waiting for an external decision.
type PendingApproval struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"toolName"`
	Args      map[string]any `json:"args"`
	CreatedAt time.Time      `json:"createdAt"`
}

type pendingRequest struct {
	info     PendingApproval
	decision chan bool // buffered; written once by whoever removes the entry
}

// Config holds Gate settings.
type Config struct {
	Mode    Mode
	Timeout time.Duration
	Logger  *slog.Logger
}

// Gate decides whether tool calls may run.
type Gate struct {
	mu      sync.Mutex
	mode    Mode
	timeout time.Duration
	pending map[string]*pendingRequest
	logger  *slog.Logger
}

// New creates a Gate. Zero values fall back to auto mode and DefaultTimeout.
func New(cfg Config) *Gate {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		mode:    cfg.Mode,
		timeout: cfg.Timeout,
		pending: make(map[string]*pendingRequest),
		logger:  cfg.Logger.With("component", "approval"),
	}
}

// Mode returns the mode applied to new requests.
func (g *Gate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// SetMode switches the mode for future requests. Requests already pending
// keep waiting for their decision or timeout.
func (g *Gate) SetMode(m Mode) error {
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}
	g.mu.Lock()
	prev := g.mode
	g.mode = m
	g.mu.Unlock()

	if prev != m {
		g.logger.Info("approval mode changed", "from", prev, "to", m)
	}
	return nil
}

// RequestApproval blocks until the call is approved, rejected or times out.
// Cancelling ctx counts as a rejection.
func (g *Gate) RequestApproval(ctx context.Context, toolName string, args map[string]any) Outcome {
	g.mu.Lock()
	if g.mode == ModeAuto {
		g.mu.Unlock()
		g.logger.Debug("auto-approved tool call", "tool_name", toolName)
		return OutcomeApproved
	}

	req := &pendingRequest{
		info: PendingApproval{
			ID:        uuid.New().String(),
			ToolName:  toolName,
			Args:      args,
			CreatedAt: time.Now().UTC(),
		},
		decision: make(chan bool, 1),
	}
	g.pending[req.info.ID] = req
	timeout := g.timeout
	g.mu.Unlock()

	g.logger.Info("awaiting tool approval", "approval_id", req.info.ID, "tool_name", toolName)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case approved := <-req.decision:
		return decisionOutcome(approved)
	case <-timer.C:
		if g.take(req.info.ID) != nil {
			g.logger.Warn("tool approval timed out", "approval_id", req.info.ID, "tool_name", toolName, "timeout", timeout)
			return OutcomeTimedOut
		}
	case <-ctx.Done():
		if g.take(req.info.ID) != nil {
			g.logger.Info("tool approval abandoned", "approval_id", req.info.ID, "tool_name", toolName)
			return OutcomeRejected
		}
	}
	// Resolve removed the entry first; its decision is already buffered.
	return decisionOutcome(<-req.decision)
}

func decisionOutcome(approved bool) Outcome {
	if approved {
		return OutcomeApproved
	}
	return OutcomeRejected
}

// take removes and returns the pending request, or nil if it is gone.
func (g *Gate) take(id string) *pendingRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pending[id]
	if !ok {
		return nil
	}
	delete(g.pending, id)
	return req
}

// Resolve delivers a decision. It reports false when the request is unknown
// or was already resolved, including by timeout.
func (g *Gate) Resolve(id string, approved bool) bool {
	req := g.take(id)
	if req == nil {
		g.logger.Debug("ignoring decision for unknown approval", "approval_id", id)
		return false
	}
	req.decision <- approved
	g.logger.Info("tool approval resolved", "approval_id", id, "tool_name", req.info.ToolName, "approved", approved)
	return true
}

// RejectAll resolves every pending request as rejected.
func (g *Gate) RejectAll() int {
	g.mu.Lock()
	reqs := make([]*pendingRequest, 0, len(g.pending))
	for id, req := range g.pending {
		delete(g.pending, id)
		reqs = append(reqs, req)
	}
	g.mu.Unlock()

	for _, req := range reqs {
		req.decision <- false
	}
	return len(reqs)
}

// Pending lists requests awaiting a decision, oldest first.
func (g *Gate) Pending() []PendingApproval {
	g.mu.Lock()
	out := make([]PendingApproval, 0, len(g.pending))
	for _, req := range g.pending {
		out = append(out, req.info)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
