// ABOUTME: Conversation orchestrator that drives the model, tool calls and follow-up turns
// ABOUTME: Every turn is persisted before it is acted on; tool failures become transcript turns

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/toolchat-gateway/internal/approval"
	"github.com/2389/toolchat-gateway/internal/chat"
	"github.com/2389/toolchat-gateway/internal/llm"
	"github.com/2389/toolchat-gateway/internal/mcp"
	"github.com/2389/toolchat-gateway/internal/parser"
	"github.com/2389/toolchat-gateway/internal/schema"
	"github.com/2389/toolchat-gateway/internal/store"
)

const (
	// DefaultSessionID is used when a caller does not name a session.
	DefaultSessionID = "default"
	// DefaultMaxToolRounds bounds follow-up cycles per chat request.
	DefaultMaxToolRounds = 6

	roundLimitReason = "tool round limit reached"
)

var (
	// ErrToolNotFound is the reason recorded for calls to unknown tools.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolExecution is the reason recorded for calls that failed on the tool server.
	ErrToolExecution = errors.New("tool execution failed")
	// ErrEmptyMessage is returned by Chat for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrLanguageModel wraps failures of the language model endpoint.
	ErrLanguageModel = errors.New("language model request failed")
)

// Tools is what the orchestrator needs from the connection registry.
type Tools interface {
	GetAllTools() []mcp.Tool
	FindTool(name string) (mcp.Tool, bool)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error)
}

// Approver decides whether a call may run.
type Approver interface {
	RequestApproval(ctx context.Context, toolName string, args map[string]any) approval.Outcome
}

// Extractor recovers tool calls from model text.
type Extractor interface {
	Extract(raw string) parser.Result
}

// Config wires the Service to its collaborators.
type Config struct {
	Store    store.Store
	Tools    Tools
	Approver Approver
	Parser   Extractor
	Provider llm.Provider
	// Compiler defaults to a new schema.Compiler using Logger.
	Compiler *schema.Compiler
	// Broadcaster is optional; when set every appended message is published.
	Broadcaster   *Broadcaster
	MaxToolRounds int
	Logger        *slog.Logger
}

// Reply is the outcome of one chat request.
type Reply struct {
	// Message is the last assistant turn produced.
	Message chat.Message
	// ToolCalls lists every call seen during the request, in processing
	// order, each in its final status.
	ToolCalls []chat.ToolCall
	// Turns holds every message appended during the request.
	Turns []chat.Message
}

// session is the in-memory view of one transcript. The mutex serializes
// requests so turns from concurrent requests never interleave.
type session struct {
	mu       sync.Mutex
	loaded   bool
	messages []chat.Message
}

// Service orchestrates model turns and tool execution.
type Service struct {
	store     store.Store
	tools     Tools
	approver  Approver
	parser    Extractor
	provider  llm.Provider
	compiler  *schema.Compiler
	broadcast *Broadcaster
	maxRounds int
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	compiler := cfg.Compiler
	if compiler == nil {
		compiler = schema.NewCompiler(logger)
	}
	maxRounds := cfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	return &Service{
		store:     cfg.Store,
		tools:     cfg.Tools,
		approver:  cfg.Approver,
		parser:    cfg.Parser,
		provider:  cfg.Provider,
		compiler:  compiler,
		broadcast: cfg.Broadcaster,
		maxRounds: maxRounds,
		logger:    logger.With("component", "conversation"),
		sessions:  make(map[string]*session),
	}
}

func sessionKey(id string) string {
	if id = strings.TrimSpace(id); id == "" {
		return DefaultSessionID
	}
	return id
}

// acquire returns the locked session, loading its history on first use.
// The caller must unlock sess.mu.
func (s *Service) acquire(ctx context.Context, id string) (*session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{}
		s.sessions[id] = sess
	}
	s.mu.Unlock()

	sess.mu.Lock()
	if !sess.loaded {
		history, err := s.store.GetMessages(ctx, id)
		if err != nil {
			sess.mu.Unlock()
			return nil, fmt.Errorf("loading session %s: %w", id, err)
		}
		sess.messages = history
		sess.loaded = true
		s.logger.Debug("session loaded", "session_id", id, "messages", len(history))
	}
	return sess, nil
}

// request carries per-chat state through the follow-up recursion.
type request struct {
	sessionID string
	sess      *session
	followUps int
	calls     []chat.ToolCall
	turns     []chat.Message
	last      chat.Message
}

// appendTurn persists msg and then adds it to the in-memory transcript.
func (s *Service) appendTurn(ctx context.Context, req *request, msg chat.Message) error {
	if err := s.store.AppendMessage(ctx, req.sessionID, msg); err != nil {
		return fmt.Errorf("recording %s message: %w", msg.Role, err)
	}
	req.sess.messages = append(req.sess.messages, msg)
	req.turns = append(req.turns, msg)
	if s.broadcast != nil {
		s.broadcast.Publish(req.sessionID, msg)
	}
	return nil
}

// Chat records a user message, asks the model for a reply and runs any
// tool calls it contains, each followed by another model turn.
//
// Key principle: record first, then act. Every turn is persisted before
// the model or a tool server sees it.
func (s *Service) Chat(ctx context.Context, sessionID, text string) (*Reply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	id := sessionKey(sessionID)

	sess, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()

	req := &request{sessionID: id, sess: sess}
	if err := s.appendTurn(ctx, req, chat.NewMessage(chat.RoleUser, text)); err != nil {
		return nil, err
	}

	s.logger.Debug("user message recorded", "session_id", id)

	resp, err := s.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.respond(ctx, req, resp); err != nil {
		return nil, err
	}

	return &Reply{Message: req.last, ToolCalls: req.calls, Turns: req.turns}, nil
}

func (s *Service) send(ctx context.Context, req *request) (*llm.Response, error) {
	resp, err := s.provider.Send(ctx, req.sess.messages, s.tools.GetAllTools())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLanguageModel, err)
	}
	return resp, nil
}

// assistantTurn turns a model response into a transcript message. Structured
// calls are taken as is; otherwise the text goes through the parser.
func (s *Service) assistantTurn(resp *llm.Response) chat.Message {
	if len(resp.ToolCalls) > 0 {
		msg := chat.NewMessage(chat.RoleAssistant, resp.Text)
		msg.ToolCalls = resp.ToolCalls
		return msg
	}
	extracted := s.parser.Extract(resp.Text)
	msg := chat.NewMessage(chat.RoleAssistant, extracted.CleanedText)
	msg.ToolCalls = extracted.ToolCalls
	return msg
}

// respond records one assistant turn and works through its calls in order.
func (s *Service) respond(ctx context.Context, req *request, resp *llm.Response) error {
	msg := s.assistantTurn(resp)
	if err := s.appendTurn(ctx, req, msg); err != nil {
		return err
	}
	req.last = msg

	for _, call := range msg.ToolCalls {
		// Calls the text already reports as finished (narrative mentions,
		// rendered code, blocks with results, broken arguments) are only
		// recorded.
		if call.Status != chat.StatusPending {
			req.calls = append(req.calls, call)
			continue
		}
		if _, err := s.cycle(ctx, req, call); err != nil {
			return err
		}
	}
	return nil
}

// cycle runs one call, records its outcome and asks the model to follow up.
func (s *Service) cycle(ctx context.Context, req *request, call chat.ToolCall) (chat.ToolCall, error) {
	if req.followUps >= s.maxRounds {
		call.Fail(roundLimitReason)
		req.calls = append(req.calls, call)
		s.logger.Warn("skipping tool call", "tool_name", call.Name, "reason", roundLimitReason)
		note := chat.NewMessage(chat.RoleSystem, fmt.Sprintf("call to %s was skipped: %s", call.Name, roundLimitReason))
		note.ToolCalls = []chat.ToolCall{call}
		return call, s.appendTurn(ctx, req, note)
	}

	call = s.execute(ctx, call)
	req.calls = append(req.calls, call)

	if err := s.appendTurn(ctx, req, outcomeTurn(call)); err != nil {
		return call, err
	}

	req.followUps++
	resp, err := s.send(ctx, req)
	if err != nil {
		return call, err
	}
	return call, s.respond(ctx, req, resp)
}

// outcomeTurn describes a finished call for the transcript.
func outcomeTurn(call chat.ToolCall) chat.Message {
	var msg chat.Message
	switch call.Status {
	case chat.StatusRejected:
		msg = chat.NewMessage(chat.RoleSystem, fmt.Sprintf("call to %s was not approved", call.Name))
	case chat.StatusSuccess:
		msg = chat.NewMessage(chat.RoleToolResult, fmt.Sprintf("%s returned:\n%v", call.Name, call.Result))
	default:
		msg = chat.NewMessage(chat.RoleToolResult, fmt.Sprintf("%s failed: %s", call.Name, failureReason(call)))
	}
	msg.ToolCalls = []chat.ToolCall{call}
	return msg
}

func failureReason(call chat.ToolCall) string {
	if m, ok := call.Result.(map[string]any); ok {
		if reason, ok := m["error"].(string); ok {
			return reason
		}
	}
	return fmt.Sprint(call.Result)
}

// RunTool executes a single call through lookup, approval, validation and
// routing without touching any transcript. The returned call is always in
// a terminal status.
func (s *Service) RunTool(ctx context.Context, name string, args map[string]any) chat.ToolCall {
	return s.execute(ctx, chat.NewToolCall(name, args))
}

// HandleToolCall runs call within a session: the outcome is appended to the
// transcript and the model is asked for a follow-up turn. Follow-up
// failures are logged; the returned call carries the tool outcome either way.
func (s *Service) HandleToolCall(ctx context.Context, sessionID string, call chat.ToolCall) chat.ToolCall {
	id := sessionKey(sessionID)
	if call.Status != chat.StatusPending {
		return call
	}

	sess, err := s.acquire(ctx, id)
	if err != nil {
		s.logger.Error("cannot load session for tool call", "session_id", id, "error", err)
		return s.execute(ctx, call)
	}
	defer sess.mu.Unlock()

	req := &request{sessionID: id, sess: sess}
	done, err := s.cycle(ctx, req, call)
	if err != nil {
		s.logger.Error("tool call follow-up failed", "session_id", id, "tool_name", call.Name, "error", err)
	}
	return done
}

// execute moves a pending call to a terminal status.
func (s *Service) execute(ctx context.Context, call chat.ToolCall) chat.ToolCall {
	logger := s.logger.With("tool_name", call.Name, "call_id", call.ID)

	tool, ok := s.tools.FindTool(call.Name)
	if !ok {
		logger.Warn("model requested unknown tool")
		call.Fail(fmt.Sprintf("%v: %s", ErrToolNotFound, call.Name))
		return call
	}

	outcome := s.approver.RequestApproval(ctx, call.Name, call.Arguments)
	if !outcome.Approved() {
		logger.Info("tool call not approved", "outcome", outcome)
		_ = call.Advance(chat.StatusRejected)
		call.Result = map[string]any{"reason": string(outcome)}
		return call
	}
	_ = call.Advance(chat.StatusApproved)

	validator := s.compiler.Compile(tool.InputSchema)
	if _, err := validator.Validate(call.Arguments); err != nil {
		logger.Info("tool arguments rejected by schema", "error", err)
		_ = call.Advance(chat.StatusError)
		result := map[string]any{"error": err.Error()}
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			result["violations"] = verr.Violations
		}
		call.Result = result
		return call
	}

	_ = call.Advance(chat.StatusRunning)
	res, err := s.tools.CallTool(ctx, call.Name, call.Arguments)
	switch {
	case err != nil:
		logger.Warn("tool call failed", "error", err)
		call.Fail(fmt.Sprintf("%v: %v", ErrToolExecution, err))
	case res.IsError:
		logger.Info("tool reported an error")
		call.Fail(fmt.Sprintf("%v: %s", ErrToolExecution, res.Text()))
	default:
		_ = call.Advance(chat.StatusSuccess)
		call.Result = res.Text()
		logger.Debug("tool call succeeded")
	}
	return call
}

// History returns a copy of the session transcript.
func (s *Service) History(ctx context.Context, sessionID string) ([]chat.Message, error) {
	sess, err := s.acquire(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()
	return append([]chat.Message{}, sess.messages...), nil
}

// Sessions lists stored sessions, most recent first.
func (s *Service) Sessions(ctx context.Context, limit int) ([]*store.Session, error) {
	return s.store.ListSessions(ctx, limit)
}

// Reset deletes a session transcript. Resetting an unknown session is not an error.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	id := sessionKey(sessionID)
	sess, err := s.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()

	if err := s.store.DeleteSession(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	sess.messages = nil
	s.logger.Info("session reset", "session_id", id)
	return nil
}
