// ABOUTME: Tests for the MCP HTTP endpoint including sessions, listing and execution.
// ABOUTME: Uses in-memory tool listers and runners in place of live tool servers.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolchat-gateway/internal/chat"
)

type staticTools []Tool

func (s staticTools) GetAllTools() []Tool { return s }

type recordingRunner struct {
	calls  []string
	result func(name string, args map[string]any) chat.ToolCall
}

func (r *recordingRunner) RunTool(_ context.Context, name string, args map[string]any) chat.ToolCall {
	r.calls = append(r.calls, name)
	return r.result(name, args)
}

type mockTokenVerifier struct {
	subject string
	err     error
}

func (m *mockTokenVerifier) Verify(string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.subject, nil
}

func testTools() staticTools {
	return staticTools{
		{Name: "calculate", Description: "Arithmetic", InputSchema: json.RawMessage(`{"type":"object"}`), Server: "calc"},
		{Name: "get_weather", Description: "Weather", Server: "weather"},
	}
}

func succeedWith(result any) func(string, map[string]any) chat.ToolCall {
	return func(name string, args map[string]any) chat.ToolCall {
		call := chat.NewToolCall(name, args)
		call.Status = chat.StatusSuccess
		call.Result = result
		return call
	}
}

func newTestServer(t *testing.T, runner *recordingRunner, verifier *mockTokenVerifier, requireAuth bool) *Server {
	t.Helper()
	cfg := ServerConfig{Tools: testTools(), Runner: runner, RequireAuth: requireAuth}
	if verifier != nil {
		cfg.TokenVerifier = verifier
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func rpc(t *testing.T, s *Server, sessionID, method string, id any, params any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	body := map[string]any{"jsonrpc": "2.0", "method": method}
	if id != nil {
		body["id"] = id
	}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(raw))
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func initialize(t *testing.T, s *Server, headers ...string) string {
	t.Helper()
	rec := rpc(t, s, "", "initialize", 1, map[string]any{"protocolVersion": latestProtocolVersion}, headers...)
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get("Mcp-Session-Id")
	require.NotEmpty(t, id)
	return id
}

func TestNewServerValidation(t *testing.T) {
	runner := &recordingRunner{result: succeedWith("ok")}

	_, err := NewServer(ServerConfig{Runner: runner})
	assert.Error(t, err, "missing tools")

	_, err = NewServer(ServerConfig{Tools: testTools()})
	assert.Error(t, err, "missing runner")

	_, err = NewServer(ServerConfig{Tools: testTools(), Runner: runner, RequireAuth: true})
	assert.Error(t, err, "auth without verifier")
}

func TestInitializeCreatesSession(t *testing.T) {
	s := newTestServer(t, &recordingRunner{result: succeedWith("ok")}, nil, false)

	rec := rpc(t, s, "", "initialize", 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))

	resp := decode(t, rec)
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]any)
	assert.Equal(t, latestProtocolVersion, result["protocolVersion"])
	assert.Equal(t, 1, s.SessionCount())
}

func TestRequestsRequireSession(t *testing.T) {
	s := newTestServer(t, &recordingRunner{result: succeedWith("ok")}, nil, false)

	rec := rpc(t, s, "", "tools/list", 2, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = rpc(t, s, "unknown-session", "tools/list", 2, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToolsList(t *testing.T) {
	s := newTestServer(t, &recordingRunner{result: succeedWith("ok")}, nil, false)
	sid := initialize(t, s)

	rec := rpc(t, s, sid, "tools/list", 2, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Result ListToolsResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Result.Tools, 2)
	assert.Equal(t, "calculate", resp.Result.Tools[0].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(resp.Result.Tools[1].InputSchema), "missing schema defaults to an object")
}

func TestToolsCall(t *testing.T) {
	t.Run("success returns text content", func(t *testing.T) {
		runner := &recordingRunner{result: succeedWith("100")}
		s := newTestServer(t, runner, nil, false)
		sid := initialize(t, s)

		rec := rpc(t, s, sid, "tools/call", 3, map[string]any{
			"name":      "calculate",
			"arguments": map[string]any{"a": 25, "b": 4, "operation": "multiply"},
		})

		var resp struct {
			Result CallToolResult `json:"result"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.False(t, resp.Result.IsError)
		require.Len(t, resp.Result.Content, 1)
		assert.Equal(t, "100", resp.Result.Content[0].Text)
		assert.Equal(t, []string{"calculate"}, runner.calls)
	})

	t.Run("rejection is an error result", func(t *testing.T) {
		runner := &recordingRunner{result: func(name string, args map[string]any) chat.ToolCall {
			call := chat.NewToolCall(name, args)
			call.Status = chat.StatusRejected
			return call
		}}
		s := newTestServer(t, runner, nil, false)
		sid := initialize(t, s)

		rec := rpc(t, s, sid, "tools/call", 3, map[string]any{"name": "calculate"})
		var resp struct {
			Result CallToolResult `json:"result"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp.Result.IsError)
		assert.Equal(t, "tool call rejected", resp.Result.Content[0].Text)
	})

	t.Run("error result carries the reason", func(t *testing.T) {
		runner := &recordingRunner{result: func(name string, args map[string]any) chat.ToolCall {
			call := chat.NewToolCall(name, args)
			call.Fail("validation failed: a: required property is missing")
			return call
		}}
		s := newTestServer(t, runner, nil, false)
		sid := initialize(t, s)

		rec := rpc(t, s, sid, "tools/call", 3, map[string]any{"name": "calculate"})
		var resp struct {
			Result CallToolResult `json:"result"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp.Result.IsError)
		assert.Contains(t, resp.Result.Content[0].Text, "required property")
	})

	t.Run("unknown tool is an invalid params error", func(t *testing.T) {
		runner := &recordingRunner{result: succeedWith("ok")}
		s := newTestServer(t, runner, nil, false)
		sid := initialize(t, s)

		resp := decode(t, rpc(t, s, sid, "tools/call", 3, map[string]any{"name": "nope"}))
		require.NotNil(t, resp.Error)
		assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
		assert.Empty(t, runner.calls)
	})

	t.Run("missing name", func(t *testing.T) {
		s := newTestServer(t, &recordingRunner{result: succeedWith("ok")}, nil, false)
		sid := initialize(t, s)

		resp := decode(t, rpc(t, s, sid, "tools/call", 3, map[string]any{}))
		require.NotNil(t, resp.Error)
		assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
	})
}

func TestNotificationsAreAccepted(t *testing.T) {
	s := newTestServer(t, &recordingRunner{result: succeedWith("ok")}, nil, false)
	sid := initialize(t, s)

	rec := rpc(t, s, sid, "notifications/initialized", nil, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestUnknownMethod(t *testing.T) {
	s := newTestServer(t, &recordingRunner{result: succeedWith("ok")}, nil, false)
	sid := initialize(t, s)

	resp := decode(t, rpc(t, s, sid, "resources/list", 4, nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCMethodNotFound, resp.Error.Code)
}

func TestMalformedRequests(t *testing.T) {
	s := newTestServer(t, &recordingRunner{result: succeedWith("ok")}, nil, false)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte("{nope")))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCParseError, resp.Error.Code)

	req = httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(`{"jsonrpc":"1.0","id":1,"method":"initialize"}`)))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	resp = decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidRequest, resp.Error.Code)

	req = httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuthentication(t *testing.T) {
	t.Run("required auth rejects anonymous initialize", func(t *testing.T) {
		s := newTestServer(t, &recordingRunner{result: succeedWith("ok")}, &mockTokenVerifier{subject: "alice"}, true)
		resp := decode(t, rpc(t, s, "", "initialize", 1, nil))
		require.NotNil(t, resp.Error)
		assert.Equal(t, 0, s.SessionCount())
	})

	t.Run("invalid token is rejected even when optional", func(t *testing.T) {
		s := newTestServer(t, &recordingRunner{result: succeedWith("ok")}, &mockTokenVerifier{err: errors.New("bad")}, false)
		resp := decode(t, rpc(t, s, "", "initialize", 1, nil, "Authorization", "Bearer junk"))
		require.NotNil(t, resp.Error)
	})

	t.Run("valid token creates session", func(t *testing.T) {
		s := newTestServer(t, &recordingRunner{result: succeedWith("ok")}, &mockTokenVerifier{subject: "alice"}, true)
		initialize(t, s, "Authorization", "Bearer good")
		assert.Equal(t, 1, s.SessionCount())
	})
}

func TestDeleteSession(t *testing.T) {
	s := newTestServer(t, &recordingRunner{result: succeedWith("ok")}, &mockTokenVerifier{subject: "alice"}, false)
	sid := initialize(t, s, "Authorization", "Bearer owner")

	del := func(token string) int {
		req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
		req.Header.Set("Mcp-Session-Id", sid)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusForbidden, del("someone-else"))
	assert.Equal(t, http.StatusNoContent, del("owner"))
	assert.Equal(t, http.StatusNotFound, del("owner"))
	assert.Equal(t, 0, s.SessionCount())
}

func TestCallResultText(t *testing.T) {
	r := CallResult{Content: json.RawMessage(`[{"type":"text","text":"a"},{"type":"image","data":"x"},{"type":"text","text":"b"}]`)}
	assert.Equal(t, "a\nb", r.Text())

	r = CallResult{Content: json.RawMessage(`[{"type":"image","data":"x"}]`)}
	assert.Equal(t, `[{"type":"image","data":"x"}]`, r.Text())

	assert.Equal(t, "", CallResult{}.Text())
}

func TestEnvList(t *testing.T) {
	assert.Nil(t, envList(nil))
	assert.Equal(t, []string{"A=1", "B=2"}, envList(map[string]string{"B": "2", "A": "1"}))
}
