// ABOUTME: Tests for connection bookkeeping, retries, disconnect and tool aggregation.
// ABOUTME: Uses an in-memory dialer so no processes are spawned.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolchat-gateway/internal/mcp"
)

type fakeClient struct {
	mu     sync.Mutex
	tools  []mcp.Tool
	closed bool
	calls  []string
}

func (c *fakeClient) ListTools(context.Context) ([]mcp.Tool, error) {
	out := make([]mcp.Tool, len(c.tools))
	copy(out, c.tools)
	return out, nil
}

func (c *fakeClient) CallTool(_ context.Context, name string, _ map[string]any) (*mcp.CallResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
	return &mcp.CallResult{Content: json.RawMessage(`[{"type":"text","text":"ok"}]`)}, nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// fakeDialer hands out clients keyed by command and can fail a number of
// times before succeeding.
type fakeDialer struct {
	mu       sync.Mutex
	tools    map[string][]string
	failures map[string]int
	dials    int
	clients  []*fakeClient
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{tools: map[string][]string{}, failures: map[string]int{}}
}

func (d *fakeDialer) Dial(_ context.Context, spec mcp.SpawnSpec) (mcp.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures[spec.Command] > 0 {
		d.failures[spec.Command]--
		return nil, errors.New("spawn failed")
	}
	names, ok := d.tools[spec.Command]
	if !ok {
		return nil, errors.New("no such command")
	}
	c := &fakeClient{}
	for _, n := range names {
		c.tools = append(c.tools, mcp.Tool{Name: n, InputSchema: json.RawMessage(`{"type":"object"}`)})
	}
	d.clients = append(d.clients, c)
	return c, nil
}

func recordSleeps(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func newTestRegistry(d *fakeDialer, delays *[]time.Duration) *Registry {
	if delays == nil {
		delays = &[]time.Duration{}
	}
	return New(Config{Dialer: d, Sleep: recordSleeps(delays)})
}

func toolNames(tools []mcp.Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

func TestConnect(t *testing.T) {
	d := newFakeDialer()
	d.tools["calc"] = []string{"calculate"}
	r := newTestRegistry(d, nil)

	info, err := r.Connect(context.Background(), "mcp-Calculator", mcp.SpawnSpec{Command: "calc"})
	require.NoError(t, err)

	assert.Equal(t, "calculator", info.ID)
	assert.Equal(t, "mcp-Calculator", info.Name)
	assert.True(t, info.Connected)
	assert.True(t, r.IsConnected("calculator"))
	assert.True(t, r.IsConnected("server-CALCULATOR"), "lookups normalize first")
	assert.Equal(t, []string{"calculate"}, toolNames(r.GetTools("Calculator")))
	assert.Equal(t, "calculator", r.GetTools("calculator")[0].Server)
}

func TestConnect_SameNormalizedIDIsOneRecord(t *testing.T) {
	d := newFakeDialer()
	d.tools["calc"] = []string{"calculate"}
	r := newTestRegistry(d, nil)
	ctx := context.Background()

	_, err := r.Connect(ctx, "mcp-calc", mcp.SpawnSpec{Command: "calc"})
	require.NoError(t, err)
	_, err = r.Connect(ctx, "CALC", mcp.SpawnSpec{Command: "calc"})
	require.NoError(t, err)

	assert.Len(t, r.List(), 1)
	assert.Equal(t, []string{"calculate"}, toolNames(r.GetAllTools()))
	assert.True(t, d.clients[0].closed, "replaced session should be closed")
}

func TestConnect_RetriesWithBackoff(t *testing.T) {
	d := newFakeDialer()
	d.tools["flaky"] = []string{"t"}
	d.failures["flaky"] = 2
	var delays []time.Duration
	r := newTestRegistry(d, &delays)

	info, err := r.Connect(context.Background(), "flaky", mcp.SpawnSpec{Command: "flaky"})
	require.NoError(t, err)
	assert.True(t, info.Connected)
	assert.Equal(t, 2, info.ReconnectAttempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestConnect_GivesUpAfterMaxRetries(t *testing.T) {
	d := newFakeDialer()
	var delays []time.Duration
	r := newTestRegistry(d, &delays)

	_, err := r.Connect(context.Background(), "missing", mcp.SpawnSpec{Command: "missing"})
	require.ErrorIs(t, err, ErrConnectionFailed)

	assert.Equal(t, 4, d.dials, "one attempt plus three retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
	assert.False(t, r.IsConnected("missing"))
	assert.Empty(t, r.List(), "a server that never connected gets no record")
}

func TestConnect_FailedReconnectMarksRecordDisconnected(t *testing.T) {
	d := newFakeDialer()
	d.tools["calc"] = []string{"calculate"}
	r := newTestRegistry(d, nil)
	ctx := context.Background()

	_, err := r.Connect(ctx, "calc", mcp.SpawnSpec{Command: "calc"})
	require.NoError(t, err)

	d.failures["calc"] = 10
	_, err = r.Connect(ctx, "calc", mcp.SpawnSpec{Command: "calc"})
	require.ErrorIs(t, err, ErrConnectionFailed)

	info, err := r.Get("calc")
	require.NoError(t, err)
	assert.False(t, info.Connected)
	assert.Equal(t, 4, info.ReconnectAttempts)
	assert.Empty(t, r.GetAllTools())
}

func TestConnect_DisconnectAbandonsRetries(t *testing.T) {
	d := newFakeDialer()
	d.tools["slow"] = []string{"t"}
	d.failures["slow"] = 1

	var r *Registry
	r = New(Config{Dialer: d, Sleep: func(context.Context, time.Duration) error {
		r.Disconnect("slow")
		return nil
	}})

	_, err := r.Connect(context.Background(), "slow", mcp.SpawnSpec{Command: "slow"})
	require.ErrorIs(t, err, ErrConnectionAbandoned)
	assert.Equal(t, 1, d.dials, "no attempt after the series was abandoned")
	assert.False(t, r.IsConnected("slow"))
}

// gatedDialer holds every dial until release is closed.
type gatedDialer struct {
	*fakeDialer
	entered chan struct{}
	release chan struct{}
}

func (g *gatedDialer) Dial(ctx context.Context, spec mcp.SpawnSpec) (mcp.Client, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.fakeDialer.Dial(ctx, spec)
}

func TestConnect_ConcurrentCallersShareOneAttempt(t *testing.T) {
	d := newFakeDialer()
	d.tools["calc"] = []string{"calculate"}
	g := &gatedDialer{fakeDialer: d, entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := New(Config{Dialer: g})
	ctx := context.Background()

	type outcome struct {
		info ServerInfo
		err  error
	}
	results := make(chan outcome, 2)
	connect := func(id string) {
		info, err := r.Connect(ctx, id, mcp.SpawnSpec{Command: "calc"})
		results <- outcome{info, err}
	}

	go connect("calc")
	<-g.entered
	go connect("mcp-calc")

	deadline := time.Now().Add(time.Second)
	for {
		r.mu.RLock()
		joined := r.pending["calc"] != nil && r.pending["calc"].waiters == 1
		r.mu.RUnlock()
		if joined {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second connect never joined the running attempt")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(g.release)

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			require.NoError(t, res.err)
			assert.True(t, res.info.Connected)
			assert.Equal(t, "calc", res.info.ID)
		case <-time.After(time.Second):
			t.Fatal("connect did not return")
		}
	}
	assert.Equal(t, 1, d.dials, "the joined caller must not dial again")
	assert.True(t, r.IsConnected("calc"))
}

func TestConnect_JoinedCallerHonorsContext(t *testing.T) {
	d := newFakeDialer()
	d.tools["calc"] = []string{"calculate"}
	g := &gatedDialer{fakeDialer: d, entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := New(Config{Dialer: g})
	defer close(g.release)

	go r.Connect(context.Background(), "calc", mcp.SpawnSpec{Command: "calc"})
	<-g.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Connect(ctx, "calc", mcp.SpawnSpec{Command: "calc"})
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestConnect_InvalidID(t *testing.T) {
	r := newTestRegistry(newFakeDialer(), nil)
	_, err := r.Connect(context.Background(), "mcp-", mcp.SpawnSpec{Command: "x"})
	assert.ErrorIs(t, err, ErrInvalidServerID)
}

func TestDisconnect(t *testing.T) {
	d := newFakeDialer()
	d.tools["calc"] = []string{"calculate"}
	d.tools["weather"] = []string{"get_weather"}
	r := newTestRegistry(d, nil)
	ctx := context.Background()

	_, err := r.Connect(ctx, "calc", mcp.SpawnSpec{Command: "calc"})
	require.NoError(t, err)
	_, err = r.Connect(ctx, "weather", mcp.SpawnSpec{Command: "weather"})
	require.NoError(t, err)

	assert.True(t, r.Disconnect("MCP-CALC"))
	assert.True(t, d.clients[0].closed)
	assert.Equal(t, []string{"get_weather"}, toolNames(r.GetAllTools()))
	assert.False(t, r.IsConnected("calc"))

	assert.False(t, r.Disconnect("calc"), "second disconnect removes nothing")
	assert.False(t, r.Disconnect("never-seen"), "unknown IDs are a no-op")
	assert.Len(t, r.List(), 1)

	_, err = r.Connect(ctx, "calc", mcp.SpawnSpec{Command: "calc"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"get_weather", "calculate"}, toolNames(r.GetAllTools()))
	assert.Len(t, r.List(), 2)
}

func TestGetAllTools_FirstSeenWins(t *testing.T) {
	d := newFakeDialer()
	d.tools["a"] = []string{"search", "fetch"}
	d.tools["b"] = []string{"search", "write"}
	r := newTestRegistry(d, nil)
	ctx := context.Background()

	_, err := r.Connect(ctx, "a", mcp.SpawnSpec{Command: "a"})
	require.NoError(t, err)
	_, err = r.Connect(ctx, "b", mcp.SpawnSpec{Command: "b"})
	require.NoError(t, err)

	tools := r.GetAllTools()
	assert.Equal(t, []string{"search", "fetch", "write"}, toolNames(tools))
	assert.Equal(t, "a", tools[0].Server)

	tool, ok := r.FindTool("search")
	require.True(t, ok)
	assert.Equal(t, "a", tool.Server)
}

func TestCallTool(t *testing.T) {
	d := newFakeDialer()
	d.tools["calc"] = []string{"calculate"}
	r := newTestRegistry(d, nil)
	ctx := context.Background()

	_, err := r.Connect(ctx, "calc", mcp.SpawnSpec{Command: "calc"})
	require.NoError(t, err)

	res, err := r.CallTool(ctx, "calculate", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text())
	assert.Equal(t, []string{"calculate"}, d.clients[0].calls)

	_, err = r.CallTool(ctx, "nope", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestClose(t *testing.T) {
	d := newFakeDialer()
	d.tools["calc"] = []string{"calculate"}
	r := newTestRegistry(d, nil)

	_, err := r.Connect(context.Background(), "calc", mcp.SpawnSpec{Command: "calc"})
	require.NoError(t, err)

	r.Close()
	assert.True(t, d.clients[0].closed)
	assert.Empty(t, r.List())
}

func TestConcurrentAccess(t *testing.T) {
	d := newFakeDialer()
	for _, c := range []string{"a", "b", "c", "d"} {
		d.tools[c] = []string{"tool-" + c}
	}
	r := newTestRegistry(d, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, c := range []string{"a", "b", "c", "d"} {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			_, _ = r.Connect(ctx, id, mcp.SpawnSpec{Command: id})
		}(c)
		go func() {
			defer wg.Done()
			_ = r.GetAllTools()
			_ = r.List()
		}()
	}
	wg.Wait()

	assert.Len(t, r.GetAllTools(), 4)
}
