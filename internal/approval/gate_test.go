// ABOUTME: Tests for the approval gate.
// ABOUTME: Covers both modes, timeouts, late decisions and mode switches with requests in flight.

package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitPending blocks until the gate holds n pending requests.
func waitPending(t *testing.T, g *Gate, n int) []PendingApproval {
	t.Helper()
	var pending []PendingApproval
	require.Eventually(t, func() bool {
		pending = g.Pending()
		return len(pending) == n
	}, 2*time.Second, 5*time.Millisecond)
	return pending
}

func request(g *Gate, tool string) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		out <- g.RequestApproval(context.Background(), tool, map[string]any{"x": 1})
	}()
	return out
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("external")
	require.NoError(t, err)
	assert.Equal(t, ModeExternal, m)

	_, err = ParseMode("manual")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestNew_Defaults(t *testing.T) {
	g := New(Config{})
	assert.Equal(t, ModeAuto, g.Mode())
	assert.Equal(t, DefaultTimeout, g.timeout)
}

func TestAutoModeApprovesImmediately(t *testing.T) {
	g := New(Config{Mode: ModeAuto})

	outcome := g.RequestApproval(context.Background(), "calculate", nil)

	assert.Equal(t, OutcomeApproved, outcome)
	assert.True(t, outcome.Approved())
	assert.Empty(t, g.Pending())
}

func TestExternalMode(t *testing.T) {
	tests := []struct {
		name     string
		approved bool
		want     Outcome
	}{
		{"approve", true, OutcomeApproved},
		{"reject", false, OutcomeRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(Config{Mode: ModeExternal, Timeout: time.Minute})
			result := request(g, "delete_file")

			pending := waitPending(t, g, 1)
			assert.Equal(t, "delete_file", pending[0].ToolName)
			assert.Equal(t, map[string]any{"x": 1}, pending[0].Args)
			assert.NotEmpty(t, pending[0].ID)

			require.True(t, g.Resolve(pending[0].ID, tt.approved))
			assert.Equal(t, tt.want, <-result)
			assert.Empty(t, g.Pending(), "resolved requests leave the table")
		})
	}
}

func TestTimeoutRejects(t *testing.T) {
	g := New(Config{Mode: ModeExternal, Timeout: 20 * time.Millisecond})
	result := request(g, "slow")

	pending := waitPending(t, g, 1)
	outcome := <-result

	assert.Equal(t, OutcomeTimedOut, outcome)
	assert.False(t, outcome.Approved(), "a timeout never approves")
	assert.Empty(t, g.Pending())
	assert.False(t, g.Resolve(pending[0].ID, true), "late decisions are ignored")
}

func TestResolveIsOneShot(t *testing.T) {
	g := New(Config{Mode: ModeExternal, Timeout: time.Minute})
	result := request(g, "tool")
	pending := waitPending(t, g, 1)

	assert.True(t, g.Resolve(pending[0].ID, false))
	assert.False(t, g.Resolve(pending[0].ID, true))
	assert.Equal(t, OutcomeRejected, <-result)
}

func TestResolveUnknownID(t *testing.T) {
	g := New(Config{Mode: ModeExternal})
	assert.False(t, g.Resolve("missing", true))
}

func TestContextCancelRejects(t *testing.T) {
	g := New(Config{Mode: ModeExternal, Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan Outcome, 1)
	go func() { result <- g.RequestApproval(ctx, "tool", nil) }()

	waitPending(t, g, 1)
	cancel()

	assert.Equal(t, OutcomeRejected, <-result)
	assert.Empty(t, g.Pending())
}

func TestModeSwitchKeepsPendingRequests(t *testing.T) {
	g := New(Config{Mode: ModeExternal, Timeout: time.Minute})
	result := request(g, "tool")
	pending := waitPending(t, g, 1)

	require.NoError(t, g.SetMode(ModeAuto))

	assert.Equal(t, OutcomeApproved, g.RequestApproval(context.Background(), "other", nil),
		"new requests use the new mode")
	assert.Len(t, g.Pending(), 1, "old request still waits")

	require.True(t, g.Resolve(pending[0].ID, false))
	assert.Equal(t, OutcomeRejected, <-result)
}

func TestSetModeRejectsUnknown(t *testing.T) {
	g := New(Config{})
	assert.ErrorIs(t, g.SetMode("sometimes"), ErrUnknownMode)
	assert.Equal(t, ModeAuto, g.Mode())
}

func TestRejectAll(t *testing.T) {
	g := New(Config{Mode: ModeExternal, Timeout: time.Minute})
	first := request(g, "a")
	second := request(g, "b")
	waitPending(t, g, 2)

	assert.Equal(t, 2, g.RejectAll())
	assert.Equal(t, OutcomeRejected, <-first)
	assert.Equal(t, OutcomeRejected, <-second)
	assert.Empty(t, g.Pending())
}

func TestConcurrentResolutions(t *testing.T) {
	const n = 20
	g := New(Config{Mode: ModeExternal, Timeout: time.Minute})

	results := make([]<-chan Outcome, n)
	for i := range results {
		results[i] = request(g, "tool")
	}
	pending := waitPending(t, g, n)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, p := range pending {
		for range 3 {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if g.Resolve(id, true) {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(p.ID)
		}
	}
	wg.Wait()

	assert.Equal(t, n, wins, "each request resolves exactly once")
	for _, r := range results {
		assert.Equal(t, OutcomeApproved, <-r)
	}
}
