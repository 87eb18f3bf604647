package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/tether/backend"
)

// scriptedBackend plays back canned responses for capable-model requests
// and a fixed summary for fast-model requests.
type scriptedBackend struct {
	mu         sync.Mutex
	fastModel  string
	responses  []string
	err        error
	summary    string
	summaryErr error

	requests     []backend.Request
	fastRequests int
}

func (s *scriptedBackend) Complete(ctx context.Context, req backend.Request) (*backend.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if req.Model == s.fastModel {
		s.fastRequests++
		if s.summaryErr != nil {
			return nil, s.summaryErr
		}
		return &backend.Response{Text: s.summary, Usage: &backend.Usage{TotalTokens: 5}}, nil
	}

	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &backend.Response{Text: "no script left"}, nil
	}
	text := s.responses[0]
	s.responses = s.responses[1:]
	return &backend.Response{
		Text:  text,
		Usage: &backend.Usage{InputTokens: 10, OutputTokens: 10, TotalTokens: 20},
	}, nil
}

func (s *scriptedBackend) capableRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests) - s.fastRequests
}

func directive(name, args string) string {
	return fmt.Sprintf("```tool_call\n{\"name\": %q, \"arguments\": %s}\n```", name, args)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxContextTokens = 100000
	return cfg
}

func newTestManager(t *testing.T, cfg Config, be Backend, specs ...ToolSpec) *Manager {
	t.Helper()
	registry := NewToolRegistry()
	for _, spec := range specs {
		require.NoError(t, registry.Register(spec))
	}
	m, err := NewManager(cfg, be, registry, NewLocalEnvironment(t.TempDir()),
		WithTokenEstimator(charEstimator{}))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestManagerSimpleTurn(t *testing.T) {
	be := &scriptedBackend{fastModel: "claude-haiku-4-5", responses: []string{"Hello there."}}
	m := newTestManager(t, testConfig(), be, echoSpec())

	result, err := m.ProcessTurn(context.Background(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, result.Status)
	assert.Equal(t, "Hello there.", result.Message)
	assert.Equal(t, 0, result.Rounds)
	assert.Equal(t, 20, result.Usage.TotalTokens)
}

func TestManagerToolRoundFoldsResults(t *testing.T) {
	be := &scriptedBackend{
		fastModel: "claude-haiku-4-5",
		responses: []string{
			"Let me echo that.\n" + directive("echo", `{"text": "hi"}`),
			"The echo said: hi",
		},
	}
	m := newTestManager(t, testConfig(), be, echoSpec())

	result, err := m.ProcessTurn(context.Background(), "echo hi please")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, result.Status)
	assert.Equal(t, 1, result.Rounds)
	assert.Equal(t, "The echo said: hi", result.Message)

	// The folded tool result is in history between the two assistant
	// messages.
	history := m.History()
	var toolResults []Message
	for _, msg := range history {
		if msg.Role == RoleToolResult {
			toolResults = append(toolResults, msg)
		}
	}
	require.Len(t, toolResults, 1)
	assert.Equal(t, "hi", toolResults[0].Content)
	assert.False(t, toolResults[0].IsError)

	// The second request carried the tool result back to the model.
	require.Equal(t, 2, be.capableRequests())
	second := be.requests[1]
	found := false
	for _, msg := range second.Messages {
		if msg.Role == backend.RoleTool && msg.Content == "hi" {
			found = true
		}
	}
	assert.True(t, found, "tool result missing from follow-up request")
}

func TestManagerBoundedRounds(t *testing.T) {
	// A model that never stops calling tools must be cut off after
	// exactly the configured number of rounds.
	cfg := testConfig()
	cfg.MaxToolRounds = 3
	cfg.LoopDetection = false

	var responses []string
	for i := 0; i < 10; i++ {
		responses = append(responses, directive("echo", fmt.Sprintf(`{"text": "round %d"}`, i)))
	}
	be := &scriptedBackend{fastModel: cfg.FastModel, responses: responses}
	m := newTestManager(t, cfg, be, echoSpec())

	result, err := m.ProcessTurn(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, TurnAborted, result.Status)
	assert.Equal(t, AbortTooManyRounds, result.AbortReason)
	assert.Equal(t, 3, result.Rounds)
	// Three dispatch rounds plus the final response that triggered the
	// ceiling.
	assert.Equal(t, 4, be.capableRequests())
}

func TestManagerBackendFailureSurfaces(t *testing.T) {
	be := &scriptedBackend{
		fastModel: "claude-haiku-4-5",
		err: &backend.UnauthorizedError{ProviderError: backend.ProviderError{
			BackendError: backend.BackendError{Message: "invalid key"}, StatusCode: 401,
		}},
	}
	m := newTestManager(t, testConfig(), be, echoSpec())

	_, err := m.ProcessTurn(context.Background(), "Hi")
	require.Error(t, err)

	// History survives the failed turn.
	history := m.History()
	require.NotEmpty(t, history)
	assert.Equal(t, RoleUser, history[len(history)-1].Role)
	assert.Equal(t, "Hi", history[len(history)-1].Content)
}

// failProvider rate-limits every request, for exercising the retry path
// end to end through a real client.
type failProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *failProvider) Name() string { return "anthropic" }

func (p *failProvider) Complete(ctx context.Context, req backend.Request) (*backend.Response, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return nil, &backend.RateLimitError{ProviderError: backend.ProviderError{
		BackendError: backend.BackendError{Message: "throttled"}, StatusCode: 429,
	}}
}

func TestManagerRetryCeilingThroughClient(t *testing.T) {
	provider := &failProvider{}
	client := backend.NewClient(
		backend.WithProvider("anthropic", provider),
		backend.WithRetryPolicy(backend.RetryPolicy{MaxAttempts: 3, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.001}),
	)
	m := newTestManager(t, testConfig(), client, echoSpec())

	_, err := m.ProcessTurn(context.Background(), "Hi")
	require.Error(t, err)
	assert.Equal(t, 3, provider.calls)
}

func TestManagerToolFailureDoesNotAbortTurn(t *testing.T) {
	be := &scriptedBackend{
		fastModel: "claude-haiku-4-5",
		responses: []string{
			directive("no_such_tool", `{}`),
			"That tool does not exist, sorry.",
		},
	}
	m := newTestManager(t, testConfig(), be, echoSpec())

	result, err := m.ProcessTurn(context.Background(), "use the mystery tool")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, result.Status)

	var errResult *Message
	history := m.History()
	for i := range history {
		if history[i].Role == RoleToolResult && history[i].IsError {
			errResult = &history[i]
		}
	}
	require.NotNil(t, errResult)
	assert.Contains(t, errResult.Content, "no_such_tool")
}

func TestManagerParseFailureRecorded(t *testing.T) {
	be := &scriptedBackend{
		fastModel: "claude-haiku-4-5",
		responses: []string{
			"```tool_call\n{\"name\": \"echo\", \"arguments\": {broken\n```",
			"Let me try without the tool.",
		},
	}
	m := newTestManager(t, testConfig(), be, echoSpec())

	result, err := m.ProcessTurn(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, result.Status)

	found := false
	for _, msg := range m.History() {
		if msg.Role == RoleToolResult && msg.IsError && strings.Contains(msg.Content, "parse_failure") {
			found = true
		}
	}
	assert.True(t, found, "parse failure missing from transcript")
}

func TestManagerCancelledBeforeTurn(t *testing.T) {
	be := &scriptedBackend{fastModel: "claude-haiku-4-5", responses: []string{"unused"}}
	m := newTestManager(t, testConfig(), be, echoSpec())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := m.ProcessTurn(ctx, "Hi")
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, TurnAborted, result.Status)
	assert.Equal(t, AbortCancelled, result.AbortReason)
}

func TestManagerCancellationDrainsInFlightTools(t *testing.T) {
	// Cancelling a turn while a round is executing must not interrupt the
	// tools: they finish, their real outcomes are folded, and only then
	// does the between-rounds check abort the turn.
	started := make(chan struct{})
	watcher := ToolSpec{
		Name: "watcher",
		Execute: func(ctx context.Context, args json.RawMessage, env ExecutionEnvironment) (string, error) {
			close(started)
			select {
			case <-ctx.Done():
				return "interrupted", nil
			case <-time.After(300 * time.Millisecond):
				return "finished", nil
			}
		},
	}
	be := &scriptedBackend{
		fastModel: "claude-haiku-4-5",
		responses: []string{directive("watcher", `{}`), "unused"},
	}
	m := newTestManager(t, testConfig(), be, watcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	result, err := m.ProcessTurn(ctx, "go")
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, TurnAborted, result.Status)
	assert.Equal(t, AbortCancelled, result.AbortReason)
	assert.Equal(t, 1, result.Rounds)

	var folded []Message
	for _, msg := range m.History() {
		if msg.Role == RoleToolResult {
			folded = append(folded, msg)
		}
	}
	require.Len(t, folded, 1)
	assert.Equal(t, "finished", folded[0].Content)
	assert.False(t, folded[0].IsError)
}

func TestManagerMidTurnCompressionKeepsLatestRound(t *testing.T) {
	// When compression runs between rounds, the latest assistant message
	// and all of its folded results stay verbatim: only older history may
	// be summarized before the primary model has reacted to it.
	toolText := strings.Repeat("A", 60)
	call := directive("echo", fmt.Sprintf(`{"text": %q}`, toolText))
	firstResponse := strings.Join([]string{call, call, call}, "\n")

	cfg := testConfig()
	cfg.MinTailMessages = 1
	cfg.MaxContextTokens = len(firstResponse) + 3*len(toolText) + 50

	be := &scriptedBackend{
		fastModel: cfg.FastModel,
		responses: []string{firstResponse, "done"},
		summary:   "S",
	}
	m := newTestManager(t, cfg, be, echoSpec())

	result, err := m.ProcessTurn(context.Background(), strings.Repeat("U", 200))
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, result.Status)
	assert.False(t, result.Degraded)
	assert.Equal(t, 1, be.fastRequests)

	// The round survived compression intact.
	history := m.History()
	var toolResults int
	for _, msg := range history {
		if msg.Role == RoleToolResult {
			toolResults++
			assert.Equal(t, toolText, msg.Content)
		}
	}
	assert.Equal(t, 3, toolResults)
	assert.Equal(t, RoleSummary, history[0].Role)

	// The summarizer only ever saw the older prefix, never this round's
	// results.
	var fastReq backend.Request
	for _, req := range be.requests {
		if req.Model == cfg.FastModel {
			fastReq = req
		}
	}
	require.NotEmpty(t, fastReq.Messages)
	for _, msg := range fastReq.Messages {
		assert.NotContains(t, msg.Content, toolText)
	}
}

func TestManagerCompressionUsesFastModel(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContextTokens = 60
	cfg.MinTailMessages = 1

	be := &scriptedBackend{
		fastModel: cfg.FastModel,
		responses: []string{strings.Repeat("b", 40)},
		summary:   "short",
	}
	m := newTestManager(t, cfg, be, echoSpec())

	result, err := m.ProcessTurn(context.Background(), strings.Repeat("a", 40))
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, result.Status)
	assert.False(t, result.Degraded)

	// End-of-turn compression ran on the cheaper model.
	assert.Equal(t, 1, be.fastRequests)
	assert.LessOrEqual(t, m.ContextSize(), cfg.MaxContextTokens)

	history := m.History()
	require.NotEmpty(t, history)
	assert.Equal(t, RoleSummary, history[0].Role)
	assert.Equal(t, "short", history[0].Content)
}

func TestManagerDegradedCompression(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContextTokens = 60
	cfg.MinTailMessages = 1

	be := &scriptedBackend{
		fastModel: cfg.FastModel,
		responses: []string{strings.Repeat("b", 40)},
		summaryErr: &backend.ProviderError{
			BackendError: backend.BackendError{Message: "fast model down"}, StatusCode: 500,
		},
	}
	m := newTestManager(t, cfg, be, echoSpec())

	result, err := m.ProcessTurn(context.Background(), strings.Repeat("a", 40))
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, result.Status)
	assert.True(t, result.Degraded)
	assert.LessOrEqual(t, m.ContextSize(), cfg.MaxContextTokens)
}

func TestManagerEmitsLifecycleEvents(t *testing.T) {
	be := &scriptedBackend{
		fastModel: "claude-haiku-4-5",
		responses: []string{
			directive("echo", `{"text": "hi"}`),
			"done",
		},
	}
	m := newTestManager(t, testConfig(), be, echoSpec())

	_, err := m.ProcessTurn(context.Background(), "go")
	require.NoError(t, err)
	m.Close()

	var kinds []EventKind
	for evt := range m.Events() {
		assert.Equal(t, m.ID(), evt.SessionID)
		kinds = append(kinds, evt.Kind)
	}
	assert.Equal(t, []EventKind{EventTurnStarted, EventToolDispatched, EventToolCompleted, EventTurnCompleted}, kinds)
}

func TestManagerSystemPromptSeeded(t *testing.T) {
	cfg := testConfig()
	cfg.SystemPrompt = "You are a terse assistant."

	be := &scriptedBackend{fastModel: cfg.FastModel, responses: []string{"ok"}}
	m := newTestManager(t, cfg, be, echoSpec())

	_, err := m.ProcessTurn(context.Background(), "Hi")
	require.NoError(t, err)

	history := m.History()
	require.NotEmpty(t, history)
	assert.Equal(t, RoleSystem, history[0].Role)
	assert.Equal(t, cfg.SystemPrompt, history[0].Content)

	// The request also carried the generated tool preamble.
	first := be.requests[0]
	require.NotEmpty(t, first.Messages)
	assert.Equal(t, backend.RoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[0].Content, "tool_call")
	assert.Contains(t, first.Messages[0].Content, "echo")
}

func TestNewManagerValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxToolRounds = 0

	_, err := NewManager(cfg, &scriptedBackend{}, NewToolRegistry(), nil)
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = NewManager(testConfig(), nil, NewToolRegistry(), nil)
	assert.ErrorAs(t, err, &cfgErr)
}

func TestManagerLoopDetectionNudges(t *testing.T) {
	cfg := testConfig()
	cfg.LoopDetection = true
	cfg.LoopDetectionWindow = 2
	cfg.MaxToolRounds = 5

	same := directive("echo", `{"text": "again"}`)
	be := &scriptedBackend{
		fastModel: cfg.FastModel,
		responses: []string{same, same, "giving up"},
	}
	m := newTestManager(t, cfg, be, echoSpec())

	result, err := m.ProcessTurn(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, TurnCompleted, result.Status)
	m.Close()

	sawWarning := false
	for evt := range m.Events() {
		if evt.Kind == EventWarning {
			sawWarning = true
		}
	}
	assert.True(t, sawWarning, "expected a loop warning event")

	nudged := false
	for _, msg := range m.History() {
		if msg.Role == RoleSystem && strings.Contains(msg.Content, "repeating") {
			nudged = true
		}
	}
	assert.True(t, nudged, "expected a steering message in history")
}
