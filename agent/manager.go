package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/martinemde/tether/backend"
)

// Backend is the surface the manager needs from the LLM layer.
type Backend interface {
	Complete(ctx context.Context, req backend.Request) (*backend.Response, error)
}

// TurnStatus tells how a turn ended.
type TurnStatus string

const (
	// TurnCompleted means the model produced a final answer.
	TurnCompleted TurnStatus = "completed"
	// TurnAborted means the turn was cut short; see AbortReason.
	TurnAborted TurnStatus = "aborted"
)

// TurnResult is the outcome of one ProcessTurn call.
type TurnResult struct {
	Status      TurnStatus
	AbortReason AbortReason
	// Message is the model's final prose, with tool directives stripped.
	Message string
	// Degraded is true when required compression fell back to truncation
	// at any point during the turn.
	Degraded bool
	// Rounds is the number of tool dispatch rounds the turn used.
	Rounds int
	// Usage aggregates token usage across all backend requests in the turn.
	Usage backend.Usage
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger. Without it the manager is silent.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithParser replaces the directive parser.
func WithParser(p *Parser) ManagerOption {
	return func(m *Manager) { m.parser = p }
}

// WithTokenEstimator replaces the context token estimator.
func WithTokenEstimator(est TokenEstimator) ManagerOption {
	return func(m *Manager) { m.estimator = est }
}

// Manager orchestrates one conversation session: it owns the bounded
// context, drives the request/parse/dispatch/fold loop, and reports
// progress on its event channel. One turn at a time; ProcessTurn is not
// reentrant.
type Manager struct {
	id        string
	config    Config
	backend   Backend
	registry  *ToolRegistry
	executor  *Executor
	parser    *Parser
	context   *ContextManager
	emitter   *EventEmitter
	estimator TokenEstimator
	logger    zerolog.Logger

	// sigs holds tool-call signatures from the current turn for loop
	// detection. Reset at turn start.
	sigs []string
}

// NewManager builds a session manager. The config is validated; a bad
// config is fatal here rather than at first use.
func NewManager(cfg Config, be Backend, registry *ToolRegistry, env ExecutionEnvironment, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if be == nil {
		return nil, configErrorf("backend must not be nil")
	}
	if registry == nil {
		registry = NewToolRegistry()
	}

	m := &Manager{
		id:       "session_" + uuid.New().String()[:8],
		config:   cfg,
		backend:  be,
		registry: registry,
		parser:   NewParser(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.estimator == nil {
		m.estimator = NewTokenEstimator()
	}

	m.logger = m.logger.With().Str("session", m.id).Logger()
	m.context = NewContextManager(cfg.MaxContextTokens, cfg.MinTailMessages, m.estimator, m.logger)
	m.executor = NewExecutor(registry, env, m.logger)
	m.emitter = NewEventEmitter(m.id, cfg.EventBuffer, m.logger)

	if cfg.SystemPrompt != "" {
		m.context.Append(NewSystemMessage(cfg.SystemPrompt))
	}
	return m, nil
}

// ID returns the session identifier.
func (m *Manager) ID() string { return m.id }

// Events returns the turn-lifecycle event channel.
func (m *Manager) Events() <-chan Event { return m.emitter.Events() }

// History returns a copy of the current conversation history.
func (m *Manager) History() []Message { return m.context.Snapshot() }

// ContextSize returns the estimated token size of the history.
func (m *Manager) ContextSize() int { return m.context.Size() }

// Close releases the event channel. The manager must not be used after.
func (m *Manager) Close() { m.emitter.Close() }

// ProcessTurn runs one full turn: append the user input, then loop
// request / parse / dispatch / fold until the model answers without tool
// directives, the round ceiling is hit, or the caller cancels. Backend
// failures that survive the retry policy surface as the returned error
// with history preserved.
func (m *Manager) ProcessTurn(ctx context.Context, input string) (*TurnResult, error) {
	m.sigs = m.sigs[:0]
	m.emitter.Emit(EventTurnStarted, map[string]interface{}{"input": input})
	m.context.Append(NewUserMessage(input))

	degraded := m.compressIfNeeded(ctx)

	rounds := 0
	var usage backend.Usage
	for {
		if err := ctx.Err(); err != nil {
			return m.abort(AbortCancelled, degraded, rounds, usage), err
		}

		resp, err := m.request(ctx)
		if err != nil {
			m.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
			m.logger.Error().Err(err).Int("rounds", rounds).Msg("backend request failed for turn")
			return nil, fmt.Errorf("backend request failed: %w", err)
		}
		if resp.Usage != nil {
			usage = usage.Add(*resp.Usage)
		}

		m.context.Append(NewAssistantMessage(resp.Text))
		calls := m.parser.Extract(resp.Text)

		if len(calls) == 0 {
			degraded = m.compressIfNeeded(ctx) || degraded
			result := &TurnResult{
				Status:   TurnCompleted,
				Message:  m.parser.Strip(resp.Text),
				Degraded: degraded,
				Rounds:   rounds,
				Usage:    usage,
			}
			m.emitter.Emit(EventTurnCompleted, map[string]interface{}{
				"rounds":   rounds,
				"degraded": degraded,
			})
			return result, nil
		}

		if rounds >= m.config.MaxToolRounds {
			m.logger.Warn().Int("rounds", rounds).Msg("tool round ceiling reached, aborting turn")
			return m.abort(AbortTooManyRounds, degraded, rounds, usage), nil
		}

		m.dispatchRound(ctx, calls)
		rounds++

		// The assistant message and its folded results.
		appended := 1 + len(calls)
		if m.config.LoopDetection && m.loopDetected() {
			m.emitter.Emit(EventWarning, map[string]interface{}{
				"warning": "repeated identical tool calls detected",
			})
			m.context.Append(NewSystemMessage(
				"You appear to be repeating the same tool calls. Try a different approach or give your best answer with what you have."))
			appended++
		}

		// Between-rounds compression keeps the whole latest round verbatim
		// so the primary model sees every result un-summarized at least
		// once.
		degraded = m.compressKeeping(ctx, appended) || degraded
	}
}

// dispatchRound fans the calls out concurrently and folds the results back
// into context in extraction order.
func (m *Manager) dispatchRound(ctx context.Context, calls []ToolCall) {
	for _, call := range calls {
		m.emitter.Emit(EventToolDispatched, map[string]interface{}{
			"call_id": call.ID,
			"tool":    call.Name,
			"args":    string(call.Arguments),
		})
	}

	// Once dispatched, a round runs to completion: tools may already have
	// real-world side effects, so caller cancellation must not interrupt
	// them mid-execution. The outcomes are folded, then the between-rounds
	// check in ProcessTurn aborts the turn. Per-tool timeouts still apply.
	results := m.executor.ExecuteAll(context.WithoutCancel(ctx), calls)

	for i, result := range results {
		data := map[string]interface{}{
			"call_id": result.ToolCallID,
			"tool":    calls[i].Name,
			"is_err":  result.IsError(),
		}
		if result.IsError() {
			data["error"] = result.Err.Error()
		} else {
			// The event carries the full output; only the folded copy
			// is truncated.
			data["output"] = result.Content
			result.Content = TruncateToolOutput(result.Content, calls[i].Name, m.config.ToolOutputLimits)
		}
		m.emitter.Emit(EventToolCompleted, data)
		m.context.Append(NewToolResultMessage(result))
		m.sigs = append(m.sigs, toolCallSignature(calls[i].Name, calls[i].Arguments))
	}
}

func (m *Manager) request(ctx context.Context) (*backend.Response, error) {
	messages := make([]backend.Message, 0, m.context.Len()+1)
	if m.registry.Count() > 0 {
		messages = append(messages, backend.SystemMessage(m.buildToolPrompt()))
	}
	messages = append(messages, ToBackendMessages(m.context.Snapshot())...)

	req := backend.Request{
		Model:       m.config.CapableModel,
		Provider:    m.config.Provider,
		Messages:    messages,
		Temperature: m.config.Temperature,
	}
	if m.config.MaxResponseTokens > 0 {
		maxTokens := m.config.MaxResponseTokens
		req.MaxTokens = &maxTokens
	}
	return m.backend.Complete(ctx, req)
}

// compressIfNeeded runs turn-boundary compression through the fast model.
// Returns true when compression had to degrade to hard truncation.
func (m *Manager) compressIfNeeded(ctx context.Context) bool {
	return m.compressKeeping(ctx, 0)
}

// compressKeeping compresses while preserving at least keepTail trailing
// messages verbatim.
func (m *Manager) compressKeeping(ctx context.Context, keepTail int) bool {
	if !m.context.NeedsCompression() {
		return false
	}

	before := m.context.Size()
	degraded, _ := m.context.CompressIfNeededKeeping(ctx, m.summarize, keepTail)
	m.emitter.Emit(EventContextCompressed, map[string]interface{}{
		"before_tokens": before,
		"after_tokens":  m.context.Size(),
		"degraded":      degraded,
	})
	if degraded {
		m.emitter.Emit(EventWarning, map[string]interface{}{
			"warning": "context compression degraded to truncation; older history was dropped",
		})
	}
	return degraded
}

// summarize condenses a transcript through the fast model.
func (m *Manager) summarize(ctx context.Context, transcript string) (string, error) {
	resp, err := m.backend.Complete(ctx, backend.Request{
		Model:    m.config.FastModel,
		Provider: m.config.Provider,
		Messages: []backend.Message{
			backend.SystemMessage("You condense conversation transcripts. Preserve decisions, open tasks, " +
				"file paths, and tool outcomes. Output only the summary."),
			backend.UserMessage("Summarize this conversation so it can replace the original messages:\n\n" + transcript),
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (m *Manager) loopDetected() bool {
	return detectLoop(m.sigs, m.config.LoopDetectionWindow)
}

func (m *Manager) abort(reason AbortReason, degraded bool, rounds int, usage backend.Usage) *TurnResult {
	m.emitter.Emit(EventTurnAborted, map[string]interface{}{
		"reason": string(reason),
		"rounds": rounds,
	})
	return &TurnResult{
		Status:      TurnAborted,
		AbortReason: reason,
		Degraded:    degraded,
		Rounds:      rounds,
		Usage:       usage,
	}
}

// buildToolPrompt renders the directive syntax and the registered tool
// specs into a system preamble. It is regenerated per request and never
// stored in context.
func (m *Manager) buildToolPrompt() string {
	var b strings.Builder
	b.WriteString("You can call tools. To call one, emit a fenced block exactly like this:\n\n")
	b.WriteString("```tool_call\n{\"name\": \"tool_name\", \"arguments\": {...}}\n```\n\n")
	b.WriteString("You may emit several blocks in one response; they run concurrently. ")
	b.WriteString("Results arrive as tool messages. When you have enough information, answer in plain prose with no tool_call blocks.\n\n")
	b.WriteString("Available tools:\n")
	for _, spec := range m.registry.Specs() {
		fmt.Fprintf(&b, "\n### %s\n%s\n", spec.Name, spec.Description)
		if spec.Parameters != nil {
			if schema, err := json.Marshal(spec.Parameters); err == nil {
				fmt.Fprintf(&b, "Arguments schema: %s\n", schema)
			}
		}
	}
	return b.String()
}
