package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoSpec() ToolSpec {
	return ToolSpec{
		Name:        "echo",
		Description: "Echo back the given text.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
			"required": []string{"text"},
		},
		Execute: func(ctx context.Context, args json.RawMessage, env ExecutionEnvironment) (string, error) {
			parsed, err := ParseToolArguments(args)
			if err != nil {
				return "", err
			}
			text, err := GetStringArg(parsed, "text", true)
			if err != nil {
				return "", err
			}
			return text, nil
		},
	}
}

func newTestExecutor(t *testing.T, specs ...ToolSpec) *Executor {
	t.Helper()
	registry := NewToolRegistry()
	for _, spec := range specs {
		require.NoError(t, registry.Register(spec))
	}
	return NewExecutor(registry, NewLocalEnvironment(t.TempDir()), zerolog.Nop())
}

func TestExecutorExecuteSuccess(t *testing.T) {
	e := newTestExecutor(t, echoSpec())
	call := ToolCall{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{"text": "hello"}`)}

	result := e.Execute(context.Background(), call)
	require.False(t, result.IsError(), "unexpected failure: %v", result.Err)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, "call_1", result.ToolCallID)
}

func TestExecutorUnknownTool(t *testing.T) {
	e := newTestExecutor(t, echoSpec())
	result := e.Execute(context.Background(), ToolCall{ID: "call_1", Name: "nonexistent"})

	require.True(t, result.IsError())
	assert.Equal(t, ErrUnknownTool, result.Err.Kind)
}

func TestExecutorInvalidArguments(t *testing.T) {
	e := newTestExecutor(t, echoSpec())

	// Missing required field.
	result := e.Execute(context.Background(), ToolCall{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{}`)})
	require.True(t, result.IsError())
	assert.Equal(t, ErrInvalidArguments, result.Err.Kind)

	// Wrong type.
	result = e.Execute(context.Background(), ToolCall{ID: "call_2", Name: "echo", Arguments: json.RawMessage(`{"text": 42}`)})
	require.True(t, result.IsError())
	assert.Equal(t, ErrInvalidArguments, result.Err.Kind)
}

func TestExecutorToolErrorContained(t *testing.T) {
	failing := ToolSpec{
		Name: "failing",
		Execute: func(ctx context.Context, args json.RawMessage, env ExecutionEnvironment) (string, error) {
			return "", errors.New("disk on fire")
		},
	}
	e := newTestExecutor(t, failing)

	result := e.Execute(context.Background(), ToolCall{ID: "call_1", Name: "failing"})
	require.True(t, result.IsError())
	assert.Equal(t, ErrExecutionFailed, result.Err.Kind)
	assert.Contains(t, result.Err.Message, "disk on fire")
}

func TestExecutorPanicContained(t *testing.T) {
	panicking := ToolSpec{
		Name: "panicking",
		Execute: func(ctx context.Context, args json.RawMessage, env ExecutionEnvironment) (string, error) {
			panic("tool went sideways")
		},
	}
	e := newTestExecutor(t, panicking)

	result := e.Execute(context.Background(), ToolCall{ID: "call_1", Name: "panicking"})
	require.True(t, result.IsError())
	assert.Equal(t, ErrExecutionFailed, result.Err.Kind)
	assert.Contains(t, result.Err.Message, "panicked")
}

func TestExecutorParseFailureResult(t *testing.T) {
	e := newTestExecutor(t, echoSpec())
	call := ToolCall{ID: "call_1", Name: "echo", ParseErr: "malformed tool directive"}

	result := e.Execute(context.Background(), call)
	require.True(t, result.IsError())
	assert.Equal(t, ErrParseFailure, result.Err.Kind)
}

func TestExecutorFailureIsolation(t *testing.T) {
	// One bad call must not disturb its siblings in the same round.
	e := newTestExecutor(t, echoSpec())
	calls := []ToolCall{
		{ID: "call_ok", Name: "echo", Arguments: json.RawMessage(`{"text": "fine"}`)},
		{ID: "call_bad", Name: "nonexistent"},
		{ID: "call_ok2", Name: "echo", Arguments: json.RawMessage(`{"text": "also fine"}`)},
	}

	results := e.ExecuteAll(context.Background(), calls)
	require.Len(t, results, 3)

	assert.False(t, results[0].IsError())
	assert.Equal(t, "fine", results[0].Content)

	require.True(t, results[1].IsError())
	assert.Equal(t, ErrUnknownTool, results[1].Err.Kind)

	assert.False(t, results[2].IsError())
	assert.Equal(t, "also fine", results[2].Content)
}

func TestExecuteAllPreservesExtractionOrder(t *testing.T) {
	// Stagger completion so the last-extracted call finishes first; the
	// results must still line up with the calls slice.
	slow := ToolSpec{
		Name: "slow",
		Execute: func(ctx context.Context, args json.RawMessage, env ExecutionEnvironment) (string, error) {
			var a struct {
				ID      string `json:"id"`
				DelayMs int    `json:"delay_ms"`
			}
			if err := json.Unmarshal(args, &a); err != nil {
				return "", err
			}
			time.Sleep(time.Duration(a.DelayMs) * time.Millisecond)
			return a.ID, nil
		},
	}
	e := newTestExecutor(t, slow)

	calls := make([]ToolCall, 4)
	for i := range calls {
		delay := (len(calls) - i) * 20 // earlier calls finish later
		calls[i] = ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      "slow",
			Arguments: json.RawMessage(fmt.Sprintf(`{"id": "out_%d", "delay_ms": %d}`, i, delay)),
		}
	}

	results := e.ExecuteAll(context.Background(), calls)
	require.Len(t, results, len(calls))
	for i, result := range results {
		assert.Equal(t, calls[i].ID, result.ToolCallID)
		assert.Equal(t, fmt.Sprintf("out_%d", i), result.Content)
	}
}
