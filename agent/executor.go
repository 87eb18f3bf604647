package agent

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/xeipuuv/gojsonschema"
)

// ToolResult is the outcome of one dispatched tool call.
type ToolResult struct {
	ToolCallID string
	Content    string
	Err        *ToolError
}

// IsError reports whether the call failed.
func (r ToolResult) IsError() bool {
	return r.Err != nil
}

// Executor dispatches tool calls against a registry. Every failure mode
// (unknown tool, bad arguments, tool error, tool panic) is contained to the
// individual call and reported as a ToolResult; Executor never returns an
// error and never lets one tool's failure disturb another's.
type Executor struct {
	registry *ToolRegistry
	env      ExecutionEnvironment
	logger   zerolog.Logger
}

func NewExecutor(registry *ToolRegistry, env ExecutionEnvironment, logger zerolog.Logger) *Executor {
	return &Executor{
		registry: registry,
		env:      env,
		logger:   logger.With().Str("component", "executor").Logger(),
	}
}

// Execute runs a single tool call through validation and invocation.
func (e *Executor) Execute(ctx context.Context, call ToolCall) ToolResult {
	if call.ParseErr != "" {
		return e.failure(call, NewToolError(ErrParseFailure, "%s", call.ParseErr))
	}

	spec := e.registry.Lookup(call.Name)
	if spec == nil {
		return e.failure(call, NewToolError(ErrUnknownTool, "no tool named %q is registered", call.Name))
	}

	if err := e.validateArguments(spec, call); err != nil {
		return e.failure(call, err)
	}

	return e.invoke(ctx, spec, call)
}

// ExecuteAll runs the given calls concurrently and returns results indexed
// by the calls' extraction order, regardless of completion order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	var wg conc.WaitGroup
	for i := range calls {
		i, call := i, calls[i]
		wg.Go(func() {
			results[i] = e.Execute(ctx, call)
		})
	}
	wg.Wait()
	return results
}

func (e *Executor) validateArguments(spec *ToolSpec, call ToolCall) *ToolError {
	if spec.Parameters == nil {
		return nil
	}

	args := call.Arguments
	if len(args) == 0 {
		args = []byte("{}")
	}

	schemaLoader := gojsonschema.NewGoLoader(spec.Parameters)
	docLoader := gojsonschema.NewBytesLoader(args)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return NewToolError(ErrInvalidArguments, "arguments are not valid JSON: %v", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return NewToolError(ErrInvalidArguments, "arguments rejected by schema: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (e *Executor) invoke(ctx context.Context, spec *ToolSpec, call ToolCall) (result ToolResult) {
	// A panicking tool must not take down the loop. The recover boundary
	// converts it into an ordinary execution failure.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("tool", call.Name).
				Interface("panic", r).
				Msg("tool panicked during execution")
			result = e.failure(call, NewToolError(ErrExecutionFailed, "tool %q panicked: %v", call.Name, r))
		}
	}()

	output, err := spec.Execute(ctx, call.Arguments, e.env)
	if err != nil {
		return e.failure(call, NewToolError(ErrExecutionFailed, "%v", err))
	}
	return ToolResult{ToolCallID: call.ID, Content: output}
}

func (e *Executor) failure(call ToolCall, toolErr *ToolError) ToolResult {
	e.logger.Debug().
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Str("kind", string(toolErr.Kind)).
		Msg(toolErr.Message)
	return ToolResult{ToolCallID: call.ID, Err: toolErr}
}
