package agent

import "fmt"

// ErrorKind classifies tool-level failures. Tool failures never abort a
// turn: they are folded back into context as error results so the model
// can observe and react to them.
type ErrorKind string

const (
	// ErrUnknownTool means the model named a tool that is not registered.
	ErrUnknownTool ErrorKind = "unknown_tool"
	// ErrInvalidArguments means the arguments failed schema validation.
	ErrInvalidArguments ErrorKind = "invalid_arguments"
	// ErrExecutionFailed means the tool itself returned an error or panicked.
	ErrExecutionFailed ErrorKind = "execution_failed"
	// ErrParseFailure means a directive was recognized but malformed.
	ErrParseFailure ErrorKind = "parse_failure"
)

// ToolError is the failure payload of a ToolResult.
type ToolError struct {
	Kind    ErrorKind
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewToolError builds a ToolError with a formatted message.
func NewToolError(kind ErrorKind, format string, args ...interface{}) *ToolError {
	return &ToolError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ConfigError indicates an invalid or conflicting configuration. It is
// fatal at construction time and is never retried or folded into context.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Message
}

func configErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// AbortReason explains why a turn ended without a final answer.
type AbortReason string

const (
	// AbortTooManyRounds means the per-turn tool round ceiling was reached.
	AbortTooManyRounds AbortReason = "too_many_rounds"
	// AbortCancelled means the caller cancelled the turn.
	AbortCancelled AbortReason = "cancelled"
)
