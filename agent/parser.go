package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ToolCall is one tool directive extracted from model output.
type ToolCall struct {
	// ID uniquely identifies the call so results can be correlated.
	ID string
	// Name is the tool the model asked for. Empty when the directive was
	// too malformed to recover a name.
	Name string
	// Arguments is the raw JSON arguments object.
	Arguments json.RawMessage
	// ParseErr is set when the directive was recognized but its payload
	// could not be decoded. Such calls still enter the transcript so the
	// record shows what the model attempted.
	ParseErr string
}

// directivePattern matches fenced tool_call blocks:
//
//	```tool_call
//	{"name": "read_file", "arguments": {"path": "main.go"}}
//	```
var directivePattern = regexp.MustCompile("(?s)```tool_call\\s*\\n(.*?)\\n?\\s*```")

// namePattern recovers a tool name from a payload that failed full JSON
// decoding, so malformed directives are still attributable.
var namePattern = regexp.MustCompile(`"name"\s*:\s*"([^"]*)"`)

// Parser extracts tool directives from free-form model text. It is tolerant
// by design: anything that is not a well-formed directive is left alone as
// prose, and a recognized-but-malformed directive becomes a ToolCall with
// ParseErr set rather than a turn failure.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Extract returns all tool directives in text, in order of appearance.
func (p *Parser) Extract(text string) []ToolCall {
	matches := directivePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	calls := make([]ToolCall, 0, len(matches))
	for _, match := range matches {
		payload := strings.TrimSpace(match[1])
		calls = append(calls, p.decodeDirective(payload))
	}
	return calls
}

// Strip removes all tool directives from text, leaving only prose.
func (p *Parser) Strip(text string) string {
	return strings.TrimSpace(directivePattern.ReplaceAllString(text, ""))
}

func (p *Parser) decodeDirective(payload string) ToolCall {
	call := ToolCall{
		ID:        newCallID(),
		Arguments: json.RawMessage(payload),
	}

	var directive struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(payload), &directive); err != nil {
		call.Name = recoverName(payload)
		call.ParseErr = fmt.Sprintf("malformed tool directive: %v", err)
		return call
	}
	if directive.Name == "" {
		call.ParseErr = "tool directive is missing a name"
		return call
	}

	call.Name = directive.Name
	if len(directive.Arguments) == 0 {
		call.Arguments = json.RawMessage("{}")
	} else {
		call.Arguments = directive.Arguments
	}
	return call
}

func recoverName(payload string) string {
	if m := namePattern.FindStringSubmatch(payload); m != nil {
		return m[1]
	}
	return ""
}

func newCallID() string {
	return "call_" + uuid.New().String()[:8]
}
