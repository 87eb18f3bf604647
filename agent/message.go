package agent

import (
	"time"

	"github.com/martinemde/tether/backend"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem is the standing instruction prefix for the session.
	RoleSystem Role = "system"
	// RoleUser is end-user input.
	RoleUser Role = "user"
	// RoleAssistant is model output, including any embedded tool directives.
	RoleAssistant Role = "assistant"
	// RoleToolResult is the folded-back outcome of a dispatched tool call.
	RoleToolResult Role = "tool_result"
	// RoleSummary is a compression artifact standing in for older history.
	RoleSummary Role = "summary"
)

// Message is one entry in the ordered conversation history.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string // set for RoleToolResult
	IsError    bool   // set for RoleToolResult failures
	Timestamp  time.Time
}

func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now()}
}

// NewToolResultMessage folds a tool outcome into a context message. Failed
// results carry the error text as content so the model can react to it.
func NewToolResultMessage(result ToolResult) Message {
	msg := Message{
		Role:       RoleToolResult,
		Content:    result.Content,
		ToolCallID: result.ToolCallID,
		Timestamp:  time.Now(),
	}
	if result.Err != nil {
		msg.Content = result.Err.Error()
		msg.IsError = true
	}
	return msg
}

// NewSummaryMessage wraps compressed history. Summaries are marked so that
// later compression passes and renderers can tell them apart from ordinary
// assistant output.
func NewSummaryMessage(content string) Message {
	return Message{Role: RoleSummary, Content: content, Timestamp: time.Now()}
}

// ToBackendMessages converts conversation history into the wire form the
// backend expects. Summaries travel as system messages so the model treats
// them as established fact rather than its own prose.
func ToBackendMessages(history []Message) []backend.Message {
	out := make([]backend.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case RoleSystem:
			out = append(out, backend.SystemMessage(msg.Content))
		case RoleUser:
			out = append(out, backend.UserMessage(msg.Content))
		case RoleAssistant:
			out = append(out, backend.AssistantMessage(msg.Content))
		case RoleToolResult:
			out = append(out, backend.ToolResultMessage(msg.ToolCallID, msg.Content, msg.IsError))
		case RoleSummary:
			out = append(out, backend.SystemMessage("Summary of earlier conversation:\n"+msg.Content))
		}
	}
	return out
}
