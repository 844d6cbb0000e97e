// Package llms provides the chat-completion client for the hosted model
// runtime. The orchestrator only ever needs single-shot completions with
// optional tool calling; streaming deltas are reduced to the final message
// by the agent layer anyway.
package llms

import "context"

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ToolCall is a model-requested invocation of a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Result is a completed model turn.
type Result struct {
	Text       string
	ToolCalls  []ToolCall
	TokensUsed int
}

// Provider produces chat completions for a given model.
type Provider interface {
	Chat(ctx context.Context, model string, messages []Message, tools []ToolDefinition) (*Result, error)
}
