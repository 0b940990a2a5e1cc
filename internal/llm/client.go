package llm

import (
	"context"
	"encoding/json"
)

type Message struct {
	Role       string     `json:"role"` // user, assistant, system
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool result messages
}

type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// FinishReasonToolCalls is set when the model stopped to request tool calls
// rather than producing a terminal answer.
const FinishReasonToolCalls = "tool_calls"

type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// WantsTools reports whether the response requests further tool calls.
func (r *Response) WantsTools() bool {
	return r.FinishReason == FinishReasonToolCalls && len(r.ToolCalls) > 0
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

type Client interface {
	Chat(ctx context.Context, systemPrompt string, messages []Message, tools []Tool) (*Response, error)
}
