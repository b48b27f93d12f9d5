// Package providers contains LLM provider client implementations.
package providers

import (
	"context"
)

// Message represents a chat message
type Message struct {
	Role       string      `json:"role"`    // "user", "assistant"
	Content    string      `json:"content"` // Text content (simple case)
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`  // For assistant messages with tool calls
	ToolResult *ToolResult `json:"tool_result,omitempty"` // For user messages with tool results
}

// ToolCall represents a tool invocation from the model
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Tool represents a tool definition offered to the model
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ChatRequest represents one turn's request to the provider
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens,omitempty"`
	System    string    `json:"system,omitempty"`
	Tools     []Tool    `json:"tools,omitempty"`
}

// ChatResponse represents a response from the provider
type ChatResponse struct {
	Content      string     `json:"content"`
	Model        string     `json:"model"`
	StopReason   string     `json:"stop_reason,omitempty"` // "end_turn", "tool_use"
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	InputTokens  int        `json:"input_tokens,omitempty"`
	OutputTokens int        `json:"output_tokens,omitempty"`
}

// Provider defines the interface the investigation engine drives
type Provider interface {
	// Chat sends a chat request and returns the response
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Name returns the provider name
	Name() string
}
