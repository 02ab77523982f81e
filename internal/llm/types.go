// Package llm defines the provider-agnostic completion contract and its
// Anthropic and OpenAI implementations.
package llm

import (
	"errors"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// ErrNotConfigured is returned when no provider has credentials.
var ErrNotConfigured = errors.New("LLM provider not configured")

// Role identifies a message in the provider-neutral transcript.
type Role string

const (
	RoleUser               Role = "user"
	RoleAssistant          Role = "assistant"
	RoleAssistantToolCalls Role = "assistant_tool_calls"
	RoleToolResults        Role = "tool_results"
)

// Message is one entry of the provider-neutral transcript. Content is
// set for user and assistant roles, ToolCalls for assistant_tool_calls,
// and Results for tool_results.
type Message struct {
	Role      Role         `json:"role"`
	Content   string       `json:"content,omitempty"`
	ToolCalls []ToolCall   `json:"toolCalls,omitempty"`
	Results   []ToolResult `json:"results,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult carries the JSON-encoded outcome of one ToolCall.
type ToolResult struct {
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content"`
}

// Tool describes a callable tool to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Request is a single completion request.
type Request struct {
	System    string
	Messages  []Message
	Tools     []Tool
	MaxTokens int // zero uses the client default
}

// ResponseType distinguishes the two possible completion outcomes.
type ResponseType string

const (
	ResponseText      ResponseType = "text"
	ResponseToolCalls ResponseType = "tool_calls"
)

// Response is either final text or a batch of tool calls.
type Response struct {
	Type      ResponseType
	Text      string
	ToolCalls []ToolCall

	Model        string
	InputTokens  int
	OutputTokens int
}

// TextResponse builds a text Response.
func TextResponse(text string) *Response {
	return &Response{Type: ResponseText, Text: text}
}

// ToolCallsResponse builds a tool_calls Response.
func ToolCallsResponse(calls ...ToolCall) *Response {
	return &Response{Type: ResponseToolCalls, ToolCalls: calls}
}
