// Package llm is the backend-neutral chat inference layer. The router
// speaks these types; openai.go and anthropic.go translate them to the
// respective wire formats.
package llm

import (
	"context"

	"polaris/internal/config"
	"polaris/internal/tools"
)

// Roles in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Message is one turn of a conversation. Assistant turns may carry
// tool calls; RoleTool turns carry the result for ToolCallID.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Request is a single inference call.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []*tools.Tool
	Temperature float64
	MaxTokens   int
}

// Response is the model's reply. A non-empty ToolCalls means the
// model wants tools run before it can answer.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
}

// Client is a chat backend.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// SelectModel picks the model id for a request. Tool-less calls (the
// ensemble voters, fact extraction) take the fast model; the agent
// loop takes the full one. The anthropic backend has a single model.
func SelectModel(cfg config.LLMConfig, withTools bool) string {
	if cfg.Backend == "anthropic" {
		return cfg.AnthropicModel
	}
	if withTools {
		return cfg.FullModel
	}
	return cfg.FastModel
}

// NewClient builds the configured backend. The paid anthropic backend
// is only used when explicitly allowed and keyed; everything else
// falls back to the local OpenAI-compatible server.
func NewClient(cfg config.LLMConfig) Client {
	if cfg.Backend == "anthropic" && cfg.AllowPaid && cfg.AnthropicAPIKey != "" {
		return NewAnthropicClient(cfg.AnthropicAPIKey)
	}
	return NewOpenAIClient(cfg.Endpoint)
}
