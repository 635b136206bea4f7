package llm

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"polaris/internal/tools"
)

// AnthropicClient is the paid Claude Messages backend, used only when
// allow_paid is set.
type AnthropicClient struct {
	messages *sdk.MessageService
}

// NewAnthropicClient creates a client keyed by the API key from the
// environment.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{messages: &client.Messages}
}

// Name returns the backend name.
func (c *AnthropicClient) Name() string { return "anthropic" }

// Chat runs one completion round against the Messages API.
func (c *AnthropicClient) Chat(ctx context.Context, req Request) (*Response, error) {
	params, err := encodeAnthropicRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	return decodeAnthropicMessage(msg)
}

func encodeAnthropicRequest(req Request) (sdk.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, sdk.ToolUnionParamOfTool(anthropicSchema(t.Schema), t.Name))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleUser:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input, err := json.Marshal(tc.Args)
				if err != nil {
					return sdk.MessageNewParams{}, fmt.Errorf("tool call %s has unencodable args: %w", tc.Name, err)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, json.RawMessage(input), tc.Name))
			}
			if len(blocks) > 0 {
				params.Messages = append(params.Messages, sdk.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			// Tool results ride as user-role content blocks.
			params.Messages = append(params.Messages, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return params, nil
}

func anthropicSchema(s tools.Schema) sdk.ToolInputSchemaParam {
	props := map[string]any{}
	for name, p := range s.Properties {
		props[name] = p
	}
	out := sdk.ToolInputSchemaParam{Properties: props}
	if len(s.Required) > 0 {
		out.Required = s.Required
	}
	return out
}

func decodeAnthropicMessage(msg *sdk.Message) (*Response, error) {
	if msg == nil {
		return nil, fmt.Errorf("anthropic returned a nil message")
	}
	resp := &Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, fmt.Errorf("tool call %s has malformed input: %w", block.Name, err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			})
		}
	}
	return resp, nil
}
