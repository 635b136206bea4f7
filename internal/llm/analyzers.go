package llm

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"google.golang.org/genai"
)

// paperPrompt frames a full-text analysis request.
const paperPrompt = "다음 논문을 분석해줘. 핵심 기여, 방법, 결과, 한계를 한국어로 정리해.\n\n"

// GeminiAnalyzer summarizes paper text with the Gemini API.
type GeminiAnalyzer struct {
	client *genai.Client
	model  string
}

// NewGeminiAnalyzer creates a Gemini-backed paper analyzer.
func NewGeminiAnalyzer(apiKey, model string) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiAnalyzer{client: client, model: model}, nil
}

// Analyze runs one summarization call over the paper content.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, content string) (string, error) {
	result, err := a.client.Models.GenerateContent(ctx, a.model,
		[]*genai.Content{genai.NewContentFromText(paperPrompt+content, genai.RoleUser)},
		nil)
	if err != nil {
		return "", fmt.Errorf("gemini analysis failed: %w", err)
	}
	return result.Text(), nil
}

// ClaudeAnalyzer summarizes paper text with the Claude Messages API.
type ClaudeAnalyzer struct {
	client *AnthropicClient
	model  string
}

// NewClaudeAnalyzer creates a Claude-backed paper analyzer reusing
// the chat client.
func NewClaudeAnalyzer(client *AnthropicClient, model string) *ClaudeAnalyzer {
	return &ClaudeAnalyzer{client: client, model: model}
}

// Analyze runs one summarization call over the paper content.
func (a *ClaudeAnalyzer) Analyze(ctx context.Context, content string) (string, error) {
	msg, err := a.client.messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: 4096,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(paperPrompt + content)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude analysis failed: %w", err)
	}
	resp, err := decodeAnthropicMessage(msg)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
