package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/ports"
)

// ChatGenerator serves OpenAI and any OpenAI-compatible endpoint such as
// OpenRouter, selected by base URL.
type ChatGenerator struct {
	client *openai.Client
	logger *zap.Logger
}

// NewChatGenerator creates a chat-completions backend.
//
// Parameters:
//   - apiKey: Provider API key
//   - baseURL: Endpoint override; empty uses the OpenAI default
//   - logger: Zap logger
func NewChatGenerator(apiKey, baseURL string, logger *zap.Logger) *ChatGenerator {
	cfg := openai.DefaultConfig(apiKey)

	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &ChatGenerator{
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

func (g *ChatGenerator) generate(ctx context.Context, model string, req ports.GenerateRequest, spec reasoningSpec) (string, ports.TokenUsage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)

	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}

	if spec.active() {
		// Reasoning models reject temperature and the legacy max_tokens field.
		chatReq.ReasoningEffort = spec.effort
		chatReq.MaxCompletionTokens = req.MaxTokens

		if spec.budget > 0 {
			chatReq.MaxCompletionTokens = spec.budget
		}
	} else {
		chatReq.Temperature = float32(req.Temperature)
		chatReq.MaxTokens = req.MaxTokens
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)

	if err != nil {
		return "", ports.TokenUsage{}, domain.NewProviderError(fmt.Sprintf("chat completion failed for %s", model), err)
	}

	if len(resp.Choices) == 0 {
		return "", ports.TokenUsage{}, domain.NewProviderError(fmt.Sprintf("model %s returned no choices", model), nil)
	}

	message := resp.Choices[0].Message
	content := message.Content

	// Some reasoning models put everything in the reasoning channel and
	// leave content empty.
	if content == "" && message.ReasoningContent != "" {
		g.logger.Debug("recovering output from reasoning channel",
			zap.String("model", model))

		content = message.ReasoningContent
	}

	usage := ports.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}

	if resp.Usage.PromptTokensDetails != nil {
		usage.CachedInputTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}

	return content, usage, nil
}
