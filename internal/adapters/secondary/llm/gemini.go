package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/ports"
)

// maxGeminiContinuations bounds the follow-up calls issued when Gemini stops
// on a token limit mid-answer.
const maxGeminiContinuations = 2

// truncationFinishReasons are the finish markers that trigger a
// continuation, uppercased for comparison.
var truncationFinishReasons = map[string]bool{
	"MAX_TOKENS":  true,
	"MAX_TOKEN":   true,
	"LENGTH":      true,
	"TOKEN_LIMIT": true,
}

// geminiCallFunc issues one generation round. Swapped out in tests.
type geminiCallFunc func(ctx context.Context, model string, history []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)

// GeminiGenerator is the Gemini backend. Calls run with the Google Maps key
// hidden from the environment so the SDK cannot pick up the wrong
// credential, and truncated answers are continued up to two times.
type GeminiGenerator struct {
	apiKey string
	call   geminiCallFunc
	logger *zap.Logger
}

// geminiEnvMu serializes environment mutation around Gemini calls.
var geminiEnvMu sync.Mutex

// NewGeminiGenerator creates a Gemini backend.
func NewGeminiGenerator(apiKey, googleMapsKey string, logger *zap.Logger) *GeminiGenerator {
	gen := &GeminiGenerator{
		apiKey: apiKey,
		logger: logger,
	}

	gen.call = func(ctx context.Context, model string, history []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
		return gen.callWithScopedEnv(ctx, model, history, options...)
	}

	return gen
}

// callWithScopedEnv constructs the client and runs one round with
// GOOGLE_API_KEY cleared and GEMINI_API_KEY set for the call's duration.
func (g *GeminiGenerator) callWithScopedEnv(ctx context.Context, model string, history []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	geminiEnvMu.Lock()
	defer geminiEnvMu.Unlock()

	savedGoogle, hadGoogle := os.LookupEnv("GOOGLE_API_KEY")
	savedGemini, hadGemini := os.LookupEnv("GEMINI_API_KEY")

	_ = os.Unsetenv("GOOGLE_API_KEY")
	_ = os.Setenv("GEMINI_API_KEY", g.apiKey)

	defer func() {
		if hadGoogle {
			_ = os.Setenv("GOOGLE_API_KEY", savedGoogle)
		} else {
			_ = os.Unsetenv("GOOGLE_API_KEY")
		}

		if hadGemini {
			_ = os.Setenv("GEMINI_API_KEY", savedGemini)
		} else {
			_ = os.Unsetenv("GEMINI_API_KEY")
		}
	}()

	client, err := googleai.New(ctx,
		googleai.WithAPIKey(g.apiKey),
		googleai.WithDefaultModel(model))

	if err != nil {
		return nil, fmt.Errorf("gemini client init failed: %w", err)
	}

	return client.GenerateContent(ctx, history, options...)
}

func (g *GeminiGenerator) generate(ctx context.Context, model string, req ports.GenerateRequest, _ reasoningSpec) (string, ports.TokenUsage, error) {
	history := make([]llms.MessageContent, 0, 2)

	if req.SystemPrompt != "" {
		history = append(history, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}

	history = append(history, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	options := []llms.CallOption{
		llms.WithTemperature(req.Temperature),
	}

	if req.MaxTokens > 0 {
		options = append(options, llms.WithMaxTokens(req.MaxTokens))
	}

	var builder strings.Builder

	var usage ports.TokenUsage

	for round := 0; ; round++ {
		resp, err := g.call(ctx, model, history, options...)

		if err != nil {
			return "", usage, domain.NewProviderError(fmt.Sprintf("gemini generation failed for %s", model), err)
		}

		if len(resp.Choices) == 0 {
			return "", usage, domain.NewProviderError(fmt.Sprintf("gemini model %s returned no candidates", model), nil)
		}

		choice := resp.Choices[0]
		builder.WriteString(choice.Content)
		accumulateGeminiUsage(&usage, choice.GenerationInfo)

		if !truncationFinishReasons[strings.ToUpper(choice.StopReason)] {
			break
		}

		if round >= maxGeminiContinuations {
			g.logger.Warn("gemini output still truncated after continuations",
				zap.String("model", model),
				zap.Int("rounds", round+1))

			break
		}

		g.logger.Debug("continuing truncated gemini output",
			zap.String("model", model),
			zap.String("finish_reason", choice.StopReason))

		history = append(history,
			llms.TextParts(llms.ChatMessageTypeAI, choice.Content),
			llms.TextParts(llms.ChatMessageTypeHuman,
				"Continue exactly where you stopped, without repeating anything."))
	}

	return builder.String(), usage, nil
}

// accumulateGeminiUsage folds one round's token counts into the running
// total. Keys follow the langchaingo googleai generation info map.
func accumulateGeminiUsage(usage *ports.TokenUsage, info map[string]any) {
	usage.InputTokens += genInfoInt(info, "input_tokens")
	usage.OutputTokens += genInfoInt(info, "output_tokens")
	usage.TotalTokens += genInfoInt(info, "total_tokens")
}

func genInfoInt(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}

	return 0
}
