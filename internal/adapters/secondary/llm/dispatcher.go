// Package llm routes text generation across OpenAI, OpenRouter, and Gemini
// backends. The dispatcher picks the backend from the model reference,
// applies reasoning overrides, records token cost, and cleans the output
// before the core ever sees it.
package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/ports"
)

// OpenRouterBaseURL is the OpenAI-compatible OpenRouter endpoint.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

const (
	providerOpenAI     = "openai"
	providerOpenRouter = "openrouter"
	providerGemini     = "gemini"
)

// reasoningModelMarkers identify models that accept a reasoning effort
// parameter. Matched by substring against the resolved model name.
var reasoningModelMarkers = []string{"o1", "o3", "o4", "gpt-4.1", "gpt-5"}

var openAISeriesPattern = regexp.MustCompile(`^o[1-9]`)

// chatBackend is one provider integration. The dispatcher owns routing and
// cost accounting; backends own transport.
type chatBackend interface {
	generate(ctx context.Context, model string, req ports.GenerateRequest, spec reasoningSpec) (string, ports.TokenUsage, error)
}

// Keys carries the provider credentials the dispatcher can route to. Empty
// keys disable their provider; routing to a disabled provider fails fast.
type Keys struct {
	OpenAI     string
	OpenRouter string
	Gemini     string

	// GoogleMaps is hidden from the Gemini SDK environment during calls so
	// the wrong credential is never picked up.
	GoogleMaps string
}

// Dispatcher implements ports.TextGenerator over the configured backends.
type Dispatcher struct {
	backends map[string]chatBackend
	recorder ports.CostRecorder
	logger   *zap.Logger
}

// NewDispatcher wires the provider backends from the available keys.
//
// Parameters:
//   - keys: Provider credentials; empty entries disable their backend
//   - recorder: Cost accumulator fed after every call
//   - logger: Zap logger
//
// Returns:
//   - *Dispatcher: Ready dispatcher
func NewDispatcher(keys Keys, recorder ports.CostRecorder, logger *zap.Logger) *Dispatcher {
	backends := make(map[string]chatBackend)

	if keys.OpenAI != "" {
		backends[providerOpenAI] = NewChatGenerator(keys.OpenAI, "", logger)
	}

	if keys.OpenRouter != "" {
		backends[providerOpenRouter] = NewChatGenerator(keys.OpenRouter, OpenRouterBaseURL, logger)
	}

	if keys.Gemini != "" {
		backends[providerGemini] = NewGeminiGenerator(keys.Gemini, keys.GoogleMaps, logger)
	}

	return &Dispatcher{
		backends: backends,
		recorder: recorder,
		logger:   logger,
	}
}

// Generate routes the request to its backend and returns cleaned text.
//
// Returns:
//   - string: Cleaned model output
//   - error: Routing, transport, or empty-output failure
func (d *Dispatcher) Generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	provider, model, err := route(req.Model)

	if err != nil {
		return "", err
	}

	backend, ok := d.backends[provider]

	if !ok {
		return "", domain.NewConfigError(fmt.Sprintf("no API key configured for provider %s (model %s)", provider, req.Model), nil)
	}

	spec := parseReasoning(req.ReasoningLevel)

	if !reasoningCapable(model) {
		spec = reasoningSpec{}
	}

	text, usage, err := backend.generate(ctx, model, req, spec)

	if err != nil {
		return "", err
	}

	if d.recorder != nil {
		cents := d.recorder.RecordUsage(req.Model, req.CostLabel, req.CostKind, usage)

		d.logger.Debug("llm call completed",
			zap.String("model", req.Model),
			zap.String("provider", provider),
			zap.Int("output_tokens", usage.OutputTokens),
			zap.Float64("cost_cents", cents))
	}

	cleaned := CleanOutput(text)

	if strings.TrimSpace(cleaned) == "" {
		return "", domain.NewProviderError(fmt.Sprintf("model %s returned empty output", req.Model), nil)
	}

	return cleaned, nil
}

// route resolves a model reference to (provider, provider-local model name).
//
// References take three forms: "or:<vendor>/<model>" for OpenRouter,
// "gemini-*" or "google/gemini-*" for Gemini, and "gpt-*" or the o-series
// for OpenAI. Anything else is a configuration error.
func route(model string) (string, string, error) {
	switch {
	case strings.HasPrefix(model, "or:"):
		resolved := strings.TrimPrefix(model, "or:")

		if !strings.Contains(resolved, "/") {
			return "", "", domain.NewConfigError(fmt.Sprintf("openrouter model %q must be <vendor>/<model>", model), nil)
		}

		return providerOpenRouter, resolved, nil

	case strings.HasPrefix(model, "google/gemini-"):
		return providerGemini, strings.TrimPrefix(model, "google/"), nil

	case strings.HasPrefix(model, "gemini-"):
		return providerGemini, model, nil

	case strings.HasPrefix(model, "gpt-"), openAISeriesPattern.MatchString(model):
		return providerOpenAI, model, nil
	}

	return "", "", domain.NewConfigError(fmt.Sprintf("unrecognized model reference %q", model), nil)
}

// reasoningCapable reports whether a model accepts reasoning parameters.
func reasoningCapable(model string) bool {
	for _, marker := range reasoningModelMarkers {
		if strings.Contains(model, marker) {
			return true
		}
	}

	return false
}

// reasoningSpec is a parsed reasoning override.
type reasoningSpec struct {
	effort   string
	budget   int
	disabled bool
}

func (s reasoningSpec) active() bool {
	return s.effort != "" && !s.disabled
}

// parseReasoning parses the override forms "high", "low:2048", and "off".
// Unparseable values are ignored.
func parseReasoning(level string) reasoningSpec {
	level = strings.TrimSpace(strings.ToLower(level))

	if level == "" {
		return reasoningSpec{}
	}

	if level == "off" || level == "none" {
		return reasoningSpec{disabled: true}
	}

	effort := level
	budget := 0

	if idx := strings.Index(level, ":"); idx >= 0 {
		effort = level[:idx]

		parsed, err := strconv.Atoi(level[idx+1:])

		if err != nil || parsed <= 0 {
			return reasoningSpec{}
		}

		budget = parsed
	}

	switch effort {
	case "minimal", "low", "medium", "high":
		return reasoningSpec{effort: effort, budget: budget}
	}

	return reasoningSpec{}
}

var (
	thinkBlockPattern   = regexp.MustCompile(`(?s)<think>.*?</think>`)
	degreeBeforePattern = regexp.MustCompile(`(\d)\s+°`)
	degreeAfterPattern  = regexp.MustCompile(`°\s+([CF]\b)`)
)

// CleanOutput strips reasoning leakage and chat framing from model text:
// <think> blocks, preamble before the first bold heading, meta lines, and
// uneven degree-symbol spacing.
func CleanOutput(text string) string {
	text = thinkBlockPattern.ReplaceAllString(text, "")
	text = trimBeforeFirstBold(text)

	lines := strings.Split(text, "\n")
	kept := lines[:0]

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "Let's ") || strings.HasPrefix(trimmed, "Let’s ") {
			continue
		}

		if strings.HasPrefix(trimmed, "The instruction says") {
			continue
		}

		kept = append(kept, line)
	}

	text = strings.Join(kept, "\n")
	text = degreeBeforePattern.ReplaceAllString(text, "$1°")
	text = degreeAfterPattern.ReplaceAllString(text, "°$1")

	return strings.TrimSpace(text)
}

// trimBeforeFirstBold drops conversational preamble ahead of the first
// **bold** marker. Text without bold markers passes through unchanged.
func trimBeforeFirstBold(text string) string {
	idx := strings.Index(text, "**")

	if idx <= 0 {
		return text
	}

	if strings.Index(text[idx+2:], "**") < 0 {
		return text
	}

	return text[idx:]
}
