// Package impact produces the background briefing that accompanies each
// forecast: local vulnerabilities, impact thresholds, exposure, and upcoming
// events. Content comes from a search-grounded LLM call and is cached on
// disk for three days.
package impact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/ports"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/fsio"
)

// RequiredSections are the four briefing headings, in order. Output missing
// any of them triggers a continuation round.
var RequiredSections = []string{
	"Existing Vulnerabilities",
	"Weather Impact Thresholds",
	"Exposed Populations and Assets",
	"Upcoming Events",
}

const (
	cacheFreshness   = 72 * time.Hour
	requestTimeout   = 60 * time.Second
	maxContinuations = 2

	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Provider implements ports.ContextProvider. Provider failures degrade to
// empty content rather than failing the forecast.
type Provider struct {
	cacheDir string
	model    string

	openAIKey    string
	openAIClient *openai.Client
	responsesURL string
	geminiKey    string
	geminiURL    string

	httpClient *http.Client
	recorder   ports.CostRecorder
	clock      clockwork.Clock
	logger     *zap.Logger
}

// Options overrides endpoints and transport, used by tests.
type Options struct {
	ResponsesURL string
	GeminiURL    string
	HTTPClient   *http.Client
}

// NewProvider creates an impact-context provider.
//
// Parameters:
//   - cacheDir: Directory for briefing cache files
//   - model: Context model reference (gemini-* or gpt-*)
//   - openAIKey, geminiKey: Provider credentials
//   - recorder: Cost accumulator
//   - clock: Clock used for cache dating
//   - logger: Zap logger
//   - opts: Endpoint and transport overrides
func NewProvider(cacheDir, model, openAIKey, geminiKey string, recorder ports.CostRecorder, clock clockwork.Clock, logger *zap.Logger, opts Options) *Provider {
	httpClient := opts.HTTPClient

	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	responsesURL := opts.ResponsesURL

	if responsesURL == "" {
		responsesURL = "https://api.openai.com/v1/responses"
	}

	geminiURL := opts.GeminiURL

	if geminiURL == "" {
		geminiURL = defaultGeminiBaseURL
	}

	var chatClient *openai.Client

	if openAIKey != "" {
		cfg := openai.DefaultConfig(openAIKey)
		chatClient = openai.NewClientWithConfig(cfg)
	}

	return &Provider{
		cacheDir:     cacheDir,
		model:        model,
		openAIKey:    openAIKey,
		openAIClient: chatClient,
		responsesURL: responsesURL,
		geminiKey:    geminiKey,
		geminiURL:    geminiURL,
		httpClient:   httpClient,
		recorder:     recorder,
		clock:        clock,
		logger:       logger,
	}
}

type cachedBriefing struct {
	Content     string `json:"content"`
	GeneratedAt string `json:"generated_at"`
}

// ImpactContext returns the briefing for an entity, from cache when fresh.
//
// Returns:
//   - string: Briefing Markdown, empty when the provider fails
//   - error: Only cache I/O failures; provider errors degrade to empty
func (p *Provider) ImpactContext(ctx context.Context, req ports.ContextRequest) (string, error) {
	slug := domain.Slugify(req.EntityName)

	if cached, ok := p.loadCached(req.ContextType, slug, req.ExtraContext); ok {
		p.logger.Debug("impact context served from cache",
			zap.String("slug", slug),
			zap.String("type", req.ContextType))

		return cached, nil
	}

	prompt := p.buildPrompt(req)

	var (
		text  string
		usage ports.TokenUsage
		err   error
	)

	if strings.HasPrefix(p.model, "gemini-") || strings.HasPrefix(p.model, "google/gemini-") {
		text, usage, err = p.fetchGemini(ctx, prompt)
	} else {
		text, usage, err = p.fetchOpenAI(ctx, prompt)
	}

	if err != nil {
		p.logger.Warn("impact context generation failed, continuing without",
			zap.String("entity", req.EntityName),
			zap.Error(err))

		return "", nil
	}

	if p.recorder != nil {
		p.recorder.RecordUsage(p.model, req.CostLabel, "context", usage)
	}

	text = CleanBriefing(text)

	if text == "" {
		return "", nil
	}

	if err := p.store(req.ContextType, slug, req.ExtraContext, text); err != nil {
		p.logger.Warn("impact context cache write failed",
			zap.String("slug", slug),
			zap.Error(err))
	}

	return text, nil
}

func (p *Provider) buildPrompt(req ports.ContextRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Research current, factual background for a %d-day weather impact briefing about %s.\n\n",
		req.ForecastDays, req.EntityName)
	sb.WriteString("Respond in Markdown with exactly these four H3 sections, in this order:\n")

	for _, section := range RequiredSections {
		fmt.Fprintf(&sb, "### %s\n", section)
	}

	sb.WriteString("\nUse concise bullet points grounded in web search results. ")
	sb.WriteString("Cover infrastructure, terrain, seasonal hazards, population centres, and any scheduled events in the forecast window. ")
	sb.WriteString("Do not include links or ask follow-up questions.")

	if req.Timezone != "" {
		fmt.Fprintf(&sb, "\nLocal timezone: %s.", req.Timezone)
	}

	if req.ExtraContext != "" {
		fmt.Fprintf(&sb, "\n\nOperator notes to take into account:\n%s", req.ExtraContext)
	}

	return sb.String()
}

// cacheFileName builds the canonical cache name:
// <YYYYMMDD>_<type>_<slug>[__<ctxhash>].json.
func (p *Provider) cacheFileName(date time.Time, contextType, slug, extraContext string) string {
	name := fmt.Sprintf("%s_%s_%s", date.Format("20060102"), contextType, slug)

	if extraContext != "" {
		sum := sha256.Sum256([]byte(extraContext))
		name += "__" + hex.EncodeToString(sum[:])[:8]
	}

	return name + ".json"
}

// loadCached scans the cache directory for this type and slug. Entries older
// than the freshness window are purged; fresh canonical or legacy names are
// accepted.
func (p *Provider) loadCached(contextType, slug, extraContext string) (string, bool) {
	entries, err := os.ReadDir(p.cacheDir)

	if err != nil {
		return "", false
	}

	now := p.clock.Now().UTC()
	want := p.cacheFileName(now, contextType, slug, extraContext)
	infix := fmt.Sprintf("_%s_%s", contextType, slug)

	var hit string

	for _, entry := range entries {
		name := entry.Name()

		if entry.IsDir() || len(name) < 9 || !strings.HasSuffix(name, ".json") || !strings.Contains(name, infix) {
			continue
		}

		date, err := time.Parse("20060102", name[:8])

		if err != nil {
			continue
		}

		if now.Sub(date) > cacheFreshness {
			if err := fsio.SafeUnlink(filepath.Join(p.cacheDir, name), p.cacheDir, false); err != nil {
				p.logger.Warn("stale impact cache purge failed",
					zap.String("file", name),
					zap.Error(err))
			}

			continue
		}

		if hit == "" && p.nameMatches(name, want, infix, extraContext) {
			hit = name
		}
	}

	if hit == "" {
		return "", false
	}

	data, err := os.ReadFile(filepath.Join(p.cacheDir, hit))

	if err != nil {
		return "", false
	}

	var payload cachedBriefing

	if err := json.Unmarshal(data, &payload); err != nil || payload.Content == "" {
		return "", false
	}

	return payload.Content, true
}

// nameMatches accepts the canonical name for this request plus the legacy
// layouts still found in long-lived caches: a trailing model identifier or a
// day-count suffix after the slug. Legacy names are read, never written.
func (p *Provider) nameMatches(name, canonical, infix, extraContext string) bool {
	if len(name) < 9 {
		return false
	}

	if name[8:] == canonical[8:] {
		return true
	}

	// Requests carrying operator context only match their own hash.
	if extraContext != "" {
		return false
	}

	rest := strings.TrimSuffix(name[8:], ".json")
	base := strings.TrimSuffix(infix, ".json")

	if !strings.HasPrefix(rest, base) {
		return false
	}

	tail := strings.TrimPrefix(rest, base)

	if tail == "" {
		return true
	}

	return strings.HasPrefix(tail, "__") || strings.HasPrefix(tail, "_")
}

func (p *Provider) store(contextType, slug, extraContext, content string) error {
	payload, err := json.MarshalIndent(cachedBriefing{
		Content:     content,
		GeneratedAt: p.clock.Now().UTC().Format(time.RFC3339),
	}, "", "  ")

	if err != nil {
		return err
	}

	name := p.cacheFileName(p.clock.Now().UTC(), contextType, slug, extraContext)

	return fsio.WriteFileAtomic(filepath.Join(p.cacheDir, name), payload, 0o644)
}

// responsesRequest is the OpenAI Responses API payload with web search
// enabled. The chat SDK has no surface for this endpoint, so it is typed
// here directly.
type responsesRequest struct {
	Model string           `json:"model"`
	Input string           `json:"input"`
	Tools []map[string]any `json:"tools,omitempty"`
}

type responsesReply struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// fetchOpenAI tries the Responses API with web search, then falls back to a
// plain chat completion when that endpoint rejects the request.
func (p *Provider) fetchOpenAI(ctx context.Context, prompt string) (string, ports.TokenUsage, error) {
	if p.openAIKey == "" {
		return "", ports.TokenUsage{}, domain.NewConfigError("impact context requires an OpenAI API key for model "+p.model, nil)
	}

	text, usage, err := p.fetchResponses(ctx, prompt)

	if err == nil {
		return text, usage, nil
	}

	p.logger.Debug("responses API unavailable, falling back to chat",
		zap.Error(err))

	resp, err := p.openAIClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})

	if err != nil {
		return "", ports.TokenUsage{}, domain.NewProviderError("impact context chat fallback failed", err)
	}

	if len(resp.Choices) == 0 {
		return "", ports.TokenUsage{}, domain.NewProviderError("impact context chat fallback returned no choices", nil)
	}

	usage = ports.TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}

	return resp.Choices[0].Message.Content, usage, nil
}

func (p *Provider) fetchResponses(ctx context.Context, prompt string) (string, ports.TokenUsage, error) {
	body, err := json.Marshal(responsesRequest{
		Model: p.model,
		Input: prompt,
		Tools: []map[string]any{{"type": "web_search"}},
	})

	if err != nil {
		return "", ports.TokenUsage{}, err
	}

	var reply responsesReply

	if err := p.postJSON(ctx, p.responsesURL, map[string]string{
		"Authorization": "Bearer " + p.openAIKey,
	}, body, &reply); err != nil {
		return "", ports.TokenUsage{}, err
	}

	var sb strings.Builder

	for _, item := range reply.Output {
		if item.Type != "message" {
			continue
		}

		for _, part := range item.Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
			}
		}
	}

	if sb.Len() == 0 {
		return "", ports.TokenUsage{}, fmt.Errorf("responses API returned no output text")
	}

	usage := ports.TokenUsage{
		InputTokens:  reply.Usage.InputTokens,
		OutputTokens: reply.Usage.OutputTokens,
		TotalTokens:  reply.Usage.TotalTokens,
	}

	return sb.String(), usage, nil
}

type geminiContent struct {
	Role  string `json:"role,omitempty"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent  `json:"contents"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type geminiReply struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// fetchGemini calls Gemini with Google Search grounding and continues the
// answer when a required heading is missing or the text stops mid-sentence.
func (p *Provider) fetchGemini(ctx context.Context, prompt string) (string, ports.TokenUsage, error) {
	if p.geminiKey == "" {
		return "", ports.TokenUsage{}, domain.NewConfigError("impact context requires a Gemini API key for model "+p.model, nil)
	}

	model := strings.TrimPrefix(p.model, "google/")
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.geminiURL, model, p.geminiKey)

	contents := []geminiContent{textContent("user", prompt)}

	var (
		accumulated string
		usage       ports.TokenUsage
	)

	for round := 0; ; round++ {
		reqBody, err := json.Marshal(geminiRequest{
			Contents: contents,
			Tools:    []map[string]any{{"google_search": map[string]any{}}},
		})

		if err != nil {
			return "", usage, err
		}

		var reply geminiReply

		if err := p.postJSON(ctx, endpoint, nil, reqBody, &reply); err != nil {
			return "", usage, domain.NewProviderError("gemini impact context call failed", err)
		}

		if len(reply.Candidates) == 0 {
			return "", usage, domain.NewProviderError("gemini impact context returned no candidates", nil)
		}

		var chunk strings.Builder

		for _, part := range reply.Candidates[0].Content.Parts {
			chunk.WriteString(part.Text)
		}

		accumulated = MergeContinuation(accumulated, chunk.String())
		usage.InputTokens += reply.UsageMetadata.PromptTokenCount
		usage.OutputTokens += reply.UsageMetadata.CandidatesTokenCount
		usage.TotalTokens += reply.UsageMetadata.TotalTokenCount

		if !needsContinuation(accumulated) || round >= maxContinuations {
			break
		}

		p.logger.Debug("continuing incomplete impact briefing",
			zap.Int("round", round+1),
			zap.String("finish_reason", reply.Candidates[0].FinishReason))

		contents = append(contents,
			textContent("model", chunk.String()),
			textContent("user", "Continue exactly where you stopped. Finish all remaining sections without repeating earlier text."))
	}

	return accumulated, usage, nil
}

func textContent(role, text string) geminiContent {
	return geminiContent{
		Role: role,
		Parts: []struct {
			Text string `json:"text"`
		}{{Text: text}},
	}
}

// needsContinuation reports whether the briefing is incomplete: a required
// heading is absent, or the text breaks off without terminal punctuation.
func needsContinuation(text string) bool {
	for _, section := range RequiredSections {
		if !strings.Contains(text, section) {
			return true
		}
	}

	trimmed := strings.TrimSpace(text)

	if trimmed == "" {
		return true
	}

	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?', ':', ')':
		return false
	}

	return true
}

// MergeContinuation joins a continuation chunk onto accumulated text. A
// chunk that resumes mid-word is glued without a separator so split words
// survive the seam.
func MergeContinuation(accumulated, chunk string) string {
	if accumulated == "" {
		return chunk
	}

	if chunk == "" {
		return accumulated
	}

	prevEndsWord := isWordByte(accumulated[len(accumulated)-1])
	nextStartsLower := chunk[0] >= 'a' && chunk[0] <= 'z'

	if prevEndsWord && nextStartsLower {
		return accumulated + chunk
	}

	if strings.HasPrefix(strings.TrimSpace(chunk), "#") {
		return strings.TrimRight(accumulated, " \n") + "\n\n" + strings.TrimLeft(chunk, " \n")
	}

	return strings.TrimRight(accumulated, " ") + " " + strings.TrimLeft(chunk, " ")
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func (p *Provider) postJSON(ctx context.Context, endpoint string, headers map[string]string, body []byte, out any) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)

		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))

	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := p.httpClient.Do(req)

	if err != nil {
		return err
	}

	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
