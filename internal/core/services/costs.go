// Package services contains the core pipeline stages: dataset
// transformation, snow-level diagnostics, ensemble thinning, formatting,
// prompt building, alert routing, cost accounting, and the executor that
// orchestrates them.
package services

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/ports"
)

// Cost kinds accumulated per entity.
const (
	CostKindContext     = "context"
	CostKindForecast    = "forecast"
	CostKindTranslation = "translation"
)

// ModelCost is the price of a model in USD per one million tokens.
type ModelCost struct {
	Input       float64
	CachedInput float64
	Output      float64
}

// modelCosts is the price table used for cost estimation. Unknown models
// price at zero and log once.
var modelCosts = map[string]ModelCost{
	"gpt-4o-mini":               {Input: 0.15, CachedInput: 0.075, Output: 0.60},
	"gpt-4o":                    {Input: 2.50, CachedInput: 1.25, Output: 10.00},
	"gpt-4.1":                   {Input: 2.00, CachedInput: 0.50, Output: 8.00},
	"gpt-4.1-mini":              {Input: 0.40, CachedInput: 0.10, Output: 1.60},
	"gpt-5":                     {Input: 1.25, CachedInput: 0.125, Output: 10.00},
	"gpt-5-mini":                {Input: 0.25, CachedInput: 0.025, Output: 2.00},
	"gemini-2.5-flash":          {Input: 0.30, CachedInput: 0.075, Output: 2.50},
	"gemini-2.5-pro":            {Input: 1.25, CachedInput: 0.31, Output: 10.00},
	"gemini-3-flash-preview":    {Input: 0.50, CachedInput: 0.125, Output: 3.00},
	"or:deepseek/deepseek-v3.2": {Input: 0.28, CachedInput: 0.028, Output: 0.42},
}

// CostBreakdown is the per-entity accumulation in USD cents.
type CostBreakdown struct {
	Context     float64
	Forecast    float64
	Translation float64
}

// Total returns the summed cents for the entity.
func (b CostBreakdown) Total() float64 {
	return b.Context + b.Forecast + b.Translation
}

// CostTracker accumulates estimated LLM spend per entity label. It is safe
// for concurrent use; every provider call reports through RecordUsage.
type CostTracker struct {
	mu      sync.Mutex
	entries map[string]*CostBreakdown
	order   []string

	unknown map[string]bool
	logger  *zap.Logger
}

// NewCostTracker creates an empty tracker.
func NewCostTracker(logger *zap.Logger) *CostTracker {
	return &CostTracker{
		entries: make(map[string]*CostBreakdown),
		unknown: make(map[string]bool),
		logger:  logger,
	}
}

// RecordUsage prices the usage for model and adds it under (label, kind).
//
// Parameters:
//   - model: Model reference as configured (price table key)
//   - label: Entity display label
//   - kind: CostKindContext, CostKindForecast, or CostKindTranslation
//   - usage: Provider-reported token counts
//
// Returns:
//   - float64: The call's estimated cost in USD cents
func (t *CostTracker) RecordUsage(model, label, kind string, usage ports.TokenUsage) float64 {
	cents := t.estimateCents(model, usage)
	t.Add(label, kind, cents)

	return cents
}

// Add accumulates an already-priced amount in cents.
func (t *CostTracker) Add(label, kind string, cents float64) {
	if label == "" || cents == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[label]

	if !ok {
		entry = &CostBreakdown{}
		t.entries[label] = entry
		t.order = append(t.order, label)
	}

	switch kind {
	case CostKindContext:
		entry.Context += cents
	case CostKindTranslation:
		entry.Translation += cents
	default:
		entry.Forecast += cents
	}
}

func (t *CostTracker) estimateCents(model string, usage ports.TokenUsage) float64 {
	cost, ok := modelCosts[model]

	if !ok {
		t.mu.Lock()

		if !t.unknown[model] {
			t.unknown[model] = true
			t.logger.Warn("no price table entry for model, cost recorded as zero",
				zap.String("model", model))
		}

		t.mu.Unlock()

		return 0
	}

	uncached := usage.InputTokens - usage.CachedInputTokens

	if uncached < 0 {
		uncached = usage.InputTokens
	}

	usd := float64(uncached)/1e6*cost.Input +
		float64(usage.CachedInputTokens)/1e6*cost.CachedInput +
		float64(usage.OutputTokens)/1e6*cost.Output

	return usd * 100
}

// Breakdown returns a copy of the accumulated entry for a label.
func (t *CostTracker) Breakdown(label string) CostBreakdown {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[label]; ok {
		return *entry
	}

	return CostBreakdown{}
}

// Summary renders the fixed-width cost table printed at the end of every
// run: one row per entity in first-seen order, a TOTAL row, and a grand
// total line. All amounts are USD cents.
func (t *CostTracker) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	labelWidth := 40

	for _, label := range t.order {
		if len(label) > labelWidth {
			labelWidth = len(label)
		}
	}

	if labelWidth > 70 {
		labelWidth = 70
	}

	var sb strings.Builder

	header := fmt.Sprintf("%-*s %10s %10s %12s %10s", labelWidth, "Entity", "Context", "Forecast", "Translation", "Total")
	sb.WriteString(header)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", len(header)))
	sb.WriteString("\n")

	var total CostBreakdown

	for _, label := range t.order {
		entry := t.entries[label]
		display := label

		if len(display) > labelWidth {
			display = display[:labelWidth-1] + "…"
		}

		sb.WriteString(fmt.Sprintf("%-*s %10.2f %10.2f %12.2f %10.2f\n",
			labelWidth, display, entry.Context, entry.Forecast, entry.Translation, entry.Total()))

		total.Context += entry.Context
		total.Forecast += entry.Forecast
		total.Translation += entry.Translation
	}

	sb.WriteString(fmt.Sprintf("%-*s %10.2f %10.2f %12.2f %10.2f\n",
		labelWidth, "TOTAL", total.Context, total.Forecast, total.Translation, total.Total()))
	sb.WriteString(fmt.Sprintf("Grand total: %.2f USD cents\n", total.Total()))

	return sb.String()
}
