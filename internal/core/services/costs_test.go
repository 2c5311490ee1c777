package services

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/ports"
)

func TestCostTracker_RecordUsage(t *testing.T) {
	tracker := NewCostTracker(zap.NewNop())

	// 1M uncached input at $0.15 plus 1M output at $0.60 = $0.75 = 75 cents.
	cents := tracker.RecordUsage("gpt-4o-mini", "Queenstown", CostKindForecast, ports.TokenUsage{
		InputTokens:  1_000_000,
		OutputTokens: 1_000_000,
	})

	assert.InDelta(t, 75.0, cents, 1e-9)
	assert.InDelta(t, 75.0, tracker.Breakdown("Queenstown").Forecast, 1e-9)
}

func TestCostTracker_CachedInputDiscount(t *testing.T) {
	tracker := NewCostTracker(zap.NewNop())

	// Half the input tokens cached: 500k at $0.15 plus 500k at $0.075.
	cents := tracker.RecordUsage("gpt-4o-mini", "Queenstown", CostKindContext, ports.TokenUsage{
		InputTokens:       1_000_000,
		CachedInputTokens: 500_000,
	})

	assert.InDelta(t, 11.25, cents, 1e-9)
}

func TestCostTracker_UnknownModelCostsZero(t *testing.T) {
	tracker := NewCostTracker(zap.NewNop())

	cents := tracker.RecordUsage("mystery-model", "Queenstown", CostKindForecast, ports.TokenUsage{
		InputTokens:  10_000,
		OutputTokens: 10_000,
	})

	assert.Zero(t, cents)
	assert.Zero(t, tracker.Breakdown("Queenstown").Total())
}

func TestCostTracker_SummaryTable(t *testing.T) {
	tracker := NewCostTracker(zap.NewNop())

	tracker.Add("Queenstown", CostKindContext, 2.5)
	tracker.Add("Queenstown", CostKindForecast, 1.0)
	tracker.Add("Central Otago Lakes", CostKindForecast, 4.0)
	tracker.Add("Queenstown", CostKindTranslation, 0.5)

	summary := tracker.Summary()

	assert.Contains(t, summary, "Entity")
	assert.Contains(t, summary, "Queenstown")
	assert.Contains(t, summary, "Central Otago Lakes")
	assert.Contains(t, summary, "TOTAL")
	assert.Contains(t, summary, "Grand total: 8.00 USD cents")

	// Entities appear in first-seen order.
	assert.Less(t, strings.Index(summary, "Queenstown"), strings.Index(summary, "Central Otago Lakes"))
}

func TestCostTracker_ConcurrentAdds(t *testing.T) {
	tracker := NewCostTracker(zap.NewNop())

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			tracker.Add("Queenstown", CostKindForecast, 1.0)
		}()
	}

	wg.Wait()

	assert.InDelta(t, 50.0, tracker.Breakdown("Queenstown").Forecast, 1e-9)
}
