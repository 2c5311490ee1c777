// Package ports defines the interfaces between the core pipeline and its
// secondary adapters. The core depends only on these contracts; concrete
// HTTP, filesystem, and provider implementations live under
// internal/adapters and internal/infrastructure.
package ports

import (
	"context"
	"time"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

// NWPRequest describes one numerical weather prediction fetch.
type NWPRequest struct {
	Latitude  float64
	Longitude float64
	Timezone  string

	// ForecastDays is the horizon requested from the provider.
	ForecastDays int

	Model domain.ModelSpec

	// HourlyFields overrides the default field set when non-nil. Used for the
	// pressure-level profile second fetch.
	HourlyFields []string
}

// NWPProvider fetches raw forecasts from the upstream NWP service.
type NWPProvider interface {
	// Fetch returns a validated raw payload with hourly.time present and all
	// arrays equal length. Exhausted retries surface a transport error; the
	// executor treats that as skip-this-entity.
	Fetch(ctx context.Context, req NWPRequest) (*domain.RawForecast, error)
}

// Geocoder resolves place names to coordinates.
type Geocoder interface {
	// Geocode returns nil without error when the name cannot be resolved by
	// any backend; the entity is then skipped with a warning.
	Geocode(ctx context.Context, name string) (*domain.GeocodeResult, error)
}

// CountryResolver maps coordinates to an ISO country code for alert routing.
type CountryResolver interface {
	CountryCode(ctx context.Context, lat, lon float64) (string, error)
}

// AlertSource fetches active severe-weather alerts for a point.
type AlertSource interface {
	Alerts(ctx context.Context, lat, lon float64) ([]domain.AlertSummary, error)
}

// TerrainSource estimates terrain heights for snow-level sanity caps.
type TerrainSource interface {
	// Elevation returns the surface elevation at a point.
	Elevation(ctx context.Context, lat, lon float64) (float64, error)

	// HighestPoint estimates the peak elevation within radiusKm of the point.
	// Implementations return +Inf when terrain data is unavailable, which
	// disables the cap.
	HighestPoint(ctx context.Context, lat, lon float64, radiusKm int) (float64, error)
}

// GenerateRequest is one text-generation call to an LLM provider.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string

	// Model is the raw model reference; routing rules live in the dispatcher.
	Model string

	Temperature float64
	MaxTokens   int

	// ReasoningLevel is the free-form reasoning override ("high", "low:2048",
	// "off", ""). Only applied to reasoning-capable models.
	ReasoningLevel string

	// CostLabel and CostKind route the call's estimated cost into the
	// accumulator.
	CostLabel string
	CostKind  string
}

// TextGenerator dispatches prompts to the configured LLM provider and returns
// cleaned output text.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ContextRequest asks the impact-context subsystem for structured background
// about an entity.
type ContextRequest struct {
	EntityName string

	// ContextType is "location", "area", or "regional".
	ContextType string

	ForecastDays int
	Timezone     string

	// ExtraContext is operator-provided local knowledge hashed into the cache
	// path.
	ExtraContext string

	CostLabel string
}

// ContextProvider returns impact-context Markdown with the four required H3
// sections, or empty text on provider failure.
type ContextProvider interface {
	ImpactContext(ctx context.Context, req ContextRequest) (string, error)
}

// CacheService is a byte-oriented cache with TTL, backed by memory or Redis.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// TokenUsage is the provider-reported token accounting for one LLM call.
type TokenUsage struct {
	InputTokens       int
	CachedInputTokens int
	OutputTokens      int
	TotalTokens       int
}

// CostRecorder prices token usage and accumulates per-entity costs. Kind is
// one of "context", "forecast", "translation".
type CostRecorder interface {
	// RecordUsage returns the estimated cost of the call in USD cents.
	RecordUsage(model, label, kind string, usage TokenUsage) float64
}

// RateLimiter throttles outbound provider traffic. Identifiers name the
// upstream service ("open-meteo", "open-meteo-geocode").
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, limit int, window time.Duration) (bool, error)
	Reset(ctx context.Context, identifier string) error
}

// RunRecord summarizes one completed entity for the optional archive.
type RunRecord struct {
	RunID      string
	Slug       string
	Kind       string
	Model      string
	CostCents  float64
	DurationMs int64
	OutputLen  int
}

// ArchiveStore persists run records. A nil store disables archiving.
type ArchiveStore interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}
