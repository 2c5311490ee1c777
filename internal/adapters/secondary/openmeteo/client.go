// Package openmeteo implements clients for the Open-Meteo forecast, ensemble,
// geocoding, and elevation APIs. These are secondary adapters translating
// pipeline requests into provider calls and normalizing the responses into
// domain payloads.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/ports"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/cache"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/ratelimit"
)

const (
	// DefaultForecastURL serves deterministic models.
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"

	// DefaultEnsembleURL serves ensemble models.
	DefaultEnsembleURL = "https://ensemble-api.open-meteo.com/v1/ensemble"

	userAgent = "impact-forecast/1.0"

	// attemptTimeout bounds a single fetch attempt.
	attemptTimeout = 30 * time.Second

	maxAttempts = 3
	backoffBase = time.Second

	// Outbound pacing for the free API tier.
	rateLimitID     = "open-meteo"
	rateLimitCalls  = 60
	rateLimitWindow = time.Minute
)

// BaseHourlyFields is the field set requested for every model.
var BaseHourlyFields = []string{
	"temperature_2m",
	"dew_point_2m",
	"precipitation",
	"snowfall",
	"weather_code",
	"cloud_cover",
	"wind_speed_10m",
	"wind_direction_10m",
	"wind_gusts_10m",
}

// DeterministicExtraFields enrich deterministic requests. When the endpoint
// rejects the enriched set with a 400, the client falls back to the base set.
var DeterministicExtraFields = []string{
	"precipitation_probability",
	"freezing_level_height",
}

// SnowProfileFields are the pressure-level variables requested by the
// snow-profile second fetch.
var SnowProfileFields = []string{
	"temperature_1000hPa", "temperature_925hPa", "temperature_850hPa",
	"temperature_700hPa", "temperature_600hPa", "temperature_500hPa",
	"relative_humidity_1000hPa", "relative_humidity_925hPa", "relative_humidity_850hPa",
	"relative_humidity_700hPa", "relative_humidity_600hPa", "relative_humidity_500hPa",
	"geopotential_height_1000hPa", "geopotential_height_925hPa", "geopotential_height_850hPa",
	"geopotential_height_700hPa", "geopotential_height_600hPa", "geopotential_height_500hPa",
}

// Client fetches raw NWP payloads with caching, retries, pacing, and circuit
// breaking. It implements ports.NWPProvider.
type Client struct {
	forecastURL string
	ensembleURL string

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	cache      *cache.ForecastFileCache
	limiter    ports.RateLimiter
	clock      clockwork.Clock
	logger     *zap.Logger
}

// Options configures optional collaborator overrides for the client.
type Options struct {
	// ForecastURL and EnsembleURL override the provider endpoints, used by
	// tests to point at a local server.
	ForecastURL string
	EnsembleURL string

	HTTPClient *http.Client
}

// NewClient creates an Open-Meteo NWP client.
//
// Parameters:
//   - fileCache: TTL file cache for raw payloads
//   - limiter: Outbound rate limiter; nil disables pacing
//   - breaker: Circuit breaker guarding the provider
//   - clock: Clock for retry backoff
//   - logger: Zap logger for API interaction logging
//   - opts: Endpoint and transport overrides
//
// Returns:
//   - *Client: Configured client
func NewClient(fileCache *cache.ForecastFileCache, limiter ports.RateLimiter, breaker *gobreaker.CircuitBreaker, clock clockwork.Clock, logger *zap.Logger, opts Options) *Client {
	httpClient := opts.HTTPClient

	if httpClient == nil {
		httpClient = &http.Client{Timeout: attemptTimeout}
	}

	forecastURL := opts.ForecastURL

	if forecastURL == "" {
		forecastURL = DefaultForecastURL
	}

	ensembleURL := opts.EnsembleURL

	if ensembleURL == "" {
		ensembleURL = DefaultEnsembleURL
	}

	return &Client{
		forecastURL: forecastURL,
		ensembleURL: ensembleURL,
		httpClient:  httpClient,
		breaker:     breaker,
		cache:       fileCache,
		limiter:     limiter,
		clock:       clock,
		logger:      logger,
	}
}

// HourlyFieldsFor returns the default field set for a model kind.
func HourlyFieldsFor(kind domain.ModelKind) []string {
	fields := append([]string(nil), BaseHourlyFields...)

	if kind == domain.KindDeterministic {
		fields = append(fields, DeterministicExtraFields...)
	}

	return fields
}

// Fetch retrieves a raw forecast payload, serving from the file cache when a
// fresh entry exists. Transport errors, malformed JSON, and schema-invalid
// payloads are retried up to three times with exponential backoff. A 400 on
// an enriched deterministic field set switches to the base set instead of
// retrying.
//
// Parameters:
//   - ctx: Context for cancellation
//   - req: NWP request parameters
//
// Returns:
//   - *domain.RawForecast: Validated payload
//   - error: Transport error after retries are exhausted
func (c *Client) Fetch(ctx context.Context, req ports.NWPRequest) (*domain.RawForecast, error) {
	tracer := otel.Tracer("openmeteo")
	ctx, span := tracer.Start(ctx, "OpenMeteo.Fetch")

	defer span.End()

	fields := req.HourlyFields

	if len(fields) == 0 {
		fields = HourlyFieldsFor(req.Model.Kind)
	}

	span.SetAttributes(
		attribute.String("nwp.model", req.Model.ID),
		attribute.String("nwp.kind", string(req.Model.Kind)),
		attribute.Int("nwp.days", req.ForecastDays),
	)

	payload, err := c.fetchWithFields(ctx, req, fields)

	if err == nil {
		return payload, nil
	}

	// Field-set rejection: drop the deterministic enrichment and try once
	// with the base set under its own cache key.
	if isFieldSetRejection(err) && req.Model.Kind == domain.KindDeterministic && len(req.HourlyFields) == 0 {
		c.logger.Warn("enriched field set rejected, retrying with base fields",
			zap.String("model", req.Model.ID))

		return c.fetchWithFields(ctx, req, BaseHourlyFields)
	}

	return nil, err
}

// fieldSetError marks a 400 response attributable to the requested hourly
// variables.
type fieldSetError struct {
	body string
}

func (e *fieldSetError) Error() string {
	return fmt.Sprintf("field set rejected by provider: %s", e.body)
}

func isFieldSetRejection(err error) bool {
	var fse *fieldSetError

	return errors.As(err, &fse)
}

func (c *Client) fetchWithFields(ctx context.Context, req ports.NWPRequest, fields []string) (*domain.RawForecast, error) {
	key := cache.Fingerprint(req.Latitude, req.Longitude, req.ForecastDays, req.Model, fields)

	if payload, hit := c.cache.Get(ctx, key); hit {
		return payload, nil
	}

	requestURL := c.buildURL(req, fields)

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := backoffBase << (attempt - 2)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clock.After(backoff):
			}
		}

		payload, err := c.doFetch(ctx, requestURL)

		if err == nil {
			if cacheErr := c.cache.Put(key, payload); cacheErr != nil {
				c.logger.Debug("failed to cache forecast payload", zap.Error(cacheErr))
			}

			return payload, nil
		}

		// 400 for the field set is not retried here; the caller switches sets.
		if isFieldSetRejection(err) {
			return nil, err
		}

		lastErr = err
		c.logger.Warn("NWP fetch attempt failed",
			zap.Int("attempt", attempt),
			zap.String("model", req.Model.ID),
			zap.Error(err))
	}

	return nil, domain.NewTransportError(
		fmt.Sprintf("NWP fetch failed after %d attempts", maxAttempts), lastErr)
}

func (c *Client) buildURL(req ports.NWPRequest, fields []string) string {
	base := c.forecastURL

	if req.Model.Kind == domain.KindEnsemble {
		base = c.ensembleURL
	}

	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%.4f", req.Latitude))
	params.Set("longitude", fmt.Sprintf("%.4f", req.Longitude))
	params.Set("timezone", req.Timezone)
	params.Set("forecast_days", fmt.Sprintf("%d", req.ForecastDays))
	params.Set("hourly", strings.Join(fields, ","))

	// Internal units are fixed; display conversion happens downstream.
	params.Set("temperature_unit", "celsius")
	params.Set("precipitation_unit", "mm")
	params.Set("wind_speed_unit", "kmh")

	if !req.Model.IsAutoModel() {
		params.Set("models", req.Model.ID)
	}

	return base + "?" + params.Encode()
}

// apiResponse is the provider wire shape before normalization.
type apiResponse struct {
	Hourly      map[string]json.RawMessage `json:"hourly"`
	HourlyUnits map[string]string          `json:"hourly_units"`
	Elevation   float64                    `json:"elevation"`
}

func (c *Client) doFetch(ctx context.Context, requestURL string) (*domain.RawForecast, error) {
	if c.limiter != nil {
		if err := ratelimit.Wait(ctx, c.limiter, rateLimitID, rateLimitCalls, rateLimitWindow); err != nil {
			return nil, err
		}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, attemptTimeout)

		defer cancel()
	}

	body, err := c.execute(ctx, requestURL)

	if err != nil {
		return nil, err
	}

	var raw apiResponse

	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("malformed NWP response: %w", err)
	}

	payload, err := normalize(&raw)

	if err != nil {
		return nil, err
	}

	return payload, nil
}

// execute performs the HTTP exchange through the circuit breaker.
func (c *Client) execute(ctx context.Context, requestURL string) ([]byte, error) {
	call := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)

		if err != nil {
			return nil, err
		}

		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)

		if err != nil {
			return nil, err
		}

		defer func(body io.ReadCloser) {
			_ = body.Close()
		}(resp.Body)

		data, err := io.ReadAll(resp.Body)

		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusBadRequest {
			return nil, &fieldSetError{body: truncate(string(data), 300)}
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
		}

		return data, nil
	}

	var (
		result interface{}
		err    error
	)

	if c.breaker != nil {
		result, err = c.breaker.Execute(call)
	} else {
		result, err = call()
	}

	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

// normalize converts the wire shape into the domain payload and validates it.
func normalize(raw *apiResponse) (*domain.RawForecast, error) {
	timeRaw, ok := raw.Hourly["time"]

	if !ok {
		return nil, fmt.Errorf("payload missing hourly.time")
	}

	var times []string

	if err := json.Unmarshal(timeRaw, &times); err != nil {
		return nil, fmt.Errorf("invalid hourly.time: %w", err)
	}

	hourly := make(map[string][]*float64, len(raw.Hourly))

	for name, valuesRaw := range raw.Hourly {
		if name == "time" {
			continue
		}

		var values []*float64

		if err := json.Unmarshal(valuesRaw, &values); err != nil {
			return nil, fmt.Errorf("invalid hourly array %q: %w", name, err)
		}

		hourly[name] = values
	}

	payload := &domain.RawForecast{
		Hourly:      hourly,
		Times:       times,
		HourlyUnits: raw.HourlyUnits,
		Elevation:   raw.Elevation,
	}

	if err := cache.ValidateRawForecast(payload); err != nil {
		return nil, err
	}

	return payload, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n]
}
