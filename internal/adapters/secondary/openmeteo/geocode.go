package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

// DefaultGeocodingURL is the Open-Meteo geocoding search endpoint.
const DefaultGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"

const geocodeTimeout = 20 * time.Second

// SearchClient resolves place names through the Open-Meteo geocoding API.
// It is the primary backend of the geocoding chain; the Google client covers
// names it cannot resolve.
type SearchClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSearchClient creates a geocoding search client.
//
// Parameters:
//   - baseURL: Endpoint override; empty selects the production endpoint
//   - httpClient: HTTP client; nil gets a default with the geocoding timeout
//   - logger: Zap logger
//
// Returns:
//   - *SearchClient: Configured client
func NewSearchClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *SearchClient {
	if baseURL == "" {
		baseURL = DefaultGeocodingURL
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: geocodeTimeout}
	}

	return &SearchClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

type searchResponse struct {
	Results []struct {
		Name        string  `json:"name"`
		Latitude    float64 `json:"latitude"`
		Longitude   float64 `json:"longitude"`
		Timezone    string  `json:"timezone"`
		CountryCode string  `json:"country_code"`
	} `json:"results"`
}

// Geocode resolves a place name to coordinates.
//
// Parameters:
//   - ctx: Context for cancellation
//   - name: Place name such as "London, UK"
//
// Returns:
//   - *domain.GeocodeResult: Best match, nil when the API has no result
//   - error: Transport or decode failure
func (c *SearchClient) Geocode(ctx context.Context, name string) (*domain.GeocodeResult, error) {
	params := url.Values{}
	params.Set("name", name)
	params.Set("count", "1")
	params.Set("language", "en")
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)

	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)

	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}

	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding API returned status %d", resp.StatusCode)
	}

	var payload searchResponse

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("malformed geocoding response: %w", err)
	}

	if len(payload.Results) == 0 {
		c.logger.Info("no geocoding results", zap.String("name", name))

		return nil, nil
	}

	entry := payload.Results[0]
	timezone := entry.Timezone

	if timezone == "" {
		timezone = "UTC"
	}

	result := &domain.GeocodeResult{
		Name:        entry.Name,
		Latitude:    entry.Latitude,
		Longitude:   entry.Longitude,
		Timezone:    timezone,
		CountryCode: entry.CountryCode,
	}

	if result.Name == "" {
		result.Name = name
	}

	c.logger.Info("geocode resolved",
		zap.String("name", name),
		zap.Float64("lat", result.Latitude),
		zap.Float64("lon", result.Longitude))

	return result, nil
}
