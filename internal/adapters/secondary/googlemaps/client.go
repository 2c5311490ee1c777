// Package googlemaps implements the Google Maps Platform fallbacks used by
// the pipeline: geocoding for names the primary geocoder cannot resolve,
// elevation for station altitude, time zone resolution, and reverse
// geocoding for alert routing.
package googlemaps

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

const (
	defaultBaseURL = "https://maps.googleapis.com/maps/api"

	geocodeTimeout   = 15 * time.Second
	elevationTimeout = 10 * time.Second
)

// Client calls the Google Maps Platform REST endpoints. A missing API key
// disables the client; callers check Enabled before use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Google Maps client.
//
// Parameters:
//   - apiKey: Google Maps API key; empty disables the client
//   - baseURL: Endpoint override for tests; empty selects production
//   - httpClient: HTTP client; nil gets a default
//   - logger: Zap logger
func NewClient(apiKey, baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: geocodeTimeout}
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Enabled reports whether an API key was configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress  string `json:"formatted_address"`
		AddressComponents []struct {
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode resolves an address through the Google Geocoding API, enriching
// the result with elevation and time zone lookups.
//
// Returns:
//   - *domain.GeocodeResult: Resolved location, nil when Google has no result
//   - error: Transport or decode failure
func (c *Client) Geocode(ctx context.Context, address string) (*domain.GeocodeResult, error) {
	if !c.Enabled() {
		return nil, nil
	}

	params := url.Values{}
	params.Set("address", address)
	params.Set("key", c.apiKey)

	var payload geocodeResponse

	if err := c.getJSON(ctx, "/geocode/json", params, &payload); err != nil {
		return nil, err
	}

	if payload.Status != "OK" || len(payload.Results) == 0 {
		c.logger.Warn("Google geocoding returned no result",
			zap.String("address", address),
			zap.String("status", payload.Status))

		return nil, nil
	}

	entry := payload.Results[0]
	result := &domain.GeocodeResult{
		Name:      entry.FormattedAddress,
		Latitude:  entry.Geometry.Location.Lat,
		Longitude: entry.Geometry.Location.Lng,
		Timezone:  "UTC",
	}

	if result.Name == "" {
		result.Name = address
	}

	for _, component := range entry.AddressComponents {
		for _, kind := range component.Types {
			if kind == "country" {
				result.CountryCode = component.ShortName
			}
		}
	}

	if tz, err := c.timezone(ctx, result.Latitude, result.Longitude); err == nil && tz != "" {
		result.Timezone = tz
	}

	if altitude, err := c.Elevation(ctx, result.Latitude, result.Longitude); err == nil {
		result.Altitude = &altitude
	}

	c.logger.Info("geocode resolved via Google",
		zap.String("address", address),
		zap.Float64("lat", result.Latitude),
		zap.Float64("lon", result.Longitude))

	return result, nil
}

type elevationResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Elevation float64 `json:"elevation"`
	} `json:"results"`
}

// Elevation returns the surface elevation at a point via the Google
// Elevation API.
func (c *Client) Elevation(ctx context.Context, lat, lon float64) (float64, error) {
	if !c.Enabled() {
		return 0, fmt.Errorf("google maps client disabled")
	}

	params := url.Values{}
	params.Set("locations", fmt.Sprintf("%.6f,%.6f", lat, lon))
	params.Set("key", c.apiKey)

	ctx, cancel := context.WithTimeout(ctx, elevationTimeout)

	defer cancel()

	var payload elevationResponse

	if err := c.getJSON(ctx, "/elevation/json", params, &payload); err != nil {
		return 0, err
	}

	if payload.Status != "OK" || len(payload.Results) == 0 {
		return 0, fmt.Errorf("elevation API returned status %s", payload.Status)
	}

	return payload.Results[0].Elevation, nil
}

type timezoneResponse struct {
	Status     string `json:"status"`
	TimeZoneID string `json:"timeZoneId"`
}

func (c *Client) timezone(ctx context.Context, lat, lon float64) (string, error) {
	params := url.Values{}
	params.Set("location", fmt.Sprintf("%.6f,%.6f", lat, lon))
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	params.Set("key", c.apiKey)

	var payload timezoneResponse

	if err := c.getJSON(ctx, "/timezone/json", params, &payload); err != nil {
		return "", err
	}

	if payload.Status != "OK" {
		return "", fmt.Errorf("timezone API returned status %s", payload.Status)
	}

	return payload.TimeZoneID, nil
}

type reverseResponse struct {
	Status  string `json:"status"`
	Results []struct {
		AddressComponents []struct {
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

// CountryCode reverse-geocodes a point to its ISO country code.
//
// Returns:
//   - string: Alpha-2 country code, empty when not determinable
//   - error: Transport or decode failure
func (c *Client) CountryCode(ctx context.Context, lat, lon float64) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("google maps client disabled")
	}

	params := url.Values{}
	params.Set("latlng", fmt.Sprintf("%.6f,%.6f", lat, lon))
	params.Set("result_type", "country")
	params.Set("key", c.apiKey)

	var payload reverseResponse

	if err := c.getJSON(ctx, "/geocode/json", params, &payload); err != nil {
		return "", err
	}

	if payload.Status != "OK" {
		return "", fmt.Errorf("reverse geocode returned status %s", payload.Status)
	}

	for _, result := range payload.Results {
		for _, component := range result.AddressComponents {
			for _, kind := range component.Types {
				if kind == "country" && component.ShortName != "" {
					return component.ShortName, nil
				}
			}
		}
	}

	return "", nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)

	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)

	if err != nil {
		return fmt.Errorf("google maps request failed: %w", err)
	}

	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("google maps API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed google maps response: %w", err)
	}

	return nil
}
