// Package nws implements a client for the National Weather Service alerts
// API. This package serves as a secondary adapter, translating point queries
// into NWS API calls and converting responses back to domain alerts.
package nws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

// DefaultBaseURL is the production NWS API endpoint.
const DefaultBaseURL = "https://api.weather.gov"

const requestTimeout = 20 * time.Second

// Client implements the AlertSource interface for the National Weather
// Service. Alerts are fetched from the active-alerts endpoint filtered to a
// point.
type Client struct {
	// baseURL is the NWS API base endpoint
	baseURL string

	// httpClient handles HTTP communication with timeout configuration
	httpClient *http.Client

	// logger records API interactions and errors
	logger *zap.Logger
}

// NewClient creates a new NWS alerts client with the specified configuration.
//
// Parameters:
//   - baseURL: NWS API base URL (typically https://api.weather.gov)
//   - httpClient: HTTP client with timeout configuration
//   - logger: Zap logger for API interaction logging
//
// Returns:
//   - *Client: Configured NWS alerts client
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// alertsResponse represents the NWS active-alerts response. Only the
// properties consumed downstream are decoded.
type alertsResponse struct {
	Features []struct {
		Properties struct {
			Event       string `json:"event"`
			Headline    string `json:"headline"`
			Description string `json:"description"`
			Severity    string `json:"severity"`
			Onset       string `json:"onset"`
			Ends        string `json:"ends"`
			Expires     string `json:"expires"`
		} `json:"properties"`
	} `json:"features"`
}

// Alerts retrieves active severe-weather alerts for a point.
//
// Parameters:
//   - ctx: Context for cancellation (auto-adds the request timeout if none)
//   - lat, lon: Geographic coordinates
//
// Returns:
//   - []domain.AlertSummary: Active alerts, possibly empty
//   - error: HTTP error, non-200 status, or JSON decode error
func (c *Client) Alerts(ctx context.Context, lat, lon float64) ([]domain.AlertSummary, error) {
	requestURL := fmt.Sprintf("%s/alerts/active?point=%.4f,%.4f", c.baseURL, lat, lon)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)

	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", "impact-forecast/1.0")
	req.Header.Set("Accept", "application/geo+json")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)

		defer cancel()

		req = req.WithContext(ctx)
	}

	resp, err := c.httpClient.Do(req)

	if err != nil {
		return nil, fmt.Errorf("NWS alerts request failed: %w", err)
	}

	defer func(body io.ReadCloser) {
		err := body.Close()

		if err != nil {
			c.logger.Error("failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NWS API returned status %d", resp.StatusCode)
	}

	var payload alertsResponse

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("malformed NWS alerts response: %w", err)
	}

	alerts := make([]domain.AlertSummary, 0, len(payload.Features))

	for _, feature := range payload.Features {
		props := feature.Properties
		title := props.Headline

		if title == "" {
			title = props.Event
		}

		expiry := props.Ends

		if expiry == "" {
			expiry = props.Expires
		}

		alerts = append(alerts, domain.AlertSummary{
			Title:       title,
			Description: props.Description,
			Severity:    props.Severity,
			Source:      "NWS",
			Onset:       props.Onset,
			Expiry:      expiry,
		})
	}

	c.logger.Debug("NWS alerts fetched",
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.Int("count", len(alerts)))

	return alerts, nil
}
