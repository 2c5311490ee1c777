// Package owm implements the OpenWeatherMap adapters: one-call alerts for
// countries without a dedicated national feed, and reverse geocoding as the
// second link in the country-resolution chain.
package owm

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
	defaultOneCallURL = "https://api.openweathermap.org/data/3.0/onecall"
	defaultReverseURL = "https://api.openweathermap.org/geo/1.0/reverse"

	requestTimeout = 20 * time.Second
)

// Client calls OpenWeatherMap. A missing API key disables it; callers check
// Enabled before use.
type Client struct {
	oneCallURL string
	reverseURL string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an OpenWeatherMap client.
//
// Parameters:
//   - apiKey: OWM API key; empty disables the client
//   - oneCallURL, reverseURL: Endpoint overrides for tests
//   - httpClient: HTTP client; nil gets a default
//   - logger: Zap logger
func NewClient(apiKey, oneCallURL, reverseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if oneCallURL == "" {
		oneCallURL = defaultOneCallURL
	}

	if reverseURL == "" {
		reverseURL = defaultReverseURL
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	return &Client{
		oneCallURL: oneCallURL,
		reverseURL: reverseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Enabled reports whether an API key was configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

type oneCallResponse struct {
	Alerts []struct {
		SenderName  string  `json:"sender_name"`
		Event       string  `json:"event"`
		Start       int64   `json:"start"`
		End         int64   `json:"end"`
		Description string  `json:"description"`
		Tags        []string `json:"tags"`
	} `json:"alerts"`
}

// Alerts retrieves active alerts for a point from the one-call endpoint.
//
// Returns:
//   - []domain.AlertSummary: Active alerts, possibly empty
//   - error: Transport, status, or decode failure
func (c *Client) Alerts(ctx context.Context, lat, lon float64) ([]domain.AlertSummary, error) {
	if !c.Enabled() {
		return nil, nil
	}

	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%.4f", lat))
	params.Set("lon", fmt.Sprintf("%.4f", lon))
	params.Set("exclude", "current,minutely,hourly,daily")
	params.Set("appid", c.apiKey)

	var payload oneCallResponse

	if err := c.getJSON(ctx, c.oneCallURL+"?"+params.Encode(), &payload); err != nil {
		return nil, err
	}

	alerts := make([]domain.AlertSummary, 0, len(payload.Alerts))

	for _, alert := range payload.Alerts {
		severity := ""

		if len(alert.Tags) > 0 {
			severity = alert.Tags[0]
		}

		alerts = append(alerts, domain.AlertSummary{
			Title:       alert.Event,
			Description: alert.Description,
			Severity:    severity,
			Source:      "OpenWeatherMap",
			Onset:       time.Unix(alert.Start, 0).UTC().Format(time.RFC3339),
			Expiry:      time.Unix(alert.End, 0).UTC().Format(time.RFC3339),
		})
	}

	c.logger.Debug("OWM alerts fetched",
		zap.Float64("lat", lat),
		zap.Float64("lon", lon),
		zap.Int("count", len(alerts)))

	return alerts, nil
}

type reverseEntry struct {
	Country string `json:"country"`
}

// CountryCode reverse-geocodes a point to its ISO country code.
func (c *Client) CountryCode(ctx context.Context, lat, lon float64) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("openweathermap client disabled")
	}

	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%.4f", lat))
	params.Set("lon", fmt.Sprintf("%.4f", lon))
	params.Set("limit", "1")
	params.Set("appid", c.apiKey)

	var payload []reverseEntry

	if err := c.getJSON(ctx, c.reverseURL+"?"+params.Encode(), &payload); err != nil {
		return "", err
	}

	if len(payload) == 0 {
		return "", nil
	}

	return payload[0].Country, nil
}

func (c *Client) getJSON(ctx context.Context, requestURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)

	if err != nil {
		return err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)

		defer cancel()

		req = req.WithContext(ctx)
	}

	resp, err := c.httpClient.Do(req)

	if err != nil {
		return fmt.Errorf("openweathermap request failed: %w", err)
	}

	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openweathermap API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed openweathermap response: %w", err)
	}

	return nil
}
