package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultElevationURL is the Open-Meteo elevation endpoint.
const DefaultElevationURL = "https://api.open-meteo.com/v1/elevation"

// TerrainClient looks up surface elevations. It backs both the station
// altitude fallback and the max-nearby-terrain cap used by snow-level
// sanity checks. Lookups are memoized in-process.
type TerrainClient struct {
	baseURL    string
	httpClient *http.Client
	memo       *gocache.Cache
	logger     *zap.Logger
}

// NewTerrainClient creates a terrain lookup client.
func NewTerrainClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *TerrainClient {
	if baseURL == "" {
		baseURL = DefaultElevationURL
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: geocodeTimeout}
	}

	return &TerrainClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		memo:       gocache.New(12*time.Hour, time.Hour),
		logger:     logger,
	}
}

// Elevation returns the surface elevation at a point in meters.
func (c *TerrainClient) Elevation(ctx context.Context, lat, lon float64) (float64, error) {
	values, err := c.lookup(ctx, []float64{lat}, []float64{lon})

	if err != nil {
		return 0, err
	}

	if len(values) == 0 {
		return 0, fmt.Errorf("elevation API returned no values")
	}

	return values[0], nil
}

// HighestPoint estimates the peak elevation within radiusKm of the point by
// sampling a 5x5 grid. When the lookup fails, it returns +Inf so the caller's
// terrain cap is disabled rather than spuriously rejecting snow levels.
//
// Parameters:
//   - ctx: Context for cancellation
//   - lat, lon: Center point
//   - radiusKm: Sampling radius; non-positive samples only the center
//
// Returns:
//   - float64: Maximum sampled elevation, or +Inf when unavailable
//   - error: Always nil; unavailability is encoded as +Inf
func (c *TerrainClient) HighestPoint(ctx context.Context, lat, lon float64, radiusKm int) (float64, error) {
	memoKey := fmt.Sprintf("peak:%.2f:%.2f:%d", lat, lon, radiusKm)

	if cached, found := c.memo.Get(memoKey); found {
		return cached.(float64), nil
	}

	lats, lons := samplingGrid(lat, lon, radiusKm)
	values, err := c.lookup(ctx, lats, lons)

	if err != nil || len(values) == 0 {
		c.logger.Warn("terrain lookup unavailable, disabling terrain cap",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.Error(err))

		return math.Inf(1), nil
	}

	peak := values[0]

	for _, value := range values[1:] {
		if value > peak {
			peak = value
		}
	}

	c.memo.Set(memoKey, peak, gocache.DefaultExpiration)

	return peak, nil
}

// samplingGrid builds the 5x5 point grid spanning the radius around a center.
func samplingGrid(lat, lon float64, radiusKm int) ([]float64, []float64) {
	if radiusKm <= 0 {
		return []float64{lat}, []float64{lon}
	}

	latPerKm := 1.0 / 111.0
	cosLat := math.Cos(lat * math.Pi / 180)
	lonPerKm := latPerKm

	if cosLat != 0 {
		lonPerKm = 1.0 / (111.0 * cosLat)
	}

	latStep := float64(radiusKm) * latPerKm / 2
	lonStep := float64(radiusKm) * lonPerKm / 2

	var lats, lons []float64

	for i := -2; i <= 2; i++ {
		for j := -2; j <= 2; j++ {
			checkLat := lat + float64(i)*latStep
			checkLon := lon + float64(j)*lonStep

			if checkLat >= -90 && checkLat <= 90 && checkLon >= -180 && checkLon <= 180 {
				lats = append(lats, checkLat)
				lons = append(lons, checkLon)
			}
		}
	}

	return lats, lons
}

type elevationResponse struct {
	Elevation []float64 `json:"elevation"`
}

func (c *TerrainClient) lookup(ctx context.Context, lats, lons []float64) ([]float64, error) {
	latParts := make([]string, len(lats))
	lonParts := make([]string, len(lons))

	for i := range lats {
		latParts[i] = fmt.Sprintf("%.4f", lats[i])
		lonParts[i] = fmt.Sprintf("%.4f", lons[i])
	}

	params := url.Values{}
	params.Set("latitude", strings.Join(latParts, ","))
	params.Set("longitude", strings.Join(lonParts, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)

	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)

	if err != nil {
		return nil, fmt.Errorf("elevation request failed: %w", err)
	}

	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevation API returned status %d", resp.StatusCode)
	}

	var payload elevationResponse

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("malformed elevation response: %w", err)
	}

	return payload.Elevation, nil
}
