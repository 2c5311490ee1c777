//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/adapters/secondary/openmeteo"
	"github.com/sean-rowe/impact-forecast/internal/config"
	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/ports"
	"github.com/sean-rowe/impact-forecast/internal/core/services"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/cache"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/circuitbreaker"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/ratelimit"
)

// PipelineIntegrationSuite drives the executor end to end against mock
// Open-Meteo endpoints with the real HTTP adapters, caches, and services.
type PipelineIntegrationSuite struct {
	suite.Suite

	forecastAPI  *httptest.Server
	geocodingAPI *httptest.Server
	elevationAPI *httptest.Server

	cacheRoot string
	webRoot   string

	generator *scriptedGenerator
}

func TestPipelineIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PipelineIntegrationSuite))
}

// scriptedGenerator replaces the LLM dispatcher so runs are deterministic and
// offline.
type scriptedGenerator struct {
	requests []ports.GenerateRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req ports.GenerateRequest) (string, error) {
	g.requests = append(g.requests, req)

	return "**Queenstown outlook**\n\nSettled and mostly dry through the period.", nil
}

// noAlerts stands in for the alert chain; alert feeds have their own tests.
type noAlerts struct{}

func (noAlerts) Alerts(context.Context, float64, float64, string) ([]domain.AlertSummary, error) {
	return nil, nil
}

func (s *PipelineIntegrationSuite) SetupSuite() {
	s.forecastAPI = httptest.NewServer(http.HandlerFunc(s.serveForecast))

	s.geocodingAPI = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{{
				"name":         "Queenstown",
				"latitude":     -45.0312,
				"longitude":    168.6626,
				"timezone":     "UTC",
				"country_code": "NZ",
			}},
		})
	}))

	s.elevationAPI = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"elevation": []float64{310, 1200, 2300},
		})
	}))
}

func (s *PipelineIntegrationSuite) TearDownSuite() {
	s.forecastAPI.Close()
	s.geocodingAPI.Close()
	s.elevationAPI.Close()
}

// serveForecast fabricates a small hourly payload starting at the next full
// hour so day windowing sees it as current.
func (s *PipelineIntegrationSuite) serveForecast(w http.ResponseWriter, _ *http.Request) {
	start := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)

	hours := 48
	times := make([]string, hours)
	temps := make([]float64, hours)
	precip := make([]float64, hours)
	zeros := make([]float64, hours)
	codes := make([]float64, hours)
	winds := make([]float64, hours)
	dirs := make([]float64, hours)

	for i := 0; i < hours; i++ {
		times[i] = start.Add(time.Duration(i) * time.Hour).Format("2006-01-02T15:04")
		temps[i] = 12 + float64(i%8)
		precip[i] = float64(i%5) * 0.4
		codes[i] = 61
		winds[i] = 15
		dirs[i] = 270
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"elevation": 310.0,
		"hourly": map[string]interface{}{
			"time":               times,
			"temperature_2m":     temps,
			"dew_point_2m":       temps,
			"precipitation":      precip,
			"snowfall":           zeros,
			"weather_code":       codes,
			"cloud_cover":        winds,
			"wind_speed_10m":     winds,
			"wind_direction_10m": dirs,
			"wind_gusts_10m":     winds,
		},
		"hourly_units": map[string]string{
			"temperature_2m": "°C",
			"precipitation":  "mm",
			"wind_speed_10m": "km/h",
		},
	})
}

func (s *PipelineIntegrationSuite) SetupTest() {
	s.cacheRoot = s.T().TempDir()
	s.webRoot = s.T().TempDir()
	s.generator = &scriptedGenerator{}
}

func (s *PipelineIntegrationSuite) newExecutor(configTOML string) *services.Executor {
	logger := zap.NewNop()
	clock := clockwork.NewRealClock()
	httpClient := &http.Client{Timeout: 10 * time.Second}

	forecast, err := config.ParseForecastConfig([]byte(configTOML))
	s.Require().NoError(err)

	breaker := circuitbreaker.NewManager(logger).GetBreaker("open-meteo", circuitbreaker.Config{
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
	})

	fileCache := cache.NewForecastFileCache(
		filepath.Join(s.cacheRoot, "forecasts"), 0, clock, logger)

	nwp := openmeteo.NewClient(fileCache, ratelimit.NewMemoryRateLimiter(logger), breaker.Breaker(), clock, logger, openmeteo.Options{
		ForecastURL: s.forecastAPI.URL,
		EnsembleURL: s.forecastAPI.URL,
		HTTPClient:  httpClient,
	})

	geocoder := services.NewGeocodeService(
		openmeteo.NewSearchClient(s.geocodingAPI.URL, httpClient, logger),
		nil,
		filepath.Join(s.cacheRoot, "geocode"),
		logger)

	return services.NewExecutor(forecast, services.ExecutorDeps{
		Geocoder:  geocoder,
		Alerts:    noAlerts{},
		NWP:       nwp,
		Terrain:   openmeteo.NewTerrainClient(s.elevationAPI.URL, httpClient, logger),
		Contexts:  nil,
		Generator: s.generator,
		Datasets:  services.NewDatasetService(clock, logger),
		Costs:     services.NewCostTracker(logger),
		Clock:     clock,
		Logger:    logger,
		CacheRoot: s.cacheRoot,
		WebRoot:   s.webRoot,
	})
}

const locationConfig = `
location_forecast_days = 2
llm = "gpt-4o-mini"
model = "det:ecmwf_ifs"

[[locations]]
name = "Queenstown"
`

func (s *PipelineIntegrationSuite) TestRunPublishesLocationPage() {
	executor := s.newExecutor(locationConfig)

	s.Require().NoError(executor.Run(context.Background()))

	page, err := os.ReadFile(filepath.Join(s.webRoot, "queenstown", "index.html"))
	s.Require().NoError(err)

	s.Assert().Contains(string(page), "Queenstown outlook")
	s.Assert().Contains(string(page), "Settled and mostly dry")

	menu, err := os.ReadFile(filepath.Join(s.webRoot, "index.html"))
	s.Require().NoError(err)
	s.Assert().Contains(string(menu), `queenstown/index.html`)

	s.Require().Len(s.generator.requests, 1)
	s.Assert().Equal("gpt-4o-mini", s.generator.requests[0].Model)
	s.Assert().Contains(s.generator.requests[0].Prompt, "Queenstown")
}

func (s *PipelineIntegrationSuite) TestSecondRunServesFromCaches() {
	executor := s.newExecutor(locationConfig)
	s.Require().NoError(executor.Run(context.Background()))

	// A fresh executor over the same cache tree must skip regeneration
	// while the page is younger than the refresh window.
	again := s.newExecutor(locationConfig + "\nrefresh_minutes = 180\n")
	s.Require().NoError(again.Run(context.Background()))

	s.Require().Len(s.generator.requests, 1, "fresh page must not be regenerated")
}

func (s *PipelineIntegrationSuite) TestAreaRunSynthesizesMembers() {
	executor := s.newExecutor(`
location_forecast_days = 2
area_forecast_days = 2
llm = "gpt-4o-mini"
model = "det:ecmwf_ifs"

[[areas]]
name = "Otago"
locations = ["Queenstown", "Cromwell"]
`)

	s.Require().NoError(executor.Run(context.Background()))

	page, err := os.ReadFile(filepath.Join(s.webRoot, "otago", "index.html"))
	s.Require().NoError(err)
	s.Assert().Contains(string(page), "Queenstown outlook")

	s.Require().NotEmpty(s.generator.requests)
	prompt := s.generator.requests[len(s.generator.requests)-1].Prompt
	s.Assert().Contains(prompt, "Otago")
}

func (s *PipelineIntegrationSuite) TestProcessedDatasetsArePersisted() {
	executor := s.newExecutor(locationConfig)
	s.Require().NoError(executor.Run(context.Background()))

	entries, err := os.ReadDir(filepath.Join(s.cacheRoot, "processed"))
	s.Require().NoError(err)
	s.Require().NotEmpty(entries)

	data, err := os.ReadFile(filepath.Join(s.cacheRoot, "processed", entries[0].Name()))
	s.Require().NoError(err)

	var dataset map[string]interface{}
	s.Require().NoError(json.Unmarshal(data, &dataset))
}

func (s *PipelineIntegrationSuite) TestUnresolvableLocationIsSkipped() {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))

	defer empty.Close()

	logger := zap.NewNop()
	clock := clockwork.NewRealClock()
	httpClient := &http.Client{Timeout: 10 * time.Second}

	forecast, err := config.ParseForecastConfig([]byte(locationConfig))
	s.Require().NoError(err)

	fileCache := cache.NewForecastFileCache(
		filepath.Join(s.cacheRoot, "forecasts"), 0, clock, logger)

	nwp := openmeteo.NewClient(fileCache, nil, nil, clock, logger, openmeteo.Options{
		ForecastURL: s.forecastAPI.URL,
		EnsembleURL: s.forecastAPI.URL,
		HTTPClient:  httpClient,
	})

	executor := services.NewExecutor(forecast, services.ExecutorDeps{
		Geocoder: services.NewGeocodeService(
			openmeteo.NewSearchClient(empty.URL, httpClient, logger),
			nil,
			filepath.Join(s.cacheRoot, "geocode-miss"),
			logger),
		Alerts:    noAlerts{},
		NWP:       nwp,
		Terrain:   openmeteo.NewTerrainClient(s.elevationAPI.URL, httpClient, logger),
		Generator: s.generator,
		Datasets:  services.NewDatasetService(clock, logger),
		Costs:     services.NewCostTracker(logger),
		Clock:     clock,
		Logger:    logger,
		CacheRoot: s.cacheRoot,
		WebRoot:   s.webRoot,
	})

	s.Require().NoError(executor.Run(context.Background()))

	// The placeholder page survives and no narrative was generated.
	page, err := os.ReadFile(filepath.Join(s.webRoot, "queenstown", "index.html"))
	s.Require().NoError(err)
	s.Assert().NotContains(string(page), "Queenstown outlook")
	s.Assert().Empty(s.generator.requests)
}
