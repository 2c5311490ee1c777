// Package app wires the forecast pipeline together: configuration, logging,
// telemetry, provider adapters, optional Redis and Postgres backends, and the
// executor that drives a run.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sean-rowe/impact-forecast/internal/adapters/secondary/googlemaps"
	"github.com/sean-rowe/impact-forecast/internal/adapters/secondary/impact"
	"github.com/sean-rowe/impact-forecast/internal/adapters/secondary/llm"
	"github.com/sean-rowe/impact-forecast/internal/adapters/secondary/metservice"
	"github.com/sean-rowe/impact-forecast/internal/adapters/secondary/nws"
	"github.com/sean-rowe/impact-forecast/internal/adapters/secondary/openmeteo"
	"github.com/sean-rowe/impact-forecast/internal/adapters/secondary/owm"
	"github.com/sean-rowe/impact-forecast/internal/config"
	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/ports"
	"github.com/sean-rowe/impact-forecast/internal/core/services"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/cache"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/circuitbreaker"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/database"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/ratelimit"
	"github.com/sean-rowe/impact-forecast/internal/observability"
	"github.com/sean-rowe/impact-forecast/internal/version"
)

// App is the assembled pipeline with every optional backend resolved.
type App struct {
	Config   *config.Config
	Forecast *domain.ForecastConfig
	Logger   *zap.Logger
	Executor *services.Executor

	telemetry     *observability.Telemetry
	archive       *database.PostgresDB
	redisClient   *redis.Client
	metricsServer *http.Server
}

// New loads configuration, builds every adapter, and returns a ready App.
//
// Parameters:
//   - ctx: Context for telemetry and backend probes
//   - configPath: Path to the TOML forecast configuration
//
// Returns:
//   - *App: Assembled pipeline
//   - error: Configuration failure; these are fatal by contract
func New(ctx context.Context, configPath string) (*App, error) {
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel)

	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	forecast, err := config.LoadForecastConfig(configPath)

	if err != nil {
		return nil, err
	}

	if cfg.DefaultLLM != "" {
		forecast.LLM = cfg.DefaultLLM

		logger.Info("forecast model overridden from environment",
			zap.String("model", cfg.DefaultLLM))
	}

	webRoot := forecast.WebRoot

	if webRoot == "" {
		webRoot = cfg.Paths.WebRoot
	}

	cacheRoot := cfg.Paths.CacheRoot

	telemetry, err := observability.InitTelemetry(ctx, observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		SampleRate:     cfg.Observability.SampleRate,
	}, logger)

	if err != nil {
		logger.Warn("telemetry disabled", zap.Error(err))

		telemetry = nil
	}

	clock := clockwork.NewRealClock()
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	limiter, sharedCache, redisClient := initRedisServices(ctx, cfg, logger)

	fileCache := cache.NewForecastFileCache(
		filepath.Join(cacheRoot, "forecasts"), 0, clock, logger)

	breakers := circuitbreaker.NewManager(logger)
	breaker := breakers.GetBreaker("open-meteo", circuitbreaker.Config{
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
	})

	var nwp ports.NWPProvider = openmeteo.NewClient(
		fileCache, limiter, breaker.Breaker(), clock, logger, openmeteo.Options{})

	if sharedCache != nil {
		nwp = newCachedNWP(nwp, sharedCache, logger)
	}

	maps := googlemaps.NewClient(cfg.Keys.Google, "", httpClient, logger)
	owmClient := owm.NewClient(cfg.Keys.OpenWeatherMap, "", "", httpClient, logger)

	var geocodeFallback ports.Geocoder

	if maps.Enabled() {
		geocodeFallback = maps
	}

	geocoder := services.NewGeocodeService(
		openmeteo.NewSearchClient("", httpClient, logger),
		geocodeFallback,
		filepath.Join(cacheRoot, "geocode"),
		logger)

	var alertFallback ports.AlertSource
	var resolvers []ports.CountryResolver

	if maps.Enabled() {
		resolvers = append(resolvers, maps)
	}

	if owmClient.Enabled() {
		alertFallback = owmClient
		resolvers = append(resolvers, owmClient)
	}

	alerts := services.NewAlertService(
		nws.NewClient("", httpClient, logger),
		metservice.NewClient("", httpClient, logger),
		alertFallback,
		resolvers,
		filepath.Join(cacheRoot, "geocode"),
		logger)

	terrain := openmeteo.NewTerrainClient("", httpClient, logger)
	costs := services.NewCostTracker(logger)

	var contexts ports.ContextProvider

	if forecast.ContextLLM != "" {
		contexts = impact.NewProvider(
			filepath.Join(cacheRoot, "impact"),
			forecast.ContextLLM,
			cfg.Keys.OpenAI,
			cfg.Keys.Gemini,
			costs,
			clock,
			logger,
			impact.Options{})
	}

	generator := llm.NewDispatcher(llm.Keys{
		OpenAI:     cfg.Keys.OpenAI,
		OpenRouter: cfg.Keys.OpenRouter,
		Gemini:     cfg.Keys.Gemini,
		GoogleMaps: cfg.Keys.Google,
	}, costs, logger)

	var archive *database.PostgresDB

	if cfg.Database.Enabled {
		archive, err = database.NewPostgresDB(database.Config{
			Host:                  cfg.Database.Host,
			Port:                  cfg.Database.Port,
			User:                  cfg.Database.User,
			Password:              cfg.Database.Password,
			Database:              cfg.Database.Database,
			SSLMode:               cfg.Database.SSLMode,
			MaxConnections:        cfg.Database.MaxConnections,
			MaxIdleConnections:    cfg.Database.MaxIdleConnections,
			ConnectionMaxLifetime: cfg.Database.ConnectionMaxLifetime,
		}, logger)

		if err != nil {
			logger.Warn("run archive disabled", zap.Error(err))

			archive = nil
		}
	}

	deps := services.ExecutorDeps{
		Geocoder:  geocoder,
		Alerts:    alerts,
		NWP:       nwp,
		Terrain:   terrain,
		Contexts:  contexts,
		Generator: generator,
		Datasets:  services.NewDatasetService(clock, logger),
		Costs:     costs,
		Clock:     clock,
		Logger:    logger,
		CacheRoot: cacheRoot,
		WebRoot:   webRoot,
	}

	if archive != nil {
		deps.Archive = archive
	}

	app := &App{
		Config:      cfg,
		Forecast:    forecast,
		Logger:      logger,
		Executor:    services.NewExecutor(forecast, deps),
		telemetry:   telemetry,
		archive:     archive,
		redisClient: redisClient,
	}

	if cfg.Observability.MetricsPort != "" {
		app.metricsServer = newMetricsServer(cfg.Observability.MetricsPort)
	}

	return app, nil
}

// Run serves metrics if configured and executes one full pipeline run.
//
// Returns:
//   - error: First fatal pipeline error; per-entity failures are logged
//     and skipped inside the executor
func (a *App) Run(ctx context.Context) error {
	if a.metricsServer != nil {
		go func() {
			a.Logger.Info("metrics listener started",
				zap.String("addr", a.metricsServer.Addr))

			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.Logger.Warn("metrics listener failed", zap.Error(err))
			}
		}()
	}

	return a.Executor.Run(ctx)
}

// Shutdown releases backends in reverse dependency order.
func (a *App) Shutdown(ctx context.Context) {
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.Logger.Warn("metrics listener shutdown failed", zap.Error(err))
		}
	}

	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.Logger.Warn("archive close failed", zap.Error(err))
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Logger.Warn("redis close failed", zap.Error(err))
		}
	}

	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.Logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}

	_ = a.Logger.Sync()
}

// initRedisServices builds the rate limiter and the optional shared NWP
// cache. Redis is used when enabled and reachable; otherwise both fall back
// to in-memory implementations.
func initRedisServices(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.RateLimiter, ports.CacheService, *redis.Client) {
	if !cfg.Redis.Enabled {
		return ratelimit.NewMemoryRateLimiter(logger), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)

	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-memory fallbacks", zap.Error(err))

		_ = client.Close()

		return ratelimit.NewMemoryRateLimiter(logger),
			cache.NewMemoryCache(cache.DefaultForecastTTL, 10*time.Minute, logger),
			nil
	}

	shared, err := cache.NewRedisCache(cache.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}, logger)

	if err != nil {
		logger.Warn("redis cache unavailable, using in-memory cache", zap.Error(err))

		shared = cache.NewMemoryCache(cache.DefaultForecastTTL, 10*time.Minute, logger)
	}

	return ratelimit.NewRedisRateLimiter(client, logger), shared, client
}

// newMetricsServer builds the optional operational listener. Forecast pages
// are static files and are never served here.
func newMetricsServer(port string) *http.Server {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	router.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(version.Get())
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// newLogger builds the process logger, honoring the LOG_LEVEL override.
func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()

	if level != "" {
		parsed, err := zapcore.ParseLevel(level)

		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}

		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}

	return cfg.Build()
}
