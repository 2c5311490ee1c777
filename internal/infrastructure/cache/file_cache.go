// Package cache provides caching implementations for the forecast pipeline:
// a TTL file cache for NWP payloads, an in-memory cache, and a Redis-backed
// cache for deployments sharing a cache across processes.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/fsio"
)

// Default retention policy for cached NWP payloads.
const (
	DefaultForecastTTL = 60 * time.Minute

	// sweepMaxAge is the cutoff for the best-effort cleanup sweep that runs on
	// every cache access.
	sweepMaxAge = 48 * time.Hour
)

// ForecastFileCache stores raw NWP payloads as JSON files keyed by a request
// fingerprint. Reads validate the payload schema; corrupt files are deleted
// and reported as a miss.
type ForecastFileCache struct {
	dir    string
	ttl    time.Duration
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewForecastFileCache creates a forecast cache rooted at dir.
//
// Parameters:
//   - dir: Cache directory, created on demand
//   - ttl: Entry time-to-live; zero selects DefaultForecastTTL
//   - clock: Clock used for TTL and sweep decisions
//   - logger: Zap logger for cache operations
//
// Returns:
//   - *ForecastFileCache: File cache instance
func NewForecastFileCache(dir string, ttl time.Duration, clock clockwork.Clock, logger *zap.Logger) *ForecastFileCache {
	if ttl <= 0 {
		ttl = DefaultForecastTTL
	}

	return &ForecastFileCache{
		dir:    dir,
		ttl:    ttl,
		clock:  clock,
		logger: logger,
	}
}

// Fingerprint derives the stable cache key for an NWP request: rounded
// coordinates (2 dp), forecast days, model kind and id, and a short hash of
// the hourly field list. Changing the field set changes the key.
func Fingerprint(lat, lon float64, days int, model domain.ModelSpec, hourlyFields []string) string {
	sum := sha1.Sum([]byte(strings.Join(hourlyFields, ",")))
	fieldHash := hex.EncodeToString(sum[:])[:8]

	return fmt.Sprintf("%.2f_%.2f_%dd_%s_%s_%s", lat, lon, days, model.Kind, model.ID, fieldHash)
}

// Get returns the cached payload for key when present, fresh, and valid.
//
// Returns:
//   - *domain.RawForecast: Decoded payload, nil on miss
//   - bool: Whether the read was a hit
func (c *ForecastFileCache) Get(ctx context.Context, key string) (*domain.RawForecast, bool) {
	tracer := otel.Tracer("cache")
	_, span := tracer.Start(ctx, "ForecastFileCache.Get")

	defer span.End()

	span.SetAttributes(attribute.String("cache.key", key))
	c.sweep()

	path := c.path(key)
	info, err := os.Stat(path)

	if err != nil {
		span.SetAttributes(attribute.Bool("cache.hit", false))

		return nil, false
	}

	if c.clock.Now().Sub(info.ModTime()) > c.ttl {
		c.logger.Debug("forecast cache entry expired", zap.String("key", key))
		span.SetAttributes(attribute.Bool("cache.hit", false))

		return nil, false
	}

	data, err := os.ReadFile(path)

	if err != nil {
		span.SetAttributes(attribute.Bool("cache.hit", false))

		return nil, false
	}

	var payload domain.RawForecast

	if err := json.Unmarshal(data, &payload); err != nil {
		c.discardCorrupt(path, key, err)
		span.SetAttributes(attribute.Bool("cache.hit", false))

		return nil, false
	}

	if err := ValidateRawForecast(&payload); err != nil {
		c.discardCorrupt(path, key, err)
		span.SetAttributes(attribute.Bool("cache.hit", false))

		return nil, false
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	c.logger.Debug("forecast cache hit", zap.String("key", key))

	return &payload, true
}

// Put stores a payload under key using an atomic write.
func (c *ForecastFileCache) Put(key string, payload *domain.RawForecast) error {
	data, err := json.Marshal(payload)

	if err != nil {
		return fmt.Errorf("failed to encode forecast payload: %w", err)
	}

	if err := fsio.WriteFileAtomic(c.path(key), data, 0o644); err != nil {
		return fmt.Errorf("failed to write forecast cache: %w", err)
	}

	c.logger.Debug("forecast cache set", zap.String("key", key), zap.Int("bytes", len(data)))

	return nil
}

func (c *ForecastFileCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *ForecastFileCache) discardCorrupt(path, key string, cause error) {
	c.logger.Warn("deleting corrupt forecast cache file",
		zap.String("key", key),
		zap.Error(cause))

	if err := fsio.SafeUnlink(path, c.dir, false); err != nil {
		c.logger.Debug("failed to delete corrupt cache file", zap.Error(err))
	}
}

// sweep removes cache files older than sweepMaxAge. Best effort; errors are
// logged at debug and never surfaced.
func (c *ForecastFileCache) sweep() {
	entries, err := os.ReadDir(c.dir)

	if err != nil {
		return
	}

	cutoff := c.clock.Now().Add(-sweepMaxAge)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		info, err := entry.Info()

		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(c.dir, entry.Name())

		if err := fsio.SafeUnlink(path, c.dir, false); err != nil {
			c.logger.Debug("cache sweep failed to remove file", zap.String("path", path), zap.Error(err))
		}
	}
}

// ValidateRawForecast checks the invariants cached and freshly fetched
// payloads must satisfy: hourly.time present and every hourly array equal
// length.
func ValidateRawForecast(payload *domain.RawForecast) error {
	if payload == nil {
		return fmt.Errorf("nil payload")
	}

	if len(payload.Times) == 0 {
		return fmt.Errorf("payload missing hourly.time")
	}

	for name, values := range payload.Hourly {
		if len(values) != len(payload.Times) {
			return fmt.Errorf("hourly array %q length %d does not match time length %d",
				name, len(values), len(payload.Times))
		}
	}

	return nil
}
