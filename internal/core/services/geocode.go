package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/ports"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/fsio"
)

const geocodeCacheFile = "search_cache.json"

// GeocodeService resolves place names through a primary geocoder with an
// optional fallback, backed by a persistent JSON cache shared across
// processes and an in-process memo.
//
// The on-disk cache lives at <cacheDir>/search_cache.json and is keyed by
// the normalized (trimmed, lowercased) place name. Read-modify-write cycles
// hold an advisory file lock.
type GeocodeService struct {
	primary  ports.Geocoder
	fallback ports.Geocoder
	cacheDir string
	memo     *gocache.Cache
	logger   *zap.Logger
}

// NewGeocodeService creates a geocode chain.
//
// Parameters:
//   - primary: First-choice geocoder
//   - fallback: Secondary geocoder tried when the primary fails or finds
//     nothing; may be nil
//   - cacheDir: Directory holding search_cache.json
//   - logger: Structured logger
//
// Returns:
//   - *GeocodeService: Configured service
func NewGeocodeService(primary, fallback ports.Geocoder, cacheDir string, logger *zap.Logger) *GeocodeService {
	return &GeocodeService{
		primary:  primary,
		fallback: fallback,
		cacheDir: cacheDir,
		memo:     gocache.New(gocache.NoExpiration, 0),
		logger:   logger,
	}
}

// Geocode resolves a place name to coordinates.
//
// Returns nil without error when no backend can resolve the name; callers
// skip the entity with a warning.
func (s *GeocodeService) Geocode(ctx context.Context, name string) (*domain.GeocodeResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))

	if normalized == "" {
		return nil, nil
	}

	if cached, ok := s.memo.Get(normalized); ok {
		result := cached.(domain.GeocodeResult)

		return &result, nil
	}

	if result := s.lookupFile(normalized); result != nil {
		s.logger.Info("geocode cache hit",
			zap.String("name", name),
			zap.Float64("lat", result.Latitude),
			zap.Float64("lon", result.Longitude))
		s.memo.Set(normalized, *result, gocache.NoExpiration)

		return result, nil
	}

	result, err := s.primary.Geocode(ctx, name)

	if err != nil {
		s.logger.Warn("primary geocoder failed", zap.String("name", name), zap.Error(err))
		result = nil
	}

	if result == nil && s.fallback != nil {
		result, err = s.fallback.Geocode(ctx, name)

		if err != nil {
			s.logger.Warn("fallback geocoder failed", zap.String("name", name), zap.Error(err))
			result = nil
		}
	}

	if result == nil {
		s.logger.Warn("geocode unresolved", zap.String("name", name))

		return nil, nil
	}

	s.logger.Info("geocode resolved",
		zap.String("name", name),
		zap.Float64("lat", result.Latitude),
		zap.Float64("lon", result.Longitude))

	s.storeFile(normalized, *result)
	s.memo.Set(normalized, *result, gocache.NoExpiration)

	return result, nil
}

func (s *GeocodeService) cachePath() string {
	return filepath.Join(s.cacheDir, geocodeCacheFile)
}

// lookupFile reads the persistent cache without taking the lock; the file
// is replaced atomically so a plain read never sees a torn write.
func (s *GeocodeService) lookupFile(key string) *domain.GeocodeResult {
	cache := s.readCache()
	entry, ok := cache[key]

	if !ok {
		return nil
	}

	return &entry
}

func (s *GeocodeService) storeFile(key string, result domain.GeocodeResult) {
	lock, err := fsio.LockFile(s.cachePath())

	if err != nil {
		s.logger.Debug("geocode cache lock failed", zap.Error(err))

		return
	}

	defer lock.Unlock()

	cache := s.readCache()
	cache[key] = result

	data, err := json.MarshalIndent(cache, "", "  ")

	if err != nil {
		return
	}

	if err := fsio.WriteFileAtomic(s.cachePath(), data, 0o644); err != nil {
		s.logger.Debug("geocode cache write failed", zap.Error(err))
	}
}

// readCache loads the cache file, deleting it when the payload is corrupt
// or fails schema validation.
func (s *GeocodeService) readCache() map[string]domain.GeocodeResult {
	data, err := os.ReadFile(s.cachePath())

	if err != nil {
		return map[string]domain.GeocodeResult{}
	}

	var cache map[string]domain.GeocodeResult

	if err := json.Unmarshal(data, &cache); err != nil || !validGeocodeCache(cache) {
		s.logger.Warn("invalid geocode cache, deleting", zap.String("path", s.cachePath()))

		if err := fsio.SafeUnlink(s.cachePath(), s.cacheDir, false); err != nil {
			s.logger.Debug("geocode cache delete failed", zap.Error(err))
		}

		return map[string]domain.GeocodeResult{}
	}

	return cache
}

// validGeocodeCache checks every entry carries the fields the pipeline
// depends on downstream.
func validGeocodeCache(cache map[string]domain.GeocodeResult) bool {
	for _, entry := range cache {
		if entry.Name == "" || entry.Timezone == "" {
			return false
		}
	}

	return true
}
