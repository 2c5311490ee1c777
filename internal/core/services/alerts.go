package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/ports"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/fsio"
)

const countryCacheFile = "country_cache.json"

// AlertService routes alert fetches to the authoritative national source for
// the location's country.
//
// Routing: US uses the National Weather Service, NZ uses the MetService CAP
// feed (authoritative, no fallback even when empty), everything else falls
// back to OpenWeatherMap. Country codes are resolved by reverse geocoding
// and cached persistently at <cacheDir>/country_cache.json, keyed by the
// coordinate rounded to four decimals.
type AlertService struct {
	us       ports.AlertSource
	nz       ports.AlertSource
	fallback ports.AlertSource

	// resolvers are tried in order until one returns a country code.
	resolvers []ports.CountryResolver

	cacheDir string
	memo     *gocache.Cache
	logger   *zap.Logger
}

// NewAlertService wires the country-aware alert router.
//
// Parameters:
//   - us: United States alert source
//   - nz: New Zealand alert source
//   - fallback: Source for every other country; may be nil when no key is
//     configured, in which case those locations get no alerts
//   - resolvers: Reverse geocoders tried in priority order
//   - cacheDir: Directory holding country_cache.json
//   - logger: Structured logger
//
// Returns:
//   - *AlertService: Configured service
func NewAlertService(us, nz, fallback ports.AlertSource, resolvers []ports.CountryResolver, cacheDir string, logger *zap.Logger) *AlertService {
	return &AlertService{
		us:        us,
		nz:        nz,
		fallback:  fallback,
		resolvers: resolvers,
		cacheDir:  cacheDir,
		memo:      gocache.New(gocache.NoExpiration, 0),
		logger:    logger,
	}
}

// Alerts fetches active severe-weather alerts for a point.
//
// Parameters:
//   - ctx: Request context
//   - lat, lon: Coordinate of the location
//   - countryCode: Known ISO 3166-1 alpha-2 code; resolved by reverse
//     geocoding when empty
//
// Returns:
//   - []domain.AlertSummary: Normalized alerts, possibly empty
//   - error: Transport failure from the selected source
func (s *AlertService) Alerts(ctx context.Context, lat, lon float64, countryCode string) ([]domain.AlertSummary, error) {
	country := strings.ToUpper(strings.TrimSpace(countryCode))

	if country == "" {
		country = s.resolveCountry(ctx, lat, lon)
	}

	switch country {
	case "US":
		return s.us.Alerts(ctx, lat, lon)
	case "NZ":
		// The CAP feed is authoritative; an empty result stays empty.
		return s.nz.Alerts(ctx, lat, lon)
	case "CA":
		s.logger.Info("Canadian alerts falling back to OpenWeatherMap")
	}

	if s.fallback == nil {
		s.logger.Debug("no fallback alert source configured, skipping alerts",
			zap.String("country", country))

		return nil, nil
	}

	return s.fallback.Alerts(ctx, lat, lon)
}

// resolveCountry reverse geocodes the coordinate with write-through caching.
func (s *AlertService) resolveCountry(ctx context.Context, lat, lon float64) string {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)

	if cached, ok := s.memo.Get(key); ok {
		return cached.(string)
	}

	if code := s.readCountryCache()[key]; code != "" {
		s.memo.Set(key, code, gocache.NoExpiration)

		return code
	}

	for _, resolver := range s.resolvers {
		code, err := resolver.CountryCode(ctx, lat, lon)

		if err != nil {
			s.logger.Debug("country resolver failed",
				zap.Float64("lat", lat), zap.Float64("lon", lon), zap.Error(err))

			continue
		}

		if code != "" {
			code = strings.ToUpper(code)
			s.writeCountryCache(key, code)
			s.memo.Set(key, code, gocache.NoExpiration)

			return code
		}
	}

	return ""
}

func (s *AlertService) cachePath() string {
	return filepath.Join(s.cacheDir, countryCacheFile)
}

func (s *AlertService) readCountryCache() map[string]string {
	data, err := os.ReadFile(s.cachePath())

	if err != nil {
		return map[string]string{}
	}

	var cache map[string]string

	if err := json.Unmarshal(data, &cache); err != nil {
		return map[string]string{}
	}

	return cache
}

func (s *AlertService) writeCountryCache(key, code string) {
	lock, err := fsio.LockFile(s.cachePath())

	if err != nil {
		s.logger.Debug("country cache lock failed", zap.Error(err))

		return
	}

	defer lock.Unlock()

	cache := s.readCountryCache()
	cache[key] = code

	data, err := json.MarshalIndent(cache, "", "  ")

	if err != nil {
		return
	}

	if err := fsio.WriteFileAtomic(s.cachePath(), data, 0o644); err != nil {
		s.logger.Debug("country cache write failed", zap.Error(err))
	}
}
