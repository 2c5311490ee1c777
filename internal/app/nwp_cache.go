package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/ports"
	"github.com/sean-rowe/impact-forecast/internal/infrastructure/cache"
)

// cachedNWP layers the shared byte cache over an NWP provider so concurrent
// pipeline instances reuse each other's fetches. The provider keeps its own
// local file cache; this layer only short-circuits the network on a shared
// hit.
type cachedNWP struct {
	inner  ports.NWPProvider
	cache  ports.CacheService
	logger *zap.Logger
}

func newCachedNWP(inner ports.NWPProvider, shared ports.CacheService, logger *zap.Logger) *cachedNWP {
	return &cachedNWP{
		inner:  inner,
		cache:  shared,
		logger: logger,
	}
}

// Fetch returns the shared-cache payload when present, otherwise delegates
// and stores the result. Cache failures degrade to a plain fetch.
func (c *cachedNWP) Fetch(ctx context.Context, req ports.NWPRequest) (*domain.RawForecast, error) {
	key := nwpCacheKey(req)

	if data, err := c.cache.Get(ctx, key); err == nil {
		var raw domain.RawForecast

		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			c.logger.Debug("shared nwp cache hit", zap.String("key", key))

			return &raw, nil
		}

		_ = c.cache.Delete(ctx, key)
	}

	raw, err := c.inner.Fetch(ctx, req)

	if err != nil {
		return nil, err
	}

	if data, jsonErr := json.Marshal(raw); jsonErr == nil {
		if setErr := c.cache.Set(ctx, key, data, cache.DefaultForecastTTL); setErr != nil {
			c.logger.Debug("shared nwp cache store failed", zap.Error(setErr))
		}
	}

	return raw, nil
}

// nwpCacheKey fingerprints a request. The field set participates because the
// pressure-profile second fetch must never collide with the standard fetch.
func nwpCacheKey(req ports.NWPRequest) string {
	payload := fmt.Sprintf("%.4f|%.4f|%s|%d|%s|%s|%s",
		req.Latitude,
		req.Longitude,
		req.Timezone,
		req.ForecastDays,
		req.Model.ID,
		req.Model.Kind,
		strings.Join(req.HourlyFields, ","))

	sum := sha256.Sum256([]byte(payload))

	return "nwp:" + hex.EncodeToString(sum[:16])
}
