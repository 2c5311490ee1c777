package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

type stubGeocoder struct {
	result *domain.GeocodeResult
	err    error
	calls  int
}

func (s *stubGeocoder) Geocode(_ context.Context, _ string) (*domain.GeocodeResult, error) {
	s.calls++

	return s.result, s.err
}

func queenstownResult() *domain.GeocodeResult {
	return &domain.GeocodeResult{
		Name:        "Queenstown",
		Latitude:    -45.0312,
		Longitude:   168.6626,
		Timezone:    "Pacific/Auckland",
		CountryCode: "NZ",
	}
}

func TestGeocodeService_PrimaryHitIsCached(t *testing.T) {
	dir := t.TempDir()
	primary := &stubGeocoder{result: queenstownResult()}
	svc := NewGeocodeService(primary, nil, dir, zap.NewNop())

	first, err := svc.Geocode(context.Background(), "  Queenstown ")

	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "Pacific/Auckland", first.Timezone)

	// Cache file written under the normalized key.
	data, err := os.ReadFile(filepath.Join(dir, "search_cache.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"queenstown"`)

	// Second call is served from cache.
	second, err := svc.Geocode(context.Background(), "Queenstown")

	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 1, primary.calls)
}

func TestGeocodeService_FallbackAfterPrimaryFailure(t *testing.T) {
	primary := &stubGeocoder{err: errors.New("timeout")}
	fallback := &stubGeocoder{result: queenstownResult()}
	svc := NewGeocodeService(primary, fallback, t.TempDir(), zap.NewNop())

	result, err := svc.Geocode(context.Background(), "Queenstown")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, fallback.calls)
}

func TestGeocodeService_UnresolvedReturnsNil(t *testing.T) {
	svc := NewGeocodeService(&stubGeocoder{}, &stubGeocoder{}, t.TempDir(), zap.NewNop())

	result, err := svc.Geocode(context.Background(), "Nowhereville")

	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestGeocodeService_CorruptCacheIsDeleted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search_cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	primary := &stubGeocoder{result: queenstownResult()}
	svc := NewGeocodeService(primary, nil, dir, zap.NewNop())

	result, err := svc.Geocode(context.Background(), "Queenstown")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, primary.calls)

	// The rewritten cache is valid JSON again.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"queenstown"`)
}

func TestGeocodeService_RejectsCacheMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search_cache.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"queenstown": {"latitude": 1, "longitude": 2}}`), 0o644))

	primary := &stubGeocoder{result: queenstownResult()}
	svc := NewGeocodeService(primary, nil, dir, zap.NewNop())

	result, err := svc.Geocode(context.Background(), "Queenstown")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, primary.calls, "schema-invalid cache must not satisfy the lookup")
}

func TestGeocodeService_EmptyName(t *testing.T) {
	primary := &stubGeocoder{result: queenstownResult()}
	svc := NewGeocodeService(primary, nil, t.TempDir(), zap.NewNop())

	result, err := svc.Geocode(context.Background(), "   ")

	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.Zero(t, primary.calls)
}
