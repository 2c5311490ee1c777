package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

func floatPtrs(values ...float64) []*float64 {
	out := make([]*float64, len(values))

	for i := range values {
		v := values[i]
		out[i] = &v
	}

	return out
}

func samplePayload() *domain.RawForecast {
	return &domain.RawForecast{
		Times:  []string{"2025-01-10T00:00", "2025-01-10T01:00"},
		Hourly: map[string][]*float64{"temperature_2m": floatPtrs(3.2, 2.8)},
		HourlyUnits: map[string]string{
			"temperature_2m": "°C",
		},
		Elevation: 310,
	}
}

func TestForecastFileCache_RoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	fc := NewForecastFileCache(t.TempDir(), time.Hour, clock, zap.NewNop())

	key := Fingerprint(45.031, 7.672, 5, domain.ModelSpec{ID: "ecmwf_ifs", Kind: domain.KindDeterministic}, []string{"temperature_2m"})

	_, hit := fc.Get(context.Background(), key)
	assert.False(t, hit)

	require.NoError(t, fc.Put(key, samplePayload()))

	got, hit := fc.Get(context.Background(), key)
	require.True(t, hit)
	assert.Equal(t, 310.0, got.Elevation)
	assert.Len(t, got.Times, 2)
}

func TestForecastFileCache_TTLExpiry(t *testing.T) {
	dir := t.TempDir()

	// Anchor the fake clock to wall time so file mtimes compare against it.
	clock := clockwork.NewFakeClockAt(time.Now())
	fc := NewForecastFileCache(dir, time.Hour, clock, zap.NewNop())

	key := "45.03_7.67_5d_deterministic_ecmwf_ifs_abcd1234"
	require.NoError(t, fc.Put(key, samplePayload()))

	clock.Advance(61 * time.Minute)

	_, hit := fc.Get(context.Background(), key)
	assert.False(t, hit, "entry past TTL must miss")

	// The file survives until the 48h sweep.
	_, err := os.Stat(filepath.Join(dir, key+".json"))
	assert.NoError(t, err)
}

func TestForecastFileCache_CorruptFileDeleted(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Now())
	fc := NewForecastFileCache(dir, time.Hour, clock, zap.NewNop())

	key := "bad_entry"
	path := filepath.Join(dir, key+".json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, hit := fc.Get(context.Background(), key)
	assert.False(t, hit)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "corrupt file must be deleted")
}

func TestForecastFileCache_SchemaMismatchDeleted(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Now())
	fc := NewForecastFileCache(dir, time.Hour, clock, zap.NewNop())

	key := "schema_bad"
	path := filepath.Join(dir, key+".json")

	// Valid JSON, but the precipitation array disagrees with hourly.time.
	payload := `{"hourly":{"precipitation":[1.0]},"time":["a","b"],"hourly_units":{},"elevation":0}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	_, hit := fc.Get(context.Background(), key)
	assert.False(t, hit)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFingerprint_FieldSetChangesKey(t *testing.T) {
	model := domain.ModelSpec{ID: "ecmwf_ifs", Kind: domain.KindDeterministic}

	enriched := Fingerprint(1.0, 2.0, 4, model, []string{"temperature_2m", "freezing_level_height"})
	base := Fingerprint(1.0, 2.0, 4, model, []string{"temperature_2m"})

	assert.NotEqual(t, enriched, base)

	// Coordinates round to two decimals: sub-centimeter jitter shares a key.
	jitter := Fingerprint(1.0012, 2.0012, 4, model, []string{"temperature_2m"})
	assert.Equal(t, base, jitter)
}
