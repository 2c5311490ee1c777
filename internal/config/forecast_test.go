package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

const sampleForecastTOML = `
web_root = "outputs"
location_forecast_days = 3
location_wordiness = "brief"
location_thin_select = 5
llm = "gpt-4o-mini"
context_llm = "gemini-2.5-flash"
snow_levels = true
model = "ens:ecmwf_ifs025"

[units]
temperature = "celsius"
precipitation = "mm"
windspeed = "kph"

[[locations]]
name = "Queenstown"
lang = "fr"

[[locations]]
name = "Queenstown"
model = "det:ecmwf_ifs"
snow_levels = true

[[areas]]
name = "Otago"
locations = ["Queenstown", "Dunedin"]
mode = "regional"

[areas.units]
temperature_unit = "fahrenheit"
`

func TestParseForecastConfig(t *testing.T) {
	cfg, err := ParseForecastConfig([]byte(sampleForecastTOML))

	require.NoError(t, err)
	require.Len(t, cfg.Locations, 2)
	require.Len(t, cfg.Areas, 1)

	assert.Equal(t, "outputs", cfg.WebRoot)
	assert.Equal(t, 3, cfg.LocationForecastDays)
	assert.Equal(t, 3, cfg.AreaForecastDays, "area days default to location days")
	assert.Equal(t, domain.WordinessBrief, cfg.LocationWordiness)
	assert.Equal(t, "gemini-2.5-flash", cfg.ContextLLM)
	assert.True(t, cfg.EnableReasoning, "reasoning defaults on")
	assert.NotEmpty(t, cfg.ConfigHash)

	// Legacy "lang" alias feeds translation_language.
	assert.Equal(t, "fr", cfg.Locations[0].TranslationLanguage)

	// "kph" normalizes to the internal "kmh".
	assert.Equal(t, "kmh", cfg.Units.WindSpeed)

	assert.Equal(t, domain.AreaModeRegional, cfg.Areas[0].Mode)
	assert.Equal(t, "fahrenheit", cfg.Areas[0].Units.Temperature)
}

func TestParseForecastConfig_HashIsStable(t *testing.T) {
	first, err := ParseForecastConfig([]byte(sampleForecastTOML))
	require.NoError(t, err)

	second, err := ParseForecastConfig([]byte(sampleForecastTOML))
	require.NoError(t, err)

	assert.Equal(t, first.ConfigHash, second.ConfigHash)

	// Prepended so the key lands at the document root, not inside the last
	// table of the sample.
	changed, err := ParseForecastConfig([]byte("area_thin_select = 9\n" + sampleForecastTOML))
	require.NoError(t, err)
	assert.NotEqual(t, first.ConfigHash, changed.ConfigHash)
}

func TestParseForecastConfig_UnitExtensions(t *testing.T) {
	cfg, err := ParseForecastConfig([]byte(`
[units]
temperature = "celsius (fahrenheit)"
windspeed = "kph (mph)"

[[locations]]
name = "Queenstown"

[locations.units]
precipitation = "inch"
snowfall_unit = "cm (inch)"
altitude_m = 1560
`))

	require.NoError(t, err)

	assert.Equal(t, "celsius", cfg.Units.Temperature)
	assert.Equal(t, "fahrenheit", cfg.Units.TemperatureSecondary)
	assert.Equal(t, "kmh", cfg.Units.WindSpeed)
	assert.Equal(t, "mph", cfg.Units.WindSpeedSecondary)

	loc := cfg.Locations[0].Units
	assert.Equal(t, "inch", loc.Precipitation)
	assert.Equal(t, "cm", loc.Snowfall)
	assert.Equal(t, "inch", loc.SnowfallSecondary)
	assert.InDelta(t, 1560.0, loc.AltitudeM, 0.01)

	// The effective per-location view keeps the global dual temperature and
	// the location's altitude.
	merged := domain.DefaultUnits().Merge(cfg.Units).Merge(loc)
	assert.Equal(t, "fahrenheit", merged.TemperatureSecondary)
	assert.InDelta(t, 1560.0, merged.AltitudeM, 0.01)
}

func TestParseForecastConfig_LegacyRootAliases(t *testing.T) {
	cfg, err := ParseForecastConfig([]byte(`
ensemble_model = "gfs025"
translation_lang = "es"
recent_overwrite_minutes = 45
`))

	require.NoError(t, err)
	assert.Equal(t, "gfs025", cfg.Model)
	assert.Equal(t, "es", cfg.TranslationLanguage)
	assert.Equal(t, 45, cfg.RefreshMinutes)
}

func TestParseForecastConfig_Rejections(t *testing.T) {
	cases := []struct {
		name string
		toml string
	}{
		{"unknown key", `surprise = true`},
		{"openrouter context llm", `context_llm = "or:deepseek/deepseek-v3.2"`},
		{"bad wordiness", `location_wordiness = "verbose"`},
		{"unknown ensemble model", `model = "ens:not_a_model"`},
		{"empty location name", "[[locations]]\nname = \"\""},
		{"area without members", "[[areas]]\nname = \"Otago\"\nlocations = []"},
		{"bad area mode", "[[areas]]\nname = \"Otago\"\nlocations = [\"Queenstown\"]\nmode = \"zonal\""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseForecastConfig([]byte(tc.toml))

			require.Error(t, err)
			assert.True(t, domain.IsConfigError(err), "expected config error, got %v", err)
		})
	}
}

func TestParseForecastConfig_EmptyDocument(t *testing.T) {
	cfg, err := ParseForecastConfig([]byte(""))

	require.NoError(t, err)
	assert.Empty(t, cfg.Locations)
	assert.Empty(t, cfg.Areas)
	assert.Equal(t, 4, cfg.LocationForecastDays)
}
