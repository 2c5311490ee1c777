package domain

import (
	"regexp"
	"strings"
)

// Wordiness controls how verbose the generated narrative should be.
type Wordiness string

const (
	WordinessBrief    Wordiness = "brief"
	WordinessNormal   Wordiness = "normal"
	WordinessDetailed Wordiness = "detailed"
)

// AreaMode selects between a single blended summary and a per-location
// regional breakdown for composite areas.
type AreaMode string

const (
	AreaModeSummary  AreaMode = "area"
	AreaModeRegional AreaMode = "regional"
)

// Units holds display unit preferences. Internally all values are normalized
// to °C, mm, cm, kph, and meters; these preferences only affect formatting.
//
// The secondary fields come from the dual "primary (secondary)" config
// syntax; when set, the narrative is instructed to show the secondary unit
// in brackets after each value.
type Units struct {
	// Temperature is "celsius" or "fahrenheit".
	Temperature          string
	TemperatureSecondary string

	// Precipitation is "mm" or "inch".
	Precipitation          string
	PrecipitationSecondary string

	// Snowfall is "cm" or "inch"; empty derives from Precipitation.
	Snowfall          string
	SnowfallSecondary string

	// WindSpeed is "kmh", "mph", "ms", or "kn".
	WindSpeed          string
	WindSpeedSecondary string

	// AltitudeM is the operator-specified station altitude in meters; values
	// above zero take precedence over geocoding and model elevation.
	AltitudeM float64
}

// Imperial reports whether lengths should render in feet/inches.
func (u Units) Imperial() bool {
	return u.Precipitation == "inch"
}

// Merge overlays non-empty fields of the override onto the receiver.
func (u Units) Merge(override Units) Units {
	merged := u

	if override.Temperature != "" {
		merged.Temperature = override.Temperature
		merged.TemperatureSecondary = override.TemperatureSecondary
	}

	if override.Precipitation != "" {
		merged.Precipitation = override.Precipitation
		merged.PrecipitationSecondary = override.PrecipitationSecondary
	}

	if override.Snowfall != "" {
		merged.Snowfall = override.Snowfall
		merged.SnowfallSecondary = override.SnowfallSecondary
	}

	if override.WindSpeed != "" {
		merged.WindSpeed = override.WindSpeed
		merged.WindSpeedSecondary = override.WindSpeedSecondary
	}

	if override.AltitudeM > 0 {
		merged.AltitudeM = override.AltitudeM
	}

	return merged
}

// DefaultUnits are applied when neither the config root nor the entity sets a
// preference.
func DefaultUnits() Units {
	return Units{Temperature: "celsius", Precipitation: "mm", WindSpeed: "kmh"}
}

// LocationEntry is the immutable per-location configuration record. Records
// are produced by the configuration loader and consumed by value.
type LocationEntry struct {
	// Name is the display name, unique within the configuration.
	Name string

	// TranslationLanguage is the optional target language for a translated
	// rendition. Empty or "en*" skips translation.
	TranslationLanguage string

	// ExtraContext is free-form local knowledge folded into the impact-context
	// prompt.
	ExtraContext string

	// Units are per-location display overrides.
	Units Units

	// Model is the optional model reference override.
	Model string

	// SnowLevels enables snow-level diagnostics; nil inherits the global flag.
	SnowLevels *bool

	// RefreshMinutes overrides the global minimum refresh interval.
	RefreshMinutes *int
}

// AreaEntry is the immutable per-area configuration record.
type AreaEntry struct {
	Name string

	// Locations are the ordered member location names. Names matching a
	// LocationEntry inherit that entry's units and altitude; unmatched names
	// are permitted and use area-level units.
	Locations []string

	TranslationLanguage string
	ExtraContext        string
	Units               Units
	Model               string
	SnowLevels          *bool
	RefreshMinutes      *int

	// Mode selects summary or regional narrative.
	Mode AreaMode
}

// ForecastConfig is the validated root configuration consumed by the executor.
// The TOML parsing lives in internal/config; the core never re-reads files.
type ForecastConfig struct {
	Locations []LocationEntry
	Areas     []AreaEntry

	// WebRoot is the static site output directory.
	WebRoot string

	Units Units

	LocationForecastDays int
	AreaForecastDays     int

	LocationWordiness Wordiness
	AreaWordiness     Wordiness

	// EnableReasoning gates reasoning parameters for capable models.
	EnableReasoning   bool
	LocationReasoning string
	AreaReasoning     string

	LocationImpactBased bool
	AreaImpactBased     bool

	LocationThinSelect int
	AreaThinSelect     int

	// LLM is the primary forecast model reference; ContextLLM drives the
	// web-search impact context (Gemini or OpenAI families only);
	// TranslationLLM optionally overrides the model used for translation.
	LLM            string
	ContextLLM     string
	TranslationLLM string

	TranslationLanguage string

	// RefreshMinutes skips entities whose page is newer than this.
	RefreshMinutes int

	SnowLevels bool

	// Model is the global default model reference.
	Model string

	// ConfigHash is the sha256 of the canonical serialized config, recorded in
	// the maps-hash state file for incremental regeneration.
	ConfigHash string
}

var slugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a display name into a lowercase hyphenated filesystem-safe
// identifier.
//
// Parameters:
//   - name: Display name such as "Queenstown, NZ (Ensemble)"
//
// Returns:
//   - string: Slug such as "queenstown-nz-ensemble"
func Slugify(name string) string {
	slug := slugSanitizer.ReplaceAllString(strings.ToLower(name), "-")

	return strings.Trim(slug, "-")
}
