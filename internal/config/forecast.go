package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

// tomlLocation is the on-disk shape of one location entry. Legacy keys
// "lang" and "translation_lang" are accepted as aliases for
// "translation_language".
type tomlLocation struct {
	Name                string                 `toml:"name"`
	Lang                string                 `toml:"lang"`
	TranslationLang     string                 `toml:"translation_lang"`
	TranslationLanguage string                 `toml:"translation_language"`
	ExtraContext        string                 `toml:"extra_context"`
	Units               map[string]interface{} `toml:"units"`
	SnowLevels          *bool                  `toml:"snow_levels"`
	Model               string                 `toml:"model"`
	RefreshMinutes      *int                   `toml:"refresh_minutes"`
}

type tomlArea struct {
	Name                string                 `toml:"name"`
	Locations           []string               `toml:"locations"`
	Lang                string                 `toml:"lang"`
	TranslationLang     string                 `toml:"translation_lang"`
	TranslationLanguage string                 `toml:"translation_language"`
	ExtraContext        string                 `toml:"extra_context"`
	Mode                string                 `toml:"mode"`
	Units               map[string]interface{} `toml:"units"`
	SnowLevels          *bool                  `toml:"snow_levels"`
	Model               string                 `toml:"model"`
	RefreshMinutes      *int                   `toml:"refresh_minutes"`
}

// tomlForecastConfig is the root document. "ensemble_model" is a legacy
// alias for "model"; "recent_overwrite_minutes" for "refresh_minutes".
type tomlForecastConfig struct {
	Locations []tomlLocation         `toml:"locations"`
	Areas     []tomlArea             `toml:"areas"`
	Units     map[string]interface{} `toml:"units"`
	WebRoot   string                 `toml:"web_root"`

	LocationForecastDays int `toml:"location_forecast_days"`
	AreaForecastDays     int `toml:"area_forecast_days"`

	LocationWordiness string `toml:"location_wordiness"`
	AreaWordiness     string `toml:"area_wordiness"`

	EnableReasoning   *bool  `toml:"enable_reasoning"`
	LocationReasoning string `toml:"location_reasoning"`
	AreaReasoning     string `toml:"area_reasoning"`

	LocationImpactBased bool `toml:"location_impact_based"`
	AreaImpactBased     bool `toml:"area_impact_based"`

	LocationThinSelect int `toml:"location_thin_select"`
	AreaThinSelect     int `toml:"area_thin_select"`

	LLM            string `toml:"llm"`
	ContextLLM     string `toml:"context_llm"`
	TranslationLLM string `toml:"translation_llm"`

	TranslationLanguage string `toml:"translation_language"`
	TranslationLang     string `toml:"translation_lang"`

	RefreshMinutes         int `toml:"refresh_minutes"`
	RecentOverwriteMinutes int `toml:"recent_overwrite_minutes"`

	SnowLevels bool `toml:"snow_levels"`

	Model         string `toml:"model"`
	EnsembleModel string `toml:"ensemble_model"`
}

// LoadForecastConfig reads, validates, and normalizes the TOML forecast
// configuration.
//
// Parameters:
//   - path: Configuration file path
//
// Returns:
//   - *domain.ForecastConfig: Immutable validated configuration
//   - error: Config error describing the first problem found
func LoadForecastConfig(path string) (*domain.ForecastConfig, error) {
	data, err := os.ReadFile(path)

	if err != nil {
		return nil, domain.NewConfigError(fmt.Sprintf("unable to read configuration file %s", path), err)
	}

	return ParseForecastConfig(data)
}

// ParseForecastConfig validates a raw TOML document.
func ParseForecastConfig(data []byte) (*domain.ForecastConfig, error) {
	var raw tomlForecastConfig

	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&raw); err != nil {
		return nil, domain.NewConfigError("invalid TOML configuration", err)
	}

	cfg := &domain.ForecastConfig{
		WebRoot:              raw.WebRoot,
		Units:                parseUnits(raw.Units),
		LocationForecastDays: defaultDays(raw.LocationForecastDays),
		AreaForecastDays:     raw.AreaForecastDays,
		LocationWordiness:    domain.Wordiness(strings.ToLower(raw.LocationWordiness)),
		AreaWordiness:        domain.Wordiness(strings.ToLower(raw.AreaWordiness)),
		EnableReasoning:      raw.EnableReasoning == nil || *raw.EnableReasoning,
		LocationReasoning:    raw.LocationReasoning,
		AreaReasoning:        raw.AreaReasoning,
		LocationImpactBased:  raw.LocationImpactBased,
		AreaImpactBased:      raw.AreaImpactBased,
		LocationThinSelect:   raw.LocationThinSelect,
		AreaThinSelect:       raw.AreaThinSelect,
		LLM:                  raw.LLM,
		ContextLLM:           raw.ContextLLM,
		TranslationLLM:       raw.TranslationLLM,
		TranslationLanguage:  firstNonEmpty(raw.TranslationLanguage, raw.TranslationLang),
		RefreshMinutes:       maxInt(raw.RefreshMinutes, raw.RecentOverwriteMinutes),
		SnowLevels:           raw.SnowLevels,
		Model:                firstNonEmpty(raw.Model, raw.EnsembleModel),
	}

	if cfg.AreaForecastDays == 0 {
		cfg.AreaForecastDays = cfg.LocationForecastDays
	}

	if err := validateWordiness(cfg.LocationWordiness, "location_wordiness"); err != nil {
		return nil, err
	}

	if err := validateWordiness(cfg.AreaWordiness, "area_wordiness"); err != nil {
		return nil, err
	}

	if err := validateContextLLM(cfg.ContextLLM); err != nil {
		return nil, err
	}

	if _, err := domain.ParseModelSpec(cfg.Model); err != nil {
		return nil, err
	}

	// Duplicate location names are allowed (deterministic/ensemble pairs);
	// the executor disambiguates display names.
	for _, loc := range raw.Locations {
		if strings.TrimSpace(loc.Name) == "" {
			return nil, domain.NewConfigError("location with empty name", nil)
		}

		if _, err := domain.ParseModelSpec(loc.Model); err != nil {
			return nil, err
		}

		cfg.Locations = append(cfg.Locations, domain.LocationEntry{
			Name:                loc.Name,
			TranslationLanguage: firstNonEmpty(loc.TranslationLanguage, loc.TranslationLang, loc.Lang),
			ExtraContext:        loc.ExtraContext,
			Units:               parseUnits(loc.Units),
			Model:               loc.Model,
			SnowLevels:          loc.SnowLevels,
			RefreshMinutes:      loc.RefreshMinutes,
		})
	}

	for _, area := range raw.Areas {
		if strings.TrimSpace(area.Name) == "" {
			return nil, domain.NewConfigError("area with empty name", nil)
		}

		if len(area.Locations) == 0 {
			return nil, domain.NewConfigError(fmt.Sprintf("area %q has no member locations", area.Name), nil)
		}

		mode := domain.AreaMode(strings.ToLower(area.Mode))

		if mode == "" {
			mode = domain.AreaModeSummary
		}

		if mode != domain.AreaModeSummary && mode != domain.AreaModeRegional {
			return nil, domain.NewConfigError(fmt.Sprintf("area %q has invalid mode %q", area.Name, area.Mode), nil)
		}

		if _, err := domain.ParseModelSpec(area.Model); err != nil {
			return nil, err
		}

		cfg.Areas = append(cfg.Areas, domain.AreaEntry{
			Name:                area.Name,
			Locations:           area.Locations,
			TranslationLanguage: firstNonEmpty(area.TranslationLanguage, area.TranslationLang, area.Lang),
			ExtraContext:        area.ExtraContext,
			Units:               parseUnits(area.Units),
			Model:               area.Model,
			SnowLevels:          area.SnowLevels,
			RefreshMinutes:      area.RefreshMinutes,
			Mode:                mode,
		})
	}

	cfg.ConfigHash = hashConfig(cfg)

	return cfg, nil
}

// parseUnits maps the TOML units table to domain units. Both the short keys
// ("temperature") and the legacy "_unit"-suffixed keys are accepted, and any
// unit value may carry a bracketed secondary in the form "primary (secondary)".
// "altitude_m" sets the station altitude override in meters.
func parseUnits(raw map[string]interface{}) domain.Units {
	get := func(keys ...string) string {
		for _, key := range keys {
			if v, ok := raw[key].(string); ok {
				return strings.ToLower(strings.TrimSpace(v))
			}
		}

		return ""
	}

	units := domain.Units{AltitudeM: parseAltitude(raw["altitude_m"])}

	units.Temperature, units.TemperatureSecondary = splitUnit(get("temperature", "temperature_unit"))
	units.Precipitation, units.PrecipitationSecondary = splitUnit(get("precipitation", "precipitation_unit"))
	units.Snowfall, units.SnowfallSecondary = splitUnit(get("snowfall", "snowfall_unit"))

	windPrimary, windSecondary := splitUnit(get("windspeed", "windspeed_unit", "wind_speed"))
	units.WindSpeed = normalizeWindUnit(windPrimary)
	units.WindSpeedSecondary = normalizeWindUnit(windSecondary)

	return units
}

// splitUnit separates the dual "primary (secondary)" syntax; plain values
// come back with an empty secondary.
func splitUnit(value string) (string, string) {
	open := strings.Index(value, "(")

	if open < 0 || !strings.HasSuffix(value, ")") {
		return value, ""
	}

	primary := strings.TrimSpace(value[:open])
	secondary := strings.TrimSpace(value[open+1 : len(value)-1])

	return primary, secondary
}

// parseAltitude accepts the TOML number forms plus a numeric string.
func parseAltitude(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)

		if err != nil {
			return 0
		}

		return parsed
	default:
		return 0
	}
}

func normalizeWindUnit(unit string) string {
	switch unit {
	case "kph", "km/h":
		return "kmh"
	case "m/s", "mps":
		return "ms"
	case "kt", "knots":
		return "kn"
	default:
		return unit
	}
}

func validateWordiness(w domain.Wordiness, field string) error {
	switch w {
	case "", domain.WordinessBrief, domain.WordinessNormal, domain.WordinessDetailed:
		return nil
	default:
		return domain.NewConfigError(fmt.Sprintf("%s must be brief, normal, or detailed (got %q)", field, w), nil)
	}
}

// validateContextLLM rejects providers that cannot do web search. The
// impact-context subsystem supports only the OpenAI and Gemini families.
func validateContextLLM(model string) error {
	if model == "" {
		return nil
	}

	if strings.HasPrefix(model, "or:") {
		return domain.NewConfigError("context_llm cannot be an OpenRouter model; web search requires OpenAI or Gemini", nil)
	}

	return nil
}

// hashConfig produces the deterministic sha256 of the normalized config,
// used to detect changes for incremental site regeneration.
func hashConfig(cfg *domain.ForecastConfig) string {
	clone := *cfg
	clone.ConfigHash = ""

	blob, _ := json.Marshal(clone)
	sum := sha256.Sum256(blob)

	return hex.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}

func defaultDays(days int) int {
	if days <= 0 {
		return 4
	}

	return days
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}

	return b
}
