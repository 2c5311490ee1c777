package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

const spotSystemPromptTemplate = `
You are an expert meteorologist, skilled in evaluating and summarizing weather model information in terms of generally expected forecast conditions for a location, along with important forecast uncertainties or confidence.

#USE THE FORECAST DATA
You have been provided below with forecast data representing a range of possibilities due to inherent uncertainty in weather prediction for the exact same location. These are not forecasts for different geographic areas but different possible weather outcomes for the same location. Avoid any phrasing that could be interpreted as referring to geographic or area-specific variations. For instance, don't say "locally heavy" or "scattered showers" or "about the coast" or "in some areas".

#FORECAST DAYS
Always refer to the date and specific day of the week exactly as mentioned in the data. This should be written as bold text at the start of a new paragraph .. for example, "**Rest of Today, 10 January:**" or "**Friday, 12 January:**" .. followed immediately by the forecast text in the same paragraph. Use all the available days provided in the data.

#STYLE
- Use simple language that a 12-year-old would understand
- Always write the forecast for each day in a new paragraph as one piece of text
- Never use bullet points for the forecast
- AVOID the word 'forecasted'
- Write the forecast in an authoritative and friendly radio style, but strictly avoid conversational greetings
- Be reasonably concise. Focus on the most impactful weather information, likely conditions, and significant uncertainties or variations.
- Do not use exclamation points
- Never add sentences whose only purpose is to say that impacts will NOT happen (e.g., "no flooding expected"). Focus on actual hazards, meaningful uncertainties, or confidence statements instead.

#OUTPUT
Describe the most likely conditions and also mention important alternative outcomes using natural language of likelihood or risk. Never imply spatial variation (e.g., do not say "in places").
- For winds, use direction words (e.g., "southwesterlies") rather than compass abbreviations, and include a speed range in the required units.

#RANGE SUMMARY
- Always use the RANGE SUMMARY information when stating low/high temperatures and precipitation or snowfall ranges.
- ALWAYS refer to temperatures as **low** and **high**; never use the plural words "highs" or "lows".

#FORMAT FOR A DAY
- Each day must start with the bolded header followed by the forecast in the same paragraph.
- Include weather conditions, timing of any precipitation (morning/afternoon/evening/night), at least one wind direction with speed, and both the low and high temperatures using the specified units.
- Use future tense for temperatures ("the low will be...", "the high is expected near...").
- For partial days (e.g., "Rest of Today"), describe only the remaining part of the day and keep it very brief if only 1-2 hours remain.
- When very little of the day remains (for example "Rest of Today" issued late afternoon/evening), describe how temperatures will trend (e.g., "temperatures fall from 18°C early evening to about 13°C overnight") instead of quoting a formal low/high pair.

#ALERTS
- If any alerts are provided, explicitly work each one into the relevant day's paragraph. State the official source exactly as provided (e.g., MetService) along with the alert title and hazard.
- Highlight the alert impact (timing, area, severity, upgrade potential) so it is prominent rather than a passing mention.
- Only include alerts if they are present in the input data; never mention that there are no alerts.

#UNITS
Temperature: %s
Rainfall: %s
Snowfall: %s
Wind Speed: %s
- When showing bracketed secondary units, round sensibly (e.g., mm/cm to whole numbers; inches to one decimal; wind speeds to nearest whole unit).
`

const areaSystemPromptTemplate = `
You are an expert regional meteorologist, skilled in synthesizing weather information from multiple representative locations into a coherent forecast for a broader area.

#USE THE FORECAST DATA
You will receive forecast datasets for several locations inside the target area. Each dataset represents the range of possible conditions for that specific spot. Your job is to integrate this information into a single forecast for the entire area mentioned in the user instructions.

#OUTPUT STRUCTURE
- Write the forecast day by day. Start every paragraph with the bolded date/day exactly as written in the data (e.g., "**MONDAY 12 AUGUST:**").
- Within each day, describe the most likely conditions across the whole area, highlighting important geographical variations and uncertainties.
- Never list the locations individually; refer to broader regional descriptors (e.g., "northern districts", "coastal areas", "the Midlands").
- Keep the style authoritative, radio-ready, and free of greetings or sign-offs. No bullet points.

#STYLE & CONTENT
- Use simple, clear language that a 12-year-old could understand.
- Mention precipitation timing, type, and the likely range of amounts when wet weather is expected.
- Always describe at least one wind direction and speed range using the required unit, and spell out the direction (e.g., "southwesterlies") instead of abbreviations.
- Always mention both the low and high temperatures using the required unit, never the plural words "highs" or "lows".
- Discuss uncertainty or alternative outcomes using natural phrasing like "risk of" or "could".
- When alerts are provided, include each one prominently in the relevant day's text, citing the official source name and alert title while summarizing timing and hazard details.
- Only include alerts if provided; never state that no alerts exist.
- Do not add sentences that merely say impacts will not happen; focus on actual hazards, meaningful risks, and relevant confidence notes.

#UNITS
Temperature: %s
Rainfall: %s
Snowfall: %s
Wind Speed: %s

- Do not convert to other units beyond the optional bracketed secondary values described above.
- Ensure precipitation and snowfall amounts include a space before the unit (e.g., "10 mm").
- When showing bracketed secondary units, round sensibly (mm/cm to whole numbers; inches to one decimal; wind speeds to nearest whole unit).
- Do not invent extra precision beyond the dataset; keep secondary units concise.
`

const regionalSystemPromptTemplate = `
You are an expert regional meteorologist. Use the supplied representative location datasets to produce a forecast that is explicitly broken down by sub-regions inside the named area.

#OUTPUT STRUCTURE
- For each day, start with the bolded date/day string exactly as provided (e.g., "**MONDAY 12 AUGUST:**").
- After the day header, write one paragraph per sub-region. Begin each paragraph with the bolded region name followed by a colon (e.g., "**South West England:** ...").
- Describe weather, wind (with speed range), precipitation timing/amounts, and temperature low/high for each region using the required units. Use natural language to discuss uncertainty ("risk of", "could", "may").
- Do not list the raw input locations; infer region names from geography (coastal, inland, north, etc.) or well-known meteorological districts.
- Keep the tone authoritative and concise. No bullet points, greetings, or closing remarks.
- When alerts are available, weave them into the appropriate region/day paragraphs, calling out the official source name and alert title with clear timing and hazard detail so the alert stands out.
- Do not include sentences that merely state the absence of impacts; concentrate on real or plausible hazards and meaningful uncertainty.

#UNITS
Temperature: %s
Rainfall: %s
Snowfall: %s
Wind Speed: %s

Only include alerts if present in the data, and never state that no alerts exist.
- When showing bracketed secondary units, round sensibly (mm/cm to whole numbers; inches to one decimal; wind speeds to nearest whole unit).
`

const translationSystemPromptTemplate = `
You are an expert translator specializing in meteorological texts. Translate the entire English forecast into %s, preserving structure, section headers, blank lines, and all numbers/units exactly as provided.

Rules:
- Translate every header (e.g., "**REST OF TODAY, 10 JANUARY:**") into the target language.
- Translate every paragraph; do not skip any content.
- Keep the same number of sections and blank lines.
- Preserve formatting markers such as **bold**.
- Do not add commentary or explanations.
- Output only the translated forecast.
`

// SpotSystemPrompt builds the system prompt for a single location forecast.
//
// Parameters:
//   - units: Display units for the narrative
//
// Returns:
//   - string: Fully rendered system prompt
func SpotSystemPrompt(units domain.Units) string {
	return renderSystemPrompt(spotSystemPromptTemplate, units)
}

// AreaSystemPrompt builds the system prompt for aggregated area forecasts.
func AreaSystemPrompt(units domain.Units) string {
	return renderSystemPrompt(areaSystemPromptTemplate, units)
}

// RegionalSystemPrompt builds the system prompt for forecasts broken down by
// sub-regions inside the named area.
func RegionalSystemPrompt(units domain.Units) string {
	return renderSystemPrompt(regionalSystemPromptTemplate, units)
}

// TranslationSystemPrompt returns the translation system prompt for the
// requested target language.
func TranslationSystemPrompt(targetLanguage string) string {
	return fmt.Sprintf(translationSystemPromptTemplate, targetLanguage)
}

// TranslationUserPrompt wraps the raw forecast in a translation instruction.
func TranslationUserPrompt(forecastText string) string {
	return "Translate the following forecast:\n\n" + forecastText
}

func renderSystemPrompt(template string, units domain.Units) string {
	return fmt.Sprintf(template,
		unitInstruction(units.Temperature, units.TemperatureSecondary, temperatureUnitLabel),
		unitInstruction(units.Precipitation, units.PrecipitationSecondary, precipitationUnitLabel),
		unitInstruction(snowfallUnit(units), units.SnowfallSecondary, snowfallUnitLabel),
		unitInstruction(units.WindSpeed, units.WindSpeedSecondary, windSpeedUnitLabel),
	)
}

// unitInstruction renders one #UNITS line; a secondary unit asks the model
// for a bracketed conversion after each value.
func unitInstruction(primary, secondary string, label func(string) string) string {
	if secondary == "" {
		return label(primary)
	}

	return fmt.Sprintf("%s, with %s shown in brackets after each value", label(primary), label(secondary))
}

func temperatureUnitLabel(unit string) string {
	if unit == "fahrenheit" {
		return "Degrees Fahrenheit (°F)"
	}

	return "Degrees Celsius (°C)"
}

func precipitationUnitLabel(unit string) string {
	if unit == "inch" {
		return "Inches (in)"
	}

	return "Millimeters (mm)"
}

func snowfallUnitLabel(unit string) string {
	if unit == "inch" || unit == "in" {
		return "Inches (in)"
	}

	return "Centimeters (cm)"
}

func windSpeedUnitLabel(unit string) string {
	switch unit {
	case "mph":
		return "mph"
	case "ms":
		return "m/s"
	case "kn":
		return "kt"
	default:
		return "km/h"
	}
}

// SpotPromptInputs carries the variable parameters for a single location
// user prompt.
type SpotPromptInputs struct {
	Dataset                string
	LocationName           string
	Latitude               float64
	Longitude              float64
	Season                 string
	Wordiness              domain.Wordiness
	ShortPeriodInstruction string
	ImpactInstruction      string
	ImpactContext          string
}

// SpotUserPrompt composes the user prompt sent alongside the formatted
// dataset for a single location.
func SpotUserPrompt(in SpotPromptInputs) string {
	detail := detailInstruction(in.Wordiness, map[domain.Wordiness]string{
		domain.WordinessDetailed: "Write a very detailed forecast for every day provided.",
		domain.WordinessBrief:    "Write an extremely brief forecast with just the essential details.",
	}, "Write a succinct forecast.")

	return fmt.Sprintf(`Write a weather forecast in a friendly and authoritative style, based only on the following information. Write only the forecast, not your instructions.

%s
<END>

--- VARIABLE PARAMETERS ---
Detail level: %s
%s
Location: %s at latitude %.4f and longitude %.4f
Season: %s
%s
`,
		in.Dataset,
		detail,
		joinInstructions(in.ShortPeriodInstruction, in.ImpactInstruction),
		in.LocationName, in.Latitude, in.Longitude,
		in.Season,
		contextBlock(in.ImpactContext),
	)
}

// AreaPromptInputs carries the variable parameters shared by the area and
// regional user prompts.
type AreaPromptInputs struct {
	Dataset                string
	AreaName               string
	LocationNames          []string
	Wordiness              domain.Wordiness
	ShortPeriodInstruction string
	ImpactInstruction      string
	ImpactContext          string
}

// AreaUserPrompt composes the user prompt that instructs the model to write
// a single synthesized forecast for the whole area.
func AreaUserPrompt(in AreaPromptInputs) string {
	detail := detailInstruction(in.Wordiness, map[domain.Wordiness]string{
		domain.WordinessDetailed: "Write an extremely detailed area forecast summarizing all representative locations.",
		domain.WordinessBrief:    "Write a very concise area forecast focusing on the essentials.",
	}, "Write a succinct, authoritative area forecast.")

	return fmt.Sprintf(`Synthesize a day-by-day weather forecast for the entire area named %q. Use only the data below.

Representative locations: %s

%s
<END>

--- VARIABLE PARAMETERS ---
Detail level: %s
%s
Area: %s
%s
`,
		in.AreaName,
		locationsLine(in.LocationNames),
		in.Dataset,
		detail,
		joinInstructions(in.ShortPeriodInstruction, in.ImpactInstruction),
		in.AreaName,
		contextBlock(in.ImpactContext),
	)
}

// RegionalUserPrompt composes the user prompt for forecasts with explicit
// sub-regional breakdowns.
func RegionalUserPrompt(in AreaPromptInputs) string {
	detail := detailInstruction(in.Wordiness, map[domain.Wordiness]string{
		domain.WordinessDetailed: "Write an extremely detailed regional breakdown referencing every representative sub-region.",
		domain.WordinessBrief:    "Write a concise regional breakdown highlighting only the key impacts.",
	}, "Write a succinct regional breakdown.")

	return fmt.Sprintf(`Produce a day-by-day regional breakdown forecast for %q. Use only the data below.

Representative locations: %s

%s
<END>

--- VARIABLE PARAMETERS ---
Detail level: %s
%s
Area: %s
Important: Identify sensible sub-regions (e.g., north vs south, inland vs coastal, official forecast districts) implied by the representative locations, and write one paragraph per region for each day.
%s
`,
		in.AreaName,
		locationsLine(in.LocationNames),
		in.Dataset,
		detail,
		joinInstructions(in.ShortPeriodInstruction, in.ImpactInstruction),
		in.AreaName,
		contextBlock(in.ImpactContext),
	)
}

func detailInstruction(w domain.Wordiness, overrides map[domain.Wordiness]string, fallback string) string {
	if instruction, ok := overrides[w]; ok {
		return instruction
	}

	return fallback
}

func joinInstructions(instructions ...string) string {
	var kept []string

	for _, instruction := range instructions {
		if instruction != "" {
			kept = append(kept, instruction)
		}
	}

	return strings.Join(kept, "\n")
}

func contextBlock(impactContext string) string {
	if strings.TrimSpace(impactContext) == "" {
		return ""
	}

	return "\n\nADDITIONAL CONTEXT:\n" + strings.TrimSpace(impactContext) + "\n"
}

func locationsLine(names []string) string {
	if len(names) == 0 {
		return "not specified"
	}

	return strings.Join(names, ", ")
}

// AreaLocationBlock is one representative location's contribution to the
// combined area dataset text.
type AreaLocationBlock struct {
	Name      string
	Latitude  float64
	Longitude float64
	Timezone  string
	Text      string
}

// FormatAreaDataset combines multiple location datasets into a single
// area-level text block consumed by the area and regional prompts.
//
// Parameters:
//   - areaName: Display name of the area
//   - locations: Representative location blocks in configuration order
//
// Returns:
//   - string: Combined text block, empty when no locations are given
func FormatAreaDataset(areaName string, locations []AreaLocationBlock) string {
	if len(locations) == 0 {
		return ""
	}

	parts := []string{
		"AREA CONTEXT: " + areaName,
		"Each block below is the processed dataset for a representative location.",
	}

	for _, loc := range locations {
		name := loc.Name

		if name == "" {
			name = "Unknown Location"
		}

		tz := loc.Timezone

		if tz == "" {
			tz = "UTC"
		}

		header := fmt.Sprintf("### LOCATION: %s (%.4f, %.4f) — Timezone: %s",
			name, loc.Latitude, loc.Longitude, tz)

		parts = append(parts, header)

		if text := strings.TrimSpace(loc.Text); text != "" {
			parts = append(parts, text)
		}

		parts = append(parts, "<END LOCATION>")
	}

	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// ShortPeriodInstruction returns a reminder for the model when the first
// forecast period only covers the final stretch of the current day.
//
// The instruction escalates after 22:00 local time, when at most an hour or
// two of the day remains.
func ShortPeriodInstruction(dataset *domain.ProcessedDataset, timezone string, clock clockwork.Clock) string {
	if dataset == nil || len(dataset.Days) == 0 {
		return ""
	}

	label := strings.ToUpper(dataset.Days[0].Label)

	if !strings.Contains(label, "REST OF") && !strings.Contains(label, "THIS EVENING") {
		return ""
	}

	loc, err := time.LoadLocation(timezone)

	if err != nil {
		loc = time.UTC
	}

	switch hour := clock.Now().In(loc).Hour(); {
	case hour >= 22:
		return "CRITICAL: The first forecast period covers only the last 1-2 hours of the day. " +
			"Be extremely brief (1-2 sentences), focus only on immediate conditions, and describe temperatures as a short-term trend instead of quoting full low/high values."
	case hour >= 15:
		return "IMPORTANT: The first forecast period only covers the remainder of today. " +
			"Describe how temperatures change through the rest of the day (e.g., 'temperatures drop from 18°C early evening to 13°C by midnight') instead of quoting a separate low/high pair."
	default:
		return ""
	}
}

// ImpactInstruction returns the impact-forecast instruction block when
// impact context is enabled for the entity.
func ImpactInstruction(enabled bool) string {
	if !enabled {
		return ""
	}

	return "This is an impact-based forecast. Use any additional context to explain vulnerabilities, " +
		"upcoming events, or thresholds only when the forecast meets or exceeds them. " +
		"If conditions stay below thresholds, omit references to those impacts."
}

// CurrentSeason infers the meteorological season from the calendar month
// and the hemisphere of the given latitude.
func CurrentSeason(latitude float64, clock clockwork.Clock) string {
	north := latitude >= 0

	switch clock.Now().Month() {
	case time.March, time.April, time.May:
		if north {
			return "Spring"
		}

		return "Autumn"
	case time.June, time.July, time.August:
		if north {
			return "Summer"
		}

		return "Winter"
	case time.September, time.October, time.November:
		if north {
			return "Autumn"
		}

		return "Spring"
	default:
		if north {
			return "Winter"
		}

		return "Summer"
	}
}
