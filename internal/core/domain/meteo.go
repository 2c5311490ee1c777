package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// wmoDescriptions decodes WMO weather interpretation codes into the short
// phrases used in the dataset text.
var wmoDescriptions = map[int]string{
	0:  "clear sky",
	1:  "mainly clear",
	2:  "partly cloudy",
	3:  "overcast",
	45: "fog",
	48: "depositing rime fog",
	51: "light rain",
	53: "moderate rain",
	55: "moderate rain",
	56: "light freezing drizzle",
	57: "dense freezing drizzle",
	61: "light rain",
	63: "moderate rain",
	65: "heavy rain",
	66: "light freezing rain",
	67: "heavy freezing rain",
	71: "light snow",
	73: "moderate snow",
	75: "heavy snow",
	77: "snow grains",
	80: "light rain showers",
	81: "moderate rain showers",
	82: "heavy rain showers",
	85: "light snow showers",
	86: "heavy snow showers",
	95: "thunderstorm",
	96: "thunderstorm with slight hail",
	99: "thunderstorm with heavy hail",
}

// frozenPhaseCodes are codes that already describe snow or freezing
// precipitation; snow-level diagnostics are skipped for them.
var frozenPhaseCodes = map[int]bool{
	56: true, 57: true, 66: true, 67: true,
	71: true, 73: true, 75: true, 77: true,
	85: true, 86: true,
}

// WMOWeather decodes a WMO code into its description, or "unknown" for codes
// outside the table.
func WMOWeather(code int) string {
	if desc, ok := wmoDescriptions[code]; ok {
		return desc
	}

	return "unknown"
}

// IsFrozenPhaseCode reports whether the code already names a snow or freezing
// phenomenon.
func IsFrozenPhaseCode(code int) bool {
	return frozenPhaseCodes[code]
}

var compassWords = [8]string{
	"northerly",
	"northeasterly",
	"easterly",
	"southeasterly",
	"southerly",
	"southwesterly",
	"westerly",
	"northwesterly",
}

// DegreesToCompass converts a wind bearing into the 8-wind compass word.
// NaN or infinite bearings return "variable".
func DegreesToCompass(degrees float64) string {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return "variable"
	}

	index := int((degrees+22.5)/45) % 8

	if index < 0 {
		index += 8
	}

	return compassWords[index]
}

// RoundWindSpeed rounds a wind speed for display: to the nearest 10 for
// km/h, the nearest 5 for mph/knots/m/s. A nonzero speed never rounds to
// zero.
//
// Parameters:
//   - speed: Wind speed in the display unit
//   - unit: Display unit ("kmh", "kph", "mph", "kn", "ms")
//
// Returns:
//   - int: Rounded display speed
func RoundWindSpeed(speed float64, unit string) int {
	if math.IsNaN(speed) {
		return 0
	}

	var nearest float64

	switch strings.ToLower(unit) {
	case "kph", "kmh":
		nearest = 10
	case "mph", "kt", "kts", "kn", "ms", "mps":
		nearest = 5
	default:
		return int(math.Round(speed))
	}

	rounded := int(nearest * math.Round(speed/nearest))

	if rounded == 0 && speed > 0 {
		value := int(math.Round(speed))

		if value < 1 {
			value = 1
		}

		return value
	}

	return rounded
}

// RelativeHumidity computes RH percent from temperature and dewpoint using
// the August–Roche–Magnus approximation.
func RelativeHumidity(tempC, dewpointC float64) float64 {
	if math.IsNaN(tempC) || math.IsNaN(dewpointC) {
		return math.NaN()
	}

	const (
		a = 17.27
		b = 237.7
	)

	esT := 611.2 * math.Exp((a*tempC)/(b+tempC))
	esTd := 611.2 * math.Exp((a*dewpointC)/(b+dewpointC))

	if esT == 0 {
		return 0
	}

	return (esTd / esT) * 100.0
}

// HourToAmPm converts an "HH:00" local hour key into the display form used in
// hourly lines: "midnight", "noon", "9am", "3pm".
func HourToAmPm(hour string) string {
	parts := strings.SplitN(hour, ":", 2)
	value, err := strconv.Atoi(parts[0])

	if err != nil || value < 0 || value > 23 {
		return hour
	}

	switch {
	case value == 0:
		return "midnight"
	case value == 12:
		return "noon"
	case value < 12:
		return fmt.Sprintf("%dam", value)
	default:
		return fmt.Sprintf("%dpm", value-12)
	}
}

// Unit conversions. The provider is always asked for °C / mm / kph; these
// convert internal values to display units.

// CelsiusTo converts an internal temperature to the display unit.
func CelsiusTo(tempC float64, unit string) float64 {
	if strings.HasPrefix(strings.ToLower(unit), "fahrenheit") || strings.EqualFold(unit, "f") {
		return tempC*9/5 + 32
	}

	return tempC
}

// MillimetersTo converts an internal precipitation amount to the display unit.
func MillimetersTo(mm float64, unit string) float64 {
	if strings.EqualFold(unit, "inch") || strings.EqualFold(unit, "in") {
		return mm / 25.4
	}

	return mm
}

// CentimetersTo converts an internal snowfall amount to the display unit.
func CentimetersTo(cm float64, unit string) float64 {
	if strings.EqualFold(unit, "inch") || strings.EqualFold(unit, "in") {
		return cm / 2.54
	}

	return cm
}

// KphTo converts an internal wind speed to the display unit.
func KphTo(kph float64, unit string) float64 {
	switch strings.ToLower(unit) {
	case "mph":
		return kph / 1.609344
	case "ms", "mps":
		return kph / 3.6
	case "kn", "kt", "kts":
		return kph / 1.852
	default:
		return kph
	}
}

// MetersTo converts a length to feet when the display is imperial.
func MetersTo(meters float64, imperial bool) float64 {
	if imperial {
		return meters * 3.28084
	}

	return meters
}
