package domain

import "time"

// RawForecast is a validated NWP payload as returned by the provider. Hourly
// arrays are aligned with Hourly["time"]; ensemble member variables carry a
// "_memberNN" suffix.
type RawForecast struct {
	// Hourly maps variable name to its aligned value array. Missing samples
	// are nil entries.
	Hourly map[string][]*float64 `json:"hourly"`

	// Times are the parsed ISO timestamps from hourly.time.
	Times []string `json:"time"`

	// HourlyUnits maps variable name to the unit string the provider used.
	HourlyUnits map[string]string `json:"hourly_units"`

	// Elevation is the model surface elevation in meters.
	Elevation float64 `json:"elevation"`
}

// MemberRecord is one member's normalized state for a single hour. All values
// are internal standard units: °C, mm, cm, kph, meters.
type MemberRecord struct {
	Temperature   float64
	Precipitation float64
	Snowfall      float64

	// Weather is the decoded WMO description; unknown codes decode to
	// "unknown".
	Weather     string
	WeatherCode int

	CloudCover int

	// WindDirection is the 8-wind compass word (e.g. "southwesterly").
	WindDirection string
	WindSpeed     float64
	WindGust      float64

	// SnowLevel is meters above mean sea level, nil when not derivable.
	SnowLevel *float64

	// PrecipProbability is 0–100 when the model supplies it, nil otherwise.
	PrecipProbability *int
}

// HourForecast maps member id ("member00", "member01", …) to that member's
// record for one local hour.
type HourForecast struct {
	// Hour is the local hour key, "HH:00".
	Hour string

	Members map[string]MemberRecord
}

// DayForecast is one local calendar day of the processed dataset.
type DayForecast struct {
	// Date is midnight local time of the day.
	Date time.Time

	Year  int
	Month int
	Day   int

	// Label is the human day-of-week phrase relative to now, e.g.
	// "Rest of today, Friday" or "Tomorrow, Saturday".
	Label string

	Hours []HourForecast
}

// ProcessedDataset is the normalized day/hour/member pivot consumed by
// thinning and formatting. Every day has at least one hour; every member
// present in one hour of a day is present in the others when the provider
// supplied data.
type ProcessedDataset struct {
	Days []DayForecast

	// Members are the member ids present, member00 first.
	Members []string

	// StationAltitude is the model elevation in meters.
	StationAltitude float64
}

// MemberIDs returns the sorted member ids found in the dataset with member00
// first when present.
func (d *ProcessedDataset) MemberIDs() []string {
	return d.Members
}

// GeocodeResult is a resolved location.
type GeocodeResult struct {
	// Name is the formatted display name of the location.
	Name string `json:"name"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Timezone is an IANA identifier such as "Pacific/Auckland".
	Timezone string `json:"timezone"`

	// CountryCode is ISO 3166-1 alpha-2 when known.
	CountryCode string `json:"country_code,omitempty"`

	// Altitude is meters above sea level when known.
	Altitude *float64 `json:"altitude,omitempty"`
}

// AlertSummary is a normalized severe-weather alert from any upstream source.
type AlertSummary struct {
	Title       string
	Description string
	Severity    string

	// Source names the issuing service ("NWS", "MetService", "OpenWeatherMap").
	Source string

	// Onset and Expiry are ISO-8601 strings as issued upstream. Alerts with a
	// missing or past expiry relative to the earliest forecast day are
	// discarded before formatting.
	Onset  string
	Expiry string
}

// Active reports whether the alert expires after the reference time. Alerts
// without a parseable expiry are treated as inactive.
func (a AlertSummary) Active(ref time.Time) bool {
	if a.Expiry == "" {
		return false
	}

	expiry, err := time.Parse(time.RFC3339, a.Expiry)

	if err != nil {
		return false
	}

	return expiry.After(ref)
}
