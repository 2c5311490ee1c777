package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

func formatterFixture(memberPrecip map[string]float64) *domain.ProcessedDataset {
	dataset := &domain.ProcessedDataset{StationAltitude: 300}

	day := domain.DayForecast{
		Date:  time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC),
		Year:  2025,
		Month: 1,
		Day:   9,
		Label: "Tomorrow, Thursday",
	}

	ids := make([]string, 0, len(memberPrecip))

	for id := range memberPrecip {
		ids = append(ids, id)
	}

	sortMembersCanonical(ids)
	dataset.Members = ids

	for _, hourKey := range []string{"09:00", "15:00"} {
		hour := domain.HourForecast{Hour: hourKey, Members: map[string]domain.MemberRecord{}}

		for id, precip := range memberPrecip {
			hour.Members[id] = domain.MemberRecord{
				Temperature:   8,
				Precipitation: precip / 2, // two hours sum to the daily total
				Weather:       "light rain",
				WeatherCode:   61,
				CloudCover:    75,
				WindDirection: "southwesterly",
				WindSpeed:     22,
				WindGust:      40,
			}
		}

		day.Hours = append(day.Hours, hour)
	}

	dataset.Days = []domain.DayForecast{day}

	return dataset
}

func TestFormatDataset_DeterministicSingleMember(t *testing.T) {
	dataset := formatterFixture(map[string]float64{"member00": 2})

	text := FormatDataset(dataset, nil, FormatOptions{Units: domain.DefaultUnits(), Timezone: "UTC"})

	assert.Contains(t, text, "Date: THURSDAY 9 JANUARY")
	assert.NotContains(t, text, "Scenario")
	assert.NotContains(t, text, "RANGE SUMMARY")

	// Hourly line shape: ampm, temp, weather, rate, cloud cover, wind.
	assert.Contains(t, text, "9am 8° Light rain 1 mm/h cc75 southwesterly 20 gust 40")
	assert.Contains(t, text, "3pm 8°")
	assert.Contains(t, text, " Low 8°C, High 8°C")
	assert.Contains(t, text, " Total rainfall: 2 mm.")
}

func TestFormatDataset_EnsembleScenariosAndRangeSummary(t *testing.T) {
	dataset := formatterFixture(map[string]float64{
		"member00": 0.2, "member01": 0.3, "member02": 0.4, "member03": 0.8, "member04": 0.9,
	})

	text := FormatDataset(dataset, nil, FormatOptions{Units: domain.DefaultUnits(), Timezone: "UTC"})

	assert.Contains(t, text, "Scenario 00:")
	assert.Contains(t, text, "Scenario 04:")
	assert.Contains(t, text, "RANGE SUMMARY:")
	assert.Contains(t, text, "Likely low 8°C to 8°C")
	assert.Contains(t, text, "Likely high 8°C to 8°C")

	// Cloud cover only appears on single-member datasets.
	assert.NotContains(t, text, "cc75")
}

func TestFormatDataset_RangeSummaryRounding(t *testing.T) {
	// Daily member rainfall totals 0.2, 0.3, 0.4, 0.8, 0.9 mm.
	dataset := formatterFixture(map[string]float64{
		"member00": 0.2, "member01": 0.3, "member02": 0.4, "member03": 0.8, "member04": 0.9,
	})

	text := FormatDataset(dataset, nil, FormatOptions{Units: domain.DefaultUnits(), Timezone: "UTC"})

	assert.Contains(t, text, "Estimated probability of precipitation: 100%")
	assert.Contains(t, text, "Likely rainfall 0.2 mm to 0.9 mm")
}

func TestFormatDataset_EveningReportsOnlyLows(t *testing.T) {
	dataset := formatterFixture(map[string]float64{"member00": 1, "member01": 2})

	for i := range dataset.Days[0].Hours {
		dataset.Days[0].Hours[i].Hour = []string{"18:00", "21:00"}[i]
	}

	text := FormatDataset(dataset, nil, FormatOptions{Units: domain.DefaultUnits(), Timezone: "UTC"})

	assert.Contains(t, text, "Likely low")
	assert.NotContains(t, text, "Likely high")
}

func TestFormatDataset_AfternoonReportsHighBeforeLow(t *testing.T) {
	dataset := formatterFixture(map[string]float64{"member00": 1, "member01": 2})

	for i := range dataset.Days[0].Hours {
		dataset.Days[0].Hours[i].Hour = []string{"13:00", "15:00"}[i]
	}

	text := FormatDataset(dataset, nil, FormatOptions{Units: domain.DefaultUnits(), Timezone: "UTC"})

	require.Contains(t, text, "Likely high")
	assert.Less(t, strings.Index(text, "Likely high"), strings.Index(text, "Likely low"))
}

func TestFormatDataset_HeavyPrecipExceedance(t *testing.T) {
	dataset := formatterFixture(map[string]float64{
		"member00": 2, "member01": 14, "member02": 22,
	})

	text := FormatDataset(dataset, nil, FormatOptions{Units: domain.DefaultUnits(), Timezone: "UTC"})

	assert.Contains(t, text, "Estimated probability of precipitation >= 10 mm:")
}

func TestFormatDataset_AlertsPrependWhenInForce(t *testing.T) {
	dataset := formatterFixture(map[string]float64{"member00": 1})

	alerts := []domain.AlertSummary{
		{
			Title:       "Heavy Rain Warning",
			Description: "Streams may rise rapidly.",
			Source:      "MetService",
			Onset:       "2025-01-09T00:00:00Z",
			Expiry:      "2025-01-10T12:00:00Z",
		},
		{
			Title:  "Expired Warning",
			Source: "MetService",
			Onset:  "2025-01-01T00:00:00Z",
			Expiry: "2025-01-02T00:00:00Z",
		},
	}

	text := FormatDataset(dataset, alerts, FormatOptions{Units: domain.DefaultUnits(), Timezone: "UTC"})

	assert.True(t, strings.HasPrefix(text, "ACTIVE ALERTS:"))
	assert.Contains(t, text, "Heavy Rain Warning")
	assert.NotContains(t, text, "Expired Warning")
}

func TestFormatDataset_AlertWithBlankFieldsUsesPlaceholders(t *testing.T) {
	dataset := formatterFixture(map[string]float64{"member00": 1})

	alerts := []domain.AlertSummary{{
		Onset:  "2025-01-09T00:00:00Z",
		Expiry: "2025-01-10T12:00:00Z",
	}}

	text := FormatDataset(dataset, alerts, FormatOptions{Units: domain.DefaultUnits(), Timezone: "UTC"})

	assert.Contains(t, text, "ALERT from N/A:")
	assert.Contains(t, text, "Title: N/A")
	assert.Contains(t, text, "Description: N/A")
}

func TestFormatDataset_ImperialUnits(t *testing.T) {
	dataset := formatterFixture(map[string]float64{"member00": 10})
	level := 1500.0

	for i, hour := range dataset.Days[0].Hours {
		rec := hour.Members["member00"]
		rec.SnowLevel = &level
		dataset.Days[0].Hours[i].Members["member00"] = rec
	}

	units := domain.Units{Temperature: "fahrenheit", Precipitation: "inch", WindSpeed: "mph"}
	text := FormatDataset(dataset, nil, FormatOptions{Units: units, Timezone: "UTC"})

	assert.Contains(t, text, "46°") // 8°C
	assert.Contains(t, text, "in/h")
	assert.Contains(t, text, "snow down to about 5000 ft")
	assert.Contains(t, text, " Low 46°F, High 46°F")
}

func TestFormatDataset_EmptyDataset(t *testing.T) {
	assert.Equal(t, "Error: No valid forecast data received for formatting.",
		FormatDataset(&domain.ProcessedDataset{}, nil, FormatOptions{Units: domain.DefaultUnits()}))
}

func TestJeffreysProbability(t *testing.T) {
	assert.Equal(t, 0, JeffreysProbability(0, 5))
	assert.Equal(t, 100, JeffreysProbability(5, 5))
	assert.Equal(t, 25, JeffreysProbability(1, 5)) // 1.5/6 → 25%

	for occ := 0; occ <= 20; occ++ {
		p := JeffreysProbability(occ, 20)

		assert.GreaterOrEqual(t, p, 0)
		assert.LessOrEqual(t, p, 100)
		assert.Zero(t, p%5)
	}
}

func TestPercentileRange(t *testing.T) {
	lower, upper, ok := PercentileRange([]float64{0.2, 0.3, 0.4, 0.8, 0.9}, 0.20)

	require.True(t, ok)
	assert.InDelta(t, 0.22, lower, 0.001)
	assert.InDelta(t, 0.88, upper, 0.001)

	_, _, ok = PercentileRange([]float64{1}, 0.20)
	assert.False(t, ok)
}
