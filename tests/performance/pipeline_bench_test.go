//go:build performance

package performance

import (
	"fmt"
	"testing"
	"time"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
	"github.com/sean-rowe/impact-forecast/internal/core/services"
)

// syntheticDataset builds a dense processed dataset shaped like a full
// ensemble run: days x 24 hours x members.
func syntheticDataset(days, members int) *domain.ProcessedDataset {
	memberIDs := make([]string, members)

	for m := 0; m < members; m++ {
		memberIDs[m] = fmt.Sprintf("member%02d", m)
	}

	base := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)
	dataset := &domain.ProcessedDataset{
		Members:         memberIDs,
		StationAltitude: 310,
	}

	for d := 0; d < days; d++ {
		date := base.AddDate(0, 0, d)
		day := domain.DayForecast{
			Date:  date,
			Year:  date.Year(),
			Month: int(date.Month()),
			Day:   date.Day(),
			Label: date.Weekday().String(),
		}

		for h := 0; h < 24; h++ {
			hour := domain.HourForecast{
				Hour:    fmt.Sprintf("%02d:00", h),
				Members: make(map[string]domain.MemberRecord, members),
			}

			for m := 0; m < members; m++ {
				// Spread members so thinning has structure to exploit.
				offset := float64(m) * 0.3

				hour.Members[memberIDs[m]] = domain.MemberRecord{
					Temperature:   10 + float64(h%12) + offset,
					Precipitation: float64((h+m)%5) * 0.4,
					Snowfall:      0,
					Weather:       "light rain",
					WeatherCode:   61,
					CloudCover:    60,
					WindDirection: "westerly",
					WindSpeed:     18 + offset,
					WindGust:      30 + offset,
				}
			}

			day.Hours = append(day.Hours, hour)
		}

		dataset.Days = append(dataset.Days, day)
	}

	return dataset
}

func BenchmarkThinMembers51to7(b *testing.B) {
	dataset := syntheticDataset(4, 51)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		services.ThinMembers(dataset, 7)
	}
}

func BenchmarkThinMembers31to5(b *testing.B) {
	dataset := syntheticDataset(4, 31)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		services.ThinMembers(dataset, 5)
	}
}

func BenchmarkFormatDataset(b *testing.B) {
	dataset := syntheticDataset(4, 7)
	opts := services.FormatOptions{
		Units:    domain.DefaultUnits(),
		Timezone: "UTC",
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		services.FormatDataset(dataset, nil, opts)
	}
}

func BenchmarkFormatDatasetWithAlerts(b *testing.B) {
	dataset := syntheticDataset(4, 7)
	alerts := []domain.AlertSummary{
		{
			Title:    "Heavy Rain Warning",
			Severity: "Severe",
			Source:   "MetService",
			Expiry:   "2026-01-12T00:00:00Z",
		},
		{
			Title:    "Strong Wind Watch",
			Severity: "Moderate",
			Source:   "MetService",
			Expiry:   "2026-01-11T00:00:00Z",
		},
	}
	opts := services.FormatOptions{
		Units:    domain.DefaultUnits(),
		Timezone: "UTC",
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		services.FormatDataset(dataset, alerts, opts)
	}
}

func BenchmarkFullReductionPath(b *testing.B) {
	// Thin then format, the per-entity hot path for ensemble locations.
	dataset := syntheticDataset(4, 51)
	opts := services.FormatOptions{
		Units:    domain.DefaultUnits(),
		Timezone: "UTC",
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		thinned := services.ThinMembers(dataset, 7)
		services.FormatDataset(thinned, nil, opts)
	}
}
