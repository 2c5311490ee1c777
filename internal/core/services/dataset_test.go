package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

func ptr(v float64) *float64 {
	return &v
}

// rawFixture builds an aligned payload. Fields default to benign values for
// every timestamp; overrides replace whole arrays.
func rawFixture(times []string, suffixes []string, overrides map[string][]*float64) *domain.RawForecast {
	raw := &domain.RawForecast{
		Hourly:      map[string][]*float64{},
		Times:       times,
		HourlyUnits: map[string]string{"time": "iso8601"},
		Elevation:   310,
	}

	fill := func(value float64) []*float64 {
		arr := make([]*float64, len(times))

		for i := range arr {
			arr[i] = ptr(value)
		}

		return arr
	}

	for _, suffix := range suffixes {
		raw.HourlyUnits["temperature_2m"+suffix] = "°C"
		raw.Hourly["temperature_2m"+suffix] = fill(8)
		raw.Hourly["precipitation"+suffix] = fill(0.4)
		raw.Hourly["snowfall"+suffix] = fill(0)
		raw.Hourly["weather_code"+suffix] = fill(61)
		raw.Hourly["cloud_cover"+suffix] = fill(80)
		raw.Hourly["wind_speed_10m"+suffix] = fill(22)
		raw.Hourly["wind_direction_10m"+suffix] = fill(225)
		raw.Hourly["wind_gusts_10m"+suffix] = fill(35)
	}

	for field, arr := range overrides {
		raw.Hourly[field] = arr
	}

	return raw
}

func TestTransform_DetectsEnsembleMembers(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC))
	svc := NewDatasetService(clock, zap.NewNop())

	raw := rawFixture(
		[]string{"2025-01-06T09:00", "2025-01-06T10:00"},
		[]string{"", "_member01", "_member02"},
		nil)

	dataset := svc.Transform(raw, "UTC", nil)

	assert.Equal(t, []string{"member00", "member01", "member02"}, dataset.Members)
	require.Len(t, dataset.Days, 1)
	require.Len(t, dataset.Days[0].Hours, 2)
	assert.Len(t, dataset.Days[0].Hours[0].Members, 3)

	rec := dataset.Days[0].Hours[0].Members["member01"]
	assert.Equal(t, "light rain", rec.Weather)
	assert.Equal(t, "southwesterly", rec.WindDirection)
	assert.InDelta(t, 310.0, dataset.StationAltitude, 0.01)
}

func TestTransform_ExcludesPastHours(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 6, 12, 30, 0, 0, time.UTC))
	svc := NewDatasetService(clock, zap.NewNop())

	raw := rawFixture(
		[]string{"2025-01-06T10:00", "2025-01-06T11:00", "2025-01-06T12:00", "2025-01-06T13:00"},
		[]string{""},
		nil)

	dataset := svc.Transform(raw, "UTC", nil)

	require.Len(t, dataset.Days, 1)
	require.Len(t, dataset.Days[0].Hours, 2)
	assert.Equal(t, "12:00", dataset.Days[0].Hours[0].Hour)
	assert.Equal(t, "13:00", dataset.Days[0].Hours[1].Hour)
}

func TestTransform_OmitsMemberMissingCoreVariable(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC))
	svc := NewDatasetService(clock, zap.NewNop())

	raw := rawFixture(
		[]string{"2025-01-06T09:00", "2025-01-06T10:00"},
		[]string{"", "_member01"},
		map[string][]*float64{
			"cloud_cover_member01": {ptr(50), nil},
		})

	dataset := svc.Transform(raw, "UTC", nil)

	require.Len(t, dataset.Days, 1)
	assert.Len(t, dataset.Days[0].Hours[0].Members, 2)
	assert.Len(t, dataset.Days[0].Hours[1].Members, 1)
	assert.NotContains(t, dataset.Days[0].Hours[1].Members, "member01")
}

func TestTransform_MissingGustDefaultsToZero(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC))
	svc := NewDatasetService(clock, zap.NewNop())

	raw := rawFixture([]string{"2025-01-06T09:00"}, []string{""},
		map[string][]*float64{"wind_gusts_10m": {nil}})

	dataset := svc.Transform(raw, "UTC", nil)

	require.Len(t, dataset.Days, 1)
	rec := dataset.Days[0].Hours[0].Members["member00"]
	assert.Zero(t, rec.WindGust)
}

func TestTransform_SkipsInvalidTimestampsAndBadTimezone(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC))
	svc := NewDatasetService(clock, zap.NewNop())

	raw := rawFixture(
		[]string{"not-a-timestamp", "2025-01-06T09:00"},
		[]string{""},
		nil)

	// Unknown timezone silently falls back to UTC.
	dataset := svc.Transform(raw, "Middle/Nowhere", nil)

	require.Len(t, dataset.Days, 1)
	require.Len(t, dataset.Days[0].Hours, 1)
	assert.Equal(t, "09:00", dataset.Days[0].Hours[0].Hour)
	assert.Equal(t, time.UTC, dataset.Days[0].Date.Location())
}

func TestTransform_AppliesSnowLevelFunc(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC))
	svc := NewDatasetService(clock, zap.NewNop())

	raw := rawFixture([]string{"2025-01-06T09:00"}, []string{""}, nil)

	level := 1400.0
	dataset := svc.Transform(raw, "UTC", func(_ *domain.RawForecast, _ int, _ string, _ domain.MemberRecord) *float64 {
		return &level
	})

	rec := dataset.Days[0].Hours[0].Members["member00"]
	require.NotNil(t, rec.SnowLevel)
	assert.InDelta(t, 1400.0, *rec.SnowLevel, 0.01)
}

func TestDayLabel(t *testing.T) {
	// Monday 6 January 2025.
	base := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		nowHour int
		dayOff  int
		want    string
	}{
		{nowHour: 23, dayOff: 0, want: "Rest of the evening, Monday"},
		{nowHour: 22, dayOff: 0, want: "Rest of the evening, Monday"},
		{nowHour: 18, dayOff: 0, want: "This evening, Monday"},
		{nowHour: 16, dayOff: 0, want: "This evening, Monday"},
		{nowHour: 15, dayOff: 0, want: "This afternoon and evening, Monday"},
		{nowHour: 11, dayOff: 0, want: "This afternoon and evening, Monday"},
		{nowHour: 10, dayOff: 0, want: "Rest of today, Monday"},
		{nowHour: 6, dayOff: 0, want: "Rest of today, Monday"},
		{nowHour: 5, dayOff: 0, want: "Today, Monday"},
		{nowHour: 0, dayOff: 0, want: "Today, Monday"},
		{nowHour: 14, dayOff: 1, want: "Tomorrow, Tuesday"},
		{nowHour: 14, dayOff: 2, want: "Wednesday"},
		{nowHour: 14, dayOff: 5, want: "Saturday"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("h%02d+%dd", tt.nowHour, tt.dayOff), func(t *testing.T) {
			now := base.Add(time.Duration(tt.nowHour) * time.Hour)
			day := base.AddDate(0, 0, tt.dayOff)

			assert.Equal(t, tt.want, DayLabel(day, now))
		})
	}
}
