package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

func TestWetBulbTemperature(t *testing.T) {
	pressure := StandardPressure(0)

	// Saturated air: wet bulb equals dry bulb.
	assert.InDelta(t, 10.0, WetBulbTemperature(10, 100, pressure), 0.05)

	// Dry air cools well below the dry bulb.
	dryWetBulb := WetBulbTemperature(10, 20, pressure)
	assert.Less(t, dryWetBulb, 5.0)
	assert.Greater(t, dryWetBulb, -5.0)
}

func TestWetBulbMonotonicInHumidity(t *testing.T) {
	pressure := StandardPressure(400)

	for _, temp := range []float64{-5, 0, 5, 12} {
		previous := math.Inf(-1)

		for rh := 5.0; rh <= 100; rh += 5 {
			wetBulb := WetBulbTemperature(temp, rh, pressure)

			assert.GreaterOrEqual(t, wetBulb, previous,
				"T=%.0f RH=%.0f", temp, rh)
			assert.LessOrEqual(t, wetBulb, temp+0.01)

			previous = wetBulb
		}
	}
}

func TestStandardPressure(t *testing.T) {
	assert.InDelta(t, 101325, StandardPressure(0), 1)
	assert.InDelta(t, 89875, StandardPressure(1000), 500)
}

func snowGateRecord(temp, precip float64, code int) domain.MemberRecord {
	return domain.MemberRecord{
		Temperature:   temp,
		Precipitation: precip,
		WeatherCode:   code,
		Weather:       domain.WMOWeather(code),
	}
}

func TestEstimate_GateConditions(t *testing.T) {
	est := NewSnowLevelEstimator(300, math.Inf(1))
	raw := rawFixture([]string{"2025-01-06T09:00"}, []string{""},
		map[string][]*float64{
			"dew_point_2m":          {ptr(1)},
			"freezing_level_height": {ptr(1500)},
		})

	// Dry hour.
	assert.Nil(t, est.Estimate(raw, 0, "", snowGateRecord(3, 0, 3)))

	// Already snowing.
	assert.Nil(t, est.Estimate(raw, 0, "", snowGateRecord(1, 2, 73)))

	// Too warm.
	assert.Nil(t, est.Estimate(raw, 0, "", snowGateRecord(16, 2, 61)))

	// All gates pass.
	assert.NotNil(t, est.Estimate(raw, 0, "", snowGateRecord(3, 2, 61)))
}

func TestEstimate_FreezingLevelPath(t *testing.T) {
	est := NewSnowLevelEstimator(300, math.Inf(1))
	raw := rawFixture([]string{"2025-01-06T09:00"}, []string{""},
		map[string][]*float64{
			"dew_point_2m":          {ptr(0)},
			"freezing_level_height": {ptr(1600)},
		})

	level := est.Estimate(raw, 0, "", snowGateRecord(2, 3, 61))

	require.NotNil(t, level)
	assert.GreaterOrEqual(t, *level, 300.0)
	assert.LessOrEqual(t, *level, 1500.0, "capped 100 m below the freezing level")
}

func TestEstimate_RejectsImplausibleLevels(t *testing.T) {
	// Terrain tops out at 700 m; any level above 400 m is rejected.
	est := NewSnowLevelEstimator(300, 700)
	raw := rawFixture([]string{"2025-01-06T09:00"}, []string{""},
		map[string][]*float64{
			"dew_point_2m":          {ptr(5)},
			"freezing_level_height": {ptr(2800)},
		})

	level := est.Estimate(raw, 0, "", snowGateRecord(8, 2, 61))

	if level != nil {
		assert.LessOrEqual(t, *level, 400.0)
	}
}

func TestEstimate_ProfilePath(t *testing.T) {
	est := NewSnowLevelEstimator(300, math.Inf(1))

	raw := rawFixture([]string{"2025-01-06T09:00"}, []string{""},
		map[string][]*float64{
			"dew_point_2m":                 {ptr(1)},
			"temperature_1000hPa":          {ptr(4)},
			"relative_humidity_1000hPa":    {ptr(95)},
			"geopotential_height_1000hPa":  {ptr(110)},
			"temperature_925hPa":           {ptr(1.5)},
			"relative_humidity_925hPa":     {ptr(95)},
			"geopotential_height_925hPa":   {ptr(760)},
			"temperature_850hPa":           {ptr(-2)},
			"relative_humidity_850hPa":     {ptr(90)},
			"geopotential_height_850hPa":   {ptr(1450)},
		})

	level := est.Estimate(raw, 0, "", snowGateRecord(4, 2, 61))

	require.NotNil(t, level)
	assert.Greater(t, *level, 300.0)
	assert.Less(t, *level, 1450.0)
}

func TestEstimate_ProfileHeavyPrecipPullsLevelDown(t *testing.T) {
	overrides := map[string][]*float64{
		"dew_point_2m":                 {ptr(1)},
		"temperature_1000hPa":          {ptr(4)},
		"relative_humidity_1000hPa":    {ptr(95)},
		"geopotential_height_1000hPa":  {ptr(110)},
		"temperature_925hPa":           {ptr(1.5)},
		"relative_humidity_925hPa":     {ptr(95)},
		"geopotential_height_925hPa":   {ptr(760)},
		"temperature_850hPa":           {ptr(-2)},
		"relative_humidity_850hPa":     {ptr(90)},
		"geopotential_height_850hPa":   {ptr(1450)},
	}

	est := NewSnowLevelEstimator(300, math.Inf(1))
	raw := rawFixture([]string{"2025-01-06T09:00"}, []string{""}, overrides)

	light := est.Estimate(raw, 0, "", snowGateRecord(4, 2, 61))
	heavy := est.Estimate(raw, 0, "", snowGateRecord(4, 12, 61))

	require.NotNil(t, light)
	require.NotNil(t, heavy)
	assert.InDelta(t, *light-200, *heavy, 0.01)
}

func TestEstimate_ProfileMissingReturnsNil(t *testing.T) {
	est := NewSnowLevelEstimator(300, math.Inf(1))
	raw := rawFixture([]string{"2025-01-06T09:00"}, []string{""},
		map[string][]*float64{"dew_point_2m": {ptr(1)}})

	assert.Nil(t, est.Estimate(raw, 0, "", snowGateRecord(3, 2, 61)))
}

func TestPrecipitationPulldown(t *testing.T) {
	assert.Equal(t, 0.0, precipitationPulldown(4.9))
	assert.Equal(t, 100.0, precipitationPulldown(5))
	assert.Equal(t, 200.0, precipitationPulldown(10))
	assert.Equal(t, 300.0, precipitationPulldown(25))
}
