package services

import (
	"fmt"
	"math"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

// Thermodynamic constants for the wet-bulb enthalpy balance.
const (
	dryAirGasConstant   = 287.05  // J/(kg·K)
	vaporGasConstant    = 461.5   // J/(kg·K)
	dryAirSpecificHeat  = 1004.0  // J/(kg·K)
	vaporSpecificHeat   = 1850.0  // J/(kg·K)
	epsilonRatio        = dryAirGasConstant / vaporGasConstant
	wetBulbZeroTarget   = 0.5  // °C, profile crossing target
	maxSnowLevelAboveSt = 3000 // m above station considered plausible
	terrainClearance    = 300  // m below the highest nearby terrain
)

// profilePressureLevels are the standard levels requested for the
// pressure-profile fallback, surface upward.
var profilePressureLevels = []int{1000, 925, 850, 700, 600, 500}

// SnowLevelEstimator derives snow levels for hours that pass the
// precipitation gates. It prefers the model's freezing-level height and
// falls back to a wet-bulb search through the pressure profile.
type SnowLevelEstimator struct {
	stationAltitude float64

	// maxTerrain is the highest terrain near the location, +Inf when
	// unknown, which disables the terrain cap.
	maxTerrain float64
}

// NewSnowLevelEstimator creates an estimator for one location.
func NewSnowLevelEstimator(stationAltitude, maxTerrain float64) *SnowLevelEstimator {
	return &SnowLevelEstimator{
		stationAltitude: stationAltitude,
		maxTerrain:      maxTerrain,
	}
}

// Estimate implements SnowLevelFunc.
//
// Gates: precipitation must be falling, the weather code must not already
// name a frozen phenomenon, and the surface must be below 15°C. Degenerate
// inputs return nil, never an error.
func (e *SnowLevelEstimator) Estimate(raw *domain.RawForecast, idx int, suffix string, rec domain.MemberRecord) *float64 {
	if rec.Precipitation <= 0 || domain.IsFrozenPhaseCode(rec.WeatherCode) || rec.Temperature >= 15 {
		return nil
	}

	dewpoint := sample(raw, "dew_point_2m"+suffix, idx)

	if dewpoint == nil {
		return nil
	}

	rh := domain.RelativeHumidity(rec.Temperature, *dewpoint)

	if math.IsNaN(rh) {
		return nil
	}

	wetBulb := WetBulbTemperature(rec.Temperature, rh, StandardPressure(e.stationAltitude))

	if fzl := sample(raw, "freezing_level_height"+suffix, idx); fzl != nil {
		return e.validate(e.fromFreezingLevel(rec.Temperature, wetBulb, *fzl))
	}

	if level, ok := e.fromProfile(raw, idx, rec.Precipitation); ok {
		return e.validate(level)
	}

	return nil
}

// fromFreezingLevel projects the wet-bulb 1°C height using the lapse rate
// implied by the surface wet-bulb depression and the freezing level.
func (e *SnowLevelEstimator) fromFreezingLevel(temp, wetBulb, freezingLevel float64) float64 {
	lapse := 0.0065

	if math.Abs(freezingLevel-e.stationAltitude) > 10 {
		lapse = (temp - wetBulb) / (freezingLevel - e.stationAltitude)

		if lapse < 0.001 {
			lapse = 0.001
		} else if lapse > 0.015 {
			lapse = 0.015
		}
	}

	level := (wetBulb-1)/lapse + e.stationAltitude
	ceiling := freezingLevel - 100

	if level > ceiling {
		level = ceiling
	}

	return level
}

// fromProfile finds the height where the wet-bulb profile crosses the 0.5°C
// target, interpolating between adjacent pressure levels, then applies the
// precipitation-intensity pulldown and floors at the station.
func (e *SnowLevelEstimator) fromProfile(raw *domain.RawForecast, idx int, precip float64) (float64, bool) {
	type levelSample struct {
		height  float64
		wetBulb float64
	}

	samples := make([]levelSample, 0, len(profilePressureLevels))

	for _, hPa := range profilePressureLevels {
		temp := sample(raw, profileField("temperature", hPa), idx)
		rh := sample(raw, profileField("relative_humidity", hPa), idx)
		height := sample(raw, profileField("geopotential_height", hPa), idx)

		if temp == nil || rh == nil || height == nil {
			continue
		}

		samples = append(samples, levelSample{
			height:  *height,
			wetBulb: WetBulbTemperature(*temp, *rh, float64(hPa)*100),
		})
	}

	if len(samples) < 2 {
		return 0, false
	}

	level := math.NaN()

	for i := 0; i+1 < len(samples); i++ {
		lower, upper := samples[i], samples[i+1]

		if lower.wetBulb < wetBulbZeroTarget {
			// Already below target at the bottom of the pair: snow reaches
			// this level.
			level = lower.height

			break
		}

		if upper.wetBulb >= wetBulbZeroTarget {
			continue
		}

		fraction := (lower.wetBulb - wetBulbZeroTarget) / (lower.wetBulb - upper.wetBulb)
		level = lower.height + fraction*(upper.height-lower.height)

		break
	}

	if math.IsNaN(level) {
		return 0, false
	}

	level -= precipitationPulldown(precip)

	if level < e.stationAltitude {
		level = e.stationAltitude
	}

	return level, true
}

// precipitationPulldown is the discrete intensity adjustment: heavier
// precipitation drags the snow level down.
func precipitationPulldown(rateMmPerHour float64) float64 {
	switch {
	case rateMmPerHour >= 20:
		return 300
	case rateMmPerHour >= 10:
		return 200
	case rateMmPerHour >= 5:
		return 100
	default:
		return 0
	}
}

// validate applies the plausibility window: within 3000 m above the station
// and clear of the highest nearby terrain.
func (e *SnowLevelEstimator) validate(level float64) *float64 {
	if math.IsNaN(level) || math.IsInf(level, 0) {
		return nil
	}

	if level < e.stationAltitude || level > e.stationAltitude+maxSnowLevelAboveSt {
		return nil
	}

	if !math.IsInf(e.maxTerrain, 1) && level > e.maxTerrain-terrainClearance {
		return nil
	}

	return &level
}

func profileField(variable string, hPa int) string {
	return fmt.Sprintf("%s_%dhPa", variable, hPa)
}

// saturationVaporPressure is the August–Roche–Magnus saturation pressure in
// pascals.
func saturationVaporPressure(tempC float64) float64 {
	return 611.2 * math.Exp((17.27*tempC)/(237.7+tempC))
}

// latentHeatOfVaporization in J/kg at the given temperature in kelvin.
func latentHeatOfVaporization(tempK float64) float64 {
	return 2.501e6 - 2361*(tempK-273.15)
}

// mixingRatio converts vapor pressure to mass mixing ratio at pressure p.
func mixingRatio(vaporPressure, pressure float64) float64 {
	if vaporPressure >= pressure {
		vaporPressure = pressure - 1
	}

	return epsilonRatio * vaporPressure / (pressure - vaporPressure)
}

// StandardPressure estimates ambient pressure in pascals at an altitude
// using the ICAO standard atmosphere.
func StandardPressure(altitudeM float64) float64 {
	return 101325 * math.Pow(1-2.25577e-5*altitudeM, 5.25588)
}

// WetBulbTemperature solves the moist-enthalpy balance for the wet-bulb
// temperature by bisection.
//
// Parameters:
//   - tempC: Dry-bulb temperature in °C
//   - rhPercent: Relative humidity in percent, clamped to [0, 100]
//   - pressurePa: Ambient pressure in pascals
//
// Returns:
//   - float64: Wet-bulb temperature in °C, always ≤ tempC
func WetBulbTemperature(tempC, rhPercent, pressurePa float64) float64 {
	if math.IsNaN(tempC) || math.IsNaN(rhPercent) {
		return math.NaN()
	}

	if rhPercent < 0 {
		rhPercent = 0
	} else if rhPercent > 100 {
		rhPercent = 100
	}

	actualVapor := (rhPercent / 100) * saturationVaporPressure(tempC)
	actualRatio := mixingRatio(actualVapor, pressurePa)

	// The balance is positive below the root and non-positive at the
	// dry-bulb bound, so the root is bracketed.
	balance := func(wetBulbC float64) float64 {
		saturatedRatio := mixingRatio(saturationVaporPressure(wetBulbC), pressurePa)
		lv := latentHeatOfVaporization(wetBulbC + 273.15)

		return (dryAirSpecificHeat+actualRatio*vaporSpecificHeat)*(tempC-wetBulbC) -
			lv*(saturatedRatio-actualRatio)
	}

	low, high := tempC-60, tempC

	for i := 0; i < 60; i++ {
		mid := (low + high) / 2

		if balance(mid) > 0 {
			low = mid
		} else {
			high = mid
		}

		if high-low < 0.001 {
			break
		}
	}

	return (low + high) / 2
}
