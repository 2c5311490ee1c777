package services

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

// Heavy precipitation thresholds for exceedance probabilities.
const (
	heavyPrecipThresholdMm = 10.0
	heavyPrecipThresholdIn = 0.5
)

// FormatOptions carries the display choices for one entity.
type FormatOptions struct {
	Units    domain.Units
	Timezone string
}

// FormatDataset renders the processed dataset and active alerts into the
// text block the narrative model consumes.
//
// Each day carries a date heading, per-member hourly blocks with a summary
// footer, and, for ensembles, a RANGE SUMMARY with probabilistic lows,
// highs, and precipitation ranges.
//
// Parameters:
//   - dataset: Processed dataset, possibly thinned
//   - alerts: Alerts to prepend when still in force
//   - opts: Display unit and timezone choices
//
// Returns:
//   - string: Formatted text, or an error sentence for empty datasets
func FormatDataset(dataset *domain.ProcessedDataset, alerts []domain.AlertSummary, opts FormatOptions) string {
	if dataset == nil || len(dataset.Days) == 0 {
		return "Error: No valid forecast data received for formatting."
	}

	units := opts.Units
	snowLevelUnit := "m"

	if units.Imperial() {
		snowLevelUnit = "ft"
	}

	var parts []string

	for _, day := range dataset.Days {
		heading := fmt.Sprintf("Date: %s", strings.ToUpper(day.Date.Format("Monday 2 January")))

		if len(day.Hours) == 0 {
			parts = append(parts, heading+"\n No hourly data available.\n")

			continue
		}

		single := len(dataset.Members) <= 1

		var (
			memberBlocks []string
			dailyLows    []float64
			dailyHighs   []float64
			dailyPrecip  []float64
			dailySnow    []float64
		)

		for _, memberID := range dataset.Members {
			block, stats, ok := formatMemberBlock(day, memberID, single, units, snowLevelUnit)

			if !ok {
				continue
			}

			memberBlocks = append(memberBlocks, block)
			dailyLows = append(dailyLows, math.Round(stats.low))
			dailyHighs = append(dailyHighs, math.Round(stats.high))
			dailyPrecip = append(dailyPrecip, roundTo(stats.precip, 1))
			dailySnow = append(dailySnow, roundTo(stats.snow, 1))
		}

		if len(memberBlocks) == 0 {
			continue
		}

		body := heading + "\n\n" + strings.Join(memberBlocks, "\n\n") + "\n"

		if !single {
			firstHour := hourValue(day.Hours[0].Hour)
			body += "RANGE SUMMARY:\n" + rangeSummary(rangeInputs{
				lows:          dailyLows,
				highs:         dailyHighs,
				precip:        dailyPrecip,
				snow:          dailySnow,
				units:         units,
				onlyLow:       firstHour > 15,
				highBeforeLow: firstHour > 10 && firstHour <= 15,
			}) + "\n"
		}

		parts = append(parts, body)
	}

	text := strings.Join(parts, "\n")
	alertText := formatAlerts(alerts, dataset, opts.Timezone)

	if alertText != "" {
		return strings.TrimSpace(alertText + "\n\n" + text)
	}

	return strings.TrimSpace(text)
}

type memberDayStats struct {
	low    float64
	high   float64
	precip float64
	snow   float64
}

// formatMemberBlock renders one member's hourly lines plus its footer for a
// single day. Ensemble members are labeled "Scenario NN:".
func formatMemberBlock(day domain.DayForecast, memberID string, single bool, units domain.Units, snowLevelUnit string) (string, memberDayStats, bool) {
	var lines []string

	if !single {
		lines = append(lines, fmt.Sprintf("Scenario %s:", strings.TrimPrefix(memberID, "member")))
	}

	stats := memberDayStats{low: math.Inf(1), high: math.Inf(-1)}
	hasData := false

	for _, hour := range day.Hours {
		rec, ok := hour.Members[memberID]

		if !ok {
			continue
		}

		hasData = true

		temp := domain.CelsiusTo(rec.Temperature, units.Temperature)
		precip := domain.MillimetersTo(rec.Precipitation, units.Precipitation)
		snow := domain.CentimetersTo(rec.Snowfall, snowfallUnit(units))
		windSpeed := domain.KphTo(rec.WindSpeed, units.WindSpeed)
		windGust := domain.KphTo(rec.WindGust, units.WindSpeed)

		if temp < stats.low {
			stats.low = temp
		}

		if temp > stats.high {
			stats.high = temp
		}

		stats.precip += precip
		stats.snow += snow

		weather := capitalize(rec.Weather)
		details := []string{
			fmt.Sprintf("%d°", int(math.Round(temp))),
			weather,
		}

		if precipText := hourlyPrecipText(precip, rec.Snowfall, weather, units.Precipitation); precipText != "" {
			details = append(details, precipText)
		}

		if single && rec.CloudCover >= 0 && rec.CloudCover <= 100 {
			details = append(details, fmt.Sprintf("cc%d", rec.CloudCover))
		}

		if rec.SnowLevel != nil {
			if level := displaySnowLevel(*rec.SnowLevel, units.Imperial()); level > 0 {
				details = append(details, fmt.Sprintf("(snow down to about %d %s)", level, snowLevelUnit))
			}
		}

		if rec.PrecipProbability != nil {
			details = append(details, fmt.Sprintf("pop%d", *rec.PrecipProbability))
		}

		details = append(details, windText(rec.WindDirection,
			domain.RoundWindSpeed(windSpeed, units.WindSpeed),
			domain.RoundWindSpeed(windGust, units.WindSpeed)))

		lines = append(lines, domain.HourToAmPm(hour.Hour)+" "+strings.Join(details, " "))
	}

	if !hasData {
		return "", stats, false
	}

	lines = append(lines, memberSummary(stats, units))

	return strings.Join(lines, "\n"), stats, true
}

// displaySnowLevel rounds for display: nearest 100 m, or nearest 500 ft for
// imperial.
func displaySnowLevel(meters float64, imperial bool) int {
	if meters <= 0 {
		return 0
	}

	if imperial {
		return int(math.Round(meters*3.28084/500) * 500)
	}

	return int(math.Round(meters/100) * 100)
}

// hourlyPrecipText renders the precipitation rate token, labeling the phase
// "Precip" when rain and snow signals disagree.
func hourlyPrecipText(precip, snowfallCm float64, weather, unit string) string {
	precision := 0

	if strings.EqualFold(unit, "inch") || strings.EqualFold(unit, "in") {
		precision = 1
	}

	value := roundTo(precip, precision)

	if value == 0 {
		return ""
	}

	rate := fmt.Sprintf("%.*f %s/h", precision, value, precipUnitLabel(unit))

	if precipPhase(snowfallCm, weather) == "mixed" {
		return fmt.Sprintf("(Precip %s)", rate)
	}

	return rate
}

// precipPhase classifies the hour's precipitation as rain, snow, or mixed
// from the weather wording and snowfall amount.
func precipPhase(snowfallCm float64, weather string) string {
	lower := strings.ToLower(weather)

	snowSignal := snowfallCm > 0
	for _, kw := range []string{"snow", "sleet", "flurry", "wintry", "freezing", "ice pellet"} {
		if strings.Contains(lower, kw) {
			snowSignal = true

			break
		}
	}

	rainSignal := false
	for _, kw := range []string{"rain", "shower", "drizzle", "thunder", "storm"} {
		if strings.Contains(lower, kw) {
			rainSignal = true

			break
		}
	}

	switch {
	case snowSignal && rainSignal:
		return "mixed"
	case snowSignal:
		return "snow"
	default:
		return "rain"
	}
}

func windText(direction string, speed, gust int) string {
	if speed <= 0 {
		return "calm"
	}

	if direction == "" {
		direction = "variable"
	}

	text := fmt.Sprintf("%s %d", direction, speed)

	if gust-speed >= 5 {
		text += fmt.Sprintf(" gust %d", gust)
	}

	return text
}

// memberSummary is the per-member footer: low/high plus total snowfall and
// rainfall with trace-aware rounding.
func memberSummary(stats memberDayStats, units domain.Units) string {
	if math.IsInf(stats.low, 0) || math.IsInf(stats.high, 0) {
		return " No valid temperature data found for summary."
	}

	tempShort := strings.ToUpper(units.Temperature[:1])
	lines := []string{
		fmt.Sprintf(" Low %d°%s, High %d°%s",
			int(math.Round(stats.low)), tempShort,
			int(math.Round(stats.high)), tempShort),
	}

	if snowLine := totalSnowfallLine(stats.snow, snowfallUnit(units)); snowLine != "" {
		lines = append(lines, snowLine)
	}

	if rainLine := totalRainfallLine(stats.precip, units.Precipitation); rainLine != "" {
		lines = append(lines, rainLine)
	}

	return strings.Join(lines, "\n")
}

// totalRainfallLine formats the rainfall total: trace totals under 0.25 mm
// are omitted, sub-1 mm totals round to the nearest 0.5, larger totals print
// as whole millimeters. Imperial keeps one decimal of an inch.
func totalRainfallLine(total float64, unit string) string {
	if total <= 0 {
		return ""
	}

	label := precipUnitLabel(unit)

	if label == "mm" {
		if total < 0.25 {
			return ""
		}

		var rounded float64

		if total < 1 {
			rounded = math.Round(total*2) / 2
		} else {
			rounded = math.Round(total)
		}

		if rounded <= 0 {
			return ""
		}

		return fmt.Sprintf(" Total rainfall: %s %s.", trimNumber(rounded), label)
	}

	rounded := roundTo(total, 1)

	if rounded == 0 {
		return ""
	}

	return fmt.Sprintf(" Total rainfall: %.1f %s.", rounded, label)
}

// totalSnowfallLine formats the snowfall total; sub-centimeter totals print
// as "less than 1 cm".
func totalSnowfallLine(total float64, unit string) string {
	if total <= 0 {
		return ""
	}

	if unit == "cm" {
		if total < 1 {
			return " Total snowfall: less than 1 cm."
		}

		rounded := int(math.Round(total))

		if rounded <= 0 {
			return ""
		}

		return fmt.Sprintf(" Total snowfall: %d cm.", rounded)
	}

	rounded := roundTo(total, 1)

	if rounded == 0 {
		return ""
	}

	return fmt.Sprintf(" Total snowfall: %s %s.", trimNumber(rounded), unit)
}

type rangeInputs struct {
	lows          []float64
	highs         []float64
	precip        []float64
	snow          []float64
	units         domain.Units
	onlyLow       bool
	highBeforeLow bool
}

// rangeSummary builds the probabilistic per-day summary across members.
// Evening datasets report only lows; afternoon datasets report highs first.
func rangeSummary(in rangeInputs) string {
	if len(in.lows) == 0 || len(in.highs) == 0 {
		return "N/A"
	}

	tempShort := strings.ToUpper(in.units.Temperature[:1])
	lowLine := fmt.Sprintf("Likely low %d°%s to %d°%s",
		int(minOf(in.lows)), tempShort, int(maxOf(in.lows)), tempShort)
	highLine := fmt.Sprintf("Likely high %d°%s to %d°%s",
		int(minOf(in.highs)), tempShort, int(maxOf(in.highs)), tempShort)

	var lines []string

	switch {
	case in.onlyLow:
		lines = append(lines, lowLine)
	case in.highBeforeLow:
		lines = append(lines, highLine, lowLine)
	default:
		lines = append(lines, lowLine, highLine)
	}

	if precipLines := likelyAmountLines("precipitation", "rainfall", in.precip, precipUnitLabel(in.units.Precipitation)); precipLines != "" {
		lines = append(lines, precipLines)
	}

	if snowLines := likelyAmountLines("snowfall", "snowfall", in.snow, snowfallUnit(in.units)); snowLines != "" {
		lines = append(lines, snowLines)
	}

	if heavy := heavyPrecipLine(in.precip, in.units.Precipitation); heavy != "" {
		lines = append(lines, heavy)
	}

	return strings.Join(lines, "\n")
}

// likelyAmountLines emits the probability line and the 20th–80th percentile
// likely range for a precipitation variable.
func likelyAmountLines(probLabel, rangeLabel string, values []float64, unitLabel string) string {
	positive := positiveValues(values)

	if len(positive) == 0 {
		return ""
	}

	probability := JeffreysProbability(len(positive), len(values))
	lower, upper, ok := PercentileRange(positive, 0.20)

	if !ok {
		return fmt.Sprintf("Estimated probability of %s: %d%%", probLabel, probability)
	}

	if rangeLabel == "snowfall" && unitLabel == "cm" {
		return snowfallLikelyLines(probLabel, probability, lower, upper)
	}

	lowerText := trimNumber(roundTo(lower, 1))
	upperText := trimNumber(roundTo(upper, 1))
	rangeText := fmt.Sprintf("Likely %s %s %s to %s %s", rangeLabel, lowerText, unitLabel, upperText, unitLabel)

	if lowerText == upperText {
		rangeText = fmt.Sprintf("Likely %s around %s %s", rangeLabel, lowerText, unitLabel)
	}

	return fmt.Sprintf("Estimated probability of %s: %d%%\n%s", probLabel, probability, rangeText)
}

func snowfallLikelyLines(probLabel string, probability int, lower, upper float64) string {
	header := fmt.Sprintf("Estimated probability of %s: %d%%", probLabel, probability)

	if upper < 1 {
		return header + "\nLikely snowfall less than 1 cm"
	}

	lowerCm := int(math.Round(lower))
	upperCm := int(math.Round(upper))

	switch {
	case lowerCm <= 0:
		return header + fmt.Sprintf("\nLikely snowfall up to %d cm", upperCm)
	case lowerCm == upperCm:
		return header + fmt.Sprintf("\nLikely snowfall around %d cm", lowerCm)
	default:
		return header + fmt.Sprintf("\nLikely snowfall %d cm to %d cm", lowerCm, upperCm)
	}
}

// heavyPrecipLine reports the exceedance probability for heavy
// precipitation when any member reaches the threshold.
func heavyPrecipLine(values []float64, unit string) string {
	thresholdMm := heavyPrecipThresholdMm
	threshold := thresholdMm
	label := fmt.Sprintf("%d mm", int(thresholdMm))

	if precipUnitLabel(unit) == "in" {
		threshold = heavyPrecipThresholdIn
		label = fmt.Sprintf("%d mm (%.1f in)", int(thresholdMm), heavyPrecipThresholdIn)
	}

	exceedances := 0

	for _, v := range values {
		if v >= threshold {
			exceedances++
		}
	}

	if exceedances == 0 {
		return ""
	}

	probability := JeffreysProbability(exceedances, len(values))

	return fmt.Sprintf("Estimated probability of precipitation >= %s: %d%%", label, probability)
}

// JeffreysProbability is the Beta(½,½)-prior point estimate of a binomial
// probability, rounded to the nearest 5%. Unanimous counts report the
// certainty endpoints directly.
func JeffreysProbability(occurrences, total int) int {
	if total <= 0 || occurrences <= 0 {
		return 0
	}

	if occurrences >= total {
		return 100
	}

	prob := (float64(occurrences) + 0.5) / (float64(total) + 1)
	pct := int(math.Round(prob*20)) * 5

	if pct < 0 {
		return 0
	}

	if pct > 100 {
		return 100
	}

	return pct
}

// PercentileRange estimates the lower-fraction and (1−fraction) percentiles
// of the values by linear interpolation. Fewer than two values cannot
// support a range.
func PercentileRange(values []float64, lowerFraction float64) (float64, float64, bool) {
	if len(values) < 2 {
		return 0, 0, false
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	return interpolatePercentile(sorted, lowerFraction),
		interpolatePercentile(sorted, 1-lowerFraction),
		true
}

func interpolatePercentile(sorted []float64, fraction float64) float64 {
	position := fraction*float64(len(sorted)+1) - 1

	if position <= 0 {
		return sorted[0]
	}

	if position >= float64(len(sorted)-1) {
		return sorted[len(sorted)-1]
	}

	idx := int(position)
	frac := position - float64(idx)

	return sorted[idx] + frac*(sorted[idx+1]-sorted[idx])
}

// formatAlerts renders alerts still in force relative to the first forecast
// day, converted to the location's timezone.
func formatAlerts(alerts []domain.AlertSummary, dataset *domain.ProcessedDataset, timezone string) string {
	if len(alerts) == 0 || len(dataset.Days) == 0 {
		return ""
	}

	loc, err := time.LoadLocation(timezone)

	if err != nil {
		loc = time.UTC
	}

	earliest := dataset.Days[0].Date

	var blocks []string

	for _, alert := range alerts {
		if alert.Onset == "" || alert.Expiry == "" || !alert.Active(earliest) {
			continue
		}

		onset := formatAlertTime(alert.Onset, loc)
		expiry := formatAlertTime(alert.Expiry, loc)

		blocks = append(blocks, strings.Join([]string{
			fmt.Sprintf("ALERT from %s:", valueOr(alert.Source, "N/A")),
			fmt.Sprintf("Title: %s", valueOr(alert.Title, "N/A")),
			fmt.Sprintf("Valid from: %s", onset),
			fmt.Sprintf("Expires: %s", expiry),
			fmt.Sprintf("Description: %s", valueOr(alert.Description, "N/A")),
		}, "\n"))
	}

	if len(blocks) == 0 {
		return ""
	}

	return "ACTIVE ALERTS:\n" + strings.Join(blocks, "\n")
}

func formatAlertTime(stamp string, loc *time.Location) string {
	ts, err := time.Parse(time.RFC3339, stamp)

	if err != nil {
		return stamp
	}

	return ts.In(loc).Format("2006-01-02 15:04 MST")
}

// valueOr substitutes the fallback for blank alert fields.
func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}

// snowfallUnit honors an explicit snowfall preference, otherwise inches
// follow an imperial precipitation choice.
func snowfallUnit(units domain.Units) string {
	switch units.Snowfall {
	case "inch", "in":
		return "in"
	case "cm":
		return "cm"
	}

	if units.Imperial() {
		return "in"
	}

	return "cm"
}

func precipUnitLabel(unit string) string {
	if strings.EqualFold(unit, "inch") || strings.EqualFold(unit, "in") {
		return "in"
	}

	return strings.ToLower(unit)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	return strings.ToUpper(s[:1]) + s[1:]
}

// trimNumber renders a float without a trailing ".0".
func trimNumber(v float64) string {
	if v == math.Trunc(v) {
		return strconv.Itoa(int(v))
	}

	return strconv.FormatFloat(v, 'f', 1, 64)
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))

	return math.Round(v*scale) / scale
}

func hourValue(hour string) int {
	parts := strings.SplitN(hour, ":", 2)
	v, err := strconv.Atoi(parts[0])

	if err != nil {
		return 0
	}

	return v
}

func positiveValues(values []float64) []float64 {
	out := make([]float64, 0, len(values))

	for _, v := range values {
		if v > 0 {
			out = append(out, v)
		}
	}

	return out
}

func minOf(values []float64) float64 {
	m := values[0]

	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}

	return m
}

func maxOf(values []float64) float64 {
	m := values[0]

	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}

	return m
}
