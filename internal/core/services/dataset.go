package services

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

// memberFieldPattern detects ensemble member variables in the provider's
// unit map. The control run arrives unsuffixed and becomes member00.
var memberFieldPattern = regexp.MustCompile(`^temperature_2m_member(\d{2,})$`)

// hourlyTimeLayouts are the timestamp layouts the provider emits.
var hourlyTimeLayouts = []string{"2006-01-02T15:04", "2006-01-02T15:04:05"}

// SnowLevelFunc derives a snow level in meters for one hour of one member,
// or nil when no level applies. It receives the raw payload so it can reach
// dewpoint, freezing level, and pressure-level variables by index.
type SnowLevelFunc func(raw *domain.RawForecast, index int, memberSuffix string, rec domain.MemberRecord) *float64

// DatasetService pivots raw hourly arrays into the day/hour/member dataset
// the rest of the pipeline consumes.
type DatasetService struct {
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewDatasetService creates a dataset transformer.
func NewDatasetService(clock clockwork.Clock, logger *zap.Logger) *DatasetService {
	return &DatasetService{
		clock:  clock,
		logger: logger,
	}
}

// Transform builds the processed dataset for one location.
//
// Hours before the current local hour are dropped. Timestamps that fail to
// parse are skipped. A member's record for an hour is omitted entirely when
// any core variable is missing for that hour.
//
// Parameters:
//   - raw: Validated provider payload
//   - timezone: IANA zone of the location; unknown zones fall back to UTC
//   - snowFn: Optional per-hour snow-level estimator, nil to skip
//
// Returns:
//   - *domain.ProcessedDataset: Days in chronological order, possibly empty
func (s *DatasetService) Transform(raw *domain.RawForecast, timezone string, snowFn SnowLevelFunc) *domain.ProcessedDataset {
	loc, err := time.LoadLocation(timezone)

	if err != nil || timezone == "" {
		loc = time.UTC
	}

	now := s.clock.Now().In(loc)
	nowHour := now.Truncate(time.Hour)

	suffixes := detectMemberSuffixes(raw.HourlyUnits)

	dataset := &domain.ProcessedDataset{
		Members:         memberIDs(suffixes),
		StationAltitude: raw.Elevation,
	}

	dayIndex := make(map[string]int)

	for idx, stamp := range raw.Times {
		ts, ok := parseHourlyTime(stamp, loc)

		if !ok {
			s.logger.Debug("skipping unparseable timestamp",
				zap.String("timestamp", stamp))

			continue
		}

		if ts.Before(nowHour) {
			continue
		}

		hour := domain.HourForecast{
			Hour:    ts.Format("15:04"),
			Members: make(map[string]domain.MemberRecord),
		}

		for _, suffix := range suffixes {
			rec, ok := s.memberRecord(raw, idx, suffix)

			if !ok {
				continue
			}

			if snowFn != nil {
				rec.SnowLevel = snowFn(raw, idx, suffix, rec)
			}

			hour.Members[memberID(suffix)] = rec
		}

		if len(hour.Members) == 0 {
			continue
		}

		dayKey := ts.Format("2006-01-02")
		di, exists := dayIndex[dayKey]

		if !exists {
			midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, loc)

			dataset.Days = append(dataset.Days, domain.DayForecast{
				Date:  midnight,
				Year:  ts.Year(),
				Month: int(ts.Month()),
				Day:   ts.Day(),
				Label: DayLabel(midnight, now),
			})

			di = len(dataset.Days) - 1
			dayIndex[dayKey] = di
		}

		dataset.Days[di].Hours = append(dataset.Days[di].Hours, hour)
	}

	return dataset
}

// memberRecord assembles one member's hour. The core variable set must be
// complete; gusts and probability are optional extras.
func (s *DatasetService) memberRecord(raw *domain.RawForecast, idx int, suffix string) (domain.MemberRecord, bool) {
	temp := sample(raw, "temperature_2m"+suffix, idx)
	precip := sample(raw, "precipitation"+suffix, idx)
	snowfall := sample(raw, "snowfall"+suffix, idx)
	code := sample(raw, "weather_code"+suffix, idx)
	cloud := sample(raw, "cloud_cover"+suffix, idx)
	windSpeed := sample(raw, "wind_speed_10m"+suffix, idx)
	windDir := sample(raw, "wind_direction_10m"+suffix, idx)

	for _, v := range []*float64{temp, precip, snowfall, code, cloud, windSpeed, windDir} {
		if v == nil {
			return domain.MemberRecord{}, false
		}
	}

	rec := domain.MemberRecord{
		Temperature:   *temp,
		Precipitation: *precip,
		Snowfall:      *snowfall,
		Weather:       domain.WMOWeather(int(*code)),
		WeatherCode:   int(*code),
		CloudCover:    int(math.Round(*cloud)),
		WindDirection: domain.DegreesToCompass(*windDir),
		WindSpeed:     *windSpeed,
	}

	if gust := sample(raw, "wind_gusts_10m"+suffix, idx); gust != nil {
		rec.WindGust = *gust
	}

	if pop := sample(raw, "precipitation_probability"+suffix, idx); pop != nil {
		value := int(math.Round(*pop))
		rec.PrecipProbability = &value
	}

	return rec, true
}

// DayLabel phrases a forecast day relative to the current local time.
func DayLabel(day time.Time, now time.Time) string {
	weekday := day.Weekday().String()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	// Rounding keeps DST-shortened days on the right calendar label.
	switch int(math.Round(day.Sub(today).Hours() / 24)) {
	case 0:
		hour := now.Hour()

		switch {
		case hour >= 22:
			return fmt.Sprintf("Rest of the evening, %s", weekday)
		case hour > 15:
			return fmt.Sprintf("This evening, %s", weekday)
		case hour > 10:
			return fmt.Sprintf("This afternoon and evening, %s", weekday)
		case hour >= 6:
			return fmt.Sprintf("Rest of today, %s", weekday)
		default:
			return fmt.Sprintf("Today, %s", weekday)
		}
	case 1:
		return fmt.Sprintf("Tomorrow, %s", weekday)
	default:
		return weekday
	}
}

// detectMemberSuffixes scans the unit map for member variables. The empty
// suffix (control run or deterministic output) is always present first.
func detectMemberSuffixes(units map[string]string) []string {
	suffixes := []string{""}
	seen := make(map[string]bool)

	for field := range units {
		match := memberFieldPattern.FindStringSubmatch(field)

		if match == nil {
			continue
		}

		suffix := "_member" + match[1]

		if !seen[suffix] {
			seen[suffix] = true
			suffixes = append(suffixes, suffix)
		}
	}

	sort.Strings(suffixes[1:])

	return suffixes
}

func memberID(suffix string) string {
	if suffix == "" {
		return "member00"
	}

	return "member" + memberFieldPattern.FindStringSubmatch("temperature_2m"+suffix)[1]
}

func memberIDs(suffixes []string) []string {
	ids := make([]string, 0, len(suffixes))

	for _, suffix := range suffixes {
		ids = append(ids, memberID(suffix))
	}

	return ids
}

func parseHourlyTime(stamp string, loc *time.Location) (time.Time, bool) {
	for _, layout := range hourlyTimeLayouts {
		if ts, err := time.ParseInLocation(layout, stamp, loc); err == nil {
			return ts, true
		}
	}

	return time.Time{}, false
}

func sample(raw *domain.RawForecast, field string, idx int) *float64 {
	values, ok := raw.Hourly[field]

	if !ok || idx >= len(values) {
		return nil
	}

	return values[idx]
}
