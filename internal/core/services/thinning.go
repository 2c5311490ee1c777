package services

import (
	"math"
	"sort"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

// Thinning weights for the temperature and precipitation distance terms.
const (
	thinningTemperatureWeight   = 1.0
	thinningPrecipitationWeight = 1.0
)

// ThinMembers reduces an ensemble to k representative members by greedy
// maximum-diversity selection, preserving member00 and keeping the chosen
// set consistent across every hour of every day.
//
// Datasets with k or fewer members are returned unchanged.
//
// Parameters:
//   - dataset: Full processed dataset
//   - k: Target member count, minimum 1
//
// Returns:
//   - *domain.ProcessedDataset: New dataset restricted to the selection
func ThinMembers(dataset *domain.ProcessedDataset, k int) *domain.ProcessedDataset {
	if dataset == nil || k < 1 || len(dataset.Members) <= k {
		return dataset
	}

	series := flattenMemberSeries(dataset)
	normalizeSeries(series, func(s *memberSeries) []float64 { return s.temperature })
	normalizeSeries(series, func(s *memberSeries) []float64 { return s.precipitation })

	selected := selectDiverse(dataset.Members, series, k)

	return restrictToMembers(dataset, selected)
}

type memberSeries struct {
	temperature   []float64
	precipitation []float64
}

// flattenMemberSeries builds one aligned temperature and precipitation
// vector per member across all hours. Hours where a member is absent
// contribute zeros so vectors stay aligned.
func flattenMemberSeries(dataset *domain.ProcessedDataset) map[string]*memberSeries {
	series := make(map[string]*memberSeries, len(dataset.Members))

	for _, id := range dataset.Members {
		series[id] = &memberSeries{}
	}

	for _, day := range dataset.Days {
		for _, hour := range day.Hours {
			for _, id := range dataset.Members {
				s := series[id]
				rec, ok := hour.Members[id]

				if ok {
					s.temperature = append(s.temperature, rec.Temperature)
					s.precipitation = append(s.precipitation, rec.Precipitation)
				} else {
					s.temperature = append(s.temperature, 0)
					s.precipitation = append(s.precipitation, 0)
				}
			}
		}
	}

	return series
}

// normalizeSeries min-max scales one variable across the whole ensemble so
// temperature and precipitation distances are comparable.
func normalizeSeries(series map[string]*memberSeries, pick func(*memberSeries) []float64) {
	lo, hi := math.Inf(1), math.Inf(-1)

	for _, s := range series {
		for _, v := range pick(s) {
			if v < lo {
				lo = v
			}

			if v > hi {
				hi = v
			}
		}
	}

	span := hi - lo

	if span == 0 || math.IsInf(span, 0) {
		return
	}

	for _, s := range series {
		values := pick(s)

		for i, v := range values {
			values[i] = (v - lo) / span
		}
	}
}

// selectDiverse runs the greedy selection: seed with member00 (or the
// lexicographically first member), then repeatedly add the candidate whose
// mean weighted RMS distance to the selected set is largest. Ties keep the
// first candidate in iteration order.
func selectDiverse(members []string, series map[string]*memberSeries, k int) map[string]bool {
	ordered := append([]string(nil), members...)
	sort.Strings(ordered)

	seed := ordered[0]

	for _, id := range ordered {
		if id == "member00" {
			seed = "member00"

			break
		}
	}

	selected := map[string]bool{seed: true}
	selection := []string{seed}

	for len(selection) < k {
		bestID := ""
		bestScore := math.Inf(-1)

		for _, candidate := range ordered {
			if selected[candidate] {
				continue
			}

			score := 0.0

			for _, existing := range selection {
				score += thinningTemperatureWeight*rms(series[candidate].temperature, series[existing].temperature) +
					thinningPrecipitationWeight*rms(series[candidate].precipitation, series[existing].precipitation)
			}

			score /= float64(len(selection))

			if score > bestScore {
				bestScore = score
				bestID = candidate
			}
		}

		if bestID == "" {
			break
		}

		selected[bestID] = true
		selection = append(selection, bestID)
	}

	return selected
}

// rms is the root-mean-square of element-wise differences.
func rms(a, b []float64) float64 {
	n := len(a)

	if len(b) < n {
		n = len(b)
	}

	if n == 0 {
		return 0
	}

	sum := 0.0

	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}

	return math.Sqrt(sum / float64(n))
}

// restrictToMembers copies the dataset keeping only the selected members.
func restrictToMembers(dataset *domain.ProcessedDataset, selected map[string]bool) *domain.ProcessedDataset {
	out := &domain.ProcessedDataset{
		StationAltitude: dataset.StationAltitude,
	}

	for _, id := range dataset.Members {
		if selected[id] {
			out.Members = append(out.Members, id)
		}
	}

	for _, day := range dataset.Days {
		copied := domain.DayForecast{
			Date:  day.Date,
			Year:  day.Year,
			Month: day.Month,
			Day:   day.Day,
			Label: day.Label,
		}

		for _, hour := range day.Hours {
			members := make(map[string]domain.MemberRecord, len(out.Members))

			for id, rec := range hour.Members {
				if selected[id] {
					members[id] = rec
				}
			}

			copied.Hours = append(copied.Hours, domain.HourForecast{
				Hour:    hour.Hour,
				Members: members,
			})
		}

		out.Days = append(out.Days, copied)
	}

	return out
}
