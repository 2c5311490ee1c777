package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sean-rowe/impact-forecast/internal/core/domain"
)

// thinningFixture builds a one-day dataset where each member's temperature
// series is a constant offset from the control.
func thinningFixture(offsets map[string]float64, hours int) *domain.ProcessedDataset {
	dataset := &domain.ProcessedDataset{StationAltitude: 100}

	for id := range offsets {
		dataset.Members = append(dataset.Members, id)
	}

	// member00 first, rest sorted.
	sortMembersCanonical(dataset.Members)

	day := domain.DayForecast{Label: "Tomorrow, Tuesday"}

	for h := 0; h < hours; h++ {
		hour := domain.HourForecast{
			Hour:    fmt.Sprintf("%02d:00", h),
			Members: make(map[string]domain.MemberRecord),
		}

		for id, offset := range offsets {
			hour.Members[id] = domain.MemberRecord{
				Temperature:   10 + offset + float64(h)/10,
				Precipitation: offset / 10,
			}
		}

		day.Hours = append(day.Hours, hour)
	}

	dataset.Days = []domain.DayForecast{day}

	return dataset
}

func sortMembersCanonical(members []string) {
	for i := range members {
		if members[i] == "member00" {
			members[0], members[i] = members[i], members[0]

			break
		}
	}
}

func TestThinMembers_PreservesMember00(t *testing.T) {
	dataset := thinningFixture(map[string]float64{
		"member00": 0, "member01": 1, "member02": -1, "member03": 6,
	}, 6)

	for k := 1; k <= 4; k++ {
		thinned := ThinMembers(dataset, k)

		assert.Contains(t, thinned.Members, "member00", "k=%d", k)

		for _, day := range thinned.Days {
			for _, hour := range day.Hours {
				assert.Contains(t, hour.Members, "member00", "k=%d hour=%s", k, hour.Hour)
			}
		}
	}
}

func TestThinMembers_IdempotentAtFullCount(t *testing.T) {
	dataset := thinningFixture(map[string]float64{
		"member00": 0, "member01": 1, "member02": -1,
	}, 4)

	thinned := ThinMembers(dataset, 3)

	assert.Equal(t, dataset.Members, thinned.Members)
	assert.Equal(t, dataset.Days, thinned.Days)
}

func TestThinMembers_PicksMostDiverse(t *testing.T) {
	// member03 is far from everyone; a 2-member selection must keep it.
	dataset := thinningFixture(map[string]float64{
		"member00": 0, "member01": 0.2, "member02": 0.4, "member03": 8,
	}, 6)

	thinned := ThinMembers(dataset, 2)

	require.Len(t, thinned.Members, 2)
	assert.Equal(t, []string{"member00", "member03"}, thinned.Members)
}

func TestThinMembers_SelectionConsistentAcrossHours(t *testing.T) {
	dataset := thinningFixture(map[string]float64{
		"member00": 0, "member01": 2, "member02": -3, "member03": 5, "member04": -5,
	}, 8)

	thinned := ThinMembers(dataset, 3)

	require.Len(t, thinned.Members, 3)

	for _, day := range thinned.Days {
		for _, hour := range day.Hours {
			assert.Len(t, hour.Members, 3)

			for id := range hour.Members {
				assert.Contains(t, thinned.Members, id)
			}
		}
	}
}

func TestThinMembers_DegenerateInputs(t *testing.T) {
	assert.Nil(t, ThinMembers(nil, 3))

	dataset := thinningFixture(map[string]float64{"member00": 0}, 2)
	assert.Equal(t, dataset, ThinMembers(dataset, 0))
	assert.Equal(t, dataset, ThinMembers(dataset, 5))
}
