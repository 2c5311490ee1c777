package domain

import (
	"fmt"
	"strings"
)

// ModelKind distinguishes the two families of NWP output the pipeline can
// consume.
type ModelKind string

const (
	// KindEnsemble identifies a model producing multiple equally-plausible
	// realizations of the forecast.
	KindEnsemble ModelKind = "ensemble"

	// KindDeterministic identifies a model producing a single best-estimate
	// trajectory; treated downstream as an ensemble with one member.
	KindDeterministic ModelKind = "deterministic"
)

// ModelSpec is the parsed form of a model reference string. References are
// parsed exactly once at configuration time and flow through the pipeline as
// values.
type ModelSpec struct {
	// ID is the upstream model identifier (e.g. "ecmwf_ifs025").
	ID string

	// Kind routes requests to the ensemble or deterministic endpoint.
	Kind ModelKind

	// MemberCount is the known member count for ensemble models, 1 otherwise.
	MemberCount int
}

// ensembleMemberCounts is the catalog of supported ensemble models and their
// member counts. Bare references are classified against this table.
var ensembleMemberCounts = map[string]int{
	"ecmwf_ifs025":             51,
	"ecmwf_aifs025":            51,
	"gem_global":               21,
	"ukmo_global_ensemble_20km": 21,
	"ukmo_uk_ensemble_2km":     3,
	"gfs025":                   31,
	"icon_seamless":            40,
}

// deterministicModels are the deterministic identifiers accepted without a
// kind prefix. "open-meteo" selects the provider's automatic model choice and
// is sent without a models parameter.
var deterministicModels = map[string]bool{
	"ecmwf_ifs":     true,
	"icon_seamless": true,
	"open-meteo":    true,
}

// DefaultEnsembleModel is used when the configuration names no model.
const DefaultEnsembleModel = "ecmwf_ifs025"

// ParseModelSpec parses a model reference into a ModelSpec.
//
// Accepted forms:
//   - "ens:<id>" — ensemble model; the id must be in the ensemble catalog
//   - "det:<id>" — deterministic model
//   - "<id>" — bare reference, classified as ensemble when the id is in the
//     ensemble catalog, deterministic otherwise
//
// An empty reference resolves to the default ensemble model.
//
// Parameters:
//   - ref: The model reference string from configuration
//
// Returns:
//   - ModelSpec: Parsed model specification
//   - error: Config error for unknown ensemble identifiers
func ParseModelSpec(ref string) (ModelSpec, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ModelSpec{
			ID:          DefaultEnsembleModel,
			Kind:        KindEnsemble,
			MemberCount: ensembleMemberCounts[DefaultEnsembleModel],
		}, nil
	}

	switch {
	case strings.HasPrefix(ref, "ens:"):
		id := strings.TrimPrefix(ref, "ens:")
		count, ok := ensembleMemberCounts[id]

		if !ok {
			return ModelSpec{}, NewConfigError(fmt.Sprintf("unknown ensemble model %q", id), nil)
		}

		return ModelSpec{ID: id, Kind: KindEnsemble, MemberCount: count}, nil

	case strings.HasPrefix(ref, "det:"):
		id := strings.TrimPrefix(ref, "det:")

		if id == "" {
			return ModelSpec{}, NewConfigError("empty deterministic model reference", nil)
		}

		return ModelSpec{ID: id, Kind: KindDeterministic, MemberCount: 1}, nil

	default:
		if count, ok := ensembleMemberCounts[ref]; ok {
			return ModelSpec{ID: ref, Kind: KindEnsemble, MemberCount: count}, nil
		}

		return ModelSpec{ID: ref, Kind: KindDeterministic, MemberCount: 1}, nil
	}
}

// IsAutoModel reports whether the spec selects the provider's automatic model,
// which is requested without a models query parameter.
func (m ModelSpec) IsAutoModel() bool {
	return m.Kind == KindDeterministic && m.ID == "open-meteo"
}

// String renders the canonical "<kind>:<id>" reference form.
func (m ModelSpec) String() string {
	if m.Kind == KindEnsemble {
		return "ens:" + m.ID
	}

	return "det:" + m.ID
}

// CreditLine returns the data-source acknowledgement text for a model,
// rendered at the foot of every forecast page.
func (m ModelSpec) CreditLine() (label string, url string) {
	switch {
	case strings.HasPrefix(m.ID, "ecmwf"):
		return "ECMWF open data via Open-Meteo", "https://open-meteo.com/"
	case strings.HasPrefix(m.ID, "gem"):
		return "Environment Canada GEM via Open-Meteo", "https://open-meteo.com/"
	case strings.HasPrefix(m.ID, "ukmo"):
		return "UK Met Office via Open-Meteo", "https://open-meteo.com/"
	case strings.HasPrefix(m.ID, "gfs"):
		return "NOAA GFS via Open-Meteo", "https://open-meteo.com/"
	case strings.HasPrefix(m.ID, "icon"):
		return "DWD ICON via Open-Meteo", "https://open-meteo.com/"
	default:
		return "Weather data by Open-Meteo", "https://open-meteo.com/"
	}
}
