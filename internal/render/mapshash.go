package render

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/sean-rowe/impact-forecast/internal/infrastructure/fsio"
)

// mapsStateFile records what the site was last generated from so area maps
// are only regenerated when their inputs change.
const mapsStateFile = ".ibf_maps_hash"

// MapsState is the persisted incremental-regeneration state.
type MapsState struct {
	// ConfigHash is the sha256 of the canonical serialized configuration.
	ConfigHash string `json:"config_hash"`

	// Areas maps area slug to the fingerprint of its name and member list.
	Areas map[string]string `json:"areas"`
}

// LoadMapsState reads the state file from the web root. A missing or
// unparseable file yields an empty state.
func LoadMapsState(webRoot string) MapsState {
	state := MapsState{Areas: map[string]string{}}
	data, err := os.ReadFile(filepath.Join(webRoot, mapsStateFile))

	if err != nil {
		return state
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return MapsState{Areas: map[string]string{}}
	}

	if state.Areas == nil {
		state.Areas = map[string]string{}
	}

	return state
}

// SaveMapsState writes the state file atomically.
func SaveMapsState(webRoot string, state MapsState) error {
	data, err := json.MarshalIndent(state, "", "  ")

	if err != nil {
		return err
	}

	return fsio.WriteFileAtomic(filepath.Join(webRoot, mapsStateFile), data, 0o644)
}

// AreaFingerprint hashes an area's identity: its name plus the sorted member
// location names. Reordering members does not change the fingerprint.
func AreaFingerprint(name string, members []string) string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)

	payload, _ := json.Marshal(struct {
		Name      string   `json:"name"`
		Locations []string `json:"locations"`
	}{Name: name, Locations: sorted})

	sum := sha256.Sum256(payload)

	return hex.EncodeToString(sum[:])
}
