package stemfile

import (
	"encoding/json"
	"fmt"
	"io"
)

// ManifestVersion is the manifest format version.
const ManifestVersion = 1

// Manifest is the metadata embedded next to the stems.
type Manifest struct {
	Stems        []ManifestStem `json:"stems"`
	MasteringDSP MasteringDSP   `json:"mastering_dsp"`
	Version      int            `json:"version"`
}

type ManifestStem struct {
	Color string `json:"color"`
	Name  string `json:"name"`
}

type MasteringDSP struct {
	Compressor Compressor `json:"compressor"`
	Limiter    Limiter    `json:"limiter"`
}

type Compressor struct {
	Enabled    bool    `json:"enabled"`
	Ratio      float64 `json:"ratio"`
	OutputGain float64 `json:"output_gain"`
	Release    float64 `json:"release"`
	Attack     float64 `json:"attack"`
	InputGain  float64 `json:"input_gain"`
	Threshold  float64 `json:"threshold"`
	HPCutoff   float64 `json:"hp_cutoff"`
	DryWet     float64 `json:"dry_wet"`
}

type Limiter struct {
	Enabled   bool    `json:"enabled"`
	Release   float64 `json:"release"`
	Threshold float64 `json:"threshold"`
	Ceiling   float64 `json:"ceiling"`
}

// DefaultMasteringDSP returns the neutral mastering settings: both processors
// present and disabled.
func DefaultMasteringDSP() MasteringDSP {
	return MasteringDSP{
		Compressor: Compressor{
			Ratio:    10,
			Release:  1.0,
			Attack:   0.0001,
			HPCutoff: 20,
			DryWet:   100,
		},
		Limiter: Limiter{
			Release: 1.0,
		},
	}
}

// NewManifest builds the manifest for stems with default mastering settings.
func NewManifest(stems []Stem) Manifest {
	m := Manifest{
		Stems:        make([]ManifestStem, len(stems)),
		MasteringDSP: DefaultMasteringDSP(),
		Version:      ManifestVersion,
	}
	for i, s := range stems {
		m.Stems[i] = ManifestStem{Color: s.Hex(), Name: s.Name}
	}
	return m
}

// Encode writes the manifest as JSON.
func (m Manifest) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// DecodeManifest reads a JSON manifest.
func DecodeManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return Manifest{}, fmt.Errorf("unsupported manifest version %d", m.Version)
	}
	return m, nil
}

// StemsFromManifest returns the stems described by m.
func StemsFromManifest(m Manifest) ([]Stem, error) {
	stems := make([]Stem, len(m.Stems))
	for i, s := range m.Stems {
		c, err := ParseColor(s.Color)
		if err != nil {
			return nil, err
		}
		stems[i] = Stem{Name: s.Name, Color: c}
	}
	return stems, nil
}
