// Package stemfile turns a sealed store into output files: one audio file per
// stream, a manifest describing the stems, and optionally a packaged
// multi-track container.
package stemfile

import (
	"fmt"
	"strconv"
	"strings"

	"stemgen/waveform"
)

// Stem describes one separated source.
type Stem struct {
	Name     string
	Color    uint32
	Muted    bool
	Waveform waveform.Peaks
}

// DefaultStems returns the four stems in model output order.
func DefaultStems() []Stem {
	return []Stem{
		{Name: "Drums", Color: 0x009E73},
		{Name: "Bass", Color: 0xD55E00},
		{Name: "Other", Color: 0xCC79A7},
		{Name: "Vocals", Color: 0x56B4E9},
	}
}

// Hex returns the stem colour as #RRGGBB.
func (s Stem) Hex() string {
	return FormatColor(s.Color)
}

// FormatColor formats an RGB value as #RRGGBB.
func FormatColor(c uint32) string {
	return fmt.Sprintf("#%06X", c&0xFFFFFF)
}

// ParseColor parses #RRGGBB (the leading # is optional).
func ParseColor(s string) (uint32, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return 0, fmt.Errorf("invalid colour %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return uint32(v), nil
}

// PreviewMask returns the playback mask for stems: bit i is set when stem i
// is not muted.
func PreviewMask(stems []Stem) uint8 {
	var mask uint8
	for i, s := range stems {
		if i >= 8 {
			break
		}
		if !s.Muted {
			mask |= 1 << i
		}
	}
	return mask
}
