package stemfile

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slug turns a title into an ASCII file name component: accents are
// stripped, symbols dropped, and spaces become underscores. It returns
// "track" when nothing usable remains.
func Slug(str string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
	)
	normalized, _, err := transform.String(t, str)
	if err != nil {
		normalized = str
	}

	filtered := strings.Map(func(r rune) rune {
		if r > 127 {
			return -1
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		if unicode.IsSpace(r) || r == '-' || r == '_' || r == '.' {
			return ' '
		}
		return -1
	}, normalized)

	filtered = strings.Join(strings.Fields(filtered), "_")
	if filtered == "" {
		return "track"
	}
	return filtered
}

// BaseName returns the slug of a source file name without its extension.
func BaseName(path string) string {
	name := filepath.Base(path)
	return Slug(strings.TrimSuffix(name, filepath.Ext(name)))
}
