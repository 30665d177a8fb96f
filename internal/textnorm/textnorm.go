// Package textnorm provides the string canonicalization shared by every
// matcher in the engine. Any two strings compared anywhere in the trigger
// pipeline must both pass through [Normalize] with identical [Flags],
// otherwise case or diacritic differences in generated text silently break
// keyword matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Flags controls how [Normalize] canonicalizes a string. The zero value is
// the default matching mode: case-insensitive with accents folded.
type Flags struct {
	// CaseSensitive disables lowercasing.
	CaseSensitive bool

	// KeepAccents disables diacritic stripping, so "golpé" and "golpe"
	// remain distinct.
	KeepAccents bool
}

// accentFolder decomposes to NFD, drops combining marks, and recomposes.
// It is stateless and safe for concurrent use.
var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes s for keyword matching: lowercases (unless
// f.CaseSensitive), strips combining diacritical marks via canonical
// decomposition (unless f.KeepAccents), and retains only letters, digits,
// spaces, underscores, and hyphens.
func Normalize(s string, f Flags) string {
	if !f.CaseSensitive {
		s = strings.ToLower(s)
	}
	if !f.KeepAccents {
		if folded, _, err := transform.String(accentFolder, s); err == nil {
			s = folded
		}
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Fold is shorthand for [Normalize] with default flags (case-insensitive,
// accents folded).
func Fold(s string) string {
	return Normalize(s, Flags{})
}
