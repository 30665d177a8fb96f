// Package resolve maps free-text candidate names from generated text onto
// registry entries (quests, items). Resolution runs in strict precedence
// order: exact normalized name, then substring, then tag, then — when
// enabled — a phonetic/fuzzy rescue stage for near-miss spellings, using
// Double Metaphone candidate filtering ranked by Jaro-Winkler similarity.
package resolve

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/tobfel/stagecue/internal/textnorm"
)

// defaultFuzzyThreshold is the minimum Jaro-Winkler score for the fuzzy
// stage to accept a candidate.
const defaultFuzzyThreshold = 0.86

// Entry is one resolvable registry entry.
type Entry struct {
	ID   string
	Name string
	Tags []string
}

// Option is a functional option for [New].
type Option func(*Resolver)

// WithFuzzy enables the phonetic/fuzzy rescue stage with the given minimum
// Jaro-Winkler score. Pass 0 to use the default threshold of 0.86.
func WithFuzzy(threshold float64) Option {
	return func(r *Resolver) {
		r.fuzzy = true
		if threshold > 0 {
			r.threshold = threshold
		}
	}
}

// WithFlags sets the normalization flags used for name comparison.
func WithFlags(f textnorm.Flags) Option {
	return func(r *Resolver) { r.flags = f }
}

// Resolver resolves candidate names against an entry list. It is read-only
// after construction and safe for concurrent use.
type Resolver struct {
	flags     textnorm.Flags
	fuzzy     bool
	threshold float64
}

// New returns a [Resolver]. The fuzzy stage is disabled by default.
func New(opts ...Option) *Resolver {
	r := &Resolver{threshold: defaultFuzzyThreshold}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the registry entry the candidate refers to, if any.
// Precedence: exact name, substring (either direction), tag, fuzzy.
// Within one tier, the first entry in registry order wins.
func (r *Resolver) Resolve(candidate string, entries []Entry) (Entry, bool) {
	cand := textnorm.Normalize(strings.TrimSpace(candidate), r.flags)
	if cand == "" || len(entries) == 0 {
		return Entry{}, false
	}

	// Tier 1: exact name.
	for _, e := range entries {
		if textnorm.Normalize(e.Name, r.flags) == cand {
			return e, true
		}
	}

	// Tier 2: substring, either direction.
	for _, e := range entries {
		name := textnorm.Normalize(e.Name, r.flags)
		if name == "" {
			continue
		}
		if strings.Contains(name, cand) || strings.Contains(cand, name) {
			return e, true
		}
	}

	// Tier 3: exact tag.
	for _, e := range entries {
		for _, tag := range e.Tags {
			if textnorm.Normalize(tag, r.flags) == cand {
				return e, true
			}
		}
	}

	// Tier 4: phonetic/fuzzy rescue.
	if r.fuzzy {
		return r.resolveFuzzy(cand, entries)
	}
	return Entry{}, false
}

// resolveFuzzy picks the entry with the highest Jaro-Winkler score among
// phonetic candidates, falling back over all entries, provided the score
// clears the threshold.
func (r *Resolver) resolveFuzzy(cand string, entries []Entry) (Entry, bool) {
	candCodes := metaphoneCodes(cand)

	var best Entry
	var bestScore float64
	var bestPhonetic bool

	for _, e := range entries {
		name := textnorm.Normalize(e.Name, r.flags)
		if name == "" {
			continue
		}

		phonetic := codesOverlap(candCodes, metaphoneCodes(name))
		score := matchr.JaroWinkler(cand, name, false)
		if score < r.threshold {
			continue
		}

		switch {
		case phonetic && !bestPhonetic,
			phonetic == bestPhonetic && score > bestScore:
			best, bestScore, bestPhonetic = e, score, phonetic
		}
	}

	if bestScore > 0 {
		return best, true
	}
	return Entry{}, false
}

// metaphoneCodes returns the union of Double Metaphone codes for every
// whitespace-separated word of s.
func metaphoneCodes(s string) map[string]struct{} {
	codes := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		p, sec := matchr.DoubleMetaphone(w)
		if p != "" {
			codes[p] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
