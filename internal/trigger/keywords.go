package trigger

import (
	"strings"

	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/textnorm"
	"github.com/tobfel/stagecue/internal/token"
)

// LooseMatch reports whether a normalized token and a keyword match under
// the engine's substring rule: either string containing the other counts.
// This is intentionally loose — "golpes" matches keyword "golpe" and token
// "hit" matches keyword "hits" — and is the behaviour authored sheets rely
// on, so do not tighten it here.
func LooseMatch(tokenNorm, keyword string, f textnorm.Flags) bool {
	kw := textnorm.Normalize(keyword, f)
	if tokenNorm == "" || kw == "" {
		return false
	}
	return strings.Contains(tokenNorm, kw) || strings.Contains(kw, tokenNorm)
}

// FirstKeywordMatch returns the first enabled keyword in kws that
// loose-matches tok, and whether one was found.
func FirstKeywordMatch(tok token.DetectedToken, kws []cuesheet.Keyword, f textnorm.Flags) (string, bool) {
	for _, k := range kws {
		if !k.IsEnabled() {
			continue
		}
		if LooseMatch(tok.Token, k.Text, f) {
			return k.Text, true
		}
	}
	return "", false
}

// BatchPosition returns the word position of the first token in batch that
// loose-matches keyword, or (-1, false) when none does.
func BatchPosition(batch []token.DetectedToken, keyword string, f textnorm.Flags) (int, bool) {
	for _, tok := range batch {
		if LooseMatch(tok.Token, keyword, f) {
			return tok.WordPosition, true
		}
	}
	return -1, false
}

// AnyInBatch reports whether at least one of keywords loose-matches a token
// in batch, returning the first matching keyword and its position.
func AnyInBatch(batch []token.DetectedToken, keywords []string, f textnorm.Flags) (keyword string, pos int, ok bool) {
	for _, kw := range keywords {
		if p, found := BatchPosition(batch, kw, f); found {
			return kw, p, true
		}
	}
	return "", -1, false
}

// AllInBatch reports whether every keyword loose-matches some token in
// batch. An empty keyword list does not satisfy the rule. The returned
// position is that of the first keyword's match.
func AllInBatch(batch []token.DetectedToken, keywords []string, f textnorm.Flags) (pos int, ok bool) {
	if len(keywords) == 0 {
		return -1, false
	}
	first := -1
	for i, kw := range keywords {
		p, found := BatchPosition(batch, kw, f)
		if !found {
			return -1, false
		}
		if i == 0 {
			first = p
		}
	}
	return first, true
}

// InText reports whether keyword appears as a substring of the normalized
// full text. Context keywords match against the whole accumulated message,
// not just the new batch.
func InText(normText, keyword string, f textnorm.Flags) bool {
	kw := textnorm.Normalize(keyword, f)
	if kw == "" {
		return false
	}
	return strings.Contains(normText, kw)
}

// AnyInText reports whether at least one keyword appears in the normalized
// full text.
func AnyInText(normText string, keywords []string, f textnorm.Flags) bool {
	for _, kw := range keywords {
		if InText(normText, kw, f) {
			return true
		}
	}
	return false
}

// AllInText reports whether every keyword appears in the normalized full
// text. An empty keyword list does not satisfy the rule.
func AllInText(normText string, keywords []string, f textnorm.Flags) bool {
	if len(keywords) == 0 {
		return false
	}
	for _, kw := range keywords {
		if !InText(normText, kw, f) {
			return false
		}
	}
	return true
}

// KeywordTexts extracts the enabled keyword strings from kws.
func KeywordTexts(kws []cuesheet.Keyword) []string {
	out := make([]string, 0, len(kws))
	for _, k := range kws {
		if k.IsEnabled() && k.Text != "" {
			out = append(out, k.Text)
		}
	}
	return out
}
