package token

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/tobfel/stagecue/internal/textnorm"
)

const (
	// maxLabelLen is the maximum length of a |label| body, excluding delimiters.
	maxLabelLen = 80

	// maxBracketLen is the maximum length of a [body], excluding brackets.
	maxBracketLen = 400

	// minWordLen and maxWordLen bound plain word tokens.
	minWordLen = 2
	maxWordLen = 40
)

// wordRE matches runs of word characters for plain-word extraction.
var wordRE = regexp.MustCompile(`[\p{L}\p{N}_]{2,40}`)

// messageState is the per-message incremental scan state.
type messageState struct {
	// scanned is the byte offset of the full text already consumed.
	scanned int

	// tokens is the full ordered token list already emitted.
	tokens []DetectedToken
}

// Option is a functional option for [New].
type Option func(*Detector)

// WithFlags sets the normalization flags applied to extracted tokens.
// Default: case-insensitive, accents folded.
func WithFlags(f textnorm.Flags) Option {
	return func(d *Detector) { d.flags = f }
}

// Detector is the incremental tokenizer. It keeps one [messageState] per
// message identifier; [Detector.Reset] must be called exactly once when a
// message's lifecycle ends, otherwise state grows without bound over a long
// conversation.
//
// All methods are safe for concurrent use, though the engine drives each
// message from a single goroutine.
type Detector struct {
	flags textnorm.Flags

	mu     sync.Mutex
	states map[string]*messageState
}

// New returns an initialised [Detector].
func New(opts ...Option) *Detector {
	d := &Detector{
		states: make(map[string]*messageState),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ProcessIncremental scans only the portion of fullText beyond the offset
// already consumed for messageID and returns the newly discovered tokens.
// Calling it twice with identical fullText yields an empty second batch.
//
// While a message is streaming, a trailing fragment that may still be
// completed by the next chunk (an unterminated bracket or pipe span, or a
// word run touching the end of the text) is held back and re-examined on the
// next call. Use [Detector.Flush] once the text is final to drain it.
func (d *Detector) ProcessIncremental(fullText, messageID string) []DetectedToken {
	return d.process(fullText, messageID, false)
}

// Flush scans any held-back remainder of fullText for messageID without
// holding back trailing fragments. Call it when the message text is known to
// be complete (end of stream) and before [Detector.Reset].
func (d *Detector) Flush(fullText, messageID string) []DetectedToken {
	return d.process(fullText, messageID, true)
}

// ProcessFull discards any state for messageID and scans fullText from the
// beginning in one pass. Used for non-streaming input.
func (d *Detector) ProcessFull(fullText, messageID string) []DetectedToken {
	d.Reset(messageID)
	return d.process(fullText, messageID, true)
}

// Reset discards all tracked offset and token state for messageID.
func (d *Detector) Reset(messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, messageID)
}

// ResetAll discards the state of every tracked message.
func (d *Detector) ResetAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states = make(map[string]*messageState)
}

// Tokens returns a copy of the full ordered token list emitted so far for
// messageID.
func (d *Detector) Tokens(messageID string) []DetectedToken {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[messageID]
	if !ok {
		return nil
	}
	out := make([]DetectedToken, len(st.tokens))
	copy(out, st.tokens)
	return out
}

// process is the shared scan path. When final is false, a possibly-incomplete
// trailing fragment is excluded from the scan and left for the next call.
func (d *Detector) process(fullText, messageID string, final bool) []DetectedToken {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[messageID]
	if !ok {
		st = &messageState{}
		d.states[messageID] = st
	}

	if st.scanned >= len(fullText) {
		return nil
	}

	base := st.scanned
	suffix := fullText[base:]

	hold := len(suffix)
	if !final {
		hold = holdbackStart(suffix)
	}
	if hold <= 0 {
		return nil
	}
	region := suffix[:hold]

	pipes, huds, blanked := scanStructured(region, base, d.flags)

	var words []DetectedToken
	for _, loc := range wordRE.FindAllStringIndex(blanked, -1) {
		original := region[loc[0]:loc[1]]
		normalized := textnorm.Normalize(original, d.flags)
		if len(normalized) < minWordLen {
			continue
		}
		words = append(words, DetectedToken{
			Token:        normalized,
			Original:     original,
			Type:         TypeWord,
			CharPosition: base + loc[0],
		})
	}

	var emojis []DetectedToken
	for i, r := range blanked {
		if !isPictographic(r) {
			continue
		}
		original := region[i : i+utf8.RuneLen(r)]
		emojis = append(emojis, DetectedToken{
			Token:        original,
			Original:     original,
			Type:         TypeEmoji,
			CharPosition: base + i,
		})
	}

	// Fixed emission order: pipe labels, bracket tokens, words, emoji.
	// WordPosition continues from the count already emitted for this message,
	// so positions never collide or regress across incremental calls.
	batch := make([]DetectedToken, 0, len(pipes)+len(huds)+len(words)+len(emojis))
	batch = append(batch, pipes...)
	batch = append(batch, huds...)
	batch = append(batch, words...)
	batch = append(batch, emojis...)
	for i := range batch {
		batch[i].WordPosition = len(st.tokens) + i
	}

	st.tokens = append(st.tokens, batch...)
	st.scanned = base + hold
	return batch
}

// scanStructured walks region once, extracting bracket and pipe spans in
// positional order. A "[" opens a bracket span when a matching "]" exists
// within the length limit; otherwise the "|" delimiters are tried for a
// label. The returned blanked string has every structured span replaced by
// spaces so that plain-word scanning cannot see inside them.
func scanStructured(region string, base int, flags textnorm.Flags) (pipes, huds []DetectedToken, blanked string) {
	buf := []byte(region)

	i := 0
	for i < len(region) {
		switch region[i] {
		case '[':
			end := closingIndex(region, i+1, ']', maxBracketLen, "[]")
			if end < 0 {
				i++
				continue
			}
			huds = append(huds, parseBracket(region[i+1:end], base+i+1, flags)...)
			blankRange(buf, i, end+1)
			i = end + 1

		case '|':
			end := closingIndex(region, i+1, '|', maxLabelLen, "")
			if end < 0 || end == i+1 {
				i++
				continue
			}
			body := region[i+1 : end]
			pipes = append(pipes, DetectedToken{
				Token:        textnorm.Normalize(body, flags),
				Original:     body,
				Type:         TypePipe,
				CharPosition: base + i + 1,
			})
			blankRange(buf, i, end+1)
			i = end + 1

		default:
			i++
		}
	}

	return pipes, huds, string(buf)
}

// closingIndex finds the index of delim in s at or after start, within
// maxBody bytes, with no newline and none of the bytes in forbidden in
// between. Returns -1 when no valid close exists.
func closingIndex(s string, start int, delim byte, maxBody int, forbidden string) int {
	limit := start + maxBody
	if limit >= len(s) {
		limit = len(s) - 1
	}
	for j := start; j <= limit; j++ {
		c := s[j]
		if c == delim {
			return j
		}
		if c == '\n' || strings.IndexByte(forbidden, c) >= 0 {
			return -1
		}
	}
	return -1
}

// parseBracket splits a bracket body into |-separated sub-parts and emits a
// key token plus, when a value is present, a value token sharing metadata.
// Malformed or empty parts are skipped silently; bracket content comes from
// untrusted generated text.
func parseBracket(body string, base int, flags textnorm.Flags) []DetectedToken {
	var out []DetectedToken

	offset := 0
	for _, part := range strings.Split(body, "|") {
		partBase := base + offset
		offset += len(part) + 1

		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}

		key, value, hasValue := strings.Cut(trimmed, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}

		meta := &Metadata{HUDKey: key}
		if hasValue {
			meta.HUDValue = value
		}

		keyNorm := textnorm.Normalize(key, flags)
		if keyNorm == "" {
			continue
		}
		out = append(out, DetectedToken{
			Token:        keyNorm,
			Original:     key,
			Type:         TypeHUD,
			CharPosition: partBase,
			Meta:         meta,
		})

		if hasValue && value != "" {
			if valNorm := textnorm.Normalize(value, flags); valNorm != "" {
				out = append(out, DetectedToken{
					Token:        valNorm,
					Original:     value,
					Type:         TypeHUD,
					CharPosition: partBase,
					Meta:         meta,
				})
			}
		}
	}

	return out
}

// holdbackStart returns the byte offset in suffix up to which it is safe to
// scan while more text may still arrive. Anything beyond the offset is an
// unterminated bracket span, an unterminated pipe span, or a word run
// touching the end of the text — all of which the next chunk may complete.
func holdbackStart(suffix string) int {
	hold := len(suffix)

	// Unterminated trailing bracket.
	if open := strings.LastIndexByte(suffix, '['); open >= 0 {
		rest := suffix[open+1:]
		if !strings.ContainsAny(rest, "]\n") && len(rest) <= maxBracketLen {
			hold = open
		}
	}

	// Unterminated trailing pipe. Complete brackets are blanked first so
	// their interior separators are not mistaken for label delimiters.
	region := blankBrackets(suffix[:hold])
	if strings.Count(region, "|")%2 == 1 {
		p := strings.LastIndexByte(region, '|')
		rest := region[p+1:]
		if !strings.ContainsRune(rest, '\n') && len(rest) <= maxLabelLen {
			hold = p
		}
	}

	// Word run touching the end of the scannable region.
	runStart := hold
	runLen := 0
	for runStart > 0 && runLen < maxWordLen {
		r, size := utf8.DecodeLastRuneInString(suffix[:runStart])
		if r == utf8.RuneError || !isWordRune(r) {
			break
		}
		runStart -= size
		runLen++
	}
	if runLen > 0 && runLen < maxWordLen {
		hold = runStart
	}

	return hold
}

// blankBrackets replaces every complete [body] span with spaces, preserving
// offsets.
func blankBrackets(s string) string {
	buf := []byte(s)
	i := 0
	for i < len(s) {
		if s[i] == '[' {
			if end := closingIndex(s, i+1, ']', maxBracketLen, "[]"); end >= 0 {
				blankRange(buf, i, end+1)
				i = end + 1
				continue
			}
		}
		i++
	}
	return string(buf)
}

// blankRange overwrites buf[from:to] with spaces.
func blankRange(buf []byte, from, to int) {
	for k := from; k < to && k < len(buf); k++ {
		buf[k] = ' '
	}
}

// isWordRune reports whether r belongs to a plain word token.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// isPictographic reports whether r falls in the emoji/pictographic blocks
// the detector recognises.
func isPictographic(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F5FF, // misc symbols and pictographs
		r >= 0x1F600 && r <= 0x1F64F, // emoticons
		r >= 0x1F680 && r <= 0x1F6FF, // transport and map
		r >= 0x1F900 && r <= 0x1F9FF, // supplemental symbols
		r >= 0x1FA70 && r <= 0x1FAFF, // symbols and pictographs extended-A
		r >= 0x2600 && r <= 0x26FF, // misc symbols
		r >= 0x2700 && r <= 0x27BF: // dingbats
		return true
	}
	return false
}
