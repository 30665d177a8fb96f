// Package token implements the incremental tokenizer that turns the growing
// text of a streamed response into typed [DetectedToken] values.
//
// The detector tracks, per message, how far into the text it has already
// scanned and how many tokens it has emitted, so that each call to
// [Detector.ProcessIncremental] returns only the tokens newly discoverable
// since the previous call. Four token kinds are extracted, in fixed order of
// priority:
//
//  1. Pipe labels — |label| — short delimiter-wrapped annotations. Label text
//     is excluded from plain-word scanning.
//  2. Bracket key/value tokens — [key=value|key2|...] — one token per key
//     and, when present, one per value, sharing the same metadata.
//  3. Plain words — runs of 2–40 word characters, scanned with the spans of
//     structured tokens blanked out.
//  4. Emoji / pictographic runes.
//
// WordPosition values are unique and strictly increasing within a message's
// token stream across any number of incremental calls; downstream handlers
// use them as deduplication keys.
package token

// Type classifies a [DetectedToken].
type Type string

const (
	// TypePipe is a |label| delimiter-wrapped token.
	TypePipe Type = "pipe"

	// TypeWord is a plain word token.
	TypeWord Type = "word"

	// TypeHUD is a bracket [key=value] token (key or value part).
	TypeHUD Type = "hud"

	// TypeEmoji is a single pictographic rune.
	TypeEmoji Type = "emoji"
)

// Metadata carries the parsed key/value of a bracket token. The key token
// and its value token share one Metadata value.
type Metadata struct {
	// HUDKey is the part before the first "=" of a bracket sub-part.
	HUDKey string

	// HUDValue is the part after the first "=". Empty when the sub-part
	// carried no value.
	HUDValue string
}

// DetectedToken is one lexical signal found in the response text.
type DetectedToken struct {
	// Token is the normalized form used for matching.
	Token string

	// Original is the raw text as it appeared in the response.
	Original string

	// Type classifies how the token was extracted.
	Type Type

	// CharPosition is the byte offset of Original within the full message text.
	CharPosition int

	// WordPosition is the ordinal index of this token within the message's
	// cumulative token stream. Unique and strictly increasing per message;
	// the unit of handler deduplication.
	WordPosition int

	// Meta is set only for [TypeHUD] tokens.
	Meta *Metadata
}
