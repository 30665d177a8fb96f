package triggertest

import (
	"strings"

	"github.com/tobfel/stagecue/internal/textnorm"
	"github.com/tobfel/stagecue/internal/token"
)

// Words builds a batch of word tokens with consecutive positions starting
// at start, normalizing each word with default flags.
func Words(start int, words ...string) []token.DetectedToken {
	batch := make([]token.DetectedToken, 0, len(words))
	for i, w := range words {
		batch = append(batch, token.DetectedToken{
			Token:        textnorm.Normalize(w, textnorm.Flags{}),
			Original:     w,
			Type:         token.TypeWord,
			WordPosition: start + i,
		})
	}
	return batch
}

// WordBatch splits text on whitespace and returns the words as a token
// batch starting at position 0.
func WordBatch(text string) []token.DetectedToken {
	return Words(0, strings.Fields(text)...)
}
