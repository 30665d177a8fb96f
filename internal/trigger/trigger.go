// Package trigger defines the framework shared by all domain handlers: the
// per-call context bundle, the match/execute contract, per-message
// deduplication state, and the loose keyword matching helpers.
//
// Each domain handler is a pure matching function over a batch of newly
// detected tokens plus a paired execute step that performs the side effect
// through the injected [Executor]. Handlers never talk to each other; the
// orchestrator fans the same batch out to every enabled handler in fixed
// registration order.
package trigger

import (
	"time"

	"github.com/tobfel/stagecue/internal/textnorm"
	"github.com/tobfel/stagecue/internal/token"
)

// Domain identifies which handler produced a match.
type Domain string

const (
	DomainSound      Domain = "sound"
	DomainSprite     Domain = "sprite"
	DomainBackground Domain = "background"
	DomainHUD        Domain = "hud"
	DomainQuest      Domain = "quest"
	DomainItem       Domain = "item"
	DomainStats      Domain = "stats"
)

// Context is the immutable per-call bundle handed to every handler on one
// text update. It is constructed by the orchestrator and never mutated by
// handlers.
type Context struct {
	// SpeakerID identifies the active speaker; also the cooldown context key.
	SpeakerID string

	// Participants is the optional roster of characters in the conversation.
	Participants []string

	// ConversationID identifies the owning conversation session.
	ConversationID string

	// MessageID is stable for the lifetime of one streamed response.
	MessageID string

	// FullText is the complete accumulated text of the message so far.
	FullText string

	// NormText is FullText passed through [textnorm.Normalize] with Flags.
	// Precomputed once per call; context-keyword checks run against it.
	NormText string

	// Streaming is true while the message is still being generated.
	Streaming bool

	// Timestamp is when this text update was received.
	Timestamp time.Time

	// Flags are the normalization flags in effect for this speaker.
	Flags textnorm.Flags
}

// NewContext fills in NormText and Timestamp and returns the bundle.
func NewContext(conversationID, messageID, speakerID, fullText string, streaming bool, flags textnorm.Flags) Context {
	return Context{
		SpeakerID:      speakerID,
		ConversationID: conversationID,
		MessageID:      messageID,
		FullText:       fullText,
		NormText:       textnorm.Normalize(fullText, flags),
		Streaming:      streaming,
		Timestamp:      time.Now(),
		Flags:          flags,
	}
}

// Match is the result of a successful trigger match. Apply performs the
// domain side effect through the injected [Executor]; the orchestrator calls
// it once per hit and logs (but does not propagate) failures so one broken
// effect cannot stop the rest of the batch.
type Match struct {
	// TriggerID is the id of the authored definition that fired.
	TriggerID string

	// Domain identifies the producing handler.
	Domain Domain

	// Keyword is the keyword text that matched, when applicable.
	Keyword string

	// WordPosition is the token position the hit was deduplicated on, or -1
	// for hits not tied to a single token (directives, stats).
	WordPosition int

	// Apply executes the side effect.
	Apply func(Executor) error
}

// Handler is one domain matcher. Implementations keep their own per-message
// mutable state and consult the shared cooldown registry internally.
type Handler interface {
	// Domain returns the handler's domain tag.
	Domain() Domain

	// Match inspects the new token batch and returns zero or more hits.
	Match(ctx Context, batch []token.DetectedToken) []Match

	// EndMessage discards the handler's per-message state for messageID.
	EndMessage(messageID string)

	// Reset discards all per-message state, e.g. on session teardown.
	Reset()
}
