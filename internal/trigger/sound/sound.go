// Package sound matches new tokens against authored sound triggers and
// emits play-sound cues. One sound can fire per token position, up to a
// per-message ceiling.
package sound

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/tobfel/stagecue/internal/cooldown"
	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/token"
	"github.com/tobfel/stagecue/internal/trigger"
)

// defaultMaxPerMessage bounds how many sounds a single message can fire.
const defaultMaxPerMessage = 4

// soundsCounter is the per-message counter name.
const soundsCounter = "sounds"

// Option is a functional option for [New].
type Option func(*Handler)

// WithMaxPerMessage sets the per-message hit ceiling. Zero means unlimited.
func WithMaxPerMessage(n int) Option {
	return func(h *Handler) { h.maxPerMessage = n }
}

// WithGlobalCooldown sets the context-global minimum interval between any
// two sound fires for one speaker. Zero disables the global gate.
func WithGlobalCooldown(d time.Duration) Option {
	return func(h *Handler) { h.global = d }
}

// WithRand replaces the collection picker's random source. Tests inject a
// deterministic function.
func WithRand(intN func(n int) int) Option {
	return func(h *Handler) { h.intN = intN }
}

// Handler implements [trigger.Handler] for the sound domain.
type Handler struct {
	triggers  []cuesheet.SoundTrigger
	cooldowns *cooldown.Registry
	state     *trigger.MessageState

	maxPerMessage int
	global        time.Duration
	intN          func(n int) int
}

var _ trigger.Handler = (*Handler)(nil)

// New creates a sound handler over the sheet's triggers. Inactive triggers
// are dropped; the rest are ordered by priority, highest first, preserving
// sheet order on ties.
func New(triggers []cuesheet.SoundTrigger, cooldowns *cooldown.Registry, opts ...Option) *Handler {
	h := &Handler{
		triggers:      sortByPriority(triggers),
		cooldowns:     cooldowns,
		state:         trigger.NewMessageState(),
		maxPerMessage: defaultMaxPerMessage,
		intN:          rand.IntN,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Domain implements [trigger.Handler].
func (h *Handler) Domain() trigger.Domain { return trigger.DomainSound }

// Match walks the batch in detection order. For each token, the first
// trigger with a matching enabled keyword that passes its cooldown wins,
// and scanning moves on to the next token: one sound per token position.
func (h *Handler) Match(ctx trigger.Context, batch []token.DetectedToken) []trigger.Match {
	var hits []trigger.Match

	for _, tok := range batch {
		if h.maxPerMessage > 0 && h.state.Count(ctx.MessageID, soundsCounter) >= h.maxPerMessage {
			break
		}
		if h.state.Fired(ctx.MessageID, tok.WordPosition) {
			continue
		}

		for _, tr := range h.triggers {
			kw, ok := trigger.FirstKeywordMatch(tok, tr.Keywords, ctx.Flags)
			if !ok {
				continue
			}

			policy := cooldown.Policy{Global: h.global, PerTrigger: tr.Cooldown.D()}
			if !h.cooldowns.Ready(ctx.SpeakerID, tr.ID, policy) {
				continue
			}

			file, ok := h.pickFile(tr)
			if !ok {
				continue
			}

			cue := trigger.SoundCue{TriggerID: tr.ID, URL: file.URL, Volume: file.Volume}
			hits = append(hits, trigger.Match{
				TriggerID:    tr.ID,
				Domain:       trigger.DomainSound,
				Keyword:      kw,
				WordPosition: tok.WordPosition,
				Apply: func(ex trigger.Executor) error {
					return ex.PlaySound(cue)
				},
			})

			h.state.MarkFired(ctx.MessageID, tok.WordPosition)
			h.state.Inc(ctx.MessageID, soundsCounter)
			if policy.Global > 0 || policy.PerTrigger > 0 {
				h.cooldowns.MarkFired(ctx.SpeakerID, tr.ID)
			}
			break
		}
	}

	return hits
}

// EndMessage implements [trigger.Handler].
func (h *Handler) EndMessage(messageID string) { h.state.EndMessage(messageID) }

// Reset implements [trigger.Handler].
func (h *Handler) Reset() { h.state.Reset() }

// pickFile chooses one entry from the trigger's collection. A missing
// volume defaults to full volume.
func (h *Handler) pickFile(tr cuesheet.SoundTrigger) (cuesheet.SoundFile, bool) {
	if len(tr.Files) == 0 {
		return cuesheet.SoundFile{}, false
	}
	file := tr.Files[h.intN(len(tr.Files))]
	if file.Volume <= 0 {
		file.Volume = 1.0
	}
	return file, true
}

// sortByPriority returns the active triggers ordered by priority descending,
// stable on sheet order.
func sortByPriority(triggers []cuesheet.SoundTrigger) []cuesheet.SoundTrigger {
	out := make([]cuesheet.SoundTrigger, 0, len(triggers))
	for _, t := range triggers {
		if t.Active {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, func(a, b cuesheet.SoundTrigger) int {
		return b.Priority - a.Priority
	})
	return out
}
