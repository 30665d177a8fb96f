// Package sprite selects the character image to display. Matching is
// two-tier: composite packs first (one pack keyword plus every item key
// must be present in the batch), then simple single-keyword triggers as a
// fallback. At most one sprite change is emitted per batch.
package sprite

import (
	"slices"

	"github.com/tobfel/stagecue/internal/cooldown"
	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/textnorm"
	"github.com/tobfel/stagecue/internal/token"
	"github.com/tobfel/stagecue/internal/trigger"
)

// Handler implements [trigger.Handler] for the sprite domain.
type Handler struct {
	sheet     *cuesheet.Sheet
	packs     []cuesheet.SpritePack
	triggers  []cuesheet.SpriteTrigger
	cooldowns *cooldown.Registry
	state     *trigger.MessageState
}

var _ trigger.Handler = (*Handler)(nil)

// New creates a sprite handler over the sheet's packs and fallback
// triggers. The sheet is retained to resolve item key libraries.
func New(sheet *cuesheet.Sheet, cooldowns *cooldown.Registry) *Handler {
	h := &Handler{
		sheet:     sheet,
		cooldowns: cooldowns,
		state:     trigger.NewMessageState(),
	}
	for _, p := range sheet.SpritePacks {
		if p.Active {
			h.packs = append(h.packs, p)
		}
	}
	for _, t := range sheet.SpriteTriggers {
		if t.Active {
			h.triggers = append(h.triggers, t)
		}
	}
	sortPacks(h.packs)
	sortTriggers(h.triggers)
	return h
}

// Domain implements [trigger.Handler].
func (h *Handler) Domain() trigger.Domain { return trigger.DomainSprite }

// Match tries packs in priority order, then simple triggers. The first
// pack whose keyword matches and that holds a satisfiable item wins; the
// winning item is the one with the most satisfied keys.
func (h *Handler) Match(ctx trigger.Context, batch []token.DetectedToken) []trigger.Match {
	if len(batch) == 0 {
		return nil
	}

	for _, p := range h.packs {
		kw, pos, ok := trigger.AnyInBatch(batch, trigger.KeywordTexts(p.Keywords), ctx.Flags)
		if !ok || h.state.Fired(ctx.MessageID, pos) {
			continue
		}

		policy := cooldown.Policy{PerTrigger: p.Cooldown.D()}
		if !h.cooldowns.Ready(ctx.SpeakerID, p.ID, policy) {
			continue
		}

		item, ok := h.bestItem(p, batch, ctx.Flags)
		if !ok {
			continue
		}

		h.state.MarkFired(ctx.MessageID, pos)
		if policy.PerTrigger > 0 {
			h.cooldowns.MarkFired(ctx.SpeakerID, p.ID)
		}

		cue := trigger.SpriteCue{
			TriggerID:   p.ID,
			URL:         item.URL,
			Label:       item.Label,
			ReturnDelay: item.ReturnDelay.D(),
		}
		return []trigger.Match{{
			TriggerID:    p.ID,
			Domain:       trigger.DomainSprite,
			Keyword:      kw,
			WordPosition: pos,
			Apply: func(ex trigger.Executor) error {
				return ex.SetSprite(cue)
			},
		}}
	}

	return h.matchSimple(ctx, batch)
}

// matchSimple is the fallback tier over single-keyword triggers.
func (h *Handler) matchSimple(ctx trigger.Context, batch []token.DetectedToken) []trigger.Match {
	for _, tr := range h.triggers {
		kw, pos, ok := trigger.AnyInBatch(batch, trigger.KeywordTexts(tr.Keywords), ctx.Flags)
		if !ok || h.state.Fired(ctx.MessageID, pos) {
			continue
		}

		policy := cooldown.Policy{PerTrigger: tr.Cooldown.D()}
		if !h.cooldowns.Ready(ctx.SpeakerID, tr.ID, policy) {
			continue
		}

		h.state.MarkFired(ctx.MessageID, pos)
		if policy.PerTrigger > 0 {
			h.cooldowns.MarkFired(ctx.SpeakerID, tr.ID)
		}

		cue := trigger.SpriteCue{
			TriggerID:   tr.ID,
			URL:         tr.URL,
			Label:       tr.Label,
			ReturnDelay: tr.ReturnDelay.D(),
		}
		return []trigger.Match{{
			TriggerID:    tr.ID,
			Domain:       trigger.DomainSprite,
			Keyword:      kw,
			WordPosition: pos,
			Apply: func(ex trigger.Executor) error {
				return ex.SetSprite(cue)
			},
		}}
	}
	return nil
}

// EndMessage implements [trigger.Handler].
func (h *Handler) EndMessage(messageID string) { h.state.EndMessage(messageID) }

// Reset implements [trigger.Handler].
func (h *Handler) Reset() { h.state.Reset() }

// bestItem returns the pack item with the most satisfied keys. Every key
// of an item (manual or library-resolved) must match somewhere in the
// batch. An item with no keys at all acts as the pack default and only
// wins when no keyed item matches.
func (h *Handler) bestItem(p cuesheet.SpritePack, batch []token.DetectedToken, f textnorm.Flags) (cuesheet.SpriteItem, bool) {
	var best cuesheet.SpriteItem
	bestKeys := -1

	for _, item := range p.Items {
		keys := h.sheet.LibraryKeys(item)
		if len(keys) == 0 {
			if bestKeys < 0 {
				best, bestKeys = item, 0
			}
			continue
		}
		if _, ok := trigger.AllInBatch(batch, keys, f); !ok {
			continue
		}
		if len(keys) > bestKeys {
			best, bestKeys = item, len(keys)
		}
	}

	return best, bestKeys >= 0
}

func sortPacks(packs []cuesheet.SpritePack) {
	slices.SortStableFunc(packs, func(a, b cuesheet.SpritePack) int {
		return b.Priority - a.Priority
	})
}

func sortTriggers(triggers []cuesheet.SpriteTrigger) {
	slices.SortStableFunc(triggers, func(a, b cuesheet.SpriteTrigger) int {
		return b.Priority - a.Priority
	})
}
