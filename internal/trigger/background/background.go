// Package background selects the scene background. All active packs are
// evaluated and the satisfied item with the highest item priority across
// them wins, with pack priority breaking ties; each item declares an
// any/all match mode over its trigger keywords (checked against the new
// token batch) and context keywords (checked against the whole
// accumulated text). A matched item may resolve to a more specific
// variant, and overlays are merged across four ranked sources.
package background

import (
	"slices"

	"github.com/tobfel/stagecue/internal/cooldown"
	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/token"
	"github.com/tobfel/stagecue/internal/trigger"
)

// Handler implements [trigger.Handler] for the background domain.
type Handler struct {
	sheet     *cuesheet.Sheet
	packs     []cuesheet.BackgroundPack
	cooldowns *cooldown.Registry
	state     *trigger.MessageState
}

var _ trigger.Handler = (*Handler)(nil)

// New creates a background handler over the sheet's packs. Inactive packs
// are dropped; packs and their items are ordered by priority descending.
func New(sheet *cuesheet.Sheet, cooldowns *cooldown.Registry) *Handler {
	h := &Handler{
		sheet:     sheet,
		cooldowns: cooldowns,
		state:     trigger.NewMessageState(),
	}
	for _, p := range sheet.BackgroundPacks {
		if !p.Active {
			continue
		}
		p.Items = slices.Clone(p.Items)
		slices.SortStableFunc(p.Items, func(a, b cuesheet.BackgroundItem) int {
			return b.Priority - a.Priority
		})
		h.packs = append(h.packs, p)
	}
	slices.SortStableFunc(h.packs, func(a, b cuesheet.BackgroundPack) int {
		return b.Priority - a.Priority
	})
	return h
}

// Domain implements [trigger.Handler].
func (h *Handler) Domain() trigger.Domain { return trigger.DomainBackground }

// Match returns at most one hit: the satisfied item with the highest item
// priority across all packs. Ties fall to the higher priority pack, then
// to item order within it.
func (h *Handler) Match(ctx trigger.Context, batch []token.DetectedToken) []trigger.Match {
	if len(batch) == 0 {
		return nil
	}

	var (
		bestPack cuesheet.BackgroundPack
		bestItem cuesheet.BackgroundItem
		bestKw   string
		bestPos  int
		found    bool
	)
	for _, p := range h.packs {
		for _, item := range p.Items {
			if !item.Active {
				continue
			}

			kw, pos, ok := h.matchItem(ctx, item, batch)
			if !ok || h.state.Fired(ctx.MessageID, pos) {
				continue
			}
			if !h.cooldowns.Ready(ctx.SpeakerID, item.ID, cooldown.Policy{PerTrigger: item.Cooldown.D()}) {
				continue
			}

			// Packs and items are priority-sorted, so the first
			// candidate already wins any tie.
			if found && item.Priority <= bestItem.Priority {
				continue
			}
			bestPack, bestItem, bestKw, bestPos, found = p, item, kw, pos, true
		}
	}
	if !found {
		return nil
	}

	h.state.MarkFired(ctx.MessageID, bestPos)
	if bestItem.Cooldown.D() > 0 {
		h.cooldowns.MarkFired(ctx.SpeakerID, bestItem.ID)
	}

	cue := h.buildCue(ctx, bestPack, bestItem, batch)
	return []trigger.Match{{
		TriggerID:    bestItem.ID,
		Domain:       trigger.DomainBackground,
		Keyword:      bestKw,
		WordPosition: bestPos,
		Apply: func(ex trigger.Executor) error {
			return ex.SetBackground(cue)
		},
	}}
}

// EndMessage implements [trigger.Handler].
func (h *Handler) EndMessage(messageID string) { h.state.EndMessage(messageID) }

// Reset implements [trigger.Handler].
func (h *Handler) Reset() { h.state.Reset() }

// matchItem evaluates the item's match mode. Trigger keywords run against
// the new batch; context keywords run against the normalized full text. An
// item with no context keywords has its context side treated as satisfied
// (sheets use context keywords to narrow, not to require).
func (h *Handler) matchItem(ctx trigger.Context, item cuesheet.BackgroundItem, batch []token.DetectedToken) (string, int, bool) {
	mode := item.Mode.OrDefault()
	trig := trigger.KeywordTexts(item.TriggerKeywords)

	var kw string
	var pos int
	var ok bool
	switch mode {
	case cuesheet.MatchAnyAny, cuesheet.MatchAnyAll:
		kw, pos, ok = trigger.AnyInBatch(batch, trig, ctx.Flags)
	case cuesheet.MatchAllAny, cuesheet.MatchAllAll:
		pos, ok = trigger.AllInBatch(batch, trig, ctx.Flags)
		if ok && len(trig) > 0 {
			kw = trig[0]
		}
	}
	if !ok {
		return "", -1, false
	}

	if len(item.ContextKeywords) > 0 {
		switch mode {
		case cuesheet.MatchAnyAny, cuesheet.MatchAllAny:
			ok = trigger.AnyInText(ctx.NormText, item.ContextKeywords, ctx.Flags)
		case cuesheet.MatchAnyAll, cuesheet.MatchAllAll:
			ok = trigger.AllInText(ctx.NormText, item.ContextKeywords, ctx.Flags)
		}
		if !ok {
			return "", -1, false
		}
	}

	return kw, pos, true
}

// buildCue picks the item's best variant and merges overlays across the
// four ranked sources: global < pack-default < variant < item.
func (h *Handler) buildCue(ctx trigger.Context, p cuesheet.BackgroundPack, item cuesheet.BackgroundItem, batch []token.DetectedToken) trigger.BackgroundCue {
	url := item.URL
	var variantOverlays []cuesheet.Overlay

	if v, ok := bestVariant(ctx, item, batch); ok {
		url = v.URL
		variantOverlays = v.Overlays
	}

	overlays := mergeOverlays(
		h.sheet.GlobalOverlays,
		p.DefaultOverlays,
		variantOverlays,
		item.Overlays,
	)

	return trigger.BackgroundCue{
		TriggerID:  item.ID,
		URL:        url,
		Transition: item.Transition,
		Overlays:   overlays,
	}
}

// bestVariant returns the variant with the most satisfied context keys
// that still passes its own any/any rule: any of its trigger keywords in
// the batch (when it declares any) and any of its context keywords in the
// full text (when it declares any).
func bestVariant(ctx trigger.Context, item cuesheet.BackgroundItem, batch []token.DetectedToken) (cuesheet.BackgroundVariant, bool) {
	var best cuesheet.BackgroundVariant
	bestScore := -1

	for _, v := range item.Variants {
		if len(v.TriggerKeywords) > 0 {
			if _, _, ok := trigger.AnyInBatch(batch, v.TriggerKeywords, ctx.Flags); !ok {
				continue
			}
		}
		if len(v.ContextKeywords) > 0 {
			if !trigger.AnyInText(ctx.NormText, v.ContextKeywords, ctx.Flags) {
				continue
			}
		}

		score := contextScore(ctx, v.ContextKeywords)
		if score > bestScore {
			best, bestScore = v, score
		}
	}

	return best, bestScore >= 0
}

// contextScore counts how many of the variant's context keys appear in the
// full text.
func contextScore(ctx trigger.Context, keys []string) int {
	n := 0
	for _, k := range keys {
		if trigger.InText(ctx.NormText, k, ctx.Flags) {
			n++
		}
	}
	return n
}

// mergeOverlays merges overlay sources in ascending rank; a later source's
// overlay replaces an earlier one with the same id. The result is ordered
// by ZIndex ascending, stable on merge order.
func mergeOverlays(sources ...[]cuesheet.Overlay) []cuesheet.Overlay {
	index := make(map[string]int)
	var merged []cuesheet.Overlay

	for _, src := range sources {
		for _, ov := range src {
			if i, ok := index[ov.ID]; ok {
				merged[i] = ov
				continue
			}
			index[ov.ID] = len(merged)
			merged = append(merged, ov)
		}
	}

	slices.SortStableFunc(merged, func(a, b cuesheet.Overlay) int {
		return a.ZIndex - b.ZIndex
	})
	return merged
}
