package background

import (
	"testing"

	"github.com/tobfel/stagecue/internal/cooldown"
	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/textnorm"
	"github.com/tobfel/stagecue/internal/trigger"
	"github.com/tobfel/stagecue/internal/trigger/triggertest"
)

func testCtx(messageID, fullText string) trigger.Context {
	return trigger.NewContext("conv-1", messageID, "spk-1", fullText, true, textnorm.Flags{})
}

func forestItem() cuesheet.BackgroundItem {
	return cuesheet.BackgroundItem{
		ID:              "bg-forest",
		Active:          true,
		TriggerKeywords: []cuesheet.Keyword{{Text: "forest"}},
		URL:             "forest.png",
	}
}

func apply(t *testing.T, hits []trigger.Match) trigger.BackgroundCue {
	t.Helper()
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	rec := &triggertest.Recorder{}
	if err := hits[0].Apply(rec); err != nil {
		t.Fatalf("apply: %v", err)
	}
	return rec.Backgrounds[0]
}

func TestMatch_PackPriorityWins(t *testing.T) {
	t.Parallel()

	low := forestItem()
	low.ID, low.URL = "bg-low", "low.png"
	high := forestItem()
	high.ID, high.URL = "bg-high", "high.png"

	sheet := &cuesheet.Sheet{BackgroundPacks: []cuesheet.BackgroundPack{
		{ID: "pk-low", Active: true, Priority: 5, Items: []cuesheet.BackgroundItem{low}},
		{ID: "pk-high", Active: true, Priority: 10, Items: []cuesheet.BackgroundItem{high}},
	}}
	h := New(sheet, cooldown.New())

	text := "they enter the forest"
	cue := apply(t, h.Match(testCtx("m1", text), triggertest.WordBatch(text)))
	if cue.TriggerID != "bg-high" {
		t.Errorf("cue = %+v, want item from priority-10 pack", cue)
	}
}

func TestMatch_ItemPriorityBeatsPackOrder(t *testing.T) {
	t.Parallel()

	low := forestItem()
	low.ID, low.Priority, low.URL = "bg-low", 1, "low.png"
	high := forestItem()
	high.ID, high.Priority, high.URL = "bg-high", 99, "high.png"

	// Equal pack priorities: the priority-99 item in the later pack must
	// beat the priority-1 item in the earlier one.
	sheet := &cuesheet.Sheet{BackgroundPacks: []cuesheet.BackgroundPack{
		{ID: "pk-a", Active: true, Priority: 5, Items: []cuesheet.BackgroundItem{low}},
		{ID: "pk-b", Active: true, Priority: 5, Items: []cuesheet.BackgroundItem{high}},
	}}
	h := New(sheet, cooldown.New())

	text := "they enter the forest"
	cue := apply(t, h.Match(testCtx("m1", text), triggertest.WordBatch(text)))
	if cue.TriggerID != "bg-high" {
		t.Errorf("cue = %+v, want the priority-99 item regardless of pack order", cue)
	}
}

func TestMatch_ItemPriorityWithinPack(t *testing.T) {
	t.Parallel()

	a := forestItem()
	a.ID, a.Priority = "bg-a", 1
	b := forestItem()
	b.ID, b.Priority = "bg-b", 9

	sheet := &cuesheet.Sheet{BackgroundPacks: []cuesheet.BackgroundPack{
		{ID: "pk", Active: true, Items: []cuesheet.BackgroundItem{a, b}},
	}}
	h := New(sheet, cooldown.New())

	text := "deep forest"
	cue := apply(t, h.Match(testCtx("m1", text), triggertest.WordBatch(text)))
	if cue.TriggerID != "bg-b" {
		t.Errorf("cue = %+v, want higher-priority item", cue)
	}
}

func TestMatch_Modes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mode    cuesheet.MatchMode
		text    string
		wantHit bool
	}{
		{"any_any one trigger one context", cuesheet.MatchAnyAny, "dark forest at night", true},
		{"any_any no context keyword", cuesheet.MatchAnyAny, "sunny forest", false},
		{"all_any missing trigger keyword", cuesheet.MatchAllAny, "dark forest", false},
		{"all_any both triggers", cuesheet.MatchAllAny, "dark forest with old trees", true},
		{"any_all all context", cuesheet.MatchAnyAll, "forest at night in the dark", true},
		{"any_all partial context", cuesheet.MatchAnyAll, "forest at night", false},
		{"all_all everything", cuesheet.MatchAllAll, "dark night trees in the forest", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			item := cuesheet.BackgroundItem{
				ID:              "bg-mode",
				Active:          true,
				Mode:            tt.mode,
				TriggerKeywords: []cuesheet.Keyword{{Text: "forest"}, {Text: "trees"}},
				ContextKeywords: []string{"night", "dark"},
				URL:             "x.png",
			}
			sheet := &cuesheet.Sheet{BackgroundPacks: []cuesheet.BackgroundPack{
				{ID: "pk", Active: true, Items: []cuesheet.BackgroundItem{item}},
			}}
			h := New(sheet, cooldown.New())

			hits := h.Match(testCtx("m1", tt.text), triggertest.WordBatch(tt.text))
			if got := len(hits) == 1; got != tt.wantHit {
				t.Errorf("hit = %v, want %v", got, tt.wantHit)
			}
		})
	}
}

func TestMatch_NoContextKeywordsIsSatisfied(t *testing.T) {
	t.Parallel()

	sheet := &cuesheet.Sheet{BackgroundPacks: []cuesheet.BackgroundPack{
		{ID: "pk", Active: true, Items: []cuesheet.BackgroundItem{forestItem()}},
	}}
	h := New(sheet, cooldown.New())

	text := "a forest"
	if hits := h.Match(testCtx("m1", text), triggertest.WordBatch(text)); len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
}

func TestMatch_VariantMostContextKeysWins(t *testing.T) {
	t.Parallel()

	item := forestItem()
	item.Variants = []cuesheet.BackgroundVariant{
		{ID: "v-night", URL: "forest-night.png", ContextKeywords: []string{"night"}},
		{ID: "v-storm", URL: "forest-storm.png", ContextKeywords: []string{"night", "storm"}},
	}
	sheet := &cuesheet.Sheet{BackgroundPacks: []cuesheet.BackgroundPack{
		{ID: "pk", Active: true, Items: []cuesheet.BackgroundItem{item}},
	}}
	h := New(sheet, cooldown.New())

	text := "a storm rages over the forest at night"
	cue := apply(t, h.Match(testCtx("m1", text), triggertest.WordBatch(text)))
	if cue.URL != "forest-storm.png" {
		t.Errorf("cue = %+v, want variant with most context keys", cue)
	}
}

func TestMatch_VariantFailingOwnRuleSkipped(t *testing.T) {
	t.Parallel()

	item := forestItem()
	item.Variants = []cuesheet.BackgroundVariant{
		{ID: "v-winter", URL: "forest-winter.png", ContextKeywords: []string{"snow"}},
	}
	sheet := &cuesheet.Sheet{BackgroundPacks: []cuesheet.BackgroundPack{
		{ID: "pk", Active: true, Items: []cuesheet.BackgroundItem{item}},
	}}
	h := New(sheet, cooldown.New())

	text := "a summer forest"
	cue := apply(t, h.Match(testCtx("m1", text), triggertest.WordBatch(text)))
	if cue.URL != "forest.png" {
		t.Errorf("cue = %+v, want base item URL when no variant passes", cue)
	}
}

func TestMatch_OverlayMergeRankAndOrder(t *testing.T) {
	t.Parallel()

	item := forestItem()
	item.Overlays = []cuesheet.Overlay{{ID: "fog", URL: "fog-item.png", Opacity: 0.9, ZIndex: 2}}
	item.Variants = []cuesheet.BackgroundVariant{{
		ID:              "v-night",
		URL:             "forest-night.png",
		ContextKeywords: []string{"night"},
		Overlays:        []cuesheet.Overlay{{ID: "stars", URL: "stars.png", ZIndex: 1}},
	}}

	sheet := &cuesheet.Sheet{
		GlobalOverlays: []cuesheet.Overlay{
			{ID: "fog", URL: "fog-global.png", ZIndex: 2},
			{ID: "vignette", URL: "vignette.png", ZIndex: 5},
		},
		BackgroundPacks: []cuesheet.BackgroundPack{{
			ID: "pk", Active: true,
			DefaultOverlays: []cuesheet.Overlay{{ID: "grain", URL: "grain.png", ZIndex: 0}},
			Items:           []cuesheet.BackgroundItem{item},
		}},
	}
	h := New(sheet, cooldown.New())

	text := "the forest at night"
	cue := apply(t, h.Match(testCtx("m1", text), triggertest.WordBatch(text)))

	ids := make([]string, 0, len(cue.Overlays))
	for _, ov := range cue.Overlays {
		ids = append(ids, ov.ID)
	}
	want := []string{"grain", "stars", "fog", "vignette"}
	if len(ids) != len(want) {
		t.Fatalf("overlays = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("overlays = %v, want %v", ids, want)
		}
	}

	// The item-level fog overrides the global one with the same id.
	for _, ov := range cue.Overlays {
		if ov.ID == "fog" && ov.URL != "fog-item.png" {
			t.Errorf("fog overlay = %+v, item source must override global", ov)
		}
	}
}

func TestMatch_PositionDedup(t *testing.T) {
	t.Parallel()

	sheet := &cuesheet.Sheet{BackgroundPacks: []cuesheet.BackgroundPack{
		{ID: "pk", Active: true, Items: []cuesheet.BackgroundItem{forestItem()}},
	}}
	h := New(sheet, cooldown.New())

	text := "the forest"
	ctx := testCtx("m1", text)
	batch := triggertest.WordBatch(text)

	if hits := h.Match(ctx, batch); len(hits) != 1 {
		t.Fatal("setup fire failed")
	}
	if hits := h.Match(ctx, batch); len(hits) != 0 {
		t.Fatal("same position must not refire")
	}
}
