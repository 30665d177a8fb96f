package stats

import (
	"testing"

	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/textnorm"
	"github.com/tobfel/stagecue/internal/token"
	"github.com/tobfel/stagecue/internal/trigger"
	"github.com/tobfel/stagecue/internal/trigger/triggertest"
)

func ptr[T any](v T) *T { return &v }

func attrs() []cuesheet.StatAttribute {
	return []cuesheet.StatAttribute{
		{
			ID:       "st-hp",
			Name:     "hp",
			Active:   true,
			Patterns: []string{`hp[:=]\s*(-?\d+)`},
			Min:      ptr(0.0),
			Max:      ptr(100.0),
		},
		{
			ID:       "st-mood",
			Name:     "mood",
			Active:   true,
			Patterns: []string{`mood[:=]\s*(\w+)`},
		},
	}
}

func testCtx(messageID, fullText string) trigger.Context {
	return trigger.NewContext("conv-1", messageID, "spk-1", fullText, true, textnorm.Flags{})
}

var anyBatch = []token.DetectedToken{{Token: "x", Type: token.TypeWord}}

func TestMatch_DetectsAndClamps(t *testing.T) {
	t.Parallel()

	h := New(attrs())
	hits := h.Match(testCtx("m1", "the blow lands, hp: 150"), anyBatch)
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}

	rec := &triggertest.Recorder{}
	if err := hits[0].Apply(rec); err != nil {
		t.Fatalf("apply: %v", err)
	}
	cue := rec.Stats[0]
	if cue.AttributeID != "st-hp" || cue.Value != "100" {
		t.Errorf("cue = %+v, want clamped 100", cue)
	}
}

func TestMatch_UnchangedValueRejected(t *testing.T) {
	t.Parallel()

	h := New(attrs(), WithCurrent(func(attributeID string) (string, bool) {
		if attributeID == "st-hp" {
			return "40", true
		}
		return "", false
	}))

	if hits := h.Match(testCtx("m1", "hp: 40"), anyBatch); len(hits) != 0 {
		t.Fatalf("got %d hits for unchanged value, want 0", len(hits))
	}
	if hits := h.Match(testCtx("m1", "hp: 41"), anyBatch); len(hits) != 1 {
		t.Fatalf("got %d hits for changed value, want 1", len(hits))
	}
}

func TestMatch_LaterMentionSupersedes(t *testing.T) {
	t.Parallel()

	h := New(attrs())

	// Streaming: the first scan sees one value, the grown text a newer one.
	if hits := h.Match(testCtx("m1", "mood: gloomy"), anyBatch); len(hits) != 1 {
		t.Fatal("setup fire failed")
	}
	hits := h.Match(testCtx("m1", "mood: gloomy ... later, mood: cheerful"), anyBatch)
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1 for the superseding value", len(hits))
	}
	rec := &triggertest.Recorder{}
	if err := hits[0].Apply(rec); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.Stats[0].Value != "cheerful" {
		t.Errorf("value = %q, want cheerful", rec.Stats[0].Value)
	}
}

func TestMatch_RescanSameValueSilent(t *testing.T) {
	t.Parallel()

	h := New(attrs())
	if hits := h.Match(testCtx("m1", "hp: 20"), anyBatch); len(hits) != 1 {
		t.Fatal("setup fire failed")
	}
	if hits := h.Match(testCtx("m1", "hp: 20 and the fight goes on"), anyBatch); len(hits) != 0 {
		t.Fatal("rescan with same value must stay silent")
	}
}

func TestNew_SkipsInvalidAndInactive(t *testing.T) {
	t.Parallel()

	h := New([]cuesheet.StatAttribute{
		{ID: "st-bad", Name: "bad", Active: true, Patterns: []string{`no capture`}},
		{ID: "st-off", Name: "off", Active: false, Patterns: []string{`off[:=](\d+)`}},
	})
	if hits := h.Match(testCtx("m1", "no capture off:3"), anyBatch); len(hits) != 0 {
		t.Fatalf("got %d hits, want 0", len(hits))
	}
}

func TestMatch_MultipleAttributes(t *testing.T) {
	t.Parallel()

	h := New(attrs())
	hits := h.Match(testCtx("m1", "hp: 55 and mood: wary"), anyBatch)
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
}
