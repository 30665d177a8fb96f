package hud

import (
	"testing"

	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/textnorm"
	"github.com/tobfel/stagecue/internal/token"
	"github.com/tobfel/stagecue/internal/trigger"
	"github.com/tobfel/stagecue/internal/trigger/triggertest"
)

func ptr[T any](v T) *T { return &v }

func testCtx(messageID string) trigger.Context {
	return trigger.NewContext("conv-1", messageID, "spk-1", "", true, textnorm.Flags{})
}

// batch tokenizes text with a fresh detector, so the tests exercise the
// same bracket tokens the engine produces.
func batch(t *testing.T, text string) []token.DetectedToken {
	t.Helper()
	return token.New().ProcessFull(text, "m-batch")
}

func hpField() cuesheet.HUDField {
	return cuesheet.HUDField{
		ID:   "f-hp",
		Key:  "hp",
		Type: cuesheet.FieldNumber,
		Min:  ptr(0.0),
		Max:  ptr(100.0),
	}
}

func TestMatch_NumberClamped(t *testing.T) {
	t.Parallel()

	h := New([]cuesheet.HUDField{hpField()})
	hits := h.Match(testCtx("m1"), batch(t, "[hp=150]"))
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}

	rec := &triggertest.Recorder{}
	if err := hits[0].Apply(rec); err != nil {
		t.Fatalf("apply: %v", err)
	}
	cue := rec.HUDs[0]
	if cue.FieldID != "f-hp" || cue.Value != "100" {
		t.Errorf("cue = %+v, want clamped 100", cue)
	}
}

func TestMatch_NoOpRejected(t *testing.T) {
	t.Parallel()

	h := New([]cuesheet.HUDField{hpField()}, WithCurrent(func(fieldID string) (string, bool) {
		return "100", true
	}))
	if hits := h.Match(testCtx("m1"), batch(t, "[hp=150]")); len(hits) != 0 {
		t.Fatalf("got %d hits, want 0 for unchanged value", len(hits))
	}
}

func TestMatch_OneUpdatePerFieldPerMessage(t *testing.T) {
	t.Parallel()

	h := New([]cuesheet.HUDField{hpField()})
	ctx := testCtx("m1")

	if hits := h.Match(ctx, batch(t, "[hp=50]")); len(hits) != 1 {
		t.Fatal("setup fire failed")
	}
	// A later bracket for the same field, at fresh word positions, is
	// still dropped: one update per field per message.
	meta := &token.Metadata{HUDKey: "hp", HUDValue: "60"}
	later := []token.DetectedToken{
		{Token: "hp", Type: token.TypeHUD, WordPosition: 7, Meta: meta},
		{Token: "60", Type: token.TypeHUD, WordPosition: 8, Meta: meta},
	}
	if hits := h.Match(ctx, later); len(hits) != 0 {
		t.Fatal("second update for same field in one message must be dropped")
	}

	h.EndMessage("m1")
	if hits := h.Match(ctx, batch(t, "[hp=60]")); len(hits) != 1 {
		t.Fatal("field budget must reset with the message")
	}
}

func TestMatch_KeyCaseInsensitive(t *testing.T) {
	t.Parallel()

	h := New([]cuesheet.HUDField{hpField()})
	if hits := h.Match(testCtx("m1"), batch(t, "[HP=10]")); len(hits) != 1 {
		t.Fatalf("got %d hits, want 1 (case-insensitive key)", len(hits))
	}
}

func TestMatch_UnknownKeyIgnored(t *testing.T) {
	t.Parallel()

	h := New([]cuesheet.HUDField{hpField()})
	if hits := h.Match(testCtx("m1"), batch(t, "[mana=10]")); len(hits) != 0 {
		t.Fatalf("got %d hits for undeclared key, want 0", len(hits))
	}
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	enum := cuesheet.HUDField{ID: "f-mood", Key: "mood", Type: cuesheet.FieldEnum,
		Options: []string{"Calm", "Angry"}}
	boolean := cuesheet.HUDField{ID: "f-poison", Key: "poisoned", Type: cuesheet.FieldBoolean}
	text := cuesheet.HUDField{ID: "f-title", Key: "title", Type: cuesheet.FieldText}

	tests := []struct {
		name   string
		field  cuesheet.HUDField
		raw    string
		want   string
		wantOK bool
	}{
		{"number in range", hpField(), "42", "42", true},
		{"number clamped low", hpField(), "-3", "0", true},
		{"number not numeric", hpField(), "abc", "", false},
		{"enum canonical case", enum, "angry", "Angry", true},
		{"enum unknown", enum, "ecstatic", "", false},
		{"bool yes", boolean, "Yes", "true", true},
		{"bool off", boolean, "off", "false", true},
		{"bool garbage", boolean, "maybe", "", false},
		{"text trimmed", text, "  hello  ", "hello", true},
		{"empty rejected", text, "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Coerce(tt.field, tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Coerce(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
