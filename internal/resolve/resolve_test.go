package resolve

import (
	"testing"

	"github.com/tobfel/stagecue/internal/cuesheet"
)

var registry = []Entry{
	{ID: "itm-sword", Name: "Rusty Sword", Tags: []string{"weapon", "blade"}},
	{ID: "itm-amulet", Name: "Amulet of Whispers", Tags: []string{"jewelry"}},
	{ID: "itm-key", Name: "Key", Tags: nil},
}

func TestResolve_ExactBeatsSubstring(t *testing.T) {
	t.Parallel()

	r := New()
	e, ok := r.Resolve("Key", registry)
	if !ok || e.ID != "itm-key" {
		t.Fatalf("got (%+v, %v)", e, ok)
	}
}

func TestResolve_Substring(t *testing.T) {
	t.Parallel()

	r := New()

	// Candidate contained in a registry name.
	e, ok := r.Resolve("amulet", registry)
	if !ok || e.ID != "itm-amulet" {
		t.Fatalf("got (%+v, %v)", e, ok)
	}

	// Registry name contained in the candidate.
	e, ok = r.Resolve("the old rusty sword of doom", registry)
	if !ok || e.ID != "itm-sword" {
		t.Fatalf("got (%+v, %v)", e, ok)
	}
}

func TestResolve_Tag(t *testing.T) {
	t.Parallel()

	r := New()
	e, ok := r.Resolve("blade", registry)
	if !ok || e.ID != "itm-sword" {
		t.Fatalf("got (%+v, %v)", e, ok)
	}
}

func TestResolve_NoMatch(t *testing.T) {
	t.Parallel()

	r := New()
	if _, ok := r.Resolve("dragon egg", registry); ok {
		t.Error("unknown candidate must not resolve without fuzzy")
	}
	if _, ok := r.Resolve("", registry); ok {
		t.Error("empty candidate must not resolve")
	}
}

func TestResolve_FuzzyRescue(t *testing.T) {
	t.Parallel()

	strict := New()
	if _, ok := strict.Resolve("amulet of wispers", nil); ok {
		t.Error("empty registry must not resolve")
	}

	fuzzy := New(WithFuzzy(0.85))
	e, ok := fuzzy.Resolve("amulet of wispers", registry)
	if !ok || e.ID != "itm-amulet" {
		t.Fatalf("fuzzy rescue failed: (%+v, %v)", e, ok)
	}
}

func TestPatternDetector_LastOccurrenceWins(t *testing.T) {
	t.Parallel()

	d, err := NewPatternDetector(cuesheet.StatAttribute{
		ID:       "st-mood",
		Name:     "mood",
		Patterns: []string{`mood[:=]\s*(\w+)`},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	v, ok := d.Detect("Mood: gloomy ... later ... mood: cheerful")
	if !ok || v != "cheerful" {
		t.Fatalf("Detect = (%q, %v), want cheerful", v, ok)
	}

	if _, ok := d.Detect("nothing to see"); ok {
		t.Error("no match must report false")
	}
}

func TestPatternDetector_ClampsNumbers(t *testing.T) {
	t.Parallel()

	min, max := 0.0, 100.0
	d, err := NewPatternDetector(cuesheet.StatAttribute{
		ID:       "st-hp",
		Name:     "hp",
		Patterns: []string{`hp[:=]\s*(-?\d+)`},
		Min:      &min,
		Max:      &max,
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	v, ok := d.Detect("hp: 150")
	if !ok || v != "100" {
		t.Errorf("Detect = (%q, %v), want clamped 100", v, ok)
	}

	v, ok = d.Detect("hp: -5")
	if !ok || v != "0" {
		t.Errorf("Detect = (%q, %v), want clamped 0", v, ok)
	}
}

func TestPatternDetector_RejectsPatternWithoutGroup(t *testing.T) {
	t.Parallel()

	_, err := NewPatternDetector(cuesheet.StatAttribute{
		ID:       "st-bad",
		Patterns: []string{`hp=\d+`},
	})
	if err == nil {
		t.Fatal("pattern without capture group must be rejected")
	}
}
