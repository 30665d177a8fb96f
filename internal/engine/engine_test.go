package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/tobfel/stagecue/internal/bus"
	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/trigger/triggertest"
)

func ptr[T any](v T) *T { return &v }

func testSheet() *cuesheet.Sheet {
	return &cuesheet.Sheet{
		Meta: cuesheet.SheetMeta{Name: "test", SpeakerID: "spk-1"},
		Sounds: []cuesheet.SoundTrigger{{
			ID:       "snd-golpe",
			Active:   true,
			Keywords: []cuesheet.Keyword{{Text: "golpe"}},
			Files:    []cuesheet.SoundFile{{URL: "hit.ogg"}},
		}},
		SpritePacks: []cuesheet.SpritePack{{
			ID:       "pk-smile",
			Active:   true,
			Keywords: []cuesheet.Keyword{{Text: "smiles"}},
			Items: []cuesheet.SpriteItem{{
				ID: "it-smile", URL: "smile.png",
				ReturnDelay: cuesheet.Duration(2 * time.Second),
			}},
		}},
		IdleSprite: "idle.png",
		BackgroundPacks: []cuesheet.BackgroundPack{{
			ID: "pk-bg", Active: true,
			Items: []cuesheet.BackgroundItem{{
				ID: "bg-forest", Active: true,
				TriggerKeywords: []cuesheet.Keyword{{Text: "forest"}},
				URL:             "forest.png",
			}},
		}},
		DefaultBackground: "default.png",
		HUDFields: []cuesheet.HUDField{{
			ID: "f-hp", Key: "hp", Type: cuesheet.FieldNumber,
			Min: ptr(0.0), Max: ptr(100.0),
		}},
		Quests: []cuesheet.Quest{{ID: "q1", Title: "The Lost Amulet", Active: true}},
		Items:  []cuesheet.Item{{ID: "i1", Name: "Rusty Sword", Active: true}},
		Stats: []cuesheet.StatAttribute{{
			ID: "st-mood", Name: "mood", Active: true,
			Patterns: []string{`mood[:=]\s*(\w+)`},
		}},
	}
}

// fakeTimers captures scheduled callbacks so tests fire them on demand.
type fakeTimers struct {
	mu        sync.Mutex
	callbacks []func()
}

func (f *fakeTimers) after(d time.Duration, fn func()) *time.Timer {
	f.mu.Lock()
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
	return time.NewTimer(time.Hour)
}

func (f *fakeTimers) fire(i int) {
	f.mu.Lock()
	fn := f.callbacks[i]
	f.mu.Unlock()
	fn()
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.callbacks)
}

func TestProcessText_EndToEnd(t *testing.T) {
	t.Parallel()

	rec := &triggertest.Recorder{}
	e := New("conv-1", testSheet(), rec)

	text := `He throws a golpe at you and she smiles. The forest darkens. [hp=150] ` +
		`<quest:complete id="q1"/> You receive the Rusty Sword. mood: wary`
	fired := e.ProcessText("m1", "spk-1", text, false)
	if fired != 7 {
		t.Fatalf("fired %d cues, want 7 (one per domain)", fired)
	}

	if len(rec.Sounds) != 1 || rec.Sounds[0].URL != "hit.ogg" {
		t.Errorf("sounds = %+v", rec.Sounds)
	}
	if len(rec.Sprites) != 1 || rec.Sprites[0].URL != "smile.png" {
		t.Errorf("sprites = %+v", rec.Sprites)
	}
	if len(rec.Backgrounds) != 1 || rec.Backgrounds[0].URL != "forest.png" {
		t.Errorf("backgrounds = %+v", rec.Backgrounds)
	}
	if len(rec.HUDs) != 1 || rec.HUDs[0].Value != "100" {
		t.Errorf("huds = %+v", rec.HUDs)
	}
	if len(rec.Quests) != 1 || rec.Quests[0].QuestID != "q1" {
		t.Errorf("quests = %+v", rec.Quests)
	}
	if len(rec.Items) != 1 || rec.Items[0].ItemID != "i1" {
		t.Errorf("items = %+v", rec.Items)
	}
	if len(rec.Stats) != 1 || rec.Stats[0].Value != "wary" {
		t.Errorf("stats = %+v", rec.Stats)
	}
}

func TestProcessText_IdenticalTextSkipped(t *testing.T) {
	t.Parallel()

	rec := &triggertest.Recorder{}
	e := New("conv-1", testSheet(), rec)

	if fired := e.ProcessText("m1", "spk-1", "a golpe lands", true); fired != 1 {
		t.Fatalf("first update fired %d, want 1", fired)
	}
	if fired := e.ProcessText("m1", "spk-1", "a golpe lands", true); fired != 0 {
		t.Fatalf("identical text fired %d, want 0", fired)
	}
}

func TestProcessText_IncrementalGrowth(t *testing.T) {
	t.Parallel()

	rec := &triggertest.Recorder{}
	e := New("conv-1", testSheet(), rec)

	e.ProcessText("m1", "spk-1", "a golpe ", true)
	e.ProcessText("m1", "spk-1", "a golpe lands, another golpe ", true)

	if len(rec.Sounds) != 2 {
		t.Fatalf("sounds = %+v, want 2 distinct-position hits", rec.Sounds)
	}
}

func TestProcessText_ExecFailureDoesNotStopBatch(t *testing.T) {
	t.Parallel()

	rec := &triggertest.Recorder{Fail: true}
	b := bus.New()
	e := New("conv-1", testSheet(), rec, WithBus(b))

	var mu sync.Mutex
	var cueErrors int
	unsub := b.Subscribe(func(ev bus.Event) {
		if ev.Type == bus.EventCueError {
			mu.Lock()
			cueErrors++
			mu.Unlock()
		}
	})
	defer unsub()

	fired := e.ProcessText("m1", "spk-1", "a golpe in the forest", false)
	if fired != 0 {
		t.Fatalf("fired %d, want 0 when every effect fails", fired)
	}
	// Both hits were still attempted.
	if len(rec.Sounds) != 1 || len(rec.Backgrounds) != 1 {
		t.Errorf("recorder = sounds %d, backgrounds %d", len(rec.Sounds), len(rec.Backgrounds))
	}
	mu.Lock()
	defer mu.Unlock()
	if cueErrors != 2 {
		t.Errorf("cue error events = %d, want 2", cueErrors)
	}
}

func TestEndMessage_DrainsHeldBackTail(t *testing.T) {
	t.Parallel()

	rec := &triggertest.Recorder{}
	e := New("conv-1", testSheet(), rec)

	// The trailing word run is held back while streaming: it could still
	// grow into a longer word.
	e.ProcessText("m1", "spk-1", "he lands a golpe", true)
	if len(rec.Sounds) != 0 {
		t.Fatalf("held-back tail fired early: %+v", rec.Sounds)
	}

	if fired := e.EndMessage("m1"); fired != 1 {
		t.Fatalf("drain fired %d, want 1", fired)
	}
	if len(rec.Sounds) != 1 {
		t.Errorf("sounds = %+v", rec.Sounds)
	}
}

func TestEndMessage_PublishesLifecycleEvents(t *testing.T) {
	t.Parallel()

	rec := &triggertest.Recorder{}
	b := bus.New()
	e := New("conv-1", testSheet(), rec, WithBus(b))

	var mu sync.Mutex
	var types []bus.EventType
	unsub := b.Subscribe(func(ev bus.Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})
	defer unsub()

	e.ProcessText("m1", "spk-1", "a golpe lands here", false)
	e.EndMessage("m1")

	mu.Lock()
	defer mu.Unlock()
	want := []bus.EventType{
		bus.EventMessageStart,
		bus.EventTokensDetected,
		bus.EventCueFired,
		bus.EventMessageEnd,
	}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}
}

func TestEndMessage_AllowsRefireInNextMessage(t *testing.T) {
	t.Parallel()

	rec := &triggertest.Recorder{}
	e := New("conv-1", testSheet(), rec)

	e.ProcessText("m1", "spk-1", `<quest:complete id="q1"/> done`, false)
	e.EndMessage("m1")
	e.ProcessText("m2", "spk-1", `<quest:complete id="q1"/> again`, false)

	if len(rec.Quests) != 2 {
		t.Fatalf("quests = %+v, want 2 across messages", rec.Quests)
	}
}

func TestSpriteRevert_FiresWhenCurrent(t *testing.T) {
	t.Parallel()

	rec := &triggertest.Recorder{}
	timers := &fakeTimers{}
	e := New("conv-1", testSheet(), rec, withAfterFunc(timers.after))

	e.ProcessText("m1", "spk-1", "she smiles warmly today", false)
	if timers.count() != 1 {
		t.Fatalf("scheduled %d timers, want 1", timers.count())
	}

	timers.fire(0)
	if len(rec.Sprites) != 2 || rec.Sprites[1].URL != "idle.png" {
		t.Fatalf("sprites = %+v, want revert to idle", rec.Sprites)
	}
}

func TestSpriteRevert_SupersededTimerIsNoOp(t *testing.T) {
	t.Parallel()

	sheet := testSheet()
	sheet.SpritePacks = append(sheet.SpritePacks, cuesheet.SpritePack{
		ID:       "pk-frown",
		Active:   true,
		Keywords: []cuesheet.Keyword{{Text: "frowns"}},
		Items:    []cuesheet.SpriteItem{{ID: "it-frown", URL: "frown.png"}},
	})

	rec := &triggertest.Recorder{}
	timers := &fakeTimers{}
	e := New("conv-1", sheet, rec, withAfterFunc(timers.after))

	e.ProcessText("m1", "spk-1", "she smiles brightly", false)
	e.ProcessText("m2", "spk-1", "then she frowns deeply", false)

	// The frown superseded the smile; the smile's pending revert must not
	// blank it out.
	timers.fire(0)
	if len(rec.Sprites) != 2 {
		t.Fatalf("sprites = %+v, stale revert must be a no-op", rec.Sprites)
	}
	if rec.Sprites[1].URL != "frown.png" {
		t.Errorf("displayed sprite = %q, want frown.png", rec.Sprites[1].URL)
	}
}

func TestBackgroundIdleRevert(t *testing.T) {
	t.Parallel()

	rec := &triggertest.Recorder{}
	timers := &fakeTimers{}
	e := New("conv-1", testSheet(), rec,
		withAfterFunc(timers.after),
		WithBackgroundIdleRevert(time.Minute))

	e.ProcessText("m1", "spk-1", "into the forest they go", false)
	if timers.count() != 1 {
		t.Fatalf("scheduled %d timers, want 1", timers.count())
	}

	timers.fire(0)
	if len(rec.Backgrounds) != 2 || rec.Backgrounds[1].URL != "default.png" {
		t.Fatalf("backgrounds = %+v, want revert to default", rec.Backgrounds)
	}
}

func TestReset_InvalidatesPendingReverts(t *testing.T) {
	t.Parallel()

	rec := &triggertest.Recorder{}
	timers := &fakeTimers{}
	e := New("conv-1", testSheet(), rec, withAfterFunc(timers.after))

	e.ProcessText("m1", "spk-1", "she smiles kindly", false)
	e.Reset()

	timers.fire(0)
	if len(rec.Sprites) != 1 {
		t.Fatalf("sprites = %+v, revert after Reset must be a no-op", rec.Sprites)
	}

	// After Reset the same text fires again from scratch.
	if fired := e.ProcessText("m1", "spk-1", "she smiles kindly", false); fired != 1 {
		t.Fatalf("fired %d after reset, want 1", fired)
	}
}
