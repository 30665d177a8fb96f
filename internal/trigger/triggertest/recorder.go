// Package triggertest provides test doubles shared by the domain handler
// test suites.
package triggertest

import (
	"errors"

	"github.com/tobfel/stagecue/internal/trigger"
)

// ErrForced is returned by a [Recorder] whose Fail flag is set.
var ErrForced = errors.New("triggertest: forced failure")

// Recorder is an [trigger.Executor] that records every cue it receives.
// Not safe for concurrent use; tests drive it from one goroutine.
type Recorder struct {
	// Fail makes every method return [ErrForced] after recording.
	Fail bool

	Sounds      []trigger.SoundCue
	Sprites     []trigger.SpriteCue
	Backgrounds []trigger.BackgroundCue
	HUDs        []trigger.HUDCue
	Quests      []trigger.QuestCue
	Items       []trigger.ItemCue
	Stats       []trigger.StatCue
}

var _ trigger.Executor = (*Recorder)(nil)

func (r *Recorder) PlaySound(cue trigger.SoundCue) error {
	r.Sounds = append(r.Sounds, cue)
	return r.err()
}

func (r *Recorder) SetSprite(cue trigger.SpriteCue) error {
	r.Sprites = append(r.Sprites, cue)
	return r.err()
}

func (r *Recorder) SetBackground(cue trigger.BackgroundCue) error {
	r.Backgrounds = append(r.Backgrounds, cue)
	return r.err()
}

func (r *Recorder) UpdateHUD(cue trigger.HUDCue) error {
	r.HUDs = append(r.HUDs, cue)
	return r.err()
}

func (r *Recorder) ApplyQuest(cue trigger.QuestCue) error {
	r.Quests = append(r.Quests, cue)
	return r.err()
}

func (r *Recorder) ApplyItem(cue trigger.ItemCue) error {
	r.Items = append(r.Items, cue)
	return r.err()
}

func (r *Recorder) UpdateStat(cue trigger.StatCue) error {
	r.Stats = append(r.Stats, cue)
	return r.err()
}

// Total returns the number of cues recorded across all domains.
func (r *Recorder) Total() int {
	return len(r.Sounds) + len(r.Sprites) + len(r.Backgrounds) +
		len(r.HUDs) + len(r.Quests) + len(r.Items) + len(r.Stats)
}

func (r *Recorder) err() error {
	if r.Fail {
		return ErrForced
	}
	return nil
}
