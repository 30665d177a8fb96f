package trigger

import (
	"time"

	"github.com/tobfel/stagecue/internal/cuesheet"
)

// QuestAction is a quest mutation verb.
type QuestAction string

const (
	QuestStart    QuestAction = "start"
	QuestProgress QuestAction = "progress"
	QuestComplete QuestAction = "complete"
	QuestFail     QuestAction = "fail"
)

// ItemAction is an inventory mutation verb.
type ItemAction string

const (
	ItemAdd    ItemAction = "add"
	ItemRemove ItemAction = "remove"
	ItemEquip  ItemAction = "equip"
)

// Notice is an optional user-facing notification paired with a quest or
// inventory mutation.
type Notice struct {
	Title string
	Body  string
}

// SoundCue asks the host to play a sound.
type SoundCue struct {
	TriggerID string
	URL       string
	Volume    float64
}

// SpriteCue asks the host to change the displayed character image.
type SpriteCue struct {
	TriggerID string
	URL       string
	Label     string

	// ReturnDelay, when non-zero, asks the orchestrator to schedule a
	// return to the idle sprite after this long.
	ReturnDelay time.Duration
}

// BackgroundCue asks the host to change the scene background.
type BackgroundCue struct {
	TriggerID  string
	URL        string
	Transition cuesheet.Transition

	// Overlays is the fully merged overlay list, ordered by ZIndex.
	Overlays []cuesheet.Overlay
}

// HUDCue asks the host to update one on-screen stat field.
type HUDCue struct {
	FieldID string
	Key     string
	Value   string
}

// QuestCue asks the host to mutate quest state.
type QuestCue struct {
	Action    QuestAction
	QuestID   string
	Title     string
	Objective string
	Progress  int
	Notice    *Notice
}

// ItemCue asks the host to mutate the inventory.
type ItemCue struct {
	Action   ItemAction
	ItemID   string
	Name     string
	Slot     string
	Quantity int
	Notice   *Notice
}

// StatCue asks the host to update a stored character attribute.
type StatCue struct {
	AttributeID string
	Name        string
	Value       string
}

// Executor receives the side effects of executed matches. Implementations
// are supplied by the host (UI layer, websocket bridge, test double);
// execution is fire-and-forget — the engine never awaits effect completion.
type Executor interface {
	PlaySound(cue SoundCue) error
	SetSprite(cue SpriteCue) error
	SetBackground(cue BackgroundCue) error
	UpdateHUD(cue HUDCue) error
	ApplyQuest(cue QuestCue) error
	ApplyItem(cue ItemCue) error
	UpdateStat(cue StatCue) error
}
