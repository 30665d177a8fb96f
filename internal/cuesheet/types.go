// Package cuesheet defines the authored trigger configuration consumed by
// the engine: sound triggers, sprite and background packs, HUD fields, quest
// and item registries, and stat attribute definitions.
//
// Cue sheets are authored outside the engine (YAML files or rows in
// Postgres) and are read-only inputs to the matching algorithms — the engine
// never creates or deletes them.
//
// Supported sources:
//   - Native YAML sheet files ([LoadSheetFile], [LoadSheetFromReader])
//   - A [Store] implementation ([MemStore], [PostgresStore])
package cuesheet

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from either a Go duration
// string ("500ms") or a bare number of milliseconds. Cooldowns of zero mean
// "unthrottled".
type Duration time.Duration

// D returns the value as a [time.Duration].
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("cuesheet: duration must be a number of milliseconds or a duration string")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("cuesheet: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler for the JSONB store round-trip.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = 0
		return nil
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if _, err := fmt.Sscanf(s, "%d", &ns); err != nil {
		return fmt.Errorf("cuesheet: parse duration %q", s)
	}
	*d = Duration(ns)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// Keyword is one matchable keyword with an optional enable toggle.
// In YAML a keyword may be written as a bare string or as a mapping:
//
//	keywords:
//	  - golpe
//	  - text: thunder
//	    enabled: false
type Keyword struct {
	Text string `yaml:"text" json:"text"`

	// Enabled toggles this keyword without removing it from the sheet.
	// Nil means enabled.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the keyword participates in matching.
func (k Keyword) IsEnabled() bool {
	return k.Enabled == nil || *k.Enabled
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (k *Keyword) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		k.Text = value.Value
		k.Enabled = nil
		return nil
	}
	type plain Keyword
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*k = Keyword(p)
	return nil
}

// ─── Sound ───────────────────────────────────────────────────────────────────

// SoundFile is one playable entry in a sound trigger's collection.
type SoundFile struct {
	URL    string  `yaml:"url" json:"url"`
	Volume float64 `yaml:"volume,omitempty" json:"volume,omitempty"`
}

// SoundTrigger fires a sound when one of its keywords matches a token.
type SoundTrigger struct {
	ID       string    `yaml:"id" json:"id"`
	Name     string    `yaml:"name,omitempty" json:"name,omitempty"`
	Active   bool      `yaml:"active" json:"active"`
	Priority int       `yaml:"priority,omitempty" json:"priority,omitempty"`
	Keywords []Keyword `yaml:"keywords" json:"keywords"`
	Cooldown Duration  `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`

	// Files is the collection one entry is picked from per hit.
	Files []SoundFile `yaml:"files" json:"files"`
}

// ─── Sprite ──────────────────────────────────────────────────────────────────

// SpriteLibrary is a named, reusable key list referenced by sprite items.
type SpriteLibrary struct {
	ID   string   `yaml:"id" json:"id"`
	Keys []string `yaml:"keys" json:"keys"`
}

// SpriteItem is one expression/pose inside a [SpritePack]. The item matches
// only when every one of its keys (manual or resolved from Library) also
// matches somewhere in the token batch.
type SpriteItem struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
	URL   string `yaml:"url" json:"url"`

	// Keys is the manual key list. Ignored when Library is set.
	Keys []string `yaml:"keys,omitempty" json:"keys,omitempty"`

	// Library references a [SpriteLibrary] id whose keys are used instead.
	Library string `yaml:"library,omitempty" json:"library,omitempty"`

	// ReturnDelay schedules a return to the idle sprite after this long.
	// Zero means the sprite stays until superseded.
	ReturnDelay Duration `yaml:"return_delay,omitempty" json:"return_delay,omitempty"`
}

// SpritePack is a composite sprite rule: any one pack-level keyword must
// match, and the winning item is the matching item with the most keys.
type SpritePack struct {
	ID       string       `yaml:"id" json:"id"`
	Name     string       `yaml:"name,omitempty" json:"name,omitempty"`
	Active   bool         `yaml:"active" json:"active"`
	Priority int          `yaml:"priority,omitempty" json:"priority,omitempty"`
	Keywords []Keyword    `yaml:"keywords" json:"keywords"`
	Cooldown Duration     `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
	Items    []SpriteItem `yaml:"items" json:"items"`
}

// SpriteTrigger is the simple single-keyword fallback used when no pack
// matches.
type SpriteTrigger struct {
	ID          string    `yaml:"id" json:"id"`
	Active      bool      `yaml:"active" json:"active"`
	Priority    int       `yaml:"priority,omitempty" json:"priority,omitempty"`
	Keywords    []Keyword `yaml:"keywords" json:"keywords"`
	URL         string    `yaml:"url" json:"url"`
	Label       string    `yaml:"label,omitempty" json:"label,omitempty"`
	Cooldown    Duration  `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
	ReturnDelay Duration  `yaml:"return_delay,omitempty" json:"return_delay,omitempty"`
}

// ─── Background ──────────────────────────────────────────────────────────────

// MatchMode is the any/all combination rule governing how an item's trigger
// keywords and context keywords must both be satisfied.
type MatchMode string

const (
	// MatchAnyAny: any trigger keyword AND any context keyword.
	MatchAnyAny MatchMode = "any_any"

	// MatchAllAny: all trigger keywords AND any context keyword.
	MatchAllAny MatchMode = "all_any"

	// MatchAnyAll: any trigger keyword AND all context keywords.
	MatchAnyAll MatchMode = "any_all"

	// MatchAllAll: all trigger keywords AND all context keywords.
	MatchAllAll MatchMode = "all_all"
)

// IsValid reports whether m is a recognised match mode.
func (m MatchMode) IsValid() bool {
	switch m {
	case MatchAnyAny, MatchAllAny, MatchAnyAll, MatchAllAll:
		return true
	}
	return false
}

// OrDefault returns m, or [MatchAnyAny] when m is empty.
func (m MatchMode) OrDefault() MatchMode {
	if m == "" {
		return MatchAnyAny
	}
	return m
}

// Overlay is one visual layer composited over a background. Overlays from
// different sources are merged by ID, later sources overriding earlier ones.
type Overlay struct {
	ID      string  `yaml:"id" json:"id"`
	URL     string  `yaml:"url" json:"url"`
	Opacity float64 `yaml:"opacity,omitempty" json:"opacity,omitempty"`
	ZIndex  int     `yaml:"z_index,omitempty" json:"z_index,omitempty"`
}

// Transition describes how a background change is displayed.
type Transition struct {
	Type     string   `yaml:"type,omitempty" json:"type,omitempty"`
	Duration Duration `yaml:"duration,omitempty" json:"duration,omitempty"`
}

// BackgroundVariant is a more specific rendition of a background item
// (e.g. day/night), selected by the variant with the most satisfied context
// keys that still passes its own any/any rule.
type BackgroundVariant struct {
	ID              string    `yaml:"id" json:"id"`
	URL             string    `yaml:"url" json:"url"`
	TriggerKeywords []string  `yaml:"trigger_keywords,omitempty" json:"trigger_keywords,omitempty"`
	ContextKeywords []string  `yaml:"context_keywords,omitempty" json:"context_keywords,omitempty"`
	Overlays        []Overlay `yaml:"overlays,omitempty" json:"overlays,omitempty"`
}

// BackgroundItem is one scene inside a [BackgroundPack].
type BackgroundItem struct {
	ID              string              `yaml:"id" json:"id"`
	Active          bool                `yaml:"active" json:"active"`
	Priority        int                 `yaml:"priority,omitempty" json:"priority,omitempty"`
	Mode            MatchMode           `yaml:"mode,omitempty" json:"mode,omitempty"`
	TriggerKeywords []Keyword           `yaml:"trigger_keywords" json:"trigger_keywords"`
	ContextKeywords []string            `yaml:"context_keywords,omitempty" json:"context_keywords,omitempty"`
	URL             string              `yaml:"url" json:"url"`
	Transition      Transition          `yaml:"transition,omitempty" json:"transition,omitempty"`
	Overlays        []Overlay           `yaml:"overlays,omitempty" json:"overlays,omitempty"`
	Variants        []BackgroundVariant `yaml:"variants,omitempty" json:"variants,omitempty"`
	Cooldown        Duration            `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
}

// BackgroundPack groups background items under one priority.
type BackgroundPack struct {
	ID              string           `yaml:"id" json:"id"`
	Name            string           `yaml:"name,omitempty" json:"name,omitempty"`
	Active          bool             `yaml:"active" json:"active"`
	Priority        int              `yaml:"priority,omitempty" json:"priority,omitempty"`
	DefaultOverlays []Overlay        `yaml:"default_overlays,omitempty" json:"default_overlays,omitempty"`
	Items           []BackgroundItem `yaml:"items" json:"items"`
}

// ─── HUD ─────────────────────────────────────────────────────────────────────

// FieldType classifies a HUD field's value coercion.
type FieldType string

const (
	FieldNumber  FieldType = "number"
	FieldEnum    FieldType = "enum"
	FieldBoolean FieldType = "boolean"
	FieldText    FieldType = "text"
)

// IsValid reports whether t is a recognised field type.
func (t FieldType) IsValid() bool {
	switch t {
	case FieldNumber, FieldEnum, FieldBoolean, FieldText:
		return true
	}
	return false
}

// HUDField declares one on-screen stat field updatable via bracket tokens.
type HUDField struct {
	ID    string    `yaml:"id" json:"id"`
	Key   string    `yaml:"key" json:"key"`
	Label string    `yaml:"label,omitempty" json:"label,omitempty"`
	Type  FieldType `yaml:"type" json:"type"`

	// Min and Max clamp numeric values. Nil means unbounded.
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`

	// Options is the allowed value set for enum fields.
	Options []string `yaml:"options,omitempty" json:"options,omitempty"`
}

// ─── Quest / Item ────────────────────────────────────────────────────────────

// QuestObjective is one step of a quest.
type QuestObjective struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Target      int    `yaml:"target,omitempty" json:"target,omitempty"`
}

// Quest is one entry in the quest registry.
type Quest struct {
	ID         string           `yaml:"id" json:"id"`
	Title      string           `yaml:"title" json:"title"`
	Active     bool             `yaml:"active" json:"active"`
	Tags       []string         `yaml:"tags,omitempty" json:"tags,omitempty"`
	Objectives []QuestObjective `yaml:"objectives,omitempty" json:"objectives,omitempty"`
}

// Item is one entry in the item registry.
type Item struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Active      bool     `yaml:"active" json:"active"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Slot        string   `yaml:"slot,omitempty" json:"slot,omitempty"`
	Rarity      string   `yaml:"rarity,omitempty" json:"rarity,omitempty"`
	Category    string   `yaml:"category,omitempty" json:"category,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// ─── Stats ───────────────────────────────────────────────────────────────────

// StatAttribute declares one character attribute detected from free text.
// Each pattern is a regular expression with a single capture group for the
// value.
type StatAttribute struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Active   bool     `yaml:"active" json:"active"`
	Patterns []string `yaml:"patterns" json:"patterns"`
	Min      *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// ─── Sheet ───────────────────────────────────────────────────────────────────

// SheetMeta holds top-level metadata for a cue sheet.
type SheetMeta struct {
	// Name is the sheet's display name.
	Name string `yaml:"name" json:"name"`

	// Description is a free-text summary.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// SpeakerID binds the sheet to a character. Also the default cooldown
	// context key.
	SpeakerID string `yaml:"speaker_id,omitempty" json:"speaker_id,omitempty"`
}

// Sheet is the complete trigger configuration for one character.
type Sheet struct {
	// ID is a unique identifier. Auto-generated if empty during import.
	ID string `yaml:"id,omitempty" json:"id"`

	Meta SheetMeta `yaml:"sheet" json:"meta"`

	Sounds []SoundTrigger `yaml:"sounds,omitempty" json:"sounds,omitempty"`

	SpriteLibraries []SpriteLibrary `yaml:"sprite_libraries,omitempty" json:"sprite_libraries,omitempty"`
	SpritePacks     []SpritePack    `yaml:"sprite_packs,omitempty" json:"sprite_packs,omitempty"`
	SpriteTriggers  []SpriteTrigger `yaml:"sprite_triggers,omitempty" json:"sprite_triggers,omitempty"`

	// IdleSprite is the URL restored by a scheduled return-to-idle.
	IdleSprite string `yaml:"idle_sprite,omitempty" json:"idle_sprite,omitempty"`

	BackgroundPacks []BackgroundPack `yaml:"background_packs,omitempty" json:"background_packs,omitempty"`

	// DefaultBackground is restored after the idle interval with no fires.
	DefaultBackground string `yaml:"default_background,omitempty" json:"default_background,omitempty"`

	// GlobalOverlays is the lowest-ranked overlay source in the merge order
	// global < pack-default < variant < item.
	GlobalOverlays []Overlay `yaml:"global_overlays,omitempty" json:"global_overlays,omitempty"`

	HUDFields []HUDField `yaml:"hud_fields,omitempty" json:"hud_fields,omitempty"`

	Quests []Quest `yaml:"quests,omitempty" json:"quests,omitempty"`
	Items  []Item  `yaml:"items,omitempty" json:"items,omitempty"`

	Stats []StatAttribute `yaml:"stats,omitempty" json:"stats,omitempty"`
}

// LibraryKeys resolves a sprite item's key list: the referenced library's
// keys when Library is set, otherwise the manual list.
func (s *Sheet) LibraryKeys(item SpriteItem) []string {
	if item.Library == "" {
		return item.Keys
	}
	for _, lib := range s.SpriteLibraries {
		if lib.ID == item.Library {
			return lib.Keys
		}
	}
	return nil
}
