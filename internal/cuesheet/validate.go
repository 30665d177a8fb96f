package cuesheet

import (
	"errors"
	"fmt"
	"regexp"
)

// Validate checks that s contains a coherent set of definitions.
// It returns a joined error listing all validation failures found.
func Validate(s *Sheet) error {
	var errs []error

	seen := make(map[string]struct{})
	dup := func(kind, id string) {
		if id == "" {
			return
		}
		key := kind + "/" + id
		if _, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("duplicate %s id %q", kind, id))
		}
		seen[key] = struct{}{}
	}

	for _, t := range s.Sounds {
		dup("sound", t.ID)
		if t.Active && len(t.Files) == 0 {
			errs = append(errs, fmt.Errorf("sound %q is active but has no files", t.ID))
		}
		if t.Active && len(enabledKeywords(t.Keywords)) == 0 {
			errs = append(errs, fmt.Errorf("sound %q is active but has no enabled keywords", t.ID))
		}
	}

	libs := make(map[string]struct{}, len(s.SpriteLibraries))
	for _, lib := range s.SpriteLibraries {
		dup("sprite_library", lib.ID)
		libs[lib.ID] = struct{}{}
	}
	for _, p := range s.SpritePacks {
		dup("sprite_pack", p.ID)
		for _, item := range p.Items {
			if item.Library != "" {
				if _, ok := libs[item.Library]; !ok {
					errs = append(errs, fmt.Errorf("sprite pack %q item %q references unknown library %q", p.ID, item.ID, item.Library))
				}
			}
			if item.Library == "" && len(item.Keys) == 0 {
				errs = append(errs, fmt.Errorf("sprite pack %q item %q has neither keys nor a library", p.ID, item.ID))
			}
		}
	}
	for _, t := range s.SpriteTriggers {
		dup("sprite_trigger", t.ID)
	}

	for _, p := range s.BackgroundPacks {
		dup("background_pack", p.ID)
		for _, item := range p.Items {
			dup("background_item", item.ID)
			if item.Mode != "" && !item.Mode.IsValid() {
				errs = append(errs, fmt.Errorf("background item %q has invalid mode %q", item.ID, item.Mode))
			}
			if item.Active && len(item.TriggerKeywords) == 0 {
				errs = append(errs, fmt.Errorf("background item %q is active but has no trigger keywords", item.ID))
			}
		}
	}

	for _, f := range s.HUDFields {
		dup("hud_field", f.ID)
		if f.Key == "" {
			errs = append(errs, fmt.Errorf("hud field %q has no key", f.ID))
		}
		if !f.Type.IsValid() {
			errs = append(errs, fmt.Errorf("hud field %q has invalid type %q; valid: number, enum, boolean, text", f.ID, f.Type))
		}
		if f.Type == FieldEnum && len(f.Options) == 0 {
			errs = append(errs, fmt.Errorf("hud field %q is an enum with no options", f.ID))
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			errs = append(errs, fmt.Errorf("hud field %q has min > max", f.ID))
		}
	}

	for _, q := range s.Quests {
		dup("quest", q.ID)
		if q.Title == "" {
			errs = append(errs, fmt.Errorf("quest %q has no title", q.ID))
		}
	}
	for _, it := range s.Items {
		dup("item", it.ID)
		if it.Name == "" {
			errs = append(errs, fmt.Errorf("item %q has no name", it.ID))
		}
	}

	for _, a := range s.Stats {
		dup("stat", a.ID)
		for _, p := range a.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				errs = append(errs, fmt.Errorf("stat %q pattern %q does not compile: %v", a.ID, p, err))
				continue
			}
			if re.NumSubexp() < 1 {
				errs = append(errs, fmt.Errorf("stat %q pattern %q needs one capture group for the value", a.ID, p))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cuesheet: invalid sheet: %w", errors.Join(errs...))
	}
	return nil
}

// enabledKeywords filters keywords down to the enabled ones.
func enabledKeywords(kws []Keyword) []Keyword {
	out := make([]Keyword, 0, len(kws))
	for _, k := range kws {
		if k.IsEnabled() && k.Text != "" {
			out = append(out, k)
		}
	}
	return out
}
