package cuesheet

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSheetFile reads and parses a cue sheet YAML file from disk, then
// validates it.
func LoadSheetFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cuesheet: open sheet file %q: %w", path, err)
	}
	defer f.Close()

	s, err := LoadSheetFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("cuesheet: parse sheet file %q: %w", path, err)
	}
	return s, nil
}

// LoadSheetFromReader parses cue sheet YAML from an [io.Reader] and validates
// the result. The reader is consumed entirely; the caller closes it.
func LoadSheetFromReader(r io.Reader) (*Sheet, error) {
	var s Sheet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch authoring typos
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("cuesheet: decode sheet yaml: %w", err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
