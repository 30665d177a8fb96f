// Package directive parses the inline structured tag grammar embedded in
// generated text: <quest:action attr="v" .../> and <item:action attr="v".../>.
//
// The grammar is deliberately small and closed: two kinds, a fixed action
// vocabulary per kind, and a fixed attribute vocabulary. Fragments that do
// not parse are skipped silently — they arrive from untrusted generated
// text and must never abort a scan.
package directive

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind distinguishes quest from item directives.
type Kind string

const (
	KindQuest Kind = "quest"
	KindItem  Kind = "item"
)

// Quest and item action vocabularies.
var (
	questActions = map[string]struct{}{
		"start": {}, "progress": {}, "complete": {}, "fail": {},
	}
	itemActions = map[string]struct{}{
		"add": {}, "remove": {}, "equip": {},
	}
)

// allowedAttrs is the fixed attribute vocabulary. Unknown attribute names
// are dropped from the parse, not errors.
var allowedAttrs = map[string]struct{}{
	"id": {}, "title": {}, "name": {}, "objective": {},
	"amount": {}, "progress": {}, "quantity": {},
	"slot": {}, "rarity": {}, "category": {}, "description": {},
}

var (
	tagRE  = regexp.MustCompile(`<(quest|item):([a-zA-Z]+)((?:\s+[a-zA-Z_]+\s*=\s*"[^"<>]*")*)\s*/?>`)
	attrRE = regexp.MustCompile(`([a-zA-Z_]+)\s*=\s*"([^"]*)"`)
)

// Directive is one parsed inline tag.
type Directive struct {
	Kind   Kind
	Action string

	// Attrs holds the recognised attributes, keys lowercased.
	Attrs map[string]string

	// Offset is the byte offset of the tag within the scanned text.
	Offset int
}

// ID returns the id attribute, or "".
func (d Directive) ID() string { return d.Attrs["id"] }

// Name returns the title or name attribute, whichever is present.
func (d Directive) Name() string {
	if v, ok := d.Attrs["title"]; ok && v != "" {
		return v
	}
	return d.Attrs["name"]
}

// Amount returns the numeric amount/progress/quantity attribute, defaulting
// to def when absent or unparseable.
func (d Directive) Amount(def int) int {
	for _, key := range []string{"amount", "progress", "quantity"} {
		if v, ok := d.Attrs[key]; ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return def
}

// DedupKey identifies the directive for per-message deduplication: the same
// action on the same id/name cannot fire twice within one message.
func (d Directive) DedupKey() string {
	ref := d.ID()
	if ref == "" {
		ref = strings.ToLower(d.Name())
	}
	return string(d.Kind) + ":" + d.Action + ":" + ref
}

// Parse extracts every well-formed directive from text, in order of
// appearance. Tags with an unrecognised action and attribute-less tags that
// name nothing are dropped.
func Parse(text string) []Directive {
	var out []Directive

	for _, loc := range tagRE.FindAllStringSubmatchIndex(text, -1) {
		kind := Kind(text[loc[2]:loc[3]])
		action := strings.ToLower(text[loc[4]:loc[5]])

		if !validAction(kind, action) {
			continue
		}

		attrs := make(map[string]string)
		if loc[6] >= 0 {
			for _, m := range attrRE.FindAllStringSubmatch(text[loc[6]:loc[7]], -1) {
				key := strings.ToLower(m[1])
				if _, ok := allowedAttrs[key]; !ok {
					continue
				}
				attrs[key] = m[2]
			}
		}

		d := Directive{
			Kind:   kind,
			Action: action,
			Attrs:  attrs,
			Offset: loc[0],
		}
		if d.ID() == "" && d.Name() == "" {
			continue
		}
		out = append(out, d)
	}

	return out
}

// validAction reports whether action belongs to kind's vocabulary.
func validAction(kind Kind, action string) bool {
	switch kind {
	case KindQuest:
		_, ok := questActions[action]
		return ok
	case KindItem:
		_, ok := itemActions[action]
		return ok
	}
	return false
}
