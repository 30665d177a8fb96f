// Package item detects inventory mutations in generated text through the
// same two paths as the quest domain: structured <item:action .../>
// directives and bilingual free-text templates for acquisition, loss and
// equip phrasing. Candidates resolve against the authored item registry;
// unknown references are dropped.
package item

import (
	"regexp"
	"strings"

	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/directive"
	"github.com/tobfel/stagecue/internal/resolve"
	"github.com/tobfel/stagecue/internal/token"
	"github.com/tobfel/stagecue/internal/trigger"
)

// candidate is the capture shared by every template: a quoted or bare name
// fragment, cut at sentence punctuation.
const candidate = `["“]?([^"”.,!?\n<]{2,60})`

// textTemplates is the free-text path: acquisition/loss/equip phrasing in
// English and Spanish.
var textTemplates = []struct {
	action trigger.ItemAction
	re     *regexp.Regexp
}{
	{trigger.ItemAdd, regexp.MustCompile(
		`(?i)(?:you (?:receive|obtain|get|acquire|find|found|pick up|picked up)|obtienes|recibes|encuentras|consigues|recoges)\s+(?:a|an|the|el|la|un|una)?\s*` + candidate)},
	{trigger.ItemRemove, regexp.MustCompile(
		`(?i)(?:you (?:lose|lost|drop|dropped|discard|hand over|handed over)|pierdes|sueltas|entregas|descartas)\s+(?:a|an|the|el|la|un|una)?\s*` + candidate)},
	{trigger.ItemEquip, regexp.MustCompile(
		`(?i)(?:you (?:equip|wield|don|put on)|te equipas(?: con)?|empu[ñn]as|te pones)\s+(?:a|an|the|el|la|un|una)?\s*` + candidate)},
}

// Option is a functional option for [New].
type Option func(*Handler)

// WithResolver replaces the default strict resolver, e.g. to enable the
// fuzzy rescue stage.
func WithResolver(r *resolve.Resolver) Option {
	return func(h *Handler) { h.resolver = r }
}

// Handler implements [trigger.Handler] for the item domain.
type Handler struct {
	items    []cuesheet.Item
	entries  []resolve.Entry
	resolver *resolve.Resolver
	state    *trigger.MessageState
}

var _ trigger.Handler = (*Handler)(nil)

// New creates an item handler over the sheet's item registry. Inactive
// items are excluded from resolution.
func New(items []cuesheet.Item, opts ...Option) *Handler {
	h := &Handler{
		resolver: resolve.New(),
		state:    trigger.NewMessageState(),
	}
	for _, it := range items {
		if !it.Active {
			continue
		}
		h.items = append(h.items, it)
		h.entries = append(h.entries, resolve.Entry{ID: it.ID, Name: it.Name, Tags: it.Tags})
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Domain implements [trigger.Handler].
func (h *Handler) Domain() trigger.Domain { return trigger.DomainItem }

// Match scans the full accumulated text on every call; per-message
// deduplication by action plus resolved item id keeps rescans idempotent,
// so a single message cannot add the same item twice.
func (h *Handler) Match(ctx trigger.Context, batch []token.DetectedToken) []trigger.Match {
	if len(batch) == 0 {
		return nil
	}

	hits := h.matchDirectives(ctx)
	return append(hits, h.matchFreeText(ctx)...)
}

// EndMessage implements [trigger.Handler].
func (h *Handler) EndMessage(messageID string) { h.state.EndMessage(messageID) }

// Reset implements [trigger.Handler].
func (h *Handler) Reset() { h.state.Reset() }

// matchDirectives is the structured path.
func (h *Handler) matchDirectives(ctx trigger.Context) []trigger.Match {
	var hits []trigger.Match

	for _, d := range directive.Parse(ctx.FullText) {
		if d.Kind != directive.KindItem {
			continue
		}

		it, ok := h.lookup(d.ID(), d.Name())
		if !ok {
			continue
		}

		action := trigger.ItemAction(d.Action)
		key := dedupKey(action, it.ID)
		if h.state.SeenName(ctx.MessageID, key) {
			continue
		}
		h.state.MarkName(ctx.MessageID, key)

		slot := d.Attrs["slot"]
		if slot == "" {
			slot = it.Slot
		}
		hits = append(hits, h.hit(it, action, slot, d.Amount(1)))
	}

	return hits
}

// matchFreeText is the template path.
func (h *Handler) matchFreeText(ctx trigger.Context) []trigger.Match {
	var hits []trigger.Match

	for _, tpl := range textTemplates {
		for _, m := range tpl.re.FindAllStringSubmatch(ctx.FullText, -1) {
			e, ok := h.resolver.Resolve(clipCandidate(m[1]), h.entries)
			if !ok {
				continue
			}

			it, found := h.byID(e.ID)
			if !found {
				continue
			}

			key := dedupKey(tpl.action, it.ID)
			if h.state.SeenName(ctx.MessageID, key) {
				continue
			}
			h.state.MarkName(ctx.MessageID, key)

			hits = append(hits, h.hit(it, tpl.action, it.Slot, 1))
		}
	}

	return hits
}

// hit builds the match for one inventory event.
func (h *Handler) hit(it cuesheet.Item, action trigger.ItemAction, slot string, quantity int) trigger.Match {
	cue := trigger.ItemCue{
		Action:   action,
		ItemID:   it.ID,
		Name:     it.Name,
		Slot:     slot,
		Quantity: quantity,
		Notice:   notice(action, it),
	}
	return trigger.Match{
		TriggerID:    it.ID,
		Domain:       trigger.DomainItem,
		WordPosition: -1,
		Apply: func(ex trigger.Executor) error {
			return ex.ApplyItem(cue)
		},
	}
}

// lookup resolves a directive reference: exact id first, then the name
// through the resolver.
func (h *Handler) lookup(id, name string) (cuesheet.Item, bool) {
	if id != "" {
		return h.byID(id)
	}
	if e, ok := h.resolver.Resolve(name, h.entries); ok {
		return h.byID(e.ID)
	}
	return cuesheet.Item{}, false
}

func (h *Handler) byID(id string) (cuesheet.Item, bool) {
	for _, it := range h.items {
		if it.ID == id {
			return it, true
		}
	}
	return cuesheet.Item{}, false
}

// clipCandidate cuts a captured name fragment at the first conjunction so
// a run-on sentence ("the Lantern and you equip...") does not swallow a
// second item mention.
func clipCandidate(s string) string {
	lower := strings.ToLower(s)
	for _, sep := range []string{" and ", " y ", " e ", " then "} {
		if i := strings.Index(lower, sep); i >= 0 {
			s, lower = s[:i], lower[:i]
		}
	}
	return strings.TrimSpace(s)
}

func dedupKey(action trigger.ItemAction, itemID string) string {
	return "item:" + string(action) + ":" + strings.ToLower(itemID)
}

// notice builds the optional user-facing notification for an event.
func notice(action trigger.ItemAction, it cuesheet.Item) *trigger.Notice {
	switch action {
	case trigger.ItemAdd:
		return &trigger.Notice{Title: "Item received", Body: it.Name}
	case trigger.ItemRemove:
		return &trigger.Notice{Title: "Item lost", Body: it.Name}
	case trigger.ItemEquip:
		return &trigger.Notice{Title: "Item equipped", Body: it.Name}
	}
	return nil
}
