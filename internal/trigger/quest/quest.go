// Package quest detects quest progression in generated text through two
// complementary paths: structured <quest:action .../> directives and a
// fixed set of bilingual free-text templates. Candidates from either path
// are resolved against the authored quest registry; unresolved references
// are dropped, never fabricated.
package quest

import (
	"regexp"
	"strings"

	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/directive"
	"github.com/tobfel/stagecue/internal/resolve"
	"github.com/tobfel/stagecue/internal/token"
	"github.com/tobfel/stagecue/internal/trigger"
)

// textTemplates is the free-text detection path: phrasing templates for
// quest lifecycle events in English and Spanish. Each pattern captures the
// quest name candidate.
var textTemplates = []struct {
	action trigger.QuestAction
	re     *regexp.Regexp
}{
	{trigger.QuestStart, regexp.MustCompile(
		`(?i)(?:new quest|quest (?:started|accepted|received)|nueva misi[oó]n|misi[oó]n (?:aceptada|iniciada|recibida))[:\s]+["“]?([^"”.!?\n<]{2,80})`)},
	{trigger.QuestComplete, regexp.MustCompile(
		`(?i)(?:quest completed?|completed the quest|misi[oó]n (?:completada|cumplida))[:\s]+["“]?([^"”.!?\n<]{2,80})`)},
	{trigger.QuestFail, regexp.MustCompile(
		`(?i)(?:quest failed|failed the quest|misi[oó]n fallida|fallaste la misi[oó]n)[:\s]+["“]?([^"”.!?\n<]{2,80})`)},
}

// Option is a functional option for [New].
type Option func(*Handler)

// WithResolver replaces the default strict resolver, e.g. to enable the
// fuzzy rescue stage.
func WithResolver(r *resolve.Resolver) Option {
	return func(h *Handler) { h.resolver = r }
}

// Handler implements [trigger.Handler] for the quest domain.
type Handler struct {
	quests   []cuesheet.Quest
	entries  []resolve.Entry
	resolver *resolve.Resolver
	state    *trigger.MessageState
}

var _ trigger.Handler = (*Handler)(nil)

// New creates a quest handler over the sheet's quest registry. Inactive
// quests are excluded from resolution.
func New(quests []cuesheet.Quest, opts ...Option) *Handler {
	h := &Handler{
		resolver: resolve.New(),
		state:    trigger.NewMessageState(),
	}
	for _, q := range quests {
		if !q.Active {
			continue
		}
		h.quests = append(h.quests, q)
		h.entries = append(h.entries, resolve.Entry{ID: q.ID, Name: q.Title, Tags: q.Tags})
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Domain implements [trigger.Handler].
func (h *Handler) Domain() trigger.Domain { return trigger.DomainQuest }

// Match scans the full accumulated text on every call; per-message
// deduplication by action plus resolved quest id keeps rescans idempotent.
// The token batch gates the call (no new tokens means no new text) but the
// directive and template paths work on the text itself.
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
		if d.Kind != directive.KindQuest {
			continue
		}

		q, ok := h.lookup(d.ID(), d.Name())
		if !ok {
			continue
		}

		action := trigger.QuestAction(d.Action)
		key := dedupKey(action, q.ID)
		if h.state.SeenName(ctx.MessageID, key) {
			continue
		}
		h.state.MarkName(ctx.MessageID, key)

		hits = append(hits, h.hit(q, action, d.Attrs["objective"], d.Amount(0)))
	}

	return hits
}

// matchFreeText is the template path.
func (h *Handler) matchFreeText(ctx trigger.Context) []trigger.Match {
	var hits []trigger.Match

	for _, tpl := range textTemplates {
		for _, m := range tpl.re.FindAllStringSubmatch(ctx.FullText, -1) {
			q, ok := h.resolver.Resolve(strings.TrimSpace(m[1]), h.entries)
			if !ok {
				continue
			}

			quest, found := h.byID(q.ID)
			if !found {
				continue
			}

			key := dedupKey(tpl.action, quest.ID)
			if h.state.SeenName(ctx.MessageID, key) {
				continue
			}
			h.state.MarkName(ctx.MessageID, key)

			hits = append(hits, h.hit(quest, tpl.action, "", 0))
		}
	}

	return hits
}

// hit builds the match for one quest event.
func (h *Handler) hit(q cuesheet.Quest, action trigger.QuestAction, objective string, progress int) trigger.Match {
	cue := trigger.QuestCue{
		Action:    action,
		QuestID:   q.ID,
		Title:     q.Title,
		Objective: objective,
		Progress:  progress,
		Notice:    notice(action, q),
	}
	return trigger.Match{
		TriggerID:    q.ID,
		Domain:       trigger.DomainQuest,
		WordPosition: -1,
		Apply: func(ex trigger.Executor) error {
			return ex.ApplyQuest(cue)
		},
	}
}

// lookup resolves a directive reference: exact id first, then the name
// through the resolver.
func (h *Handler) lookup(id, name string) (cuesheet.Quest, bool) {
	if id != "" {
		return h.byID(id)
	}
	if e, ok := h.resolver.Resolve(name, h.entries); ok {
		return h.byID(e.ID)
	}
	return cuesheet.Quest{}, false
}

func (h *Handler) byID(id string) (cuesheet.Quest, bool) {
	for _, q := range h.quests {
		if q.ID == id {
			return q, true
		}
	}
	return cuesheet.Quest{}, false
}

func dedupKey(action trigger.QuestAction, questID string) string {
	return "quest:" + string(action) + ":" + strings.ToLower(questID)
}

// notice builds the optional user-facing notification for an event.
func notice(action trigger.QuestAction, q cuesheet.Quest) *trigger.Notice {
	switch action {
	case trigger.QuestStart:
		return &trigger.Notice{Title: "Quest started", Body: q.Title}
	case trigger.QuestComplete:
		return &trigger.Notice{Title: "Quest completed", Body: q.Title}
	case trigger.QuestFail:
		return &trigger.Notice{Title: "Quest failed", Body: q.Title}
	}
	return nil
}
