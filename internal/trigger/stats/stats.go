// Package stats detects character attribute changes in free text via the
// per-attribute pattern detectors and emits an update only when the
// detected value differs from the currently stored one.
package stats

import (
	"log/slog"

	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/resolve"
	"github.com/tobfel/stagecue/internal/token"
	"github.com/tobfel/stagecue/internal/trigger"
)

// CurrentFunc reports the currently stored value of an attribute, when
// known. The host supplies it so unchanged values are not re-emitted.
type CurrentFunc func(attributeID string) (string, bool)

// Option is a functional option for [New].
type Option func(*Handler)

// WithCurrent installs the stored-value snapshot used for no-op rejection.
func WithCurrent(fn CurrentFunc) Option {
	return func(h *Handler) { h.current = fn }
}

// Handler implements [trigger.Handler] for the stats domain.
type Handler struct {
	detectors []*resolve.PatternDetector
	current   CurrentFunc
	state     *trigger.MessageState
}

var _ trigger.Handler = (*Handler)(nil)

// New compiles a detector per active attribute. Attributes whose patterns
// do not compile are skipped with a log line; authored sheets are
// validated upfront, so this only guards store-loaded definitions.
func New(attrs []cuesheet.StatAttribute, opts ...Option) *Handler {
	h := &Handler{state: trigger.NewMessageState()}
	for _, attr := range attrs {
		if !attr.Active {
			continue
		}
		d, err := resolve.NewPatternDetector(attr)
		if err != nil {
			slog.Warn("stats: skipping attribute with invalid pattern", "attribute", attr.ID, "error", err)
			continue
		}
		h.detectors = append(h.detectors, d)
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Domain implements [trigger.Handler].
func (h *Handler) Domain() trigger.Domain { return trigger.DomainStats }

// Match runs every attribute detector over the full accumulated text. The
// last occurrence of a pattern wins within the message; an attribute is
// re-emitted only when the detected value changes.
func (h *Handler) Match(ctx trigger.Context, batch []token.DetectedToken) []trigger.Match {
	if len(batch) == 0 {
		return nil
	}

	var hits []trigger.Match
	for _, d := range h.detectors {
		attr := d.Attribute()

		value, ok := d.Detect(ctx.FullText)
		if !ok {
			continue
		}

		key := "stat:" + attr.ID + "=" + value
		if h.state.SeenName(ctx.MessageID, key) {
			continue
		}
		if h.current != nil {
			if cur, known := h.current(attr.ID); known && cur == value {
				continue
			}
		}
		h.state.MarkName(ctx.MessageID, key)

		cue := trigger.StatCue{AttributeID: attr.ID, Name: attr.Name, Value: value}
		hits = append(hits, trigger.Match{
			TriggerID:    attr.ID,
			Domain:       trigger.DomainStats,
			WordPosition: -1,
			Apply: func(ex trigger.Executor) error {
				return ex.UpdateStat(cue)
			},
		})
	}

	return hits
}

// EndMessage implements [trigger.Handler].
func (h *Handler) EndMessage(messageID string) { h.state.EndMessage(messageID) }

// Reset implements [trigger.Handler].
func (h *Handler) Reset() { h.state.Reset() }
