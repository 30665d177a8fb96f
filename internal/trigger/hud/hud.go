// Package hud turns bracket [key=value] tokens into on-screen stat field
// updates. Values are validated and coerced per field type; no-op updates
// against the current value snapshot are rejected, and each field updates
// at most once per message.
package hud

import (
	"strconv"
	"strings"

	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/token"
	"github.com/tobfel/stagecue/internal/trigger"
)

// CurrentFunc reports the currently stored value of a field, when known.
// The host supplies it so unchanged values can be rejected.
type CurrentFunc func(fieldID string) (string, bool)

// Boolean token vocabulary.
var (
	boolTrue  = map[string]struct{}{"true": {}, "yes": {}, "on": {}, "1": {}, "enabled": {}}
	boolFalse = map[string]struct{}{"false": {}, "no": {}, "off": {}, "0": {}, "disabled": {}}
)

// Option is a functional option for [New].
type Option func(*Handler)

// WithCurrent installs the current-value snapshot used for no-op rejection.
// Without it every valid update is emitted.
func WithCurrent(fn CurrentFunc) Option {
	return func(h *Handler) { h.current = fn }
}

// Handler implements [trigger.Handler] for the HUD domain.
type Handler struct {
	fields  []cuesheet.HUDField
	state   *trigger.MessageState
	current CurrentFunc
}

var _ trigger.Handler = (*Handler)(nil)

// New creates a HUD handler over the sheet's field declarations.
func New(fields []cuesheet.HUDField, opts ...Option) *Handler {
	h := &Handler{
		fields: fields,
		state:  trigger.NewMessageState(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Domain implements [trigger.Handler].
func (h *Handler) Domain() trigger.Domain { return trigger.DomainHUD }

// Match inspects only bracket tokens. A token's key is matched against the
// declared field keys case-insensitively; the value must coerce cleanly
// and differ from the stored value.
func (h *Handler) Match(ctx trigger.Context, batch []token.DetectedToken) []trigger.Match {
	var hits []trigger.Match

	for _, tok := range batch {
		if tok.Type != token.TypeHUD || tok.Meta == nil || tok.Meta.HUDValue == "" {
			continue
		}
		if h.state.Fired(ctx.MessageID, tok.WordPosition) {
			continue
		}

		field, ok := h.fieldByKey(tok.Meta.HUDKey)
		if !ok {
			continue
		}

		fieldKey := "field:" + field.ID
		if h.state.SeenName(ctx.MessageID, fieldKey) {
			continue
		}

		value, ok := Coerce(field, tok.Meta.HUDValue)
		if !ok {
			continue
		}
		if h.current != nil {
			if cur, known := h.current(field.ID); known && cur == value {
				continue
			}
		}

		h.state.MarkFired(ctx.MessageID, tok.WordPosition)
		h.state.MarkName(ctx.MessageID, fieldKey)

		cue := trigger.HUDCue{FieldID: field.ID, Key: field.Key, Value: value}
		hits = append(hits, trigger.Match{
			TriggerID:    field.ID,
			Domain:       trigger.DomainHUD,
			Keyword:      field.Key,
			WordPosition: tok.WordPosition,
			Apply: func(ex trigger.Executor) error {
				return ex.UpdateHUD(cue)
			},
		})
	}

	return hits
}

// EndMessage implements [trigger.Handler].
func (h *Handler) EndMessage(messageID string) { h.state.EndMessage(messageID) }

// Reset implements [trigger.Handler].
func (h *Handler) Reset() { h.state.Reset() }

// fieldByKey finds the declared field whose key matches case-insensitively.
func (h *Handler) fieldByKey(key string) (cuesheet.HUDField, bool) {
	for _, f := range h.fields {
		if strings.EqualFold(f.Key, key) {
			return f, true
		}
	}
	return cuesheet.HUDField{}, false
}

// Coerce validates raw against the field's type and returns the canonical
// value. It reports false when the value is invalid for the field.
func Coerce(field cuesheet.HUDField, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	switch field.Type {
	case cuesheet.FieldNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", false
		}
		if field.Min != nil && n < *field.Min {
			n = *field.Min
		}
		if field.Max != nil && n > *field.Max {
			n = *field.Max
		}
		return strconv.FormatFloat(n, 'f', -1, 64), true

	case cuesheet.FieldEnum:
		for _, opt := range field.Options {
			if strings.EqualFold(opt, raw) {
				return opt, true
			}
		}
		return "", false

	case cuesheet.FieldBoolean:
		lower := strings.ToLower(raw)
		if _, ok := boolTrue[lower]; ok {
			return "true", true
		}
		if _, ok := boolFalse[lower]; ok {
			return "false", true
		}
		return "", false

	default:
		return raw, true
	}
}
