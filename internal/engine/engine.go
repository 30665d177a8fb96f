// Package engine orchestrates one conversation's trigger pipeline: it owns
// the incremental token detector, the per-domain handlers, the shared
// cooldown registry and the lifecycle bus, and it executes matched cues
// through the host-supplied executor.
//
// The engine serializes its own calls; text updates for one conversation
// may arrive from any goroutine. Scheduled revert timers fire on timer
// goroutines, so the injected [trigger.Executor] must tolerate concurrent
// calls.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tobfel/stagecue/internal/bus"
	"github.com/tobfel/stagecue/internal/cooldown"
	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/resolve"
	"github.com/tobfel/stagecue/internal/textnorm"
	"github.com/tobfel/stagecue/internal/token"
	"github.com/tobfel/stagecue/internal/trigger"
	"github.com/tobfel/stagecue/internal/trigger/background"
	"github.com/tobfel/stagecue/internal/trigger/hud"
	"github.com/tobfel/stagecue/internal/trigger/item"
	"github.com/tobfel/stagecue/internal/trigger/quest"
	"github.com/tobfel/stagecue/internal/trigger/sound"
	"github.com/tobfel/stagecue/internal/trigger/sprite"
	"github.com/tobfel/stagecue/internal/trigger/stats"
)

// config collects the knobs applied by options before the handlers are
// constructed.
type config struct {
	flags          textnorm.Flags
	bus            *bus.Bus
	cooldowns      *cooldown.Registry
	maxSounds      int
	globalSoundGap time.Duration
	fuzzy          bool
	fuzzyThreshold float64
	hudCurrent     hud.CurrentFunc
	statCurrent    stats.CurrentFunc
	idleRevert     time.Duration
	after          func(time.Duration, func()) *time.Timer
}

// Option is a functional option for [New].
type Option func(*config)

// WithBus shares a lifecycle bus across engines; by default each engine
// gets its own.
func WithBus(b *bus.Bus) Option { return func(c *config) { c.bus = b } }

// WithCooldowns shares a cooldown registry across engines; by default each
// engine gets its own.
func WithCooldowns(r *cooldown.Registry) Option { return func(c *config) { c.cooldowns = r } }

// WithFlags sets the text normalization flags for every matcher.
func WithFlags(f textnorm.Flags) Option { return func(c *config) { c.flags = f } }

// WithMaxSounds caps sound hits per message. Unset keeps the sound
// handler's default ceiling.
func WithMaxSounds(n int) Option { return func(c *config) { c.maxSounds = n } }

// WithGlobalSoundCooldown sets the context-global minimum interval between
// sound fires.
func WithGlobalSoundCooldown(d time.Duration) Option {
	return func(c *config) { c.globalSoundGap = d }
}

// WithFuzzyResolve enables the phonetic/fuzzy registry resolution stage
// for quest and item candidates. Pass 0 for the default threshold.
func WithFuzzyResolve(threshold float64) Option {
	return func(c *config) { c.fuzzy, c.fuzzyThreshold = true, threshold }
}

// WithHUDCurrent installs the current-value snapshot for HUD no-op
// rejection.
func WithHUDCurrent(fn hud.CurrentFunc) Option { return func(c *config) { c.hudCurrent = fn } }

// WithStatCurrent installs the stored-value snapshot for stat no-op
// rejection.
func WithStatCurrent(fn stats.CurrentFunc) Option { return func(c *config) { c.statCurrent = fn } }

// WithBackgroundIdleRevert restores the sheet's default background after
// this long without a background fire. Zero disables the revert.
func WithBackgroundIdleRevert(d time.Duration) Option {
	return func(c *config) { c.idleRevert = d }
}

// withAfterFunc replaces the timer scheduler; tests fire timers manually.
func withAfterFunc(after func(time.Duration, func()) *time.Timer) Option {
	return func(c *config) { c.after = after }
}

// messageMeta is what the engine remembers about an in-flight message.
type messageMeta struct {
	text      string
	speakerID string
}

// Engine drives the trigger pipeline for one conversation.
type Engine struct {
	conversationID string
	sheet          *cuesheet.Sheet
	exec           trigger.Executor

	detector  *token.Detector
	cooldowns *cooldown.Registry
	bus       *bus.Bus
	handlers  []trigger.Handler

	flags      textnorm.Flags
	idleRevert time.Duration
	after      func(time.Duration, func()) *time.Timer

	mu       sync.Mutex
	messages map[string]*messageMeta

	// genMu guards the revert generation counters and the displayed sprite
	// URL; timer callbacks take it without holding mu.
	genMu     sync.Mutex
	spriteGen uint64
	bgGen     uint64
	spriteNow string
}

// New builds an engine for one conversation over a validated cue sheet.
// Handlers run in fixed registration order: sound, sprite, background,
// HUD, quest, item, stats.
func New(conversationID string, sheet *cuesheet.Sheet, exec trigger.Executor, opts ...Option) *Engine {
	cfg := &config{after: time.AfterFunc}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.bus == nil {
		cfg.bus = bus.New()
	}
	if cfg.cooldowns == nil {
		cfg.cooldowns = cooldown.New()
	}

	resolverOpts := []resolve.Option{resolve.WithFlags(cfg.flags)}
	if cfg.fuzzy {
		resolverOpts = append(resolverOpts, resolve.WithFuzzy(cfg.fuzzyThreshold))
	}
	resolver := resolve.New(resolverOpts...)

	soundOpts := []sound.Option{sound.WithGlobalCooldown(cfg.globalSoundGap)}
	if cfg.maxSounds > 0 {
		soundOpts = append(soundOpts, sound.WithMaxPerMessage(cfg.maxSounds))
	}
	hudOpts := []hud.Option{}
	if cfg.hudCurrent != nil {
		hudOpts = append(hudOpts, hud.WithCurrent(cfg.hudCurrent))
	}
	statOpts := []stats.Option{}
	if cfg.statCurrent != nil {
		statOpts = append(statOpts, stats.WithCurrent(cfg.statCurrent))
	}

	return &Engine{
		conversationID: conversationID,
		sheet:          sheet,
		exec:           exec,
		detector:       token.New(),
		cooldowns:      cfg.cooldowns,
		bus:            cfg.bus,
		flags:          cfg.flags,
		idleRevert:     cfg.idleRevert,
		after:          cfg.after,
		messages:       make(map[string]*messageMeta),
		handlers: []trigger.Handler{
			sound.New(sheet.Sounds, cfg.cooldowns, soundOpts...),
			sprite.New(sheet, cfg.cooldowns),
			background.New(sheet, cfg.cooldowns),
			hud.New(sheet.HUDFields, hudOpts...),
			quest.New(sheet.Quests, quest.WithResolver(resolver)),
			item.New(sheet.Items, item.WithResolver(resolver)),
			stats.New(sheet.Stats, statOpts...),
		},
	}
}

// Bus returns the engine's lifecycle bus.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Cooldowns returns the engine's cooldown registry.
func (e *Engine) Cooldowns() *cooldown.Registry { return e.cooldowns }

// ProcessText handles one text update for a streamed message and returns
// the number of cues whose side effect succeeded. Identical text for the
// same message id is skipped.
func (e *Engine) ProcessText(messageID, speakerID, fullText string, streaming bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, seen := e.messages[messageID]
	if seen && meta.text == fullText {
		return 0
	}
	if !seen {
		meta = &messageMeta{}
		e.messages[messageID] = meta
		e.bus.Publish(bus.Event{
			Type:           bus.EventMessageStart,
			ConversationID: e.conversationID,
			MessageID:      messageID,
		})
	}
	meta.text = fullText
	meta.speakerID = speakerID

	var batch []token.DetectedToken
	if streaming {
		batch = e.detector.ProcessIncremental(fullText, messageID)
	} else {
		batch = e.detector.ProcessFull(fullText, messageID)
	}
	if len(batch) == 0 {
		return 0
	}

	e.bus.Publish(bus.Event{
		Type:           bus.EventTokensDetected,
		ConversationID: e.conversationID,
		MessageID:      messageID,
		Tokens:         batch,
	})

	ctx := trigger.NewContext(e.conversationID, messageID, speakerID, fullText, streaming, e.flags)
	return e.dispatch(ctx, batch)
}

// EndMessage drains the detector's held-back tail, runs the handlers one
// last time, then tears down all per-message state and publishes the
// message-end event. It returns the number of cues the drain delivered.
func (e *Engine) EndMessage(messageID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	fired := 0
	if meta, ok := e.messages[messageID]; ok {
		if batch := e.detector.Flush(meta.text, messageID); len(batch) > 0 {
			ctx := trigger.NewContext(e.conversationID, messageID, meta.speakerID, meta.text, false, e.flags)
			fired = e.dispatch(ctx, batch)
		}
	}

	for _, h := range e.handlers {
		h.EndMessage(messageID)
	}
	e.detector.Reset(messageID)
	delete(e.messages, messageID)

	e.bus.Publish(bus.Event{
		Type:           bus.EventMessageEnd,
		ConversationID: e.conversationID,
		MessageID:      messageID,
	})
	return fired
}

// Reset tears down every message's state, e.g. when the conversation view
// closes. Pending revert timers are invalidated.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, h := range e.handlers {
		h.Reset()
	}
	e.detector.ResetAll()
	e.messages = make(map[string]*messageMeta)

	e.genMu.Lock()
	e.spriteGen++
	e.bgGen++
	e.spriteNow = ""
	e.genMu.Unlock()
}

// dispatch fans the batch out to every handler in registration order and
// executes each hit. A failing effect is logged and excluded from the
// fired count; the remaining hits still run.
func (e *Engine) dispatch(ctx trigger.Context, batch []token.DetectedToken) int {
	exec := &revertExecutor{engine: e, inner: e.exec}

	fired := 0
	for _, h := range e.handlers {
		for _, m := range h.Match(ctx, batch) {
			if err := m.Apply(exec); err != nil {
				slog.Error("engine: cue execution failed",
					"conversation", e.conversationID,
					"domain", m.Domain,
					"trigger", m.TriggerID,
					"error", err)
				e.bus.Publish(bus.Event{
					Type:           bus.EventCueError,
					ConversationID: e.conversationID,
					MessageID:      ctx.MessageID,
					Domain:         string(m.Domain),
					TriggerID:      m.TriggerID,
				})
				continue
			}
			fired++
			e.bus.Publish(bus.Event{
				Type:           bus.EventCueFired,
				ConversationID: e.conversationID,
				MessageID:      ctx.MessageID,
				Domain:         string(m.Domain),
				TriggerID:      m.TriggerID,
			})
		}
	}
	return fired
}

// noteSprite supersedes any pending return-to-idle and, when the cue
// declares a return delay and the sheet has an idle sprite, schedules a
// new one. The revert is guarded by a generation token; the URL identity
// check is a second fire-time guard.
func (e *Engine) noteSprite(cue trigger.SpriteCue) {
	e.genMu.Lock()
	e.spriteGen++
	gen := e.spriteGen
	e.spriteNow = cue.URL
	e.genMu.Unlock()

	if cue.ReturnDelay <= 0 || e.sheet.IdleSprite == "" {
		return
	}

	e.after(cue.ReturnDelay, func() {
		e.genMu.Lock()
		live := e.spriteGen == gen && e.spriteNow == cue.URL
		if live {
			e.spriteNow = e.sheet.IdleSprite
		}
		e.genMu.Unlock()
		if !live {
			return
		}
		idle := trigger.SpriteCue{URL: e.sheet.IdleSprite, Label: "idle"}
		if err := e.exec.SetSprite(idle); err != nil {
			slog.Error("engine: idle sprite revert failed",
				"conversation", e.conversationID, "error", err)
		}
	})
}

// noteBackground restarts the idle-revert clock: after the configured
// interval with no further background fire, the sheet's default background
// is restored.
func (e *Engine) noteBackground() {
	e.genMu.Lock()
	e.bgGen++
	gen := e.bgGen
	e.genMu.Unlock()

	if e.idleRevert <= 0 || e.sheet.DefaultBackground == "" {
		return
	}

	e.after(e.idleRevert, func() {
		e.genMu.Lock()
		live := e.bgGen == gen
		e.genMu.Unlock()
		if !live {
			return
		}
		cue := trigger.BackgroundCue{
			URL:      e.sheet.DefaultBackground,
			Overlays: e.sheet.GlobalOverlays,
		}
		if err := e.exec.SetBackground(cue); err != nil {
			slog.Error("engine: default background revert failed",
				"conversation", e.conversationID, "error", err)
		}
	})
}

// revertExecutor wraps the host executor to observe sprite and background
// effects for revert scheduling. All other effects pass straight through.
type revertExecutor struct {
	engine *Engine
	inner  trigger.Executor
}

var _ trigger.Executor = (*revertExecutor)(nil)

func (x *revertExecutor) PlaySound(cue trigger.SoundCue) error { return x.inner.PlaySound(cue) }

func (x *revertExecutor) SetSprite(cue trigger.SpriteCue) error {
	err := x.inner.SetSprite(cue)
	x.engine.noteSprite(cue)
	return err
}

func (x *revertExecutor) SetBackground(cue trigger.BackgroundCue) error {
	err := x.inner.SetBackground(cue)
	x.engine.noteBackground()
	return err
}

func (x *revertExecutor) UpdateHUD(cue trigger.HUDCue) error    { return x.inner.UpdateHUD(cue) }
func (x *revertExecutor) ApplyQuest(cue trigger.QuestCue) error { return x.inner.ApplyQuest(cue) }
func (x *revertExecutor) ApplyItem(cue trigger.ItemCue) error   { return x.inner.ApplyItem(cue) }
func (x *revertExecutor) UpdateStat(cue trigger.StatCue) error  { return x.inner.UpdateStat(cue) }
