// Package cooldown implements the keyed timer registry that rate-limits
// trigger fires. Every fire is recorded against a context key (typically the
// active speaker) both globally and per trigger id, and [Registry.Ready]
// gates candidate matches against the configured minimum intervals.
//
// A threshold of zero means "unthrottled" — this is a first-class policy, not
// a missing-config default.
package cooldown

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultStaleAfter is how long a context may be inactive before the sweeper
// evicts its entry.
const defaultStaleAfter = 30 * time.Minute

// Policy holds the two cooldown thresholds consulted by [Registry.Ready].
type Policy struct {
	// Global is the minimum interval between any two fires within one
	// context. Zero disables the global gate.
	Global time.Duration

	// PerTrigger is the minimum interval between two fires of the same
	// trigger id within one context. Zero disables the per-trigger gate.
	PerTrigger time.Duration
}

// contextState tracks fire times for one context key.
type contextState struct {
	lastGlobal time.Time
	perTrigger map[string]time.Time

	// touched is updated on every access and drives stale eviction.
	touched time.Time
}

// Option is a functional option for [New].
type Option func(*Registry)

// WithClock replaces the time source. Tests use this to avoid sleeping.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithStaleAfter sets the inactivity window after which [Registry.Sweep]
// evicts a context entry. Default: 30 minutes.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Registry) { r.staleAfter = d }
}

// Registry is the cooldown state shared by all handlers of an engine
// instance. It is an explicit dependency passed by the orchestrator — never
// a process-wide singleton. All methods are safe for concurrent use.
type Registry struct {
	now        func() time.Time
	staleAfter time.Duration

	mu       sync.Mutex
	contexts map[string]*contextState
}

// New returns an initialised [Registry].
func New(opts ...Option) *Registry {
	r := &Registry{
		now:        time.Now,
		staleAfter: defaultStaleAfter,
		contexts:   make(map[string]*contextState),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Ready reports whether a fire of triggerID within contextKey would respect
// p. It returns false when p.Global is non-zero and less time than that has
// passed since the context's last fire, or when p.PerTrigger is non-zero and
// less time than that has passed since triggerID last fired. Both thresholds
// zero always yields true.
//
// Ready does not record anything; call [Registry.MarkFired] once the match
// is accepted.
func (r *Registry) Ready(contextKey, triggerID string, p Policy) bool {
	if p.Global <= 0 && p.PerTrigger <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.contexts[contextKey]
	if !ok {
		return true
	}
	now := r.now()
	st.touched = now

	if p.Global > 0 && !st.lastGlobal.IsZero() && now.Sub(st.lastGlobal) < p.Global {
		return false
	}
	if p.PerTrigger > 0 {
		if last, ok := st.perTrigger[triggerID]; ok && now.Sub(last) < p.PerTrigger {
			return false
		}
	}
	return true
}

// MarkFired records the current time against both the context's global slot
// and the specific trigger id.
func (r *Registry) MarkFired(contextKey, triggerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.contexts[contextKey]
	if !ok {
		st = &contextState{perTrigger: make(map[string]time.Time)}
		r.contexts[contextKey] = st
	}
	now := r.now()
	st.lastGlobal = now
	st.perTrigger[triggerID] = now
	st.touched = now
}

// Reset discards all cooldown state for contextKey. Used on context teardown,
// e.g. when the active character switches.
func (r *Registry) Reset(contextKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contexts, contextKey)
}

// ResetAll discards every context entry.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts = make(map[string]*contextState)
}

// Len returns the number of live context entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// Sweep evicts context entries that have been inactive longer than the
// staleness window and returns the number evicted.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	evicted := 0
	for key, st := range r.contexts {
		if now.Sub(st.touched) > r.staleAfter {
			delete(r.contexts, key)
			evicted++
		}
	}
	return evicted
}

// RunSweeper calls [Registry.Sweep] every interval until ctx is cancelled.
// Run it in its own goroutine.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				slog.Debug("cooldown: swept stale contexts", "evicted", n)
			}
		}
	}
}
