// Package bus provides the in-process publish/subscribe register for engine
// lifecycle events. Auxiliary listeners (metrics, logging, UI mirrors)
// subscribe here; the domain handlers themselves never do — they are fed
// directly by the orchestrator and stay decoupled from the bus.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tobfel/stagecue/internal/token"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	// EventMessageStart fires when the first text update for a message id is
	// processed.
	EventMessageStart EventType = "message_start"

	// EventMessageEnd fires when a message's lifecycle ends and its state is
	// torn down.
	EventMessageEnd EventType = "message_end"

	// EventTokensDetected fires whenever an incremental scan produces a
	// non-empty token batch.
	EventTokensDetected EventType = "tokens_detected"

	// EventCueFired fires once per trigger hit whose side effect succeeded.
	EventCueFired EventType = "cue_fired"

	// EventCueError fires when an executor rejects a cue. The hit is
	// excluded from the fired count.
	EventCueError EventType = "cue_error"
)

// Event is one lifecycle notification.
type Event struct {
	Type           EventType
	ConversationID string
	MessageID      string

	// Tokens is set for [EventTokensDetected].
	Tokens []token.DetectedToken

	// Domain and TriggerID are set for [EventCueFired] and [EventCueError].
	Domain    string
	TriggerID string

	Time time.Time
}

// Bus is a synchronous in-process pub/sub register. Publish invokes every
// subscriber inline on the publishing goroutine; subscribers must be fast
// and must not block. A panicking subscriber is recovered and logged so it
// cannot corrupt the matching path.
//
// All methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// New returns an initialised [Bus].
func New() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn for all events and returns an unsubscribe function.
// Unsubscribing more than once is a no-op.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every subscriber in unspecified order. When e.Time
// is zero it is stamped with the current time.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		safeInvoke(fn, e)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// safeInvoke calls fn and recovers any panic.
func safeInvoke(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: subscriber panicked", "event", e.Type, "panic", r)
		}
	}()
	fn(e)
}
