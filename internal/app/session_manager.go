package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/engine"
	"github.com/tobfel/stagecue/internal/observe"
	"github.com/tobfel/stagecue/internal/trigger"
)

// defaultIdleTimeout evicts sessions after this long without a text update
// when the config does not set one.
const defaultIdleTimeout = 30 * time.Minute

// defaultSweepInterval is how often a session's cooldown registry evicts
// stale context entries when the config does not set an interval.
const defaultSweepInterval = 5 * time.Minute

// Session is one live conversation: an engine bound to a cue sheet and the
// client's executor sink.
type Session struct {
	// ID is a server-generated identifier for this session instance.
	ID string

	// ConversationID is the client-supplied conversation key. One session
	// per conversation at a time.
	ConversationID string

	// SheetID identifies the cue sheet the engine was built over.
	SheetID string

	Engine *engine.Engine

	// StartedAt is when the session was created.
	StartedAt time.Time

	// stopSweeper cancels the cooldown sweeper goroutine.
	stopSweeper context.CancelFunc

	mu         sync.Mutex
	lastActive time.Time
}

// Touch records activity, deferring idle eviction.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the time of the most recent text update.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// SessionManager owns the lifecycle of conversation sessions. Sessions are
// keyed by conversation id; a second client for the same conversation is
// rejected until the first releases it or the session goes idle.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	idleTimeout   time.Duration
	sweepInterval time.Duration
	metrics       *observe.Metrics
	engineOpts    []engine.Option

	mu       sync.Mutex
	sessions map[string]*Session
}

// SessionManagerConfig holds the dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// IdleTimeout evicts a session after this long without activity.
	// Zero uses a 30 minute default.
	IdleTimeout time.Duration

	// CooldownSweepInterval is how often each session's cooldown registry
	// evicts stale context entries. Zero uses a 5 minute default.
	CooldownSweepInterval time.Duration

	// Metrics receives the active-session gauge. Nil disables recording.
	Metrics *observe.Metrics

	// EngineOpts are applied to every engine the manager creates, typically
	// the matching defaults from the engine config section.
	EngineOpts []engine.Option
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	sweep := cfg.CooldownSweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	return &SessionManager{
		idleTimeout:   idle,
		sweepInterval: sweep,
		metrics:       cfg.Metrics,
		engineOpts:    cfg.EngineOpts,
		sessions:      make(map[string]*Session),
	}
}

// Start creates a session for conversationID over the given sheet, wiring
// cues to exec. Returns an error when the conversation already has a live
// session.
func (sm *SessionManager) Start(conversationID string, sheet *cuesheet.Sheet, exec trigger.Executor, extra ...engine.Option) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if existing, ok := sm.sessions[conversationID]; ok {
		return nil, fmt.Errorf("app: conversation %q already has session %s", conversationID, existing.ID)
	}

	opts := make([]engine.Option, 0, len(sm.engineOpts)+len(extra))
	opts = append(opts, sm.engineOpts...)
	opts = append(opts, extra...)

	now := time.Now()
	s := &Session{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SheetID:        sheet.ID,
		Engine:         engine.New(conversationID, sheet, exec, opts...),
		StartedAt:      now,
		lastActive:     now,
	}
	sm.sessions[conversationID] = s

	// Bound per-speaker cooldown state for the session's lifetime.
	sweepCtx, cancel := context.WithCancel(context.Background())
	s.stopSweeper = cancel
	go s.Engine.Cooldowns().RunSweeper(sweepCtx, sm.sweepInterval)

	if sm.metrics != nil {
		sm.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	slog.Info("app: session started",
		"session_id", s.ID,
		"conversation_id", conversationID,
		"sheet_id", sheet.ID,
	)
	return s, nil
}

// Get returns the live session for a conversation, or nil.
func (sm *SessionManager) Get(conversationID string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.sessions[conversationID]
}

// Stop removes a conversation's session and resets its engine, invalidating
// pending revert timers. Stopping an unknown conversation is a no-op.
func (sm *SessionManager) Stop(conversationID string) {
	sm.mu.Lock()
	s, ok := sm.sessions[conversationID]
	delete(sm.sessions, conversationID)
	sm.mu.Unlock()

	if !ok {
		return
	}
	s.stopSweeper()
	s.Engine.Reset()
	if sm.metrics != nil {
		sm.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	slog.Info("app: session stopped",
		"session_id", s.ID,
		"conversation_id", conversationID,
	)
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// RunJanitor evicts idle sessions until ctx is cancelled. Sweep frequency
// is a quarter of the idle timeout.
func (sm *SessionManager) RunJanitor(ctx context.Context) error {
	ticker := time.NewTicker(sm.idleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sm.evictIdle()
		}
	}
}

func (sm *SessionManager) evictIdle() {
	cutoff := time.Now().Add(-sm.idleTimeout)

	sm.mu.Lock()
	var idle []*Session
	for id, s := range sm.sessions {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	for _, s := range idle {
		s.stopSweeper()
		s.Engine.Reset()
		if sm.metrics != nil {
			sm.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		slog.Info("app: idle session evicted",
			"session_id", s.ID,
			"conversation_id", s.ConversationID,
			"idle_since", s.LastActive(),
		)
	}
}

// Shutdown stops every session.
func (sm *SessionManager) Shutdown() {
	sm.mu.Lock()
	all := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		all = append(all, s)
	}
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	for _, s := range all {
		s.stopSweeper()
		s.Engine.Reset()
		if sm.metrics != nil {
			sm.metrics.ActiveSessions.Add(context.Background(), -1)
		}
	}
	if len(all) > 0 {
		slog.Info("app: all sessions stopped", "count", len(all))
	}
}
