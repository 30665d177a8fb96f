package trigger

// MessageState is the per-handler record of what already fired within each
// message: the set of word positions that produced a hit, domain counters,
// and matched literal names (quest/item dedup).
//
// The engine drives all handlers for one conversation from a single
// goroutine, so MessageState is deliberately unsynchronised. Entries must be
// removed via [MessageState.EndMessage] when a message ends, otherwise state
// grows without bound across a long session.
type MessageState struct {
	fired    map[string]map[int]struct{}
	counters map[string]map[string]int
	names    map[string]map[string]struct{}
}

// NewMessageState returns an initialised [MessageState].
func NewMessageState() *MessageState {
	return &MessageState{
		fired:    make(map[string]map[int]struct{}),
		counters: make(map[string]map[string]int),
		names:    make(map[string]map[string]struct{}),
	}
}

// Fired reports whether the handler already fired at pos within messageID.
func (s *MessageState) Fired(messageID string, pos int) bool {
	_, ok := s.fired[messageID][pos]
	return ok
}

// MarkFired records pos as consumed within messageID.
func (s *MessageState) MarkFired(messageID string, pos int) {
	m, ok := s.fired[messageID]
	if !ok {
		m = make(map[int]struct{})
		s.fired[messageID] = m
	}
	m[pos] = struct{}{}
}

// Count returns the named counter for messageID.
func (s *MessageState) Count(messageID, name string) int {
	return s.counters[messageID][name]
}

// Inc increments the named counter for messageID and returns the new value.
func (s *MessageState) Inc(messageID, name string) int {
	m, ok := s.counters[messageID]
	if !ok {
		m = make(map[string]int)
		s.counters[messageID] = m
	}
	m[name]++
	return m[name]
}

// SeenName reports whether name was already matched within messageID.
func (s *MessageState) SeenName(messageID, name string) bool {
	_, ok := s.names[messageID][name]
	return ok
}

// MarkName records name as matched within messageID.
func (s *MessageState) MarkName(messageID, name string) {
	m, ok := s.names[messageID]
	if !ok {
		m = make(map[string]struct{})
		s.names[messageID] = m
	}
	m[name] = struct{}{}
}

// EndMessage discards all state for messageID.
func (s *MessageState) EndMessage(messageID string) {
	delete(s.fired, messageID)
	delete(s.counters, messageID)
	delete(s.names, messageID)
}

// Reset discards the state of every message.
func (s *MessageState) Reset() {
	s.fired = make(map[string]map[int]struct{})
	s.counters = make(map[string]map[string]int)
	s.names = make(map[string]map[string]struct{})
}
