package cuesheet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. It is the
// default backing when no Postgres URL is configured, and is suitable for
// tests and single-instance deployments.
type MemStore struct {
	mu     sync.RWMutex
	sheets map[string]Sheet
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{sheets: make(map[string]Sheet)}
}

// Add implements [Store.Add].
func (s *MemStore) Add(ctx context.Context, sheet Sheet) (Sheet, error) {
	if sheet.ID == "" {
		id, err := generateID()
		if err != nil {
			return Sheet{}, fmt.Errorf("cuesheet: generate id: %w", err)
		}
		sheet.ID = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sheets == nil {
		s.sheets = make(map[string]Sheet)
	}
	if _, exists := s.sheets[sheet.ID]; exists {
		return Sheet{}, ErrDuplicateID
	}
	s.sheets[sheet.ID] = sheet
	return sheet, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sheet, ok := s.sheets[id]
	if !ok {
		return Sheet{}, ErrNotFound
	}
	return sheet, nil
}

// GetBySpeaker implements [Store.GetBySpeaker].
func (s *MemStore) GetBySpeaker(ctx context.Context, speakerID string) (Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sheet := range s.sheets {
		if sheet.Meta.SpeakerID == speakerID {
			return sheet, nil
		}
	}
	return Sheet{}, ErrNotFound
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context) ([]Sheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Sheet, 0, len(s.sheets))
	for _, sheet := range s.sheets {
		out = append(out, sheet)
	}
	return out, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, sheet Sheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sheets[sheet.ID]; !ok {
		return ErrNotFound
	}
	s.sheets[sheet.ID] = sheet
	return nil
}

// Remove implements [Store.Remove].
func (s *MemStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sheets[id]; !ok {
		return ErrNotFound
	}
	delete(s.sheets, id)
	return nil
}

// generateID produces a random 16-byte hex string using crypto/rand.
func generateID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
