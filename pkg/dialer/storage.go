package dialer

import (
	"context"
	"sync"
)

// ============================================
// HISTORY PERSISTENCE
// Durable storage is an external collaborator behind a narrow contract
// ============================================

// Storage persists the serialized call log between sessions. The history
// store does not care about the medium; anything that can load and save the
// full list qualifies.
type Storage interface {
	Load(ctx context.Context) ([]HistoryEntry, error)
	Save(ctx context.Context, entries []HistoryEntry) error
}

// MemoryStorage keeps the log in process memory. Used in tests and in
// deployments that do not want history to outlive the session.
type MemoryStorage struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Load returns the stored entries.
func (s *MemoryStorage) Load(_ context.Context) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Save replaces the stored entries.
func (s *MemoryStorage) Save(_ context.Context, entries []HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make([]HistoryEntry, len(entries))
	copy(s.entries, entries)
	return nil
}
