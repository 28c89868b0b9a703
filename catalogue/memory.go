package catalogue

import (
	"context"
	"sync"

	"github.com/TheAustinator/dataforest/types"
)

// MemoryStore keeps catalogue entries in process memory. It backs tests and
// ephemeral trees that never touch disk.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]string)}
}

// Backend names the storage backend.
func (s *MemoryStore) Backend() string { return "memory" }

// Lookup returns the run id recorded for specStr in dir.
func (s *MemoryStore) Lookup(ctx context.Context, dir, specStr string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runID, ok := s.entries[dir][specStr]
	return runID, ok, nil
}

// Append records specStr resolving to runID. Re-appending the same mapping
// is a no-op; a different run id for the same spec is a conflict.
func (s *MemoryStore) Append(ctx context.Context, dir, specStr, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDir, ok := s.entries[dir]
	if !ok {
		byDir = make(map[string]string)
		s.entries[dir] = byDir
	}
	if existing, ok := byDir[specStr]; ok {
		if existing == runID {
			return nil
		}
		return types.NewErrorf(types.ErrCatalogueConflict,
			"catalogue %s already maps spec to run %s, refusing %s", dir, existing, runID)
	}
	byDir[specStr] = runID
	return nil
}

// Entries returns a copy of every mapping recorded for dir.
func (s *MemoryStore) Entries(ctx context.Context, dir string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.entries[dir]))
	for specStr, runID := range s.entries[dir] {
		out[specStr] = runID
	}
	return out, nil
}

// Remove drops the mapping for specStr in dir.
func (s *MemoryStore) Remove(ctx context.Context, dir, specStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries[dir], specStr)
	return nil
}

// Close is a no-op for the memory backend.
func (s *MemoryStore) Close() error { return nil }
