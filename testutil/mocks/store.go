// MockStore is a catalogue.Store test double with call recording and error
// injection.
package mocks

import (
	"context"
	"sync"

	"github.com/TheAustinator/dataforest/catalogue"
	"github.com/TheAustinator/dataforest/types"
)

// StoreCall records a single store invocation.
type StoreCall struct {
	Op     string
	Dir    string
	Spec   string
	RunID  string
	Result error
}

// MockStore implements catalogue.Store over an in-memory map. Behavior is
// shaped with the With* builder methods; every invocation is recorded.
type MockStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]string

	lookupErr  error
	appendErr  error
	entriesErr error
	removeErr  error
	failAfter  int

	calls     []StoreCall
	callCount int
	closed    bool
}

var _ catalogue.Store = (*MockStore)(nil)

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{entries: make(map[string]map[string]string)}
}

// WithLookupError makes Lookup return err.
func (s *MockStore) WithLookupError(err error) *MockStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupErr = err
	return s
}

// WithAppendError makes Append return err.
func (s *MockStore) WithAppendError(err error) *MockStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
	return s
}

// WithEntriesError makes Entries return err.
func (s *MockStore) WithEntriesError(err error) *MockStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entriesErr = err
	return s
}

// WithRemoveError makes Remove return err.
func (s *MockStore) WithRemoveError(err error) *MockStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeErr = err
	return s
}

// WithFailAfter makes every operation fail with a storage error after the
// nth call.
func (s *MockStore) WithFailAfter(n int) *MockStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	return s
}

// Seed records a mapping without going through Append, so it is neither
// recorded nor subject to injected errors.
func (s *MockStore) Seed(dir, specStr, runID string) *MockStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDir, ok := s.entries[dir]
	if !ok {
		byDir = make(map[string]string)
		s.entries[dir] = byDir
	}
	byDir[specStr] = runID
	return s
}

// Backend names the storage backend.
func (s *MockStore) Backend() string { return "mock" }

// Lookup returns the run id recorded for specStr in dir.
func (s *MockStore) Lookup(ctx context.Context, dir, specStr string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.nextErr(s.lookupErr)
	s.record(StoreCall{Op: "lookup", Dir: dir, Spec: specStr, Result: err})
	if err != nil {
		return "", false, err
	}
	runID, ok := s.entries[dir][specStr]
	return runID, ok, nil
}

// Append records specStr resolving to runID, with the same conflict
// semantics as the real backends.
func (s *MockStore) Append(ctx context.Context, dir, specStr, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.nextErr(s.appendErr)
	if err == nil {
		byDir, ok := s.entries[dir]
		if !ok {
			byDir = make(map[string]string)
			s.entries[dir] = byDir
		}
		if existing, ok := byDir[specStr]; ok && existing != runID {
			err = types.NewErrorf(types.ErrCatalogueConflict,
				"catalogue %s already maps spec to run %s, refusing %s", dir, existing, runID)
		} else {
			byDir[specStr] = runID
		}
	}
	s.record(StoreCall{Op: "append", Dir: dir, Spec: specStr, RunID: runID, Result: err})
	return err
}

// Entries returns a copy of every mapping recorded for dir.
func (s *MockStore) Entries(ctx context.Context, dir string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.nextErr(s.entriesErr)
	s.record(StoreCall{Op: "entries", Dir: dir, Result: err})
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(s.entries[dir]))
	for specStr, runID := range s.entries[dir] {
		out[specStr] = runID
	}
	return out, nil
}

// Remove drops the mapping for specStr in dir.
func (s *MockStore) Remove(ctx context.Context, dir, specStr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.nextErr(s.removeErr)
	s.record(StoreCall{Op: "remove", Dir: dir, Spec: specStr, Result: err})
	if err != nil {
		return err
	}
	delete(s.entries[dir], specStr)
	return nil
}

// Close marks the store closed.
func (s *MockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MockStore) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// GetCalls returns all recorded invocations.
func (s *MockStore) GetCalls() []StoreCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StoreCall{}, s.calls...)
}

// GetCallCount returns the number of invocations.
func (s *MockStore) GetCallCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callCount
}

// Reset clears recorded calls, injected errors, and entries.
func (s *MockStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]map[string]string)
	s.calls = nil
	s.callCount = 0
	s.lookupErr = nil
	s.appendErr = nil
	s.entriesErr = nil
	s.removeErr = nil
	s.failAfter = 0
	s.closed = false
}

// nextErr picks the error for the current call. Caller holds s.mu.
func (s *MockStore) nextErr(injected error) error {
	s.callCount++
	if s.failAfter > 0 && s.callCount > s.failAfter {
		return types.NewError(types.ErrStorage, "mock store: configured to fail after N calls")
	}
	return injected
}

func (s *MockStore) record(call StoreCall) {
	s.calls = append(s.calls, call)
}

// NewFailingStore creates a store whose every operation returns err.
func NewFailingStore(err error) *MockStore {
	return NewMockStore().
		WithLookupError(err).
		WithAppendError(err).
		WithEntriesError(err).
		WithRemoveError(err)
}
