package feed

import (
	"context"
	"sync"
)

// IndexStore holds one feed index per user. ok is false when the user has no index.
type IndexStore interface {
	Head(ctx context.Context, userID int64, n int) (entries []Entry, ok bool, err error)
	Before(ctx context.Context, userID int64, cursor Entry, n int) (entries []Entry, ok bool, err error)
	// Contains reports whether e is in the user's index; false when there is no index.
	Contains(ctx context.Context, userID int64, e Entry) (bool, error)
	// CreateIfAbsent stores a new index seeded with entries unless one exists.
	// An empty seed never creates an index.
	CreateIfAbsent(ctx context.Context, userID int64, entries []Entry) (created bool, err error)
	// Append inserts e into an existing index; it never creates one.
	Append(ctx context.Context, userID int64, e Entry) (appended bool, err error)
}

// MemoryIndexStore keeps indexes in process memory.
type MemoryIndexStore struct {
	mu      sync.RWMutex
	indexes map[int64]*Index
}

func NewMemoryIndexStore() *MemoryIndexStore {
	return &MemoryIndexStore{indexes: make(map[int64]*Index)}
}

func (s *MemoryIndexStore) Head(_ context.Context, userID int64, n int) ([]Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ix, ok := s.indexes[userID]
	if !ok {
		return nil, false, nil
	}
	return ix.HeadWindow(n), true, nil
}

func (s *MemoryIndexStore) Before(_ context.Context, userID int64, cursor Entry, n int) ([]Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ix, ok := s.indexes[userID]
	if !ok {
		return nil, false, nil
	}
	return ix.WindowBefore(cursor, n), true, nil
}

func (s *MemoryIndexStore) Contains(_ context.Context, userID int64, e Entry) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ix, ok := s.indexes[userID]
	return ok && ix.Contains(e), nil
}

func (s *MemoryIndexStore) CreateIfAbsent(_ context.Context, userID int64, entries []Entry) (bool, error) {
	if len(entries) == 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[userID]; ok {
		return false, nil
	}
	s.indexes[userID] = NewIndex(entries...)
	return true, nil
}

func (s *MemoryIndexStore) Append(_ context.Context, userID int64, e Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ix, ok := s.indexes[userID]
	if !ok {
		return false, nil
	}
	return ix.Insert(e), nil
}

// Snapshot returns a copy of a user's index entries, newest first.
func (s *MemoryIndexStore) Snapshot(userID int64) ([]Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ix, ok := s.indexes[userID]
	if !ok {
		return nil, false
	}
	return ix.Entries(), true
}
