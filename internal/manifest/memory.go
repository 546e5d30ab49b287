package manifest

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process manifest used by tests and by tooling that
// runs without Postgres. Same atomicity contract as the Postgres store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]DocumentEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]DocumentEntry{}}
}

func (s *MemoryStore) Snapshot(_ context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(s.entries))
	for path, e := range s.entries {
		snap[path] = cloneEntry(e)
	}
	return snap, nil
}

func (s *MemoryStore) Get(_ context.Context, path string) (*DocumentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[path]
	if !ok {
		return nil, ErrNotFound
	}
	clone := cloneEntry(e)
	return &clone, nil
}

func (s *MemoryStore) Put(_ context.Context, entry DocumentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.IndexedAt.IsZero() {
		entry.IndexedAt = time.Now().UTC()
	}
	s.entries[entry.Path] = cloneEntry(entry)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, path)
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{Technologies: map[string]TechnologyStats{}}
	for _, e := range s.entries {
		ts := stats.Technologies[e.Technology]
		ts.Documents++
		ts.Chunks += len(e.Chunks)
		stats.Technologies[e.Technology] = ts
		stats.Documents++
		stats.Chunks += len(e.Chunks)
	}
	return stats, nil
}

func cloneEntry(e DocumentEntry) DocumentEntry {
	chunks := make([]ChunkEntry, len(e.Chunks))
	copy(chunks, e.Chunks)
	e.Chunks = chunks
	return e
}
