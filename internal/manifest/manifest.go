// Package manifest is the single source of truth for what is indexed: the
// mapping from document to content hash to the chunk set currently searchable.
// A chunk only counts as indexed once its manifest entry is committed, so
// entries are always written after the vector mutations they describe.
package manifest

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("manifest entry not found")

// ChunkEntry records one indexed chunk of a document.
type ChunkEntry struct {
	ID           string
	Ordinal      int
	SectionTitle string
	Category     string
	ContentHash  string
}

// DocumentEntry is the manifest record for one document.
type DocumentEntry struct {
	Path        string
	Technology  string
	ContentHash string
	IndexedAt   time.Time
	Chunks      []ChunkEntry
}

// ChunkByID indexes the entry's chunks by chunk id.
func (e *DocumentEntry) ChunkByID() map[string]ChunkEntry {
	m := make(map[string]ChunkEntry, len(e.Chunks))
	for _, c := range e.Chunks {
		m[c.ID] = c
	}
	return m
}

// Snapshot is a point-in-time read of the whole manifest, keyed by document
// path. Used by the change tracker, which never mutates it.
type Snapshot map[string]DocumentEntry

// TechnologyStats is a per-technology breakdown of indexed content.
type TechnologyStats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

// Stats summarises the manifest for the stats endpoint.
type Stats struct {
	Documents    int                        `json:"documents"`
	Chunks       int                        `json:"chunks"`
	Technologies map[string]TechnologyStats `json:"technologies"`
}

// Store persists the manifest. Put and Delete are atomic per document: a
// reader observes either the old entry or the new one, never a partial write.
type Store interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Get(ctx context.Context, path string) (*DocumentEntry, error)
	Put(ctx context.Context, entry DocumentEntry) error
	Delete(ctx context.Context, path string) error
	Stats(ctx context.Context) (*Stats, error)
}
