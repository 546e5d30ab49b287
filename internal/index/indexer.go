// Package index owns every embedding record. It applies change-tracker
// partitions to the vector store, re-embedding only chunks whose content hash
// actually changed, and commits the manifest entry last so the manifest stays
// the visibility gate for searchability.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ragdocs/backend/internal/document"
	"ragdocs/backend/internal/manifest"
	"ragdocs/backend/internal/tracker"
)

var (
	// ErrEmbedding marks chunks that could not be embedded after retries.
	// The affected chunks are left out of the index entirely; no partial
	// vectors are ever written.
	ErrEmbedding = errors.New("embedding failed")

	// ErrInconsistent marks a divergence between manifest and vector store
	// found during reconciliation.
	ErrInconsistent = errors.New("index inconsistent with manifest")
)

// Embedder is the external embedding capability. The same instance must serve
// both indexing and query-time embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the external vector index capability.
type VectorStore interface {
	Upsert(ctx context.Context, chunk document.Chunk, vector []float32) error
	Delete(ctx context.Context, chunkID string) error
	ChunkIDs(ctx context.Context, docPath string) ([]string, error)
	DocumentPaths(ctx context.Context) ([]string, error)
}

// DocumentLoader re-reads a document by its manifest path. Used by
// reconciliation, which has no freshly scanned content at hand.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (document.Document, error)
}

type Options struct {
	BatchSize     int
	RetryAttempts int
	RetryDelay    time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize < 1 {
		o.BatchSize = 16
	}
	if o.RetryAttempts < 1 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	return o
}

type Indexer struct {
	parser   *document.Parser
	embedder Embedder
	store    VectorStore
	manifest manifest.Store
	opts     Options

	locks keyedLocks
}

func New(parser *document.Parser, e Embedder, vs VectorStore, ms manifest.Store, opts Options) *Indexer {
	return &Indexer{
		parser:   parser,
		embedder: e,
		store:    vs,
		manifest: ms,
		opts:     opts.withDefaults(),
	}
}

// ApplyUpsert indexes one added or modified document. The apply is atomic
// from a reader's perspective: vectors are written first, stale vectors
// removed, and the manifest entry committed last.
func (ix *Indexer) ApplyUpsert(ctx context.Context, doc document.Document) error {
	unlock := ix.locks.lock(doc.Path)
	defer unlock()

	chunks, err := ix.parser.Parse(doc)
	if err != nil {
		return err
	}

	prevChunks := map[string]manifest.ChunkEntry{}
	prev, err := ix.manifest.Get(ctx, doc.Path)
	if err != nil && !errors.Is(err, manifest.ErrNotFound) {
		return fmt.Errorf("read manifest for %s: %w", doc.Path, err)
	}
	if prev != nil {
		prevChunks = prev.ChunkByID()
	}

	// Only chunks whose id is new or whose content hash moved get embedded.
	var stale []document.Chunk
	for _, c := range chunks {
		if old, ok := prevChunks[c.ID]; ok && old.ContentHash == c.ContentHash {
			continue
		}
		stale = append(stale, c)
	}

	embedded, failed := ix.embedAll(ctx, stale)
	for _, rec := range embedded {
		if err := ix.store.Upsert(ctx, rec.chunk, rec.vector); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", rec.chunk.ID, err)
		}
	}

	// Remove vectors for chunk ids the new parse no longer produces.
	newIDs := map[string]bool{}
	for _, c := range chunks {
		newIDs[c.ID] = true
	}
	for id := range prevChunks {
		if !newIDs[id] {
			if err := ix.store.Delete(ctx, id); err != nil {
				return fmt.Errorf("delete stale chunk %s: %w", id, err)
			}
		}
	}

	// A previously indexed chunk whose re-embedding exhausted retries must not
	// keep serving its pre-change vector; absent beats stale.
	for id := range failed {
		if _, ok := prevChunks[id]; ok {
			if err := ix.store.Delete(ctx, id); err != nil {
				return fmt.Errorf("delete failed chunk %s: %w", id, err)
			}
		}
	}

	entry := manifest.DocumentEntry{
		Path:        doc.Path,
		Technology:  doc.Technology,
		ContentHash: doc.Hash,
		IndexedAt:   time.Now().UTC(),
	}
	for _, c := range chunks {
		if failed[c.ID] {
			// Embedding exhausted its retries: the chunk stays out of both
			// index and manifest so reconciliation and retries can find it.
			continue
		}
		entry.Chunks = append(entry.Chunks, manifest.ChunkEntry{
			ID:           c.ID,
			Ordinal:      c.Ordinal,
			SectionTitle: c.SectionTitle,
			Category:     c.Category,
			ContentHash:  c.ContentHash,
		})
	}

	if err := ix.manifest.Put(ctx, entry); err != nil {
		return fmt.Errorf("commit manifest for %s: %w", doc.Path, err)
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d chunks in %s", ErrEmbedding, len(failed), len(chunks), doc.Path)
	}

	slog.InfoContext(ctx, "document indexed",
		"path", doc.Path, "technology", doc.Technology,
		"chunks", len(chunks), "embedded", len(embedded))
	return nil
}

// ApplyDelete removes every chunk of a deleted document from the vector
// store, then drops the manifest entry.
func (ix *Indexer) ApplyDelete(ctx context.Context, path string) error {
	unlock := ix.locks.lock(path)
	defer unlock()

	entry, err := ix.manifest.Get(ctx, path)
	if errors.Is(err, manifest.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read manifest for %s: %w", path, err)
	}

	for _, c := range entry.Chunks {
		if err := ix.store.Delete(ctx, c.ID); err != nil {
			return fmt.Errorf("delete chunk %s: %w", c.ID, err)
		}
	}

	if err := ix.manifest.Delete(ctx, path); err != nil {
		return fmt.Errorf("drop manifest entry for %s: %w", path, err)
	}

	slog.InfoContext(ctx, "document removed from index", "path", path, "chunks", len(entry.Chunks))
	return nil
}

// Summary reports a synchronous partition apply.
type Summary struct {
	Applied int
	Skipped int
	Failed  int
}

// ApplyPartition applies a whole partition in-process. Per-document failures
// are logged and counted; a single bad document never aborts the run.
func (ix *Indexer) ApplyPartition(ctx context.Context, part *tracker.Partition) Summary {
	var sum Summary

	upsert := func(doc document.Document) {
		err := ix.ApplyUpsert(ctx, doc)
		var parseErr *document.ParseError
		switch {
		case err == nil:
			sum.Applied++
		case errors.As(err, &parseErr):
			slog.WarnContext(ctx, "skipping unparseable document", "path", doc.Path, "reason", parseErr.Reason)
			sum.Skipped++
		default:
			slog.ErrorContext(ctx, "apply failed", "path", doc.Path, "error", err)
			sum.Failed++
		}
	}

	for _, doc := range part.Added {
		upsert(doc)
	}
	for _, doc := range part.Modified {
		upsert(doc)
	}
	for _, entry := range part.Deleted {
		if err := ix.ApplyDelete(ctx, entry.Path); err != nil {
			slog.ErrorContext(ctx, "delete failed", "path", entry.Path, "error", err)
			sum.Failed++
			continue
		}
		sum.Applied++
	}
	return sum
}

type embeddedChunk struct {
	chunk  document.Chunk
	vector []float32
}

// embedAll embeds chunks in batches. A failed batch falls back to per-chunk
// retries so one poisoned chunk cannot sink its whole batch. Returns the
// successfully embedded chunks and the set of chunk ids that exhausted their
// retries.
func (ix *Indexer) embedAll(ctx context.Context, chunks []document.Chunk) ([]embeddedChunk, map[string]bool) {
	var out []embeddedChunk
	failed := map[string]bool{}

	for start := 0; start < len(chunks); start += ix.opts.BatchSize {
		end := start + ix.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = embeddingInput(c)
		}

		vectors, err := ix.retryBatch(ctx, texts)
		if err == nil && len(vectors) == len(batch) {
			for i, c := range batch {
				out = append(out, embeddedChunk{chunk: c, vector: vectors[i]})
			}
			continue
		}

		slog.WarnContext(ctx, "embedding batch failed, retrying per chunk", "size", len(batch), "error", err)
		for _, c := range batch {
			vec, cerr := ix.retryOne(ctx, embeddingInput(c))
			if cerr != nil {
				slog.ErrorContext(ctx, "chunk embedding exhausted retries", "chunk_id", c.ID, "error", cerr)
				failed[c.ID] = true
				continue
			}
			out = append(out, embeddedChunk{chunk: c, vector: vec})
		}
	}
	return out, failed
}

// embeddingInput prefixes the chunk content with its provenance so the vector
// carries section context, mirroring what the retriever's query never has.
func embeddingInput(c document.Chunk) string {
	return fmt.Sprintf("Technology: %s\nSection: %s\nPath: %s\n---\n%s",
		c.Technology, c.SectionTitle, c.DocumentPath, c.Content)
}

func (ix *Indexer) retryBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var err error
	for attempt := 0; attempt < ix.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if werr := wait(ctx, ix.opts.RetryDelay<<uint(attempt-1)); werr != nil {
				return nil, werr
			}
		}
		var vectors [][]float32
		vectors, err = ix.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return vectors, nil
		}
	}
	return nil, err
}

func (ix *Indexer) retryOne(ctx context.Context, text string) ([]float32, error) {
	var err error
	for attempt := 0; attempt < ix.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if werr := wait(ctx, ix.opts.RetryDelay<<uint(attempt-1)); werr != nil {
				return nil, werr
			}
		}
		var vec []float32
		vec, err = ix.embedder.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
	}
	return nil, err
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// keyedLocks serializes applies targeting the same document path while
// letting different documents proceed in parallel.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*sync.Mutex{}
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
