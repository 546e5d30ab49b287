package index

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragdocs/backend/internal/document"
	"ragdocs/backend/internal/manifest"
	"ragdocs/backend/internal/tracker"
)

// --- Fakes ---

type fakeEmbedder struct {
	mu         sync.Mutex
	embedded   int
	failSubstr string
}

func (f *fakeEmbedder) vec(text string) []float32 {
	return []float32{float32(len(text))}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubstr != "" && strings.Contains(text, f.failSubstr) {
		return nil, assert.AnError
	}
	f.embedded++
	return f.vec(text), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range texts {
		if f.failSubstr != "" && strings.Contains(t, f.failSubstr) {
			return nil, assert.AnError
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vec(t)
	}
	f.embedded += len(texts)
	return out, nil
}

func (f *fakeEmbedder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embedded
}

type storedRec struct {
	path   string
	vector []float32
}

type fakeVectorStore struct {
	mu      sync.Mutex
	records map[string]storedRec
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{records: map[string]storedRec{}}
}

func (f *fakeVectorStore) Upsert(_ context.Context, chunk document.Chunk, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[chunk.ID] = storedRec{path: chunk.DocumentPath, vector: vector}
	return nil
}

func (f *fakeVectorStore) Delete(_ context.Context, chunkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, chunkID)
	return nil
}

func (f *fakeVectorStore) ChunkIDs(_ context.Context, docPath string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, rec := range f.records {
		if rec.path == docPath {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeVectorStore) DocumentPaths(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var paths []string
	for _, rec := range f.records {
		if !seen[rec.path] {
			seen[rec.path] = true
			paths = append(paths, rec.path)
		}
	}
	return paths, nil
}

func (f *fakeVectorStore) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeVectorStore) has(chunkID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[chunkID]
	return ok
}

type fakeLoader struct {
	docs map[string]document.Document
}

func (f *fakeLoader) Load(_ context.Context, path string) (document.Document, error) {
	doc, ok := f.docs[path]
	if !ok {
		return document.Document{}, os.ErrNotExist
	}
	return doc, nil
}

func makeDoc(path, tech, content string) document.Document {
	return document.Document{
		Path:       path,
		Technology: tech,
		Content:    content,
		Hash:       document.ContentHash(content),
	}
}

func newTestIndexer(e Embedder, vs VectorStore, ms manifest.Store) *Indexer {
	return New(document.NewParser(4096), e, vs, ms, Options{
		BatchSize:     4,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	})
}

// --- Tests ---

func TestApplyUpsert_IndexesAllChunks(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	doc := makeDoc("milvus/a.md", "milvus", "# One\nalpha\n\n# Two\nbeta")
	require.NoError(t, ix.ApplyUpsert(ctx, doc))

	assert.Equal(t, 2, store.size())
	assert.Equal(t, 2, emb.count())

	entry, err := ms.Get(ctx, "milvus/a.md")
	require.NoError(t, err)
	assert.Equal(t, doc.Hash, entry.ContentHash)
	require.Len(t, entry.Chunks, 2)
	for _, c := range entry.Chunks {
		assert.True(t, store.has(c.ID), "manifest chunk %s must have a vector record", c.ID)
	}
}

func TestApplyUpsert_UnchangedDocumentEmbedsNothing(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	doc := makeDoc("milvus/a.md", "milvus", "# One\nalpha\n\n# Two\nbeta")
	require.NoError(t, ix.ApplyUpsert(ctx, doc))
	first := emb.count()

	require.NoError(t, ix.ApplyUpsert(ctx, doc))
	assert.Equal(t, first, emb.count(), "re-applying an unchanged document must not re-embed")
	assert.Equal(t, 2, store.size())
}

func TestApplyUpsert_OnlyChangedChunksReEmbedded(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	v1 := makeDoc("milvus/a.md", "milvus", "# One\nalpha\n\n# Two\nbeta\n\n# Three\ngamma")
	require.NoError(t, ix.ApplyUpsert(ctx, v1))
	require.Equal(t, 3, emb.count())

	// Only the last section changes; ordinals 0 and 1 keep their hashes.
	v2 := makeDoc("milvus/a.md", "milvus", "# One\nalpha\n\n# Two\nbeta\n\n# Three\ndelta")
	require.NoError(t, ix.ApplyUpsert(ctx, v2))
	assert.Equal(t, 4, emb.count(), "exactly one chunk should re-embed")
}

func TestApplyUpsert_ShrinkingDocumentDeletesStaleChunks(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	v1 := makeDoc("milvus/a.md", "milvus", "# One\nalpha\n\n# Two\nbeta\n\n# Three\ngamma")
	require.NoError(t, ix.ApplyUpsert(ctx, v1))
	require.Equal(t, 3, store.size())

	v2 := makeDoc("milvus/a.md", "milvus", "# One\nalpha")
	require.NoError(t, ix.ApplyUpsert(ctx, v2))

	assert.Equal(t, 1, store.size())
	assert.True(t, store.has(document.ChunkID("milvus/a.md", 0)))
	assert.False(t, store.has(document.ChunkID("milvus/a.md", 2)))

	entry, err := ms.Get(ctx, "milvus/a.md")
	require.NoError(t, err)
	assert.Len(t, entry.Chunks, 1)
}

func TestApplyUpsert_EmbeddingFailureExcludesChunk(t *testing.T) {
	emb := &fakeEmbedder{failSubstr: "poison"}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	doc := makeDoc("milvus/a.md", "milvus", "# Good\nalpha\n\n# Bad\npoison\n\n# Fine\ngamma")
	err := ix.ApplyUpsert(ctx, doc)
	require.ErrorIs(t, err, ErrEmbedding)

	// Healthy chunks are searchable, the failed one exists nowhere.
	assert.Equal(t, 2, store.size())
	badID := document.ChunkID("milvus/a.md", 1)
	assert.False(t, store.has(badID))

	entry, merr := ms.Get(ctx, "milvus/a.md")
	require.NoError(t, merr)
	require.Len(t, entry.Chunks, 2)
	for _, c := range entry.Chunks {
		assert.NotEqual(t, badID, c.ID)
	}
}

func TestApplyUpsert_FailedReEmbedEvictsStaleVector(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	v1 := makeDoc("milvus/a.md", "milvus", "# One\nalpha\n\n# Two\nbeta")
	require.NoError(t, ix.ApplyUpsert(ctx, v1))
	badID := document.ChunkID("milvus/a.md", 1)
	require.True(t, store.has(badID))

	// The second section changes to content the embedder cannot embed.
	emb.failSubstr = "poison"
	v2 := makeDoc("milvus/a.md", "milvus", "# One\nalpha\n\n# Two\npoison")
	err := ix.ApplyUpsert(ctx, v2)
	require.ErrorIs(t, err, ErrEmbedding)

	// The pre-change vector must not stay searchable; absent beats stale.
	assert.False(t, store.has(badID))
	assert.True(t, store.has(document.ChunkID("milvus/a.md", 0)))

	entry, merr := ms.Get(ctx, "milvus/a.md")
	require.NoError(t, merr)
	require.Len(t, entry.Chunks, 1)
	assert.NotEqual(t, badID, entry.Chunks[0].ID)
}

func TestApplyUpsert_ParseErrorLeavesStateUntouched(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	err := ix.ApplyUpsert(ctx, makeDoc("milvus/bad.png", "milvus", "x"))
	var perr *document.ParseError
	require.ErrorAs(t, err, &perr)

	assert.Equal(t, 0, store.size())
	_, merr := ms.Get(ctx, "milvus/bad.png")
	assert.ErrorIs(t, merr, manifest.ErrNotFound)
}

func TestApplyDelete(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	require.NoError(t, ix.ApplyUpsert(ctx, makeDoc("milvus/a.md", "milvus", "# One\nalpha")))
	require.Equal(t, 1, store.size())

	require.NoError(t, ix.ApplyDelete(ctx, "milvus/a.md"))
	assert.Equal(t, 0, store.size())
	_, err := ms.Get(ctx, "milvus/a.md")
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestApplyDelete_UnknownPathIsNoop(t *testing.T) {
	ix := newTestIndexer(&fakeEmbedder{}, newFakeVectorStore(), manifest.NewMemoryStore())
	assert.NoError(t, ix.ApplyDelete(context.Background(), "milvus/never-indexed.md"))
}

func TestApplyPartition(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	// Pre-index the document that the partition deletes.
	require.NoError(t, ix.ApplyUpsert(ctx, makeDoc("milvus/old.md", "milvus", "# Old\nbody")))

	part := &tracker.Partition{
		Added: []document.Document{
			makeDoc("milvus/new.md", "milvus", "# New\nbody"),
			makeDoc("milvus/broken.png", "milvus", "not markdown"),
		},
		Deleted: []manifest.DocumentEntry{{Path: "milvus/old.md"}},
	}

	sum := ix.ApplyPartition(ctx, part)
	assert.Equal(t, 2, sum.Applied)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Failed)

	_, err := ms.Get(ctx, "milvus/old.md")
	assert.ErrorIs(t, err, manifest.ErrNotFound)
	_, err = ms.Get(ctx, "milvus/new.md")
	assert.NoError(t, err)
}

// Two-document scenario: modify one, delete the other, nothing else moves.
func TestApplyPartition_ModifyAndDelete(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	docA := makeDoc("milvus/a.md", "milvus", "# A1\nalpha\n\n# A2\nbeta")
	docB := makeDoc("weaviate/b.md", "weaviate", "# B1\ngamma\n\n# B2\ndelta")
	require.NoError(t, ix.ApplyUpsert(ctx, docA))
	require.NoError(t, ix.ApplyUpsert(ctx, docB))
	baseline := emb.count()

	docB2 := makeDoc("weaviate/b.md", "weaviate", "# B1\ngamma\n\n# B2\nchanged")
	entryA, err := ms.Get(ctx, "milvus/a.md")
	require.NoError(t, err)

	sum := ix.ApplyPartition(ctx, &tracker.Partition{
		Modified: []document.Document{docB2},
		Deleted:  []manifest.DocumentEntry{*entryA},
	})
	assert.Equal(t, Summary{Applied: 2}, sum)

	// A is fully gone.
	assert.False(t, store.has(document.ChunkID("milvus/a.md", 0)))
	assert.False(t, store.has(document.ChunkID("milvus/a.md", 1)))
	_, err = ms.Get(ctx, "milvus/a.md")
	assert.ErrorIs(t, err, manifest.ErrNotFound)

	// B re-embedded only its changed chunk.
	assert.Equal(t, baseline+1, emb.count())
	entryB, err := ms.Get(ctx, "weaviate/b.md")
	require.NoError(t, err)
	assert.Equal(t, docB2.Hash, entryB.ContentHash)
}

func TestReconcile_ConsistentStateIsClean(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	doc := makeDoc("milvus/a.md", "milvus", "# One\nalpha")
	require.NoError(t, ix.ApplyUpsert(ctx, doc))

	loader := &fakeLoader{docs: map[string]document.Document{"milvus/a.md": doc}}
	assert.NoError(t, ix.Reconcile(ctx, loader))
	assert.Equal(t, 1, emb.count(), "clean reconcile must not re-embed")
}

func TestReconcile_RebuildsMissingVectors(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	doc := makeDoc("milvus/a.md", "milvus", "# One\nalpha\n\n# Two\nbeta")
	require.NoError(t, ix.ApplyUpsert(ctx, doc))

	// Simulate a lost vector record.
	require.NoError(t, store.Delete(ctx, document.ChunkID("milvus/a.md", 1)))

	loader := &fakeLoader{docs: map[string]document.Document{"milvus/a.md": doc}}
	require.NoError(t, ix.Reconcile(ctx, loader))

	assert.Equal(t, 2, store.size())
	entry, err := ms.Get(ctx, "milvus/a.md")
	require.NoError(t, err)
	assert.Len(t, entry.Chunks, 2)
}

func TestReconcile_DeletesOrphanedVectors(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	doc := makeDoc("milvus/a.md", "milvus", "# One\nalpha")
	require.NoError(t, ix.ApplyUpsert(ctx, doc))

	// Vector records for a document the manifest has never heard of.
	orphan := document.Chunk{ID: "orphan-1", DocumentPath: "milvus/ghost.md"}
	require.NoError(t, store.Upsert(ctx, orphan, []float32{1}))

	loader := &fakeLoader{docs: map[string]document.Document{"milvus/a.md": doc}}
	require.NoError(t, ix.Reconcile(ctx, loader))

	assert.False(t, store.has("orphan-1"))
	assert.True(t, store.has(document.ChunkID("milvus/a.md", 0)))
}

func TestReconcile_UnloadableDocumentIsInconsistent(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	doc := makeDoc("milvus/a.md", "milvus", "# One\nalpha")
	require.NoError(t, ix.ApplyUpsert(ctx, doc))
	require.NoError(t, store.Delete(ctx, document.ChunkID("milvus/a.md", 0)))

	// Source file is gone too, so the repair cannot reload it.
	err := ix.Reconcile(ctx, &fakeLoader{docs: map[string]document.Document{}})
	assert.ErrorIs(t, err, ErrInconsistent)
}

func TestApplyUpsert_ConcurrentSamePathSerialized(t *testing.T) {
	emb := &fakeEmbedder{}
	store := newFakeVectorStore()
	ms := manifest.NewMemoryStore()
	ix := newTestIndexer(emb, store, ms)
	ctx := context.Background()

	doc := makeDoc("milvus/a.md", "milvus", "# One\nalpha\n\n# Two\nbeta")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ix.ApplyUpsert(ctx, doc)
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, store.size())
	entry, err := ms.Get(ctx, "milvus/a.md")
	require.NoError(t, err)
	assert.Len(t, entry.Chunks, 2)
}
