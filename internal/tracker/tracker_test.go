package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragdocs/backend/internal/document"
	"ragdocs/backend/internal/manifest"
)

func writeDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestTechnologies(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "weaviate"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "milvus"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".hidden"), 0o755))
	writeDoc(t, root, "stray.md", "# not in a technology dir")

	techs, err := New(root).Technologies()
	require.NoError(t, err)
	assert.Equal(t, []string{"milvus", "weaviate"}, techs)
}

func TestScan_PartitionsCorpus(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "milvus/new.md", "# New\nbody")
	writeDoc(t, root, "milvus/changed.md", "# Changed\nnew body")
	writeDoc(t, root, "weaviate/same.md", "# Same\nbody")
	writeDoc(t, root, "weaviate/notes.txt", "ignored, not markdown")

	snap := manifest.Snapshot{
		"milvus/changed.md": {Path: "milvus/changed.md", Technology: "milvus", ContentHash: "stale"},
		"weaviate/same.md": {
			Path:        "weaviate/same.md",
			Technology:  "weaviate",
			ContentHash: document.ContentHash("# Same\nbody"),
		},
		"weaviate/gone.md": {Path: "weaviate/gone.md", Technology: "weaviate", ContentHash: "whatever"},
	}

	part, err := New(root).Scan(context.Background(), snap)
	require.NoError(t, err)

	require.Len(t, part.Added, 1)
	assert.Equal(t, "milvus/new.md", part.Added[0].Path)
	assert.Equal(t, "milvus", part.Added[0].Technology)

	require.Len(t, part.Modified, 1)
	assert.Equal(t, "milvus/changed.md", part.Modified[0].Path)

	require.Len(t, part.Unchanged, 1)
	assert.Equal(t, "weaviate/same.md", part.Unchanged[0].Path)

	require.Len(t, part.Deleted, 1)
	assert.Equal(t, "weaviate/gone.md", part.Deleted[0].Path)

	assert.Equal(t, Counts{Added: 1, Modified: 1, Deleted: 1, Unchanged: 1}, part.Counts())
}

func TestScan_SecondPassIsEmpty(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "milvus/a.md", "# A\nalpha")
	writeDoc(t, root, "milvus/b.md", "# B\nbeta")

	trk := New(root)
	first, err := trk.Scan(context.Background(), manifest.Snapshot{})
	require.NoError(t, err)
	require.Len(t, first.Added, 2)

	// Commit what the scan saw, as the indexer would after applying.
	snap := manifest.Snapshot{}
	for _, doc := range first.Added {
		snap[doc.Path] = manifest.DocumentEntry{
			Path:        doc.Path,
			Technology:  doc.Technology,
			ContentHash: doc.Hash,
		}
	}

	second, err := trk.Scan(context.Background(), snap)
	require.NoError(t, err)
	assert.Empty(t, second.Added)
	assert.Empty(t, second.Modified)
	assert.Empty(t, second.Deleted)
	assert.Len(t, second.Unchanged, 2)
}

func TestScan_DeterministicOrder(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "milvus/c.md", "c")
	writeDoc(t, root, "milvus/a.md", "a")
	writeDoc(t, root, "milvus/b.md", "b")

	part, err := New(root).Scan(context.Background(), manifest.Snapshot{})
	require.NoError(t, err)
	require.Len(t, part.Added, 3)
	assert.Equal(t, "milvus/a.md", part.Added[0].Path)
	assert.Equal(t, "milvus/b.md", part.Added[1].Path)
	assert.Equal(t, "milvus/c.md", part.Added[2].Path)
}

func TestScan_NestedDirectories(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "milvus/guides/deep/install.md", "# Install")

	part, err := New(root).Scan(context.Background(), manifest.Snapshot{})
	require.NoError(t, err)
	require.Len(t, part.Added, 1)
	assert.Equal(t, "milvus/guides/deep/install.md", part.Added[0].Path)
	assert.Equal(t, "milvus", part.Added[0].Technology)
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "weaviate/guide.md", "# Guide\nbody")

	doc, err := New(root).Load(context.Background(), "weaviate/guide.md")
	require.NoError(t, err)
	assert.Equal(t, "weaviate/guide.md", doc.Path)
	assert.Equal(t, "weaviate", doc.Technology)
	assert.Equal(t, "# Guide\nbody", doc.Content)
	assert.NotEmpty(t, doc.Hash)
}

func TestLoad_MissingFile(t *testing.T) {
	root := t.TempDir()
	_, err := New(root).Load(context.Background(), "weaviate/nope.md")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_NoTechnologySegment(t *testing.T) {
	root := t.TempDir()
	_, err := New(root).Load(context.Background(), "orphan.md")
	assert.Error(t, err)
}
