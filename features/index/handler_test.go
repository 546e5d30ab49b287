package index

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragdocs/backend/internal/manifest"
	"ragdocs/backend/internal/retrieval"
	"ragdocs/backend/internal/tracker"
)

func TestReindexHandler(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "milvus"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "milvus", "a.md"), []byte("# A"), 0o644))

	svc := NewService(tracker.New(root), manifest.NewMemoryStore(), &capturingPublisher{})
	h := NewHandler(svc, retrieval.NewRegistry())

	req := httptest.NewRequest("POST", "/reindex", nil)
	w := httptest.NewRecorder()
	h.Reindex(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var counts tracker.Counts
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &counts))
	assert.Equal(t, 1, counts.Added)
}

func TestTechnologiesHandler(t *testing.T) {
	reg := retrieval.NewRegistry()
	reg.Register("milvus", nil)
	reg.Register("weaviate", nil)

	h := NewHandler(nil, reg)
	req := httptest.NewRequest("GET", "/technologies", nil)
	w := httptest.NewRecorder()
	h.Technologies(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"milvus", "weaviate"}, resp.Data)
}

func TestCategoriesHandler(t *testing.T) {
	h := NewHandler(nil, retrieval.NewRegistry())
	req := httptest.NewRequest("GET", "/categories", nil)
	w := httptest.NewRecorder()
	h.Categories(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Data, "general")
	assert.Contains(t, resp.Data, "security")
}
