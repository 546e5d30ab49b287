// Package retrieval answers queries against the technology-scoped vector
// indexes: embed once, fan out to the selected indexes in parallel, merge
// deterministically.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ragdocs/backend/internal/document"
)

// ErrUnavailable wraps vector store failures so callers can distinguish an
// unreachable index from an empty result. An empty result is not an error.
var ErrUnavailable = errors.New("retrieval unavailable")

// Filters narrow a search before ranking, so top-k is always the k best
// matching chunks that satisfy them.
type Filters struct {
	Technologies []string
	Categories   []string
}

// Result is one ranked candidate chunk.
type Result struct {
	Chunk document.Chunk
	Score float32
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchIndex is one technology-scoped index handle. Category filtering
// happens inside the store query, not on the returned results.
type SearchIndex interface {
	Query(ctx context.Context, vector []float32, categories []string, topK int) ([]Result, error)
}

// Registry maps technology names to their index handles. Built once at
// startup; never re-derived from strings per call.
type Registry struct {
	handles map[string]SearchIndex
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{handles: map[string]SearchIndex{}}
}

func (r *Registry) Register(technology string, idx SearchIndex) {
	if _, ok := r.handles[technology]; !ok {
		r.order = append(r.order, technology)
	}
	r.handles[technology] = idx
}

// Technologies lists registered technologies in registration order.
func (r *Registry) Technologies() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// resolve returns the handles for the requested technologies, or all handles
// when the filter is empty. Unknown technologies resolve to nothing, an
// empty result, not an error.
func (r *Registry) resolve(technologies []string) map[string]SearchIndex {
	if len(technologies) == 0 {
		out := make(map[string]SearchIndex, len(r.handles))
		for tech, h := range r.handles {
			out[tech] = h
		}
		return out
	}
	out := map[string]SearchIndex{}
	for _, tech := range technologies {
		if h, ok := r.handles[tech]; ok {
			out[tech] = h
		}
	}
	return out
}

type Retriever struct {
	embedder Embedder
	registry *Registry
	logger   *QueryLogger
}

func NewRetriever(e Embedder, reg *Registry, l *QueryLogger) *Retriever {
	return &Retriever{embedder: e, registry: reg, logger: l}
}

// Search embeds the query once, with the same embedder the indexer uses,
// fans it out to each selected technology index, and merges by score
// descending with a (technology, ordinal) tie-break for determinism.
func (r *Retriever) Search(ctx context.Context, query string, f Filters, topK int) ([]Result, error) {
	start := time.Now()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrUnavailable, err)
	}

	handles := r.registry.resolve(f.Technologies)
	if len(handles) == 0 {
		return nil, nil
	}

	type fanResult struct {
		tech    string
		results []Result
		err     error
	}

	var wg sync.WaitGroup
	out := make(chan fanResult, len(handles))
	for tech, idx := range handles {
		wg.Add(1)
		go func(tech string, idx SearchIndex) {
			defer wg.Done()
			results, qerr := idx.Query(ctx, vec, f.Categories, topK)
			out <- fanResult{tech: tech, results: results, err: qerr}
		}(tech, idx)
	}
	wg.Wait()
	close(out)

	var merged []Result
	for fr := range out {
		if fr.err != nil {
			return nil, fmt.Errorf("%w: query %s index: %w", ErrUnavailable, fr.tech, fr.err)
		}
		merged = append(merged, fr.results...)
	}

	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Technology != b.Chunk.Technology {
			return a.Chunk.Technology < b.Chunk.Technology
		}
		if a.Chunk.DocumentPath != b.Chunk.DocumentPath {
			return a.Chunk.DocumentPath < b.Chunk.DocumentPath
		}
		return a.Chunk.Ordinal < b.Chunk.Ordinal
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}

	if r.logger != nil {
		r.logger.Log(QueryLogEntry{
			Query:      query,
			NumResults: len(merged),
			Duration:   time.Since(start),
		})
	}
	return merged, nil
}
