// Package weaviate adapts the Weaviate client to the indexer's VectorStore
// and the retriever's SearchIndex capabilities. Object ids are deterministic
// UUIDs derived from chunk ids, which is what makes writes upserts.
package weaviate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"ragdocs/backend/internal/document"
	"ragdocs/backend/internal/retrieval"
	"ragdocs/backend/internal/vector"
)

// chunkNamespace scopes the uuidv5 derivation of object ids from chunk ids.
var chunkNamespace = uuid.MustParse("8e1cb4d2-55a1-4a6e-9d2f-3f6a0c7b9d41")

func objectID(chunkID string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String()
}

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewSchemaClient(s.client))
}

// Upsert writes one chunk's embedding record. Delete-then-create against the
// deterministic object id keeps re-embedding idempotent.
func (s *Store) Upsert(ctx context.Context, chunk document.Chunk, vec []float32) error {
	id := objectID(chunk.ID)
	if err := s.deleteObject(ctx, id); err != nil {
		return err
	}

	_, err := s.client.Data().Creator().
		WithClassName(vector.ClassName).
		WithID(id).
		WithProperties(map[string]interface{}{
			"chunkId":      chunk.ID,
			"content":      chunk.Content,
			"technology":   chunk.Technology,
			"filePath":     chunk.DocumentPath,
			"sectionTitle": chunk.SectionTitle,
			"sectionLevel": chunk.SectionLevel,
			"category":     chunk.Category,
			"ordinal":      chunk.Ordinal,
			"contentHash":  chunk.ContentHash,
		}).
		WithVector(vec).
		Do(ctx)
	return err
}

func (s *Store) Delete(ctx context.Context, chunkID string) error {
	return s.deleteObject(ctx, objectID(chunkID))
}

func (s *Store) deleteObject(ctx context.Context, id string) error {
	err := s.client.Data().Deleter().
		WithClassName(vector.ClassName).
		WithID(id).
		Do(ctx)
	if err == nil {
		return nil
	}
	// A missing object is fine for both upsert and delete semantics.
	if clientErr, ok := err.(*fault.WeaviateClientError); ok && clientErr.StatusCode == 404 {
		return nil
	}
	return err
}

// ChunkIDs lists the chunk ids currently stored for a document.
func (s *Store) ChunkIDs(ctx context.Context, docPath string) ([]string, error) {
	where := filters.Where().
		WithPath([]string{"filePath"}).
		WithOperator(filters.Equal).
		WithValueString(docPath)

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithWhere(where).
		WithLimit(10000).
		WithFields(graphql.Field{Name: "chunkId"}).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var ids []string
	for _, props := range objects(res.Data) {
		if id, ok := props["chunkId"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DocumentPaths lists the distinct document paths present in the store.
func (s *Store) DocumentPaths(ctx context.Context) ([]string, error) {
	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithLimit(10000).
		WithFields(graphql.Field{Name: "filePath"}).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	seen := map[string]bool{}
	var paths []string
	for _, props := range objects(res.Data) {
		if p, ok := props["filePath"].(string); ok && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// TechnologyIndex returns a technology-scoped search handle over the shared
// class. The technology filter is bound once, at registry build time.
func (s *Store) TechnologyIndex(technology string) retrieval.SearchIndex {
	return &technologyIndex{store: s, technology: technology}
}

type technologyIndex struct {
	store      *Store
	technology string
}

func (t *technologyIndex) Query(ctx context.Context, vec []float32, categories []string, topK int) ([]retrieval.Result, error) {
	where := filters.Where().
		WithPath([]string{"technology"}).
		WithOperator(filters.Equal).
		WithValueString(t.technology)

	if len(categories) > 0 {
		catOps := make([]*filters.WhereBuilder, len(categories))
		for i, c := range categories {
			catOps[i] = filters.Where().
				WithPath([]string{"category"}).
				WithOperator(filters.Equal).
				WithValueString(c)
		}
		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				where,
				filters.Where().WithOperator(filters.Or).WithOperands(catOps),
			})
	}

	nearVector := t.store.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	fields := []graphql.Field{
		{Name: "chunkId"},
		{Name: "content"},
		{Name: "technology"},
		{Name: "filePath"},
		{Name: "sectionTitle"},
		{Name: "sectionLevel"},
		{Name: "category"},
		{Name: "ordinal"},
		{Name: "contentHash"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	res, err := t.store.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var results []retrieval.Result
	for _, props := range objects(res.Data) {
		r := retrieval.Result{Chunk: document.Chunk{
			ID:           str(props, "chunkId"),
			Content:      str(props, "content"),
			Technology:   str(props, "technology"),
			DocumentPath: str(props, "filePath"),
			SectionTitle: str(props, "sectionTitle"),
			SectionLevel: num(props, "sectionLevel"),
			Category:     str(props, "category"),
			Ordinal:      num(props, "ordinal"),
			ContentHash:  str(props, "contentHash"),
		}}

		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if c, ok := additional["certainty"].(float64); ok {
				r.Score = float32(c)
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// objects unpacks the GraphQL Get envelope down to per-object property maps.
func objects(data map[string]models.JSONObject) []map[string]interface{} {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := get[vector.ClassName].([]interface{})
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	for _, o := range raw {
		if props, ok := o.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}

func str(props map[string]interface{}, key string) string {
	s, _ := props[key].(string)
	return s
}

func num(props map[string]interface{}, key string) int {
	if f, ok := props[key].(float64); ok {
		return int(f)
	}
	return 0
}
