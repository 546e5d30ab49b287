package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the single Weaviate class holding every embedding record.
// Technology scoping happens through the technology property, pre-filtered at
// query time by the per-technology index handles.
const ClassName = "DocChunk"

// SchemaClient is the subset of Weaviate schema operations EnsureSchema needs.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// EnsureSchema creates the DocChunk class if missing and backfills any
// properties added since the class was first created.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return err
	}

	properties := []*models.Property{
		{Name: "chunkId", DataType: []string{"string"}},
		{Name: "content", DataType: []string{"text"}},
		{Name: "technology", DataType: []string{"string"}},
		{Name: "filePath", DataType: []string{"string"}},
		{Name: "sectionTitle", DataType: []string{"text"}},
		{Name: "sectionLevel", DataType: []string{"int"}},
		{Name: "category", DataType: []string{"string"}},
		{Name: "ordinal", DataType: []string{"int"}},
		{Name: "contentHash", DataType: []string{"string"}},
	}

	if !exists {
		class := &models.Class{
			Class:       ClassName,
			Description: "An embedded chunk of technical documentation",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		existing[p.Name] = true
	}

	for _, p := range properties {
		if !existing[p.Name] {
			if err := client.AddProperty(ctx, ClassName, p); err != nil {
				return err
			}
		}
	}
	return nil
}
