// Package tracker detects which source documents changed since the last
// indexing pass. It is a pure read: the manifest is only consulted, never
// mutated; committing the new state is the indexer's job after a successful
// apply.
package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ragdocs/backend/internal/document"
	"ragdocs/backend/internal/manifest"
)

// Partition is the outcome of one scan: every known or discovered document
// falls into exactly one bucket. Deleted holds the manifest entries whose
// files are gone.
type Partition struct {
	Added     []document.Document
	Modified  []document.Document
	Deleted   []manifest.DocumentEntry
	Unchanged []document.Document
}

// Counts is the reindex response contract.
type Counts struct {
	Added     int `json:"added"`
	Modified  int `json:"modified"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

func (p *Partition) Counts() Counts {
	return Counts{
		Added:     len(p.Added),
		Modified:  len(p.Modified),
		Deleted:   len(p.Deleted),
		Unchanged: len(p.Unchanged),
	}
}

// Tracker scans a docs root whose immediate subdirectories are technology
// names (data/docs/qdrant/..., data/docs/weaviate/...).
type Tracker struct {
	root string
}

func New(root string) *Tracker {
	return &Tracker{root: root}
}

// Technologies lists the technology subdirectories of the docs root, sorted.
func (t *Tracker) Technologies() ([]string, error) {
	entries, err := os.ReadDir(t.root)
	if err != nil {
		return nil, fmt.Errorf("read docs root %s: %w", t.root, err)
	}

	var techs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			techs = append(techs, e.Name())
		}
	}
	sort.Strings(techs)
	return techs, nil
}

// Scan walks the docs tree, hashes every supported document, and partitions
// the corpus against the manifest snapshot. Running it twice with no
// filesystem change in between yields empty added/modified/deleted buckets.
func (t *Tracker) Scan(ctx context.Context, snap manifest.Snapshot) (*Partition, error) {
	techs, err := t.Technologies()
	if err != nil {
		return nil, err
	}

	part := &Partition{}
	seen := map[string]bool{}

	for _, tech := range techs {
		techRoot := filepath.Join(t.root, tech)
		walkErr := filepath.WalkDir(techRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !document.SupportedKind(path) {
				return nil
			}

			doc, err := t.readDocument(path, tech)
			if err != nil {
				return err
			}
			seen[doc.Path] = true

			prev, known := snap[doc.Path]
			switch {
			case !known:
				part.Added = append(part.Added, doc)
			case prev.ContentHash != doc.Hash:
				part.Modified = append(part.Modified, doc)
			default:
				part.Unchanged = append(part.Unchanged, doc)
			}
			return nil
		})
		if walkErr != nil {
			return nil, fmt.Errorf("scan %s: %w", techRoot, walkErr)
		}
	}

	for path, entry := range snap {
		if !seen[path] {
			part.Deleted = append(part.Deleted, entry)
		}
	}

	sortPartition(part)
	return part, nil
}

// Load re-reads a single document by its manifest path (relative to the docs
// root, technology = first path segment). Satisfies the indexer's
// DocumentLoader for startup reconciliation and async apply tasks.
func (t *Tracker) Load(_ context.Context, relPath string) (document.Document, error) {
	tech, _, ok := strings.Cut(filepath.ToSlash(relPath), "/")
	if !ok {
		return document.Document{}, fmt.Errorf("path %s has no technology segment", relPath)
	}
	return t.readDocument(filepath.Join(t.root, filepath.FromSlash(relPath)), tech)
}

func (t *Tracker) readDocument(path, tech string) (document.Document, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from walking the configured docs root
	if err != nil {
		return document.Document{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return document.Document{}, err
	}

	rel, err := filepath.Rel(t.root, path)
	if err != nil {
		return document.Document{}, err
	}

	sum := sha256.Sum256(raw)
	return document.Document{
		Path:       filepath.ToSlash(rel),
		Technology: tech,
		Content:    string(raw),
		Hash:       hex.EncodeToString(sum[:]),
		ModTime:    info.ModTime(),
	}, nil
}

// sortPartition keeps scan output deterministic regardless of directory
// iteration order.
func sortPartition(p *Partition) {
	byPath := func(docs []document.Document) {
		sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	}
	byPath(p.Added)
	byPath(p.Modified)
	byPath(p.Unchanged)
	sort.Slice(p.Deleted, func(i, j int) bool { return p.Deleted[i].Path < p.Deleted[j].Path })
}
