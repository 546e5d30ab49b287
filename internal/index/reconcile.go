package index

import (
	"context"
	"fmt"
	"log/slog"
)

// Reconcile repairs divergence between manifest and vector store at startup.
// The manifest is the source of truth: manifest chunks with no vector record
// get re-embedded from the source document, vector records with no manifest
// chunk get deleted. Returns ErrInconsistent (wrapped) when divergence was
// found but could not be fully repaired.
func (ix *Indexer) Reconcile(ctx context.Context, loader DocumentLoader) error {
	snap, err := ix.manifest.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load manifest snapshot: %w", err)
	}

	manifestIDs := map[string]string{} // chunk id -> document path
	for path, entry := range snap {
		for _, c := range entry.Chunks {
			manifestIDs[c.ID] = path
		}
	}

	var unrepaired []string

	// Pass 1: manifest entries whose vector records are missing.
	for path, entry := range snap {
		stored, err := ix.store.ChunkIDs(ctx, path)
		if err != nil {
			return fmt.Errorf("list vector records for %s: %w", path, err)
		}
		storedSet := map[string]bool{}
		for _, id := range stored {
			storedSet[id] = true
		}

		missing := 0
		for _, c := range entry.Chunks {
			if !storedSet[c.ID] {
				missing++
			}
		}
		if missing == 0 {
			continue
		}

		slog.WarnContext(ctx, "manifest chunks missing vector records, re-indexing document",
			"path", path, "missing", missing)

		doc, err := loader.Load(ctx, path)
		if err != nil {
			unrepaired = append(unrepaired, path)
			slog.ErrorContext(ctx, "cannot reload document for repair", "path", path, "error", err)
			continue
		}
		// Drop the stale entry first so the re-apply embeds everything the
		// store is missing rather than trusting the manifest hashes.
		if err := ix.manifest.Delete(ctx, path); err != nil {
			return fmt.Errorf("drop stale manifest entry %s: %w", path, err)
		}
		if err := ix.ApplyUpsert(ctx, doc); err != nil {
			unrepaired = append(unrepaired, path)
			slog.ErrorContext(ctx, "repair re-index failed", "path", path, "error", err)
		}
	}

	// Pass 2: vector records whose document is unknown to the manifest.
	paths, err := ix.store.DocumentPaths(ctx)
	if err != nil {
		return fmt.Errorf("list indexed documents: %w", err)
	}
	for _, path := range paths {
		if _, ok := snap[path]; ok {
			// Per-chunk orphans within a known document.
			stored, err := ix.store.ChunkIDs(ctx, path)
			if err != nil {
				return fmt.Errorf("list vector records for %s: %w", path, err)
			}
			for _, id := range stored {
				if _, ok := manifestIDs[id]; !ok {
					slog.WarnContext(ctx, "deleting orphaned vector record", "chunk_id", id, "path", path)
					if err := ix.store.Delete(ctx, id); err != nil {
						unrepaired = append(unrepaired, path)
					}
				}
			}
			continue
		}

		slog.WarnContext(ctx, "deleting vector records for unknown document", "path", path)
		stored, err := ix.store.ChunkIDs(ctx, path)
		if err != nil {
			return fmt.Errorf("list vector records for %s: %w", path, err)
		}
		for _, id := range stored {
			if err := ix.store.Delete(ctx, id); err != nil {
				unrepaired = append(unrepaired, path)
			}
		}
	}

	if len(unrepaired) > 0 {
		return fmt.Errorf("%w: %d documents left unrepaired", ErrInconsistent, len(dedupe(unrepaired)))
	}
	return nil
}

func dedupe(paths []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
