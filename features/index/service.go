package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"ragdocs/backend/internal/config"
	"ragdocs/backend/internal/manifest"
	"ragdocs/backend/internal/middleware"
	"ragdocs/backend/internal/tracker"
	"ragdocs/backend/internal/worker"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Service runs change-tracker passes and fans the resulting per-document
// apply tasks out over NSQ. The pass itself is a pure read; all index and
// manifest mutation happens in the consumers.
type Service struct {
	tracker  *tracker.Tracker
	manifest manifest.Store
	pub      EventPublisher
}

func NewService(t *tracker.Tracker, m manifest.Store, pub EventPublisher) *Service {
	return &Service{tracker: t, manifest: m, pub: pub}
}

// Reindex partitions the corpus against the current manifest, publishes one
// apply task per added, modified, or deleted document, and returns the
// counts. Application is asynchronous; counts reflect the scan, not
// completion.
func (s *Service) Reindex(ctx context.Context) (tracker.Counts, error) {
	snap, err := s.manifest.Snapshot(ctx)
	if err != nil {
		return tracker.Counts{}, fmt.Errorf("load manifest snapshot: %w", err)
	}

	part, err := s.tracker.Scan(ctx, snap)
	if err != nil {
		return tracker.Counts{}, fmt.Errorf("scan docs: %w", err)
	}

	correlationID := middleware.GetCorrelationID(ctx)
	publish := func(task worker.ApplyTask) error {
		task.CorrelationID = correlationID
		body, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return s.pub.Publish(config.TopicIndexApply, body)
	}

	for _, doc := range part.Added {
		if err := publish(worker.ApplyTask{Op: worker.OpUpsert, Path: doc.Path, Technology: doc.Technology}); err != nil {
			return tracker.Counts{}, fmt.Errorf("publish apply task for %s: %w", doc.Path, err)
		}
	}
	for _, doc := range part.Modified {
		if err := publish(worker.ApplyTask{Op: worker.OpUpsert, Path: doc.Path, Technology: doc.Technology}); err != nil {
			return tracker.Counts{}, fmt.Errorf("publish apply task for %s: %w", doc.Path, err)
		}
	}
	for _, entry := range part.Deleted {
		if err := publish(worker.ApplyTask{Op: worker.OpDelete, Path: entry.Path, Technology: entry.Technology}); err != nil {
			return tracker.Counts{}, fmt.Errorf("publish delete task for %s: %w", entry.Path, err)
		}
	}

	counts := part.Counts()
	slog.InfoContext(ctx, "reindex pass complete",
		"added", counts.Added, "modified", counts.Modified,
		"deleted", counts.Deleted, "unchanged", counts.Unchanged)
	return counts, nil
}
