package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nsqio/go-nsq"

	"ragdocs/backend/features/job"
	"ragdocs/backend/internal/config"
	"ragdocs/backend/internal/document"
	"ragdocs/backend/internal/index"
	"ragdocs/backend/internal/middleware"
)

// Applier is the slice of the indexer the consumer drives.
type Applier interface {
	ApplyUpsert(ctx context.Context, doc document.Document) error
	ApplyDelete(ctx context.Context, path string) error
}

// Loader re-reads a document by its manifest path.
type Loader interface {
	Load(ctx context.Context, path string) (document.Document, error)
}

// ApplyConsumer executes per-document apply tasks from NSQ. Transient
// failures ride NSQ's redelivery; after maxAttempts the task is parked as a
// dead-letter job for manual retry.
type ApplyConsumer struct {
	applier     Applier
	loader      Loader
	deadLetters job.Repository

	maxAttempts uint16
}

func NewApplyConsumer(a Applier, l Loader, dl job.Repository, maxAttempts uint16) *ApplyConsumer {
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	return &ApplyConsumer{applier: a, loader: l, deadLetters: dl, maxAttempts: maxAttempts}
}

func (h *ApplyConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task ApplyTask
	if err := json.Unmarshal(m.Body, &task); err != nil {
		// Poison pill: invalid JSON never gets better on retry.
		slog.Error("poison pill: invalid apply task", "error", err)
		return nil
	}

	ctx := context.Background()
	if task.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, task.CorrelationID)
	}

	if task.Path == "" {
		slog.ErrorContext(ctx, "apply task missing path, dropping")
		return nil
	}

	err := h.apply(ctx, task)
	if err == nil {
		return nil
	}

	var parseErr *document.ParseError
	if errors.As(err, &parseErr) {
		// A bad document never aborts or retries; it is skipped and logged.
		slog.WarnContext(ctx, "skipping unparseable document", "path", task.Path, "reason", parseErr.Reason)
		return nil
	}

	if m.Attempts >= h.maxAttempts {
		slog.ErrorContext(ctx, "apply task exhausted retries, dead-lettering",
			"path", task.Path, "op", task.Op, "attempts", m.Attempts, "error", err)
		h.park(ctx, task, err)
		return nil
	}

	slog.ErrorContext(ctx, "apply task failed, will retry",
		"path", task.Path, "op", task.Op, "attempts", m.Attempts, "error", err)
	return err
}

func (h *ApplyConsumer) apply(ctx context.Context, task ApplyTask) error {
	switch task.Op {
	case OpDelete:
		return h.applier.ApplyDelete(ctx, task.Path)
	case OpUpsert:
		doc, err := h.loader.Load(ctx, task.Path)
		if errors.Is(err, os.ErrNotExist) {
			// The file vanished between scan and apply; treat as deletion.
			slog.InfoContext(ctx, "document gone before apply, deleting instead", "path", task.Path)
			return h.applier.ApplyDelete(ctx, task.Path)
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", task.Path, err)
		}
		return h.applier.ApplyUpsert(ctx, doc)
	default:
		slog.ErrorContext(ctx, "unknown apply op, dropping", "op", task.Op)
		return nil
	}
}

func (h *ApplyConsumer) park(ctx context.Context, task ApplyTask, cause error) {
	if h.deadLetters == nil {
		return
	}
	payload, err := json.Marshal(task)
	if err != nil {
		slog.ErrorContext(ctx, "cannot marshal dead-letter payload", "error", err)
		return
	}
	dl := &job.Job{
		DocumentPath: task.Path,
		Topic:        config.TopicIndexApply,
		Payload:      payload,
		Error:        cause.Error(),
	}
	if err := h.deadLetters.Save(ctx, dl); err != nil {
		slog.ErrorContext(ctx, "failed to save dead-letter job", "path", task.Path, "error", err)
	}
}

// Interface guard: the production indexer satisfies Applier.
var _ Applier = (*index.Indexer)(nil)
