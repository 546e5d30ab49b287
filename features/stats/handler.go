package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"ragdocs/backend/internal/manifest"
	"ragdocs/backend/internal/middleware"
)

type JobCounter interface {
	Count(ctx context.Context) (int, error)
}

// Handler reports what is currently indexed, straight from the manifest.
type Handler struct {
	manifest manifest.Store
	jobs     JobCounter
}

func NewHandler(m manifest.Store, jobs JobCounter) *Handler {
	return &Handler{manifest: m, jobs: jobs}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.manifest.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read manifest stats", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	failedJobs := 0
	if h.jobs != nil {
		if n, err := h.jobs.Count(ctx); err == nil {
			failedJobs = n
		} else {
			slog.WarnContext(ctx, "failed to count dead-letter jobs", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"documents":    stats.Documents,
		"chunks":       stats.Chunks,
		"technologies": stats.Technologies,
		"failed_jobs":  failedJobs,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
