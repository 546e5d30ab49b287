package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"ragdocs/backend/internal/answer"
	"ragdocs/backend/internal/middleware"
	"ragdocs/backend/internal/retrieval"
)

type QueryRequest struct {
	Text           string   `json:"text"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Technologies   []string `json:"technologies,omitempty"`
	Categories     []string `json:"categories,omitempty"`
}

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "BAD_REQUEST", "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.writeError(ctx, w, "BAD_REQUEST", "text is required", http.StatusBadRequest)
		return
	}

	filters := retrieval.Filters{
		Technologies: req.Technologies,
		Categories:   req.Categories,
	}

	result, err := h.service.HandleTurn(ctx, req.ConversationID, req.Text, filters)
	if err != nil {
		h.writeTurnError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	conv, err := h.service.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(ctx, w, "NOT_FOUND", "conversation not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to load conversation", "id", id, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(conv); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeTurnError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBusy):
		h.writeError(ctx, w, "CONVERSATION_BUSY", "a turn is already in flight for this conversation", http.StatusConflict)
	case errors.Is(err, ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", "conversation not found", http.StatusNotFound)
	// Cancellation wins over the wrapping taxonomy: a disconnect mid-retrieval
	// or mid-synthesis is not a backend failure.
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.writeError(ctx, w, "REQUEST_CANCELLED", "request cancelled", 499)
	case errors.Is(err, retrieval.ErrUnavailable):
		slog.ErrorContext(ctx, "retrieval unavailable", "error", err)
		h.writeError(ctx, w, "RETRIEVAL_UNAVAILABLE", "search backend unreachable", http.StatusServiceUnavailable)
	case errors.Is(err, answer.ErrSynthesis):
		slog.ErrorContext(ctx, "synthesis failed", "error", err)
		h.writeError(ctx, w, "SYNTHESIS_FAILED", "language model failed to answer", http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "turn failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
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
