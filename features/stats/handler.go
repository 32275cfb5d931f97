package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"featureworker/internal/middleware"
	"featureworker/internal/worker"
)

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type MetricsSource interface {
	Snapshot() worker.MetricsSnapshot
}

type Handler struct {
	jobRepo JobRepo
	metrics MetricsSource
}

func NewHandler(j JobRepo, m MetricsSource) *Handler {
	return &Handler{jobRepo: j, metrics: m}
}

type StatsResponse struct {
	FailedJobs int                    `json:"failed_jobs"`
	Worker     worker.MetricsSnapshot `json:"worker"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slog.InfoContext(ctx, "getting stats")

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count failed jobs", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count failed jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{FailedJobs: jCount}
	if h.metrics != nil {
		resp.Worker = h.metrics.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
