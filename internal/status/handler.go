// Package status exposes read-only views of the job queue for operators.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"shopify-webhook-pipeline/internal/models"
	"shopify-webhook-pipeline/internal/queue"
)

// JobReader is the part of the queue the status endpoints need.
type JobReader interface {
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, opts models.ListOptions) ([]*models.Job, int, error)
	Stats(ctx context.Context) (models.JobStats, error)
}

// Page is the paginated collection shape.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// HealthResponse is the body of the health query.
type HealthResponse struct {
	Status string           `json:"status"`
	Time   time.Time        `json:"time"`
	Jobs   *models.JobStats `json:"jobs,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// Handler contains dependencies for the status handlers.
type Handler struct {
	Logger *slog.Logger
	Jobs   JobReader
}

// NewHandler creates a status Handler.
func NewHandler(logger *slog.Logger, jobs JobReader) *Handler {
	return &Handler{Logger: logger, Jobs: jobs}
}

// Routes mounts the status endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Get("/healthz", h.Health)
}

// GetJob returns one job, or 404 when the id is unknown or purged.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.Jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("Failed to load job", "job_id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

// ListJobs returns a page of jobs, newest first. Query: limit, skip, state.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobs, total, err := h.Jobs.List(r.Context(), opts)
	if err != nil {
		h.Logger.Error("Failed to list jobs", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	h.writeJSON(w, http.StatusOK, Page[*models.Job]{Items: jobs, Total: total})
}

// Health reports liveness and aggregate queue counts. It answers 503 when
// the queue cannot be read.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	stats, err := h.Jobs.Stats(ctx)
	if err != nil {
		h.Logger.Error("Health check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unavailable",
			Time:   time.Now().UTC(),
			Error:  "job queue unavailable",
		})
		return
	}
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Time: time.Now().UTC(), Jobs: &stats})
}

func parseListOptions(r *http.Request) (models.ListOptions, error) {
	q := r.URL.Query()
	var opts models.ListOptions

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errors.New("limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errors.New("skip must be a non-negative integer")
		}
		opts.Skip = n
	}
	if v := q.Get("state"); v != "" {
		state := models.JobState(v)
		if !state.Valid() {
			return opts, errors.New("unknown state " + strconv.Quote(v))
		}
		opts.State = state
	}
	return opts, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Warn("Failed to write response", "error", err)
	}
}
