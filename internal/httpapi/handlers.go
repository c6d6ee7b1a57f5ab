// Package httpapi exposes the queue over HTTP for local tooling. It is a
// thin layer over the storage operations; workers are run separately via
// the worker command.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"jobq/internal/otelsetup"
	"jobq/internal/storage"
	"jobq/internal/version"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Store *storage.Store
}

// NewRouter builds the HTTP router with routes bound to our handlers.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()

	r.Use(versionHeaderMiddleware)

	r.HandleFunc("/jobs", h.SubmitJob).Methods("POST")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/jobs/{id}/cancel", h.CancelJob).Methods("POST")
	r.HandleFunc("/jobs/{id}/requeue", h.RequeueJob).Methods("POST")
	return r
}

func versionHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-App-Version", version.Version)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// SubmitJob accepts a JSON job definition and enqueues it pending.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var j storage.Job
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if j.MaxAttempts == 0 {
		j.MaxAttempts = 3
	}
	if j.TimeoutSeconds == 0 {
		j.TimeoutSeconds = 300
	}
	j.ID = "" // ids are always server-generated

	id, err := h.Store.Submit(r.Context(), &j)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidJob) || errors.Is(err, storage.ErrSerialization) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("submit error", slog.String("error", err.Error()))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	otelsetup.AddJobsSubmitted(r.Context(), 1)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// ListJobs returns job summaries, filtered by status and/or workflow.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	f := storage.Filter{
		Status:     storage.Status(r.URL.Query().Get("status")),
		WorkflowID: r.URL.Query().Get("workflow"),
	}
	if f.Status != "" && !f.Status.Valid() {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}
	jobs, err := h.Store.List(r.Context(), f)
	if err != nil {
		slog.Error("list error", slog.String("error", err.Error()))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*storage.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// GetJob returns the job row plus its execution history.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.Store.GetStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		slog.Error("status error", slog.String("error", err.Error()))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CancelJob marks a pending or failed job cancelled. Running jobs are not
// interrupted; cancelling one reports a conflict.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Store.Cancel)
}

// RequeueJob resets a failed, cancelled, or timed-out job to pending.
func (h *Handler) RequeueJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Store.Requeue)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, id string) (bool, error)) {
	id := mux.Vars(r)["id"]

	if _, err := h.Store.GetStatus(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	ok, err := op(r.Context(), id)
	if err != nil {
		slog.Error("transition error", slog.String("error", err.Error()))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not permitted in current status", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
