// Package api provides the HTTP API handlers and routing for switchbox.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"switchbox/internal/apperrors"
	"switchbox/internal/health"
	"switchbox/internal/job"
	"switchbox/internal/params"
)

// maxRequestBodySize limits job submissions, uploads included.
const maxRequestBodySize = 512 << 20 // 512 MB

// maxFormMemory is the part of a multipart form kept in memory; the rest
// spills to temporary files.
const maxFormMemory = 32 << 20 // 32 MB

// JobService is the job API the handlers call. *job.Service implements it.
type JobService interface {
	Create(ctx context.Context, req job.CreateRequest) (*job.CreateResponse, error)
	Get(ctx context.Context, id string) (*job.Detail, error)
	List(ctx context.Context) ([]job.Item, error)
	Delete(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
}

// Handler contains HTTP handlers for the switchbox API
type Handler struct {
	svc     JobService
	params  *params.Set
	health  *health.Checker
	version string
}

// NewHandler creates a new API handler
func NewHandler(svc JobService, schema *params.Set, healthChecker *health.Checker, version string) *Handler {
	return &Handler{
		svc:     svc,
		params:  schema,
		health:  healthChecker,
		version: version,
	}
}

// Healthz handles GET /api/healthz/
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("This is version %s of the application", h.version),
	})
}

// Params handles GET /api/params/
func (h *Handler) Params(w http.ResponseWriter, r *http.Request) {
	if h.params == nil {
		h.handleError(w, r, apperrors.Internal("api.params", errors.New("no parameter schema loaded")))
		return
	}
	h.writeJSON(w, http.StatusOK, h.params)
}

// ListJobs handles GET /api/job/
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string][]job.Item{"jobs": items})
}

// CreateJob handles POST /api/job/
//
// Form fields become the job configuration. File parts are uploads keyed by
// their field name. A JSON object of string values is accepted in place of a
// form.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	req, cleanup, err := parseCreateRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	defer cleanup()

	resp, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func parseCreateRequest(r *http.Request) (job.CreateRequest, func(), error) {
	req := job.CreateRequest{Config: map[string]string{}}
	noop := func() {}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req.Config); err != nil {
			return job.CreateRequest{}, noop, err
		}
		if req.Config == nil {
			req.Config = map[string]string{}
		}
		return req, noop, nil

	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return job.CreateRequest{}, noop, err
		}

	default:
		if err := r.ParseForm(); err != nil {
			return job.CreateRequest{}, noop, err
		}
	}

	for key, values := range r.PostForm {
		if len(values) > 0 {
			req.Config[key] = values[0]
		}
	}
	if r.MultipartForm == nil {
		return req, noop, nil
	}

	var closers []io.Closer
	cleanup := func() {
		for _, c := range closers {
			_ = c.Close()
		}
		_ = r.MultipartForm.RemoveAll()
	}
	names := make([]string, 0, len(r.MultipartForm.File))
	for name := range r.MultipartForm.File {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		headers := r.MultipartForm.File[name]
		if len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			cleanup()
			return job.CreateRequest{}, noop, err
		}
		closers = append(closers, f)
		req.Uploads = append(req.Uploads, job.Upload{Param: name, Content: f})
	}
	return req, cleanup, nil
}

// GetJob handles GET /api/job/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	detail, err := h.svc.Get(r.Context(), jobID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, detail)
}

// DeleteJob handles DELETE /api/job/{jobId}
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if err := h.svc.Delete(r.Context(), jobID); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// StopJob handles POST /api/job/{jobId}/stop
func (h *Handler) StopJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if jobID == "" {
		h.writeError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	if err := h.svc.Stop(r.Context(), jobID); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 unless the service can accept traffic; a degraded optional
// dependency still serves.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsServing() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
