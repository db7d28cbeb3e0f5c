package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/caseline/caseline/internal/csvio"
	"github.com/caseline/caseline/internal/importer"
	"github.com/caseline/caseline/internal/logging"
	"github.com/caseline/caseline/internal/storage"
	"github.com/caseline/caseline/internal/web/middleware"
)

// JobResponse is the client view of an import job. percentComplete is
// derived, never stored.
type JobResponse struct {
	ID              string              `json:"id"`
	EntityType      string              `json:"entityType"`
	FileName        string              `json:"fileName,omitempty"`
	Strategy        string              `json:"duplicateStrategy"`
	Status          string              `json:"status"`
	TotalRows       int                 `json:"totalRows"`
	ProcessedRows   int                 `json:"processedRows"`
	SuccessCount    int                 `json:"successCount"`
	ErrorCount      int                 `json:"errorCount"`
	SkippedCount    int                 `json:"skippedCount"`
	PercentComplete int                 `json:"percentComplete"`
	Errors          []importer.RowError `json:"errors"`
	Summary         *importer.Summary   `json:"summary,omitempty"`
	SubmittedBy     string              `json:"submittedBy,omitempty"`
	StationID       string              `json:"stationId,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	StartedAt       *time.Time          `json:"startedAt,omitempty"`
	CompletedAt     *time.Time          `json:"completedAt,omitempty"`
}

// toJobResponse maps a job record to its API shape.
func toJobResponse(job *importer.Job) JobResponse {
	percent := 0
	if job.TotalRows > 0 {
		percent = int(math.Round(float64(job.Processed) / float64(job.TotalRows) * 100))
	}
	errs := job.Errors
	if errs == nil {
		errs = []importer.RowError{}
	}
	return JobResponse{
		ID:              job.ID,
		EntityType:      string(job.EntityType),
		FileName:        job.FileName,
		Strategy:        string(job.Strategy),
		Status:          string(job.Status),
		TotalRows:       job.TotalRows,
		ProcessedRows:   job.Processed,
		SuccessCount:    job.Succeeded,
		ErrorCount:      job.Errored,
		SkippedCount:    job.Skipped,
		PercentComplete: percent,
		Errors:          errs,
		Summary:         job.Summary,
		SubmittedBy:     job.SubmittedBy,
		StationID:       job.StationID,
		CreatedAt:       job.CreatedAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	}
}

// submitPayload is the JSON submission body, for clients that uploaded the
// file separately and hold a storage key.
type submitPayload struct {
	EntityType        string `json:"entityType"`
	FileKey           string `json:"fileKey"`
	FileName          string `json:"fileName"`
	DuplicateStrategy string `json:"duplicateStrategy"`
	StationID         string `json:"stationId"`
}

// handleSubmitImport accepts an import submission and responds 202 with the
// pending job. Multipart requests carry the CSV file inline; JSON requests
// reference an already-stored file by key.
func (s *Server) handleSubmitImport(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req importer.SubmitRequest
	contentType := r.Header.Get("Content-Type")

	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(s.cfg.Import.MaxFileSize); err != nil {
			s.respondError(w, r, fmt.Errorf("parse multipart form: %w", err), http.StatusBadRequest)
			return
		}

		// Reject bad form fields before persisting the upload, so an invalid
		// submission never leaves an orphaned file behind.
		if _, err := importer.ParseEntityType(r.FormValue("entityType")); err != nil {
			s.respondError(w, r, err, http.StatusBadRequest)
			return
		}
		if strategy := r.FormValue("duplicateStrategy"); strategy != "" {
			if _, err := importer.ParseStrategy(strategy); err != nil {
				s.respondError(w, r, err, http.StatusBadRequest)
				return
			}
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			s.respondError(w, r, fmt.Errorf("missing file field: %w", err), http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, s.cfg.Import.MaxFileSize+1))
		if err != nil {
			s.respondError(w, r, fmt.Errorf("read upload: %w", err), http.StatusBadRequest)
			return
		}
		if int64(len(data)) > s.cfg.Import.MaxFileSize {
			s.respondError(w, r, storage.ErrTooLarge, http.StatusRequestEntityTooLarge)
			return
		}

		key, err := s.files.Put(r.Context(), header.Filename, data)
		if err != nil {
			s.respondError(w, r, fmt.Errorf("store upload: %w", err), http.StatusInternalServerError)
			return
		}

		req = importer.SubmitRequest{
			EntityType: r.FormValue("entityType"),
			FileKey:    key,
			FileName:   header.Filename,
			Strategy:   r.FormValue("duplicateStrategy"),
			StationID:  r.FormValue("stationId"),
		}

	default:
		var payload submitPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.respondError(w, r, fmt.Errorf("decode request body: %w", err), http.StatusBadRequest)
			return
		}
		req = importer.SubmitRequest{
			EntityType: payload.EntityType,
			FileKey:    payload.FileKey,
			FileName:   payload.FileName,
			Strategy:   payload.DuplicateStrategy,
			StationID:  payload.StationID,
		}
	}

	if req.Strategy == "" {
		req.Strategy = string(importer.StrategySkip)
	}
	req.SubmittedBy = middleware.Submitter(r.Context())

	job, err := s.imports.Submit(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err, statusForSubmitError(err))
		return
	}

	log.Info("import submitted",
		"jobID", job.ID,
		"entityType", job.EntityType,
		"fileName", job.FileName,
		"strategy", job.Strategy,
	)

	w.Header().Set("Location", "/api/imports/"+job.ID)
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

// handleGetImport returns one job by id, for progress polling.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.imports.Get(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err, statusForJobError(err))
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// handleCancelImport requests cooperative cancellation. Cancelling a
// terminal job is a 409.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := s.imports.Cancel(r.Context(), jobID); err != nil {
		s.respondError(w, r, err, statusForJobError(err))
		return
	}

	job, err := s.imports.Get(r.Context(), jobID)
	if err != nil {
		s.respondError(w, r, err, statusForJobError(err))
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// listResponse wraps the job listing with its unpaginated total.
type listResponse struct {
	Jobs   []JobResponse `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// handleListImports returns jobs filtered by entityType, status, and
// submittedBy query params, newest first.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := importer.ListFilter{
		EntityType:  importer.EntityType(q.Get("entityType")),
		Status:      importer.Status(q.Get("status")),
		SubmittedBy: q.Get("submittedBy"),
		Limit:       parseIntParam(q.Get("limit"), 50),
		Offset:      parseIntParam(q.Get("offset"), 0),
	}

	jobs, total, err := s.imports.List(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := listResponse{
		Jobs:   make([]JobResponse, 0, len(jobs)),
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDownloadTemplate serves the CSV template for an entity type as a
// file download.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	entityType, err := importer.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	proc, ok := importer.GetProcessor(entityType)
	if !ok {
		s.respondError(w, r, fmt.Errorf("%w: %q", importer.ErrUnknownEntityType, entityType), http.StatusNotFound)
		return
	}

	data := csvio.Template(proc.TemplateHeaders(), proc.TemplateExamples())
	filename := string(entityType) + "-import-template.csv"

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleHealth reports liveness and how many imports are running.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"activeImports": s.imports.ActiveRuns(),
	})
}

// statusForSubmitError maps submission failures to HTTP status codes.
func statusForSubmitError(err error) int {
	switch {
	case errors.Is(err, importer.ErrUnknownEntityType),
		errors.Is(err, importer.ErrUnknownStrategy):
		return http.StatusBadRequest
	case errors.Is(err, importer.ErrTooManyImports):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// statusForJobError maps job lookup/cancel failures to HTTP status codes.
func statusForJobError(err error) int {
	switch {
	case errors.Is(err, importer.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrJobTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parseIntParam(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
