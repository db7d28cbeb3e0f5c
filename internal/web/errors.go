package web

// errors.go provides unified error response handling for the web layer.
//
// All errors are logged with full technical detail server-side and returned
// to clients as a JSON envelope with a stable machine-readable code. Nothing
// from the pipeline itself is ever surfaced as an exception; the only
// caller-visible failures are bad submissions and operations against
// missing or terminal jobs.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/caseline/caseline/internal/importer"
	"github.com/caseline/caseline/internal/storage"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError logs the technical error and writes the client-facing
// envelope.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	code := errorCode(err, statusCode)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	message := err.Error()
	if statusCode == http.StatusInternalServerError {
		// Internal details stay in the log.
		message = "internal server error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}

// errorCode maps known errors to stable codes clients can branch on.
func errorCode(err error, statusCode int) string {
	switch {
	case errors.Is(err, importer.ErrUnknownEntityType):
		return "IMPORT_UNKNOWN_ENTITY_TYPE"
	case errors.Is(err, importer.ErrUnknownStrategy):
		return "IMPORT_UNKNOWN_STRATEGY"
	case errors.Is(err, importer.ErrJobNotFound):
		return "IMPORT_JOB_NOT_FOUND"
	case errors.Is(err, importer.ErrJobTerminal):
		return "IMPORT_JOB_FINISHED"
	case errors.Is(err, importer.ErrTooManyImports):
		return "IMPORT_TOO_MANY"
	case errors.Is(err, storage.ErrTooLarge):
		return "IMPORT_FILE_TOO_LARGE"
	case statusCode == http.StatusBadRequest:
		return "BAD_REQUEST"
	default:
		return "INTERNAL_ERROR"
	}
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
