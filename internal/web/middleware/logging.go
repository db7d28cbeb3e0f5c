// Package middleware provides HTTP middleware for the import API: request
// logging, trusted-proxy client address resolution, and API-key auth.
package middleware

import (
	"net/http"
	"time"

	"github.com/caseline/caseline/internal/logging"
)

// Logger emits one structured line per request: method, path, status,
// duration, client address, and user agent. The logger comes from the request
// context, so every line carries the chi request id and correlates with the
// import-job logs the handlers write.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		logger := logging.FromContext(r.Context())

		// TrustedRealIP rewrites RemoteAddr for proxied requests; X-Real-IP
		// is only consulted as a fallback for direct connections.
		ip := r.RemoteAddr
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			ip = realIP
		}

		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", duration.Milliseconds(),
			"ip", ip,
			"user_agent", r.UserAgent(),
		)
	})
}

// responseWriter captures the status code written by a handler.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer so other middleware can reach interfaces
// like http.Flusher.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
