package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/caseline/caseline/internal/config"
)

type contextKey int

const submitterKey contextKey = iota

// APIKeyAuth returns middleware that validates the X-API-Key header against
// configured keys. Keys are configured as name:key entries; the matching
// entry's name becomes the submitter identity for the request, retrievable
// via Submitter.
//
// If RequireAPIKey is false, all requests pass through with an empty
// submitter. If RequireAPIKey is true but no keys are configured, all
// requests are rejected.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	names, keys := parseKeyEntries(cfg.APIKeys)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAPIKey {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}

			name, ok := matchAPIKey(apiKey, names, keys)
			if !ok {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			ctx := context.WithValue(r.Context(), submitterKey, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Submitter returns the identity attached by APIKeyAuth, or "" when auth is
// disabled or the request never passed through it.
func Submitter(ctx context.Context) string {
	name, _ := ctx.Value(submitterKey).(string)
	return name
}

// parseKeyEntries splits name:key entries into parallel slices. Malformed
// entries are skipped; config validation already warns about them.
func parseKeyEntries(entries []string) (names, keys []string) {
	for _, entry := range entries {
		name, key, ok := strings.Cut(entry, ":")
		if !ok || key == "" {
			continue
		}
		names = append(names, name)
		keys = append(keys, key)
	}
	return names, keys
}

// matchAPIKey checks the provided key against every configured key using
// constant-time comparison. All keys are always checked so comparison time
// does not reveal which key matched.
func matchAPIKey(key string, names, keys []string) (string, bool) {
	matched := -1
	for i, valid := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			matched = i
		}
	}
	if matched < 0 {
		return "", false
	}
	return names[matched], true
}

func writeAuthError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `","code":"` + code + `"}`))
}
