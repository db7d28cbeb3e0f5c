// Package web provides the HTTP server and handlers for the bulk import API.
package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/caseline/caseline/internal/config"
	"github.com/caseline/caseline/internal/importer"
	"github.com/caseline/caseline/internal/storage"
	"github.com/caseline/caseline/internal/web/middleware"
)

// Server is the HTTP server for the import pipeline.
type Server struct {
	imports *importer.Service
	files   storage.Store
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer wires routes and middleware around the import service.
func NewServer(imports *importer.Service, files storage.Store, cfg *config.Config) *Server {
	s := &Server{
		imports: imports,
		files:   files,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.Compress(5))
	s.router.Use(chimiddleware.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		r.Post("/imports", s.handleSubmitImport)
		r.Get("/imports", s.handleListImports)
		r.Get("/imports/templates/{entityType}", s.handleDownloadTemplate)
		r.Get("/imports/{jobID}", s.handleGetImport)
		r.Post("/imports/{jobID}/cancel", s.handleCancelImport)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
