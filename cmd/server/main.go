package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/caseline/caseline/internal/audit"
	"github.com/caseline/caseline/internal/config"
	"github.com/caseline/caseline/internal/importer"
	"github.com/caseline/caseline/internal/jobstore"
	"github.com/caseline/caseline/internal/logging"
	"github.com/caseline/caseline/internal/records"
	"github.com/caseline/caseline/internal/storage"
	"github.com/caseline/caseline/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"import_batch_size", cfg.Import.BatchSize,
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	// Uploaded-file storage
	files, err := storage.NewLocalStore(cfg.Storage.Dir)
	if err != nil {
		slog.Error("failed to initialize file storage", "error", err)
		os.Exit(1)
	}

	// Row processors, one per entity type
	importer.Register(importer.NewPersonsProcessor(records.NewPersons(pool), cfg.Import.UpdateOverwrite))
	importer.Register(importer.NewCasesProcessor(records.NewCases(pool)))
	importer.Register(importer.NewEvidenceProcessor(records.NewEvidence(pool)))
	slog.Info("row processors registered", "count", len(importer.Processors()))

	// Pipeline wiring
	store := jobstore.New(pool)
	resolver := &importer.Resolver{
		Stations: records.NewStationLookup(pool),
		Officers: records.NewOfficerLookup(pool),
		Cases:    records.NewCaseLookup(pool),
		Persons:  records.NewPersonLookup(pool),
	}
	recorder := audit.NewPgRecorder(pool, slog.Default())
	orchestrator := importer.NewOrchestrator(
		store, files, resolver, recorder, slog.Default(), cfg.Import.BatchSize)
	limiter := importer.NewRunLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)
	imports := importer.NewService(store, orchestrator, limiter, slog.Default())

	server := web.NewServer(imports, files, cfg)

	// Graceful shutdown: drain running imports, then stop the server
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if active := imports.ActiveRuns(); active > 0 {
			slog.Info("waiting for imports to complete", "active", active)
			if err := imports.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
