package importer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SubmitRequest carries everything needed to start an import. EntityType and
// Strategy arrive as raw client strings and are validated before any work is
// queued.
type SubmitRequest struct {
	EntityType  string
	FileKey     string
	FileName    string
	Strategy    string
	SubmittedBy string
	StationID   string
}

// Service is the public face of the pipeline: it accepts submissions, spawns
// one background run per job, and answers poll/cancel/list requests against
// the job store.
type Service struct {
	store        Store
	orchestrator *Orchestrator
	limiter      *RunLimiter
	log          *slog.Logger
}

// NewService wires the import service.
func NewService(store Store, orchestrator *Orchestrator, limiter *RunLimiter, log *slog.Logger) *Service {
	return &Service{
		store:        store,
		orchestrator: orchestrator,
		limiter:      limiter,
		log:          log,
	}
}

// Submit validates the request, persists a pending job, and starts its run
// in the background. The caller gets the job record immediately and polls
// for progress; nothing from the run itself is ever returned here.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	entityType, err := ParseEntityType(req.EntityType)
	if err != nil {
		return nil, err
	}
	strategy, err := ParseStrategy(req.Strategy)
	if err != nil {
		return nil, err
	}
	if req.FileKey == "" {
		return nil, fmt.Errorf("file key is required")
	}
	// Fail fast if no processor is registered rather than queueing a job
	// that can only fail later.
	if _, ok := GetProcessor(entityType); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, req.EntityType)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	job := &Job{
		ID:          uuid.NewString(),
		EntityType:  entityType,
		FileKey:     req.FileKey,
		FileName:    req.FileName,
		Strategy:    strategy,
		Status:      StatusPending,
		SubmittedBy: req.SubmittedBy,
		StationID:   req.StationID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		s.limiter.Release()
		return nil, fmt.Errorf("create job: %w", err)
	}

	go s.run(job.ID)

	return job, nil
}

// run executes one job on its own goroutine. The request context is not
// inherited: the job outlives the HTTP request that submitted it.
func (s *Service) run(jobID string) {
	defer s.limiter.Release()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("import run panicked", "jobID", jobID, "panic", r)
		}
	}()

	ctx := context.Background()
	if err := s.orchestrator.Run(ctx, jobID); err != nil {
		s.log.Error("import run failed", "jobID", jobID, "error", err)
	}
}

// Get returns one job by id.
func (s *Service) Get(ctx context.Context, jobID string) (*Job, error) {
	return s.store.FindByID(ctx, jobID)
}

// Cancel requests cooperative cancellation of a running job. Terminal jobs
// are rejected with ErrJobTerminal.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	return s.store.Cancel(ctx, jobID)
}

// List returns jobs matching the filter plus the unpaginated total.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Job, int, error) {
	return s.store.List(ctx, filter)
}

// ActiveRuns reports how many imports are currently executing.
func (s *Service) ActiveRuns() int {
	return s.limiter.ActiveCount()
}

// WaitForDrain blocks until all running imports finish, for graceful
// shutdown.
func (s *Service) WaitForDrain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
