package importer

import "context"

// Store is the durable job record consumed and written by the orchestrator
// and polled by clients. Implemented by the jobstore package.
type Store interface {
	Create(ctx context.Context, job *Job) error
	FindByID(ctx context.Context, id string) (*Job, error)

	// UpdateStatus moves the state machine. Terminal statuses set the
	// completion timestamp.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// UpdateProgress merges the non-nil fields into the job record. The
	// error list, when present, replaces the stored list and must already
	// be truncated to MaxStoredErrors.
	UpdateProgress(ctx context.Context, id string, upd ProgressUpdate) error

	// Cancel marks a non-terminal job failed; the orchestrator observes
	// the status flip at the next batch boundary. Cancelling a terminal
	// job returns ErrJobTerminal.
	Cancel(ctx context.Context, id string) error

	List(ctx context.Context, filter ListFilter) ([]*Job, int, error)
}

// ProgressUpdate is a partial write against a job record. Nil fields are
// left untouched.
type ProgressUpdate struct {
	Status    *Status
	TotalRows *int
	Processed *int
	Succeeded *int
	Errored   *int
	Skipped   *int
	Errors    []RowError
	Summary   *Summary
}

// ListFilter selects jobs for the listing endpoint.
type ListFilter struct {
	EntityType  EntityType
	Status      Status
	SubmittedBy string
	Limit       int
	Offset      int
}
