package importer

// orchestrator.go drives one import job through its state machine:
// pending → validating → processing → completed, with failed reachable from
// any non-terminal state (structural failure, cancellation, or a system
// error). Structural failures abort before any row is touched; row-level
// failures are isolated and never abort the job.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caseline/caseline/internal/csvio"
)

// FileStore reads back a previously uploaded file by its opaque key.
type FileStore interface {
	GetBytes(ctx context.Context, key string) ([]byte, error)
}

// AuditRecorder receives one best-effort record per finished job. Failures
// are the recorder's problem and must never surface to the pipeline.
type AuditRecorder interface {
	Record(ctx context.Context, action, jobID string, details map[string]any)
}

// Orchestrator runs import jobs to completion. One orchestrator serves all
// jobs; all per-job state lives on the stack of Run.
type Orchestrator struct {
	store     Store
	files     FileStore
	resolver  *Resolver
	audit     AuditRecorder
	log       *slog.Logger
	batchSize int
}

// NewOrchestrator wires an orchestrator. batchSize <= 0 falls back to
// DefaultBatchSize.
func NewOrchestrator(store Store, files FileStore, resolver *Resolver, audit AuditRecorder, log *slog.Logger, batchSize int) *Orchestrator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Orchestrator{
		store:     store,
		files:     files,
		resolver:  resolver,
		audit:     audit,
		log:       log,
		batchSize: batchSize,
	}
}

// Run executes one job to a terminal state. It never returns an error for
// row-level or structural problems (those become job state); the returned
// error covers only failures to load or persist the job record itself.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (err error) {
	job, err := o.store.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	log := o.log.With("jobID", job.ID, "entityType", job.EntityType)
	started := time.Now()

	// A panic anywhere below must not leave the job stuck in a non-terminal
	// state.
	defer func() {
		if r := recover(); r != nil {
			log.Error("import panicked", "panic", r)
			o.failJob(ctx, job.ID, nil, RowError{
				Row:     0,
				Message: fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	proc, ok := GetProcessor(job.EntityType)
	if !ok {
		o.failJob(ctx, job.ID, nil, RowError{
			Row:     0,
			Message: fmt.Sprintf("no processor registered for entity type %q", job.EntityType),
		})
		return nil
	}

	// The store refuses writes against terminal jobs. A cancel accepted
	// before or during the run flips the job to failed; the first write to
	// lose that race tells us to stop without touching the record again.
	if err := o.store.UpdateStatus(ctx, job.ID, StatusValidating); err != nil {
		if errors.Is(err, ErrJobTerminal) {
			log.Info("import cancelled before start")
			return nil
		}
		return fmt.Errorf("mark validating: %w", err)
	}

	data, err := o.files.GetBytes(ctx, job.FileKey)
	if err != nil {
		log.Error("fetch import file", "fileKey", job.FileKey, "error", err)
		o.failJob(ctx, job.ID, nil, RowError{
			Row:     0,
			Message: "could not read uploaded file: " + err.Error(),
		})
		return nil
	}

	headers, rows, parseErrs := csvio.Parse(data)
	if len(parseErrs) > 0 {
		jobErrs := make([]RowError, 0, len(parseErrs))
		for _, pe := range parseErrs {
			jobErrs = append(jobErrs, RowError{
				Row:     0,
				Message: fmt.Sprintf("malformed CSV at line %d: %s", pe.Line, pe.Message),
			})
		}
		o.failJob(ctx, job.ID, nil, jobErrs...)
		return nil
	}
	if len(rows) == 0 {
		o.failJob(ctx, job.ID, nil, RowError{Row: 0, Message: "file contains no data rows"})
		return nil
	}

	// Header mismatches abort the whole job: row validation assumes every
	// expected column exists.
	hr := csvio.ValidateHeaders(headers, proc.RequiredHeaders(), proc.AllowedHeaders())
	if !hr.Valid {
		totalRows := len(rows)
		var jobErrs []RowError
		for _, col := range hr.Missing {
			jobErrs = append(jobErrs, RowError{Row: 0, Field: col, Message: "required column is missing"})
		}
		for _, col := range hr.Unknown {
			jobErrs = append(jobErrs, RowError{Row: 0, Field: col, Message: "unknown column"})
		}
		o.failJob(ctx, job.ID, &totalRows, jobErrs...)
		return nil
	}

	// Re-key rows by canonical column names; header matching above was
	// case-insensitive.
	rows = csvio.CanonicalizeRows(rows, proc.AllowedHeaders())

	totalRows := len(rows)
	processing := StatusProcessing
	if err := o.store.UpdateProgress(ctx, job.ID, ProgressUpdate{
		Status:    &processing,
		TotalRows: &totalRows,
	}); err != nil {
		if errors.Is(err, ErrJobTerminal) {
			log.Info("import cancelled before processing")
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	cache, err := o.resolver.Resolve(ctx, proc.LookupKeys(rows))
	if err != nil {
		log.Error("resolve lookup keys", "error", err)
		o.failJob(ctx, job.ID, &totalRows, RowError{
			Row:     0,
			Message: "reference lookup failed: " + err.Error(),
		})
		return nil
	}

	ictx := &Context{
		SubmittedBy: job.SubmittedBy,
		StationID:   job.StationID,
		Strategy:    job.Strategy,
		Cache:       cache,
	}

	// Validation pass. Rows with errors count as processed immediately so
	// the counts identity holds at every checkpoint; rows without errors
	// form the valid-row index list, processed in file order.
	var (
		allErrors []RowError
		validIdx  []int
		processed int
		errored   int
		created   int
		updated   int
		skipped   int
	)
	for i, row := range rows {
		rowNum := i + 1
		if rowErrs := proc.ValidateRow(row, rowNum, ictx); len(rowErrs) > 0 {
			allErrors = append(allErrors, rowErrs...)
			processed++
			errored++
			continue
		}
		validIdx = append(validIdx, i)
	}

	if err := o.checkpoint(ctx, job.ID, processed, created+updated, errored, skipped, allErrors); err != nil {
		if errors.Is(err, ErrJobTerminal) {
			log.Info("import cancelled", "processedRows", processed)
			return nil
		}
		return err
	}

	for start := 0; start < len(validIdx); start += o.batchSize {
		// Cancellation checkpoint. An external Cancel flips the status to
		// failed; latency is bounded by one batch.
		current, err := o.store.FindByID(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("re-read job %s: %w", job.ID, err)
		}
		if current.Status == StatusFailed {
			log.Info("import cancelled", "processedRows", processed)
			return nil
		}

		end := start + o.batchSize
		if end > len(validIdx) {
			end = len(validIdx)
		}

		for _, i := range validIdx[start:end] {
			rowNum := i + 1
			result, err := proc.ProcessRow(ctx, rows[i], rowNum, ictx)
			processed++
			if err != nil {
				errored++
				allErrors = append(allErrors, asRowError(err, rowNum))
				continue
			}
			switch result.Action {
			case ActionCreated:
				created++
			case ActionUpdated:
				updated++
			case ActionSkipped:
				skipped++
			}
		}

		if err := o.checkpoint(ctx, job.ID, processed, created+updated, errored, skipped, allErrors); err != nil {
			if errors.Is(err, ErrJobTerminal) {
				log.Info("import cancelled", "processedRows", processed)
				return nil
			}
			return err
		}
	}

	completed := StatusCompleted
	summary := &Summary{
		Created:    created,
		Updated:    updated,
		Skipped:    skipped,
		Failed:     errored,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err := o.store.UpdateProgress(ctx, job.ID, ProgressUpdate{
		Status:  &completed,
		Summary: summary,
	}); err != nil {
		// A cancel accepted during the final batch wins; the job stays failed.
		if errors.Is(err, ErrJobTerminal) {
			log.Info("import cancelled", "processedRows", processed)
			return nil
		}
		return fmt.Errorf("mark completed: %w", err)
	}

	log.Info("import completed",
		"totalRows", totalRows,
		"created", created,
		"updated", updated,
		"skipped", skipped,
		"errored", errored,
		"duration", time.Since(started))

	if o.audit != nil {
		o.audit.Record(ctx, "import.completed", job.ID, map[string]any{
			"entityType": string(job.EntityType),
			"fileName":   job.FileName,
			"totalRows":  totalRows,
			"created":    created,
			"updated":    updated,
			"skipped":    skipped,
			"errored":    errored,
			"durationMs": summary.DurationMs,
		})
	}
	return nil
}

// checkpoint persists counters and the truncated error list after a batch.
func (o *Orchestrator) checkpoint(ctx context.Context, jobID string, processed, succeeded, errored, skipped int, errs []RowError) error {
	if err := o.store.UpdateProgress(ctx, jobID, ProgressUpdate{
		Processed: &processed,
		Succeeded: &succeeded,
		Errored:   &errored,
		Skipped:   &skipped,
		Errors:    truncateErrors(errs),
	}); err != nil {
		return fmt.Errorf("persist progress for job %s: %w", jobID, err)
	}
	return nil
}

// failJob moves a job to failed with the given job-level errors. totalRows
// is recorded when known so clients can see the file was non-trivial.
func (o *Orchestrator) failJob(ctx context.Context, jobID string, totalRows *int, errs ...RowError) {
	failed := StatusFailed
	upd := ProgressUpdate{
		Status:    &failed,
		TotalRows: totalRows,
		Errors:    truncateErrors(errs),
	}
	if err := o.store.UpdateProgress(ctx, jobID, upd); err != nil {
		// Already failed via cancellation: nothing to record.
		if errors.Is(err, ErrJobTerminal) {
			return
		}
		o.log.Error("mark job failed", "jobID", jobID, "error", err)
	}
}

// asRowError normalizes a ProcessRow failure into a stored error entry,
// preserving field and value detail when the processor supplied them.
func asRowError(err error, rowNum int) RowError {
	var re RowError
	if errors.As(err, &re) {
		return re
	}
	return RowError{Row: rowNum, Message: err.Error()}
}

func truncateErrors(errs []RowError) []RowError {
	if len(errs) > MaxStoredErrors {
		return errs[:MaxStoredErrors]
	}
	return errs
}
