// Package jobstore persists import job records in Postgres. It is the only
// durable state the pipeline owns; the orchestrator writes it and polling
// clients read it.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseline/caseline/internal/importer"
)

const jobColumns = `id, entity_type, file_key, file_name, strategy, status,
	total_rows, processed_rows, success_count, error_count, skipped_count,
	errors, summary, submitted_by, station_id, created_at, started_at, completed_at`

// Store implements importer.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a job store backed by the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new job record.
func (s *Store) Create(ctx context.Context, job *importer.Job) error {
	errJSON, err := marshalErrors(job.Errors)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO import_jobs (
			id, entity_type, file_key, file_name, strategy, status,
			total_rows, processed_rows, success_count, error_count, skipped_count,
			errors, submitted_by, station_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, string(job.EntityType), job.FileKey, job.FileName,
		string(job.Strategy), string(job.Status),
		job.TotalRows, job.Processed, job.Succeeded, job.Errored, job.Skipped,
		errJSON, job.SubmittedBy, job.StationID, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// FindByID fetches one job. Returns importer.ErrJobNotFound for unknown ids.
func (s *Store) FindByID(ctx context.Context, id string) (*importer.Job, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM import_jobs WHERE id = $1", jobColumns), id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, importer.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// UpdateStatus moves the state machine. Entering validating stamps
// started_at; entering a terminal status stamps completed_at. Terminal jobs
// never transition again: a job cancelled out from under the orchestrator
// stays failed, and the write is rejected with ErrJobTerminal.
func (s *Store) UpdateStatus(ctx context.Context, id string, status importer.Status) error {
	query := "UPDATE import_jobs SET status = $1"
	switch {
	case status == importer.StatusValidating:
		query += ", started_at = COALESCE(started_at, now())"
	case status.Terminal():
		query += ", completed_at = now()"
	}
	query += " WHERE id = $2 AND status NOT IN ('completed', 'failed')"

	tag, err := s.pool.Exec(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.terminalOrMissing(ctx, id)
	}
	return nil
}

// UpdateProgress merges the non-nil fields of upd into the job record. Like
// UpdateStatus it refuses to touch a terminal job, so a checkpoint or
// completion write racing an accepted cancellation loses and gets
// ErrJobTerminal back.
func (s *Store) UpdateProgress(ctx context.Context, id string, upd importer.ProgressUpdate) error {
	var (
		sets []string
		args []interface{}
	)
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
		if upd.Status.Terminal() {
			sets = append(sets, "completed_at = now()")
		}
	}
	if upd.TotalRows != nil {
		add("total_rows", *upd.TotalRows)
	}
	if upd.Processed != nil {
		add("processed_rows", *upd.Processed)
	}
	if upd.Succeeded != nil {
		add("success_count", *upd.Succeeded)
	}
	if upd.Errored != nil {
		add("error_count", *upd.Errored)
	}
	if upd.Skipped != nil {
		add("skipped_count", *upd.Skipped)
	}
	if upd.Errors != nil {
		errJSON, err := marshalErrors(upd.Errors)
		if err != nil {
			return err
		}
		add("errors", errJSON)
	}
	if upd.Summary != nil {
		sumJSON, err := json.Marshal(upd.Summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		add("summary", sumJSON)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE import_jobs SET %s WHERE id = $%d AND status NOT IN ('completed', 'failed')",
		strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.terminalOrMissing(ctx, id)
	}
	return nil
}

// terminalOrMissing disambiguates a zero-row status write: the job is either
// already terminal or does not exist.
func (s *Store) terminalOrMissing(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, "SELECT status FROM import_jobs WHERE id = $1", id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return importer.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("query job status: %w", err)
	}
	return importer.ErrJobTerminal
}

// Cancel flips a non-terminal job to failed. The orchestrator observes the
// flip at its next batch boundary. Terminal jobs are rejected.
func (s *Store) Cancel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs
		SET status = 'failed', completed_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return s.terminalOrMissing(ctx, id)
}

// List returns jobs matching the filter, newest first, plus the unpaginated
// total count.
func (s *Store) List(ctx context.Context, filter importer.ListFilter) ([]*importer.Job, int, error) {
	var (
		where []string
		args  []interface{}
	)
	addFilter := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	addFilter("entity_type", string(filter.EntityType))
	addFilter("status", string(filter.Status))
	addFilter("submitted_by", filter.SubmittedBy)

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM import_jobs" + whereClause
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(
		"SELECT %s FROM import_jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		jobColumns, whereClause, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*importer.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}
	return jobs, total, nil
}

// scanJob reads one job row in jobColumns order.
func scanJob(row pgx.Row) (*importer.Job, error) {
	var (
		job         importer.Job
		entityType  string
		strategy    string
		status      string
		fileName    *string
		stationID   *string
		errJSON     []byte
		summaryJSON []byte
		startedAt   *time.Time
		completedAt *time.Time
	)
	err := row.Scan(
		&job.ID, &entityType, &job.FileKey, &fileName, &strategy, &status,
		&job.TotalRows, &job.Processed, &job.Succeeded, &job.Errored, &job.Skipped,
		&errJSON, &summaryJSON, &job.SubmittedBy, &stationID,
		&job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.EntityType = importer.EntityType(entityType)
	job.Strategy = importer.Strategy(strategy)
	job.Status = importer.Status(status)
	if fileName != nil {
		job.FileName = *fileName
	}
	if stationID != nil {
		job.StationID = *stationID
	}
	job.StartedAt = startedAt
	job.CompletedAt = completedAt

	if len(errJSON) > 0 {
		if err := json.Unmarshal(errJSON, &job.Errors); err != nil {
			return nil, fmt.Errorf("decode errors: %w", err)
		}
	}
	if len(summaryJSON) > 0 {
		var summary importer.Summary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		job.Summary = &summary
	}
	return &job, nil
}

func marshalErrors(errs []importer.RowError) ([]byte, error) {
	if errs == nil {
		errs = []importer.RowError{}
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("marshal errors: %w", err)
	}
	return data, nil
}
