// Package audit writes best-effort audit trail entries. Audit failures are
// logged and swallowed; they must never fail the operation being audited.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder receives one entry per notable action.
type Recorder interface {
	Record(ctx context.Context, action, subjectID string, details map[string]any)
}

// PgRecorder persists audit entries to the audit_log table.
type PgRecorder struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPgRecorder returns a Postgres-backed recorder.
func NewPgRecorder(pool *pgxpool.Pool, log *slog.Logger) *PgRecorder {
	return &PgRecorder{pool: pool, log: log}
}

// Record inserts one audit entry. Errors are logged, never returned.
func (r *PgRecorder) Record(ctx context.Context, action, subjectID string, details map[string]any) {
	var detailsJSON []byte
	if details != nil {
		var err error
		detailsJSON, err = json.Marshal(details)
		if err != nil {
			detailsJSON = nil
		}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, action, subject_id, details, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		uuid.NewString(), action, subjectID, detailsJSON,
	)
	if err != nil {
		r.log.Error("write audit entry", "action", action, "subjectID", subjectID, "error", err)
	}
}
