package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseline/caseline/internal/importer"
)

// Evidence writes evidence records. Implements importer.EvidenceWriter.
type Evidence struct {
	pool *pgxpool.Pool
}

// NewEvidence returns the evidence writer.
func NewEvidence(pool *pgxpool.Pool) *Evidence {
	return &Evidence{pool: pool}
}

// Create inserts an evidence item and returns its id.
func (e *Evidence) Create(ctx context.Context, rec importer.EvidenceRecord) (string, error) {
	id := uuid.NewString()
	_, err := e.pool.Exec(ctx, `
		INSERT INTO evidence (
			id, case_id, type, description, collected_by_id,
			location, tags, collected_at, created_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8, now())`,
		id, rec.CaseID, rec.Type, rec.Description, rec.CollectedByID,
		rec.Location, rec.Tags, rec.CollectedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert evidence: %w", err)
	}
	return id, nil
}
