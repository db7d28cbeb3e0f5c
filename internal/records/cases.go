package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseline/caseline/internal/importer"
)

// Cases writes case records. Implements importer.CaseWriter.
type Cases struct {
	pool *pgxpool.Pool
}

// NewCases returns the cases writer.
func NewCases(pool *pgxpool.Pool) *Cases {
	return &Cases{pool: pool}
}

// Create inserts a case and returns its id. The case number is generated
// from the yearly sequence so imported cases are referenceable by later
// evidence imports.
func (c *Cases) Create(ctx context.Context, rec importer.CaseRecord) (string, error) {
	id := uuid.NewString()
	_, err := c.pool.Exec(ctx, `
		INSERT INTO cases (
			id, case_number, title, category, severity, description,
			location, ward, district, station_id, officer_id,
			incident_date, latitude, longitude, status, created_at
		) VALUES (
			$1,
			'CASE-' || to_char(now(), 'YYYY') || '-' || lpad(nextval('case_number_seq')::text, 4, '0'),
			$2, $3, $4, $5, $6, $7, $8,
			NULLIF($9, '')::uuid, NULLIF($10, '')::uuid,
			$11, $12, $13, 'open', now()
		)`,
		id, rec.Title, rec.Category, rec.Severity, rec.Description,
		rec.Location, rec.Ward, rec.District, rec.StationID, rec.OfficerID,
		rec.IncidentDate, rec.Latitude, rec.Longitude,
	)
	if err != nil {
		return "", fmt.Errorf("insert case: %w", err)
	}
	return id, nil
}
