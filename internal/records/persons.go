package records

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseline/caseline/internal/importer"
)

// Persons writes person records. Implements importer.PersonWriter.
type Persons struct {
	pool *pgxpool.Pool
}

// NewPersons returns the persons writer.
func NewPersons(pool *pgxpool.Pool) *Persons {
	return &Persons{pool: pool}
}

// Create inserts a person and returns its id.
func (p *Persons) Create(ctx context.Context, rec importer.PersonRecord) (string, error) {
	id := uuid.NewString()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO persons (
			id, first_name, middle_name, last_name, gender, nin, nationality,
			physical_description, aliases, phone_numbers, emails,
			date_of_birth, station_id, created_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, NULLIF($13, '')::uuid, now())`,
		id, rec.FirstName, rec.MiddleName, rec.LastName, rec.Gender, rec.NIN,
		rec.Nationality, rec.PhysicalDescription,
		rec.Aliases, rec.PhoneNumbers, rec.Emails,
		rec.DateOfBirth, rec.StationID,
	)
	if err != nil {
		return "", fmt.Errorf("insert person: %w", err)
	}
	return id, nil
}

// Update applies a partial update; nil patch fields leave columns untouched.
func (p *Persons) Update(ctx context.Context, id string, patch importer.PersonPatch) error {
	var (
		sets []string
		args []interface{}
	)
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.FirstName != nil {
		add("first_name", *patch.FirstName)
	}
	if patch.MiddleName != nil {
		add("middle_name", *patch.MiddleName)
	}
	if patch.LastName != nil {
		add("last_name", *patch.LastName)
	}
	if patch.Gender != nil {
		add("gender", *patch.Gender)
	}
	if patch.Nationality != nil {
		add("nationality", *patch.Nationality)
	}
	if patch.PhysicalDescription != nil {
		add("physical_description", *patch.PhysicalDescription)
	}
	if patch.Aliases != nil {
		add("aliases", patch.Aliases)
	}
	if patch.PhoneNumbers != nil {
		add("phone_numbers", patch.PhoneNumbers)
	}
	if patch.Emails != nil {
		add("emails", patch.Emails)
	}
	if patch.DateOfBirth != nil {
		add("date_of_birth", *patch.DateOfBirth)
	}
	if patch.StationID != nil {
		add("station_id", *patch.StationID)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")

	args = append(args, id)
	query := fmt.Sprintf("UPDATE persons SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("person %s not found", id)
	}
	return nil
}
