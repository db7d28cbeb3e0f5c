// Package records is the pipeline's gateway to the domain tables: batched
// natural-key lookups for reference resolution and per-entity writers that
// apply validated import rows.
package records

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseline/caseline/internal/importer"
)

// keyLookup answers one batched natural-key existence query. The query must
// select (key, id) pairs for keys in $1.
type keyLookup struct {
	pool  *pgxpool.Pool
	query string
}

// FindManyByKeys resolves the given keys in a single round-trip. Keys with
// no match are absent from the result.
func (l *keyLookup) FindManyByKeys(ctx context.Context, keys []string) (map[string]string, error) {
	found := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	rows, err := l.pool.Query(ctx, l.query, keys)
	if err != nil {
		return nil, fmt.Errorf("lookup keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("scan lookup row: %w", err)
		}
		found[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup rows: %w", err)
	}
	return found, nil
}

// NewStationLookup resolves station codes to station ids.
func NewStationLookup(pool *pgxpool.Pool) importer.Lookup {
	return &keyLookup{pool: pool, query: "SELECT code, id FROM stations WHERE code = ANY($1)"}
}

// NewOfficerLookup resolves badge numbers to officer ids.
func NewOfficerLookup(pool *pgxpool.Pool) importer.Lookup {
	return &keyLookup{pool: pool, query: "SELECT badge_number, id FROM officers WHERE badge_number = ANY($1)"}
}

// NewCaseLookup resolves case numbers to case ids.
func NewCaseLookup(pool *pgxpool.Pool) importer.Lookup {
	return &keyLookup{pool: pool, query: "SELECT case_number, id FROM cases WHERE case_number = ANY($1)"}
}

// NewPersonLookup resolves national IDs to person ids.
func NewPersonLookup(pool *pgxpool.Pool) importer.Lookup {
	return &keyLookup{pool: pool, query: "SELECT nin, id FROM persons WHERE nin = ANY($1)"}
}
