// Package importer implements the bulk-data-ingestion pipeline: CSV
// validation, cross-entity reference resolution, and batched, cancellable
// application of row writes with durable progress reporting.
package importer

import (
	"fmt"
	"time"
)

// EntityType identifies which record type a CSV file describes.
// The set is closed; unknown values are rejected before any work is queued.
type EntityType string

const (
	EntityPersons  EntityType = "persons"
	EntityCases    EntityType = "cases"
	EntityEvidence EntityType = "evidence"
)

// ParseEntityType validates an entity type received from a client.
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case EntityPersons, EntityCases, EntityEvidence:
		return EntityType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
}

// Strategy governs behavior when a row's natural key already resolves to an
// existing record.
type Strategy string

const (
	StrategySkip   Strategy = "skip"
	StrategyUpdate Strategy = "update"
	StrategyFail   Strategy = "fail"
)

// ParseStrategy validates a duplicate strategy received from a client.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySkip, StrategyUpdate, StrategyFail:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// Status is the job state machine: pending → validating → processing →
// completed, with failed reachable from any non-terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusValidating Status = "validating"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DefaultBatchSize is the number of valid rows applied between progress
// checkpoints and cancellation checks.
const DefaultBatchSize = 50

// MaxStoredErrors caps the persisted error list to bound job-record storage.
const MaxStoredErrors = 1000

// RowError describes one failed row. Row is 1-based over data rows (the
// header is row 0); job-level errors use row 0.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %d, %s: %s", e.Row, e.Field, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// Summary is written once, when a job completes.
type Summary struct {
	Created    int   `json:"created"`
	Updated    int   `json:"updated"`
	Skipped    int   `json:"skipped"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"durationMs"`
}

// Job is the unit of work and its durable progress record. It is written
// only by the orchestrator and read-only to polling clients.
type Job struct {
	ID          string
	EntityType  EntityType
	FileKey     string
	FileName    string
	Strategy    Strategy
	Status      Status
	TotalRows   int
	Processed   int
	Succeeded   int
	Errored     int
	Skipped     int
	Errors      []RowError
	Summary     *Summary
	SubmittedBy string
	StationID   string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Action is the outcome of applying one validated row.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
)

// RowResult is returned by Processor.ProcessRow for a successfully applied row.
type RowResult struct {
	Action Action
}

// LookupCache maps natural keys to internal identifiers, built once per job
// from the distinct keys referenced in the file. It is owned by a single
// job's orchestrator and is never shared or persisted.
type LookupCache struct {
	Stations map[string]string // station code → id
	Officers map[string]string // badge → id
	Cases    map[string]string // case number → id
	Persons  map[string]string // national ID → id
}

// NewLookupCache returns an empty cache with all four maps allocated.
func NewLookupCache() *LookupCache {
	return &LookupCache{
		Stations: make(map[string]string),
		Officers: make(map[string]string),
		Cases:    make(map[string]string),
		Persons:  make(map[string]string),
	}
}

// Context is the immutable per-job bundle passed to every row processor
// call. Processors may insert newly created person NINs into Cache.Persons
// so later rows in the same file hit the duplicate path without another
// database round-trip; everything else is read-only.
type Context struct {
	SubmittedBy string
	StationID   string
	Strategy    Strategy
	Cache       *LookupCache
}
