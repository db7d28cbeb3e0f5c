package importer

import (
	"context"
	"time"
)

// The interfaces below are the pipeline's view of the per-entity domain
// services. Their error types are opaque here; a failed write is surfaced
// as a row-level message and never aborts the batch or the job.

// PersonRecord carries the fields a persons-import row can set.
type PersonRecord struct {
	FirstName           string
	MiddleName          string
	LastName            string
	Gender              string
	NIN                 string
	Nationality         string
	PhysicalDescription string
	Aliases             []string
	PhoneNumbers        []string
	Emails              []string
	DateOfBirth         *time.Time
	StationID           string
}

// PersonPatch is a partial update against an existing person. Nil fields
// are left unchanged, so an update row only overwrites the columns it
// actually carries.
type PersonPatch struct {
	FirstName           *string
	MiddleName          *string
	LastName            *string
	Gender              *string
	Nationality         *string
	PhysicalDescription *string
	Aliases             []string
	PhoneNumbers        []string
	Emails              []string
	DateOfBirth         *time.Time
	StationID           *string
}

// PersonWriter creates and updates person records.
type PersonWriter interface {
	Create(ctx context.Context, rec PersonRecord) (id string, err error)
	Update(ctx context.Context, id string, patch PersonPatch) error
}

// CaseRecord carries the fields a cases-import row can set.
type CaseRecord struct {
	Title        string
	Category     string
	Severity     string
	Description  string
	Location     string
	Ward         string
	District     string
	StationID    string
	OfficerID    string
	IncidentDate *time.Time
	Latitude     *float64
	Longitude    *float64
}

// CaseWriter creates case records.
type CaseWriter interface {
	Create(ctx context.Context, rec CaseRecord) (id string, err error)
}

// EvidenceRecord carries the fields an evidence-import row can set.
type EvidenceRecord struct {
	CaseID        string
	Type          string
	Description   string
	CollectedByID string
	Location      string
	Tags          []string
	CollectedAt   *time.Time
}

// EvidenceWriter creates evidence records.
type EvidenceWriter interface {
	Create(ctx context.Context, rec EvidenceRecord) (id string, err error)
}
