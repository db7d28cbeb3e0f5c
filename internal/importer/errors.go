package importer

import "errors"

// Sentinel errors surfaced to the web layer. Everything else the pipeline
// encounters is expressed as job-record state, never thrown to a caller.
var (
	// ErrUnknownEntityType is returned when a submission names an entity
	// type outside the closed set.
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrUnknownStrategy is returned for a duplicate strategy outside
	// skip/update/fail.
	ErrUnknownStrategy = errors.New("unknown duplicate strategy")

	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("import job not found")

	// ErrJobTerminal is returned when cancelling a job that has already
	// completed or failed.
	ErrJobTerminal = errors.New("import job already finished")

	// ErrTooManyImports is returned when all import slots are occupied and
	// the wait timeout expires. Clients should retry after a short delay.
	ErrTooManyImports = errors.New("too many concurrent imports, please try again later")
)
