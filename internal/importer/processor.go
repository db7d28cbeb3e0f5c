package importer

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/caseline/caseline/internal/csvio"
)

// Processor implements validation and write logic for one entity type.
// ValidateRow is pure; ProcessRow is the only stage with side effects and
// delegates the actual write to the entity's domain service.
type Processor interface {
	EntityType() EntityType

	// RequiredHeaders / AllowedHeaders drive header validation before any
	// row is touched. AllowedHeaders is a superset of RequiredHeaders.
	RequiredHeaders() []string
	AllowedHeaders() []string

	// TemplateHeaders / TemplateExamples feed the downloadable CSV template.
	TemplateHeaders() []string
	TemplateExamples() [][]string

	// LookupKeys declares which natural keys this entity type needs
	// resolved before row validation starts.
	LookupKeys(rows []csvio.Row) KeySet

	// ValidateRow checks one row against field constraints and the lookup
	// cache. An empty result means the row is acceptable.
	ValidateRow(row csvio.Row, rowNum int, ictx *Context) []RowError

	// ProcessRow applies one validated row as create/update/skip.
	ProcessRow(ctx context.Context, row csvio.Row, rowNum int, ictx *Context) (RowResult, error)
}

// KeySet holds the distinct natural keys a file references, one slice per
// category. Empty categories are not resolved.
type KeySet struct {
	StationCodes  []string
	OfficerBadges []string
	CaseNumbers   []string
	PersonNINs    []string
}

// dateLayout is the only accepted date format in import files.
const dateLayout = "2006-01-02"

// parseDate parses a YYYY-MM-DD value. Empty input returns nil.
func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// splitList splits a pipe-separated cell into trimmed, non-empty items.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, "|")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}

// inEnum reports whether value matches one of the allowed values,
// case-insensitively.
func inEnum(value string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, value) {
			return true
		}
	}
	return false
}

// requireFields appends a RowError for every required column that is empty.
func requireFields(row csvio.Row, rowNum int, fields []string) []RowError {
	var errs []RowError
	for _, f := range fields {
		if row[f] == "" {
			errs = append(errs, RowError{
				Row:     rowNum,
				Field:   f,
				Message: "required field is empty",
			})
		}
	}
	return errs
}

// checkDate appends an error when the named field is present but not a
// valid YYYY-MM-DD date.
func checkDate(errs []RowError, row csvio.Row, rowNum int, field string) []RowError {
	if v := row[field]; v != "" {
		if _, err := parseDate(v); err != nil {
			errs = append(errs, RowError{
				Row:     rowNum,
				Field:   field,
				Message: "invalid date, use YYYY-MM-DD",
				Value:   v,
			})
		}
	}
	return errs
}

// checkFloat appends an error when the named field is present but not
// numeric or outside [min, max].
func checkFloat(errs []RowError, row csvio.Row, rowNum int, field string, min, max float64) []RowError {
	v := row[field]
	if v == "" {
		return errs
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return append(errs, RowError{Row: rowNum, Field: field, Message: "invalid number", Value: v})
	}
	if f < min || f > max {
		return append(errs, RowError{
			Row:     rowNum,
			Field:   field,
			Message: "out of range",
			Value:   v,
		})
	}
	return errs
}

// checkMaxLen appends an error when the named field exceeds maxLen runes.
func checkMaxLen(errs []RowError, row csvio.Row, rowNum int, field string, maxLen int) []RowError {
	if v := row[field]; len([]rune(v)) > maxLen {
		errs = append(errs, RowError{
			Row:     rowNum,
			Field:   field,
			Message: "value exceeds " + strconv.Itoa(maxLen) + " characters",
		})
	}
	return errs
}
