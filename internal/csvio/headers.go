package csvio

import "strings"

// HeaderResult is the outcome of validating a parsed header row against an
// entity's required and allowed column sets.
type HeaderResult struct {
	Valid   bool
	Missing []string // required columns absent from the file
	Unknown []string // file columns outside the allowed set
}

// ValidateHeaders checks that every required column is present and that no
// column outside the allowed set appears. Matching is case-insensitive on
// trimmed names. This runs once per job, before any row is touched.
func ValidateHeaders(actual, required, allowed []string) HeaderResult {
	actualSet := make(map[string]bool, len(actual))
	for _, h := range actual {
		actualSet[normalizeHeader(h)] = true
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, h := range allowed {
		allowedSet[normalizeHeader(h)] = true
	}

	result := HeaderResult{Valid: true}

	for _, h := range required {
		if !actualSet[normalizeHeader(h)] {
			result.Missing = append(result.Missing, h)
			result.Valid = false
		}
	}

	for _, h := range actual {
		if !allowedSet[normalizeHeader(h)] {
			result.Unknown = append(result.Unknown, h)
			result.Valid = false
		}
	}

	return result
}

// CanonicalizeRows re-keys rows by the canonical column names, so a file
// that spells a column "FIRSTNAME" still yields rows indexed by "firstName".
// Columns with no canonical match keep their original key.
func CanonicalizeRows(rows []Row, canonical []string) []Row {
	byNorm := make(map[string]string, len(canonical))
	for _, c := range canonical {
		byNorm[normalizeHeader(c)] = c
	}

	out := make([]Row, len(rows))
	for i, row := range rows {
		mapped := make(Row, len(row))
		for k, v := range row {
			key := k
			if c, ok := byNorm[normalizeHeader(k)]; ok {
				key = c
			}
			mapped[key] = v
		}
		out[i] = mapped
	}
	return out
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
