// Package csvio turns raw CSV bytes into structured rows and renders
// downloadable import templates. It has no storage or network access;
// everything here is a pure function over bytes.
package csvio

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Row is a single CSV data row keyed by header name. Values are trimmed.
type Row map[string]string

// ParseError describes a syntax problem in the CSV input.
// Line is 1-based and counts physical lines including the header.
type ParseError struct {
	Line    int
	Message string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Parse reads CSV bytes into a header slice and data rows.
//
// The input is BOM-stripped and UTF-8 sanitized before parsing. Blank lines
// are skipped. Headers are trimmed; row values are trimmed and keyed by
// header name. Rows with the wrong field count are reported as parse errors
// rather than silently truncated.
func Parse(data []byte) (headers []string, rows []Row, parseErrs []ParseError) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	data = sanitizeUTF8(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	// Header row: first non-empty record.
	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil, nil, nil
		}
		if err != nil {
			parseErrs = append(parseErrs, toParseError(err))
			return nil, nil, parseErrs
		}
		if isBlank(record) {
			continue
		}
		headers = make([]string, len(record))
		for i, h := range record {
			headers[i] = strings.TrimSpace(h)
		}
		break
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			parseErrs = append(parseErrs, toParseError(err))
			continue
		}
		if isBlank(record) {
			continue
		}
		if len(record) != len(headers) {
			line, _ := r.FieldPos(0)
			parseErrs = append(parseErrs, ParseError{
				Line:    line,
				Message: fmt.Sprintf("expected %d fields, got %d", len(headers), len(record)),
			})
			continue
		}
		row := make(Row, len(headers))
		for i, h := range headers {
			row[h] = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
	}

	return headers, rows, parseErrs
}

// Template renders a CSV template: the header line followed by example rows.
func Template(headers []string, examples [][]string) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(headers)
	for _, ex := range examples {
		_ = w.Write(ex)
	}
	w.Flush()
	return buf.Bytes()
}

// toParseError converts a csv.Reader error into a ParseError with a line number.
func toParseError(err error) ParseError {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return ParseError{Line: perr.Line, Message: perr.Err.Error()}
	}
	return ParseError{Line: 0, Message: err.Error()}
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with the replacement character.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
