package importer

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/caseline/caseline/internal/csvio"
)

// Fake domain writers used across processor tests.

type fakePersonWriter struct {
	nextID    int
	created   []PersonRecord
	updated   map[string]PersonPatch
	createErr error
}

func (w *fakePersonWriter) Create(_ context.Context, rec PersonRecord) (string, error) {
	if w.createErr != nil {
		return "", w.createErr
	}
	w.nextID++
	w.created = append(w.created, rec)
	return "person-" + strconv.Itoa(w.nextID), nil
}

func (w *fakePersonWriter) Update(_ context.Context, id string, patch PersonPatch) error {
	if w.updated == nil {
		w.updated = make(map[string]PersonPatch)
	}
	w.updated[id] = patch
	return nil
}

type fakeCaseWriter struct {
	created []CaseRecord
}

func (w *fakeCaseWriter) Create(_ context.Context, rec CaseRecord) (string, error) {
	w.created = append(w.created, rec)
	return "case-1", nil
}

type fakeEvidenceWriter struct {
	created []EvidenceRecord
}

func (w *fakeEvidenceWriter) Create(_ context.Context, rec EvidenceRecord) (string, error) {
	w.created = append(w.created, rec)
	return "evidence-1", nil
}

func testContext(strategy Strategy) *Context {
	cache := NewLookupCache()
	cache.Stations["ST-001"] = "station-1"
	cache.Officers["B-1042"] = "officer-1"
	cache.Cases["CASE-2024-0001"] = "case-1"
	return &Context{
		SubmittedBy: "tester",
		Strategy:    strategy,
		Cache:       cache,
	}
}

func TestPersonsValidateRow(t *testing.T) {
	proc := NewPersonsProcessor(&fakePersonWriter{}, false)
	ictx := testContext(StrategySkip)

	tests := []struct {
		name      string
		row       csvio.Row
		wantField string
	}{
		{
			name: "valid row",
			row: csvio.Row{
				"firstName": "Amina", "lastName": "Okello",
				"gender": "female", "stationCode": "ST-001",
			},
		},
		{
			name: "missing required field",
			row: csvio.Row{
				"firstName": "", "lastName": "Okello",
				"gender": "female", "stationCode": "ST-001",
			},
			wantField: "firstName",
		},
		{
			name: "bad gender",
			row: csvio.Row{
				"firstName": "Amina", "lastName": "Okello",
				"gender": "unknown", "stationCode": "ST-001",
			},
			wantField: "gender",
		},
		{
			name: "bad date of birth",
			row: csvio.Row{
				"firstName": "Amina", "lastName": "Okello",
				"gender": "female", "stationCode": "ST-001",
				"dateOfBirth": "23/04/1991",
			},
			wantField: "dateOfBirth",
		},
		{
			name: "unknown station code",
			row: csvio.Row{
				"firstName": "Amina", "lastName": "Okello",
				"gender": "female", "stationCode": "ST-999",
			},
			wantField: "stationCode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := proc.ValidateRow(tt.row, 1, ictx)
			if tt.wantField == "" {
				if len(errs) != 0 {
					t.Fatalf("expected no errors, got %v", errs)
				}
				return
			}
			if len(errs) == 0 {
				t.Fatalf("expected an error on field %q, got none", tt.wantField)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("error field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestPersonsProcessRow_CreateCachesNaturalKey(t *testing.T) {
	writer := &fakePersonWriter{}
	proc := NewPersonsProcessor(writer, false)
	ictx := testContext(StrategySkip)

	row := csvio.Row{
		"firstName": "Amina", "lastName": "Okello",
		"gender": "female", "stationCode": "ST-001",
		"nin": "CM9001", "aliases": "Ami|A.O.",
	}

	result, err := proc.ProcessRow(context.Background(), row, 1, ictx)
	if err != nil {
		t.Fatalf("ProcessRow failed: %v", err)
	}
	if result.Action != ActionCreated {
		t.Errorf("action = %q, want created", result.Action)
	}
	if len(writer.created) != 1 {
		t.Fatalf("created %d persons, want 1", len(writer.created))
	}
	if got := writer.created[0].StationID; got != "station-1" {
		t.Errorf("StationID = %q, want station-1", got)
	}
	if got := writer.created[0].Aliases; len(got) != 2 || got[0] != "Ami" {
		t.Errorf("Aliases = %v, want [Ami A.O.]", got)
	}
	// New key visible to later rows in the same file.
	if _, ok := ictx.Cache.Persons["CM9001"]; !ok {
		t.Error("created NIN not inserted into cache")
	}
}

func TestPersonsProcessRow_DuplicateStrategies(t *testing.T) {
	row := csvio.Row{
		"firstName": "Amina", "lastName": "Okello",
		"gender": "female", "stationCode": "ST-001", "nin": "CM9001",
	}

	t.Run("skip", func(t *testing.T) {
		writer := &fakePersonWriter{}
		proc := NewPersonsProcessor(writer, false)
		ictx := testContext(StrategySkip)
		ictx.Cache.Persons["CM9001"] = "existing-1"

		result, err := proc.ProcessRow(context.Background(), row, 1, ictx)
		if err != nil {
			t.Fatalf("ProcessRow failed: %v", err)
		}
		if result.Action != ActionSkipped {
			t.Errorf("action = %q, want skipped", result.Action)
		}
		if len(writer.created) != 0 {
			t.Error("skip strategy must not write")
		}
	})

	t.Run("fail", func(t *testing.T) {
		writer := &fakePersonWriter{}
		proc := NewPersonsProcessor(writer, false)
		ictx := testContext(StrategyFail)
		ictx.Cache.Persons["CM9001"] = "existing-1"

		_, err := proc.ProcessRow(context.Background(), row, 4, ictx)
		var rowErr RowError
		if !errors.As(err, &rowErr) {
			t.Fatalf("expected RowError, got %v", err)
		}
		if rowErr.Row != 4 || rowErr.Field != "nin" || rowErr.Value != "CM9001" {
			t.Errorf("unexpected row error: %+v", rowErr)
		}
		if len(writer.created) != 0 {
			t.Error("fail strategy must not write")
		}
	})

	t.Run("update", func(t *testing.T) {
		writer := &fakePersonWriter{}
		proc := NewPersonsProcessor(writer, false)
		ictx := testContext(StrategyUpdate)
		ictx.Cache.Persons["CM9001"] = "existing-1"

		result, err := proc.ProcessRow(context.Background(), row, 1, ictx)
		if err != nil {
			t.Fatalf("ProcessRow failed: %v", err)
		}
		if result.Action != ActionUpdated {
			t.Errorf("action = %q, want updated", result.Action)
		}
		patch, ok := writer.updated["existing-1"]
		if !ok {
			t.Fatal("expected update against existing-1")
		}
		if patch.FirstName == nil || *patch.FirstName != "Amina" {
			t.Errorf("patch.FirstName = %v, want Amina", patch.FirstName)
		}
		// Columns absent from the row stay untouched.
		if patch.Nationality != nil {
			t.Errorf("patch.Nationality = %v, want nil", patch.Nationality)
		}
	})
}

func TestCasesValidateRow(t *testing.T) {
	proc := NewCasesProcessor(&fakeCaseWriter{})
	ictx := testContext(StrategySkip)

	base := func() csvio.Row {
		return csvio.Row{
			"title": "Burglary", "category": "burglary",
			"severity": "medium", "stationCode": "ST-001",
		}
	}

	if errs := proc.ValidateRow(base(), 1, ictx); len(errs) != 0 {
		t.Fatalf("valid row produced errors: %v", errs)
	}

	row := base()
	row["severity"] = "urgent"
	if errs := proc.ValidateRow(row, 1, ictx); len(errs) == 0 || errs[0].Field != "severity" {
		t.Errorf("expected severity error, got %v", errs)
	}

	row = base()
	row["latitude"] = "95.0"
	if errs := proc.ValidateRow(row, 1, ictx); len(errs) == 0 || errs[0].Field != "latitude" {
		t.Errorf("expected latitude error, got %v", errs)
	}

	row = base()
	row["officerBadge"] = "B-9999"
	if errs := proc.ValidateRow(row, 1, ictx); len(errs) == 0 || errs[0].Field != "officerBadge" {
		t.Errorf("expected officerBadge error, got %v", errs)
	}
}

func TestCasesProcessRow_ResolvesReferences(t *testing.T) {
	writer := &fakeCaseWriter{}
	proc := NewCasesProcessor(writer)
	ictx := testContext(StrategySkip)

	row := csvio.Row{
		"title": "Burglary", "category": "burglary",
		"severity": "medium", "stationCode": "ST-001",
		"officerBadge": "B-1042", "latitude": "0.3163", "incidentDate": "2024-11-02",
	}

	result, err := proc.ProcessRow(context.Background(), row, 1, ictx)
	if err != nil {
		t.Fatalf("ProcessRow failed: %v", err)
	}
	if result.Action != ActionCreated {
		t.Errorf("action = %q, want created", result.Action)
	}
	rec := writer.created[0]
	if rec.StationID != "station-1" || rec.OfficerID != "officer-1" {
		t.Errorf("references not resolved: %+v", rec)
	}
	if rec.Latitude == nil || *rec.Latitude != 0.3163 {
		t.Errorf("Latitude = %v, want 0.3163", rec.Latitude)
	}
	if rec.IncidentDate == nil {
		t.Error("IncidentDate not parsed")
	}
}

func TestEvidenceValidateRow(t *testing.T) {
	proc := NewEvidenceProcessor(&fakeEvidenceWriter{})
	ictx := testContext(StrategySkip)

	row := csvio.Row{
		"caseNumber": "CASE-2024-0001", "type": "physical",
		"description": "Crowbar", "collectedByBadge": "B-1042",
	}
	if errs := proc.ValidateRow(row, 1, ictx); len(errs) != 0 {
		t.Fatalf("valid row produced errors: %v", errs)
	}

	row["type"] = "hearsay"
	errs := proc.ValidateRow(row, 2, ictx)
	if len(errs) == 0 || errs[0].Field != "type" {
		t.Errorf("expected type error, got %v", errs)
	}

	row["type"] = "physical"
	row["caseNumber"] = "CASE-0000-9999"
	errs = proc.ValidateRow(row, 3, ictx)
	if len(errs) == 0 || errs[0].Field != "caseNumber" {
		t.Errorf("expected caseNumber error, got %v", errs)
	}
}

func TestEvidenceProcessRow(t *testing.T) {
	writer := &fakeEvidenceWriter{}
	proc := NewEvidenceProcessor(writer)
	ictx := testContext(StrategySkip)

	row := csvio.Row{
		"caseNumber": "CASE-2024-0001", "type": "physical",
		"description": "Crowbar", "collectedByBadge": "B-1042",
		"tags": "weapon|fingerprinted",
	}

	result, err := proc.ProcessRow(context.Background(), row, 1, ictx)
	if err != nil {
		t.Fatalf("ProcessRow failed: %v", err)
	}
	if result.Action != ActionCreated {
		t.Errorf("action = %q, want created", result.Action)
	}
	rec := writer.created[0]
	if rec.CaseID != "case-1" || rec.CollectedByID != "officer-1" {
		t.Errorf("references not resolved: %+v", rec)
	}
	if len(rec.Tags) != 2 {
		t.Errorf("Tags = %v, want 2 entries", rec.Tags)
	}
}

func TestRegistry(t *testing.T) {
	ClearRegistry()
	t.Cleanup(ClearRegistry)

	proc := NewCasesProcessor(&fakeCaseWriter{})
	Register(proc)

	got, ok := GetProcessor(EntityCases)
	if !ok || got.EntityType() != EntityCases {
		t.Fatalf("GetProcessor returned %v, %v", got, ok)
	}
	if _, ok := GetProcessor(EntityPersons); ok {
		t.Error("unregistered entity type should not resolve")
	}

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register should panic")
		}
	}()
	Register(proc)
}
