package importer

import (
	"context"
	"fmt"

	"github.com/caseline/caseline/internal/csvio"
)

var genderValues = []string{"male", "female", "other"}

// personsProcessor imports person records. Persons are the only entity type
// with a natural key (the national ID), so all three duplicate strategies
// apply here.
type personsProcessor struct {
	writer PersonWriter

	// overwrite switches the update strategy from "only columns present and
	// non-empty in the row" to a full-row overwrite.
	overwrite bool
}

// NewPersonsProcessor returns the row processor for persons imports.
func NewPersonsProcessor(writer PersonWriter, overwrite bool) Processor {
	return &personsProcessor{writer: writer, overwrite: overwrite}
}

func (p *personsProcessor) EntityType() EntityType { return EntityPersons }

func (p *personsProcessor) RequiredHeaders() []string {
	return []string{"firstName", "lastName", "gender", "stationCode"}
}

func (p *personsProcessor) AllowedHeaders() []string {
	return append(p.RequiredHeaders(),
		"nin", "middleName", "aliases", "dateOfBirth", "nationality",
		"phoneNumbers", "emails", "physicalDescription")
}

func (p *personsProcessor) TemplateHeaders() []string {
	return []string{
		"firstName", "lastName", "gender", "stationCode", "nin", "middleName",
		"aliases", "dateOfBirth", "nationality", "phoneNumbers", "emails",
		"physicalDescription",
	}
}

func (p *personsProcessor) TemplateExamples() [][]string {
	return [][]string{
		{"Amina", "Okello", "female", "ST-001", "CM9001234567", "Grace",
			"Ami|A.O.", "1991-04-23", "Ugandan", "+256700000001", "amina@example.com", ""},
		{"David", "Mugisha", "male", "ST-002", "", "", "", "", "", "", "", "Scar on left forearm"},
	}
}

func (p *personsProcessor) LookupKeys(rows []csvio.Row) KeySet {
	var keys KeySet
	for _, row := range rows {
		keys.StationCodes = append(keys.StationCodes, row["stationCode"])
		keys.PersonNINs = append(keys.PersonNINs, row["nin"])
	}
	return keys
}

func (p *personsProcessor) ValidateRow(row csvio.Row, rowNum int, ictx *Context) []RowError {
	errs := requireFields(row, rowNum, p.RequiredHeaders())

	if g := row["gender"]; g != "" && !inEnum(g, genderValues) {
		errs = append(errs, RowError{
			Row: rowNum, Field: "gender",
			Message: "must be one of: male, female, other",
			Value:   g,
		})
	}

	errs = checkDate(errs, row, rowNum, "dateOfBirth")
	errs = checkMaxLen(errs, row, rowNum, "physicalDescription", 2000)

	if code := row["stationCode"]; code != "" {
		if _, ok := ictx.Cache.Stations[code]; !ok {
			errs = append(errs, RowError{
				Row: rowNum, Field: "stationCode",
				Message: "station code not found",
				Value:   code,
			})
		}
	}

	return errs
}

func (p *personsProcessor) ProcessRow(ctx context.Context, row csvio.Row, rowNum int, ictx *Context) (RowResult, error) {
	nin := row["nin"]

	// Duplicate-key policy: the cache covers both pre-existing persons and
	// persons created earlier in this same file.
	if nin != "" {
		if existingID, ok := ictx.Cache.Persons[nin]; ok {
			switch ictx.Strategy {
			case StrategySkip:
				return RowResult{Action: ActionSkipped}, nil
			case StrategyFail:
				return RowResult{}, RowError{
					Row: rowNum, Field: "nin",
					Message: "duplicate national ID",
					Value:   nin,
				}
			case StrategyUpdate:
				if err := p.writer.Update(ctx, existingID, p.buildPatch(row, ictx)); err != nil {
					return RowResult{}, fmt.Errorf("update person: %w", err)
				}
				return RowResult{Action: ActionUpdated}, nil
			}
		}
	}

	dob, _ := parseDate(row["dateOfBirth"])
	id, err := p.writer.Create(ctx, PersonRecord{
		FirstName:           row["firstName"],
		MiddleName:          row["middleName"],
		LastName:            row["lastName"],
		Gender:              row["gender"],
		NIN:                 nin,
		Nationality:         row["nationality"],
		PhysicalDescription: row["physicalDescription"],
		Aliases:             splitList(row["aliases"]),
		PhoneNumbers:        splitList(row["phoneNumbers"]),
		Emails:              splitList(row["emails"]),
		DateOfBirth:         dob,
		StationID:           ictx.Cache.Stations[row["stationCode"]],
	})
	if err != nil {
		return RowResult{}, fmt.Errorf("create person: %w", err)
	}

	// Make the new key visible to later rows in the same file.
	if nin != "" {
		ictx.Cache.Persons[nin] = id
	}
	return RowResult{Action: ActionCreated}, nil
}

// buildPatch maps an update row onto a partial person update. Without the
// overwrite option, only columns present and non-empty in the row are set.
func (p *personsProcessor) buildPatch(row csvio.Row, ictx *Context) PersonPatch {
	var patch PersonPatch

	set := func(dst **string, field string) {
		if v, ok := row[field]; ok && (p.overwrite || v != "") {
			*dst = &v
		}
	}

	set(&patch.FirstName, "firstName")
	set(&patch.MiddleName, "middleName")
	set(&patch.LastName, "lastName")
	set(&patch.Gender, "gender")
	set(&patch.Nationality, "nationality")
	set(&patch.PhysicalDescription, "physicalDescription")

	if v, ok := row["aliases"]; ok && (p.overwrite || v != "") {
		patch.Aliases = splitList(v)
	}
	if v, ok := row["phoneNumbers"]; ok && (p.overwrite || v != "") {
		patch.PhoneNumbers = splitList(v)
	}
	if v, ok := row["emails"]; ok && (p.overwrite || v != "") {
		patch.Emails = splitList(v)
	}
	if v, ok := row["dateOfBirth"]; ok && v != "" {
		if dob, err := parseDate(v); err == nil {
			patch.DateOfBirth = dob
		}
	}
	if id, ok := ictx.Cache.Stations[row["stationCode"]]; ok {
		patch.StationID = &id
	}
	return patch
}
