package importer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/caseline/caseline/internal/csvio"
)

var severityValues = []string{"low", "medium", "high", "critical"}

// casesProcessor imports case records. Cases have no natural key in the
// import file, so the duplicate strategy never applies to them.
type casesProcessor struct {
	writer CaseWriter
}

// NewCasesProcessor returns the row processor for cases imports.
func NewCasesProcessor(writer CaseWriter) Processor {
	return &casesProcessor{writer: writer}
}

func (p *casesProcessor) EntityType() EntityType { return EntityCases }

func (p *casesProcessor) RequiredHeaders() []string {
	return []string{"title", "category", "severity", "stationCode"}
}

func (p *casesProcessor) AllowedHeaders() []string {
	return append(p.RequiredHeaders(),
		"officerBadge", "incidentDate", "description", "location",
		"latitude", "longitude", "ward", "district")
}

func (p *casesProcessor) TemplateHeaders() []string {
	return []string{
		"title", "category", "severity", "stationCode", "officerBadge",
		"incidentDate", "description", "location", "latitude", "longitude",
		"ward", "district",
	}
}

func (p *casesProcessor) TemplateExamples() [][]string {
	return [][]string{
		{"Burglary at Main Street market", "burglary", "medium", "ST-001", "B-1042",
			"2024-11-02", "Forced entry through rear door", "Main Street market",
			"0.3163", "32.5822", "Central", "Kampala"},
		{"Stolen motorcycle", "theft", "low", "ST-002", "",
			"", "", "", "", "", "", ""},
	}
}

func (p *casesProcessor) LookupKeys(rows []csvio.Row) KeySet {
	var keys KeySet
	for _, row := range rows {
		keys.StationCodes = append(keys.StationCodes, row["stationCode"])
		keys.OfficerBadges = append(keys.OfficerBadges, row["officerBadge"])
	}
	return keys
}

func (p *casesProcessor) ValidateRow(row csvio.Row, rowNum int, ictx *Context) []RowError {
	errs := requireFields(row, rowNum, p.RequiredHeaders())

	if s := row["severity"]; s != "" && !inEnum(s, severityValues) {
		errs = append(errs, RowError{
			Row: rowNum, Field: "severity",
			Message: "must be one of: low, medium, high, critical",
			Value:   s,
		})
	}

	errs = checkDate(errs, row, rowNum, "incidentDate")
	errs = checkFloat(errs, row, rowNum, "latitude", -90, 90)
	errs = checkFloat(errs, row, rowNum, "longitude", -180, 180)
	errs = checkMaxLen(errs, row, rowNum, "title", 500)

	if code := row["stationCode"]; code != "" {
		if _, ok := ictx.Cache.Stations[code]; !ok {
			errs = append(errs, RowError{
				Row: rowNum, Field: "stationCode",
				Message: "station code not found",
				Value:   code,
			})
		}
	}
	if badge := row["officerBadge"]; badge != "" {
		if _, ok := ictx.Cache.Officers[badge]; !ok {
			errs = append(errs, RowError{
				Row: rowNum, Field: "officerBadge",
				Message: "officer badge not found",
				Value:   badge,
			})
		}
	}

	return errs
}

func (p *casesProcessor) ProcessRow(ctx context.Context, row csvio.Row, rowNum int, ictx *Context) (RowResult, error) {
	incident, _ := parseDate(row["incidentDate"])

	rec := CaseRecord{
		Title:        row["title"],
		Category:     row["category"],
		Severity:     row["severity"],
		Description:  row["description"],
		Location:     row["location"],
		Ward:         row["ward"],
		District:     row["district"],
		StationID:    ictx.Cache.Stations[row["stationCode"]],
		OfficerID:    ictx.Cache.Officers[row["officerBadge"]],
		IncidentDate: incident,
	}
	if v := row["latitude"]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec.Latitude = &f
		}
	}
	if v := row["longitude"]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec.Longitude = &f
		}
	}

	if _, err := p.writer.Create(ctx, rec); err != nil {
		return RowResult{}, fmt.Errorf("create case: %w", err)
	}
	return RowResult{Action: ActionCreated}, nil
}
