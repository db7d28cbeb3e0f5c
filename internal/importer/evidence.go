package importer

import (
	"context"
	"fmt"

	"github.com/caseline/caseline/internal/csvio"
)

var evidenceTypeValues = []string{"physical", "document", "photo", "video", "digital", "biological", "other"}

// evidenceProcessor imports evidence records. Every row must reference an
// existing case by case number and a collecting officer by badge.
type evidenceProcessor struct {
	writer EvidenceWriter
}

// NewEvidenceProcessor returns the row processor for evidence imports.
func NewEvidenceProcessor(writer EvidenceWriter) Processor {
	return &evidenceProcessor{writer: writer}
}

func (p *evidenceProcessor) EntityType() EntityType { return EntityEvidence }

func (p *evidenceProcessor) RequiredHeaders() []string {
	return []string{"caseNumber", "type", "description", "collectedByBadge"}
}

func (p *evidenceProcessor) AllowedHeaders() []string {
	return append(p.RequiredHeaders(), "collectedAt", "location", "tags")
}

func (p *evidenceProcessor) TemplateHeaders() []string {
	return []string{
		"caseNumber", "type", "description", "collectedByBadge",
		"collectedAt", "location", "tags",
	}
}

func (p *evidenceProcessor) TemplateExamples() [][]string {
	return [][]string{
		{"CASE-2024-0183", "physical", "Crowbar recovered at rear entrance",
			"B-1042", "2024-11-02", "Main Street market", "weapon|fingerprinted"},
		{"CASE-2024-0187", "photo", "Photographs of broken window", "B-2210",
			"", "", ""},
	}
}

func (p *evidenceProcessor) LookupKeys(rows []csvio.Row) KeySet {
	var keys KeySet
	for _, row := range rows {
		keys.CaseNumbers = append(keys.CaseNumbers, row["caseNumber"])
		keys.OfficerBadges = append(keys.OfficerBadges, row["collectedByBadge"])
	}
	return keys
}

func (p *evidenceProcessor) ValidateRow(row csvio.Row, rowNum int, ictx *Context) []RowError {
	errs := requireFields(row, rowNum, p.RequiredHeaders())

	if tp := row["type"]; tp != "" && !inEnum(tp, evidenceTypeValues) {
		errs = append(errs, RowError{
			Row: rowNum, Field: "type",
			Message: "must be one of: physical, document, photo, video, digital, biological, other",
			Value:   tp,
		})
	}

	errs = checkDate(errs, row, rowNum, "collectedAt")
	errs = checkMaxLen(errs, row, rowNum, "description", 2000)

	if num := row["caseNumber"]; num != "" {
		if _, ok := ictx.Cache.Cases[num]; !ok {
			errs = append(errs, RowError{
				Row: rowNum, Field: "caseNumber",
				Message: "case number not found",
				Value:   num,
			})
		}
	}
	if badge := row["collectedByBadge"]; badge != "" {
		if _, ok := ictx.Cache.Officers[badge]; !ok {
			errs = append(errs, RowError{
				Row: rowNum, Field: "collectedByBadge",
				Message: "officer badge not found",
				Value:   badge,
			})
		}
	}

	return errs
}

func (p *evidenceProcessor) ProcessRow(ctx context.Context, row csvio.Row, rowNum int, ictx *Context) (RowResult, error) {
	collected, _ := parseDate(row["collectedAt"])

	if _, err := p.writer.Create(ctx, EvidenceRecord{
		CaseID:        ictx.Cache.Cases[row["caseNumber"]],
		Type:          row["type"],
		Description:   row["description"],
		CollectedByID: ictx.Cache.Officers[row["collectedByBadge"]],
		Location:      row["location"],
		Tags:          splitList(row["tags"]),
		CollectedAt:   collected,
	}); err != nil {
		return RowResult{}, fmt.Errorf("create evidence: %w", err)
	}
	return RowResult{Action: ActionCreated}, nil
}
