package parser

import (
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/raphaelgruber/assetcheck/internal/models"
)

// DefaultDurationMinutes is used when a procedure row has no usable duration.
const DefaultDurationMinutes = 30

// Procedure sheet column indexes.
const (
	procColID = iota
	procColAssetType
	procColName
	procColStepNumber
	procColDescription
	procColExpected
	procColImageURL
	procColWarning
	procColDuration
	procColFields
	procColVerifiers
)

// BuildProcedures groups procedure rows by id into procedures.
// Rows sharing a step number are merged into one step. Steps are sorted by
// number and procedures are returned in the order their id was first seen.
func BuildProcedures(rows [][]string) []models.Procedure {
	var order []string
	byID := make(map[string]*models.Procedure)

	for i, row := range rows {
		id := cell(row, procColID)
		if id == "" {
			continue
		}
		number, err := strconv.Atoi(cell(row, procColStepNumber))
		if err != nil {
			slog.Debug("skipping procedure row", "row", i, "procedure", id, "error", err)
			continue
		}

		step := models.Step{
			StepNumber:        number,
			Description:       cell(row, procColDescription),
			ExpectedResult:    cell(row, procColExpected),
			ImageURL:          cell(row, procColImageURL),
			WarningNotes:      cell(row, procColWarning),
			RequiredVerifiers: verifiers(cell(row, procColVerifiers)),
			Fields:            ParseFieldDSL(fieldsCell(row)),
		}

		proc, ok := byID[id]
		if !ok {
			duration, err := strconv.Atoi(cell(row, procColDuration))
			if err != nil || duration <= 0 {
				duration = DefaultDurationMinutes
			}
			proc = &models.Procedure{
				ID:                       id,
				AssetType:                cell(row, procColAssetType),
				Name:                     cell(row, procColName),
				EstimatedDurationMinutes: duration,
			}
			byID[id] = proc
			order = append(order, id)
		}

		if idx := slices.IndexFunc(proc.Steps, func(s models.Step) bool { return s.StepNumber == number }); idx >= 0 {
			mergeStep(&proc.Steps[idx], step)
		} else {
			proc.Steps = append(proc.Steps, step)
		}
	}

	out := make([]models.Procedure, 0, len(order))
	for _, id := range order {
		p := byID[id]
		slices.SortStableFunc(p.Steps, func(a, b models.Step) int { return a.StepNumber - b.StepNumber })
		out = append(out, *p)
	}
	return out
}

func mergeStep(existing *models.Step, dup models.Step) {
	if dup.Description != "" && !slices.Contains(strings.Split(existing.Description, " / "), dup.Description) {
		if existing.Description == "" {
			existing.Description = dup.Description
		} else {
			existing.Description += " / " + dup.Description
		}
	}
	for _, f := range dup.Fields {
		if !slices.ContainsFunc(existing.Fields, func(e models.FieldDef) bool { return e.Key == f.Key }) {
			existing.Fields = append(existing.Fields, f)
		}
	}
	if existing.ExpectedResult == "" {
		existing.ExpectedResult = dup.ExpectedResult
	}
	if existing.WarningNotes == "" {
		existing.WarningNotes = dup.WarningNotes
	}
	if existing.ImageURL == "" {
		existing.ImageURL = dup.ImageURL
	}
	existing.RequiredVerifiers = max(existing.RequiredVerifiers, dup.RequiredVerifiers)
}

// fieldsCell returns the field DSL column, or the first later column that
// looks like DSL when the sheet grew extra columns.
func fieldsCell(row []string) string {
	if v := cell(row, procColFields); v != "" {
		return v
	}
	for i := procColFields + 1; i < len(row); i++ {
		if strings.Contains(row[i], "|") {
			return row[i]
		}
	}
	return ""
}

func verifiers(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}
