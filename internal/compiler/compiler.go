// Package compiler flattens a finished session into store-ready result rows.
package compiler

import (
	"maps"
	"slices"
	"strings"

	"github.com/raphaelgruber/assetcheck/internal/models"
)

// AttachmentCounter reports how many attachments a session step has.
type AttachmentCounter interface {
	Count(sessionID string, stepNumber int) int
}

// Compile returns one row per procedure step, in ascending step order.
// It reads only stored session state, so compiling an unchanged session
// twice yields identical rows. counter may be nil.
func Compile(s *models.Session, p *models.Procedure, asset models.Asset, counter AttachmentCounter) []models.ResultRow {
	steps := slices.Clone(p.Steps)
	slices.SortStableFunc(steps, func(a, b models.Step) int { return a.StepNumber - b.StepNumber })

	technicians := strings.Join(s.Technicians, ", ")
	contractors := strings.Join(s.Contractors, ", ")

	rows := make([]models.ResultRow, 0, len(steps))
	for _, step := range steps {
		r := s.Steps[step.StepNumber]
		if r == nil {
			r = &models.StepResult{}
		}
		row := models.ResultRow{
			AssetID:       s.AssetID,
			AssetName:     asset.Name,
			AssetType:     asset.Type,
			ProcedureID:   s.ProcedureID,
			ProcedureName: p.Name,
			Date:          s.Date,
			Timestamp:     s.Timestamp,
			Technicians:   technicians,
			Contractors:   contractors,
			StepNumber:    step.StepNumber,
			Description:   step.Description,
			Result:        r.Result,
			PerformedBy:   strings.Join(r.Performers, ", "),
			Notes:         strings.TrimSpace(r.Notes),
			Fields:        FieldsText(step, r.FieldValues),
			OverallNotes:  s.Notes,
		}
		if r.PerformedAt != nil {
			row.PerformedAt = r.PerformedAt.UTC().Format(models.PerformedAtLayout)
		}
		if counter != nil {
			row.Attachments = counter.Count(s.Timestamp, step.StepNumber)
		}
		rows = append(rows, row)
	}

	status := models.ResultBatch{Rows: rows}.OverallStatus()
	for i := range rows {
		rows[i].OverallStatus = status
	}
	return rows
}

// CompileBatch wraps Compile with the session identity.
func CompileBatch(s *models.Session, p *models.Procedure, asset models.Asset, counter AttachmentCounter) models.ResultBatch {
	return models.ResultBatch{
		Key:           s.Key(),
		AssetName:     asset.Name,
		ProcedureName: p.Name,
		Rows:          Compile(s, p, asset, counter),
	}
}

// FieldsText renders recorded field values as "[Fields: k=v; k2=v2]".
// Keys follow the step's field order; values for keys the step does not
// define come last, sorted. Empty values are omitted.
func FieldsText(step models.Step, values map[string]string) string {
	if len(values) == 0 {
		return ""
	}
	var pairs []string
	seen := make(map[string]bool, len(step.Fields))
	for _, f := range step.Fields {
		seen[f.Key] = true
		if v := values[f.Key]; v != "" {
			pairs = append(pairs, f.Key+"="+v)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(values)) {
		if !seen[k] && values[k] != "" {
			pairs = append(pairs, k+"="+values[k])
		}
	}
	if len(pairs) == 0 {
		return ""
	}
	return "[Fields: " + strings.Join(pairs, "; ") + "]"
}
