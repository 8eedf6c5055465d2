package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ResultColumns is the width of a result row (columns A through Q).
const ResultColumns = 17

// Result sheet column indexes.
const (
	ColAssetID = iota
	ColAssetName
	ColAssetType
	ColProcedureID
	ColProcedureName
	ColDate
	ColTimestamp
	ColTechnicians
	ColContractors
	ColStepNumber
	ColDescription
	ColResult
	ColPerformedBy
	ColPerformedAt
	ColNotes
	ColOverallStatus
	ColOverallNotes
)

// ResultRow is one compiled step of a finished session.
// The notes column is composed from Notes, Fields, Attachments and Links so
// links can be spliced in after upload without re-parsing text.
type ResultRow struct {
	AssetID       string        `json:"asset_id"`
	AssetName     string        `json:"asset_name"`
	AssetType     string        `json:"asset_type"`
	ProcedureID   string        `json:"procedure_id"`
	ProcedureName string        `json:"procedure_name"`
	Date          string        `json:"date"`
	Timestamp     string        `json:"timestamp"`
	Technicians   string        `json:"technicians"`
	Contractors   string        `json:"contractors"`
	StepNumber    int           `json:"step_number"`
	Description   string        `json:"description"`
	Result        Result        `json:"result"`
	PerformedBy   string        `json:"performed_by"`
	PerformedAt   string        `json:"performed_at"`
	Notes         string        `json:"notes,omitempty"`
	Fields        string        `json:"fields,omitempty"`
	Attachments   int           `json:"attachments,omitempty"`
	Links         []string      `json:"links,omitempty"`
	OverallStatus OverallStatus `json:"overall_status"`
	OverallNotes  string        `json:"overall_notes"`
}

// Key returns the identity of the session the row belongs to.
func (r ResultRow) Key() SessionKey {
	return SessionKey{AssetID: r.AssetID, ProcedureID: r.ProcedureID, Timestamp: r.Timestamp}
}

// NotesText renders the notes column: user notes, "[Fields: ...]" and
// "[Attachments: n] Links: ..." joined by spaces.
func (r ResultRow) NotesText() string {
	var parts []string
	if r.Notes != "" {
		parts = append(parts, r.Notes)
	}
	if r.Fields != "" {
		parts = append(parts, r.Fields)
	}
	var att string
	if r.Attachments > 0 {
		att = fmt.Sprintf("[Attachments: %d]", r.Attachments)
	}
	if len(r.Links) > 0 {
		att += " Links: " + strings.Join(r.Links, " ")
	}
	if att = strings.TrimSpace(att); att != "" {
		parts = append(parts, att)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Values returns the row in sheet column order.
func (r ResultRow) Values() []string {
	return []string{
		r.AssetID,
		r.AssetName,
		r.AssetType,
		r.ProcedureID,
		r.ProcedureName,
		r.Date,
		r.Timestamp,
		r.Technicians,
		r.Contractors,
		strconv.Itoa(r.StepNumber),
		r.Description,
		string(r.Result),
		r.PerformedBy,
		r.PerformedAt,
		r.NotesText(),
		string(r.OverallStatus),
		r.OverallNotes,
	}
}

// RowValues converts rows to the two-dimensional shape the tabular store takes.
func RowValues(rows []ResultRow) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = r.Values()
	}
	return out
}

// ParseResultRow reads a raw result row. The notes column is kept verbatim in Notes.
// Short rows are padded; a non-numeric step number is an error.
func ParseResultRow(values []string) (ResultRow, error) {
	cell := func(i int) string {
		if i < len(values) {
			return strings.TrimSpace(values[i])
		}
		return ""
	}
	step, err := strconv.Atoi(cell(ColStepNumber))
	if err != nil {
		return ResultRow{}, fmt.Errorf("parse step number %q: %w", cell(ColStepNumber), err)
	}
	return ResultRow{
		AssetID:       cell(ColAssetID),
		AssetName:     cell(ColAssetName),
		AssetType:     cell(ColAssetType),
		ProcedureID:   cell(ColProcedureID),
		ProcedureName: cell(ColProcedureName),
		Date:          cell(ColDate),
		Timestamp:     cell(ColTimestamp),
		Technicians:   cell(ColTechnicians),
		Contractors:   cell(ColContractors),
		StepNumber:    step,
		Description:   cell(ColDescription),
		Result:        Result(cell(ColResult)),
		PerformedBy:   cell(ColPerformedBy),
		PerformedAt:   cell(ColPerformedAt),
		Notes:         cell(ColNotes),
		OverallStatus: OverallStatus(cell(ColOverallStatus)),
		OverallNotes:  cell(ColOverallNotes),
	}, nil
}

// ResultBatch is the compiled rows of one finished session, the unit that
// is submitted or queued.
type ResultBatch struct {
	Key           SessionKey  `json:"key"`
	AssetName     string      `json:"asset_name"`
	ProcedureName string      `json:"procedure_name"`
	Rows          []ResultRow `json:"rows"`
}

// OverallStatus derives the verdict from the batch rows.
func (b ResultBatch) OverallStatus() OverallStatus {
	results := make([]Result, len(b.Rows))
	for i, r := range b.Rows {
		results[i] = r.Result
	}
	return OverallStatusOf(results)
}
