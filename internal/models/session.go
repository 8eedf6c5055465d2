package models

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// TimestampLayout is the session identity timestamp format (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// DateLayout is the day/month/year format used in the date column.
const DateLayout = "02/01/2006"

// PerformedAtLayout is how step performance times are written to the results sheet.
const PerformedAtLayout = "02/01/2006, 15:04:05"

// MaxPersonnel caps the technician and contractor slots of a session.
const MaxPersonnel = 3

// Result is the outcome recorded for a step.
type Result string

const (
	ResultUnset Result = ""
	ResultPass  Result = "pass"
	ResultFail  Result = "fail"
)

// Valid reports whether r is pass or fail.
func (r Result) Valid() bool {
	return r == ResultPass || r == ResultFail
}

// OverallStatus is the computed verdict of a session.
type OverallStatus string

const (
	StatusPassed OverallStatus = "passed"
	StatusFailed OverallStatus = "failed"
)

// OverallStatusOf returns failed iff any result is fail.
func OverallStatusOf(results []Result) OverallStatus {
	if slices.Contains(results, ResultFail) {
		return StatusFailed
	}
	return StatusPassed
}

// StepResult is the data captured for one step of a session.
type StepResult struct {
	Result      Result            `json:"result,omitempty"`
	Performers  []string          `json:"performers,omitempty"`
	PerformedAt *time.Time        `json:"performedAt,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	FieldValues map[string]string `json:"fieldValues,omitempty"`
}

// UnmarshalJSON accepts the legacy single "performer" scalar and folds it
// into Performers, so the rest of the code only sees the list.
// When both shapes are present the legacy value is appended unless already listed.
func (r *StepResult) UnmarshalJSON(data []byte) error {
	type plain StepResult
	var aux struct {
		plain
		Performer string `json:"performer,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = StepResult(aux.plain)
	if p := strings.TrimSpace(aux.Performer); p != "" && !slices.Contains(r.Performers, p) {
		r.Performers = append(r.Performers, p)
	}
	return nil
}

// Complete reports whether the step has a result and enough verifiers.
func (r *StepResult) Complete(step Step) bool {
	if r == nil || !r.Result.Valid() {
		return false
	}
	return len(r.Performers) >= step.Verifiers()
}

// Session is one execution of a procedure against an asset.
// Its identity is (AssetID, ProcedureID, Timestamp); Timestamp never changes.
type Session struct {
	AssetID             string              `json:"assetId"`
	ProcedureID         string              `json:"procedureId"`
	Date                string              `json:"date"`
	Timestamp           string              `json:"timestamp"`
	Technicians         []string            `json:"technicians"`
	Contractors         []string            `json:"contractors"`
	ContractorCompanies []string            `json:"contractorCompanies"`
	Steps               map[int]*StepResult `json:"steps"`
	Notes               string              `json:"notes"`
}

// NewSession creates an empty session stamped with now.
func NewSession(assetID, procedureID string, now time.Time) *Session {
	now = now.UTC()
	return &Session{
		AssetID:             assetID,
		ProcedureID:         procedureID,
		Date:                now.Format(DateLayout),
		Timestamp:           now.Format(TimestampLayout),
		Technicians:         []string{},
		Contractors:         []string{},
		ContractorCompanies: []string{},
		Steps:               make(map[int]*StepResult),
	}
}

// Key returns the session identity.
func (s *Session) Key() SessionKey {
	return SessionKey{AssetID: s.AssetID, ProcedureID: s.ProcedureID, Timestamp: s.Timestamp}
}

// Step returns the result for a step number, creating it when missing.
func (s *Session) Step(number int) *StepResult {
	if s.Steps == nil {
		s.Steps = make(map[int]*StepResult)
	}
	r, ok := s.Steps[number]
	if !ok {
		r = &StepResult{}
		s.Steps[number] = r
	}
	return r
}

// HasPersonnel reports whether at least one technician or contractor is named.
func (s *Session) HasPersonnel() bool {
	for _, t := range s.Technicians {
		if strings.TrimSpace(t) != "" {
			return true
		}
	}
	for _, c := range s.Contractors {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}

// PersonnelTags lists everyone who can verify a step, e.g. "Technician: Alice".
func (s *Session) PersonnelTags() []string {
	tags := make([]string, 0, len(s.Technicians)+len(s.Contractors))
	for _, t := range s.Technicians {
		if t != "" {
			tags = append(tags, "Technician: "+t)
		}
	}
	for _, c := range s.Contractors {
		if c != "" {
			tags = append(tags, "Contractor: "+c)
		}
	}
	return tags
}

// IncompleteSteps returns the step numbers of p that are not complete, in procedure order.
func (s *Session) IncompleteSteps(p *Procedure) []int {
	var out []int
	for _, step := range p.Steps {
		if !s.Steps[step.StepNumber].Complete(step) {
			out = append(out, step.StepNumber)
		}
	}
	return out
}

// Finishable reports whether the personnel gate holds and every step is complete.
func (s *Session) Finishable(p *Procedure) bool {
	return s.HasPersonnel() && len(s.IncompleteSteps(p)) == 0
}

// OverallStatus computes the verdict from the recorded step results of p.
func (s *Session) OverallStatus(p *Procedure) OverallStatus {
	results := make([]Result, 0, len(p.Steps))
	for _, step := range p.Steps {
		if r := s.Steps[step.StepNumber]; r != nil {
			results = append(results, r.Result)
		}
	}
	return OverallStatusOf(results)
}

// Counts returns how many steps of p passed and failed.
func (s *Session) Counts(p *Procedure) (passed, failed int) {
	for _, step := range p.Steps {
		r := s.Steps[step.StepNumber]
		if r == nil {
			continue
		}
		switch r.Result {
		case ResultPass:
			passed++
		case ResultFail:
			failed++
		}
	}
	return passed, failed
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Technicians = slices.Clone(s.Technicians)
	c.Contractors = slices.Clone(s.Contractors)
	c.ContractorCompanies = slices.Clone(s.ContractorCompanies)
	c.Steps = make(map[int]*StepResult, len(s.Steps))
	for n, r := range s.Steps {
		if r == nil {
			continue
		}
		rc := *r
		rc.Performers = slices.Clone(r.Performers)
		if r.PerformedAt != nil {
			t := *r.PerformedAt
			rc.PerformedAt = &t
		}
		if r.FieldValues != nil {
			rc.FieldValues = make(map[string]string, len(r.FieldValues))
			for k, v := range r.FieldValues {
				rc.FieldValues[k] = v
			}
		}
		c.Steps[n] = &rc
	}
	return &c
}

// SessionKey identifies a session.
type SessionKey struct {
	AssetID     string `json:"asset_id"`
	ProcedureID string `json:"procedure_id"`
	Timestamp   string `json:"timestamp"`
}

// String renders the key as asset-procedure-timestamp.
func (k SessionKey) String() string {
	return k.AssetID + "-" + k.ProcedureID + "-" + k.Timestamp
}
