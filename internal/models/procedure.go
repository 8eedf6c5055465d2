package models

// FieldType enumerates the dynamic field kinds a step can ask for.
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldNumber    FieldType = "number"
	FieldSelect    FieldType = "select"
	FieldMultiline FieldType = "multiline"
)

// ParseFieldType maps a raw type token to a FieldType.
// Unknown tokens fall back to FieldText.
func ParseFieldType(s string) FieldType {
	switch FieldType(s) {
	case FieldNumber, FieldSelect, FieldMultiline:
		return FieldType(s)
	default:
		return FieldText
	}
}

// FieldDef describes one value a technician records during a step.
// Unit is only meaningful for number fields, Options only for select fields.
type FieldDef struct {
	Key      string    `json:"key" yaml:"key"`
	Label    string    `json:"label" yaml:"label"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Unit     string    `json:"unit,omitempty" yaml:"unit,omitempty"`
	Options  []string  `json:"options,omitempty" yaml:"options,omitempty"`
}

// Step is a single unit of a procedure.
type Step struct {
	StepNumber        int        `json:"step_number" yaml:"step_number"`
	Description       string     `json:"description" yaml:"description"`
	ExpectedResult    string     `json:"expected_result,omitempty" yaml:"expected_result,omitempty"`
	WarningNotes      string     `json:"warning_notes,omitempty" yaml:"warning_notes,omitempty"`
	ImageURL          string     `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	RequiredVerifiers int        `json:"required_verifiers" yaml:"required_verifiers,omitempty"`
	Fields            []FieldDef `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Verifiers returns the number of verifiers the step needs, never less than one.
func (s Step) Verifiers() int {
	if s.RequiredVerifiers < 1 {
		return 1
	}
	return s.RequiredVerifiers
}

// Procedure is an immutable, ordered test workflow for one asset type.
type Procedure struct {
	ID                       string `json:"id" yaml:"id"`
	AssetType                string `json:"asset_type" yaml:"asset_type"`
	Name                     string `json:"name" yaml:"name"`
	EstimatedDurationMinutes int    `json:"estimated_duration_minutes" yaml:"estimated_duration_minutes"`
	Steps                    []Step `json:"steps" yaml:"steps"`
}

// Step returns the step with the given number.
func (p *Procedure) Step(number int) (Step, bool) {
	for _, s := range p.Steps {
		if s.StepNumber == number {
			return s, true
		}
	}
	return Step{}, false
}

// StepNumbers returns the step numbers in procedure order.
func (p *Procedure) StepNumbers() []int {
	out := make([]int, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.StepNumber
	}
	return out
}
