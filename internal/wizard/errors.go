package wizard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAtSummary is returned by Advance when there is no state after the summary.
	ErrAtSummary = errors.New("wizard: already at summary")
	// ErrAtPersonnel is returned by Retreat from the first state.
	ErrAtPersonnel = errors.New("wizard: already at personnel")
	// ErrOutOfRange is returned for a state index outside the procedure.
	ErrOutOfRange = errors.New("wizard: state index out of range")
	// ErrUnknownStep is returned for a step number the procedure does not define.
	ErrUnknownStep = errors.New("wizard: unknown step")
	// ErrInvalidResult is returned when a result is neither pass nor fail.
	ErrInvalidResult = errors.New("wizard: result must be pass or fail")
	// ErrTooManyPersonnel is returned when more than models.MaxPersonnel entries are given.
	ErrTooManyPersonnel = errors.New("wizard: too many personnel entries")
	// ErrFinished is returned for any mutation after a successful Finish.
	ErrFinished = errors.New("wizard: session already finished")
)

// Personnel gate and verifier messages shown to the user.
const (
	msgPersonnel       = "Please add at least one technician or contractor to proceed."
	msgOneVerifier     = "Please select a result and at least one verifier."
	msgManyVerifiers   = "Please select a result and at least %d verifier(s)."
	msgIncompleteSteps = "Please complete all test steps before finishing."
)

// ValidationError reports why a transition or finish was refused.
// The session is left unchanged.
type ValidationError struct {
	Message string `json:"message"`
	// Step is the step number being validated, 0 for the personnel state.
	Step int `json:"step,omitempty"`
	// Missing is how many more verifiers the step needs.
	Missing int `json:"missing,omitempty"`
	// ResultMissing is set when no pass/fail result was chosen.
	ResultMissing bool `json:"result_missing,omitempty"`
	// PersonnelMissing is set when the personnel gate does not hold.
	PersonnelMissing bool `json:"personnel_missing,omitempty"`
	// IncompleteSteps lists every incomplete step on Finish.
	IncompleteSteps []int `json:"incomplete_steps,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.IncompleteSteps) == 0 {
		return e.Message
	}
	steps := make([]string, len(e.IncompleteSteps))
	for i, n := range e.IncompleteSteps {
		steps[i] = fmt.Sprint(n)
	}
	return fmt.Sprintf("%s (incomplete steps: %s)", e.Message, strings.Join(steps, ", "))
}

// AsValidation unwraps err into a *ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
