package engine

import "github.com/aescanero/flowfarm/internal/domain"

// Outcome is the result of a successful step. Failures are reported as errors.
type Outcome int

const (
	// OutcomeNone is a step without an explicit result; it follows the "true" edge
	OutcomeNone Outcome = iota
	OutcomeTrue
	OutcomeFalse
)

// OutcomeOf converts a boolean into an explicit outcome
func OutcomeOf(ok bool) Outcome {
	if ok {
		return OutcomeTrue
	}
	return OutcomeFalse
}

// Branch is the edge tag selected by the outcome
func (o Outcome) Branch() string {
	if o == OutcomeFalse {
		return domain.BranchFalse
	}
	return domain.BranchTrue
}

func (o Outcome) String() string {
	switch o {
	case OutcomeTrue:
		return "true"
	case OutcomeFalse:
		return "false"
	default:
		return "none"
	}
}
