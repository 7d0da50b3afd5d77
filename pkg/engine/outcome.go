package engine

import "fmt"

// Outcome is the result of a single evaluation of an Operation.
type Outcome string

const (
	// Success indicates the awaited condition holds.
	Success Outcome = "success"

	// Pending indicates no error occurred but the condition is not met yet.
	// The caller may evaluate the operation again later.
	Pending Outcome = "pending"

	// Failure indicates the condition will not resolve without intervention.
	Failure Outcome = "failure"
)

// String returns the outcome name.
func (o Outcome) String() string {
	return string(o)
}

// IsTerminal returns true if the outcome ends a retry loop.
func (o Outcome) IsTerminal() bool {
	return o == Success || o == Failure
}

// Validate checks if the outcome is one of the known values.
func (o Outcome) Validate() error {
	switch o {
	case Success, Pending, Failure:
		return nil
	default:
		return fmt.Errorf("invalid outcome: %q", string(o))
	}
}

// OutcomeOf maps a boolean predicate result to Success or Failure.
func OutcomeOf(ok bool) Outcome {
	if ok {
		return Success
	}
	return Failure
}
