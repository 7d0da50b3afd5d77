package policy

import (
	"time"

	"github.com/openfroyo/fabricupgrade/pkg/fabric"
)

// Policy is a Rego module deciding on new faults. The module must define a
// deny set; every element is a reason to block the workflow.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`

	LoadedAt time.Time `json:"loaded_at"`
}

// Violation is one element of a deny set.
type Violation struct {
	Policy   string `json:"policy"`
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
	DN       string `json:"dn,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// Input is the document policies are evaluated against.
type Input struct {
	// Faults are the faults raised since the snapshot.
	Faults []FaultInput `json:"faults"`

	Context *Context `json:"context"`
}

// FaultInput is the policy view of a fault.
type FaultInput struct {
	DN          string `json:"dn"`
	Code        string `json:"code"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Cause       string `json:"cause"`
}

// Context provides information about the evaluation.
type Context struct {
	Timestamp time.Time `json:"timestamp"`

	// Stage is the workflow stage asking, when known.
	Stage string `json:"stage,omitempty"`
}

// NewInput builds the policy input for faults.
func NewInput(faults []fabric.Fault, now time.Time) *Input {
	in := &Input{
		Faults:  make([]FaultInput, 0, len(faults)),
		Context: &Context{Timestamp: now},
	}
	for _, f := range faults {
		in.Faults = append(in.Faults, FaultInput{
			DN:          f.DN,
			Code:        f.Code,
			Severity:    f.Severity,
			Description: f.Description,
			Cause:       f.Cause,
		})
	}
	return in
}

// toMap renders the input as plain JSON values for the evaluator.
func (in *Input) toMap() map[string]interface{} {
	faults := make([]interface{}, 0, len(in.Faults))
	for _, f := range in.Faults {
		faults = append(faults, map[string]interface{}{
			"dn":          f.DN,
			"code":        f.Code,
			"severity":    f.Severity,
			"description": f.Description,
			"cause":       f.Cause,
		})
	}
	ctx := map[string]interface{}{
		"timestamp": in.Context.Timestamp.UTC().Format(time.RFC3339),
	}
	if in.Context.Stage != "" {
		ctx["stage"] = in.Context.Stage
	}
	return map[string]interface{}{
		"faults":  faults,
		"context": ctx,
	}
}
