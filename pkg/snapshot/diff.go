package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/fabric"
)

// DefaultKey is the identity key of controller records.
const DefaultKey = "dn"

// Delta is the difference between two record sets.
type Delta struct {
	// New holds records present now but not before, in current order.
	New []engine.Attributes

	// Missing holds records present before but not now, in previous order.
	Missing []engine.Attributes
}

// Compare matches records by key. Records without a value for key cannot be
// matched and are ignored.
func Compare(current, previous []engine.Attributes, key string) Delta {
	before := keySet(previous, key)
	now := keySet(current, key)

	var d Delta
	for _, r := range current {
		if k := r.Get(key); k != "" && !before[k] {
			d.New = append(d.New, r)
		}
	}
	for _, r := range previous {
		if k := r.Get(key); k != "" && !now[k] {
			d.Missing = append(d.Missing, r)
		}
	}
	return d
}

func keySet(records []engine.Attributes, key string) map[string]bool {
	set := make(map[string]bool, len(records))
	for _, r := range records {
		if k := r.Get(key); k != "" {
			set[k] = true
		}
	}
	return set
}

// FaultGroup aggregates new faults sharing a fault code.
type FaultGroup struct {
	Code        string `json:"code"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// Verdict is the decision of a FaultGate.
type Verdict struct {
	Deny    bool
	Reasons []string
}

// FaultGate decides whether a set of new faults blocks the workflow.
type FaultGate interface {
	Evaluate(ctx context.Context, faults []fabric.Fault) (Verdict, error)
}

// SeverityGate denies when any new fault has one of the listed severities.
type SeverityGate struct {
	Severities []string
}

// DefaultGate denies on new critical faults only.
func DefaultGate() SeverityGate {
	return SeverityGate{Severities: []string{fabric.SeverityCritical}}
}

// Evaluate implements FaultGate.
func (g SeverityGate) Evaluate(_ context.Context, faults []fabric.Fault) (Verdict, error) {
	deny := make(map[string]bool, len(g.Severities))
	for _, s := range g.Severities {
		deny[s] = true
	}

	var v Verdict
	for _, f := range faults {
		if deny[f.Severity] {
			v.Deny = true
			v.Reasons = append(v.Reasons, fmt.Sprintf("new %s fault %s at %s", f.Severity, f.Code, f.DN))
		}
	}
	return v, nil
}

// FaultReport is the result of a fault comparison.
type FaultReport struct {
	// New lists every new, uncleared fault.
	New []fabric.Fault

	// Groups aggregates New by code. It is empty in verbose mode.
	Groups []FaultGroup

	// Reasons explains a denial.
	Reasons []string

	Outcome engine.Outcome
}

// CompareFaults classifies new faults and fails on new critical ones.
func CompareFaults(current, previous []engine.Attributes, verbose bool) FaultReport {
	report, _ := EvaluateFaults(context.Background(), DefaultGate(), current, previous, verbose)
	return report
}

// EvaluateFaults classifies new faults and lets gate decide the outcome.
// Faults already cleared are never new.
func EvaluateFaults(ctx context.Context, gate FaultGate, current, previous []engine.Attributes, verbose bool) (FaultReport, error) {
	report := FaultReport{Outcome: engine.Success}

	for _, r := range Compare(current, previous, DefaultKey).New {
		f := toFault(r)
		if f.Severity == fabric.SeverityCleared {
			continue
		}
		report.New = append(report.New, f)
	}
	if len(report.New) == 0 {
		return report, nil
	}

	if !verbose {
		report.Groups = groupByCode(report.New)
	}

	verdict, err := gate.Evaluate(ctx, report.New)
	if err != nil {
		return report, err
	}
	if verdict.Deny {
		report.Outcome = engine.Failure
		report.Reasons = verdict.Reasons
	}
	return report, nil
}

func toFault(r engine.Attributes) fabric.Fault {
	f, err := fabric.Decode[fabric.Fault](r)
	if err != nil {
		return fabric.Fault{
			DN:          r.DN(),
			Code:        r.Get("code"),
			Severity:    r.Get("severity"),
			Description: r.Get("descr"),
		}
	}
	return f
}

// groupByCode aggregates faults by code, sorted by code. The severity and
// description of the first fault of each code are kept.
func groupByCode(faults []fabric.Fault) []FaultGroup {
	byCode := make(map[string]*FaultGroup)
	for _, f := range faults {
		g, ok := byCode[f.Code]
		if !ok {
			g = &FaultGroup{Code: f.Code, Severity: f.Severity, Description: f.Description}
			byCode[f.Code] = g
		}
		g.Count++
	}

	groups := make([]FaultGroup, 0, len(byCode))
	for _, g := range byCode {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Code < groups[j].Code })
	return groups
}

// MissingReport is the result of a device or route comparison.
type MissingReport struct {
	Missing []engine.Attributes
	New     []engine.Attributes
	Outcome engine.Outcome
}

func missingReport(current, previous []engine.Attributes) MissingReport {
	d := Compare(current, previous, DefaultKey)
	return MissingReport{
		Missing: d.Missing,
		New:     d.New,
		Outcome: engine.OutcomeOf(len(d.Missing) == 0),
	}
}

// CompareDevices fails when a previously known device is gone. New devices
// do not gate.
func CompareDevices(current, previous []engine.Attributes) MissingReport {
	return missingReport(current, previous)
}

// CompareRoutes fails when a previously present inter-pod route is gone.
func CompareRoutes(current, previous []engine.Attributes) MissingReport {
	return missingReport(current, previous)
}
