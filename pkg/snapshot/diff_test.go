package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/fabric"
	"github.com/openfroyo/fabricupgrade/pkg/fabric/fabrictest"
)

func fault(dn, code, severity string) engine.Attributes {
	return fabrictest.Record("dn", dn, "code", code, "severity", severity, "descr", "fault "+code)
}

func TestCompare(t *testing.T) {
	previous := []engine.Attributes{
		fabrictest.Record("dn", "a"),
		fabrictest.Record("dn", "b"),
		fabrictest.Record("name", "no-key"),
	}
	current := []engine.Attributes{
		fabrictest.Record("dn", "b"),
		fabrictest.Record("dn", "c"),
		fabrictest.Record("dn", ""),
	}

	d := Compare(current, previous, DefaultKey)
	assert.Equal(t, []engine.Attributes{fabrictest.Record("dn", "c")}, d.New)
	assert.Equal(t, []engine.Attributes{fabrictest.Record("dn", "a")}, d.Missing)
}

func TestCompare_Identical(t *testing.T) {
	records := []engine.Attributes{fabrictest.Record("dn", "a"), fabrictest.Record("dn", "b")}
	d := Compare(records, records, DefaultKey)
	assert.Empty(t, d.New)
	assert.Empty(t, d.Missing)
}

func TestCompareFaults_Severity(t *testing.T) {
	tests := []struct {
		name     string
		current  []engine.Attributes
		previous []engine.Attributes
		want     engine.Outcome
	}{
		{
			name:    "new critical fault",
			current: []engine.Attributes{fault("f1", "F0001", fabric.SeverityCritical)},
			want:    engine.Failure,
		},
		{
			name:    "new minor fault",
			current: []engine.Attributes{fault("f1", "F0001", fabric.SeverityMinor)},
			want:    engine.Success,
		},
		{
			name:    "new major fault",
			current: []engine.Attributes{fault("f1", "F0001", fabric.SeverityMajor)},
			want:    engine.Success,
		},
		{
			name:     "known critical fault",
			current:  []engine.Attributes{fault("f1", "F0001", fabric.SeverityCritical)},
			previous: []engine.Attributes{fault("f1", "F0001", fabric.SeverityCritical)},
			want:     engine.Success,
		},
		{
			name:    "new cleared fault",
			current: []engine.Attributes{fault("f1", "F0001", fabric.SeverityCleared)},
			want:    engine.Success,
		},
		{
			name:     "fault went away",
			previous: []engine.Attributes{fault("f1", "F0001", fabric.SeverityCritical)},
			want:     engine.Success,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := CompareFaults(tt.current, tt.previous, false)
			assert.Equal(t, tt.want, report.Outcome)
		})
	}
}

func TestCompareFaults_Groups(t *testing.T) {
	current := []engine.Attributes{
		fault("f3", "F0300", fabric.SeverityMinor),
		fault("f1", "F0100", fabric.SeverityWarning),
		fault("f2", "F0300", fabric.SeverityMinor),
		fault("f0", "F0000", fabric.SeverityCleared),
	}

	report := CompareFaults(current, nil, false)
	require.Len(t, report.New, 3)
	assert.Equal(t, []FaultGroup{
		{Code: "F0100", Severity: fabric.SeverityWarning, Description: "fault F0100", Count: 1},
		{Code: "F0300", Severity: fabric.SeverityMinor, Description: "fault F0300", Count: 2},
	}, report.Groups)
	assert.Equal(t, engine.Success, report.Outcome)
	assert.Empty(t, report.Reasons)

	verbose := CompareFaults(current, nil, true)
	assert.Len(t, verbose.New, 3)
	assert.Empty(t, verbose.Groups)
}

func TestCompareFaults_Reasons(t *testing.T) {
	report := CompareFaults([]engine.Attributes{fault("topology/pod-1/f1", "F1394", fabric.SeverityCritical)}, nil, false)
	require.Equal(t, engine.Failure, report.Outcome)
	assert.Equal(t, []string{"new critical fault F1394 at topology/pod-1/f1"}, report.Reasons)
}

type gateFunc func([]fabric.Fault) (Verdict, error)

func (g gateFunc) Evaluate(_ context.Context, faults []fabric.Fault) (Verdict, error) {
	return g(faults)
}

func TestEvaluateFaults_CustomGate(t *testing.T) {
	var seen []fabric.Fault
	gate := gateFunc(func(faults []fabric.Fault) (Verdict, error) {
		seen = faults
		return Verdict{Deny: true, Reasons: []string{"no new faults allowed"}}, nil
	})

	report, err := EvaluateFaults(context.Background(), gate, []engine.Attributes{fault("f1", "F1", fabric.SeverityWarning)}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, engine.Failure, report.Outcome)
	assert.Equal(t, []string{"no new faults allowed"}, report.Reasons)
	require.Len(t, seen, 1)
	assert.Equal(t, "F1", seen[0].Code)
}

func TestEvaluateFaults_GateNotCalledWithoutNewFaults(t *testing.T) {
	gate := gateFunc(func([]fabric.Fault) (Verdict, error) {
		t.Fatal("gate must not be called")
		return Verdict{}, nil
	})
	report, err := EvaluateFaults(context.Background(), gate, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, engine.Success, report.Outcome)
}

func TestEvaluateFaults_GateError(t *testing.T) {
	gate := gateFunc(func([]fabric.Fault) (Verdict, error) {
		return Verdict{}, errors.New("boom")
	})
	_, err := EvaluateFaults(context.Background(), gate, []engine.Attributes{fault("f1", "F1", fabric.SeverityWarning)}, nil, false)
	assert.EqualError(t, err, "boom")
}

func TestCompareDevices(t *testing.T) {
	d1 := fabrictest.Record("dn", "topology/pod-1/node-101/sys", "name", "leaf-101")

	missing := CompareDevices(nil, []engine.Attributes{d1})
	assert.Equal(t, engine.Failure, missing.Outcome)
	assert.Equal(t, []engine.Attributes{d1}, missing.Missing)

	added := CompareDevices([]engine.Attributes{d1}, nil)
	assert.Equal(t, engine.Success, added.Outcome)
	assert.Equal(t, []engine.Attributes{d1}, added.New)
}

func TestCompareRoutes(t *testing.T) {
	r1 := fabrictest.Record("dn", "topology/pod-1/node-201/route-[10.1.0.0/16]", "pfx", "10.1.0.0/16")

	assert.Equal(t, engine.Failure, CompareRoutes(nil, []engine.Attributes{r1}).Outcome)
	assert.Equal(t, engine.Success, CompareRoutes([]engine.Attributes{r1}, []engine.Attributes{r1}).Outcome)
}
