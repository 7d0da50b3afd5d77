package snapshot

import (
	"context"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

// Comparison checks the live fabric against a previous snapshot.
type Comparison struct {
	Previous *Snapshot

	// Gate decides on new faults. Nil means DefaultGate.
	Gate FaultGate

	// Verbose lists new faults individually instead of grouped by code.
	Verbose bool

	Logger *telemetry.Logger

	// OnNewFaults is called with the number of new faults per severity.
	OnNewFaults func(severity string, count int)
}

// Registry returns the comparison checks in evaluation order.
func (c *Comparison) Registry(opts ...engine.Option) (*engine.CheckRegistry, error) {
	r := engine.NewCheckRegistry("comparison", opts...)
	checks := []struct {
		name string
		op   engine.Operation
	}{
		{"faults", c.CheckFaults},
		{"devices", c.CheckDevices},
		{"ISIS inter-pod routes", c.CheckRoutes},
	}
	for _, check := range checks {
		if err := r.Register(check.name, check.op); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (c *Comparison) logger() *telemetry.Logger {
	if c.Logger == nil {
		return telemetry.NewNopLogger()
	}
	return c.Logger
}

// CheckFaults fails when the gate denies the new faults.
func (c *Comparison) CheckFaults(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	current, err := GetFaults(ctx, s)
	if err != nil {
		return engine.Pending, err
	}

	gate := c.Gate
	if gate == nil {
		gate = DefaultGate()
	}
	report, err := EvaluateFaults(ctx, gate, current, c.Previous.Faults, c.Verbose)
	if err != nil {
		c.logger().WithError(err).Error("Fault policy evaluation failed")
		return engine.Failure, nil
	}

	logger := c.logger()
	if len(report.New) == 0 {
		logger.Debug("No new faults found")
		return engine.Success, nil
	}

	logger.Warnf("%d new faults found", len(report.New))
	bySeverity := make(map[string]int)
	for _, f := range report.New {
		bySeverity[f.Severity]++
		if c.Verbose {
			logger.WithFields(map[string]interface{}{
				"code":        f.Code,
				"dn":          f.DN,
				"severity":    f.Severity,
				"description": f.Description,
			}).Warn("New fault")
		}
	}
	for _, g := range report.Groups {
		logger.WithFields(map[string]interface{}{
			"code":        g.Code,
			"count":       g.Count,
			"severity":    g.Severity,
			"description": g.Description,
		}).Warn("New fault(s)")
	}
	if c.OnNewFaults != nil {
		for severity, n := range bySeverity {
			c.OnNewFaults(severity, n)
		}
	}
	for _, reason := range report.Reasons {
		logger.Error(reason)
	}
	return report.Outcome, nil
}

// CheckDevices fails when a device of the snapshot is missing.
func (c *Comparison) CheckDevices(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	current, err := GetDevices(ctx, s)
	if err != nil {
		return engine.Pending, err
	}
	report := CompareDevices(current, c.Previous.Devices)
	for _, d := range report.Missing {
		c.logger().WithField("dn", d.DN()).WithField("name", d.Get("name")).Warn("Missing device")
	}
	return report.Outcome, nil
}

// CheckRoutes fails when an inter-pod route of the snapshot is missing.
func (c *Comparison) CheckRoutes(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	current, err := GetInterpodRoutes(ctx, s)
	if err != nil {
		return engine.Pending, err
	}
	report := CompareRoutes(current, c.Previous.Routes)
	for _, r := range report.Missing {
		c.logger().WithField("dn", r.DN()).WithField("prefix", r.Get("pfx")).Warn("Missing ISIS route")
	}
	return report.Outcome, nil
}
