package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

// Check is a named predicate held by a CheckRegistry.
type Check struct {
	Name string
	Run  Operation
}

// CheckRegistry is an ordered set of checks evaluated with short-circuit on
// the first non-success. The registry itself never retries; wrap RunAll in
// a RetryLoop for that.
type CheckRegistry struct {
	kind   string
	checks []Check
	names  map[string]struct{}
	logger *telemetry.Logger
}

// NewCheckRegistry creates an empty registry. kind names the checks in logs,
// e.g. "health check" or "comparison".
func NewCheckRegistry(kind string, opts ...Option) *CheckRegistry {
	s := newSettings(opts)
	return &CheckRegistry{
		kind:   kind,
		names:  make(map[string]struct{}),
		logger: s.logger.NewComponentLogger("checks"),
	}
}

// Register appends a check. Names must be unique.
func (r *CheckRegistry) Register(name string, op Operation) error {
	if op == nil {
		return fmt.Errorf("check %q has no operation", name)
	}
	if _, ok := r.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCheck, name)
	}
	r.names[name] = struct{}{}
	r.checks = append(r.checks, Check{Name: name, Run: op})
	return nil
}

// Names returns the check names in registration order.
func (r *CheckRegistry) Names() []string {
	names := make([]string, 0, len(r.checks))
	for _, c := range r.checks {
		names = append(names, c.Name)
	}
	return names
}

// Len returns the number of registered checks.
func (r *CheckRegistry) Len() int {
	return len(r.checks)
}

// RunAll evaluates the checks in order. The first Failure or Pending is
// returned immediately; an error from a check is wrapped and returned so the
// enclosing retry loop can classify it.
func (r *CheckRegistry) RunAll(ctx context.Context, s Session) (Outcome, error) {
	for _, c := range r.checks {
		logger := r.logger.WithField("check", c.Name)
		logger.Infof("Checking: %s...", c.Name)

		outcome, err := c.Run(ctx, s)
		if err != nil {
			return Pending, fmt.Errorf("%s %q: %w", r.kind, c.Name, err)
		}
		switch outcome {
		case Success:
		case Pending:
			logger.Debugf("%s not settled yet", r.kind)
			return Pending, nil
		default:
			logger.Errorf("Failed on %s", r.kind)
			return Failure, nil
		}
	}
	return Success, nil
}
