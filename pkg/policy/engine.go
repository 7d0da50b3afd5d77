package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/fabricupgrade/pkg/fabric"
	"github.com/openfroyo/fabricupgrade/pkg/snapshot"
)

// Engine evaluates fault policies. It implements snapshot.FaultGate: the
// workflow is blocked when any enabled policy returns a non-empty deny set.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	order    []string
	logger   zerolog.Logger
	now      func() time.Time
}

var _ snapshot.FaultGate = (*Engine)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		now:      time.Now,
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	return e, nil
}

// Evaluate runs every enabled policy against the new faults.
func (e *Engine) Evaluate(ctx context.Context, faults []fabric.Fault) (snapshot.Verdict, error) {
	violations, err := e.Violations(ctx, faults)
	if err != nil {
		return snapshot.Verdict{}, err
	}

	var v snapshot.Verdict
	for _, violation := range violations {
		v.Deny = true
		v.Reasons = append(v.Reasons, fmt.Sprintf("%s: %s", violation.Policy, violation.Message))
	}
	return v, nil
}

// Violations returns the deny sets of every enabled policy, in policy load order.
func (e *Engine) Violations(ctx context.Context, faults []fabric.Fault) ([]Violation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := NewInput(faults, e.now()).toMap()
	var all []Violation
	for _, name := range e.order {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			return nil, fmt.Errorf("policy %s: %w", cp.policy.Name, err)
		}
		all = append(all, violations...)
	}

	e.logger.Debug().
		Int("faults", len(faults)).
		Int("violations", len(all)).
		Msg("Fault policy evaluation completed")
	return all, nil
}

// LoadPolicies loads and enables policy files.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.AddPolicies(ctx, policies)
}

// AddPolicies compiles and stores policies, replacing those with the same name.
// Nothing is stored when any policy fails to compile.
func (e *Engine) AddPolicies(ctx context.Context, policies []Policy) error {
	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		cp, err := compile(ctx, &policies[i])
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		compiled = append(compiled, cp)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cp := range compiled {
		e.store(cp)
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")
	return nil
}

func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input map[string]interface{}) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// createViolation creates a Violation from a deny set element.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{Policy: policy.Name}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if code, ok := v["code"].(string); ok {
			violation.Code = code
		}
		if dn, ok := v["dn"].(string); ok {
			violation.DN = dn
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = sev
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	if violation.Message == "" {
		violation.Message = fmt.Sprintf("%v", result)
	}
	return violation
}

// compile parses the module and prepares the query of its deny set.
func compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{policy: policy, query: query}, nil
}

func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	cp, err := compile(ctx, policy)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store(cp)

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")
	return nil
}

// store must be called with the lock held.
func (e *Engine) store(cp *compiledPolicy) {
	if cp.policy.LoadedAt.IsZero() {
		cp.policy.LoadedAt = e.now()
	}
	if _, exists := e.policies[cp.policy.Name]; !exists {
		e.order = append(e.order, cp.policy.Name)
	}
	e.policies[cp.policy.Name] = cp
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies in load order.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.order))
	for _, name := range e.order {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")
	return nil
}

// WatchPolicies reloads the policies at paths whenever they change, until
// ctx is done. A policy that fails to compile leaves the previous set active.
func (e *Engine) WatchPolicies(ctx context.Context, paths []string) (*Loader, error) {
	loader := NewLoader(e.logger)
	err := loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.AddPolicies(ctx, policies)
	})
	if err != nil {
		return nil, err
	}
	return loader, nil
}
