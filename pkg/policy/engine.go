package policy

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/reconcile/pkg/engine"
)

// Engine evaluates Rego policies against planned item changes.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
}

// compiledPolicy is a policy with its deny query prepared for evaluation.
type compiledPolicy struct {
	policy   Policy
	pkgPath  string
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Options configures a new Engine.
type Options struct {
	// ProtectedItems are exposed as data.reconcile.protected_items.
	ProtectedItems []engine.ItemID

	// DisableBuiltins skips loading the built-in policies.
	DisableBuiltins bool
}

// NewEngine creates a policy engine and compiles the built-in policies.
func NewEngine(ctx context.Context, logger zerolog.Logger, opts Options) (*Engine, error) {
	protected := make([]any, 0, len(opts.ProtectedItems))
	for _, id := range opts.ProtectedItems {
		protected = append(protected, string(id))
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store: inmem.NewFromObject(map[string]any{
			"reconcile": map[string]any{
				"protected_items": protected,
			},
		}),
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}

	if !opts.DisableBuiltins {
		builtins := BuiltinPolicies()
		for i := range builtins {
			if err := e.Add(ctx, builtins[i]); err != nil {
				return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
			}
		}
		e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	}

	return e, nil
}

// Add compiles a policy and registers it, replacing any policy with the
// same name.
func (e *Engine) Add(ctx context.Context, p Policy) error {
	if p.Name == "" {
		return engine.NewPermanentError("policy name is required", nil).WithCode(engine.ErrCodeValidation)
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}

	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return engine.NewPermanentError("failed to parse policy", err).
			WithCode(engine.ErrCodeValidation).
			WithDetail("policy", p.Name)
	}
	pkgPath := module.Package.Path.String()

	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Store(e.store),
		rego.Query(pkgPath+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return engine.NewPermanentError("failed to prepare policy", err).
			WithCode(engine.ErrCodeValidation).
			WithDetail("policy", p.Name)
	}

	e.mu.Lock()
	e.policies[p.Name] = &compiledPolicy{
		policy:   p,
		pkgPath:  pkgPath,
		query:    query,
		compiled: time.Now(),
	}
	e.mu.Unlock()

	e.logger.Debug().
		Str("policy", p.Name).
		Str("package", pkgPath).
		Msg("Policy compiled successfully")

	return nil
}

// Replace swaps every non built-in policy for the given set. Nothing changes
// when any of them fails to compile.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	staged, err := NewEngine(ctx, e.logger, Options{DisableBuiltins: true})
	if err != nil {
		return err
	}
	staged.store = e.store
	for i := range policies {
		if err := staged.Add(ctx, policies[i]); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name := range e.policies {
		if !isBuiltin(name) {
			delete(e.policies, name)
		}
	}
	maps.Copy(e.policies, staged.policies)

	e.logger.Info().Int("count", len(policies)).Msg("Policies replaced")
	return nil
}

// Evaluate runs every enabled policy against input in name order.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Decision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := &Decision{Allowed: true, Evaluated: []string{}}

	for _, name := range slices.Sorted(maps.Keys(e.policies)) {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		decision.Evaluated = append(decision.Evaluated, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, engine.NewPermanentError("policy evaluation failed", err).
				WithItem(input.ItemID).
				WithDetail("policy", name)
		}
		decision.Violations = append(decision.Violations, violations...)
	}

	for _, v := range decision.Violations {
		if v.Severity.Blocks() {
			decision.Allowed = false
			break
		}
	}

	e.logger.Debug().
		Str("item_id", string(input.ItemID)).
		Str("operation", string(input.Operation)).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Msg("Policies evaluated")

	return decision, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]any)
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(&cp.policy, d, input))
		}
	}

	return violations, nil
}

// createViolation builds a Violation from one deny entry.
func createViolation(p *Policy, result any, input Input) Violation {
	v := Violation{
		Policy:   p.Name,
		ItemID:   input.ItemID,
		Severity: p.Severity,
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]any:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}

	return v
}

// Get returns a policy by name.
func (e *Engine) Get(name string) (Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return Policy{}, engine.NewPermanentError(fmt.Sprintf("policy not found: %s", name), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	return cp.policy, nil
}

// List returns every registered policy sorted by name.
func (e *Engine) List() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, name := range slices.Sorted(maps.Keys(e.policies)) {
		out = append(out, e.policies[name].policy)
	}
	return out
}

// Enable enables a policy by name.
func (e *Engine) Enable(name string) error {
	return e.setEnabled(name, true)
}

// Disable disables a policy by name.
func (e *Engine) Disable(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return engine.NewPermanentError(fmt.Sprintf("policy not found: %s", name), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	cp.policy.Enabled = enabled

	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
