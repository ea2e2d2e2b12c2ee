// Package policy provides the CEL-Go based policy overlay engine.
//
// Policies are boolean expressions over the scored transaction: they
// flag decisions for review on top of the model ensemble, they never
// alter the fraud score itself.
package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/fraudwatch/kestrel/internal/domain"
)

// Engine compiles and evaluates policy expressions.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledPolicy
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Config  *domain.PolicyConfig
	Program cel.Program
}

// Input carries the scored transaction into policy evaluation.
type Input struct {
	Amount        float64
	AmountZ       float64
	TxFreq        float64
	GeoDelta      float64
	DeviceEntropy float64
	FraudScore    float64
	Location      string
	DeviceID      string
}

// NewEngine creates a policy engine with the scoring variables bound.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("amount_z", cel.DoubleType),
		cel.Variable("tx_freq", cel.DoubleType),
		cel.Variable("geo_delta", cel.DoubleType),
		cel.Variable("device_entropy", cel.DoubleType),
		cel.Variable("fraud_score", cel.DoubleType),
		cel.Variable("location", cel.StringType),
		cel.Variable("device_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*CompiledPolicy),
	}, nil
}

// ValidatePolicy compiles a policy without mutating the loaded set.
func (e *Engine) ValidatePolicy(cfg *domain.PolicyConfig) error {
	if cfg == nil {
		return fmt.Errorf("policy config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compilePolicy(cfg)
	return err
}

// LoadPolicy compiles and loads a single policy.
func (e *Engine) LoadPolicy(cfg *domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compilePolicy(cfg)
	if err != nil {
		return err
	}

	e.compiled[cfg.ID] = compiled

	return nil
}

// LoadPolicies compiles and loads the enabled policies from the slice.
func (e *Engine) LoadPolicies(configs []*domain.PolicyConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadPolicy(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadPolicies atomically replaces the loaded set. A compile error in
// any policy leaves the previous set intact.
func (e *Engine) ReloadPolicies(configs []*domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledPolicy)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compilePolicy(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.compiled = next

	return nil
}

// Evaluate runs every loaded policy against the input and returns a
// flag for each policy whose expression evaluates to true. Evaluation
// errors in one policy do not block the others.
func (e *Engine) Evaluate(input *Input) []domain.PolicyFlag {
	e.mu.RLock()
	policies := make([]*CompiledPolicy, 0, len(e.compiled))
	for _, p := range e.compiled {
		policies = append(policies, p)
	}
	e.mu.RUnlock()

	if len(policies) == 0 {
		return nil
	}

	activation := map[string]any{
		"amount":         input.Amount,
		"amount_z":       input.AmountZ,
		"tx_freq":        input.TxFreq,
		"geo_delta":      input.GeoDelta,
		"device_entropy": input.DeviceEntropy,
		"fraud_score":    input.FraudScore,
		"location":       input.Location,
		"device_id":      input.DeviceID,
	}

	var flags []domain.PolicyFlag
	for _, p := range policies {
		out, _, err := p.Program.Eval(activation)
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			flags = append(flags, domain.PolicyFlag{
				PolicyID: p.Config.ID,
				Name:     p.Config.Name,
				Reason:   p.Config.Reason,
			})
		}
	}

	return flags
}

// PolicyCount returns the number of loaded policies.
func (e *Engine) PolicyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedPolicies returns the currently loaded policy configurations.
func (e *Engine) LoadedPolicies() []*domain.PolicyConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.PolicyConfig, 0, len(e.compiled))
	for _, p := range e.compiled {
		out = append(out, p.Config)
	}
	return out
}

// Close clears the loaded policy set.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledPolicy)
	return nil
}

func (e *Engine) compilePolicy(cfg *domain.PolicyConfig) (*CompiledPolicy, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", cfg.ID, err)
	}

	return &CompiledPolicy{
		Config:  cfg,
		Program: program,
	}, nil
}
