// Package guard screens submissions through CEL admission rules before any
// replica work runs.
package guard

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// DenialError reports which rule refused the submission.
type DenialError struct {
	Rule string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("guard: submission denied by rule %q", e.Rule)
}

// Guard evaluates admission rules against each submission. Every rule must
// pass; evaluation errors deny (fail-closed).
type Guard struct {
	rules    []string
	programs []cel.Program
}

// New compiles the rule set. A rule that does not compile is a configuration
// error and fails construction; it never degrades into a runtime rejection.
func New(rules []string) (*Guard, error) {
	env, err := cel.NewEnv(
		cel.Variable("params", cel.StringType),
		cel.Variable("replicas", cel.IntType),
		cel.Variable("policies", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("guard: failed to create CEL environment: %w", err)
	}

	programs := make([]cel.Program, len(rules))
	for i, rule := range rules {
		ast, issues := env.Compile(rule)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("guard: compile rule %d: %w", i, issues.Err())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000), // Hard limit on computational complexity
		)
		if err != nil {
			return nil, fmt.Errorf("guard: program rule %d: %w", i, err)
		}
		programs[i] = prg
	}

	return &Guard{rules: rules, programs: programs}, nil
}

// Admit evaluates every rule against the submission. The first rule that
// denies, or fails to evaluate, refuses admission.
func (g *Guard) Admit(ctx context.Context, params string, replicas int, levels []string) error {
	input := map[string]any{
		"params":   params,
		"replicas": replicas,
		"policies": levels,
	}
	for i, prg := range g.programs {
		out, _, err := prg.Eval(input)
		if err != nil {
			return fmt.Errorf("guard: rule %d evaluation: %w", i, err)
		}
		allowed, ok := out.Value().(bool)
		if !ok {
			return fmt.Errorf("guard: rule %d result is not a bool", i)
		}
		if !allowed {
			return &DenialError{Rule: g.rules[i]}
		}
	}
	return nil
}
