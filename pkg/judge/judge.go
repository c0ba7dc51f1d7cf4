// Package judge abstracts the external equivalence judge behind a narrow
// two-method interface so agreement policies can be tested against
// deterministic stubs. Real judges are slow, non-deterministic services;
// every call must be bounded by the caller's context.
package judge

import (
	"context"
	"fmt"
)

// Judge assesses candidate values produced by independent replicas.
type Judge interface {
	// Compare reports whether all candidates are equivalent under the
	// stated principle.
	Compare(ctx context.Context, candidates []string, principle string) (bool, error)

	// Assess reports whether a single candidate satisfies the criteria
	// for the given task.
	Assess(ctx context.Context, candidate, task, criteria string) (bool, error)
}

// Scripted is a deterministic Judge for tests and dry runs. Nil functions
// fail the call, which makes accidental judge invocation visible.
type Scripted struct {
	CompareFn func(candidates []string, principle string) (bool, error)
	AssessFn  func(candidate, task, criteria string) (bool, error)

	CompareCalls int
	AssessCalls  int
}

func (s *Scripted) Compare(ctx context.Context, candidates []string, principle string) (bool, error) {
	s.CompareCalls++
	if s.CompareFn == nil {
		return false, fmt.Errorf("scripted judge: Compare not scripted")
	}
	return s.CompareFn(candidates, principle)
}

func (s *Scripted) Assess(ctx context.Context, candidate, task, criteria string) (bool, error) {
	s.AssessCalls++
	if s.AssessFn == nil {
		return false, fmt.Errorf("scripted judge: Assess not scripted")
	}
	return s.AssessFn(candidate, task, criteria)
}
