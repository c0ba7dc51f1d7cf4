// Package agreement implements the three agreement policies that decide
// whether independently produced candidate results are acceptable.
//
// Policies are state-free and strictly ordered by how much consistency
// they demand:
//
//	strict         all candidates equal after canonicalization
//	comparative    all candidates judged equivalent under a principle
//	noncomparative one candidate judged against quality criteria
//
// Each step down the ladder trades consistency for availability. Judge
// failures are rejections, never fatal errors; malformed policy
// configuration is fatal and surfaces at construction time.
package agreement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Mindburn-Labs/accord/pkg/judge"
)

// Level identifies one rung of the degradation ladder.
type Level string

const (
	LevelStrict         Level = "strict"
	LevelComparative    Level = "comparative"
	LevelNonComparative Level = "noncomparative"
)

// Rank orders levels by strictness. Higher is stricter; zero is unknown.
func (l Level) Rank() int {
	switch l {
	case LevelStrict:
		return 3
	case LevelComparative:
		return 2
	case LevelNonComparative:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the level names a known policy.
func (l Level) Valid() bool {
	return l.Rank() > 0
}

// Candidate is one replica's output. Immutable once produced and never
// shared across operations.
type Candidate struct {
	Replica    int       `json:"replica"`
	Value      string    `json:"value"`
	ProducedAt time.Time `json:"produced_at"`
}

// Outcome is the result of applying one policy to a candidate set.
// Canonical is meaningful only when Accepted is true.
type Outcome struct {
	Accepted  bool   `json:"accepted"`
	Level     Level  `json:"level"`
	Canonical string `json:"canonical,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Spec configures one policy attempt inside a request's ladder.
// Replicas overrides the request-wide replica count for this level;
// zero means inherit (noncomparative inherits a single replica, since
// only one candidate is consumed).
type Spec struct {
	Level     Level  `json:"level" yaml:"level"`
	Principle string `json:"principle,omitempty" yaml:"principle,omitempty"`
	Task      string `json:"task,omitempty" yaml:"task,omitempty"`
	Criteria  string `json:"criteria,omitempty" yaml:"criteria,omitempty"`
	Replicas  int    `json:"replicas,omitempty" yaml:"replicas,omitempty"`
}

// Validate enforces per-level configuration requirements. These are
// caller errors, not rejections: they must never be absorbed by fallback.
func (s Spec) Validate() error {
	if !s.Level.Valid() {
		return fmt.Errorf("agreement: unknown level %q", s.Level)
	}
	if s.Replicas < 0 {
		return fmt.Errorf("agreement: %s: negative replica override", s.Level)
	}
	switch s.Level {
	case LevelComparative:
		if s.Principle == "" {
			return fmt.Errorf("agreement: comparative requires a principle")
		}
	case LevelNonComparative:
		if s.Task == "" || s.Criteria == "" {
			return fmt.Errorf("agreement: noncomparative requires task and criteria")
		}
	}
	return nil
}

// ValidateLadder checks a policy sequence: non-empty, every spec valid,
// levels strictly decreasing in strictness.
func ValidateLadder(specs []Spec) error {
	if len(specs) == 0 {
		return fmt.Errorf("agreement: at least one policy is required")
	}
	prev := -1
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("policy %d: %w", i, err)
		}
		rank := spec.Level.Rank()
		if prev != -1 && rank >= prev {
			return fmt.Errorf("policy %d: levels must be ordered by decreasing strictness", i)
		}
		prev = rank
	}
	return nil
}

// Policy evaluates a candidate set. Implementations hold no per-operation
// state; judge-service failures fold into a rejected Outcome.
type Policy interface {
	Level() Level

	// MinSuccesses is the number of replica successes this policy needs
	// before evaluation is meaningful.
	MinSuccesses(replicas int) int

	Evaluate(ctx context.Context, candidates []Candidate) Outcome
}

// New builds the policy for a spec. Comparative and noncomparative levels
// require a judge; strict never consults one.
func New(spec Spec, j judge.Judge) (Policy, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Level {
	case LevelStrict:
		return strictPolicy{}, nil
	case LevelComparative:
		if j == nil {
			return nil, fmt.Errorf("agreement: comparative requires a judge")
		}
		return comparativePolicy{judge: j, principle: spec.Principle}, nil
	case LevelNonComparative:
		if j == nil {
			return nil, fmt.Errorf("agreement: noncomparative requires a judge")
		}
		return nonComparativePolicy{judge: j, task: spec.Task, criteria: spec.Criteria}, nil
	default:
		return nil, fmt.Errorf("agreement: unknown level %q", spec.Level)
	}
}

// byReplica returns the candidates sorted by replica index, lowest first.
// "First candidate" always means lowest surviving replica index.
func byReplica(candidates []Candidate) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Replica < sorted[j].Replica })
	return sorted
}
