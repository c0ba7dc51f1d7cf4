package agreement

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/accord/pkg/judge"
)

func TestComparative_AcceptsFirstCandidateAsCanonical(t *testing.T) {
	j := &judge.Scripted{
		CompareFn: func(values []string, principle string) (bool, error) {
			assert.Equal(t, "same directional meaning", principle)
			assert.Len(t, values, 3)
			return true, nil
		},
	}
	p, err := New(Spec{Level: LevelComparative, Principle: "same directional meaning"}, j)
	require.NoError(t, err)

	// Replica order deliberately shuffled: canonical must follow the
	// lowest replica index, not slice position.
	cands := []Candidate{
		{Replica: 2, Value: "it went up"},
		{Replica: 0, Value: "yes, the price is up"},
		{Replica: 1, Value: "price increased"},
	}

	out := p.Evaluate(context.Background(), cands)
	require.True(t, out.Accepted)
	assert.Equal(t, "yes, the price is up", out.Canonical)
	assert.Equal(t, LevelComparative, out.Level)
}

func TestComparative_JudgeDisagreementRejects(t *testing.T) {
	j := &judge.Scripted{
		CompareFn: func([]string, string) (bool, error) { return false, nil },
	}
	p, _ := New(Spec{Level: LevelComparative, Principle: "p"}, j)

	out := p.Evaluate(context.Background(), candidates("a", "b"))
	assert.False(t, out.Accepted)
	assert.Contains(t, out.Detail, "non-equivalent")
}

func TestComparative_JudgeErrorIsRejectionNotFatal(t *testing.T) {
	j := &judge.Scripted{
		CompareFn: func([]string, string) (bool, error) {
			return false, fmt.Errorf("judge backend timeout")
		},
	}
	p, _ := New(Spec{Level: LevelComparative, Principle: "p"}, j)

	out := p.Evaluate(context.Background(), candidates("a", "b"))
	assert.False(t, out.Accepted)
	assert.Contains(t, out.Detail, "judge failure")
}

func TestComparative_RequiresJudge(t *testing.T) {
	_, err := New(Spec{Level: LevelComparative, Principle: "p"}, nil)
	assert.Error(t, err)
}

func TestNonComparative_AssessesOnlyFirstCandidate(t *testing.T) {
	var assessed string
	j := &judge.Scripted{
		AssessFn: func(candidate, task, criteria string) (bool, error) {
			assessed = candidate
			return true, nil
		},
	}
	p, err := New(Spec{Level: LevelNonComparative, Task: "state the trend", Criteria: "directional"}, j)
	require.NoError(t, err)

	cands := []Candidate{
		{Replica: 3, Value: "later replica"},
		{Replica: 1, Value: "first surviving replica"},
	}
	out := p.Evaluate(context.Background(), cands)

	require.True(t, out.Accepted)
	assert.Equal(t, "first surviving replica", assessed)
	assert.Equal(t, "first surviving replica", out.Canonical)
	assert.Equal(t, 1, j.AssessCalls, "exactly one assessment per evaluation")
}

func TestNonComparative_JudgeRejectionRejects(t *testing.T) {
	j := &judge.Scripted{
		AssessFn: func(string, string, string) (bool, error) { return false, nil },
	}
	p, _ := New(Spec{Level: LevelNonComparative, Task: "t", Criteria: "c"}, j)

	out := p.Evaluate(context.Background(), candidates("weak answer"))
	assert.False(t, out.Accepted)
}

func TestNonComparative_MinSuccessesIsOne(t *testing.T) {
	j := &judge.Scripted{}
	p, _ := New(Spec{Level: LevelNonComparative, Task: "t", Criteria: "c"}, j)
	assert.Equal(t, 1, p.MinSuccesses(5))

	strict, _ := New(Spec{Level: LevelStrict}, nil)
	assert.Equal(t, 5, strict.MinSuccesses(5))
}
