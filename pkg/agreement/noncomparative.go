package agreement

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/accord/pkg/judge"
)

// nonComparativePolicy is the most permissive rung: only the first
// candidate (lowest replica index) is assessed against the quality
// criteria. Replica disagreement is irrelevant because replicas beyond
// the first are not even required to run.
type nonComparativePolicy struct {
	judge    judge.Judge
	task     string
	criteria string
}

func (nonComparativePolicy) Level() Level { return LevelNonComparative }

func (nonComparativePolicy) MinSuccesses(replicas int) int { return 1 }

func (p nonComparativePolicy) Evaluate(ctx context.Context, candidates []Candidate) Outcome {
	if len(candidates) == 0 {
		return Outcome{Level: LevelNonComparative, Detail: "no candidates to evaluate"}
	}

	first := byReplica(candidates)[0]

	approved, err := p.judge.Assess(ctx, first.Value, p.task, p.criteria)
	if err != nil {
		return Outcome{
			Level:  LevelNonComparative,
			Detail: fmt.Sprintf("judge failure: %v", err),
		}
	}
	if !approved {
		return Outcome{
			Level:  LevelNonComparative,
			Detail: fmt.Sprintf("judge rejected candidate from replica %d against criteria", first.Replica),
		}
	}

	return Outcome{
		Accepted:  true,
		Level:     LevelNonComparative,
		Canonical: first.Value,
		Detail:    fmt.Sprintf("judge approved candidate from replica %d", first.Replica),
	}
}
