package agreement

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/accord/pkg/judge"
)

// comparativePolicy accepts when the external judge finds all candidates
// equivalent under the configured principle. The judge is itself
// non-deterministic; a judge error is a rejection of this level, and the
// judge is never retried here.
type comparativePolicy struct {
	judge     judge.Judge
	principle string
}

func (comparativePolicy) Level() Level { return LevelComparative }

func (comparativePolicy) MinSuccesses(replicas int) int { return replicas }

func (p comparativePolicy) Evaluate(ctx context.Context, candidates []Candidate) Outcome {
	if len(candidates) == 0 {
		return Outcome{Level: LevelComparative, Detail: "no candidates to evaluate"}
	}

	ordered := byReplica(candidates)
	values := make([]string, len(ordered))
	for i, c := range ordered {
		values[i] = c.Value
	}

	equivalent, err := p.judge.Compare(ctx, values, p.principle)
	if err != nil {
		return Outcome{
			Level:  LevelComparative,
			Detail: fmt.Sprintf("judge failure: %v", err),
		}
	}
	if !equivalent {
		return Outcome{
			Level:  LevelComparative,
			Detail: fmt.Sprintf("judge found %d candidates non-equivalent under principle %q", len(values), p.principle),
		}
	}

	// Accepted: canonical value is the first candidate by replica index,
	// raw as produced.
	return Outcome{
		Accepted:  true,
		Level:     LevelComparative,
		Canonical: ordered[0].Value,
		Detail:    fmt.Sprintf("%d candidates equivalent under principle %q", len(values), p.principle),
	}
}
