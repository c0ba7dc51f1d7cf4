package agreement

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/accord/pkg/normalize"
)

// strictPolicy accepts only unanimous agreement: every candidate must be
// byte-equal after canonicalization. It never consults the judge.
type strictPolicy struct{}

func (strictPolicy) Level() Level { return LevelStrict }

func (strictPolicy) MinSuccesses(replicas int) int { return replicas }

func (strictPolicy) Evaluate(ctx context.Context, candidates []Candidate) Outcome {
	if len(candidates) == 0 {
		return Outcome{Level: LevelStrict, Detail: "no candidates to evaluate"}
	}

	// 1. Canonicalize every candidate value
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		seen[normalize.Canonical(c.Value)] = struct{}{}
	}

	// 2. Unanimity check
	if len(seen) == 1 {
		var canonical string
		for v := range seen {
			canonical = v
		}
		return Outcome{
			Accepted:  true,
			Level:     LevelStrict,
			Canonical: canonical,
			Detail:    fmt.Sprintf("%d candidates identical after canonicalization", len(candidates)),
		}
	}

	// 3. Rejection lists the distinct values, sorted for determinism
	distinct := make([]string, 0, len(seen))
	for v := range seen {
		distinct = append(distinct, v)
	}
	sort.Strings(distinct)

	return Outcome{
		Level:  LevelStrict,
		Detail: fmt.Sprintf("%d distinct values: %s", len(distinct), strings.Join(distinct, " | ")),
	}
}
