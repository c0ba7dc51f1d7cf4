package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Mindburn-Labs/accord/pkg/agreement"
)

// Runner fans a work unit out across replicas and collects the candidates.
type Runner struct {
	unit  WorkUnit
	clock func() time.Time
}

// NewRunner creates a runner over the given work unit.
func NewRunner(unit WorkUnit) *Runner {
	return &Runner{unit: unit, clock: time.Now}
}

// WithClock fixes the candidate timestamp source, for testing.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// RunPlan describes one replica fan-out.
type RunPlan struct {
	// Replicas is how many production attempts to launch.
	Replicas int
	// MinSuccesses is the smallest candidate count the run may return.
	// Zero defaults to Replicas.
	MinSuccesses int
	// Timeout bounds each attempt individually. Zero leaves attempts
	// bounded only by ctx.
	Timeout time.Duration
}

// ReplicaFailure records one excluded attempt for diagnostics.
type ReplicaFailure struct {
	Replica int         `json:"replica"`
	Kind    FailureKind `json:"kind"`
	Detail  string      `json:"detail"`
}

// RunFailureError reports that fewer replicas succeeded than the plan requires.
type RunFailureError struct {
	Succeeded int
	Required  int
	Attempted int
	Failures  []ReplicaFailure
}

func (e *RunFailureError) Error() string {
	return fmt.Sprintf("run failed: %d of %d replicas succeeded, %d required", e.Succeeded, e.Attempted, e.Required)
}

// Run launches plan.Replicas attempts concurrently and returns the surviving
// candidates ordered by replica index.
//
// Partial failures are tolerated while MinSuccesses is still met; failed
// attempts are excluded from the candidates and reported in the second
// return. Below MinSuccesses the whole run fails with *RunFailureError.
// Cancelling ctx abandons in-flight attempts without waiting for them.
func (r *Runner) Run(ctx context.Context, plan RunPlan, params string) ([]agreement.Candidate, []ReplicaFailure, error) {
	if plan.Replicas < 1 {
		return nil, nil, errors.New("run plan needs at least one replica")
	}
	required := plan.MinSuccesses
	if required == 0 {
		required = plan.Replicas
	}
	if required > plan.Replicas {
		return nil, nil, fmt.Errorf("run plan requires %d successes from %d replicas", required, plan.Replicas)
	}

	type attempt struct {
		replica int
		value   string
		err     error
		at      time.Time
	}

	// Buffered to plan.Replicas so abandoned goroutines can always send.
	results := make(chan attempt, plan.Replicas)
	for i := 0; i < plan.Replicas; i++ {
		go func(replica int) {
			actx := WithReplica(ctx, replica)
			if plan.Timeout > 0 {
				var cancel context.CancelFunc
				actx, cancel = context.WithTimeout(actx, plan.Timeout)
				defer cancel()
			}
			value, err := r.unit.Produce(actx, params)
			results <- attempt{replica: replica, value: value, err: err, at: r.clock()}
		}(i)
	}

	candidates := make([]agreement.Candidate, 0, plan.Replicas)
	var failures []ReplicaFailure
	for done := 0; done < plan.Replicas; done++ {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case a := <-results:
			if a.err != nil {
				wf := Classify(a.err)
				detail := string(wf.Kind)
				if wf.Err != nil {
					detail = wf.Err.Error()
				}
				failures = append(failures, ReplicaFailure{Replica: a.replica, Kind: wf.Kind, Detail: detail})
				continue
			}
			candidates = append(candidates, agreement.Candidate{Replica: a.replica, Value: a.value, ProducedAt: a.at})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Replica < candidates[j].Replica })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Replica < failures[j].Replica })

	if len(candidates) < required {
		return nil, failures, &RunFailureError{
			Succeeded: len(candidates),
			Required:  required,
			Attempted: plan.Replicas,
			Failures:  failures,
		}
	}
	return candidates, failures, nil
}
