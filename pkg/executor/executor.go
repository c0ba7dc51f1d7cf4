// Package executor produces candidate values by running a work unit across
// replicas. A work unit is an opaque producer: given parameters it returns a
// value or a classified failure, and it never retries internally. Retry and
// fallback decisions belong to the layers above.
package executor

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why a single production attempt failed.
type FailureKind string

const (
	// FailureTimeout means the attempt exceeded its deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureBackend means the producing backend reported an error.
	FailureBackend FailureKind = "backend"
	// FailureMalformed means the backend answered but the payload was unusable.
	FailureMalformed FailureKind = "malformed"
)

// WorkFailure is the typed error a work unit returns when production fails.
type WorkFailure struct {
	Kind FailureKind
	Err  error
}

func (f *WorkFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("work failure (%s): %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("work failure (%s)", f.Kind)
}

func (f *WorkFailure) Unwrap() error { return f.Err }

// Classify folds an arbitrary production error into a WorkFailure.
// Deadline and cancellation errors map to timeouts; everything else is a
// backend failure unless the work unit already classified it.
func Classify(err error) *WorkFailure {
	var wf *WorkFailure
	if errors.As(err, &wf) {
		return wf
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &WorkFailure{Kind: FailureTimeout, Err: err}
	}
	return &WorkFailure{Kind: FailureBackend, Err: err}
}

// WorkUnit produces one candidate value for the given parameters.
//
// Implementations must honor ctx cancellation, return a *WorkFailure (or an
// error Classify can fold) on failure, and never retry internally.
type WorkUnit interface {
	Produce(ctx context.Context, params string) (string, error)
}

type replicaKey struct{}

// WithReplica tags ctx with the replica index of the attempt about to run.
// The runner sets this before every Produce call so work units that care
// which replica they are (stubs, sharded backends) can find out.
func WithReplica(ctx context.Context, replica int) context.Context {
	return context.WithValue(ctx, replicaKey{}, replica)
}

// ReplicaFromContext returns the replica index set by WithReplica.
func ReplicaFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(replicaKey{}).(int)
	return v, ok
}
