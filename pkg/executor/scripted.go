package executor

import (
	"context"
	"sync"
	"time"
)

// ScriptedCall is one pre-arranged production outcome.
type ScriptedCall struct {
	Value string
	Err   error
	// Delay holds the attempt before it resolves, for timeout tests.
	Delay time.Duration
}

// ScriptedUnit is an in-process work unit with pre-arranged outcomes,
// used in development mode and tests. Outcomes are keyed by the replica
// index found in the context; unmatched replicas fall back to Default.
type ScriptedUnit struct {
	ByReplica map[int]ScriptedCall
	Default   ScriptedCall

	mu    sync.Mutex
	calls int
}

func (s *ScriptedUnit) Produce(ctx context.Context, params string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	call := s.Default
	if r, ok := ReplicaFromContext(ctx); ok {
		if c, ok := s.ByReplica[r]; ok {
			call = c
		}
	}

	if call.Delay > 0 {
		select {
		case <-time.After(call.Delay):
		case <-ctx.Done():
			return "", Classify(ctx.Err())
		}
	}
	if call.Err != nil {
		return "", call.Err
	}
	return call.Value, nil
}

// Calls reports how many Produce invocations the unit has served.
func (s *ScriptedUnit) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
