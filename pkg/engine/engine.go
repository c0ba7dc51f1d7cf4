// Package engine orchestrates operations through a ladder of agreement
// policies, strictest first. Each policy gets a fresh replica run; the first
// acceptance ends the ladder and is recorded. When every policy rejects, the
// operation is recorded as exhausted with the full rejection history. An
// operation id whose result is already on the ledger is never re-executed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Mindburn-Labs/accord/pkg/agreement"
	"github.com/Mindburn-Labs/accord/pkg/executor"
	"github.com/Mindburn-Labs/accord/pkg/judge"
	"github.com/Mindburn-Labs/accord/pkg/ledger"
	"github.com/Mindburn-Labs/accord/pkg/observability"
)

// ErrInvalidRequest marks configuration errors: malformed requests and
// malformed policies. These surface before any replica work and are never
// folded into rejections.
var ErrInvalidRequest = errors.New("invalid request")

// Request describes one operation submission.
type Request struct {
	OperationID string           `json:"operation_id"`
	Params      string           `json:"params"`
	Replicas    int              `json:"replicas"`
	Policies    []agreement.Spec `json:"policies"`
}

// Validate checks the request shape. Violations here are configuration
// errors: they fail the submission before any replica work runs.
func (r *Request) Validate() error {
	if r.OperationID == "" {
		return errors.New("operation id is required")
	}
	if r.Replicas < 1 {
		return errors.New("replicas must be at least 1")
	}
	return agreement.ValidateLadder(r.Policies)
}

// ExhaustedError reports that every policy in the ladder rejected.
// History holds exactly one rejection per attempted policy, in attempt order.
type ExhaustedError struct {
	OperationID string
	History     []ledger.Rejection
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation %s: all %d policies exhausted", e.OperationID, len(e.History))
}

// Admitter screens submissions before any replica work runs.
type Admitter interface {
	Admit(ctx context.Context, params string, replicas int, levels []string) error
}

// Config assembles an Engine.
type Config struct {
	Unit   executor.WorkUnit
	Judge  judge.Judge
	Ledger ledger.Ledger
	// Guard, when set, screens every submission up front.
	Guard Admitter
	// Observability, when set, traces and meters submissions.
	Observability *observability.Provider
	// ReplicaTimeout bounds each production attempt.
	ReplicaTimeout time.Duration
	// JudgeTimeout bounds each policy evaluation that consults the judge.
	JudgeTimeout time.Duration
	Logger       *slog.Logger
}

// Engine runs the agreement ladder.
type Engine struct {
	runner         *executor.Runner
	judge          judge.Judge
	ledger         ledger.Ledger
	guard          Admitter
	obs            *observability.Provider
	replicaTimeout time.Duration
	judgeTimeout   time.Duration
	logger         *slog.Logger
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Unit == nil {
		return nil, errors.New("engine: work unit is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("engine: ledger is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "engine")
	}
	return &Engine{
		runner:         executor.NewRunner(cfg.Unit),
		judge:          cfg.Judge,
		ledger:         cfg.Ledger,
		guard:          cfg.Guard,
		obs:            cfg.Observability,
		replicaTimeout: cfg.ReplicaTimeout,
		judgeTimeout:   cfg.JudgeTimeout,
		logger:         logger,
	}, nil
}

// Submit runs req through its policy ladder and returns the recorded entry.
//
// The error is exactly one of: nil (accepted entry returned),
// *ExhaustedError (terminal entry recorded, history attached),
// ledger.ErrConflict (the id already completed; nothing re-executed), a
// configuration error (nothing recorded), an admission denial from the
// guard (nothing recorded), or ctx's error on cancellation (nothing
// recorded, the id stays reusable).
func (e *Engine) Submit(ctx context.Context, req Request) (*ledger.Entry, error) {
	// 1. Validate the request and construct every policy up front.
	// Malformed policies are configuration errors and must surface before
	// any replica work, never as rejections.
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w: %v", ErrInvalidRequest, err)
	}
	policies := make([]agreement.Policy, len(req.Policies))
	for i, spec := range req.Policies {
		pol, err := agreement.New(spec, e.judge)
		if err != nil {
			return nil, fmt.Errorf("engine: %w: policy %d: %v", ErrInvalidRequest, i, err)
		}
		policies[i] = pol
		if spec.Level == agreement.LevelStrict && e.effectiveReplicas(spec, req) == 1 {
			// A strict policy over a single replica accepts whatever that
			// replica produced.
			e.logger.Warn("strict agreement over one replica accepts trivially",
				"operation_id", req.OperationID)
		}
	}

	// 2. Completed ids are conflicts. Checked before any work so a
	// resubmission never re-executes.
	if _, err := e.ledger.Lookup(ctx, req.OperationID); err == nil {
		return nil, ledger.ErrConflict
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("engine: ledger lookup: %w", err)
	}

	// 3. Admission screening, before any replica spends work.
	if e.guard != nil {
		levels := make([]string, len(req.Policies))
		for i, spec := range req.Policies {
			levels[i] = string(spec.Level)
		}
		if err := e.guard.Admit(ctx, req.Params, req.Replicas, levels); err != nil {
			return nil, err
		}
	}

	var finish func(error)
	if e.obs != nil {
		ctx, finish = e.obs.TrackOperation(ctx, "engine.submit",
			observability.OperationAttrs(req.OperationID, req.Replicas, len(req.Policies))...)
	}
	entry, err := e.runLadder(ctx, req, policies)
	if err == nil && e.obs != nil {
		observability.AddSpanEvent(ctx, "operation.settled",
			observability.DecisionAttrs(string(entry.Level), true)...)
	}
	if finish != nil {
		finish(err)
	}
	return entry, err
}

// Lookup returns the recorded result for an operation id.
func (e *Engine) Lookup(ctx context.Context, operationID string) (*ledger.Entry, error) {
	return e.ledger.Lookup(ctx, operationID)
}

func (e *Engine) runLadder(ctx context.Context, req Request, policies []agreement.Policy) (*ledger.Entry, error) {
	var history []ledger.Rejection
	totalReplicas := 0

	for i, pol := range policies {
		spec := req.Policies[i]
		replicas := e.effectiveReplicas(spec, req)
		plan := executor.RunPlan{
			Replicas:     replicas,
			MinSuccesses: pol.MinSuccesses(replicas),
			Timeout:      e.replicaTimeout,
		}

		candidates, failures, err := e.runner.Run(ctx, plan, req.Params)
		if err != nil {
			// Cancellation abandons the operation: no entry, id reusable.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var rf *executor.RunFailureError
			if !errors.As(err, &rf) {
				return nil, fmt.Errorf("engine: run: %w", err)
			}
			totalReplicas += replicas
			detail := runFailureDetail(rf)
			history = append(history, ledger.Rejection{Level: spec.Level, Detail: detail})
			e.logger.Info("policy attempt failed at replica run",
				"operation_id", req.OperationID, "level", string(spec.Level), "detail", detail)
			continue
		}
		totalReplicas += replicas
		if len(failures) > 0 {
			e.logger.Warn("replica failures tolerated",
				"operation_id", req.OperationID, "level", string(spec.Level),
				"failed", len(failures), "succeeded", len(candidates))
		}

		outcome := e.evaluate(ctx, pol, candidates)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if outcome.Accepted {
			entry := &ledger.Entry{
				OperationID: req.OperationID,
				Accepted:    true,
				Value:       outcome.Canonical,
				Level:       outcome.Level,
				ReplicasRun: totalReplicas,
				Rejections:  history,
			}
			if err := e.ledger.Record(ctx, entry); err != nil {
				// A concurrent submission of the same id won the race.
				return nil, err
			}
			e.logger.Info("operation accepted",
				"operation_id", req.OperationID, "level", string(outcome.Level),
				"replicas_run", totalReplicas, "attempts", i+1)
			return entry, nil
		}

		history = append(history, ledger.Rejection{Level: outcome.Level, Detail: outcome.Detail})
		e.logger.Info("policy rejected, degrading",
			"operation_id", req.OperationID, "level", string(outcome.Level), "detail", outcome.Detail)
	}

	// 4. Exhausted: every policy rejected. Record the terminal entry.
	entry := &ledger.Entry{
		OperationID: req.OperationID,
		Accepted:    false,
		ReplicasRun: totalReplicas,
		Rejections:  history,
	}
	if err := e.ledger.Record(ctx, entry); err != nil {
		return nil, err
	}
	e.logger.Warn("all policies exhausted",
		"operation_id", req.OperationID, "attempts", len(history), "replicas_run", totalReplicas)
	return nil, &ExhaustedError{OperationID: req.OperationID, History: history}
}

// evaluate applies the judge-call timeout around a policy evaluation.
func (e *Engine) evaluate(ctx context.Context, pol agreement.Policy, candidates []agreement.Candidate) agreement.Outcome {
	if e.judgeTimeout > 0 && pol.Level() != agreement.LevelStrict {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.judgeTimeout)
		defer cancel()
	}
	return pol.Evaluate(ctx, candidates)
}

// effectiveReplicas resolves how many replicas a policy attempt runs.
// A per-policy override wins; otherwise noncomparative needs only one
// replica and everything else uses the request count.
func (e *Engine) effectiveReplicas(spec agreement.Spec, req Request) int {
	if spec.Replicas > 0 {
		return spec.Replicas
	}
	if spec.Level == agreement.LevelNonComparative {
		return 1
	}
	return req.Replicas
}

func runFailureDetail(rf *executor.RunFailureError) string {
	if len(rf.Failures) == 0 {
		return rf.Error()
	}
	parts := make([]string, len(rf.Failures))
	for i, f := range rf.Failures {
		parts[i] = fmt.Sprintf("replica %d %s: %s", f.Replica, f.Kind, f.Detail)
	}
	return rf.Error() + " (" + strings.Join(parts, "; ") + ")"
}
