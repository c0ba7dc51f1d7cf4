package observability

import (
	"sort"
	"sync"
	"time"
)

// LadderTarget is the health objective for the degradation ladder.
type LadderTarget struct {
	// MinAcceptanceRate is the fraction of operations that must settle
	// accepted (at any level) within the window, 0 to 1.
	MinAcceptanceRate float64 `json:"min_acceptance_rate"`
	// LatencyP99 is the target p99 end-to-end operation latency.
	LatencyP99 time.Duration `json:"latency_p99"`
	// Window is the evaluation window.
	Window time.Duration `json:"window"`
}

// LadderOutcome is one settled operation as the tracker sees it.
type LadderOutcome struct {
	// Level that settled the operation; empty when every level rejected.
	Level     string        `json:"level,omitempty"`
	Accepted  bool          `json:"accepted"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// LadderHealth summarizes outcomes inside the window. DegradedShare is the
// operational signal particular to this engine: how much of the accepted
// traffic is settling below strict agreement.
type LadderHealth struct {
	AcceptanceRate float64 `json:"acceptance_rate"`
	StrictShare    float64 `json:"strict_share"`
	DegradedShare  float64 `json:"degraded_share"`
	P99LatencyMs   float64 `json:"p99_latency_ms"`
	BurnRate       float64 `json:"burn_rate"`
	BudgetLeft     float64 `json:"error_budget_left"`
	InCompliance   bool    `json:"in_compliance"`
	Observations   int     `json:"observations"`
}

// LadderTracker monitors acceptance rate and degradation depth against a
// target. It holds raw outcomes in memory; the window bounds what Health
// reads, not what Record retains.
type LadderTracker struct {
	mu       sync.Mutex
	target   LadderTarget
	outcomes []LadderOutcome
	clock    func() time.Time
}

// NewLadderTracker creates a tracker for the given target.
func NewLadderTracker(target LadderTarget) *LadderTracker {
	if target.Window <= 0 {
		target.Window = time.Hour
	}
	return &LadderTracker{
		target: target,
		clock:  time.Now,
	}
}

// WithClock overrides the clock for testing.
func (t *LadderTracker) WithClock(clock func() time.Time) *LadderTracker {
	t.clock = clock
	return t
}

// Record adds one settled operation.
func (t *LadderTracker) Record(outcome LadderOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = t.clock()
	}
	t.outcomes = append(t.outcomes, outcome)
}

// Health computes current health over the window. An empty window is
// compliant: no traffic is not an incident.
func (t *LadderTracker) Health() LadderHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	windowStart := t.clock().Add(-t.target.Window)
	var windowed []LadderOutcome
	for _, o := range t.outcomes {
		if o.Timestamp.After(windowStart) {
			windowed = append(windowed, o)
		}
	}

	if len(windowed) == 0 {
		return LadderHealth{
			InCompliance: true,
			BudgetLeft:   100.0,
		}
	}

	accepted, strict := 0, 0
	latencies := make([]float64, len(windowed))
	for i, o := range windowed {
		if o.Accepted {
			accepted++
			if o.Level == "strict" {
				strict++
			}
		}
		latencies[i] = float64(o.Latency.Milliseconds())
	}

	acceptanceRate := float64(accepted) / float64(len(windowed))
	strictShare, degradedShare := 0.0, 0.0
	if accepted > 0 {
		strictShare = float64(strict) / float64(accepted)
		degradedShare = 1.0 - strictShare
	}

	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	latencyOK := t.target.LatencyP99 <= 0 || p99 <= float64(t.target.LatencyP99.Milliseconds())
	acceptanceOK := acceptanceRate >= t.target.MinAcceptanceRate

	errorBudget := 1.0 - t.target.MinAcceptanceRate
	errorRate := 1.0 - acceptanceRate
	var burnRate float64
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
	}
	budgetLeft := 100.0
	if errorBudget > 0 {
		budgetLeft = 100.0 * (1.0 - errorRate/errorBudget)
		if budgetLeft < 0 {
			budgetLeft = 0
		}
	} else if errorRate > 0 {
		budgetLeft = 0
	}

	return LadderHealth{
		AcceptanceRate: acceptanceRate,
		StrictShare:    strictShare,
		DegradedShare:  degradedShare,
		P99LatencyMs:   p99,
		BurnRate:       burnRate,
		BudgetLeft:     budgetLeft,
		InCompliance:   latencyOK && acceptanceOK,
		Observations:   len(windowed),
	}
}
