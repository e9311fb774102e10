package learning

import (
	"context"
	"log/slog"
	"time"

	"github.com/zero-day-ai/goap/internal/pattern"
	"github.com/zero-day-ai/goap/internal/types"
)

// ExecutionOutcome is the caller-reported result of executing a plan.
// Outcomes are append-only and never mutated after insert; the core does
// not deduplicate, so at-least-once callers must dedupe by outcome.
type ExecutionOutcome struct {
	PlanID          types.ID  `json:"plan_id"`
	Success         bool      `json:"success"`
	ActualCost      float64   `json:"actual_cost"`
	EstimatedCost   float64   `json:"estimated_cost"`
	AchievedGoal    bool      `json:"achieved_goal"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Errors          []string  `json:"errors,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// VisitedSample identifies one (state, goal) pair expanded during the
// search that produced a plan, with the costs known at that node. The
// outcome learner turns these into heuristic samples once the plan's true
// cost is known.
type VisitedSample struct {
	StateHash          string  `json:"state_hash"`
	GoalHash           string  `json:"goal_hash"`
	EstimatedRemaining float64 `json:"estimated_remaining"`
	CostSoFar          float64 `json:"cost_so_far"`
}

// ExecutionRecord bundles everything the outcome learner needs about one
// executed plan: where the plan came from and what happened to it.
type ExecutionRecord struct {
	PlanID          types.ID
	SourcePatternID types.ID
	Visited         []VisitedSample
	Outcome         ExecutionOutcome
}

// OutcomeDAO persists execution outcomes (append-only).
type OutcomeDAO interface {
	Insert(ctx context.Context, outcome *ExecutionOutcome) error
}

// HeuristicRecorder feeds observed costs back into the heuristic engine.
// heuristic.Engine satisfies this.
type HeuristicRecorder interface {
	RecordError(ctx context.Context, stateHash, goalHash string, estimated, actual float64) error
}

// OutcomeLearner consumes execution results for a plan. It appends the
// outcome to the audit history, folds the result into the source pattern's
// statistics (when the plan came from a pattern), and updates the
// heuristic error model for every pair the search visited.
type OutcomeLearner struct {
	outcomes  OutcomeDAO
	patterns  *pattern.Store
	heuristic HeuristicRecorder
	tracker   Tracker
	logger    *slog.Logger
}

// OutcomeLearnerOption is a functional option for configuring OutcomeLearner.
type OutcomeLearnerOption func(*OutcomeLearner)

// WithOutcomeTracker overrides the confidence tracker.
func WithOutcomeTracker(t Tracker) OutcomeLearnerOption {
	return func(l *OutcomeLearner) {
		l.tracker = t
	}
}

// WithOutcomeLogger configures the logger for the learner.
func WithOutcomeLogger(log *slog.Logger) OutcomeLearnerOption {
	return func(l *OutcomeLearner) {
		l.logger = log
	}
}

// NewOutcomeLearner creates an outcome learner. heuristic may be nil when
// heuristic learning is disabled.
func NewOutcomeLearner(outcomes OutcomeDAO, patterns *pattern.Store, heuristic HeuristicRecorder, opts ...OutcomeLearnerOption) *OutcomeLearner {
	l := &OutcomeLearner{
		outcomes:  outcomes,
		patterns:  patterns,
		heuristic: heuristic,
		tracker:   NewTracker(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record applies one execution outcome. The outcome row is inserted first;
// pattern and heuristic updates follow as independent per-row transactions
// so concurrent recordings for different patterns never contend.
func (l *OutcomeLearner) Record(ctx context.Context, rec ExecutionRecord) error {
	outcome := rec.Outcome
	outcome.PlanID = rec.PlanID
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now().UTC()
	}

	if err := l.outcomes.Insert(ctx, &outcome); err != nil {
		return types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "failed to append execution outcome", err)
	}

	if !rec.SourcePatternID.IsZero() {
		if err := l.updatePattern(ctx, rec.SourcePatternID, outcome); err != nil {
			return err
		}
	}

	if l.heuristic != nil {
		for _, v := range rec.Visited {
			remaining := outcome.ActualCost - v.CostSoFar
			if remaining < 0 {
				remaining = 0
			}
			if err := l.heuristic.RecordError(ctx, v.StateHash, v.GoalHash, v.EstimatedRemaining, remaining); err != nil {
				return types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "failed to update heuristic sample", err)
			}
		}
	}

	return nil
}

// updatePattern folds the outcome into the source pattern's statistics as
// one atomic read-modify-write on that pattern's row.
func (l *OutcomeLearner) updatePattern(ctx context.Context, patternID types.ID, outcome ExecutionOutcome) error {
	err := l.patterns.Mutate(ctx, patternID.String(), func(p *pattern.Pattern) error {
		stats := Stats{
			Successes: p.SuccessCount,
			Failures:  p.FailureCount,
			Count:     p.UsageCount,
			Mean:      p.AverageCost,
		}
		// Rebuild M2 from the stored variance so Welford can continue.
		stats.M2 = p.CostVariance * float64(p.UsageCount)

		stats.Observe(outcome.Success, outcome.ActualCost)

		p.SuccessCount = stats.Successes
		p.FailureCount = stats.Failures
		p.UsageCount = stats.Total()
		p.AverageCost = stats.Mean
		p.CostVariance = stats.Variance()
		p.Confidence = l.tracker.Confidence(&stats)
		p.LastUsed = outcome.Timestamp
		return nil
	})
	if err != nil {
		return types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "failed to update pattern stats", err)
	}

	l.logger.Debug("pattern stats updated",
		"pattern_id", patternID,
		"success", outcome.Success,
		"actual_cost", outcome.ActualCost)
	return nil
}
