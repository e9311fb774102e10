// Package monitor watches live execution against an active plan and raises
// replanning triggers when execution deviates from the plan's assumptions.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zero-day-ai/goap/internal/planner"
	"github.com/zero-day-ai/goap/internal/types"
	"github.com/zero-day-ai/goap/internal/world"
)

// DefaultCostOverrunRatio is the multiple of the plan's estimated total
// cost beyond which execution is considered off the rails.
const DefaultCostOverrunRatio = 1.5

// TriggerType classifies why a replan was requested.
type TriggerType string

const (
	// TriggerCostOverrun means accumulated actual cost exceeded the
	// estimate by more than the configured ratio.
	TriggerCostOverrun TriggerType = "cost_overrun"

	// TriggerStalePrecondition means the next queued action's
	// preconditions no longer hold against the live state.
	TriggerStalePrecondition TriggerType = "stale_precondition"

	// TriggerStepFailure means the caller reported an action failure.
	TriggerStepFailure TriggerType = "step_failure"
)

// ReplanningTrigger is one recorded deviation between expected and live
// execution state. Append-only.
type ReplanningTrigger struct {
	ID             types.ID    `json:"id"`
	PlanID         types.ID    `json:"plan_id"`
	TriggerType    TriggerType `json:"trigger_type"`
	Reason         string      `json:"reason"`
	StateAtTrigger world.State `json:"-"`

	// CostOverrun is actual/estimated at trigger time; zero for
	// non-cost triggers.
	CostOverrun float64 `json:"cost_overrun,omitempty"`

	// NewPlanID references the replacement plan, when replanning found
	// one. The replacement is independent of the old plan.
	NewPlanID types.ID  `json:"new_plan_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TriggerDAO persists replanning triggers.
type TriggerDAO interface {
	Insert(ctx context.Context, trigger *ReplanningTrigger) error
	ListByPlan(ctx context.Context, planID string) ([]*ReplanningTrigger, error)
}

// Planner produces replacement plans. Satisfied by *planner.Engine.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) (*planner.Result, error)
}

// Progress is a snapshot of one plan's execution, supplied by the caller
// on every check.
type Progress struct {
	Plan *planner.Plan

	// LiveState is the world state observed right now.
	LiveState world.State

	// Actions is the catalog available for a replacement plan; it also
	// resolves the next queued action's preconditions.
	Actions world.Catalog

	// NextActionIndex points at the next unexecuted action in the plan.
	NextActionIndex int

	// ActualCostSoFar is the cost accumulated by executed actions.
	ActualCostSoFar float64

	// StepFailed reports an explicit action failure; FailureReason
	// carries the caller's description.
	StepFailed    bool
	FailureReason string

	// Budget bounds the replacement search, if one is needed.
	Budget planner.Budget
}

// Decision is the outcome of one check. When Replan is false the caller
// continues executing the current plan; no trigger was recorded.
type Decision struct {
	Replan      bool
	TriggerType TriggerType
	Reason      string

	// Result holds the replacement planning outcome, which may itself be
	// exhausted. Nil when Replan is false.
	Result *planner.Result
}

// Monitor checks execution progress against the active plan and replans
// through the planning engine when a trigger fires. Checking is free of
// side effects until a trigger fires.
type Monitor struct {
	planner      Planner
	triggers     TriggerDAO
	overrunRatio float64
	emitter      planner.EventEmitter
	logger       *slog.Logger
}

// Option is a functional option for configuring Monitor.
type Option func(*Monitor)

// WithCostOverrunRatio overrides the cost-overrun trigger ratio.
func WithCostOverrunRatio(ratio float64) Option {
	return func(m *Monitor) {
		m.overrunRatio = ratio
	}
}

// WithEmitter configures the replan event emitter.
func WithEmitter(em planner.EventEmitter) Option {
	return func(m *Monitor) {
		m.emitter = em
	}
}

// WithLogger configures the logger for the monitor.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// New creates a replanning monitor. triggers may be nil when trigger
// history is not being kept.
func New(p Planner, triggers TriggerDAO, opts ...Option) *Monitor {
	m := &Monitor{
		planner:      p,
		triggers:     triggers,
		overrunRatio: DefaultCostOverrunRatio,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check evaluates the progress snapshot. With unchanged live state, no
// overrun, and no reported failure it always returns Continue; repeated
// checks are idempotent no-ops.
func (m *Monitor) Check(ctx context.Context, progress Progress) (*Decision, error) {
	if progress.Plan == nil {
		return nil, types.NewError(types.PLAN_NOT_FOUND, "progress carries no plan")
	}

	triggerType, reason, overrun := m.evaluate(progress)
	if triggerType == "" {
		return &Decision{}, nil
	}

	return m.replan(ctx, progress, triggerType, reason, overrun)
}

// evaluate applies the trigger conditions in priority order: explicit
// failure, stale precondition, then cost overrun.
func (m *Monitor) evaluate(progress Progress) (TriggerType, string, float64) {
	if progress.StepFailed {
		reason := progress.FailureReason
		if reason == "" {
			reason = "caller reported step failure"
		}
		return TriggerStepFailure, reason, 0
	}

	if next, ok := m.nextAction(progress); ok && !next.Applicable(progress.LiveState) {
		return TriggerStalePrecondition,
			fmt.Sprintf("preconditions of action %q no longer hold", next.ID), 0
	}

	if progress.Plan.TotalCost > 0 {
		overrun := progress.ActualCostSoFar / progress.Plan.TotalCost
		if overrun > m.overrunRatio {
			return TriggerCostOverrun,
				fmt.Sprintf("actual cost %.2f exceeds estimate %.2f beyond %.2fx",
					progress.ActualCostSoFar, progress.Plan.TotalCost, m.overrunRatio),
				overrun
		}
	}

	return "", "", 0
}

func (m *Monitor) nextAction(progress Progress) (world.Action, bool) {
	idx := progress.NextActionIndex
	if idx < 0 || idx >= len(progress.Plan.Actions) {
		return world.Action{}, false
	}
	return progress.Actions.ByID(progress.Plan.Actions[idx])
}

// replan records the trigger and requests a fresh plan from the live
// state. The replacement plan does not inherit the old plan's ID.
func (m *Monitor) replan(ctx context.Context, progress Progress, triggerType TriggerType, reason string, overrun float64) (*Decision, error) {
	result, err := m.planner.Plan(ctx, planner.Request{
		Goal:    progress.Plan.GoalState,
		State:   progress.LiveState,
		Actions: progress.Actions,
		Budget:  progress.Budget,
		AgentID: progress.Plan.AgentID,
	})
	if err != nil {
		return nil, err
	}

	trigger := &ReplanningTrigger{
		ID:             types.NewID(),
		PlanID:         progress.Plan.ID,
		TriggerType:    triggerType,
		Reason:         reason,
		StateAtTrigger: progress.LiveState,
		CostOverrun:    overrun,
		Timestamp:      time.Now().UTC(),
	}
	if result.Plan != nil {
		trigger.NewPlanID = result.Plan.ID
	}

	if m.triggers != nil {
		if err := m.triggers.Insert(ctx, trigger); err != nil {
			return nil, types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "failed to record replanning trigger", err)
		}
	}

	if m.emitter != nil {
		payload := map[string]any{
			"trigger_type": string(triggerType),
			"reason":       reason,
		}
		if result.Plan != nil {
			payload["new_plan_id"] = result.Plan.ID.String()
		}
		event := planner.Event{
			Type:    planner.EventReplanTriggered,
			PlanID:  progress.Plan.ID,
			Payload: payload,
		}
		if err := m.emitter.Emit(ctx, event); err != nil {
			m.logger.Debug("event emit failed", "type", event.Type, "error", err)
		}
	}

	m.logger.Info("replanning triggered",
		"plan_id", progress.Plan.ID,
		"trigger_type", triggerType,
		"reason", reason,
		"replacement_found", result.Plan != nil)

	return &Decision{
		Replan:      true,
		TriggerType: triggerType,
		Reason:      reason,
		Result:      result,
	}, nil
}
