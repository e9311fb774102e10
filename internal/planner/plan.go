// Package planner orchestrates planning: a pattern-reuse fast path over the
// pattern store, an A* fallback driven by the heuristic engine, and the
// outcome/verification recording surface callers use to close the learning
// loop.
package planner

import (
	"context"
	"time"

	"github.com/zero-day-ai/goap/internal/learning"
	"github.com/zero-day-ai/goap/internal/types"
	"github.com/zero-day-ai/goap/internal/world"
)

// PlanningMethod says how a plan was produced.
type PlanningMethod string

const (
	// MethodPatternReuse means a stored pattern replayed cleanly against
	// the live state on its exact fingerprint.
	MethodPatternReuse PlanningMethod = "pattern_reuse"

	// MethodAStar means the plan came from a full graph search.
	MethodAStar PlanningMethod = "astar"

	// MethodHybrid means a similarity-scan pattern match replayed against
	// a state it was not literally recorded from.
	MethodHybrid PlanningMethod = "hybrid"
)

// String returns the string representation of the planning method.
func (m PlanningMethod) String() string {
	return string(m)
}

// Plan is an immutable, ordered action sequence that achieves a goal from
// a starting state. A plan is referenced by at most one execution outcome;
// a plan may also never execute.
type Plan struct {
	ID types.ID `json:"id"`

	// Actions is the ordered list of action IDs to execute.
	Actions []string `json:"actions"`

	TotalCost float64 `json:"total_cost"`

	// EstimatedTime is a coarse projection derived from action complexity;
	// callers may ignore it.
	EstimatedTime time.Duration `json:"estimated_time"`

	CurrentState world.State `json:"-"`
	GoalState    world.State `json:"-"`

	Method PlanningMethod `json:"planning_method"`

	// SourcePatternID references the pattern this plan replayed, if any.
	SourcePatternID types.ID `json:"pattern_id,omitempty"`

	// AgentID attributes the plan to the requesting agent, if supplied.
	AgentID string `json:"agent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Visited carries the (state, goal) pairs expanded while finding this
	// plan, for heuristic learning once the outcome is known. Empty for
	// pattern-reuse plans.
	Visited []learning.VisitedSample `json:"-"`
}

// PlanDAO persists plans.
type PlanDAO interface {
	Insert(ctx context.Context, plan *Plan) error
	GetByID(ctx context.Context, id string) (*Plan, error)
}

// Request is one planning call.
type Request struct {
	// Goal is the partial state to achieve. Must list at least one fact.
	Goal world.State

	// State is the full current world state.
	State world.State

	// Actions is the catalog available to this request.
	Actions world.Catalog

	// Weights are optional per-fact heuristic priors.
	Weights map[string]float64

	// Budget bounds the fallback search.
	Budget Budget

	// AgentID optionally attributes the request to an agent. Plans for
	// quarantined agents still plan normally but do not promote patterns.
	AgentID string
}

// Result is the outcome of a planning call. Exactly one of Plan or
// Exhausted is meaningful: exhaustion is an expected outcome ("no plan
// exists under the current action catalog"), not an error.
type Result struct {
	Plan      *Plan
	Exhausted bool
	Reason    ExhaustedReason
}
