package planner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zero-day-ai/goap/internal/heuristic"
	"github.com/zero-day-ai/goap/internal/learning"
	"github.com/zero-day-ai/goap/internal/pattern"
	"github.com/zero-day-ai/goap/internal/types"
	"github.com/zero-day-ai/goap/internal/world"
)

// complexityTimeUnit converts summed action complexity into the coarse
// EstimatedTime projection on a plan.
const complexityTimeUnit = time.Second

// recentPlanLimit bounds the in-memory registry of recently issued plans.
// The registry carries the search-visited samples between Plan and
// RecordExecution; plans evicted from it (or issued by another process)
// still resolve through the plan DAO, minus heuristic learning.
const recentPlanLimit = 1024

// Engine orchestrates planning and the learning feedback surface.
//
// A planning call tries pattern reuse first: a stored pattern whose
// similarity x confidence clears the match threshold is replayed against
// the live state, validating every action's preconditions in sequence.
// Replay failure is not an error; control falls through to A* search.
// Every successful search result is immediately persisted as a candidate
// pattern, unless the requesting agent is quarantined.
//
// The engine holds no locks across a search: pattern reads are
// point-in-time snapshots, and all mutations happen in per-row
// transactions inside the DAOs.
type Engine struct {
	patterns  *pattern.Store
	heuristic *heuristic.Engine
	outcomes  *learning.OutcomeLearner
	verifier  *learning.VerificationLearner
	plans     PlanDAO
	emitter   EventEmitter
	logger    *slog.Logger
	tracer    trace.Tracer

	mu     sync.Mutex
	recent map[types.ID]*Plan
	order  []types.ID
}

// EngineOption is a functional option for configuring Engine.
type EngineOption func(*Engine)

// WithLogger configures the logger for the engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTracer configures the tracer for the engine.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithEmitter configures the planning event emitter.
func WithEmitter(em EventEmitter) EngineOption {
	return func(e *Engine) {
		e.emitter = em
	}
}

// NewEngine creates a planning engine. verifier may be nil when the
// verification loop is not in use; quarantine checks then pass trivially.
func NewEngine(
	patterns *pattern.Store,
	heur *heuristic.Engine,
	outcomes *learning.OutcomeLearner,
	verifier *learning.VerificationLearner,
	plans PlanDAO,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		patterns:  patterns,
		heuristic: heur,
		outcomes:  outcomes,
		verifier:  verifier,
		plans:     plans,
		emitter:   noopEmitter{},
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer("planner"),
		recent:    make(map[types.ID]*Plan),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plan produces a plan for the request, or an Exhausted result when no
// action sequence reaches the goal within budget. A goal with no facts
// fails fast with INVALID_GOAL.
func (e *Engine) Plan(ctx context.Context, req Request) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "goap.plan")
	defer span.End()

	if req.Goal.Len() == 0 {
		err := types.NewError(types.INVALID_GOAL, "goal must list at least one fact")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("goap.goal.facts", req.Goal.Len()),
		attribute.Int("goap.catalog.size", len(req.Actions)),
	)

	// Fast path: replay a stored pattern.
	if plan, err := e.tryPatternReuse(ctx, req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	} else if plan != nil {
		span.SetAttributes(
			attribute.String("goap.plan.id", plan.ID.String()),
			attribute.String("goap.plan.method", plan.Method.String()),
		)
		return &Result{Plan: plan}, nil
	}

	// Slow path: full graph search.
	search, err := e.astar(ctx, req.State, req.Goal, req.Actions, req.Weights, req.Budget)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if search.exhausted {
		span.SetAttributes(attribute.String("goap.exhausted.reason", string(search.reason)))
		e.emit(ctx, Event{
			Type:    EventPlanExhausted,
			Payload: map[string]any{"reason": string(search.reason)},
		})
		e.logger.Debug("search exhausted", "reason", search.reason)
		return &Result{Exhausted: true, Reason: search.reason}, nil
	}

	plan, err := e.finishSearchPlan(ctx, req, search)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("goap.plan.id", plan.ID.String()),
		attribute.String("goap.plan.method", plan.Method.String()),
		attribute.Float64("goap.plan.total_cost", plan.TotalCost),
	)
	return &Result{Plan: plan}, nil
}

// tryPatternReuse returns a plan when a stored pattern matches and replays
// cleanly. A stale match (any precondition failing at its position in the
// sequence) is rejected and logged at debug level only.
func (e *Engine) tryPatternReuse(ctx context.Context, req Request) (*Plan, error) {
	match, err := e.patterns.Lookup(ctx, req.Goal, req.State)
	if err != nil {
		return nil, types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "pattern lookup failed", err)
	}
	if match == nil {
		return nil, nil
	}

	totalCost, ok := replay(match.Pattern.ActionSequence, req.State, req.Actions, req.Goal)
	if !ok {
		e.logger.Debug("pattern replay rejected, falling back to search",
			"pattern_id", match.Pattern.ID,
			"score", match.Score)
		e.emit(ctx, Event{
			Type:    EventPatternStale,
			Payload: map[string]any{"pattern_id": match.Pattern.ID.String()},
		})
		return nil, nil
	}

	method := MethodPatternReuse
	if !match.Exact {
		method = MethodHybrid
	}

	plan := e.newPlan(req, match.Pattern.ActionSequence, totalCost, method, nil)
	plan.SourcePatternID = match.Pattern.ID

	if err := e.persistPlan(ctx, plan); err != nil {
		return nil, err
	}
	if err := e.patterns.MarkUsed(ctx, match.Pattern.ID.String()); err != nil {
		return nil, types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "failed to mark pattern used", err)
	}

	e.emit(ctx, Event{
		Type:   EventPatternReused,
		PlanID: plan.ID,
		Payload: map[string]any{
			"pattern_id": match.Pattern.ID.String(),
			"score":      match.Score,
			"exact":      match.Exact,
		},
	})
	e.logger.Info("plan produced by pattern reuse",
		"plan_id", plan.ID,
		"pattern_id", match.Pattern.ID,
		"method", method)
	return plan, nil
}

// finishSearchPlan persists the search result as a plan and promotes it to
// a candidate pattern unless the requesting agent is quarantined.
func (e *Engine) finishSearchPlan(ctx context.Context, req Request, search *searchResult) (*Plan, error) {
	plan := e.newPlan(req, search.actions, search.totalCost, MethodAStar, search.visited)

	suppressed, err := e.promotionSuppressed(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	var promoted *pattern.Pattern
	if !suppressed {
		final := applySequence(req.State, search.actions, req.Actions)
		promoted = pattern.New(req.Goal, req.State, final, search.actions, search.totalCost)
		if err := e.patterns.Put(ctx, promoted); err != nil {
			return nil, types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "failed to persist candidate pattern", err)
		}
		plan.SourcePatternID = promoted.ID
	}

	if err := e.persistPlan(ctx, plan); err != nil {
		return nil, err
	}

	if suppressed {
		e.emit(ctx, Event{
			Type:    EventPromotionSuppressed,
			PlanID:  plan.ID,
			Payload: map[string]any{"agent_id": req.AgentID},
		})
		e.logger.Info("pattern promotion suppressed for quarantined agent",
			"plan_id", plan.ID,
			"agent_id", req.AgentID)
	} else {
		e.emit(ctx, Event{
			Type:    EventPatternPromoted,
			PlanID:  plan.ID,
			Payload: map[string]any{"pattern_id": promoted.ID.String()},
		})
	}

	e.emit(ctx, Event{
		Type:    EventPlanGenerated,
		PlanID:  plan.ID,
		Payload: map[string]any{"total_cost": plan.TotalCost, "actions": len(plan.Actions)},
	})
	e.logger.Info("plan produced by search",
		"plan_id", plan.ID,
		"actions", len(plan.Actions),
		"total_cost", plan.TotalCost)
	return plan, nil
}

// promotionSuppressed checks the quarantine flag for the requesting agent.
func (e *Engine) promotionSuppressed(ctx context.Context, agentID string) (bool, error) {
	if e.verifier == nil || agentID == "" {
		return false, nil
	}
	quarantined, err := e.verifier.IsQuarantined(ctx, agentID)
	if err != nil {
		return false, types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "quarantine check failed", err)
	}
	return quarantined, nil
}

// newPlan assembles a plan value and registers it for outcome recording.
func (e *Engine) newPlan(req Request, actions []string, totalCost float64, method PlanningMethod, visited []learning.VisitedSample) *Plan {
	complexity := 0.0
	for _, id := range actions {
		if a, ok := req.Actions.ByID(id); ok {
			complexity += a.Cost.Complexity
		}
	}

	seq := make([]string, len(actions))
	copy(seq, actions)

	return &Plan{
		ID:            types.NewID(),
		Actions:       seq,
		TotalCost:     totalCost,
		EstimatedTime: time.Duration(complexity) * complexityTimeUnit,
		CurrentState:  req.State,
		GoalState:     req.Goal,
		Method:        method,
		AgentID:       req.AgentID,
		CreatedAt:     time.Now().UTC(),
		Visited:       visited,
	}
}

func (e *Engine) persistPlan(ctx context.Context, plan *Plan) error {
	if e.plans != nil {
		if err := e.plans.Insert(ctx, plan); err != nil {
			return types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "failed to persist plan", err)
		}
	}
	e.remember(plan)
	return nil
}

// remember keeps the plan in the bounded in-memory registry.
func (e *Engine) remember(plan *Plan) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.recent[plan.ID] = plan
	e.order = append(e.order, plan.ID)
	for len(e.order) > recentPlanLimit {
		oldest := e.order[0]
		e.order = e.order[1:]
		delete(e.recent, oldest)
	}
}

// lookupPlan resolves a plan by ID from the registry, falling back to the
// plan DAO. Plans resolved from the DAO carry no visited samples.
func (e *Engine) lookupPlan(ctx context.Context, planID types.ID) (*Plan, error) {
	e.mu.Lock()
	plan, ok := e.recent[planID]
	e.mu.Unlock()
	if ok {
		return plan, nil
	}

	if e.plans == nil {
		return nil, types.NewError(types.PLAN_NOT_FOUND, "plan not found")
	}
	plan, err := e.plans.GetByID(ctx, planID.String())
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// RecordExecution applies one execution outcome for a previously returned
// plan, updating pattern statistics and the heuristic error model.
// Recording the same outcome twice is not deduplicated here; at-least-once
// callers must dedupe by outcome ID.
func (e *Engine) RecordExecution(ctx context.Context, planID types.ID, outcome learning.ExecutionOutcome) error {
	ctx, span := e.tracer.Start(ctx, "goap.record_execution")
	defer span.End()
	span.SetAttributes(attribute.String("goap.plan.id", planID.String()))

	plan, err := e.lookupPlan(ctx, planID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	err = e.outcomes.Record(ctx, learning.ExecutionRecord{
		PlanID:          plan.ID,
		SourcePatternID: plan.SourcePatternID,
		Visited:         plan.Visited,
		Outcome:         outcome,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// RecordVerification applies one verification outcome to the agent
// reliability and adaptive threshold tables.
func (e *Engine) RecordVerification(ctx context.Context, outcome learning.VerificationOutcome) error {
	ctx, span := e.tracer.Start(ctx, "goap.record_verification")
	defer span.End()
	span.SetAttributes(attribute.String("goap.agent.id", outcome.AgentID))

	if e.verifier == nil {
		return types.NewError(types.CONFIG_VALIDATION_FAILED, "verification learner not configured")
	}
	if err := e.verifier.Record(ctx, outcome); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// GetAgentReliability returns the reliability row for an agent, or nil if
// the agent has never been verified.
func (e *Engine) GetAgentReliability(ctx context.Context, agentID string) (*learning.AgentReliability, error) {
	if e.verifier == nil {
		return nil, types.NewError(types.CONFIG_VALIDATION_FAILED, "verification learner not configured")
	}
	return e.verifier.GetReliability(ctx, agentID)
}

// GetThreshold returns the effective acceptance threshold for an
// (agent type, file type) context.
func (e *Engine) GetThreshold(ctx context.Context, agentType, fileType string) (float64, error) {
	if e.verifier == nil {
		return 0, types.NewError(types.CONFIG_VALIDATION_FAILED, "verification learner not configured")
	}
	return e.verifier.GetThreshold(ctx, agentType, fileType)
}

func (e *Engine) emit(ctx context.Context, event Event) {
	if err := e.emitter.Emit(ctx, event); err != nil {
		e.logger.Debug("event emit failed", "type", event.Type, "error", err)
	}
}

// replay walks the stored action sequence against the live state,
// validating each action's preconditions at its position. Returns the
// accumulated cost and whether the full sequence replayed with the goal
// satisfied at the end.
func replay(sequence []string, start world.State, catalog world.Catalog, goal world.State) (float64, bool) {
	state := start
	total := 0.0
	for _, id := range sequence {
		action, ok := catalog.ByID(id)
		if !ok {
			return 0, false
		}
		if !action.Applicable(state) {
			return 0, false
		}
		state = action.Apply(state)
		total += action.Cost.Value
	}
	if !state.Satisfies(goal) {
		return 0, false
	}
	return total, true
}

// applySequence returns the state after firing the sequence from start.
// Callers must have validated the sequence first.
func applySequence(start world.State, sequence []string, catalog world.Catalog) world.State {
	state := start
	for _, id := range sequence {
		if action, ok := catalog.ByID(id); ok {
			state = action.Apply(state)
		}
	}
	return state
}
