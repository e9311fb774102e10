package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zero-day-ai/goap/internal/planner"
	"github.com/zero-day-ai/goap/internal/types"
)

// PlanDAO implements planner.PlanDAO over the goap_plans table.
type PlanDAO struct {
	db *DB
}

// NewPlanDAO creates a plan DAO.
func NewPlanDAO(db *DB) *PlanDAO {
	return &PlanDAO{db: db}
}

var _ planner.PlanDAO = (*PlanDAO)(nil)

// Insert persists a plan. Plans are immutable once returned; there is no
// update path.
func (d *PlanDAO) Insert(ctx context.Context, plan *planner.Plan) error {
	actions, err := json.Marshal(plan.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}
	current, err := json.Marshal(plan.CurrentState)
	if err != nil {
		return fmt.Errorf("failed to marshal current state: %w", err)
	}
	goal, err := json.Marshal(plan.GoalState)
	if err != nil {
		return fmt.Errorf("failed to marshal goal state: %w", err)
	}

	var patternID any
	if !plan.SourcePatternID.IsZero() {
		patternID = plan.SourcePatternID.String()
	}
	var agentID any
	if plan.AgentID != "" {
		agentID = plan.AgentID
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO goap_plans (id, actions, total_cost, estimated_time,
			current_state, goal_state, planning_method, pattern_id, created_at, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID.String(), string(actions), plan.TotalCost, plan.EstimatedTime.Milliseconds(),
		string(current), string(goal), plan.Method.String(), patternID, plan.CreatedAt, agentID)
	if err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

// GetByID retrieves a plan by ID. Plans loaded from storage carry no
// search-visited samples.
func (d *PlanDAO) GetByID(ctx context.Context, id string) (*planner.Plan, error) {
	var (
		plan          planner.Plan
		planID        string
		actions       string
		current, goal string
		method        string
		estimatedMs   int64
		patternID     sql.NullString
		agentID       sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, actions, total_cost, estimated_time, current_state, goal_state,
			planning_method, pattern_id, created_at, agent_id
		FROM goap_plans WHERE id = ?`, id).
		Scan(&planID, &actions, &plan.TotalCost, &estimatedMs, &current, &goal,
			&method, &patternID, &plan.CreatedAt, &agentID)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.PLAN_NOT_FOUND, fmt.Sprintf("plan %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query plan: %w", err)
	}

	plan.ID = types.ID(planID)
	plan.Method = planner.PlanningMethod(method)
	plan.EstimatedTime = time.Duration(estimatedMs) * time.Millisecond
	if patternID.Valid {
		plan.SourcePatternID = types.ID(patternID.String)
	}
	if agentID.Valid {
		plan.AgentID = agentID.String
	}

	if err := json.Unmarshal([]byte(actions), &plan.Actions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}
	if err := unmarshalState(current, &plan.CurrentState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	if err := unmarshalState(goal, &plan.GoalState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal goal state: %w", err)
	}
	return &plan, nil
}
