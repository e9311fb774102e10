package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zero-day-ai/goap/internal/learning"
	"github.com/zero-day-ai/goap/internal/types"
)

// OutcomeDAO implements learning.OutcomeDAO over the append-only
// goap_execution_outcomes table.
type OutcomeDAO struct {
	db *DB
}

// NewOutcomeDAO creates an execution outcome DAO.
func NewOutcomeDAO(db *DB) *OutcomeDAO {
	return &OutcomeDAO{db: db}
}

var _ learning.OutcomeDAO = (*OutcomeDAO)(nil)

// Insert appends one execution outcome. Rows are never updated or deleted.
func (d *OutcomeDAO) Insert(ctx context.Context, outcome *learning.ExecutionOutcome) error {
	var errorsJSON any
	if len(outcome.Errors) > 0 {
		raw, err := json.Marshal(outcome.Errors)
		if err != nil {
			return fmt.Errorf("failed to marshal errors: %w", err)
		}
		errorsJSON = string(raw)
	}

	ts := outcome.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO goap_execution_outcomes (id, plan_id, success, actual_cost,
			estimated_cost, achieved_goal, execution_time, errors, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		types.NewID().String(), outcome.PlanID.String(), outcome.Success,
		outcome.ActualCost, outcome.EstimatedCost, outcome.AchievedGoal,
		outcome.ExecutionTimeMs, errorsJSON, ts)
	if err != nil {
		return fmt.Errorf("failed to insert execution outcome: %w", err)
	}
	return nil
}

// ListByPlan returns the outcomes recorded for a plan, oldest first.
func (d *OutcomeDAO) ListByPlan(ctx context.Context, planID string) ([]*learning.ExecutionOutcome, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT plan_id, success, actual_cost, estimated_cost, achieved_goal,
			execution_time, errors, timestamp
		FROM goap_execution_outcomes WHERE plan_id = ? ORDER BY timestamp`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution outcomes: %w", err)
	}
	defer rows.Close()

	var out []*learning.ExecutionOutcome
	for rows.Next() {
		var (
			o          learning.ExecutionOutcome
			id         string
			errorsJSON *string
		)
		if err := rows.Scan(&id, &o.Success, &o.ActualCost, &o.EstimatedCost,
			&o.AchievedGoal, &o.ExecutionTimeMs, &errorsJSON, &o.Timestamp); err != nil {
			return nil, err
		}
		o.PlanID = types.ID(id)
		if errorsJSON != nil && *errorsJSON != "" {
			if err := json.Unmarshal([]byte(*errorsJSON), &o.Errors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
			}
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}
