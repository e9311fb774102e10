package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zero-day-ai/goap/internal/monitor"
	"github.com/zero-day-ai/goap/internal/types"
)

// TriggerDAO implements monitor.TriggerDAO over the append-only
// goap_replanning_triggers table.
type TriggerDAO struct {
	db *DB
}

// NewTriggerDAO creates a replanning trigger DAO.
func NewTriggerDAO(db *DB) *TriggerDAO {
	return &TriggerDAO{db: db}
}

var _ monitor.TriggerDAO = (*TriggerDAO)(nil)

// Insert appends one replanning trigger.
func (d *TriggerDAO) Insert(ctx context.Context, trigger *monitor.ReplanningTrigger) error {
	state, err := json.Marshal(trigger.StateAtTrigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger state: %w", err)
	}

	var newPlanID any
	if !trigger.NewPlanID.IsZero() {
		newPlanID = trigger.NewPlanID.String()
	}

	ts := trigger.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO goap_replanning_triggers (id, plan_id, trigger_type,
			reason, current_state, cost_overrun, new_plan_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trigger.ID.String(), trigger.PlanID.String(), string(trigger.TriggerType),
		trigger.Reason, string(state), trigger.CostOverrun, newPlanID, ts)
	if err != nil {
		return fmt.Errorf("failed to insert replanning trigger: %w", err)
	}
	return nil
}

// ListByPlan returns the triggers recorded against a plan, oldest first.
func (d *TriggerDAO) ListByPlan(ctx context.Context, planID string) ([]*monitor.ReplanningTrigger, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, plan_id, trigger_type, reason, current_state, cost_overrun,
			new_plan_id, timestamp
		FROM goap_replanning_triggers WHERE plan_id = ? ORDER BY timestamp`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query replanning triggers: %w", err)
	}
	defer rows.Close()

	var out []*monitor.ReplanningTrigger
	for rows.Next() {
		var (
			tr          monitor.ReplanningTrigger
			id, plan    string
			triggerType string
			state       string
			newPlanID   sql.NullString
		)
		if err := rows.Scan(&id, &plan, &triggerType, &tr.Reason, &state,
			&tr.CostOverrun, &newPlanID, &tr.Timestamp); err != nil {
			return nil, err
		}
		tr.ID = types.ID(id)
		tr.PlanID = types.ID(plan)
		tr.TriggerType = monitor.TriggerType(triggerType)
		if newPlanID.Valid {
			tr.NewPlanID = types.ID(newPlanID.String)
		}
		if err := unmarshalState(state, &tr.StateAtTrigger); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger state: %w", err)
		}
		out = append(out, &tr)
	}
	return out, rows.Err()
}
