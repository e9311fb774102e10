package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/goap/internal/monitor"
	"github.com/zero-day-ai/goap/internal/types"
	"github.com/zero-day-ai/goap/internal/world"
)

func TestTriggerDAO_InsertAndList(t *testing.T) {
	db := setupTestDB(t)
	dao := NewTriggerDAO(db)
	ctx := context.Background()

	planID := types.NewID()
	newPlanID := types.NewID()
	state := world.NewState(map[string]world.Value{"host_ready": world.Bool(false)})

	require.NoError(t, dao.Insert(ctx, &monitor.ReplanningTrigger{
		ID:             types.NewID(),
		PlanID:         planID,
		TriggerType:    monitor.TriggerStalePrecondition,
		Reason:         "preconditions of action \"deploy\" no longer hold",
		StateAtTrigger: state,
		NewPlanID:      newPlanID,
		Timestamp:      time.Now().UTC().Add(-time.Minute),
	}))
	require.NoError(t, dao.Insert(ctx, &monitor.ReplanningTrigger{
		ID:             types.NewID(),
		PlanID:         planID,
		TriggerType:    monitor.TriggerCostOverrun,
		Reason:         "actual cost 16.00 exceeds estimate 10.00 beyond 1.50x",
		StateAtTrigger: state,
		CostOverrun:    1.6,
		Timestamp:      time.Now().UTC(),
	}))
	require.NoError(t, dao.Insert(ctx, &monitor.ReplanningTrigger{
		ID:             types.NewID(),
		PlanID:         types.NewID(),
		TriggerType:    monitor.TriggerStepFailure,
		Reason:         "other plan",
		StateAtTrigger: world.Empty(),
	}))

	got, err := dao.ListByPlan(ctx, planID.String())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, monitor.TriggerStalePrecondition, got[0].TriggerType)
	assert.Equal(t, newPlanID, got[0].NewPlanID)
	assert.True(t, got[0].StateAtTrigger.Equal(state))

	assert.Equal(t, monitor.TriggerCostOverrun, got[1].TriggerType)
	assert.InDelta(t, 1.6, got[1].CostOverrun, 1e-9)
	assert.True(t, got[1].NewPlanID.IsZero())
}
