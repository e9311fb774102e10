package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/goap/internal/heuristic"
	"github.com/zero-day-ai/goap/internal/learning"
	"github.com/zero-day-ai/goap/internal/types"
)

func TestOutcomeDAO_InsertAndList(t *testing.T) {
	db := setupTestDB(t)
	dao := NewOutcomeDAO(db)
	ctx := context.Background()

	planID := types.NewID()
	first := &learning.ExecutionOutcome{
		PlanID:          planID,
		Success:         true,
		ActualCost:      10,
		EstimatedCost:   9,
		AchievedGoal:    true,
		ExecutionTimeMs: 1200,
		Timestamp:       time.Now().UTC().Add(-time.Minute),
	}
	second := &learning.ExecutionOutcome{
		PlanID:     planID,
		Success:    false,
		ActualCost: 14,
		Errors:     []string{"deploy timed out", "rollback applied"},
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, dao.Insert(ctx, first))
	require.NoError(t, dao.Insert(ctx, second))
	require.NoError(t, dao.Insert(ctx, &learning.ExecutionOutcome{
		PlanID:  types.NewID(),
		Success: true,
	}))

	got, err := dao.ListByPlan(ctx, planID.String())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, got[0].Success)
	assert.Equal(t, 10.0, got[0].ActualCost)
	assert.Equal(t, int64(1200), got[0].ExecutionTimeMs)
	assert.Empty(t, got[0].Errors)

	assert.False(t, got[1].Success)
	assert.Equal(t, []string{"deploy timed out", "rollback applied"}, got[1].Errors)
}

func TestHeuristicDAO_GetMissReturnsNil(t *testing.T) {
	db := setupTestDB(t)
	dao := NewHeuristicDAO(db)

	sample, err := dao.Get(context.Background(), "state", "goal")
	require.NoError(t, err)
	assert.Nil(t, sample)
}

func TestHeuristicDAO_MutateUpserts(t *testing.T) {
	db := setupTestDB(t)
	dao := NewHeuristicDAO(db)
	ctx := context.Background()

	// First mutate creates the row.
	err := dao.Mutate(ctx, "state", "goal", func(s *heuristic.Sample) error {
		assert.Equal(t, "state", s.StateHash)
		assert.Equal(t, "goal", s.GoalHash)
		assert.Equal(t, 0, s.TimesEncountered)
		s.TimesEncountered = 1
		s.EstimatedCost = 5
		s.ActualCost = 9
		s.AverageError = 4
		s.Confidence = 0.25
		return nil
	})
	require.NoError(t, err)

	// Second mutate sees the stored values.
	err = dao.Mutate(ctx, "state", "goal", func(s *heuristic.Sample) error {
		assert.Equal(t, 1, s.TimesEncountered)
		assert.Equal(t, 9.0, s.ActualCost)
		s.TimesEncountered = 2
		return nil
	})
	require.NoError(t, err)

	sample, err := dao.Get(ctx, "state", "goal")
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.Equal(t, 2, sample.TimesEncountered)
	assert.Equal(t, 0.25, sample.Confidence)
	assert.False(t, sample.LastUpdated.IsZero())
}

func TestVerificationDAO_RecentWindows(t *testing.T) {
	db := setupTestDB(t)
	dao := NewVerificationDAO(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, dao.Insert(ctx, &learning.VerificationOutcome{
			TaskID:     types.NewID(),
			AgentID:    "agent-1",
			AgentType:  "coder",
			FileType:   "go",
			Passed:     i%2 == 0,
			TruthScore: 0.5 + float64(i)*0.1,
			Threshold:  0.85,
			ComponentScores: map[string]float64{
				"lint": 0.9,
			},
			DurationMs: int64(100 + i),
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, dao.Insert(ctx, &learning.VerificationOutcome{
		TaskID:    types.NewID(),
		AgentID:   "agent-2",
		AgentType: "reviewer",
		FileType:  "go",
		Timestamp: base,
	}))

	byAgent, err := dao.ListRecentByAgent(ctx, "agent-1", 3)
	require.NoError(t, err)
	require.Len(t, byAgent, 3)
	// Newest first.
	assert.InDelta(t, 0.9, byAgent[0].TruthScore, 1e-9)
	assert.Equal(t, map[string]float64{"lint": 0.9}, byAgent[0].ComponentScores)

	byContext, err := dao.ListRecentByContext(ctx, "coder", "go", 10)
	require.NoError(t, err)
	assert.Len(t, byContext, 5)

	empty, err := dao.ListRecentByContext(ctx, "coder", "rust", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReliabilityDAO_MutateUpserts(t *testing.T) {
	db := setupTestDB(t)
	dao := NewReliabilityDAO(db)
	ctx := context.Background()

	rel, err := dao.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Nil(t, rel)

	err = dao.Mutate(ctx, "agent-1", "coder", func(row *learning.AgentReliability) error {
		assert.Equal(t, "agent-1", row.AgentID)
		assert.Equal(t, "coder", row.AgentType)
		assert.Equal(t, learning.TrendStable, row.Trend)
		row.TotalVerifications = 1
		row.SuccessCount = 1
		row.AvgTruthScore = 0.95
		row.Reliability = 0.8
		row.Trend = learning.TrendImproving
		return nil
	})
	require.NoError(t, err)

	err = dao.Mutate(ctx, "agent-1", "coder", func(row *learning.AgentReliability) error {
		assert.Equal(t, 1, row.TotalVerifications)
		assert.Equal(t, learning.TrendImproving, row.Trend)
		row.TotalVerifications = 2
		row.Quarantined = true
		return nil
	})
	require.NoError(t, err)

	rel, err = dao.Get(ctx, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, 2, rel.TotalVerifications)
	assert.True(t, rel.Quarantined)
	assert.Equal(t, 0.8, rel.Reliability)
}

func TestThresholdDAO_MutateUpserts(t *testing.T) {
	db := setupTestDB(t)
	dao := NewThresholdDAO(db)
	ctx := context.Background()

	th, err := dao.Get(ctx, "coder", "go")
	require.NoError(t, err)
	assert.Nil(t, th)

	err = dao.Mutate(ctx, "coder", "go", func(row *learning.AdaptiveThreshold) error {
		assert.Equal(t, 0, row.SampleSize)
		row.BaseThreshold = 0.85
		row.AdjustedThreshold = 0.87
		row.ConfidenceMin = 0.75
		row.ConfidenceMax = 0.95
		row.SampleSize = 1
		return nil
	})
	require.NoError(t, err)

	th, err = dao.Get(ctx, "coder", "go")
	require.NoError(t, err)
	require.NotNil(t, th)
	assert.Equal(t, 0.85, th.BaseThreshold)
	assert.Equal(t, 0.87, th.AdjustedThreshold)
	assert.Equal(t, 1, th.SampleSize)

	// Distinct file types are distinct rows.
	other, err := dao.Get(ctx, "coder", "")
	require.NoError(t, err)
	assert.Nil(t, other)
}
