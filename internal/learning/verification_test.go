package learning

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/goap/internal/types"
)

// memVerificationStore implements VerificationDAO, ReliabilityDAO and
// ThresholdDAO in memory.
type memVerificationStore struct {
	mu          sync.Mutex
	outcomes    []*VerificationOutcome
	reliability map[string]*AgentReliability
	thresholds  map[string]*AdaptiveThreshold
}

func newMemVerificationStore() *memVerificationStore {
	return &memVerificationStore{
		reliability: make(map[string]*AgentReliability),
		thresholds:  make(map[string]*AdaptiveThreshold),
	}
}

func (m *memVerificationStore) Insert(_ context.Context, o *VerificationOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.outcomes = append(m.outcomes, &cp)
	return nil
}

func (m *memVerificationStore) ListRecentByAgent(_ context.Context, agentID string, limit int) ([]*VerificationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*VerificationOutcome
	for i := len(m.outcomes) - 1; i >= 0 && len(out) < limit; i-- {
		if m.outcomes[i].AgentID == agentID {
			cp := *m.outcomes[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memVerificationStore) ListRecentByContext(_ context.Context, agentType, fileType string, limit int) ([]*VerificationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*VerificationOutcome
	for i := len(m.outcomes) - 1; i >= 0 && len(out) < limit; i-- {
		if m.outcomes[i].AgentType == agentType && m.outcomes[i].FileType == fileType {
			cp := *m.outcomes[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memVerificationStore) Get(_ context.Context, agentID string) (*AgentReliability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.reliability[agentID]
	if !ok {
		return nil, nil
	}
	cp := *rel
	return &cp, nil
}

func (m *memVerificationStore) Mutate(_ context.Context, agentID, agentType string, fn func(*AgentReliability) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.reliability[agentID]
	if !ok {
		rel = &AgentReliability{AgentID: agentID, AgentType: agentType, Trend: TrendStable}
		m.reliability[agentID] = rel
	}
	return fn(rel)
}

type memThresholdDAO struct {
	store *memVerificationStore
}

func (m *memThresholdDAO) Get(_ context.Context, agentType, fileType string) (*AdaptiveThreshold, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	th, ok := m.store.thresholds[agentType+"|"+fileType]
	if !ok {
		return nil, nil
	}
	cp := *th
	return &cp, nil
}

func (m *memThresholdDAO) Mutate(_ context.Context, agentType, fileType string, fn func(*AdaptiveThreshold) error) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	key := agentType + "|" + fileType
	th, ok := m.store.thresholds[key]
	if !ok {
		th = &AdaptiveThreshold{AgentType: agentType, FileType: fileType}
		m.store.thresholds[key] = th
	}
	return fn(th)
}

func newTestVerificationLearner(opts ...VerificationLearnerOption) (*VerificationLearner, *memVerificationStore) {
	store := newMemVerificationStore()
	learner := NewVerificationLearner(store, store, &memThresholdDAO{store: store}, opts...)
	return learner, store
}

func passingOutcome(agentID string, score float64) VerificationOutcome {
	return VerificationOutcome{
		TaskID:     types.NewID(),
		AgentID:    agentID,
		AgentType:  "reviewer",
		FileType:   "go",
		Passed:     true,
		TruthScore: score,
		Threshold:  0.85,
	}
}

func failingOutcome(agentID string, score float64) VerificationOutcome {
	o := passingOutcome(agentID, score)
	o.Passed = false
	return o
}

func TestVerificationLearner_Record_MixedHistoryScenario(t *testing.T) {
	learner, _ := newTestVerificationLearner()

	// 15 passing at high truth scores, 5 failing at low scores.
	var expected Stats
	for i := 0; i < 15; i++ {
		require.NoError(t, learner.Record(context.Background(), passingOutcome("agent-1", 0.95)))
		expected.Observe(true, 0.95)
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, learner.Record(context.Background(), failingOutcome("agent-1", 0.4)))
		expected.Observe(false, 0.4)
	}

	rel, err := learner.GetReliability(context.Background(), "agent-1")
	require.NoError(t, err)
	require.NotNil(t, rel)

	assert.Equal(t, 20, rel.TotalVerifications)
	assert.Equal(t, 15, rel.SuccessCount)
	assert.Equal(t, 5, rel.FailureCount)
	assert.Equal(t, rel.TotalVerifications, rel.SuccessCount+rel.FailureCount)
	assert.InDelta(t, expected.Mean, rel.AvgTruthScore, 0.001)

	// Reliability follows the shared weighted blend exactly.
	want := NewTracker().Confidence(&expected)
	assert.InDelta(t, want, rel.Reliability, 0.001)

	// The last five outcomes all failed, so the recent window reads as
	// declining against the 75% historical rate.
	assert.Equal(t, TrendDeclining, rel.Trend)
}

func TestVerificationLearner_Record_TrendImproving(t *testing.T) {
	learner, _ := newTestVerificationLearner()

	for i := 0; i < 10; i++ {
		require.NoError(t, learner.Record(context.Background(), failingOutcome("agent-2", 0.3)))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, learner.Record(context.Background(), passingOutcome("agent-2", 0.9)))
	}

	rel, err := learner.GetReliability(context.Background(), "agent-2")
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, TrendImproving, rel.Trend)
}

func TestVerificationLearner_QuarantineTripsAndRecovers(t *testing.T) {
	learner, _ := newTestVerificationLearner()

	// Varied failing scores keep the stability term from propping the
	// reliability up to exactly the floor.
	score := func(i int) float64 {
		if i%2 == 0 {
			return 0.1
		}
		return 0.5
	}

	// Not quarantined before the minimum sample size.
	for i := 0; i < DefaultQuarantineMinSamples-1; i++ {
		require.NoError(t, learner.Record(context.Background(), failingOutcome("agent-3", score(i))))
	}
	q, err := learner.IsQuarantined(context.Background(), "agent-3")
	require.NoError(t, err)
	assert.False(t, q)

	// One more failure crosses the sample floor with reliability well
	// below the quarantine floor.
	require.NoError(t, learner.Record(context.Background(), failingOutcome("agent-3", score(9))))
	q, err = learner.IsQuarantined(context.Background(), "agent-3")
	require.NoError(t, err)
	assert.True(t, q)

	// Sustained passing recovers reliability past the hysteresis band and
	// clears the flag.
	for i := 0; i < 40; i++ {
		require.NoError(t, learner.Record(context.Background(), passingOutcome("agent-3", 0.95)))
	}
	q, err = learner.IsQuarantined(context.Background(), "agent-3")
	require.NoError(t, err)
	assert.False(t, q)
}

func TestVerificationLearner_IsQuarantined_UnknownAgent(t *testing.T) {
	learner, _ := newTestVerificationLearner()

	q, err := learner.IsQuarantined(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.False(t, q)
}

func TestVerificationLearner_ThresholdStaysInsideBand(t *testing.T) {
	learner, store := newTestVerificationLearner()

	// 10,000 consecutive failures for one context must never push the
	// threshold outside its confidence interval.
	for i := 0; i < 10000; i++ {
		require.NoError(t, learner.Record(context.Background(), failingOutcome("agent-4", 0.2)))
	}

	th := store.thresholds["reviewer|go"]
	require.NotNil(t, th)
	assert.GreaterOrEqual(t, th.AdjustedThreshold, th.ConfidenceMin)
	assert.LessOrEqual(t, th.AdjustedThreshold, th.ConfidenceMax)
	assert.Equal(t, 10000, th.SampleSize)
	assert.InDelta(t, th.ConfidenceMin, th.AdjustedThreshold, 0.001)
}

func TestVerificationLearner_ThresholdMovesWithSuccessRate(t *testing.T) {
	learner, _ := newTestVerificationLearner()

	for i := 0; i < 20; i++ {
		require.NoError(t, learner.Record(context.Background(), passingOutcome("agent-5", 0.95)))
	}

	got, err := learner.GetThreshold(context.Background(), "reviewer", "go")
	require.NoError(t, err)

	// Recent rate 1.0 against target 0.8 raises the threshold:
	// 0.85 + 0.2 x 0.2 = 0.89.
	assert.InDelta(t, 0.89, got, 0.001)
}

func TestVerificationLearner_GetThreshold_UnseenContextReturnsBase(t *testing.T) {
	learner, _ := newTestVerificationLearner()

	got, err := learner.GetThreshold(context.Background(), "reviewer", "rs")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseThreshold, got)
}

func TestVerificationLearner_ReliabilityBoundsUnderLongSequences(t *testing.T) {
	learner, _ := newTestVerificationLearner()

	for i := 0; i < 500; i++ {
		var o VerificationOutcome
		if i%4 == 0 {
			o = failingOutcome("agent-6", 0.2)
		} else {
			o = passingOutcome("agent-6", 0.9)
		}
		require.NoError(t, learner.Record(context.Background(), o))

		rel, err := learner.GetReliability(context.Background(), "agent-6")
		require.NoError(t, err)
		require.NotNil(t, rel)
		assert.GreaterOrEqual(t, rel.Reliability, ConfidenceMin, fmt.Sprintf("iteration %d", i))
		assert.LessOrEqual(t, rel.Reliability, ConfidenceMax)
	}
}
