package planner

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/goap/internal/heuristic"
	"github.com/zero-day-ai/goap/internal/learning"
	"github.com/zero-day-ai/goap/internal/pattern"
	"github.com/zero-day-ai/goap/internal/types"
	"github.com/zero-day-ai/goap/internal/world"
)

// ---- in-memory fakes ----

type memPatternDAO struct {
	mu       sync.Mutex
	patterns map[string]*pattern.Pattern
}

func newMemPatternDAO() *memPatternDAO {
	return &memPatternDAO{patterns: make(map[string]*pattern.Pattern)}
}

func (m *memPatternDAO) Insert(_ context.Context, p *pattern.Pattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.patterns[p.ID.String()] = &cp
	return nil
}

func (m *memPatternDAO) GetByID(_ context.Context, id string) (*pattern.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[id]
	if !ok {
		return nil, types.NewError(types.PATTERN_NOT_FOUND, "pattern not found")
	}
	cp := *p
	return &cp, nil
}

func (m *memPatternDAO) GetByFingerprint(_ context.Context, fp string) ([]*pattern.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*pattern.Pattern
	for _, p := range m.patterns {
		if p.GoalFingerprint == fp {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPatternDAO) List(_ context.Context) ([]*pattern.Pattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*pattern.Pattern
	for _, p := range m.patterns {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memPatternDAO) Mutate(_ context.Context, id string, fn func(*pattern.Pattern) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[id]
	if !ok {
		return types.NewError(types.PATTERN_NOT_FOUND, "pattern not found")
	}
	return fn(p)
}

func (m *memPatternDAO) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.patterns[id]; ok {
		p.LastUsed = at
	}
	return nil
}

func (m *memPatternDAO) Prune(_ context.Context, floor float64, cutoff time.Time) (int, error) {
	return 0, nil
}

func (m *memPatternDAO) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patterns)
}

type memSampleDAO struct {
	mu      sync.Mutex
	samples map[string]*heuristic.Sample
}

func newMemSampleDAO() *memSampleDAO {
	return &memSampleDAO{samples: make(map[string]*heuristic.Sample)}
}

func (m *memSampleDAO) Get(_ context.Context, stateHash, goalHash string) (*heuristic.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.samples[stateHash+"|"+goalHash]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSampleDAO) Mutate(_ context.Context, stateHash, goalHash string, fn func(*heuristic.Sample) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := stateHash + "|" + goalHash
	s, ok := m.samples[k]
	if !ok {
		s = &heuristic.Sample{StateHash: stateHash, GoalHash: goalHash}
		m.samples[k] = s
	}
	return fn(s)
}

type memPlanDAO struct {
	mu    sync.Mutex
	plans map[string]*Plan
}

func newMemPlanDAO() *memPlanDAO {
	return &memPlanDAO{plans: make(map[string]*Plan)}
}

func (m *memPlanDAO) Insert(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.plans[p.ID.String()] = &cp
	return nil
}

func (m *memPlanDAO) GetByID(_ context.Context, id string) (*Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, types.NewError(types.PLAN_NOT_FOUND, "plan not found")
	}
	cp := *p
	return &cp, nil
}

type memOutcomeDAO struct {
	mu       sync.Mutex
	outcomes []*learning.ExecutionOutcome
}

func (m *memOutcomeDAO) Insert(_ context.Context, o *learning.ExecutionOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.outcomes = append(m.outcomes, &cp)
	return nil
}

// quarantiningVerifier wires a VerificationLearner whose one agent is
// already quarantined.
type memVerifStore struct {
	mu          sync.Mutex
	outcomes    []*learning.VerificationOutcome
	reliability map[string]*learning.AgentReliability
	thresholds  map[string]*learning.AdaptiveThreshold
}

func newMemVerifStore() *memVerifStore {
	return &memVerifStore{
		reliability: make(map[string]*learning.AgentReliability),
		thresholds:  make(map[string]*learning.AdaptiveThreshold),
	}
}

func (m *memVerifStore) Insert(_ context.Context, o *learning.VerificationOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.outcomes = append(m.outcomes, &cp)
	return nil
}

func (m *memVerifStore) ListRecentByAgent(_ context.Context, agentID string, limit int) ([]*learning.VerificationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*learning.VerificationOutcome
	for i := len(m.outcomes) - 1; i >= 0 && len(out) < limit; i-- {
		if m.outcomes[i].AgentID == agentID {
			cp := *m.outcomes[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memVerifStore) ListRecentByContext(_ context.Context, agentType, fileType string, limit int) ([]*learning.VerificationOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*learning.VerificationOutcome
	for i := len(m.outcomes) - 1; i >= 0 && len(out) < limit; i-- {
		if m.outcomes[i].AgentType == agentType && m.outcomes[i].FileType == fileType {
			cp := *m.outcomes[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memVerifStore) Get(_ context.Context, agentID string) (*learning.AgentReliability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.reliability[agentID]
	if !ok {
		return nil, nil
	}
	cp := *rel
	return &cp, nil
}

func (m *memVerifStore) Mutate(_ context.Context, agentID, agentType string, fn func(*learning.AgentReliability) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.reliability[agentID]
	if !ok {
		rel = &learning.AgentReliability{AgentID: agentID, AgentType: agentType, Trend: learning.TrendStable}
		m.reliability[agentID] = rel
	}
	return fn(rel)
}

type memThresholdDAO struct{ store *memVerifStore }

func (m *memThresholdDAO) Get(_ context.Context, agentType, fileType string) (*learning.AdaptiveThreshold, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	th, ok := m.store.thresholds[agentType+"|"+fileType]
	if !ok {
		return nil, nil
	}
	cp := *th
	return &cp, nil
}

func (m *memThresholdDAO) Mutate(_ context.Context, agentType, fileType string, fn func(*learning.AdaptiveThreshold) error) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	key := agentType + "|" + fileType
	th, ok := m.store.thresholds[key]
	if !ok {
		th = &learning.AdaptiveThreshold{AgentType: agentType, FileType: fileType}
		m.store.thresholds[key] = th
	}
	return fn(th)
}

// ---- fixtures ----

type testHarness struct {
	engine     *Engine
	patternDAO *memPatternDAO
	planDAO    *memPlanDAO
	verifStore *memVerifStore
}

func newTestHarness(t *testing.T, opts ...EngineOption) *testHarness {
	t.Helper()

	patternDAO := newMemPatternDAO()
	patternStore := pattern.NewStore(patternDAO)
	heur := heuristic.NewEngine(newMemSampleDAO(), patternStore)
	outcomes := learning.NewOutcomeLearner(&memOutcomeDAO{}, patternStore, heur)

	verifStore := newMemVerifStore()
	verifier := learning.NewVerificationLearner(verifStore, verifStore, &memThresholdDAO{store: verifStore})

	planDAO := newMemPlanDAO()
	engine := NewEngine(patternStore, heur, outcomes, verifier, planDAO, opts...)

	return &testHarness{
		engine:     engine,
		patternDAO: patternDAO,
		planDAO:    planDAO,
		verifStore: verifStore,
	}
}

func deployCatalog() world.Catalog {
	return world.Catalog{
		{
			ID:            "deploy",
			Preconditions: world.Empty(),
			Effects:       world.NewState(map[string]world.Value{"service_deployed": world.Bool(true)}),
			Cost:          world.Cost{Value: 10, Complexity: 1, RiskTier: world.RiskTierMedium},
		},
	}
}

func deployRequest() Request {
	return Request{
		Goal:    world.NewState(map[string]world.Value{"service_deployed": world.Bool(true)}),
		State:   world.NewState(map[string]world.Value{"service_deployed": world.Bool(false)}),
		Actions: deployCatalog(),
	}
}

// ---- tests ----

func TestEngine_Plan_InvalidGoal(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.engine.Plan(context.Background(), Request{
		Goal:    world.Empty(),
		State:   world.NewState(map[string]world.Value{"a": world.Bool(true)}),
		Actions: deployCatalog(),
	})

	require.Error(t, err)
	var goapErr *types.GoapError
	require.True(t, errors.As(err, &goapErr))
	assert.Equal(t, types.INVALID_GOAL, goapErr.Code)
}

func TestEngine_Plan_SearchThenPatternReuse(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// First call: no patterns exist, so the plan comes from search.
	first, err := h.engine.Plan(ctx, deployRequest())
	require.NoError(t, err)
	require.NotNil(t, first.Plan)
	assert.False(t, first.Exhausted)
	assert.Equal(t, MethodAStar, first.Plan.Method)
	assert.Equal(t, []string{"deploy"}, first.Plan.Actions)
	assert.Equal(t, 10.0, first.Plan.TotalCost)

	// The search result was promoted to a candidate pattern immediately.
	assert.Equal(t, 1, h.patternDAO.count())
	assert.False(t, first.Plan.SourcePatternID.IsZero())

	// A successful execution raises the pattern's confidence past the
	// match threshold.
	err = h.engine.RecordExecution(ctx, first.Plan.ID, learning.ExecutionOutcome{
		Success:      true,
		ActualCost:   10,
		AchievedGoal: true,
	})
	require.NoError(t, err)

	// Second identical call replays the pattern instead of searching.
	second, err := h.engine.Plan(ctx, deployRequest())
	require.NoError(t, err)
	require.NotNil(t, second.Plan)
	assert.Equal(t, MethodPatternReuse, second.Plan.Method)
	assert.Equal(t, first.Plan.Actions, second.Plan.Actions)
	assert.Equal(t, first.Plan.TotalCost, second.Plan.TotalCost)
	assert.NotEqual(t, first.Plan.ID, second.Plan.ID)
}

func TestEngine_Plan_FreshPatternNotTrustedBeforeOutcome(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.engine.Plan(ctx, deployRequest())
	require.NoError(t, err)

	// Without any recorded outcome the candidate's confidence is 0.5,
	// which does not clear the 0.7 match threshold: still a search.
	again, err := h.engine.Plan(ctx, deployRequest())
	require.NoError(t, err)
	require.NotNil(t, again.Plan)
	assert.Equal(t, MethodAStar, again.Plan.Method)
}

func TestEngine_Plan_MultiStepSearch(t *testing.T) {
	h := newTestHarness(t)

	catalog := world.Catalog{
		{
			ID:            "provision",
			Preconditions: world.Empty(),
			Effects:       world.NewState(map[string]world.Value{"host_ready": world.Bool(true)}),
			Cost:          world.Cost{Value: 3, Complexity: 2},
		},
		{
			ID:            "deploy",
			Preconditions: world.NewState(map[string]world.Value{"host_ready": world.Bool(true)}),
			Effects:       world.NewState(map[string]world.Value{"service_deployed": world.Bool(true)}),
			Cost:          world.Cost{Value: 10, Complexity: 1},
		},
		{
			ID:            "probe",
			Preconditions: world.NewState(map[string]world.Value{"service_deployed": world.Bool(true)}),
			Effects:       world.NewState(map[string]world.Value{"healthy": world.Bool(true)}),
			Cost:          world.Cost{Value: 1, Complexity: 1},
		},
	}

	result, err := h.engine.Plan(context.Background(), Request{
		Goal:    world.NewState(map[string]world.Value{"healthy": world.Bool(true)}),
		State:   world.NewState(map[string]world.Value{"host_ready": world.Bool(false)}),
		Actions: catalog,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Plan)

	assert.Equal(t, []string{"provision", "deploy", "probe"}, result.Plan.Actions)
	assert.Equal(t, 14.0, result.Plan.TotalCost)
}

func TestEngine_Plan_PrefersCheaperPath(t *testing.T) {
	h := newTestHarness(t)

	catalog := world.Catalog{
		{
			ID:            "slow_deploy",
			Preconditions: world.Empty(),
			Effects:       world.NewState(map[string]world.Value{"service_deployed": world.Bool(true)}),
			Cost:          world.Cost{Value: 50},
		},
		{
			ID:            "fast_deploy",
			Preconditions: world.Empty(),
			Effects:       world.NewState(map[string]world.Value{"service_deployed": world.Bool(true)}),
			Cost:          world.Cost{Value: 10},
		},
	}

	result, err := h.engine.Plan(context.Background(), Request{
		Goal:    world.NewState(map[string]world.Value{"service_deployed": world.Bool(true)}),
		State:   world.NewState(map[string]world.Value{"service_deployed": world.Bool(false)}),
		Actions: catalog,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Plan)
	assert.Equal(t, []string{"fast_deploy"}, result.Plan.Actions)
	assert.Equal(t, 10.0, result.Plan.TotalCost)
}

func TestEngine_Plan_UnreachableGoalExhausts(t *testing.T) {
	h := newTestHarness(t)

	result, err := h.engine.Plan(context.Background(), Request{
		Goal:    world.NewState(map[string]world.Value{"impossible": world.Bool(true)}),
		State:   world.NewState(map[string]world.Value{"service_deployed": world.Bool(false)}),
		Actions: deployCatalog(),
	})
	require.NoError(t, err)

	assert.Nil(t, result.Plan)
	assert.True(t, result.Exhausted)
	assert.Equal(t, ReasonNoPath, result.Reason)
}

func TestEngine_Plan_NodeBudgetExhausts(t *testing.T) {
	h := newTestHarness(t)

	// A counter chain long enough that one expansion cannot finish it.
	var catalog world.Catalog
	for i := 0; i < 20; i++ {
		catalog = append(catalog, world.Action{
			ID:            "inc",
			Preconditions: world.NewState(map[string]world.Value{"n": world.Num(float64(i))}),
			Effects:       world.NewState(map[string]world.Value{"n": world.Num(float64(i + 1))}),
			Cost:          world.Cost{Value: 1},
		})
	}

	result, err := h.engine.Plan(context.Background(), Request{
		Goal:    world.NewState(map[string]world.Value{"n": world.Num(20)}),
		State:   world.NewState(map[string]world.Value{"n": world.Num(0)}),
		Actions: catalog,
		Budget:  Budget{MaxNodes: 3},
	})
	require.NoError(t, err)

	assert.True(t, result.Exhausted)
	assert.Equal(t, ReasonBudget, result.Reason)
}

func TestEngine_Plan_CancelledContextExhaustsCleanly(t *testing.T) {
	h := newTestHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.engine.Plan(ctx, deployRequest())
	require.NoError(t, err)
	assert.True(t, result.Exhausted)
	assert.Equal(t, ReasonBudget, result.Reason)
}

func TestEngine_Plan_QuarantinedAgentSuppressesPromotion(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// Force the agent into quarantine directly.
	require.NoError(t, h.verifStore.Mutate(ctx, "agent-x", "coder", func(rel *learning.AgentReliability) error {
		rel.TotalVerifications = 20
		rel.FailureCount = 20
		rel.Reliability = 0.05
		rel.Quarantined = true
		return nil
	}))

	req := deployRequest()
	req.AgentID = "agent-x"

	result, err := h.engine.Plan(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result.Plan)

	// Planning still succeeds, but no candidate pattern was stored.
	assert.Equal(t, 0, h.patternDAO.count())
	assert.True(t, result.Plan.SourcePatternID.IsZero())
}

func TestEngine_Plan_StalePatternFallsBackToSearch(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// Seed a trusted pattern whose action no longer exists in the catalog.
	goal := world.NewState(map[string]world.Value{"service_deployed": world.Bool(true)})
	initial := world.NewState(map[string]world.Value{"service_deployed": world.Bool(false)})
	stale := pattern.New(goal, initial, goal, []string{"removed_action"}, 10)
	stale.Confidence = 0.95
	require.NoError(t, h.patternDAO.Insert(ctx, stale))

	result, err := h.engine.Plan(ctx, deployRequest())
	require.NoError(t, err)
	require.NotNil(t, result.Plan)

	// The stale pattern was rejected and search produced the plan.
	assert.Equal(t, MethodAStar, result.Plan.Method)
	assert.Equal(t, []string{"deploy"}, result.Plan.Actions)
}

func TestEngine_Plan_EmitsEvents(t *testing.T) {
	emitter := NewChannelEventEmitter()
	defer emitter.Close()

	h := newTestHarness(t, WithEmitter(emitter))

	events, cancel := emitter.Subscribe(context.Background())
	defer cancel()

	_, err := h.engine.Plan(context.Background(), deployRequest())
	require.NoError(t, err)

	var seen []EventType
	for len(seen) < 2 {
		select {
		case ev := <-events:
			seen = append(seen, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, saw %v", seen)
		}
	}
	assert.Contains(t, seen, EventPatternPromoted)
	assert.Contains(t, seen, EventPlanGenerated)
}

func TestEngine_RecordExecution_UnknownPlan(t *testing.T) {
	h := newTestHarness(t)

	err := h.engine.RecordExecution(context.Background(), types.NewID(), learning.ExecutionOutcome{Success: true})
	require.Error(t, err)
	var goapErr *types.GoapError
	require.True(t, errors.As(err, &goapErr))
	assert.Equal(t, types.PLAN_NOT_FOUND, goapErr.Code)
}

func TestEngine_VerificationSurface(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	err := h.engine.RecordVerification(ctx, learning.VerificationOutcome{
		TaskID:     types.NewID(),
		AgentID:    "agent-1",
		AgentType:  "reviewer",
		FileType:   "go",
		Passed:     true,
		TruthScore: 0.95,
	})
	require.NoError(t, err)

	rel, err := h.engine.GetAgentReliability(ctx, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, 1, rel.TotalVerifications)

	threshold, err := h.engine.GetThreshold(ctx, "reviewer", "go")
	require.NoError(t, err)
	assert.Greater(t, threshold, 0.0)
}

func TestReplay_SoundnessUnderRandomStates(t *testing.T) {
	goal := world.NewState(map[string]world.Value{"healthy": world.Bool(true)})
	catalog := world.Catalog{
		{
			ID:            "provision",
			Preconditions: world.NewState(map[string]world.Value{"have_quota": world.Bool(true)}),
			Effects:       world.NewState(map[string]world.Value{"host_ready": world.Bool(true)}),
			Cost:          world.Cost{Value: 3},
		},
		{
			ID:            "deploy",
			Preconditions: world.NewState(map[string]world.Value{"host_ready": world.Bool(true)}),
			Effects:       world.NewState(map[string]world.Value{"service_deployed": world.Bool(true)}),
			Cost:          world.Cost{Value: 10},
		},
		{
			ID:            "probe",
			Preconditions: world.NewState(map[string]world.Value{"service_deployed": world.Bool(true)}),
			Effects:       world.NewState(map[string]world.Value{"healthy": world.Bool(true)}),
			Cost:          world.Cost{Value: 1},
		},
	}
	sequence := []string{"provision", "deploy", "probe"}

	rng := rand.New(rand.NewSource(7))
	facts := []string{"have_quota", "host_ready", "service_deployed", "healthy", "noise_a", "noise_b"}

	for i := 0; i < 1000; i++ {
		// Random mutation of the current state.
		mutated := make(map[string]world.Value, len(facts))
		for _, f := range facts {
			if rng.Intn(2) == 0 {
				continue // fact absent
			}
			mutated[f] = world.Bool(rng.Intn(2) == 0)
		}
		state := world.NewState(mutated)

		total, ok := replay(sequence, state, catalog, goal)
		if !ok {
			continue // rejection is always sound
		}

		// Accepted replays must type-check action-by-action.
		cur := state
		for _, id := range sequence {
			action, found := catalog.ByID(id)
			require.True(t, found)
			require.True(t, action.Applicable(cur),
				"iteration %d: action %q accepted with failing preconditions in %v", i, id, cur)
			cur = action.Apply(cur)
		}
		require.True(t, cur.Satisfies(goal))
		assert.Equal(t, 14.0, total)
	}
}
