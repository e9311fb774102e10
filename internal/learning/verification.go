package learning

import (
	"context"
	"log/slog"
	"time"

	"github.com/zero-day-ai/goap/internal/types"
)

// Trend describes where an agent's recent verification results are heading
// relative to its full history.
type Trend string

const (
	// TrendImproving means the recent window outperforms the history.
	TrendImproving Trend = "improving"

	// TrendStable means recent results track the history.
	TrendStable Trend = "stable"

	// TrendDeclining means the recent window underperforms the history.
	TrendDeclining Trend = "declining"
)

// Default knobs for the verification feedback loop.
const (
	// DefaultQuarantineFloor is the reliability below which an agent is
	// quarantined once enough samples exist.
	DefaultQuarantineFloor = 0.3

	// DefaultQuarantineMinSamples is the minimum verification count before
	// quarantine can trigger.
	DefaultQuarantineMinSamples = 10

	// quarantineHysteresis is how far above the floor reliability must
	// recover before the quarantine flag clears.
	quarantineHysteresis = 0.1

	// DefaultTrendWindow is how many recent outcomes the trend and the
	// threshold adjustment look at.
	DefaultTrendWindow = 10

	// trendTolerance is the band around the historical success rate inside
	// which the trend reads as stable.
	trendTolerance = 0.1

	// DefaultBaseThreshold is the starting acceptance threshold for a new
	// (agent type, file type) context.
	DefaultBaseThreshold = 0.85

	// DefaultThresholdBand bounds how far the adjusted threshold may drift
	// from the base in either direction.
	DefaultThresholdBand = 0.1

	// DefaultThresholdGain is the k in base + k x (recentRate - targetRate).
	DefaultThresholdGain = 0.2

	// DefaultTargetSuccessRate is the success rate the threshold controller
	// steers toward.
	DefaultTargetSuccessRate = 0.8
)

// VerificationOutcome is one automated verification result for a task.
// Append-only, analogous to ExecutionOutcome but carrying a truth score
// instead of a cost.
type VerificationOutcome struct {
	TaskID          types.ID           `json:"task_id"`
	AgentID         string             `json:"agent_id"`
	AgentType       string             `json:"agent_type"`
	FileType        string             `json:"file_type,omitempty"`
	Passed          bool               `json:"passed"`
	TruthScore      float64            `json:"truth_score"`
	Threshold       float64            `json:"threshold"`
	ComponentScores map[string]float64 `json:"component_scores,omitempty"`
	DurationMs      int64              `json:"duration_ms"`
	Timestamp       time.Time          `json:"timestamp"`
}

// AgentReliability is the learned trust state for one agent. One row per
// agent, mutated on every verification outcome for that agent.
type AgentReliability struct {
	AgentID            string    `json:"agent_id"`
	AgentType          string    `json:"agent_type"`
	TotalVerifications int       `json:"total_verifications"`
	SuccessCount       int       `json:"success_count"`
	FailureCount       int       `json:"failure_count"`
	AvgTruthScore      float64   `json:"avg_truth_score"`
	TruthScoreVariance float64   `json:"truth_score_variance"`
	Reliability        float64   `json:"reliability"`
	Trend              Trend     `json:"recent_trend"`
	Quarantined        bool      `json:"quarantined"`
	LastUpdated        time.Time `json:"last_updated"`
}

// AdaptiveThreshold is the acceptance threshold state for one
// (agent type, file type) context. The adjusted threshold always stays
// inside the confidence interval around the base.
type AdaptiveThreshold struct {
	AgentType         string    `json:"agent_type"`
	FileType          string    `json:"file_type,omitempty"`
	BaseThreshold     float64   `json:"base_threshold"`
	AdjustedThreshold float64   `json:"adjusted_threshold"`
	ConfidenceMin     float64   `json:"confidence_min"`
	ConfidenceMax     float64   `json:"confidence_max"`
	SampleSize        int       `json:"sample_size"`
	LastUpdated       time.Time `json:"last_updated"`
}

// VerificationDAO persists verification outcomes (append-only) and serves
// the recent-window queries the learner needs.
type VerificationDAO interface {
	Insert(ctx context.Context, outcome *VerificationOutcome) error
	ListRecentByAgent(ctx context.Context, agentID string, limit int) ([]*VerificationOutcome, error)
	ListRecentByContext(ctx context.Context, agentType, fileType string, limit int) ([]*VerificationOutcome, error)
}

// ReliabilityDAO persists per-agent reliability rows. Mutate upserts: fn
// receives a zero-valued row (with key fields set) for a new agent, and
// must be applied as an atomic read-modify-write on that agent's row.
type ReliabilityDAO interface {
	Get(ctx context.Context, agentID string) (*AgentReliability, error)
	Mutate(ctx context.Context, agentID, agentType string, fn func(*AgentReliability) error) error
}

// ThresholdDAO persists per-context adaptive thresholds with the same
// upsert/atomicity contract as ReliabilityDAO.
type ThresholdDAO interface {
	Get(ctx context.Context, agentType, fileType string) (*AdaptiveThreshold, error)
	Mutate(ctx context.Context, agentType, fileType string, fn func(*AdaptiveThreshold) error) error
}

// VerificationConfig carries the tunable knobs of the verification loop.
type VerificationConfig struct {
	QuarantineFloor      float64
	QuarantineMinSamples int
	TrendWindow          int
	BaseThreshold        float64
	ThresholdBand        float64
	ThresholdGain        float64
	TargetSuccessRate    float64
}

// DefaultVerificationConfig returns the default knobs.
func DefaultVerificationConfig() VerificationConfig {
	return VerificationConfig{
		QuarantineFloor:      DefaultQuarantineFloor,
		QuarantineMinSamples: DefaultQuarantineMinSamples,
		TrendWindow:          DefaultTrendWindow,
		BaseThreshold:        DefaultBaseThreshold,
		ThresholdBand:        DefaultThresholdBand,
		ThresholdGain:        DefaultThresholdGain,
		TargetSuccessRate:    DefaultTargetSuccessRate,
	}
}

// VerificationLearner maintains agent reliability and adaptive thresholds
// from verification outcomes. It mirrors OutcomeLearner structurally:
// append the outcome, then apply per-row atomic updates keyed by agent and
// by (agent type, file type) context.
type VerificationLearner struct {
	outcomes    VerificationDAO
	reliability ReliabilityDAO
	thresholds  ThresholdDAO
	tracker     Tracker
	cfg         VerificationConfig
	logger      *slog.Logger
}

// VerificationLearnerOption is a functional option for configuring
// VerificationLearner.
type VerificationLearnerOption func(*VerificationLearner)

// WithVerificationConfig overrides the default knobs.
func WithVerificationConfig(cfg VerificationConfig) VerificationLearnerOption {
	return func(l *VerificationLearner) {
		l.cfg = cfg
	}
}

// WithVerificationTracker overrides the confidence tracker.
func WithVerificationTracker(t Tracker) VerificationLearnerOption {
	return func(l *VerificationLearner) {
		l.tracker = t
	}
}

// WithVerificationLogger configures the logger for the learner.
func WithVerificationLogger(log *slog.Logger) VerificationLearnerOption {
	return func(l *VerificationLearner) {
		l.logger = log
	}
}

// NewVerificationLearner creates a verification learner.
func NewVerificationLearner(outcomes VerificationDAO, reliability ReliabilityDAO, thresholds ThresholdDAO, opts ...VerificationLearnerOption) *VerificationLearner {
	l := &VerificationLearner{
		outcomes:    outcomes,
		reliability: reliability,
		thresholds:  thresholds,
		tracker:     NewTracker(),
		cfg:         DefaultVerificationConfig(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record applies one verification outcome: append it, update the agent's
// reliability row, then recalculate the adaptive threshold for the
// outcome's (agent type, file type) context.
func (l *VerificationLearner) Record(ctx context.Context, outcome VerificationOutcome) error {
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = time.Now().UTC()
	}

	if err := l.outcomes.Insert(ctx, &outcome); err != nil {
		return types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "failed to append verification outcome", err)
	}

	if err := l.updateReliability(ctx, outcome); err != nil {
		return err
	}

	return l.updateThreshold(ctx, outcome)
}

// IsQuarantined reports whether the agent is currently quarantined.
// Unknown agents are not quarantined.
func (l *VerificationLearner) IsQuarantined(ctx context.Context, agentID string) (bool, error) {
	rel, err := l.reliability.Get(ctx, agentID)
	if err != nil {
		return false, err
	}
	if rel == nil {
		return false, nil
	}
	return rel.Quarantined, nil
}

// GetReliability returns the reliability row for an agent, or nil if the
// agent has never been verified.
func (l *VerificationLearner) GetReliability(ctx context.Context, agentID string) (*AgentReliability, error) {
	return l.reliability.Get(ctx, agentID)
}

// GetThreshold returns the effective acceptance threshold for a context.
// Contexts with no recorded outcomes get the configured base threshold.
func (l *VerificationLearner) GetThreshold(ctx context.Context, agentType, fileType string) (float64, error) {
	row, err := l.thresholds.Get(ctx, agentType, fileType)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return l.cfg.BaseThreshold, nil
	}
	return row.AdjustedThreshold, nil
}

func (l *VerificationLearner) updateReliability(ctx context.Context, outcome VerificationOutcome) error {
	recent, err := l.outcomes.ListRecentByAgent(ctx, outcome.AgentID, l.cfg.TrendWindow)
	if err != nil {
		return types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "failed to read recent verifications", err)
	}

	var quarantinedNow bool
	err = l.reliability.Mutate(ctx, outcome.AgentID, outcome.AgentType, func(rel *AgentReliability) error {
		stats := Stats{
			Successes: rel.SuccessCount,
			Failures:  rel.FailureCount,
			Count:     rel.TotalVerifications,
			Mean:      rel.AvgTruthScore,
		}
		stats.M2 = rel.TruthScoreVariance * float64(rel.TotalVerifications)

		stats.Observe(outcome.Passed, outcome.TruthScore)

		rel.SuccessCount = stats.Successes
		rel.FailureCount = stats.Failures
		rel.TotalVerifications = stats.Total()
		rel.AvgTruthScore = stats.Mean
		rel.TruthScoreVariance = stats.Variance()
		rel.Reliability = l.tracker.Confidence(&stats)
		rel.Trend = trendOf(recent, stats.SuccessRate())
		rel.LastUpdated = outcome.Timestamp

		// Quarantine trips below the floor and clears only after the
		// reliability recovers past the hysteresis band.
		if rel.Quarantined {
			if rel.Reliability >= l.cfg.QuarantineFloor+quarantineHysteresis {
				rel.Quarantined = false
			}
		} else if rel.TotalVerifications >= l.cfg.QuarantineMinSamples && rel.Reliability < l.cfg.QuarantineFloor {
			rel.Quarantined = true
		}
		quarantinedNow = rel.Quarantined
		return nil
	})
	if err != nil {
		return types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "failed to update agent reliability", err)
	}

	if quarantinedNow {
		l.logger.Info("agent quarantined",
			"agent_id", outcome.AgentID,
			"agent_type", outcome.AgentType)
	}
	return nil
}

func (l *VerificationLearner) updateThreshold(ctx context.Context, outcome VerificationOutcome) error {
	recent, err := l.outcomes.ListRecentByContext(ctx, outcome.AgentType, outcome.FileType, l.cfg.TrendWindow)
	if err != nil {
		return types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "failed to read recent context verifications", err)
	}

	recentRate := successRate(recent)

	err = l.thresholds.Mutate(ctx, outcome.AgentType, outcome.FileType, func(th *AdaptiveThreshold) error {
		if th.SampleSize == 0 {
			th.BaseThreshold = l.cfg.BaseThreshold
			th.ConfidenceMin = l.cfg.BaseThreshold - l.cfg.ThresholdBand
			th.ConfidenceMax = l.cfg.BaseThreshold + l.cfg.ThresholdBand
		}

		adjusted := th.BaseThreshold + l.cfg.ThresholdGain*(recentRate-l.cfg.TargetSuccessRate)
		if adjusted < th.ConfidenceMin {
			adjusted = th.ConfidenceMin
		}
		if adjusted > th.ConfidenceMax {
			adjusted = th.ConfidenceMax
		}

		th.AdjustedThreshold = adjusted
		th.SampleSize++
		th.LastUpdated = outcome.Timestamp
		return nil
	})
	if err != nil {
		return types.WrapRetryableError(types.STORAGE_UNAVAILABLE, "failed to update adaptive threshold", err)
	}
	return nil
}

// trendOf compares the recent window's success rate against the full
// history's. recent includes outcomes up to but not necessarily including
// the one being recorded; an empty window reads as stable.
func trendOf(recent []*VerificationOutcome, historicalRate float64) Trend {
	if len(recent) == 0 {
		return TrendStable
	}
	recentRate := successRate(recent)
	switch {
	case recentRate > historicalRate+trendTolerance:
		return TrendImproving
	case recentRate < historicalRate-trendTolerance:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func successRate(outcomes []*VerificationOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	passed := 0
	for _, o := range outcomes {
		if o.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(outcomes))
}
