package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zero-day-ai/goap/internal/learning"
	"github.com/zero-day-ai/goap/internal/types"
)

// VerificationDAO implements learning.VerificationDAO over the append-only
// verification_outcomes table.
type VerificationDAO struct {
	db *DB
}

// NewVerificationDAO creates a verification outcome DAO.
func NewVerificationDAO(db *DB) *VerificationDAO {
	return &VerificationDAO{db: db}
}

var _ learning.VerificationDAO = (*VerificationDAO)(nil)

// Insert appends one verification outcome. Rows are never updated.
func (d *VerificationDAO) Insert(ctx context.Context, outcome *learning.VerificationOutcome) error {
	var scores any
	if len(outcome.ComponentScores) > 0 {
		raw, err := json.Marshal(outcome.ComponentScores)
		if err != nil {
			return fmt.Errorf("failed to marshal component scores: %w", err)
		}
		scores = string(raw)
	}

	ts := outcome.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO verification_outcomes (id, task_id, agent_id, agent_type,
			file_type, passed, truth_score, threshold, component_scores, duration, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		types.NewID().String(), outcome.TaskID.String(), outcome.AgentID,
		outcome.AgentType, outcome.FileType, outcome.Passed, outcome.TruthScore,
		outcome.Threshold, scores, outcome.DurationMs, ts)
	if err != nil {
		return fmt.Errorf("failed to insert verification outcome: %w", err)
	}
	return nil
}

// ListRecentByAgent returns the most recent outcomes for an agent, newest
// first, up to limit.
func (d *VerificationDAO) ListRecentByAgent(ctx context.Context, agentID string, limit int) ([]*learning.VerificationOutcome, error) {
	rows, err := d.db.QueryContext(ctx,
		verificationSelect+` WHERE agent_id = ? ORDER BY timestamp DESC LIMIT ?`,
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes by agent: %w", err)
	}
	defer rows.Close()
	return collectVerifications(rows)
}

// ListRecentByContext returns the most recent outcomes for an
// (agent type, file type) context, newest first, up to limit.
func (d *VerificationDAO) ListRecentByContext(ctx context.Context, agentType, fileType string, limit int) ([]*learning.VerificationOutcome, error) {
	rows, err := d.db.QueryContext(ctx,
		verificationSelect+` WHERE agent_type = ? AND file_type = ? ORDER BY timestamp DESC LIMIT ?`,
		agentType, fileType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes by context: %w", err)
	}
	defer rows.Close()
	return collectVerifications(rows)
}

const verificationSelect = `
	SELECT task_id, agent_id, agent_type, file_type, passed, truth_score,
		threshold, component_scores, duration, timestamp
	FROM verification_outcomes`

func collectVerifications(rows *sql.Rows) ([]*learning.VerificationOutcome, error) {
	var out []*learning.VerificationOutcome
	for rows.Next() {
		var (
			o      learning.VerificationOutcome
			taskID string
			scores sql.NullString
		)
		if err := rows.Scan(&taskID, &o.AgentID, &o.AgentType, &o.FileType,
			&o.Passed, &o.TruthScore, &o.Threshold, &scores, &o.DurationMs,
			&o.Timestamp); err != nil {
			return nil, err
		}
		o.TaskID = types.ID(taskID)
		if scores.Valid && scores.String != "" {
			if err := json.Unmarshal([]byte(scores.String), &o.ComponentScores); err != nil {
				return nil, fmt.Errorf("failed to unmarshal component scores: %w", err)
			}
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// ReliabilityDAO implements learning.ReliabilityDAO over the
// agent_reliability table, one row per agent.
type ReliabilityDAO struct {
	db *DB
}

// NewReliabilityDAO creates an agent reliability DAO.
func NewReliabilityDAO(db *DB) *ReliabilityDAO {
	return &ReliabilityDAO{db: db}
}

var _ learning.ReliabilityDAO = (*ReliabilityDAO)(nil)

// Get returns the reliability row for an agent, or (nil, nil) when the
// agent has never been verified.
func (d *ReliabilityDAO) Get(ctx context.Context, agentID string) (*learning.AgentReliability, error) {
	rel, err := scanReliability(d.db.QueryRowContext(ctx,
		reliabilitySelect+` WHERE agent_id = ?`, agentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rel, err
}

// Mutate upserts the agent's reliability row as an atomic read-modify-write.
func (d *ReliabilityDAO) Mutate(ctx context.Context, agentID, agentType string, fn func(*learning.AgentReliability) error) error {
	return d.db.WithTx(ctx, func(tx *sql.Tx) error {
		rel, err := scanReliability(tx.QueryRowContext(ctx,
			reliabilitySelect+` WHERE agent_id = ?`, agentID))
		if err == sql.ErrNoRows {
			rel = &learning.AgentReliability{
				AgentID:   agentID,
				AgentType: agentType,
				Trend:     learning.TrendStable,
			}
		} else if err != nil {
			return err
		}

		if err := fn(rel); err != nil {
			return err
		}
		if rel.LastUpdated.IsZero() {
			rel.LastUpdated = time.Now().UTC()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO agent_reliability (agent_id, agent_type,
				total_verifications, success_count, failure_count,
				avg_truth_score, truth_score_variance, reliability,
				recent_trend, quarantined, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (agent_id) DO UPDATE SET
				agent_type = excluded.agent_type,
				total_verifications = excluded.total_verifications,
				success_count = excluded.success_count,
				failure_count = excluded.failure_count,
				avg_truth_score = excluded.avg_truth_score,
				truth_score_variance = excluded.truth_score_variance,
				reliability = excluded.reliability,
				recent_trend = excluded.recent_trend,
				quarantined = excluded.quarantined,
				last_updated = excluded.last_updated`,
			rel.AgentID, rel.AgentType, rel.TotalVerifications, rel.SuccessCount,
			rel.FailureCount, rel.AvgTruthScore, rel.TruthScoreVariance,
			rel.Reliability, string(rel.Trend), rel.Quarantined, rel.LastUpdated)
		if err != nil {
			return fmt.Errorf("failed to upsert agent reliability: %w", err)
		}
		return nil
	})
}

const reliabilitySelect = `
	SELECT agent_id, agent_type, total_verifications, success_count,
		failure_count, avg_truth_score, truth_score_variance, reliability,
		recent_trend, quarantined, last_updated
	FROM agent_reliability`

func scanReliability(row rowScanner) (*learning.AgentReliability, error) {
	var (
		rel   learning.AgentReliability
		trend string
	)
	err := row.Scan(&rel.AgentID, &rel.AgentType, &rel.TotalVerifications,
		&rel.SuccessCount, &rel.FailureCount, &rel.AvgTruthScore,
		&rel.TruthScoreVariance, &rel.Reliability, &trend, &rel.Quarantined,
		&rel.LastUpdated)
	if err != nil {
		return nil, err
	}
	rel.Trend = learning.Trend(trend)
	return &rel, nil
}

// ThresholdDAO implements learning.ThresholdDAO over the
// adaptive_thresholds table, one row per (agent type, file type) context.
type ThresholdDAO struct {
	db *DB
}

// NewThresholdDAO creates an adaptive threshold DAO.
func NewThresholdDAO(db *DB) *ThresholdDAO {
	return &ThresholdDAO{db: db}
}

var _ learning.ThresholdDAO = (*ThresholdDAO)(nil)

// Get returns the threshold row for a context, or (nil, nil) when the
// context has never been verified.
func (d *ThresholdDAO) Get(ctx context.Context, agentType, fileType string) (*learning.AdaptiveThreshold, error) {
	th, err := scanThreshold(d.db.QueryRowContext(ctx,
		thresholdSelect+` WHERE agent_type = ? AND file_type = ?`, agentType, fileType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return th, err
}

// Mutate upserts the context's threshold row as an atomic read-modify-write.
func (d *ThresholdDAO) Mutate(ctx context.Context, agentType, fileType string, fn func(*learning.AdaptiveThreshold) error) error {
	return d.db.WithTx(ctx, func(tx *sql.Tx) error {
		th, err := scanThreshold(tx.QueryRowContext(ctx,
			thresholdSelect+` WHERE agent_type = ? AND file_type = ?`, agentType, fileType))
		if err == sql.ErrNoRows {
			th = &learning.AdaptiveThreshold{AgentType: agentType, FileType: fileType}
		} else if err != nil {
			return err
		}

		if err := fn(th); err != nil {
			return err
		}
		if th.LastUpdated.IsZero() {
			th.LastUpdated = time.Now().UTC()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO adaptive_thresholds (agent_type, file_type,
				base_threshold, adjusted_threshold, confidence_min,
				confidence_max, sample_size, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (agent_type, file_type) DO UPDATE SET
				base_threshold = excluded.base_threshold,
				adjusted_threshold = excluded.adjusted_threshold,
				confidence_min = excluded.confidence_min,
				confidence_max = excluded.confidence_max,
				sample_size = excluded.sample_size,
				last_updated = excluded.last_updated`,
			th.AgentType, th.FileType, th.BaseThreshold, th.AdjustedThreshold,
			th.ConfidenceMin, th.ConfidenceMax, th.SampleSize, th.LastUpdated)
		if err != nil {
			return fmt.Errorf("failed to upsert adaptive threshold: %w", err)
		}
		return nil
	})
}

const thresholdSelect = `
	SELECT agent_type, file_type, base_threshold, adjusted_threshold,
		confidence_min, confidence_max, sample_size, last_updated
	FROM adaptive_thresholds`

func scanThreshold(row rowScanner) (*learning.AdaptiveThreshold, error) {
	var th learning.AdaptiveThreshold
	err := row.Scan(&th.AgentType, &th.FileType, &th.BaseThreshold,
		&th.AdjustedThreshold, &th.ConfidenceMin, &th.ConfidenceMax,
		&th.SampleSize, &th.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &th, nil
}
