package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zero-day-ai/goap/internal/heuristic"
)

// HeuristicDAO implements heuristic.SampleDAO over the
// goap_heuristic_learning table, keyed by (state_hash, goal_hash).
type HeuristicDAO struct {
	db *DB
}

// NewHeuristicDAO creates a heuristic sample DAO.
func NewHeuristicDAO(db *DB) *HeuristicDAO {
	return &HeuristicDAO{db: db}
}

var _ heuristic.SampleDAO = (*HeuristicDAO)(nil)

// Get returns the sample for a (state, goal) pair, or (nil, nil) when the
// pair has never been recorded.
func (d *HeuristicDAO) Get(ctx context.Context, stateHash, goalHash string) (*heuristic.Sample, error) {
	sample, err := scanSample(d.db.QueryRowContext(ctx, `
		SELECT state_hash, goal_hash, estimated_cost, actual_cost,
			times_encountered, average_error, confidence, last_updated
		FROM goap_heuristic_learning WHERE state_hash = ? AND goal_hash = ?`,
		stateHash, goalHash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sample, err
}

// Mutate upserts the sample row for a pair as an atomic read-modify-write.
// fn receives a zero-valued sample with key fields set when the pair is new.
func (d *HeuristicDAO) Mutate(ctx context.Context, stateHash, goalHash string, fn func(*heuristic.Sample) error) error {
	return d.db.WithTx(ctx, func(tx *sql.Tx) error {
		sample, err := scanSample(tx.QueryRowContext(ctx, `
			SELECT state_hash, goal_hash, estimated_cost, actual_cost,
				times_encountered, average_error, confidence, last_updated
			FROM goap_heuristic_learning WHERE state_hash = ? AND goal_hash = ?`,
			stateHash, goalHash))
		if err == sql.ErrNoRows {
			sample = &heuristic.Sample{StateHash: stateHash, GoalHash: goalHash}
		} else if err != nil {
			return err
		}

		if err := fn(sample); err != nil {
			return err
		}
		if sample.LastUpdated.IsZero() {
			sample.LastUpdated = time.Now().UTC()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO goap_heuristic_learning (state_hash, goal_hash,
				estimated_cost, actual_cost, times_encountered, average_error,
				confidence, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (state_hash, goal_hash) DO UPDATE SET
				estimated_cost = excluded.estimated_cost,
				actual_cost = excluded.actual_cost,
				times_encountered = excluded.times_encountered,
				average_error = excluded.average_error,
				confidence = excluded.confidence,
				last_updated = excluded.last_updated`,
			sample.StateHash, sample.GoalHash, sample.EstimatedCost, sample.ActualCost,
			sample.TimesEncountered, sample.AverageError, sample.Confidence, sample.LastUpdated)
		if err != nil {
			return fmt.Errorf("failed to upsert heuristic sample: %w", err)
		}
		return nil
	})
}

func scanSample(row rowScanner) (*heuristic.Sample, error) {
	var s heuristic.Sample
	err := row.Scan(&s.StateHash, &s.GoalHash, &s.EstimatedCost, &s.ActualCost,
		&s.TimesEncountered, &s.AverageError, &s.Confidence, &s.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
