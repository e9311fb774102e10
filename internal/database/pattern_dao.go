package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zero-day-ai/goap/internal/pattern"
	"github.com/zero-day-ai/goap/internal/types"
	"github.com/zero-day-ai/goap/internal/world"
)

const patternColumns = `id, goal, initial_state, final_state, action_sequence, cost,
	success_count, failure_count, times_used, average_cost, cost_variance,
	confidence, generalization_level, created_at, last_used`

// PatternDAO implements pattern.DAO over the goap_patterns table.
type PatternDAO struct {
	db *DB
}

// NewPatternDAO creates a pattern DAO.
func NewPatternDAO(db *DB) *PatternDAO {
	return &PatternDAO{db: db}
}

var _ pattern.DAO = (*PatternDAO)(nil)

// Insert persists a new pattern.
func (d *PatternDAO) Insert(ctx context.Context, p *pattern.Pattern) error {
	initial, err := json.Marshal(p.InitialState)
	if err != nil {
		return fmt.Errorf("failed to marshal initial state: %w", err)
	}
	final, err := json.Marshal(p.FinalState)
	if err != nil {
		return fmt.Errorf("failed to marshal final state: %w", err)
	}
	sequence, err := json.Marshal(p.ActionSequence)
	if err != nil {
		return fmt.Errorf("failed to marshal action sequence: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO goap_patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.GoalFingerprint, string(initial), string(final), string(sequence),
		p.Cost, p.SuccessCount, p.FailureCount, p.UsageCount, p.AverageCost,
		p.CostVariance, p.Confidence, p.GeneralizationLevel, p.CreatedAt, p.LastUsed)
	if err != nil {
		return fmt.Errorf("failed to insert pattern: %w", err)
	}
	return nil
}

// GetByID retrieves a pattern by ID.
func (d *PatternDAO) GetByID(ctx context.Context, id string) (*pattern.Pattern, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM goap_patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, types.NewError(types.PATTERN_NOT_FOUND, fmt.Sprintf("pattern %s not found", id))
	}
	return p, err
}

// GetByFingerprint retrieves all patterns sharing a goal fingerprint,
// most recently used first.
func (d *PatternDAO) GetByFingerprint(ctx context.Context, fingerprint string) ([]*pattern.Pattern, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM goap_patterns WHERE goal = ? ORDER BY last_used DESC`,
		fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns by fingerprint: %w", err)
	}
	defer rows.Close()
	return collectPatterns(rows)
}

// List retrieves all stored patterns, most recently used first.
func (d *PatternDAO) List(ctx context.Context) ([]*pattern.Pattern, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+patternColumns+` FROM goap_patterns ORDER BY last_used DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()
	return collectPatterns(rows)
}

// Mutate applies fn to one pattern row as an atomic read-modify-write.
func (d *PatternDAO) Mutate(ctx context.Context, id string, fn func(*pattern.Pattern) error) error {
	return d.db.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+patternColumns+` FROM goap_patterns WHERE id = ?`, id)
		p, err := scanPattern(row)
		if err == sql.ErrNoRows {
			return types.NewError(types.PATTERN_NOT_FOUND, fmt.Sprintf("pattern %s not found", id))
		}
		if err != nil {
			return err
		}

		if err := fn(p); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE goap_patterns
			SET success_count = ?, failure_count = ?, times_used = ?,
				average_cost = ?, cost_variance = ?, confidence = ?,
				generalization_level = ?, last_used = ?
			WHERE id = ?`,
			p.SuccessCount, p.FailureCount, p.UsageCount, p.AverageCost,
			p.CostVariance, p.Confidence, p.GeneralizationLevel, p.LastUsed, id)
		if err != nil {
			return fmt.Errorf("failed to update pattern: %w", err)
		}
		return nil
	})
}

// TouchLastUsed updates the last_used timestamp for a pattern.
func (d *PatternDAO) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE goap_patterns SET last_used = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch pattern: %w", err)
	}
	return nil
}

// Prune hard-deletes patterns whose confidence stayed below floor and whose
// last use predates cutoff. Returns the number of patterns removed.
func (d *PatternDAO) Prune(ctx context.Context, floor float64, cutoff time.Time) (int, error) {
	var removed int
	err := d.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM goap_patterns WHERE confidence < ? AND last_used < ?`,
			floor, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune patterns: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = int(n)
		return nil
	})
	return removed, err
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*pattern.Pattern, error) {
	var (
		p                   pattern.Pattern
		id                  string
		initial, final, seq string
	)
	err := row.Scan(&id, &p.GoalFingerprint, &initial, &final, &seq,
		&p.Cost, &p.SuccessCount, &p.FailureCount, &p.UsageCount, &p.AverageCost,
		&p.CostVariance, &p.Confidence, &p.GeneralizationLevel, &p.CreatedAt, &p.LastUsed)
	if err != nil {
		return nil, err
	}

	p.ID = types.ID(id)
	if err := unmarshalState(initial, &p.InitialState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal initial state: %w", err)
	}
	if err := unmarshalState(final, &p.FinalState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal final state: %w", err)
	}
	if err := json.Unmarshal([]byte(seq), &p.ActionSequence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action sequence: %w", err)
	}
	return &p, nil
}

func collectPatterns(rows *sql.Rows) ([]*pattern.Pattern, error) {
	var out []*pattern.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func unmarshalState(raw string, s *world.State) error {
	if raw == "" {
		*s = world.Empty()
		return nil
	}
	return json.Unmarshal([]byte(raw), s)
}
