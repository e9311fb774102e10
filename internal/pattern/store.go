package pattern

import (
	"context"
	"log/slog"
	"time"

	"github.com/zero-day-ai/goap/internal/world"
)

// DefaultMatchThreshold is the minimum similarity x confidence product for
// a stored pattern to be accepted for reuse.
const DefaultMatchThreshold = 0.7

// DAO provides persistence operations for patterns. Implementations must
// apply Mutate as an atomic read-modify-write scoped to the single pattern
// row, so concurrent outcome recordings for different patterns proceed
// without contention while recordings for the same pattern serialize.
type DAO interface {
	// Insert persists a new pattern.
	Insert(ctx context.Context, p *Pattern) error

	// GetByID retrieves a pattern by ID.
	GetByID(ctx context.Context, id string) (*Pattern, error)

	// GetByFingerprint retrieves all patterns sharing a goal fingerprint.
	GetByFingerprint(ctx context.Context, fingerprint string) ([]*Pattern, error)

	// List retrieves all stored patterns, most recently used first.
	List(ctx context.Context) ([]*Pattern, error)

	// Mutate applies fn to the pattern row identified by id inside a
	// transaction and writes the result back.
	Mutate(ctx context.Context, id string, fn func(*Pattern) error) error

	// TouchLastUsed updates the last_used timestamp for a pattern.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error

	// Prune hard-deletes patterns whose confidence has stayed below floor
	// and whose last use predates cutoff. Returns the number removed.
	Prune(ctx context.Context, floor float64, cutoff time.Time) (int, error)
}

// Match is an accepted pattern lookup result.
type Match struct {
	Pattern *Pattern

	// Similarity is the state-overlap score against the live state, in [0, 1].
	Similarity float64

	// Score is similarity x confidence, the value compared to the threshold.
	Score float64

	// Exact indicates the match came from the fingerprint fast path rather
	// than the similarity scan.
	Exact bool
}

// Store wraps a DAO with the pattern matching policy.
type Store struct {
	dao            DAO
	matchThreshold float64
	logger         *slog.Logger
}

// StoreOption is a functional option for configuring Store.
type StoreOption func(*Store)

// WithMatchThreshold overrides the default acceptance threshold.
func WithMatchThreshold(threshold float64) StoreOption {
	return func(s *Store) {
		s.matchThreshold = threshold
	}
}

// WithLogger configures the logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates a pattern store backed by the given DAO.
func NewStore(dao DAO, opts ...StoreOption) *Store {
	s := &Store{
		dao:            dao,
		matchThreshold: DefaultMatchThreshold,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup finds the best reusable pattern for the given goal and live state.
// It tries the exact fingerprint index first, then falls back to a
// similarity scan across all patterns. A candidate is accepted only when
// similarity x confidence meets the match threshold. Returns (nil, nil)
// when no pattern qualifies; absence of a match is an expected outcome,
// not an error.
func (s *Store) Lookup(ctx context.Context, goal world.State, current world.State) (*Match, error) {
	fingerprint := world.Fingerprint(goal, current)

	exact, err := s.dao.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if match := s.best(exact, current, true); match != nil {
		s.logger.Debug("pattern lookup hit on fingerprint fast path",
			"pattern_id", match.Pattern.ID,
			"score", match.Score)
		return match, nil
	}

	all, err := s.dao.List(ctx)
	if err != nil {
		return nil, err
	}
	match := s.best(all, current, false)
	if match != nil {
		s.logger.Debug("pattern lookup hit on similarity scan",
			"pattern_id", match.Pattern.ID,
			"similarity", match.Similarity,
			"score", match.Score)
	}
	return match, nil
}

// best scores candidates against the live state and returns the highest
// scoring one that clears the threshold, or nil.
func (s *Store) best(candidates []*Pattern, current world.State, exact bool) *Match {
	var top *Match
	for _, p := range candidates {
		similarity := p.InitialState.Overlap(current)
		score := similarity * p.Confidence
		if score < s.matchThreshold {
			continue
		}
		if top == nil || score > top.Score {
			top = &Match{
				Pattern:    p,
				Similarity: similarity,
				Score:      score,
				Exact:      exact,
			}
		}
	}
	return top
}

// Candidates returns all stored patterns for heuristic boost scoring.
func (s *Store) Candidates(ctx context.Context) ([]*Pattern, error) {
	return s.dao.List(ctx)
}

// Put persists a new candidate pattern.
func (s *Store) Put(ctx context.Context, p *Pattern) error {
	return s.dao.Insert(ctx, p)
}

// Get retrieves a pattern by ID.
func (s *Store) Get(ctx context.Context, id string) (*Pattern, error) {
	return s.dao.GetByID(ctx, id)
}

// Mutate applies an atomic read-modify-write to a single pattern row.
// The outcome learner uses this to fold execution results into the
// pattern's statistics.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*Pattern) error) error {
	return s.dao.Mutate(ctx, id, fn)
}

// MarkUsed stamps the pattern's last_used time.
func (s *Store) MarkUsed(ctx context.Context, id string) error {
	return s.dao.TouchLastUsed(ctx, id, time.Now().UTC())
}

// Prune removes patterns whose confidence has stayed below floor since
// before cutoff. This is the maintenance sweep, never the hot path.
func (s *Store) Prune(ctx context.Context, floor float64, cutoff time.Time) (int, error) {
	n, err := s.dao.Prune(ctx, floor, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pruned low-confidence patterns", "removed", n, "floor", floor)
	}
	return n, nil
}
