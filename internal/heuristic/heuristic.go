// Package heuristic computes A* cost estimates for the planner. The
// estimate blends a static goal-distance base with two learned signals:
// a pattern boost that relaxes the estimate toward known-good paths, and
// per-(state, goal) samples that correct the base with observed costs.
package heuristic

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/zero-day-ai/goap/internal/pattern"
	"github.com/zero-day-ai/goap/internal/world"
)

// DefaultBoostFactor scales how strongly a matching pattern pulls the
// estimate down toward its known path.
const DefaultBoostFactor = 0.3

// boostSimilarityFloor is the minimum state overlap for a pattern to
// contribute to the boost at all.
const boostSimilarityFloor = 0.8

// maxBoostFraction bounds how much of the base estimate the pattern boost
// may remove. The boost makes the heuristic inadmissible on purpose; the
// bound keeps the search goal-directed instead of pattern-blind.
const maxBoostFraction = 0.5

// Sample is the learned cost record for one (state, goal) pair.
// Samples are keyed by the pair's hashes and updated with a running
// average on every outcome that reaches the pair during search.
type Sample struct {
	StateHash        string    `json:"state_hash"`
	GoalHash         string    `json:"goal_hash"`
	EstimatedCost    float64   `json:"estimated_cost"`
	ActualCost       float64   `json:"actual_cost"`
	AverageError     float64   `json:"average_error"`
	Confidence       float64   `json:"confidence"`
	TimesEncountered int       `json:"times_encountered"`
	LastUpdated      time.Time `json:"last_updated"`
}

// SampleDAO persists heuristic samples. Get returns (nil, nil) when no
// sample exists for the pair. Mutate upserts: fn receives a zero-valued
// sample (with key fields set) when the pair is new.
type SampleDAO interface {
	Get(ctx context.Context, stateHash, goalHash string) (*Sample, error)
	Mutate(ctx context.Context, stateHash, goalHash string, fn func(*Sample) error) error
}

// PatternSource supplies candidate patterns for the boost computation.
// pattern.Store satisfies this through its Candidates method.
type PatternSource interface {
	Candidates(ctx context.Context) ([]*pattern.Pattern, error)
}

// Engine computes cost estimates for the A* search.
type Engine struct {
	samples     SampleDAO
	patterns    PatternSource
	boostFactor float64
	logger      *slog.Logger
}

// Option is a functional option for configuring Engine.
type Option func(*Engine)

// WithBoostFactor overrides the default pattern boost factor.
func WithBoostFactor(f float64) Option {
	return func(e *Engine) {
		e.boostFactor = f
	}
}

// WithLogger configures the logger for the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a heuristic engine. patterns may be nil, in which case
// no boost is applied.
func NewEngine(samples SampleDAO, patterns PatternSource, opts ...Option) *Engine {
	e := &Engine{
		samples:     samples,
		patterns:    patterns,
		boostFactor: DefaultBoostFactor,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate returns the heuristic cost from state to goal.
//
// base is the weighted count of unmet goal facts (weight 1.0 for facts not
// listed in weights). The pattern boost subtracts confidence x similarity x
// boostFactor for each stored pattern close to the query, bounded so the
// boost never removes more than half the base. When a learned sample exists
// for the (state, goal) pair, the computed value is blended toward the
// sample's observed cost in proportion to the sample's confidence.
func (e *Engine) Estimate(ctx context.Context, state, goal world.State, weights map[string]float64) (float64, error) {
	base := 0.0
	for _, fact := range state.UnmetFacts(goal) {
		w, ok := weights[fact]
		if !ok {
			w = 1.0
		}
		base += w
	}
	if base == 0 {
		return 0, nil
	}

	estimate := base - e.boost(ctx, state, base)

	if e.samples != nil {
		sample, err := e.samples.Get(ctx, state.Hash(), goal.Hash())
		if err != nil {
			return 0, err
		}
		if sample != nil && sample.TimesEncountered > 0 {
			estimate = estimate*(1-sample.Confidence) + sample.ActualCost*sample.Confidence
		}
	}

	return estimate, nil
}

// boost sums the pattern contributions, capped at maxBoostFraction of base.
func (e *Engine) boost(ctx context.Context, state world.State, base float64) float64 {
	if e.patterns == nil || e.boostFactor == 0 {
		return 0
	}

	candidates, err := e.patterns.Candidates(ctx)
	if err != nil {
		// Heuristic degradation is not a planning failure; fall back to the
		// static estimate and leave a trace for debugging.
		e.logger.Debug("pattern boost unavailable", "error", err)
		return 0
	}

	total := 0.0
	for _, p := range candidates {
		similarity := p.InitialState.Overlap(state)
		if similarity < boostSimilarityFloor {
			continue
		}
		total += p.Confidence * similarity * e.boostFactor
	}

	if limit := base * maxBoostFraction; total > limit {
		return limit
	}
	return total
}

// RecordError folds an observed plan cost into the sample for a (state,
// goal) pair visited during the corresponding search. The sample's actual
// cost converges by running average and its confidence grows with the
// number of encounters.
func (e *Engine) RecordError(ctx context.Context, stateHash, goalHash string, estimated, actual float64) error {
	if e.samples == nil {
		return nil
	}
	return e.samples.Mutate(ctx, stateHash, goalHash, func(s *Sample) error {
		s.StateHash = stateHash
		s.GoalHash = goalHash
		s.TimesEncountered++

		n := float64(s.TimesEncountered)
		s.ActualCost += (actual - s.ActualCost) / n
		s.EstimatedCost += (estimated - s.EstimatedCost) / n

		errAbs := math.Abs(actual - estimated)
		s.AverageError += (errAbs - s.AverageError) / n

		s.Confidence = math.Min(0.9, n/(n+3))
		s.LastUpdated = time.Now().UTC()
		return nil
	})
}
