// Package learning implements the outcome feedback loops: execution
// outcomes fold into pattern confidence and heuristic samples, and
// verification outcomes fold into agent reliability and adaptive
// thresholds. Both loops share one confidence-update rule, Tracker, so the
// pattern and verification sides can never drift apart.
package learning

import "math"

// Default confidence weighting and clamps.
const (
	// DefaultSuccessWeight is the share of confidence driven by the raw
	// success rate.
	DefaultSuccessWeight = 0.7

	// DefaultStabilityWeight is the share driven by how consistent the
	// observed values (cost or truth score) have been.
	DefaultStabilityWeight = 0.3

	// ConfidenceMin is the lower clamp. Confidence never reaches zero by
	// arithmetic alone; hard pruning is a separate maintenance step.
	ConfidenceMin = 0.05

	// ConfidenceMax is the upper clamp. No pattern or agent is ever
	// permanently trusted.
	ConfidenceMax = 0.99
)

// Stats accumulates outcome observations for one tracked entity (a pattern
// or an agent). The mean and variance of the observed value are maintained
// with Welford's online algorithm for numerical stability.
type Stats struct {
	Successes int
	Failures  int

	// Count, Mean and M2 are the Welford accumulators over the observed
	// value (actual cost for patterns, truth score for agents).
	Count int
	Mean  float64
	M2    float64
}

// Observe folds one outcome into the stats.
func (s *Stats) Observe(success bool, value float64) {
	if success {
		s.Successes++
	} else {
		s.Failures++
	}

	s.Count++
	delta := value - s.Mean
	s.Mean += delta / float64(s.Count)
	s.M2 += delta * (value - s.Mean)
}

// Total returns the number of observations.
func (s *Stats) Total() int {
	return s.Successes + s.Failures
}

// SuccessRate returns successes over total, or 0 before any observation.
func (s *Stats) SuccessRate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(total)
}

// Variance returns the population variance of the observed value.
func (s *Stats) Variance() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.M2 / float64(s.Count)
}

// Stability scores how consistent the observed values have been, in [0, 1]:
// 1 - min(1, stddev/mean). A zero or negative mean with any spread scores 0.
func (s *Stats) Stability() float64 {
	if s.Count == 0 {
		return 0
	}
	stddev := math.Sqrt(s.Variance())
	if s.Mean <= 0 {
		if stddev == 0 {
			return 1
		}
		return 0
	}
	ratio := stddev / s.Mean
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

// Tracker is the shared confidence-update rule: a weighted blend of success
// rate and value stability, clamped so confidence never saturates at 0 or 1.
// The outcome learner applies it to patterns (value = actual cost) and the
// verification learner applies it to agents (value = truth score).
type Tracker struct {
	SuccessWeight   float64
	StabilityWeight float64
	Min             float64
	Max             float64
}

// NewTracker returns a Tracker with the default weighting and clamps.
func NewTracker() Tracker {
	return Tracker{
		SuccessWeight:   DefaultSuccessWeight,
		StabilityWeight: DefaultStabilityWeight,
		Min:             ConfidenceMin,
		Max:             ConfidenceMax,
	}
}

// Confidence computes the clamped confidence for the given stats.
func (t Tracker) Confidence(s *Stats) float64 {
	value := t.SuccessWeight*s.SuccessRate() + t.StabilityWeight*s.Stability()
	return t.Clamp(value)
}

// Clamp bounds a confidence value into [Min, Max].
func (t Tracker) Clamp(value float64) float64 {
	if value < t.Min {
		return t.Min
	}
	if value > t.Max {
		return t.Max
	}
	return value
}
