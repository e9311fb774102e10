// Package pattern implements the persistent repository of previously
// successful goal/action-sequence patterns. The store front-ends an injected
// DAO with the matching policy: an exact-fingerprint fast path followed by a
// similarity scan, gated by similarity x confidence against a threshold.
package pattern

import (
	"time"

	"github.com/zero-day-ai/goap/internal/types"
	"github.com/zero-day-ai/goap/internal/world"
)

// InitialConfidence is the confidence assigned to a freshly synthesized
// pattern before any execution outcome has been recorded against it.
const InitialConfidence = 0.5

// Pattern is a previously successful (goal, action-sequence) pairing with
// its accumulated outcome statistics. Patterns are created on the first
// successful search-derived plan and mutated in place by the outcome
// learner on every subsequent execution. They are never deleted on the hot
// path; the maintenance sweep prunes them once confidence stays below the
// floor for the retention window.
type Pattern struct {
	ID              types.ID    `json:"id"`
	GoalFingerprint string      `json:"goal_fingerprint"`
	InitialState    world.State `json:"-"`
	FinalState      world.State `json:"-"`

	// ActionSequence is the ordered list of action IDs that achieved the
	// goal. Replay validates each action's preconditions against the live
	// state before the sequence is trusted.
	ActionSequence []string `json:"action_sequence"`

	// Cost is the total cost of the plan that created this pattern.
	Cost float64 `json:"cost"`

	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
	UsageCount   int `json:"usage_count"`

	// AverageCost and CostVariance are maintained with Welford's online
	// algorithm as execution outcomes arrive.
	AverageCost  float64 `json:"average_cost"`
	CostVariance float64 `json:"cost_variance"`

	// Confidence is the learned trust in this pattern, always in
	// [0.05, 0.99] once any outcome has been recorded.
	Confidence float64 `json:"confidence"`

	// GeneralizationLevel counts how far the pattern has been relaxed from
	// its literal initial state. Level 0 patterns match only their exact
	// fingerprint; higher levels participate in the similarity scan.
	GeneralizationLevel int `json:"generalization_level"`

	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// New synthesizes a candidate pattern from a search-derived plan.
// Every successful search result becomes a candidate immediately; promotion
// happens through outcome recording, not through a separate review step.
func New(goal world.State, initial world.State, final world.State, sequence []string, cost float64) *Pattern {
	now := time.Now().UTC()
	seq := make([]string, len(sequence))
	copy(seq, sequence)
	return &Pattern{
		ID:              types.NewID(),
		GoalFingerprint: world.Fingerprint(goal, initial),
		InitialState:    initial,
		FinalState:      final,
		ActionSequence:  seq,
		Cost:            cost,
		Confidence:      InitialConfidence,
		CreatedAt:       now,
		LastUsed:        now,
	}
}

// SuccessRate returns successes over total usage, or 0 before first use.
func (p *Pattern) SuccessRate() float64 {
	if p.UsageCount == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.UsageCount)
}
