// Package world defines the immutable value types the planner operates on:
// world states, goals, and actions. A WorldState is a flat mapping from fact
// name to scalar value; goals are partial states where only the listed facts
// must match.
package world

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ValueKind identifies the scalar type stored in a Value.
type ValueKind int

const (
	// KindBool is a boolean fact value.
	KindBool ValueKind = iota

	// KindNumber is a numeric fact value. All numbers normalize to float64.
	KindNumber

	// KindString is a string fact value.
	KindString
)

// Value is a scalar fact value: a bool, a number, or a string.
// Values are compared structurally; numbers compare as float64.
type Value struct {
	Kind ValueKind
	Bool bool
	Num  float64
	Str  string
}

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Num returns a numeric Value.
func Num(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Str returns a string Value.
func Str(s string) Value { return Value{Kind: KindString, Str: s} }

// Equal reports whether two values are structurally equal.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == other.Bool
	case KindNumber:
		return v.Num == other.Num
	case KindString:
		return v.Str == other.Str
	default:
		return false
	}
}

// String returns a canonical text form used in fingerprints and logs.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("b:%t", v.Bool)
	case KindNumber:
		return fmt.Sprintf("n:%g", v.Num)
	case KindString:
		return "s:" + v.Str
	default:
		return "?"
	}
}

// State is an immutable mapping from fact name to scalar value.
// It is used both as a full current-state and as a partial goal-state.
// All methods return new State values; the receiver is never modified.
type State struct {
	facts map[string]Value
}

// NewState creates a State from the given facts. The input map is copied.
func NewState(facts map[string]Value) State {
	copied := make(map[string]Value, len(facts))
	for k, v := range facts {
		copied[k] = v
	}
	return State{facts: copied}
}

// Empty returns a State with no facts.
func Empty() State {
	return State{facts: map[string]Value{}}
}

// Get returns the value for a fact and whether it is present.
func (s State) Get(fact string) (Value, bool) {
	v, ok := s.facts[fact]
	return v, ok
}

// Len returns the number of facts in the state.
func (s State) Len() int {
	return len(s.facts)
}

// Facts returns the fact names in sorted order.
func (s State) Facts() []string {
	names := make([]string, 0, len(s.facts))
	for k := range s.facts {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Satisfies reports whether every fact in goal is present in s with an
// equal value. Goal satisfaction is a partial match: facts in s that the
// goal does not mention are ignored.
func (s State) Satisfies(goal State) bool {
	for fact, want := range goal.facts {
		got, ok := s.facts[fact]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

// UnmetFacts returns the goal facts that s does not currently satisfy,
// in sorted order. Used by the heuristic to count goal gaps.
func (s State) UnmetFacts(goal State) []string {
	var unmet []string
	for fact, want := range goal.facts {
		got, ok := s.facts[fact]
		if !ok || !got.Equal(want) {
			unmet = append(unmet, fact)
		}
	}
	sort.Strings(unmet)
	return unmet
}

// Apply returns a new State with the given effects overlaid on s.
func (s State) Apply(effects State) State {
	next := make(map[string]Value, len(s.facts)+len(effects.facts))
	for k, v := range s.facts {
		next[k] = v
	}
	for k, v := range effects.facts {
		next[k] = v
	}
	return State{facts: next}
}

// Equal reports structural equality: both states hold exactly the same
// facts with equal values.
func (s State) Equal(other State) bool {
	if len(s.facts) != len(other.facts) {
		return false
	}
	return s.Satisfies(other)
}

// Overlap scores how well other matches the facts of s, in [0, 1]:
// each of s's facts that other holds with an equal value adds one, each
// missing or mismatched fact subtracts one, and the sum is scaled into
// [0, 1]. Facts present only in other are ignored, so a pattern's initial
// state can match a richer live state.
func (s State) Overlap(other State) float64 {
	total := len(s.facts)
	if total == 0 {
		return 1.0
	}

	score := 0.0
	for fact, v := range s.facts {
		ov, ok := other.facts[fact]
		if ok && v.Equal(ov) {
			score += 1.0
		} else {
			score -= 1.0
		}
	}

	scaled := (score/float64(total) + 1.0) / 2.0
	if scaled < 0 {
		return 0
	}
	if scaled > 1 {
		return 1
	}
	return scaled
}

// Hash returns a stable SHA256 fingerprint of the state's facts and values.
// States with the same facts and values always hash identically.
func (s State) Hash() string {
	h := sha256.New()
	for _, fact := range s.Facts() {
		h.Write([]byte(fact))
		h.Write([]byte{0})
		h.Write([]byte(s.facts[fact].String()))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MarshalJSON encodes the state as a flat JSON object from fact name to
// scalar value.
func (s State) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.facts))
	for fact, v := range s.facts {
		switch v.Kind {
		case KindBool:
			out[fact] = v.Bool
		case KindNumber:
			out[fact] = v.Num
		case KindString:
			out[fact] = v.Str
		default:
			return nil, fmt.Errorf("fact %q has unknown value kind %d", fact, v.Kind)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a flat JSON object into a State. JSON numbers
// normalize to float64.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	facts := make(map[string]Value, len(raw))
	for fact, v := range raw {
		switch tv := v.(type) {
		case bool:
			facts[fact] = Bool(tv)
		case float64:
			facts[fact] = Num(tv)
		case string:
			facts[fact] = Str(tv)
		default:
			return fmt.Errorf("fact %q has unsupported value type %T", fact, v)
		}
	}
	s.facts = facts
	return nil
}

// String returns a compact fact listing for logs.
func (s State) String() string {
	parts := make([]string, 0, len(s.facts))
	for _, fact := range s.Facts() {
		parts = append(parts, fact+"="+s.facts[fact].String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Fingerprint returns a stable SHA256 key for a (goal, state-shape) pair.
// Only the goal's full content and the state's fact *names* participate:
// two planning requests with the same goal and the same observable facts
// share a fingerprint even when fact values differ, which is what lets a
// stored pattern match a fresh request before the similarity scan runs.
func Fingerprint(goal State, state State) string {
	h := sha256.New()
	h.Write([]byte("goal:"))
	for _, fact := range goal.Facts() {
		v, _ := goal.Get(fact)
		h.Write([]byte(fact))
		h.Write([]byte{0})
		h.Write([]byte(v.String()))
		h.Write([]byte{0})
	}
	h.Write([]byte("shape:"))
	for _, fact := range state.Facts() {
		h.Write([]byte(fact))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
