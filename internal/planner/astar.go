package planner

import (
	"container/heap"
	"context"
	"time"

	"github.com/zero-day-ai/goap/internal/learning"
	"github.com/zero-day-ai/goap/internal/world"
)

// Budget bounds a single search. A zero field means unlimited for that
// dimension; the context deadline applies regardless.
type Budget struct {
	// MaxNodes caps how many nodes the search may expand.
	MaxNodes int

	// MaxDuration caps wall-clock search time.
	MaxDuration time.Duration
}

// ExhaustedReason says why a search ended without a plan.
type ExhaustedReason string

const (
	// ReasonNoPath means the open set emptied: no action sequence reaches
	// the goal under the current catalog.
	ReasonNoPath ExhaustedReason = "no_path"

	// ReasonBudget means a node or time budget expired mid-search.
	ReasonBudget ExhaustedReason = "budget"
)

// node is one entry in the A* open set.
type node struct {
	state    world.State
	g        float64 // cost from start
	h        float64 // heuristic estimate to goal
	parent   *node
	actionID string // action that produced this node, "" at the root
	index    int    // heap bookkeeping
}

func (n *node) f() float64 { return n.g + n.h }

// openSet is a min-priority-queue over f(n), breaking ties on lower h(n)
// to bias exploration toward the goal.
type openSet []*node

func (q openSet) Len() int { return len(q) }

func (q openSet) Less(i, j int) bool {
	if q[i].f() == q[j].f() {
		return q[i].h < q[j].h
	}
	return q[i].f() < q[j].f()
}

func (q openSet) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *openSet) Push(x any) {
	n := x.(*node)
	n.index = len(*q)
	*q = append(*q, n)
}

func (q *openSet) Pop() any {
	old := *q
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	*q = old[:last]
	return n
}

// searchResult is the outcome of one A* run.
type searchResult struct {
	actions   []string
	totalCost float64
	exhausted bool
	reason    ExhaustedReason
	visited   []learning.VisitedSample
}

// astar runs the graph search from start toward goal over the action
// catalog. The budget is checked on every expansion; an expired budget is
// an expected Exhausted outcome, never an error. Every expanded (state,
// goal) pair is recorded so the outcome learner can file heuristic samples
// once the plan's true cost is known.
func (e *Engine) astar(ctx context.Context, start, goal world.State, catalog world.Catalog, weights map[string]float64, budget Budget) (*searchResult, error) {
	goalHash := goal.Hash()
	deadline := time.Time{}
	if budget.MaxDuration > 0 {
		deadline = time.Now().Add(budget.MaxDuration)
	}

	h0, err := e.heuristic.Estimate(ctx, start, goal, weights)
	if err != nil {
		return nil, err
	}

	open := &openSet{}
	heap.Init(open)
	heap.Push(open, &node{state: start, g: 0, h: h0})

	// bestG tracks the cheapest known cost to each state hash; re-reaching
	// a state at equal or higher cost is skipped.
	bestG := map[string]float64{start.Hash(): 0}

	result := &searchResult{}
	expanded := 0

	for open.Len() > 0 {
		if err := ctx.Err(); err != nil {
			result.exhausted = true
			result.reason = ReasonBudget
			return result, nil
		}
		if budget.MaxNodes > 0 && expanded >= budget.MaxNodes {
			result.exhausted = true
			result.reason = ReasonBudget
			return result, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			result.exhausted = true
			result.reason = ReasonBudget
			return result, nil
		}

		current := heap.Pop(open).(*node)
		expanded++

		result.visited = append(result.visited, learning.VisitedSample{
			StateHash:          current.state.Hash(),
			GoalHash:           goalHash,
			EstimatedRemaining: current.h,
			CostSoFar:          current.g,
		})

		if current.state.Satisfies(goal) {
			result.actions, result.totalCost = reconstruct(current)
			return result, nil
		}

		for _, action := range catalog.Applicable(current.state) {
			next := action.Apply(current.state)
			nextG := current.g + action.Cost.Value

			hash := next.Hash()
			if known, ok := bestG[hash]; ok && known <= nextG {
				continue
			}
			bestG[hash] = nextG

			nextH, err := e.heuristic.Estimate(ctx, next, goal, weights)
			if err != nil {
				return nil, err
			}

			heap.Push(open, &node{
				state:    next,
				g:        nextG,
				h:        nextH,
				parent:   current,
				actionID: action.ID,
			})
		}
	}

	result.exhausted = true
	result.reason = ReasonNoPath
	return result, nil
}

// reconstruct walks parent links back to the root and returns the action
// sequence in execution order with its total cost.
func reconstruct(n *node) ([]string, float64) {
	var actions []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		actions = append(actions, cur.actionID)
	}
	// Reverse into execution order.
	for i, j := 0, len(actions)-1; i < j; i, j = i+1, j-1 {
		actions[i], actions[j] = actions[j], actions[i]
	}
	return actions, n.g
}
