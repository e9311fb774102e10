package world

// RiskTier classifies how dangerous an action is to execute.
// Higher tiers may warrant caller-side approval before execution; the
// planner itself only carries the tier through to the returned plan.
type RiskTier string

const (
	// RiskTierLow marks routine, reversible actions.
	RiskTierLow RiskTier = "low"

	// RiskTierMedium marks actions with limited blast radius.
	RiskTierMedium RiskTier = "medium"

	// RiskTierHigh marks actions that are hard to reverse.
	RiskTierHigh RiskTier = "high"
)

// Cost describes what executing an action is expected to spend.
type Cost struct {
	// Value is the primary cost used by the search (g accumulation).
	Value float64 `json:"value"`

	// Complexity is a secondary estimate of how involved the action is.
	// It does not participate in search ordering.
	Complexity float64 `json:"complexity"`

	// RiskTier classifies execution risk.
	RiskTier RiskTier `json:"risk_tier"`
}

// Action is a planning operator: it can fire when its preconditions hold
// and transforms the world by overlaying its effects. Actions are immutable
// and supplied by the caller per planning request; the core references them
// by ID from persisted plans but never persists the catalog itself.
type Action struct {
	// ID identifies the action within the caller's catalog.
	ID string `json:"id"`

	// Preconditions is a partial state that must be satisfied for the
	// action to fire.
	Preconditions State `json:"-"`

	// Effects is a partial state overlaid on the world when the action
	// completes.
	Effects State `json:"-"`

	// Cost is the expected spend of executing this action.
	Cost Cost `json:"cost"`
}

// Applicable reports whether the action's preconditions hold in state.
func (a Action) Applicable(state State) bool {
	return state.Satisfies(a.Preconditions)
}

// Apply returns the state produced by firing the action.
// Callers must check Applicable first; Apply does not re-validate.
func (a Action) Apply(state State) State {
	return state.Apply(a.Effects)
}

// Catalog is the set of actions available to a single planning request.
type Catalog []Action

// ByID returns the action with the given id and whether it exists.
func (c Catalog) ByID(id string) (Action, bool) {
	for _, a := range c {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// Applicable returns the subset of actions whose preconditions hold in state.
func (c Catalog) Applicable(state State) []Action {
	var out []Action
	for _, a := range c {
		if a.Applicable(state) {
			out = append(out, a)
		}
	}
	return out
}
