package economy

// MaxHealth is the ceiling every health adjustment clamps to.
const MaxHealth = 100

// AgentState is one party in the economy: its goods, currency, health, and
// labor account. Labor is tracked as capacity and usage, never as inventory.
type AgentState struct {
	ID        string         `json:"agent_id"`
	Inventory map[string]int `json:"inventory"`
	Currency  float64        `json:"currency"`
	Health    int            `json:"health"`

	// Labor bookkeeping
	LaborCapacity int `json:"labor_capacity"`
	LaborUsed     int `json:"labor_used"`

	// Cycles in which the agent failed to secure the reserved good,
	// counting cancelled reserved-good requests as failures.
	FailedFoodCycles int `json:"failed_food_cycles"`
}

// AgentDefaults seeds agents created through AddAgent.
type AgentDefaults struct {
	Currency      float64 `json:"currency" yaml:"currency"`
	Health        int     `json:"health" yaml:"health"`
	LaborCapacity int     `json:"labor_capacity" yaml:"labor_capacity"`
}

// StandardDefaults returns the starting values used when no policy
// overrides them.
func StandardDefaults() AgentDefaults {
	return AgentDefaults{Currency: 10.0, Health: MaxHealth, LaborCapacity: 5}
}

// AdjustHealth moves health by delta, clamped to [0, MaxHealth].
func (a *AgentState) AdjustHealth(delta int) {
	a.Health = clamp(a.Health+delta, 0, MaxHealth)
}

// Quantity reports how many units of a good the agent holds.
func (a *AgentState) Quantity(good string) int {
	return a.Inventory[good]
}

// AvailableLabor is the unspent labor capacity for the current cycle.
func (a *AgentState) AvailableLabor() int {
	return a.LaborCapacity - a.LaborUsed
}

// Clone returns a value copy with its own inventory map.
func (a *AgentState) Clone() AgentState {
	out := *a
	out.Inventory = make(map[string]int, len(a.Inventory))
	for good, qty := range a.Inventory {
		out.Inventory[good] = qty
	}
	return out
}
