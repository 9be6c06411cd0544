// Simulation applies agent actions, matches the market, and settles each
// cycle against the shared ledger.
package engine

import (
	"io"
	"sync"

	"github.com/talgya/econsim/internal/config"
	"github.com/talgya/econsim/internal/economy"
)

// Phase tracks where the current cycle is in its lifecycle.
type Phase uint8

const (
	PhaseAwaitingActions Phase = iota
	PhaseMatching
	PhaseSettling
	PhaseCleared
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingActions:
		return "awaiting_actions"
	case PhaseMatching:
		return "matching"
	case PhaseSettling:
		return "settling"
	case PhaseCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Event is a notable occurrence, kept in a bounded in-memory feed and
// appended to the database on save.
type Event struct {
	Cycle       uint64 `json:"cycle"`
	Description string `json:"description"`
	Category    string `json:"category"` // "trade", "health", "welfare", "price", "cycle"
}

// SimStats tracks the aggregate numbers the status endpoint and metrics
// export. Counter fields only ever increase; the rest are recomputed each
// cycle.
type SimStats struct {
	CyclesCompleted  uint64  `json:"cycles_completed"`
	ActionsApplied   uint64  `json:"actions_applied"`
	ActionsRefused   uint64  `json:"actions_refused"`
	TradesExecuted   uint64  `json:"trades_executed"`
	FeesCollected    float64 `json:"fees_collected"`
	Agents           int     `json:"agents"`
	AvgHealth        float64 `json:"avg_health"`
	TotalCurrency    float64 `json:"total_currency"`
	ReservedCurrency float64 `json:"reserved_currency"`
}

const maxEvents = 1000

// Simulation holds the complete economy state and wires the systems
// together. One mutex guards the ledger; strategists and observers only
// ever see copies, so nothing outside this package holds the lock.
type Simulation struct {
	mu     sync.Mutex
	Ledger *economy.Ledger
	Policy config.Policy

	Phase  Phase
	Events []Event
	Stats  SimStats

	// Events below this index have been handed to storage already.
	eventMark int
}

// NewSimulation wires a ledger to a policy: agent defaults, price bands,
// and the reserved good come from the policy, and the market operator
// agent is guaranteed to exist. A nil ledger starts an empty economy.
func NewSimulation(ledger *economy.Ledger, pol config.Policy) *Simulation {
	if ledger == nil {
		ledger = economy.NewLedger()
	}
	ledger.Defaults = pol.Agent
	ledger.ReservedGood = pol.ReservedGood
	if ledger.Bands == nil {
		ledger.Bands = make(map[string]economy.PriceBand)
	}
	for good, band := range pol.Goods {
		ledger.Bands[good] = band
		if _, ok := ledger.Prices[good]; !ok {
			ledger.Prices[good] = band.Base
		}
	}
	ledger.AddAgent(pol.Market.Operator)

	sim := &Simulation{Ledger: ledger, Policy: pol, Phase: PhaseAwaitingActions}
	sim.updateStats()
	return sim
}

// emitEvent records a feed entry. Caller holds the lock.
func (s *Simulation) emitEvent(category, description string) {
	s.Events = append(s.Events, Event{
		Cycle:       s.Ledger.Cycle,
		Description: description,
		Category:    category,
	})
	// Trim old events to prevent unbounded growth.
	if len(s.Events) > maxEvents {
		drop := len(s.Events) - maxEvents
		s.Events = s.Events[drop:]
		s.eventMark -= drop
		if s.eventMark < 0 {
			s.eventMark = 0
		}
	}
}

// updateStats recomputes the derived stat fields. Averages cover the
// trading agents, not the market operator. Caller holds the lock.
func (s *Simulation) updateStats() {
	l := s.Ledger
	s.Stats.Agents = len(l.Agents)
	s.Stats.TotalCurrency = l.TotalCurrency()
	s.Stats.ReservedCurrency = l.ReservedCurrency()

	healthSum := 0
	count := 0
	for id, a := range l.Agents {
		if id == s.Policy.Market.Operator {
			continue
		}
		healthSum += a.Health
		count++
	}
	if count > 0 {
		s.Stats.AvgHealth = float64(healthSum) / float64(count)
	} else {
		s.Stats.AvgHealth = 0
	}
}

// AgentIDs lists every agent id in deterministic order.
func (s *Simulation) AgentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ledger.AgentIDs()
}

// StatsSnapshot returns a copy of the current stats.
func (s *Simulation) StatsSnapshot() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Stats
}

// StatusSnapshot is the status endpoint's payload.
type StatusSnapshot struct {
	Cycle        uint64             `json:"cycle"`
	Phase        string             `json:"phase"`
	Agents       int                `json:"agents"`
	OpenOffers   int                `json:"open_offers"`
	OpenRequests int                `json:"open_requests"`
	Transactions int                `json:"transactions"`
	Prices       map[string]float64 `json:"market_prices"`
	Stats        SimStats           `json:"stats"`
}

// Status summarizes the simulation for observers.
func (s *Simulation) Status() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusSnapshot{
		Cycle:        s.Ledger.Cycle,
		Phase:        s.Phase.String(),
		Agents:       len(s.Ledger.Agents),
		OpenOffers:   len(s.Ledger.Offers),
		OpenRequests: len(s.Ledger.Requests),
		Transactions: len(s.Ledger.Transactions),
		Prices:       s.Ledger.SnapshotPrices(),
		Stats:        s.Stats,
	}
}

// AgentsSnapshot returns deep copies of every agent, sorted by id.
func (s *Simulation) AgentsSnapshot() []economy.AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ledger.SnapshotAgents()
}

// AgentSnapshot returns a deep copy of one agent.
func (s *Simulation) AgentSnapshot(id string) (economy.AgentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.Ledger.Agent(id)
	if err != nil {
		return economy.AgentState{}, err
	}
	return a.Clone(), nil
}

// MarketSnapshot is the market endpoint's payload.
type MarketSnapshot struct {
	Offers   []economy.Offer    `json:"offers"`
	Requests []economy.Request  `json:"requests"`
	Prices   map[string]float64 `json:"market_prices"`
}

// Market returns copies of the open books and price table.
func (s *Simulation) Market() MarketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MarketSnapshot{
		Offers:   s.Ledger.SnapshotOffers(),
		Requests: s.Ledger.SnapshotRequests(),
		Prices:   s.Ledger.SnapshotPrices(),
	}
}

// TransactionsSnapshot returns copies of this cycle's executed trades.
func (s *Simulation) TransactionsSnapshot() []economy.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ledger.SnapshotTransactions()
}

// EventsSnapshot returns up to limit of the most recent feed entries,
// oldest first. A non-positive limit returns the whole feed.
func (s *Simulation) EventsSnapshot(limit int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	evts := s.Events
	if limit > 0 && len(evts) > limit {
		evts = evts[len(evts)-limit:]
	}
	out := make([]Event, len(evts))
	copy(out, evts)
	return out
}

// FlushEvents returns feed entries not yet handed to storage and marks
// them flushed.
func (s *Simulation) FlushEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.Events)-s.eventMark)
	copy(out, s.Events[s.eventMark:])
	s.eventMark = len(s.Events)
	return out
}

// CycleLogSnapshot returns the finalized decision log for one cycle,
// keyed by agent id.
func (s *Simulation) CycleLogSnapshot(cycle uint64) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.Ledger.CycleLogs[cycle]))
	for id, lines := range s.Ledger.CycleLogs[cycle] {
		out[id] = append([]string(nil), lines...)
	}
	return out
}

// WriteDecisionLog dumps the full decision history to w.
func (s *Simulation) WriteDecisionLog(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Ledger.WriteLogs(w)
}

// WithLedger runs fn with the simulation lock held. Persistence uses this
// to snapshot a consistent ledger.
func (s *Simulation) WithLedger(fn func(l *economy.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.Ledger)
}
