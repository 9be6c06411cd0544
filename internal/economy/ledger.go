// Package economy owns the shared ledger: agent states, open orders,
// executed transactions, market prices, and the per-cycle decision log.
// The ledger enforces local bookkeeping rules (currency reservations, price
// bands, id allocation); sequencing and validation live in the engine.
package economy

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Ledger is the complete shared state of one economy.
type Ledger struct {
	Cycle        uint64                 `json:"cycle"`
	Agents       map[string]*AgentState `json:"agents"`
	Offers       []*Offer               `json:"offers"`
	Requests     []*Request             `json:"requests"`
	Transactions []*Transaction         `json:"transactions"`
	Prices       map[string]float64     `json:"market_prices"`

	// Decision history. Decisions buffers the current cycle and is moved
	// into CycleLogs by FinalizeCycleLogs.
	CycleLogs map[uint64]map[string][]string `json:"cycle_logs"`
	Decisions map[string][]string            `json:"agent_decisions"`

	// Monotonic order id counters, persisted so ids stay unique across
	// restarts.
	OfferSeq   uint64 `json:"offer_seq"`
	RequestSeq uint64 `json:"request_seq"`

	// Policy-derived settings, reapplied on load rather than persisted.
	Defaults     AgentDefaults        `json:"-"`
	Bands        map[string]PriceBand `json:"-"`
	ReservedGood string               `json:"-"`
}

// NewLedger returns an empty ledger with standard agent defaults.
func NewLedger() *Ledger {
	return &Ledger{
		Agents:    make(map[string]*AgentState),
		Prices:    make(map[string]float64),
		CycleLogs: make(map[uint64]map[string][]string),
		Decisions: make(map[string][]string),
		Bands:     make(map[string]PriceBand),
		Defaults:  StandardDefaults(),
	}
}

// AddAgent registers a new agent with default state. Adding an existing id
// returns the existing agent unchanged.
func (l *Ledger) AddAgent(id string) *AgentState {
	if a, ok := l.Agents[id]; ok {
		return a
	}
	a := &AgentState{
		ID:            id,
		Inventory:     make(map[string]int),
		Currency:      l.Defaults.Currency,
		Health:        l.Defaults.Health,
		LaborCapacity: l.Defaults.LaborCapacity,
	}
	l.Agents[id] = a
	return a
}

// Agent looks up a live agent by id.
func (l *Ledger) Agent(id string) (*AgentState, error) {
	a, ok := l.Agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return a, nil
}

// AgentIDs returns all agent ids in sorted order. Every loop that touches
// multiple agents iterates this way so runs are reproducible.
func (l *Ledger) AgentIDs() []string {
	ids := make([]string, 0, len(l.Agents))
	for id := range l.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetPrice stores a market price, clamped to the good's band when one is
// configured. Returns the price actually stored.
func (l *Ledger) SetPrice(good string, price float64) float64 {
	if band, ok := l.Bands[good]; ok {
		price = band.Clamp(price)
	} else if price < 0 {
		price = 0
	}
	l.Prices[good] = price
	return price
}

// Price quotes the current market price. Goods that have never traded
// quote their band base; unknown goods trade at unit price until the
// market says otherwise.
func (l *Ledger) Price(good string) float64 {
	if p, ok := l.Prices[good]; ok {
		return p
	}
	if band, ok := l.Bands[good]; ok {
		return band.Base
	}
	return 1.0
}

// NewOffer appends an offer under a freshly allocated id and returns it.
// The caller validates inventory and price before calling.
func (l *Ledger) NewOffer(seller, good string, qty int, price float64) *Offer {
	l.OfferSeq++
	o := &Offer{
		ID:       fmt.Sprintf("offer-%d", l.OfferSeq),
		SellerID: seller,
		Good:     good,
		Quantity: qty,
		Price:    price,
	}
	l.Offers = append(l.Offers, o)
	return o
}

// NewRequest appends a request under a freshly allocated id and returns it.
// The caller must already have deducted the buyer's reservation.
func (l *Ledger) NewRequest(buyer, good string, qty int, maxPrice float64) *Request {
	l.RequestSeq++
	r := &Request{
		ID:       fmt.Sprintf("req-%d", l.RequestSeq),
		BuyerID:  buyer,
		Good:     good,
		Quantity: qty,
		MaxPrice: maxPrice,
	}
	l.Requests = append(l.Requests, r)
	return r
}

// NewTransactionID allocates a globally unique transaction id.
func NewTransactionID() string {
	return uuid.NewString()
}

// FindOffer returns the live offer with the given id.
func (l *Ledger) FindOffer(id string) (*Offer, bool) {
	for _, o := range l.Offers {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}

// FindRequest returns the live request with the given id.
func (l *Ledger) FindRequest(id string) (*Request, bool) {
	for _, r := range l.Requests {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// RemoveOffer deletes an offer from the book, preserving submission order
// of the rest.
func (l *Ledger) RemoveOffer(id string) bool {
	for i, o := range l.Offers {
		if o.ID == id {
			l.Offers = append(l.Offers[:i], l.Offers[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveRequest deletes a request from the book without refunding. Use
// CancelRequest to release the reservation.
func (l *Ledger) RemoveRequest(id string) bool {
	for i, r := range l.Requests {
		if r.ID == id {
			l.Requests = append(l.Requests[:i], l.Requests[i+1:]...)
			return true
		}
	}
	return false
}

// CancelRequest removes a request and refunds the unused reservation to the
// buyer. Cancelling a reserved-good request counts against the buyer's
// failed food cycles. Returns false for unknown ids.
func (l *Ledger) CancelRequest(id string) bool {
	r, ok := l.FindRequest(id)
	if !ok {
		return false
	}
	if buyer, ok := l.Agents[r.BuyerID]; ok {
		refund := r.Reserved()
		buyer.Currency += refund
		if r.Good == l.ReservedGood {
			buyer.FailedFoodCycles++
		}
		l.LogDecision(r.BuyerID, fmt.Sprintf("Cancelled request %s. Refunded %.2f currency.", id, refund))
	}
	l.RemoveRequest(id)
	return true
}

// LogDecision appends one line to the current cycle's buffer for an agent.
// Entries carry the durable "[Cycle N] agent: text" form so the buffer can
// be flushed verbatim.
func (l *Ledger) LogDecision(agentID, text string) {
	l.Decisions[agentID] = append(l.Decisions[agentID], fmt.Sprintf("[Cycle %d] %s: %s", l.Cycle, agentID, text))
}

// FinalizeCycleLogs moves the decision buffer into durable history under
// the current cycle number and resets the buffer.
func (l *Ledger) FinalizeCycleLogs() {
	if len(l.Decisions) == 0 {
		return
	}
	snap := make(map[string][]string, len(l.Decisions))
	for id, lines := range l.Decisions {
		snap[id] = append([]string(nil), lines...)
	}
	l.CycleLogs[l.Cycle] = snap
	l.Decisions = make(map[string][]string)
}

// CycleLog returns one agent's finalized decisions for a cycle.
func (l *Ledger) CycleLog(cycle uint64, agentID string) []string {
	return l.CycleLogs[cycle][agentID]
}

// TotalCurrency sums agent balances plus the currency locked behind open
// requests. The engine keeps this figure constant across every operation.
func (l *Ledger) TotalCurrency() float64 {
	total := l.ReservedCurrency()
	for _, a := range l.Agents {
		total += a.Currency
	}
	return total
}

// ReservedCurrency sums the reservations behind open requests.
func (l *Ledger) ReservedCurrency() float64 {
	var total float64
	for _, r := range l.Requests {
		total += r.Reserved()
	}
	return total
}

// TotalSupply counts all units of a good across agent inventories.
func (l *Ledger) TotalSupply(good string) int {
	var total int
	for _, a := range l.Agents {
		total += a.Inventory[good]
	}
	return total
}

// SnapshotAgents returns deep copies of every agent, sorted by id.
func (l *Ledger) SnapshotAgents() []AgentState {
	out := make([]AgentState, 0, len(l.Agents))
	for _, id := range l.AgentIDs() {
		out = append(out, l.Agents[id].Clone())
	}
	return out
}

// SnapshotOffers returns value copies of the open offers in book order.
func (l *Ledger) SnapshotOffers() []Offer {
	out := make([]Offer, len(l.Offers))
	for i, o := range l.Offers {
		out[i] = *o
	}
	return out
}

// SnapshotRequests returns value copies of the open requests in book order.
func (l *Ledger) SnapshotRequests() []Request {
	out := make([]Request, len(l.Requests))
	for i, r := range l.Requests {
		out[i] = *r
	}
	return out
}

// SnapshotTransactions returns value copies of this cycle's transactions.
func (l *Ledger) SnapshotTransactions() []Transaction {
	out := make([]Transaction, len(l.Transactions))
	for i, tx := range l.Transactions {
		out[i] = *tx
	}
	return out
}

// SnapshotPrices returns a copy of the current price table.
func (l *Ledger) SnapshotPrices() map[string]float64 {
	out := make(map[string]float64, len(l.Prices))
	for good, p := range l.Prices {
		out[good] = p
	}
	return out
}

// WriteLogs renders the full decision history, cycle by cycle and agent by
// agent, in the layout used for the shutdown log dump. An unfinalized
// buffer is written under the current cycle.
func (l *Ledger) WriteLogs(w io.Writer) error {
	history := make(map[uint64]map[string][]string, len(l.CycleLogs)+1)
	for cycle, agents := range l.CycleLogs {
		history[cycle] = agents
	}
	if len(l.Decisions) > 0 {
		history[l.Cycle] = l.Decisions
	}

	cycles := make([]uint64, 0, len(history))
	for cycle := range history {
		cycles = append(cycles, cycle)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i] < cycles[j] })

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "=== ECONOMY SIMULATION DECISION LOG ===\n\n")
	for _, cycle := range cycles {
		fmt.Fprintf(bw, "CYCLE %d\n%s\n\n", cycle, strings.Repeat("=", 50))
		agents := make([]string, 0, len(history[cycle]))
		for id := range history[cycle] {
			agents = append(agents, id)
		}
		sort.Strings(agents)
		for _, id := range agents {
			fmt.Fprintf(bw, "%s DECISIONS:\n%s\n", strings.ToUpper(id), strings.Repeat("-", 30))
			for _, entry := range history[cycle][id] {
				fmt.Fprintf(bw, "  - %s\n", entry)
			}
			fmt.Fprintln(bw)
		}
	}
	return bw.Flush()
}
