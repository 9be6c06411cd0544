package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/talgya/econsim/internal/economy"
)

// ActionKind enumerates the operations the decision layer may request.
type ActionKind uint8

const (
	ActionProduce ActionKind = iota
	ActionConsume
	ActionCreateOffer
	ActionCreateRequest
	ActionAcceptOffer
	ActionAcceptRequest
	ActionCancelRequest
	ActionOfferLabor
	ActionHireLabor
	ActionViewMarket
	ActionCheckInventory
	ActionMatchMarket
)

func (k ActionKind) String() string {
	switch k {
	case ActionProduce:
		return "produce"
	case ActionConsume:
		return "consume"
	case ActionCreateOffer:
		return "create_offer"
	case ActionCreateRequest:
		return "create_request"
	case ActionAcceptOffer:
		return "accept_offer"
	case ActionAcceptRequest:
		return "accept_request"
	case ActionCancelRequest:
		return "cancel_request"
	case ActionOfferLabor:
		return "offer_labor"
	case ActionHireLabor:
		return "hire_labor"
	case ActionViewMarket:
		return "view_market"
	case ActionCheckInventory:
		return "check_inventory"
	case ActionMatchMarket:
		return "match_market"
	default:
		return "unknown"
	}
}

// ParseActionKind resolves an action name as used on the wire and in logs.
func ParseActionKind(name string) (ActionKind, bool) {
	switch name {
	case "produce":
		return ActionProduce, true
	case "consume":
		return ActionConsume, true
	case "create_offer":
		return ActionCreateOffer, true
	case "create_request":
		return ActionCreateRequest, true
	case "accept_offer":
		return ActionAcceptOffer, true
	case "accept_request":
		return ActionAcceptRequest, true
	case "cancel_request":
		return ActionCancelRequest, true
	case "offer_labor":
		return ActionOfferLabor, true
	case "hire_labor":
		return ActionHireLabor, true
	case "view_market":
		return ActionViewMarket, true
	case "check_inventory":
		return ActionCheckInventory, true
	case "match_market":
		return ActionMatchMarket, true
	default:
		return 0, false
	}
}

// Action is one requested operation. Good and Quantity carry goods and
// amounts, Price carries unit prices or wage, and Target carries an order
// id or a labor offer's addressee depending on the kind.
type Action struct {
	Kind     ActionKind `json:"kind"`
	Agent    string     `json:"agent_id"`
	Good     string     `json:"good_name,omitempty"`
	Quantity int        `json:"quantity,omitempty"`
	Price    float64    `json:"price,omitempty"`
	Target   string     `json:"target,omitempty"`
}

// Apply dispatches one action to its handler. Actions are applied strictly
// in submission order; there is no batching inside a cycle's action phase.
func (s *Simulation) Apply(a Action) (string, error) {
	switch a.Kind {
	case ActionProduce:
		return s.Produce(a.Agent, a.Good, a.Quantity)
	case ActionConsume:
		return s.Consume(a.Agent, a.Good, a.Quantity)
	case ActionCreateOffer:
		return s.CreateOffer(a.Agent, a.Good, a.Quantity, a.Price)
	case ActionCreateRequest:
		return s.CreateRequest(a.Agent, a.Good, a.Quantity, a.Price)
	case ActionAcceptOffer:
		return s.AcceptOffer(a.Agent, a.Target)
	case ActionAcceptRequest:
		return s.AcceptRequest(a.Agent, a.Target)
	case ActionCancelRequest:
		return s.CancelRequest(a.Agent, a.Target)
	case ActionOfferLabor:
		return s.OfferLabor(a.Agent, a.Target, a.Quantity, a.Price)
	case ActionHireLabor:
		return s.HireLabor(a.Agent, a.Target)
	case ActionViewMarket:
		return s.ViewMarket(a.Agent)
	case ActionCheckInventory:
		return s.CheckInventory(a.Agent)
	case ActionMatchMarket:
		return s.MatchMarket(a.Agent)
	default:
		return "", fmt.Errorf("unknown action kind %d", a.Kind)
	}
}

// AgentView is the read-only planning context handed to strategists: the
// agent's own state plus the visible market. Everything inside is a copy.
type AgentView struct {
	Cycle        uint64             `json:"cycle"`
	Agent        economy.AgentState `json:"agent"`
	Prices       map[string]float64 `json:"market_prices"`
	Offers       []economy.Offer    `json:"offers"`
	Requests     []economy.Request  `json:"requests"`
	ReservedGood string             `json:"reserved_good"`
	LaborGood    string             `json:"labor_good"`
	Operator     string             `json:"market_operator"`
}

// ViewFor builds a planning view for one agent, so strategists plan
// against copies and never race the engine.
func (s *Simulation) ViewFor(agentID string) (AgentView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.Ledger.Agent(agentID)
	if err != nil {
		return AgentView{}, err
	}
	return AgentView{
		Cycle:        s.Ledger.Cycle,
		Agent:        a.Clone(),
		Prices:       s.Ledger.SnapshotPrices(),
		Offers:       s.Ledger.SnapshotOffers(),
		Requests:     s.Ledger.SnapshotRequests(),
		ReservedGood: s.Policy.ReservedGood,
		LaborGood:    s.Policy.Labor.Good,
		Operator:     s.Policy.Market.Operator,
	}, nil
}

// refuse counts a rejected action and passes the error through.
func (s *Simulation) refuse(err error) (string, error) {
	s.Stats.ActionsRefused++
	return "", err
}

// applied counts a successful action and records it in the decision log.
func (s *Simulation) applied(agentID, msg string) (string, error) {
	s.Stats.ActionsApplied++
	s.Ledger.LogDecision(agentID, msg)
	return msg, nil
}

// Produce adds rate units of a good to the agent's inventory. A zero rate
// produces a single unit. Production is free at the point of creation;
// scarcity comes from consumption and health pressure, not input costs.
func (s *Simulation) Produce(agentID, good string, rate int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate == 0 {
		rate = 1
	}
	if rate < 0 {
		return s.refuse(fmt.Errorf("produce rate %d: %w", rate, economy.ErrInvalidQuantity))
	}
	if good == s.Policy.Labor.Good {
		return s.refuse(fmt.Errorf("%s is sold from capacity, not produced: %w", good, economy.ErrInvalidQuantity))
	}
	agent, err := s.Ledger.Agent(agentID)
	if err != nil {
		return s.refuse(err)
	}
	agent.Inventory[good] += rate
	return s.applied(agentID, fmt.Sprintf("Produced %d %s. Now holding %d.", rate, good, agent.Inventory[good]))
}

// Consume spends qty units of a good plus its market cost. A failed
// attempt still hurts: missing goods and missing currency each carry their
// own health penalty. Payment goes to the market operator so the currency
// total stays closed.
func (s *Simulation) Consume(agentID, good string, qty int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qty <= 0 {
		return s.refuse(fmt.Errorf("consume quantity %d: %w", qty, economy.ErrInvalidQuantity))
	}
	agent, err := s.Ledger.Agent(agentID)
	if err != nil {
		return s.refuse(err)
	}
	if agent.Quantity(good) < qty {
		agent.AdjustHealth(-s.Policy.Health.MissingGoodsPenalty)
		s.Ledger.LogDecision(agentID, fmt.Sprintf("Failed to consume %d %s: not enough held. Health now %d.", qty, good, agent.Health))
		return s.refuse(fmt.Errorf("consume %d %s, holding %d: %w", qty, good, agent.Quantity(good), economy.ErrInsufficientGoods))
	}
	cost := s.Ledger.Price(good) * float64(qty)
	if agent.Currency < cost {
		agent.AdjustHealth(-s.Policy.Health.MissingCurrencyPenalty)
		s.Ledger.LogDecision(agentID, fmt.Sprintf("Failed to consume %d %s: needs %s currency, has %s. Health now %d.", qty, good, money(cost), money(agent.Currency), agent.Health))
		return s.refuse(fmt.Errorf("consume %d %s costs %s: %w", qty, good, money(cost), economy.ErrInsufficientCurrency))
	}
	agent.Inventory[good] -= qty
	agent.Currency -= cost
	s.payOperator(cost)
	agent.AdjustHealth(s.Policy.Health.ConsumeBonus)
	return s.applied(agentID, fmt.Sprintf("Consumed %d %s for %s currency. Health now %d.", qty, good, money(cost), agent.Health))
}

// CreateOffer lists goods for sale. The goods stay in the seller's
// inventory until the offer settles.
func (s *Simulation) CreateOffer(agentID, good string, qty int, price float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qty <= 0 || price < 0 {
		return s.refuse(fmt.Errorf("offer %d at %.2f: %w", qty, price, economy.ErrInvalidQuantity))
	}
	agent, err := s.Ledger.Agent(agentID)
	if err != nil {
		return s.refuse(err)
	}
	if agent.Quantity(good) < qty {
		return s.refuse(fmt.Errorf("offer %d %s, holding %d: %w", qty, good, agent.Quantity(good), economy.ErrInsufficientGoods))
	}
	o := s.Ledger.NewOffer(agentID, good, qty, price)
	return s.applied(agentID, fmt.Sprintf("Created offer %s: %d %s at %s each.", o.ID, qty, good, money(price)))
}

// CreateRequest lists a bid to buy, reserving max_price * quantity of the
// buyer's currency up front. Fills and cancellation return whatever part
// of the reservation goes unspent.
func (s *Simulation) CreateRequest(agentID, good string, qty int, maxPrice float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qty <= 0 || maxPrice < 0 {
		return s.refuse(fmt.Errorf("request %d at max %.2f: %w", qty, maxPrice, economy.ErrInvalidQuantity))
	}
	agent, err := s.Ledger.Agent(agentID)
	if err != nil {
		return s.refuse(err)
	}
	reserve := maxPrice * float64(qty)
	if agent.Currency < reserve {
		return s.refuse(fmt.Errorf("request needs %s reserved, agent has %s: %w", money(reserve), money(agent.Currency), economy.ErrInsufficientCurrency))
	}
	agent.Currency -= reserve
	r := s.Ledger.NewRequest(agentID, good, qty, maxPrice)
	return s.applied(agentID, fmt.Sprintf("Created request %s to buy %d %s at max %s each. Reserved %s currency.", r.ID, qty, good, money(maxPrice), money(reserve)))
}

// AcceptOffer buys out a standing offer in full at the listed price.
// Accepting a labor offer is a hire and settles through the labor path.
func (s *Simulation) AcceptOffer(buyerID, offerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buyer, err := s.Ledger.Agent(buyerID)
	if err != nil {
		return s.refuse(err)
	}
	offer, ok := s.Ledger.FindOffer(offerID)
	if !ok {
		return s.refuse(fmt.Errorf("offer %s: %w", offerID, economy.ErrNotFound))
	}
	if offer.Good == s.Policy.Labor.Good {
		return s.hire(buyer, offer)
	}
	seller, err := s.Ledger.Agent(offer.SellerID)
	if err != nil {
		return s.refuse(err)
	}
	if seller.Quantity(offer.Good) < offer.Quantity {
		return s.refuse(fmt.Errorf("offer %s promises %d %s, seller holds %d: %w",
			offer.ID, offer.Quantity, offer.Good, seller.Quantity(offer.Good), economy.ErrInsufficientGoods))
	}
	total := offer.Price * float64(offer.Quantity)
	if buyer.Currency < total {
		return s.refuse(fmt.Errorf("offer %s costs %s, buyer has %s: %w", offer.ID, money(total), money(buyer.Currency), economy.ErrInsufficientCurrency))
	}
	buyer.Currency -= total
	seller.Currency += total
	s.transferGoods(seller, buyer, offer.Good, offer.Quantity)
	s.Ledger.RemoveOffer(offer.ID)
	s.recordTrade(seller.ID, buyer.ID, offer.Good, offer.Quantity, offer.Price, false)
	s.Ledger.SetPrice(offer.Good, offer.Price)
	s.Ledger.LogDecision(seller.ID, fmt.Sprintf("Sold %d %s to %s at %s each (offer %s accepted).", offer.Quantity, offer.Good, buyer.ID, money(offer.Price), offer.ID))
	return s.applied(buyerID, fmt.Sprintf("Bought %d %s from %s at %s each for %s currency.", offer.Quantity, offer.Good, seller.ID, money(offer.Price), money(total)))
}

// AcceptRequest fills a standing request in full. The trade executes at
// the request's max price, so the reservation is consumed exactly and no
// refund is due.
func (s *Simulation) AcceptRequest(sellerID, requestID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seller, err := s.Ledger.Agent(sellerID)
	if err != nil {
		return s.refuse(err)
	}
	req, ok := s.Ledger.FindRequest(requestID)
	if !ok {
		return s.refuse(fmt.Errorf("request %s: %w", requestID, economy.ErrNotFound))
	}
	buyer, err := s.Ledger.Agent(req.BuyerID)
	if err != nil {
		return s.refuse(err)
	}
	if req.Good == s.Policy.Labor.Good {
		if sellerID == req.BuyerID {
			return s.refuse(fmt.Errorf("cannot sell labor to yourself: %w", economy.ErrUnauthorized))
		}
		if seller.AvailableLabor() < req.Quantity {
			return s.refuse(fmt.Errorf("request %s needs %d labor units, %d available: %w",
				req.ID, req.Quantity, seller.AvailableLabor(), economy.ErrInsufficientGoods))
		}
	} else if seller.Quantity(req.Good) < req.Quantity {
		return s.refuse(fmt.Errorf("request %s needs %d %s, seller holds %d: %w",
			req.ID, req.Quantity, req.Good, seller.Quantity(req.Good), economy.ErrInsufficientGoods))
	}
	total := req.MaxPrice * float64(req.Quantity)
	seller.Currency += total
	s.transferGoods(seller, buyer, req.Good, req.Quantity)
	s.Ledger.RemoveRequest(req.ID)
	s.recordTrade(seller.ID, buyer.ID, req.Good, req.Quantity, req.MaxPrice, false)
	s.Ledger.SetPrice(req.Good, req.MaxPrice)
	s.Ledger.LogDecision(buyer.ID, fmt.Sprintf("Bought %d %s from %s at %s each (request %s filled).", req.Quantity, req.Good, seller.ID, money(req.MaxPrice), req.ID))
	return s.applied(sellerID, fmt.Sprintf("Sold %d %s to %s at %s each for %s currency (request %s).", req.Quantity, req.Good, buyer.ID, money(req.MaxPrice), money(total), req.ID))
}

// OfferLabor lists labor units for hire as an offer on the labor good.
// Target is the addressee for the record; any agent may take the offer.
func (s *Simulation) OfferLabor(agentID, targetID string, units int, wage float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if units <= 0 || wage < 0 {
		return s.refuse(fmt.Errorf("offer %d labor units at %.2f: %w", units, wage, economy.ErrInvalidQuantity))
	}
	agent, err := s.Ledger.Agent(agentID)
	if err != nil {
		return s.refuse(err)
	}
	if agent.AvailableLabor() < units {
		return s.refuse(fmt.Errorf("offer %d labor units, %d available: %w", units, agent.AvailableLabor(), economy.ErrInsufficientGoods))
	}
	o := s.Ledger.NewOffer(agentID, s.Policy.Labor.Good, units, wage)
	if targetID != "" {
		return s.applied(agentID, fmt.Sprintf("Offered %d labor units to %s at %s per unit (offer %s).", units, targetID, money(wage), o.ID))
	}
	return s.applied(agentID, fmt.Sprintf("Offered %d labor units at %s per unit (offer %s).", units, money(wage), o.ID))
}

// HireLabor takes a standing labor offer: wage moves to the worker, the
// worker's capacity is consumed, and the hirer's production gets boosted.
func (s *Simulation) HireLabor(agentID, offerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hirer, err := s.Ledger.Agent(agentID)
	if err != nil {
		return s.refuse(err)
	}
	offer, ok := s.Ledger.FindOffer(offerID)
	if !ok || offer.Good != s.Policy.Labor.Good {
		return s.refuse(fmt.Errorf("labor offer %s: %w", offerID, economy.ErrNotFound))
	}
	return s.hire(hirer, offer)
}

// hire settles a labor offer for the hirer. Caller holds the lock and has
// resolved the offer.
func (s *Simulation) hire(hirer *economy.AgentState, offer *economy.Offer) (string, error) {
	if offer.SellerID == hirer.ID {
		return s.refuse(fmt.Errorf("cannot hire own labor: %w", economy.ErrUnauthorized))
	}
	worker, err := s.Ledger.Agent(offer.SellerID)
	if err != nil {
		return s.refuse(err)
	}
	if worker.AvailableLabor() < offer.Quantity {
		return s.refuse(fmt.Errorf("worker %s has %d labor units available, offer %s needs %d: %w",
			worker.ID, worker.AvailableLabor(), offer.ID, offer.Quantity, economy.ErrInsufficientGoods))
	}
	total := offer.Price * float64(offer.Quantity)
	if hirer.Currency < total {
		return s.refuse(fmt.Errorf("hiring costs %s, agent has %s: %w", money(total), money(hirer.Currency), economy.ErrInsufficientCurrency))
	}
	hirer.Currency -= total
	worker.Currency += total
	s.transferGoods(worker, hirer, offer.Good, offer.Quantity)
	s.Ledger.RemoveOffer(offer.ID)
	s.recordTrade(worker.ID, hirer.ID, offer.Good, offer.Quantity, offer.Price, false)
	s.Ledger.SetPrice(offer.Good, offer.Price)
	s.Ledger.LogDecision(worker.ID, fmt.Sprintf("Worked %d units for %s, earned %s currency.", offer.Quantity, hirer.ID, money(total)))
	return s.applied(hirer.ID, fmt.Sprintf("Hired %d labor units from %s for %s currency. Production boosted.", offer.Quantity, worker.ID, money(total)))
}

// CancelRequest withdraws the agent's own request, refunding the unused
// reservation. Cancelling a reserved-good request counts as a failed food
// cycle for the buyer.
func (s *Simulation) CancelRequest(agentID, requestID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.Ledger.Agent(agentID); err != nil {
		return s.refuse(err)
	}
	req, ok := s.Ledger.FindRequest(requestID)
	if !ok {
		return s.refuse(fmt.Errorf("request %s: %w", requestID, economy.ErrNotFound))
	}
	if req.BuyerID != agentID {
		return s.refuse(fmt.Errorf("request %s belongs to %s: %w", requestID, req.BuyerID, economy.ErrUnauthorized))
	}
	refund := req.Reserved()
	s.Ledger.CancelRequest(requestID)
	s.Stats.ActionsApplied++
	return fmt.Sprintf("Cancelled request %s. Refunded %s currency.", requestID, money(refund)), nil
}

// ViewMarket renders the open books and price table for an agent.
func (s *Simulation) ViewMarket(agentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.Ledger.Agent(agentID); err != nil {
		return s.refuse(err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Market, cycle %d.\nOffers:\n", s.Ledger.Cycle)
	if len(s.Ledger.Offers) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, o := range s.Ledger.Offers {
		fmt.Fprintf(&b, "  %s: %d %s at %s each from %s\n", o.ID, o.Quantity, o.Good, money(o.Price), o.SellerID)
	}
	b.WriteString("Requests:\n")
	if len(s.Ledger.Requests) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, r := range s.Ledger.Requests {
		fmt.Fprintf(&b, "  %s: %d %s at max %s each from %s\n", r.ID, r.Quantity, r.Good, money(r.MaxPrice), r.BuyerID)
	}
	b.WriteString("Prices:\n")
	goods := make([]string, 0, len(s.Ledger.Prices))
	for good := range s.Ledger.Prices {
		goods = append(goods, good)
	}
	sort.Strings(goods)
	for _, good := range goods {
		fmt.Fprintf(&b, "  %s: %s\n", good, money(s.Ledger.Prices[good]))
	}
	s.Stats.ActionsApplied++
	return b.String(), nil
}

// CheckInventory renders the agent's own holdings and accounts.
func (s *Simulation) CheckInventory(agentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, err := s.Ledger.Agent(agentID)
	if err != nil {
		return s.refuse(err)
	}
	goods := make([]string, 0, len(agent.Inventory))
	for good := range agent.Inventory {
		goods = append(goods, good)
	}
	sort.Strings(goods)
	parts := make([]string, 0, len(goods))
	for _, good := range goods {
		parts = append(parts, fmt.Sprintf("%s=%d", good, agent.Inventory[good]))
	}
	held := "nothing"
	if len(parts) > 0 {
		held = strings.Join(parts, ", ")
	}
	s.Stats.ActionsApplied++
	return fmt.Sprintf("%s holds %s. Currency %s. Health %d. Labor used %d/%d.",
		agentID, held, money(agent.Currency), agent.Health, agent.LaborUsed, agent.LaborCapacity), nil
}

// MatchMarket runs one batch matching pass. Only the market operator may
// trigger it; other agents trade through offers and requests.
func (s *Simulation) MatchMarket(agentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agentID != s.Policy.Market.Operator {
		return s.refuse(fmt.Errorf("agent %s cannot run matching: %w", agentID, economy.ErrUnauthorized))
	}
	sum := s.runMatching()
	return s.applied(agentID, fmt.Sprintf("Matched %d trades across %d goods. Volume %d units, fees %s currency.",
		sum.Trades, sum.Goods, sum.Volume, money(sum.Fees)))
}

// payOperator routes consumption spending to the market operator, keeping
// the economy's currency total constant.
func (s *Simulation) payOperator(amount float64) {
	if op, ok := s.Ledger.Agents[s.Policy.Market.Operator]; ok {
		op.Currency += amount
	}
}

// recordTrade appends the transaction record and counts the trade.
func (s *Simulation) recordTrade(sellerID, buyerID, good string, qty int, price float64, viaMarket bool) {
	s.Ledger.Transactions = append(s.Ledger.Transactions, &economy.Transaction{
		ID:        economy.NewTransactionID(),
		SellerID:  sellerID,
		BuyerID:   buyerID,
		Good:      good,
		Quantity:  qty,
		Price:     price,
		ViaMarket: viaMarket,
	})
	s.Stats.TradesExecuted++
	s.emitEvent("trade", fmt.Sprintf("%s sold %d %s to %s at %s each", sellerID, qty, good, buyerID, money(price)))
}

// transferGoods moves qty of a good from seller to buyer. The labor good
// never enters inventories: selling it books the worker's capacity and
// pays the buyer a production boost instead.
func (s *Simulation) transferGoods(seller, buyer *economy.AgentState, good string, qty int) {
	if good == s.Policy.Labor.Good {
		seller.LaborUsed += qty
		s.applyLaborBoost(buyer, qty)
		return
	}
	seller.Inventory[good] -= qty
	buyer.Inventory[good] += qty
}

// applyLaborBoost grows every good the hirer currently holds by
// boost_rate units per hired labor unit, truncated toward zero.
func (s *Simulation) applyLaborBoost(hirer *economy.AgentState, units int) {
	boost := int(float64(units) * s.Policy.Labor.BoostRate)
	if boost <= 0 {
		return
	}
	for good := range hirer.Inventory {
		hirer.Inventory[good] += boost
	}
}

func money(v float64) string {
	return humanize.CommafWithDigits(v, 2)
}
