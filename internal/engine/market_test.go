package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/econsim/internal/config"
	"github.com/talgya/econsim/internal/engine"
)

// quietPolicy turns off cycle-end welfare so tests can assert exact
// balances after matching and settlement.
func quietPolicy() config.Policy {
	pol := config.DefaultPolicy()
	pol.Welfare.TaxRate = 0
	pol.Welfare.SubsidyUnits = 0
	return pol
}

func mustApply(t *testing.T, sim *engine.Simulation, a engine.Action) string {
	t.Helper()
	msg, err := sim.Apply(a)
	require.NoError(t, err)
	return msg
}

func TestMatchingMidpointFeeAndRefund(t *testing.T) {
	sim := engine.NewSimulation(nil, quietPolicy())
	seller := sim.Ledger.AddAgent("producer-01")
	seller.Inventory["food"] = 3
	buyer := sim.Ledger.AddAgent("consumer-01")

	before := sim.Ledger.TotalCurrency()

	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateOffer, Agent: "producer-01", Good: "food", Quantity: 3, Price: 1.0})
	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateRequest, Agent: "consumer-01", Good: "food", Quantity: 3, Price: 2.0})
	require.InDelta(t, 4.0, buyer.Currency, 1e-9)

	msg, err := sim.MatchMarket("market")
	require.NoError(t, err)
	assert.Contains(t, msg, "Matched 1 trades")

	// Fill at the midpoint of ask 1.00 and bid 2.00: 3 units at 1.50.
	// Notional 4.50, operator fee 5% = 0.225, buyer refund (2.00-1.50)*3.
	assert.InDelta(t, 14.275, seller.Currency, 1e-9)
	assert.InDelta(t, 5.5, buyer.Currency, 1e-9)
	operator, err := sim.Ledger.Agent("market")
	require.NoError(t, err)
	assert.InDelta(t, 10.225, operator.Currency, 1e-9)

	assert.Equal(t, 0, seller.Inventory["food"])
	assert.Equal(t, 3, buyer.Inventory["food"])

	txs := sim.TransactionsSnapshot()
	require.Len(t, txs, 1)
	assert.Equal(t, "producer-01", txs[0].SellerID)
	assert.Equal(t, "consumer-01", txs[0].BuyerID)
	assert.Equal(t, 3, txs[0].Quantity)
	assert.InDelta(t, 1.5, txs[0].Price, 1e-9)
	assert.True(t, txs[0].ViaMarket)

	market := sim.Market()
	assert.Empty(t, market.Offers)
	assert.Empty(t, market.Requests)

	stats := sim.StatsSnapshot()
	assert.Equal(t, uint64(1), stats.TradesExecuted)
	assert.InDelta(t, 0.225, stats.FeesCollected, 1e-9)

	assert.InDelta(t, before, sim.Ledger.TotalCurrency(), 1e-9)
}

func TestMatchingWalksPriceThenSubmissionOrder(t *testing.T) {
	sim := engine.NewSimulation(nil, quietPolicy())
	sim.Ledger.AddAgent("producer-01").Inventory["food"] = 2
	sim.Ledger.AddAgent("producer-02").Inventory["food"] = 2
	sim.Ledger.AddAgent("consumer-01")

	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateOffer, Agent: "producer-01", Good: "food", Quantity: 2, Price: 1.0})
	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateOffer, Agent: "producer-02", Good: "food", Quantity: 2, Price: 1.0})
	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateRequest, Agent: "consumer-01", Good: "food", Quantity: 3, Price: 1.0})

	_, err := sim.MatchMarket("market")
	require.NoError(t, err)

	// Equal asks fill in submission order: producer-01 sells 2, then
	// producer-02 sells 1 and keeps a residual unit on the book.
	market := sim.Market()
	require.Len(t, market.Offers, 1)
	assert.Equal(t, "producer-02", market.Offers[0].SellerID)
	assert.Equal(t, 1, market.Offers[0].Quantity)
	assert.Empty(t, market.Requests)

	p1, _ := sim.Ledger.Agent("producer-01")
	p2, _ := sim.Ledger.Agent("producer-02")
	assert.InDelta(t, 11.9, p1.Currency, 1e-9)
	assert.InDelta(t, 10.95, p2.Currency, 1e-9)

	buyer, _ := sim.Ledger.Agent("consumer-01")
	assert.Equal(t, 3, buyer.Inventory["food"])
	assert.Equal(t, uint64(2), sim.StatsSnapshot().TradesExecuted)
}

func TestMatchingPrefersHighestBid(t *testing.T) {
	sim := engine.NewSimulation(nil, quietPolicy())
	sim.Ledger.AddAgent("producer-01").Inventory["food"] = 2
	sim.Ledger.AddAgent("consumer-01")
	sim.Ledger.AddAgent("consumer-02")

	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateRequest, Agent: "consumer-01", Good: "food", Quantity: 1, Price: 1.2})
	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateRequest, Agent: "consumer-02", Good: "food", Quantity: 2, Price: 2.0})
	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateOffer, Agent: "producer-01", Good: "food", Quantity: 2, Price: 1.0})

	_, err := sim.MatchMarket("market")
	require.NoError(t, err)

	// The later but higher bid fills first and exhausts the offer.
	c1, _ := sim.Ledger.Agent("consumer-01")
	c2, _ := sim.Ledger.Agent("consumer-02")
	assert.Equal(t, 0, c1.Inventory["food"])
	assert.Equal(t, 2, c2.Inventory["food"])

	market := sim.Market()
	assert.Empty(t, market.Offers)
	require.Len(t, market.Requests, 1)
	assert.Equal(t, "consumer-01", market.Requests[0].BuyerID)
}

func TestMatchingSkipsStaleOffersWhole(t *testing.T) {
	sim := engine.NewSimulation(nil, quietPolicy())
	seller := sim.Ledger.AddAgent("producer-01")
	seller.Inventory["food"] = 3
	sim.Ledger.AddAgent("consumer-01")

	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateOffer, Agent: "producer-01", Good: "food", Quantity: 3, Price: 1.0})
	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateRequest, Agent: "consumer-01", Good: "food", Quantity: 3, Price: 2.0})

	// The goods left the seller's hands after listing. The offer promises
	// more than the seller can deliver, so it fails whole, no partial fill.
	seller.Inventory["food"] = 1

	_, err := sim.MatchMarket("market")
	require.NoError(t, err)

	assert.Equal(t, uint64(0), sim.StatsSnapshot().TradesExecuted)
	market := sim.Market()
	require.Len(t, market.Offers, 1)
	assert.Equal(t, 3, market.Offers[0].Quantity)
	require.Len(t, market.Requests, 1)

	buyer, _ := sim.Ledger.Agent("consumer-01")
	assert.InDelta(t, 4.0, buyer.Currency, 1e-9)
}

func TestMatchingLaborSkipsSelfMatch(t *testing.T) {
	sim := engine.NewSimulation(nil, quietPolicy())
	sim.Ledger.AddAgent("worker-01")

	mustApply(t, sim, engine.Action{Kind: engine.ActionOfferLabor, Agent: "worker-01", Quantity: 2, Price: 0.8})
	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateRequest, Agent: "worker-01", Good: "labor", Quantity: 2, Price: 1.2})

	_, err := sim.MatchMarket("market")
	require.NoError(t, err)

	assert.Equal(t, uint64(0), sim.StatsSnapshot().TradesExecuted)
	worker, _ := sim.Ledger.Agent("worker-01")
	assert.Equal(t, 0, worker.LaborUsed)
}

func TestMatchingLaborBooksCapacityAndBoostsHirer(t *testing.T) {
	sim := engine.NewSimulation(nil, quietPolicy())
	worker := sim.Ledger.AddAgent("worker-01")
	hirer := sim.Ledger.AddAgent("producer-01")
	hirer.Inventory["food"] = 2

	mustApply(t, sim, engine.Action{Kind: engine.ActionOfferLabor, Agent: "worker-01", Quantity: 2, Price: 0.8})
	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateRequest, Agent: "producer-01", Good: "labor", Quantity: 2, Price: 1.2})

	_, err := sim.MatchMarket("market")
	require.NoError(t, err)

	// Wage midpoint 1.00: notional 2.00, fee 0.10, refund 0.40.
	assert.InDelta(t, 11.9, worker.Currency, 1e-9)
	assert.InDelta(t, 8.0, hirer.Currency, 1e-9)
	assert.Equal(t, 2, worker.LaborUsed)

	// Labor never lands in inventory; it boosts the hirer's stock instead.
	assert.Equal(t, 0, hirer.Inventory["labor"])
	assert.Equal(t, 3, hirer.Inventory["food"])
}

func TestPriceNudgesUpOnExcessDemand(t *testing.T) {
	sim := engine.NewSimulation(nil, quietPolicy())
	sim.Ledger.AddAgent("producer-01").Inventory["food"] = 2
	sim.Ledger.AddAgent("consumer-01")
	sim.Ledger.AddAgent("consumer-02")

	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateOffer, Agent: "producer-01", Good: "food", Quantity: 2, Price: 1.0})
	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateRequest, Agent: "consumer-01", Good: "food", Quantity: 2, Price: 2.0})
	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateRequest, Agent: "consumer-02", Good: "food", Quantity: 1, Price: 1.8})

	_, err := sim.MatchMarket("market")
	require.NoError(t, err)

	// One request goes unfilled, so the average fill price of 1.50 is
	// nudged up 5%.
	assert.InDelta(t, 1.575, sim.Ledger.Price("food"), 1e-9)
}

func TestPriceMoveCapLimitsSwing(t *testing.T) {
	sim := engine.NewSimulation(nil, quietPolicy())
	sim.Ledger.AddAgent("producer-01").Inventory["food"] = 1
	sim.Ledger.AddAgent("consumer-01")

	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateOffer, Agent: "producer-01", Good: "food", Quantity: 1, Price: 0.1})
	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateRequest, Agent: "consumer-01", Good: "food", Quantity: 1, Price: 0.1})

	_, err := sim.MatchMarket("market")
	require.NoError(t, err)

	// A fill at 0.10 cannot drag the price below 20% of the prior 1.50.
	assert.InDelta(t, 1.2, sim.Ledger.Price("food"), 1e-9)
}

func TestPriceStaysInsideBand(t *testing.T) {
	sim := engine.NewSimulation(nil, quietPolicy())
	sim.Ledger.SetPrice("food", 0.55)
	sim.Ledger.AddAgent("producer-01").Inventory["food"] = 1
	sim.Ledger.AddAgent("consumer-01")

	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateOffer, Agent: "producer-01", Good: "food", Quantity: 1, Price: 0.4})
	mustApply(t, sim, engine.Action{Kind: engine.ActionCreateRequest, Agent: "consumer-01", Good: "food", Quantity: 1, Price: 0.48})

	_, err := sim.MatchMarket("market")
	require.NoError(t, err)

	// The band floor for food wins over the computed move.
	assert.InDelta(t, 0.5, sim.Ledger.Price("food"), 1e-9)
}

func TestMatchMarketRequiresOperator(t *testing.T) {
	sim := engine.NewSimulation(nil, quietPolicy())
	sim.Ledger.AddAgent("trader-01")

	_, err := sim.MatchMarket("trader-01")
	require.Error(t, err)
	assert.ErrorContains(t, err, "unauthorized")
	assert.Equal(t, uint64(1), sim.StatsSnapshot().ActionsRefused)
}
