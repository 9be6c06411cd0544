package watch_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talgya/econsim/internal/watch"
)

func healthyAgent(id string) watch.AgentInfo {
	return watch.AgentInfo{
		ID:            id,
		Inventory:     map[string]int{"food": 2},
		Currency:      10,
		Health:        100,
		LaborCapacity: 5,
	}
}

func TestTriageHealthyEconomy(t *testing.T) {
	snap := &watch.EconomySnapshot{
		Status: watch.StatusInfo{Stats: watch.StatsInfo{AvgHealth: 95}},
		Agents: []watch.AgentInfo{healthyAgent("producer-01"), healthyAgent("consumer-01"), healthyAgent("market")},
	}

	h := watch.Triage(snap)
	assert.Equal(t, "HEALTHY", h.CrisisLevel)
	assert.Zero(t, h.Starving)
	assert.Zero(t, h.MissedMeals)
	assert.Zero(t, h.Broke)
	assert.Zero(t, h.BookImbalance)
}

func TestTriageCriticalOnLowAverage(t *testing.T) {
	snap := &watch.EconomySnapshot{
		Status: watch.StatusInfo{Stats: watch.StatsInfo{AvgHealth: 25}},
		Agents: []watch.AgentInfo{healthyAgent("a"), healthyAgent("b")},
	}

	assert.Equal(t, "CRITICAL", watch.Triage(snap).CrisisLevel)
}

func TestTriageCriticalWhenThirdAreStarving(t *testing.T) {
	starving := healthyAgent("consumer-01")
	starving.Health = 10
	snap := &watch.EconomySnapshot{
		Status: watch.StatusInfo{Stats: watch.StatsInfo{AvgHealth: 70}},
		Agents: []watch.AgentInfo{healthyAgent("producer-01"), healthyAgent("market"), starving},
	}

	h := watch.Triage(snap)
	assert.Equal(t, 1, h.Starving)
	assert.Equal(t, "CRITICAL", h.CrisisLevel)
}

func TestTriageWarningOnScatteredStarvation(t *testing.T) {
	starving := healthyAgent("consumer-01")
	starving.Health = 15
	snap := &watch.EconomySnapshot{
		Status: watch.StatusInfo{Stats: watch.StatsInfo{AvgHealth: 80}},
		Agents: []watch.AgentInfo{
			healthyAgent("a"), healthyAgent("b"), healthyAgent("c"), starving,
		},
	}

	h := watch.Triage(snap)
	assert.Equal(t, "WARNING", h.CrisisLevel)
}

func TestTriageWatchOnMissedMeals(t *testing.T) {
	hungry := healthyAgent("consumer-01")
	hungry.FailedFoodCycles = 2
	snap := &watch.EconomySnapshot{
		Status: watch.StatusInfo{Stats: watch.StatsInfo{AvgHealth: 90}},
		Agents: []watch.AgentInfo{healthyAgent("producer-01"), hungry},
	}

	h := watch.Triage(snap)
	assert.Equal(t, 1, h.MissedMeals)
	assert.Equal(t, "WATCH", h.CrisisLevel)
}

func TestTriageWatchOnBookImbalance(t *testing.T) {
	snap := &watch.EconomySnapshot{
		Status: watch.StatusInfo{Stats: watch.StatsInfo{AvgHealth: 90}},
		Agents: []watch.AgentInfo{healthyAgent("a"), healthyAgent("b")},
		Market: watch.MarketInfo{
			Offers:   []watch.OfferInfo{{ID: "offer-1", Good: "food", Quantity: 2}},
			Requests: []watch.RequestInfo{{ID: "req-1", Good: "food", Quantity: 8}},
		},
	}

	h := watch.Triage(snap)
	assert.InDelta(t, 4.0, h.BookImbalance, 1e-9)
	assert.Equal(t, "WATCH", h.CrisisLevel)
}

func TestTriageImbalanceWithEmptyOfferSide(t *testing.T) {
	snap := &watch.EconomySnapshot{
		Status: watch.StatusInfo{Stats: watch.StatsInfo{AvgHealth: 90}},
		Agents: []watch.AgentInfo{healthyAgent("a")},
		Market: watch.MarketInfo{
			Requests: []watch.RequestInfo{{ID: "req-1", Good: "food", Quantity: 4}},
		},
	}

	assert.InDelta(t, 4.0, watch.Triage(snap).BookImbalance, 1e-9)
}

func TestTriageCountsBrokeAgents(t *testing.T) {
	broke := healthyAgent("consumer-01")
	broke.Currency = 0.5
	snap := &watch.EconomySnapshot{
		Status: watch.StatusInfo{Stats: watch.StatsInfo{AvgHealth: 95}},
		Agents: []watch.AgentInfo{healthyAgent("producer-01"), broke},
	}

	assert.Equal(t, 1, watch.Triage(snap).Broke)
}

func TestRenderFullReport(t *testing.T) {
	snap := &watch.EconomySnapshot{
		Status: watch.StatusInfo{
			Cycle:  7,
			Phase:  "cleared",
			Agents: 3,
			Prices: map[string]float64{"food": 1.5, "labor": 0.8},
			Stats:  watch.StatsInfo{AvgHealth: 55, TotalCurrency: 30, TradesExecuted: 4},
		},
		Agents: []watch.AgentInfo{healthyAgent("producer-01"), healthyAgent("consumer-01")},
		Market: watch.MarketInfo{
			Offers:   []watch.OfferInfo{{ID: "offer-1", SellerID: "producer-01", Good: "food", Quantity: 2, Price: 1.4}},
			Requests: []watch.RequestInfo{{ID: "req-1", BuyerID: "consumer-01", Good: "food", Quantity: 1, MaxPrice: 1.65}},
		},
		Transactions: []watch.TransactionInfo{
			{SellerID: "producer-01", BuyerID: "consumer-01", Good: "food", Quantity: 2, Price: 1.5, ViaMarket: true},
		},
		Events: []watch.EventInfo{
			{Cycle: 6, Description: "cycle 6 complete: 2 trades, 0 starved", Category: "cycle"},
		},
	}

	var buf bytes.Buffer
	watch.Render(&buf, snap)
	out := buf.String()

	assert.Contains(t, out, "CYCLE 7 (cleared)")
	assert.Contains(t, out, "Status: WARNING")
	assert.Contains(t, out, "PRICES")
	assert.Contains(t, out, "food")
	assert.Contains(t, out, "OPEN BOOK")
	assert.Contains(t, out, "offer-1")
	assert.Contains(t, out, "req-1")
	assert.Contains(t, out, "AGENTS")
	assert.Contains(t, out, "food:2")
	assert.Contains(t, out, "TRADES THIS CYCLE")
	assert.Contains(t, out, "producer-01 sold 2 food to consumer-01")
	assert.Contains(t, out, "(market)")
	assert.Contains(t, out, "EVENTS")
	assert.Contains(t, out, "cycle 6 complete")
}

func TestRenderOmitsEmptySections(t *testing.T) {
	snap := &watch.EconomySnapshot{
		Status: watch.StatusInfo{Cycle: 0, Phase: "awaiting_actions", Stats: watch.StatsInfo{AvgHealth: 100}},
		Agents: []watch.AgentInfo{healthyAgent("producer-01")},
	}

	var buf bytes.Buffer
	watch.Render(&buf, snap)
	out := buf.String()

	assert.NotContains(t, out, "OPEN BOOK")
	assert.NotContains(t, out, "TRADES THIS CYCLE")
	assert.NotContains(t, out, "EVENTS")
	assert.Contains(t, out, "Status: HEALTHY")
}
