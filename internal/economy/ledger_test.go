package economy_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/econsim/internal/economy"
)

func TestAddAgentAppliesDefaults(t *testing.T) {
	l := economy.NewLedger()

	a := l.AddAgent("producer")
	require.NotNil(t, a)
	assert.Equal(t, "producer", a.ID)
	assert.Equal(t, 10.0, a.Currency)
	assert.Equal(t, economy.MaxHealth, a.Health)
	assert.Equal(t, 5, a.LaborCapacity)
	assert.Equal(t, 0, a.LaborUsed)
	assert.NotNil(t, a.Inventory)
}

func TestAddAgentIsIdempotent(t *testing.T) {
	l := economy.NewLedger()

	first := l.AddAgent("trader")
	first.Currency = 42.5
	first.Inventory["food"] = 3

	second := l.AddAgent("trader")
	assert.Same(t, first, second)
	assert.Equal(t, 42.5, second.Currency)
	assert.Equal(t, 3, second.Inventory["food"])
	assert.Len(t, l.Agents, 1)
}

func TestAgentLookupUnknown(t *testing.T) {
	l := economy.NewLedger()
	l.AddAgent("consumer")

	_, err := l.Agent("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, economy.ErrNotFound))

	a, err := l.Agent("consumer")
	require.NoError(t, err)
	assert.Equal(t, "consumer", a.ID)
}

func TestAgentIDsSorted(t *testing.T) {
	l := economy.NewLedger()
	l.AddAgent("worker")
	l.AddAgent("consumer")
	l.AddAgent("producer")
	l.AddAgent("market")

	assert.Equal(t, []string{"consumer", "market", "producer", "worker"}, l.AgentIDs())
}

func TestSetPriceClampsToBand(t *testing.T) {
	l := economy.NewLedger()
	l.Bands["food"] = economy.PriceBand{Base: 1.5, Min: 0.5, Max: 3.0}

	assert.Equal(t, 3.0, l.SetPrice("food", 7.2))
	assert.Equal(t, 0.5, l.SetPrice("food", 0.01))
	assert.Equal(t, 1.8, l.SetPrice("food", 1.8))

	// Goods without a band only get the non-negative floor.
	assert.Equal(t, 0.0, l.SetPrice("scrap", -2.0))
	assert.Equal(t, 9.9, l.SetPrice("scrap", 9.9))
}

func TestPriceQuotes(t *testing.T) {
	l := economy.NewLedger()
	l.Bands["food"] = economy.PriceBand{Base: 1.5, Min: 0.5, Max: 3.0}

	// Untraded banded goods quote the base; unknown goods quote unit price.
	assert.Equal(t, 1.5, l.Price("food"))
	assert.Equal(t, 1.0, l.Price("scrap"))

	l.SetPrice("food", 2.2)
	assert.Equal(t, 2.2, l.Price("food"))
}

func TestOrderIDsAreMonotonic(t *testing.T) {
	l := economy.NewLedger()
	l.AddAgent("producer")
	l.AddAgent("consumer")

	o1 := l.NewOffer("producer", "food", 2, 1.0)
	o2 := l.NewOffer("producer", "food", 1, 1.2)
	r1 := l.NewRequest("consumer", "food", 1, 2.0)

	assert.Equal(t, "offer-1", o1.ID)
	assert.Equal(t, "offer-2", o2.ID)
	assert.Equal(t, "req-1", r1.ID)
	assert.Equal(t, uint64(2), l.OfferSeq)
	assert.Equal(t, uint64(1), l.RequestSeq)

	// Removal must not free ids for reuse.
	l.RemoveOffer("offer-2")
	o3 := l.NewOffer("producer", "food", 1, 1.1)
	assert.Equal(t, "offer-3", o3.ID)
}

func TestRemoveOfferKeepsBookOrder(t *testing.T) {
	l := economy.NewLedger()
	l.AddAgent("producer")

	l.NewOffer("producer", "food", 1, 1.0)
	l.NewOffer("producer", "food", 1, 1.1)
	l.NewOffer("producer", "food", 1, 1.2)

	require.True(t, l.RemoveOffer("offer-2"))
	require.Len(t, l.Offers, 2)
	assert.Equal(t, "offer-1", l.Offers[0].ID)
	assert.Equal(t, "offer-3", l.Offers[1].ID)

	assert.False(t, l.RemoveOffer("offer-99"))
}

func TestFindOrders(t *testing.T) {
	l := economy.NewLedger()
	l.AddAgent("producer")
	l.AddAgent("consumer")
	l.NewOffer("producer", "food", 2, 1.0)
	l.NewRequest("consumer", "food", 1, 2.0)

	o, ok := l.FindOffer("offer-1")
	require.True(t, ok)
	assert.Equal(t, "producer", o.SellerID)

	r, ok := l.FindRequest("req-1")
	require.True(t, ok)
	assert.Equal(t, "consumer", r.BuyerID)

	_, ok = l.FindOffer("offer-404")
	assert.False(t, ok)
	_, ok = l.FindRequest("req-404")
	assert.False(t, ok)
}

func TestCancelRequestRefundsReservation(t *testing.T) {
	l := economy.NewLedger()
	l.ReservedGood = "food"
	buyer := l.AddAgent("consumer")

	// Creating a request reserves up front; mimic the engine's deduction.
	buyer.Currency -= 4.0
	l.NewRequest("consumer", "food", 2, 2.0)
	require.Equal(t, 6.0, buyer.Currency)

	require.True(t, l.CancelRequest("req-1"))
	assert.Equal(t, 10.0, buyer.Currency)
	assert.Empty(t, l.Requests)

	// A cancelled reserved-good request counts as a failed food cycle.
	assert.Equal(t, 1, buyer.FailedFoodCycles)
}

func TestCancelRequestNonReservedGood(t *testing.T) {
	l := economy.NewLedger()
	l.ReservedGood = "food"
	buyer := l.AddAgent("trader")

	buyer.Currency -= 3.0
	l.NewRequest("trader", "tools", 3, 1.0)

	require.True(t, l.CancelRequest("req-1"))
	assert.Equal(t, 10.0, buyer.Currency)
	assert.Equal(t, 0, buyer.FailedFoodCycles)

	assert.False(t, l.CancelRequest("req-77"))
}

func TestReservedCurrency(t *testing.T) {
	l := economy.NewLedger()
	l.AddAgent("consumer")
	l.AddAgent("worker")

	l.NewRequest("consumer", "food", 2, 1.5)
	l.NewRequest("worker", "food", 1, 2.0)

	assert.InDelta(t, 5.0, l.ReservedCurrency(), 1e-9)

	// A partially filled request only reserves its remaining quantity.
	l.Requests[0].Quantity = 1
	assert.InDelta(t, 3.5, l.ReservedCurrency(), 1e-9)
}

func TestTotalCurrencyIncludesReservations(t *testing.T) {
	l := economy.NewLedger()
	a := l.AddAgent("consumer")
	b := l.AddAgent("producer")
	require.Equal(t, 20.0, l.TotalCurrency())

	// Reserving moves currency out of the balance but not out of the economy.
	a.Currency -= 4.0
	l.NewRequest("consumer", "food", 2, 2.0)
	assert.InDelta(t, 20.0, l.TotalCurrency(), 1e-9)

	b.Currency += 1.0
	assert.InDelta(t, 21.0, l.TotalCurrency(), 1e-9)
}

func TestTotalSupply(t *testing.T) {
	l := economy.NewLedger()
	l.AddAgent("producer").Inventory["food"] = 5
	l.AddAgent("consumer").Inventory["food"] = 2
	l.AddAgent("worker")

	assert.Equal(t, 7, l.TotalSupply("food"))
	assert.Equal(t, 0, l.TotalSupply("tools"))
}

func TestDecisionLogLifecycle(t *testing.T) {
	l := economy.NewLedger()
	l.AddAgent("producer")

	l.LogDecision("producer", "Produced 2 food. Now holding 10.")
	l.LogDecision("producer", "Created offer offer-1: 4 food at 1.42 each.")

	require.Len(t, l.Decisions["producer"], 2)
	assert.Equal(t, "[Cycle 0] producer: Produced 2 food. Now holding 10.", l.Decisions["producer"][0])

	l.FinalizeCycleLogs()
	assert.Empty(t, l.Decisions)
	require.Len(t, l.CycleLogs[0]["producer"], 2)
	assert.Contains(t, l.CycleLogs[0]["producer"][1], "offer-1")

	// Finalizing an empty buffer leaves history untouched.
	l.Cycle = 1
	l.FinalizeCycleLogs()
	_, ok := l.CycleLogs[1]
	assert.False(t, ok)

	assert.Equal(t, l.CycleLogs[0]["producer"], l.CycleLog(0, "producer"))
	assert.Nil(t, l.CycleLog(5, "producer"))
}

func TestWriteLogsIncludesUnfinalizedBuffer(t *testing.T) {
	l := economy.NewLedger()
	l.AddAgent("producer")
	l.AddAgent("consumer")

	l.LogDecision("producer", "Produced 2 food. Now holding 10.")
	l.FinalizeCycleLogs()
	l.Cycle = 1
	l.LogDecision("consumer", "Created request req-1 to buy 1 food at max 1.65 each. Reserved 1.65 currency.")

	var buf bytes.Buffer
	require.NoError(t, l.WriteLogs(&buf))
	out := buf.String()

	assert.Contains(t, out, "=== ECONOMY SIMULATION DECISION LOG ===")
	assert.Contains(t, out, "CYCLE 0")
	assert.Contains(t, out, "CYCLE 1")
	assert.Contains(t, out, "PRODUCER DECISIONS:")
	assert.Contains(t, out, "CONSUMER DECISIONS:")
	assert.Contains(t, out, "[Cycle 1] consumer:")
}

func TestSnapshotsDoNotAliasLedgerState(t *testing.T) {
	l := economy.NewLedger()
	a := l.AddAgent("producer")
	a.Inventory["food"] = 4
	l.NewOffer("producer", "food", 2, 1.0)
	l.SetPrice("food", 1.5)

	agents := l.SnapshotAgents()
	require.Len(t, agents, 1)
	agents[0].Inventory["food"] = 99
	agents[0].Currency = 0
	assert.Equal(t, 4, a.Inventory["food"])
	assert.Equal(t, 10.0, a.Currency)

	offers := l.SnapshotOffers()
	require.Len(t, offers, 1)
	offers[0].Quantity = 0
	assert.Equal(t, 2, l.Offers[0].Quantity)

	prices := l.SnapshotPrices()
	prices["food"] = 0
	assert.Equal(t, 1.5, l.Prices["food"])
}

func TestAgentHealthClamping(t *testing.T) {
	a := &economy.AgentState{Health: 95}
	a.AdjustHealth(10)
	assert.Equal(t, economy.MaxHealth, a.Health)

	a.AdjustHealth(-200)
	assert.Equal(t, 0, a.Health)

	a.AdjustHealth(15)
	assert.Equal(t, 15, a.Health)
}

func TestRequestReserved(t *testing.T) {
	r := &economy.Request{Quantity: 3, MaxPrice: 2.0}
	assert.Equal(t, 6.0, r.Reserved())

	r.Quantity = 0
	assert.Equal(t, 0.0, r.Reserved())

	r.Quantity = -1
	assert.Equal(t, 0.0, r.Reserved())
}
