// Cycle-end settlement: the fixed sequence of upkeep steps that runs after
// matching and before the books are cleared for the next cycle.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/econsim/internal/economy"
)

// CycleReport summarizes one completed cycle for the caller.
type CycleReport struct {
	Cycle   uint64
	Trades  int
	Volume  int
	Fees    float64
	Starved int
}

// RunCycle closes out the current cycle: one final matching pass over the
// books, the settlement sequence, clear-down, and the log flush. The cycle
// counter advances at the end, so actions submitted next belong to the new
// cycle.
func (s *Simulation) RunCycle() CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Phase = PhaseMatching
	sum := s.runMatching()

	s.Phase = PhaseSettling
	starved := s.settle()

	s.Phase = PhaseCleared
	s.clearDown()

	s.Ledger.FinalizeCycleLogs()
	report := CycleReport{
		Cycle:   s.Ledger.Cycle,
		Trades:  sum.Trades,
		Volume:  sum.Volume,
		Fees:    sum.Fees,
		Starved: starved,
	}
	s.emitEvent("cycle", fmt.Sprintf("cycle %d complete: %d trades, %d starved", report.Cycle, report.Trades, report.Starved))
	s.Ledger.Cycle++
	s.Stats.CyclesCompleted++
	s.updateStats()
	s.Phase = PhaseAwaitingActions

	slog.Info("cycle complete",
		"cycle", report.Cycle,
		"trades", report.Trades,
		"volume", report.Volume,
		"fees", fmt.Sprintf("%.3f", report.Fees),
		"starved", report.Starved,
		"avg_health", fmt.Sprintf("%.1f", s.Stats.AvgHealth),
		"total_currency", fmt.Sprintf("%.2f", s.Stats.TotalCurrency),
	)
	return report
}

// settle runs the cycle-end upkeep sequence in its fixed order: labor
// reset, regeneration, reserved-good consumption, reserved-good repricing,
// redistribution, and the emergency subsidy. Returns how many agents went
// without the reserved good. Caller holds the lock.
func (s *Simulation) settle() int {
	l, pol := s.Ledger, s.Policy
	food := pol.ReservedGood
	ids := l.AgentIDs()
	operator := l.Agents[pol.Market.Operator]

	// 1. Labor books reopen.
	for _, id := range ids {
		l.Agents[id].LaborUsed = 0
	}

	// 2. Natural regeneration for everyone below the ceiling.
	for _, id := range ids {
		a := l.Agents[id]
		if a.Health < economy.MaxHealth {
			a.AdjustHealth(pol.Health.Regen)
		}
	}

	// 3. Reserved-good consumption. An agent that bought the good this
	// cycle has eaten; anyone else eats from inventory if they can pay
	// the market price, and starves otherwise.
	consumed := make(map[string]bool)
	for _, id := range ids {
		if id != pol.Market.Operator {
			consumed[id] = false
		}
	}
	for _, tx := range l.Transactions {
		if tx.Good != food {
			continue
		}
		if _, ok := consumed[tx.BuyerID]; ok {
			consumed[tx.BuyerID] = true
		}
	}
	starved := 0
	for _, id := range ids {
		ate, tracked := consumed[id]
		if !tracked {
			continue
		}
		a := l.Agents[id]
		if !ate && a.Quantity(food) > 0 {
			price := l.Price(food)
			if a.Currency >= price {
				a.Inventory[food]--
				a.Currency -= price
				if operator != nil {
					operator.Currency += price
				}
				l.LogDecision(id, fmt.Sprintf("Consumed 1 %s from inventory for %s currency.", food, money(price)))
				ate = true
			} else {
				l.LogDecision(id, fmt.Sprintf("Has %s but cannot afford to consume it (needs %s, has %s).", food, money(price), money(a.Currency)))
			}
		}
		if ate {
			a.AdjustHealth(pol.Health.ConsumeBonus)
			l.LogDecision(id, fmt.Sprintf("Maintained health at %d.", a.Health))
		} else {
			a.AdjustHealth(-pol.Health.StarvationPenalty)
			a.FailedFoodCycles++
			starved++
			l.LogDecision(id, fmt.Sprintf("Health decreased to %d (no %s consumed).", a.Health, food))
			s.emitEvent("health", fmt.Sprintf("%s went without %s, health %d", id, food, a.Health))
		}
	}

	// 4. Reserved-good repricing from real scarcity: base price scaled by
	// eaters per unit of supply, inside the band.
	if band, ok := l.Bands[food]; ok && band.Base > 0 {
		supply := l.TotalSupply(food)
		if supply < 1 {
			supply = 1
		}
		eaters := len(consumed)
		prior := l.Price(food)
		next := l.SetPrice(food, band.Base*float64(eaters)/float64(supply))
		if next != prior {
			s.emitEvent("price", fmt.Sprintf("%s repriced %s to %s on supply %d for %d agents",
				food, money(prior), money(next), supply, eaters))
		}
	}

	// 5. Redistribution: a flat levy on every balance, paid out evenly to
	// struggling agents. With nobody struggling the pool goes to the
	// market operator, never out of the economy.
	if pol.Welfare.TaxRate > 0 {
		var pool float64
		for _, id := range ids {
			a := l.Agents[id]
			share := a.Currency * pol.Welfare.TaxRate
			a.Currency -= share
			pool += share
		}
		var needy []string
		for _, id := range ids {
			if id == pol.Market.Operator {
				continue
			}
			a := l.Agents[id]
			if a.Health < pol.Welfare.HealthBelow || a.Currency < pol.Welfare.CurrencyBelow {
				needy = append(needy, id)
			}
		}
		if len(needy) > 0 {
			per := pool / float64(len(needy))
			for _, id := range needy {
				l.Agents[id].Currency += per
				l.LogDecision(id, fmt.Sprintf("Received relief payment of %s currency.", money(per)))
			}
			s.emitEvent("welfare", fmt.Sprintf("redistributed %s currency to %d agents", money(pool), len(needy)))
		} else if operator != nil {
			operator.Currency += pool
		}
	}

	// 6. Emergency subsidy: critically unhealthy agents draw the reserved
	// good from the operator's stock while it lasts.
	if operator != nil && pol.Welfare.SubsidyUnits > 0 {
		for _, id := range ids {
			if id == pol.Market.Operator {
				continue
			}
			a := l.Agents[id]
			if a.Health >= pol.Welfare.SubsidyHealthBelow {
				continue
			}
			units := pol.Welfare.SubsidyUnits
			if stock := operator.Quantity(food); stock < units {
				units = stock
			}
			if units <= 0 {
				continue
			}
			operator.Inventory[food] -= units
			a.Inventory[food] += units
			l.LogDecision(id, fmt.Sprintf("Received emergency subsidy of %d %s.", units, food))
			s.emitEvent("welfare", fmt.Sprintf("%s received %d %s in emergency subsidy", id, units, food))
		}
	}

	return starved
}

// clearDown refunds what remains reserved behind open requests, then
// drops all transient order state. Nothing carries between cycles except
// agent state and prices.
func (s *Simulation) clearDown() {
	l := s.Ledger
	for _, r := range l.Requests {
		if r.Quantity <= 0 {
			continue
		}
		buyer, ok := l.Agents[r.BuyerID]
		if !ok {
			continue
		}
		refund := r.Reserved()
		buyer.Currency += refund
		l.LogDecision(r.BuyerID, fmt.Sprintf("Request %s expired unfilled. Refunded %s currency.", r.ID, money(refund)))
	}
	l.Offers = nil
	l.Requests = nil
	l.Transactions = nil
}
