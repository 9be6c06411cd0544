// Package scenario builds starting economies: the canonical five-agent
// micro economy and procedurally generated larger rosters.
package scenario

import (
	"github.com/talgya/econsim/internal/config"
	"github.com/talgya/econsim/internal/economy"
)

// Bootstrap returns the canonical five-agent economy: a producer with food
// stock, a consumer, a worker, a trader, and the market operator holding a
// small emergency reserve.
func Bootstrap(pol config.Policy) *economy.Ledger {
	l := economy.NewLedger()
	l.Defaults = pol.Agent
	food := pol.ReservedGood

	seed := func(id string, stock int, currency float64) {
		a := l.AddAgent(id)
		a.Currency = currency
		if stock > 0 {
			a.Inventory[food] = stock
		}
	}
	seed("producer", 8, 15)
	seed("consumer", 2, 15)
	seed("worker", 2, 12)
	seed("trader", 2, 15)
	seed(pol.Market.Operator, 2, 5)
	return l
}
