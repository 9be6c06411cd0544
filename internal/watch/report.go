package watch

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// EconomyHealth holds derived diagnostic signals computed from a snapshot.
// Runs locally on fetched data, no extra API calls.
type EconomyHealth struct {
	AvgHealth     float64
	Starving      int     // agents with health below 20
	MissedMeals   int     // agents with at least one failed food cycle
	Broke         int     // agents below 1.0 currency
	BookImbalance float64 // open request volume per open offer volume
	CrisisLevel   string  // "CRITICAL", "WARNING", "WATCH", "HEALTHY"
}

// Triage computes an EconomyHealth from the snapshot's data.
func Triage(snap *EconomySnapshot) *EconomyHealth {
	h := &EconomyHealth{
		AvgHealth: snap.Status.Stats.AvgHealth,
	}

	for _, a := range snap.Agents {
		if a.Health < 20 {
			h.Starving++
		}
		if a.FailedFoodCycles > 0 {
			h.MissedMeals++
		}
		if a.Currency < 1.0 {
			h.Broke++
		}
	}

	offered, requested := 0, 0
	for _, o := range snap.Market.Offers {
		offered += o.Quantity
	}
	for _, r := range snap.Market.Requests {
		requested += r.Quantity
	}
	if offered > 0 {
		h.BookImbalance = float64(requested) / float64(offered)
	} else if requested > 0 {
		h.BookImbalance = float64(requested)
	}

	h.CrisisLevel = "HEALTHY"
	switch {
	case h.AvgHealth < 30 && len(snap.Agents) > 1:
		h.CrisisLevel = "CRITICAL"
	case h.Starving > 0 && h.Starving*3 >= len(snap.Agents):
		h.CrisisLevel = "CRITICAL"
	case h.AvgHealth < 60 || h.Starving > 0:
		h.CrisisLevel = "WARNING"
	case h.MissedMeals > 0 || h.BookImbalance > 3:
		h.CrisisLevel = "WATCH"
	}

	return h
}

// Render writes a human-readable report of the snapshot to w.
func Render(w io.Writer, snap *EconomySnapshot) {
	h := Triage(snap)
	st := snap.Status

	fmt.Fprintf(w, "\n%s CYCLE %d (%s) %s\n", strings.Repeat("=", 12), st.Cycle, st.Phase, strings.Repeat("=", 12))
	fmt.Fprintf(w, "Agents: %d   Avg health: %.1f   Status: %s\n", st.Agents, h.AvgHealth, h.CrisisLevel)
	fmt.Fprintf(w, "Currency: %s total (%s reserved)   Fees collected: %s\n",
		money(st.Stats.TotalCurrency), money(st.Stats.ReservedCurrency), money(st.Stats.FeesCollected))
	fmt.Fprintf(w, "Trades: %d executed   Actions: %d applied, %d refused\n",
		st.Stats.TradesExecuted, st.Stats.ActionsApplied, st.Stats.ActionsRefused)

	// Prices with open interest per good.
	offered := make(map[string]int)
	requested := make(map[string]int)
	for _, o := range snap.Market.Offers {
		offered[o.Good] += o.Quantity
	}
	for _, r := range snap.Market.Requests {
		requested[r.Good] += r.Quantity
	}
	goods := make([]string, 0, len(st.Prices))
	for g := range st.Prices {
		goods = append(goods, g)
	}
	sort.Strings(goods)

	fmt.Fprintln(w, "\nPRICES")
	for _, g := range goods {
		fmt.Fprintf(w, "  %-10s %8s   (%d offered / %d requested)\n",
			g, money(st.Prices[g]), offered[g], requested[g])
	}

	if len(snap.Market.Offers) > 0 || len(snap.Market.Requests) > 0 {
		fmt.Fprintln(w, "\nOPEN BOOK")
		for _, o := range snap.Market.Offers {
			fmt.Fprintf(w, "  offer  %-10s %-14s %d %s @ %s\n", o.ID, o.SellerID, o.Quantity, o.Good, money(o.Price))
		}
		for _, r := range snap.Market.Requests {
			fmt.Fprintf(w, "  req    %-10s %-14s %d %s @ max %s\n", r.ID, r.BuyerID, r.Quantity, r.Good, money(r.MaxPrice))
		}
	}

	fmt.Fprintln(w, "\nAGENTS")
	for _, a := range snap.Agents {
		fmt.Fprintf(w, "  %-14s health %3d   currency %8s   labor %d/%d   %s\n",
			a.ID, a.Health, money(a.Currency), a.LaborUsed, a.LaborCapacity, inventoryLine(a.Inventory))
	}

	if len(snap.Transactions) > 0 {
		fmt.Fprintln(w, "\nTRADES THIS CYCLE")
		for _, t := range tail(snap.Transactions, 8) {
			via := "direct"
			if t.ViaMarket {
				via = "market"
			}
			fmt.Fprintf(w, "  %s sold %d %s to %s @ %s (%s)\n",
				t.SellerID, t.Quantity, t.Good, t.BuyerID, money(t.Price), via)
		}
	}

	if len(snap.Events) > 0 {
		fmt.Fprintln(w, "\nEVENTS")
		for _, e := range tail(snap.Events, 8) {
			fmt.Fprintf(w, "  [%d] %-8s %s\n", e.Cycle, e.Category, e.Description)
		}
	}
}

// inventoryLine renders an inventory map compactly in good order.
func inventoryLine(inv map[string]int) string {
	if len(inv) == 0 {
		return "empty"
	}
	goods := make([]string, 0, len(inv))
	for g := range inv {
		goods = append(goods, g)
	}
	sort.Strings(goods)

	parts := make([]string, 0, len(goods))
	for _, g := range goods {
		parts = append(parts, fmt.Sprintf("%s:%d", g, inv[g]))
	}
	return strings.Join(parts, " ")
}

// tail returns the last n elements of s.
func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func money(v float64) string {
	return humanize.CommafWithDigits(v, 2)
}
