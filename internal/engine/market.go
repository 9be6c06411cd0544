// Batch market matching: per-good double auction over the open books.
package engine

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/talgya/econsim/internal/economy"
)

// matchSummary aggregates one matching pass.
type matchSummary struct {
	Trades int
	Goods  int
	Volume int
	Fees   float64
}

// runMatching executes one full matching pass: every good with open orders
// gets a double-auction round, then filled orders are pruned and prices
// adjusted. Caller holds the lock.
func (s *Simulation) runMatching() matchSummary {
	var sum matchSummary
	for _, good := range s.orderedGoods() {
		trades, volume, fees := s.matchGood(good)
		if trades > 0 {
			sum.Trades += trades
			sum.Volume += volume
			sum.Fees += fees
			sum.Goods++
		}
	}
	s.pruneFilled()
	if sum.Trades > 0 {
		slog.Debug("matching pass complete",
			"cycle", s.Ledger.Cycle,
			"trades", sum.Trades,
			"goods", sum.Goods,
			"volume", sum.Volume,
			"fees", fmt.Sprintf("%.3f", sum.Fees),
		)
	}
	return sum
}

// orderedGoods returns every good with at least one open order, sorted so
// matching passes are reproducible.
func (s *Simulation) orderedGoods() []string {
	seen := make(map[string]bool)
	for _, o := range s.Ledger.Offers {
		seen[o.Good] = true
	}
	for _, r := range s.Ledger.Requests {
		seen[r.Good] = true
	}
	goods := make([]string, 0, len(seen))
	for good := range seen {
		goods = append(goods, good)
	}
	sort.Strings(goods)
	return goods
}

// matchGood runs the double auction for one good. Offers are walked from
// cheapest ask, requests from highest bid; ties keep submission order.
// Each fill trades min(remaining quantities) at the midpoint of ask and
// bid, takes the operator's fee from seller proceeds, and refunds the
// buyer the spread below the reservation.
func (s *Simulation) matchGood(good string) (trades, volume int, fees float64) {
	l := s.Ledger
	labor := good == s.Policy.Labor.Good

	var offers []*economy.Offer
	for _, o := range l.Offers {
		if o.Good == good && o.Quantity > 0 {
			offers = append(offers, o)
		}
	}
	var requests []*economy.Request
	for _, r := range l.Requests {
		if r.Good == good && r.Quantity > 0 {
			requests = append(requests, r)
		}
	}
	if len(offers) == 0 || len(requests) == 0 {
		return 0, 0, 0
	}

	sort.SliceStable(offers, func(i, j int) bool { return offers[i].Price < offers[j].Price })
	sort.SliceStable(requests, func(i, j int) bool { return requests[i].MaxPrice > requests[j].MaxPrice })

	operator, err := l.Agent(s.Policy.Market.Operator)
	if err != nil {
		return 0, 0, 0
	}

	var fillPrices []float64
	for _, o := range offers {
		seller, err := l.Agent(o.SellerID)
		if err != nil {
			continue
		}
		for _, r := range requests {
			if o.Quantity <= 0 {
				break
			}
			if r.Quantity <= 0 || r.MaxPrice < o.Price {
				continue
			}
			buyer, err := l.Agent(r.BuyerID)
			if err != nil {
				continue
			}
			if labor && o.SellerID == r.BuyerID {
				continue
			}
			// A stale offer promising more than the seller can deliver
			// fails outright, with no partial settlement.
			if labor {
				if seller.AvailableLabor() < o.Quantity {
					break
				}
			} else if seller.Quantity(good) < o.Quantity {
				break
			}

			qty := o.Quantity
			if r.Quantity < qty {
				qty = r.Quantity
			}
			price := (o.Price + r.MaxPrice) / 2
			notional := price * float64(qty)
			fee := s.Policy.Market.FeeRate * notional
			refund := (r.MaxPrice - price) * float64(qty)

			seller.Currency += notional - fee
			operator.Currency += fee
			buyer.Currency += refund
			s.transferGoods(seller, buyer, good, qty)
			o.Quantity -= qty
			r.Quantity -= qty

			s.recordTrade(seller.ID, buyer.ID, good, qty, price, true)
			s.Stats.FeesCollected += fee
			l.LogDecision(seller.ID, fmt.Sprintf("Market matched offer %s: sold %d %s to %s at %s each, fee %s.",
				o.ID, qty, good, buyer.ID, money(price), money(fee)))
			l.LogDecision(buyer.ID, fmt.Sprintf("Market matched request %s: bought %d %s from %s at %s each, refunded %s.",
				r.ID, qty, good, seller.ID, money(price), money(refund)))

			trades++
			volume += qty
			fees += fee
			fillPrices = append(fillPrices, price)
		}
	}

	if len(fillPrices) > 0 {
		s.adjustPrice(good, fillPrices, offers, requests)
	}
	return trades, volume, fees
}

// adjustPrice moves a good's market price after a matching round: the
// average fill price, nudged up when unfilled demand outweighs unfilled
// supply and down in the opposite case, capped per cycle and clamped to
// the good's band.
func (s *Simulation) adjustPrice(good string, fillPrices []float64, offers []*economy.Offer, requests []*economy.Request) {
	l := s.Ledger

	var avg float64
	for _, p := range fillPrices {
		avg += p
	}
	avg /= float64(len(fillPrices))

	supply, demand := 0, 0
	for _, o := range offers {
		if o.Quantity > 0 {
			supply++
		}
	}
	for _, r := range requests {
		if r.Quantity > 0 {
			demand++
		}
	}

	next := avg
	switch {
	case demand > supply:
		next = avg * s.Policy.Market.DemandNudge
	case supply > demand:
		next = avg * s.Policy.Market.SupplyNudge
	}

	prior := l.Price(good)
	if prior > 0 {
		lo := prior * (1 - s.Policy.Market.MoveCap)
		hi := prior * (1 + s.Policy.Market.MoveCap)
		if next < lo {
			next = lo
		}
		if next > hi {
			next = hi
		}
	}
	stored := l.SetPrice(good, next)
	if stored != prior {
		s.emitEvent("price", fmt.Sprintf("%s repriced %s to %s after trading", good, money(prior), money(stored)))
	}
}

// pruneFilled drops fully filled orders from both books, keeping
// submission order for the rest.
func (s *Simulation) pruneFilled() {
	l := s.Ledger
	offers := l.Offers[:0]
	for _, o := range l.Offers {
		if o.Quantity > 0 {
			offers = append(offers, o)
		}
	}
	l.Offers = offers

	requests := l.Requests[:0]
	for _, r := range l.Requests {
		if r.Quantity > 0 {
			requests = append(requests, r)
		}
	}
	l.Requests = requests
}
