package decision

import (
	"math"
	"strings"

	"github.com/talgya/econsim/internal/economy"
	"github.com/talgya/econsim/internal/engine"
)

// Role buckets an agent id into one of the scripted behavior profiles.
type Role uint8

const (
	RoleProducer Role = iota
	RoleConsumer
	RoleWorker
	RoleTrader
	RoleUnknown
)

// RoleOf keys behavior off the id prefix, so generated rosters like
// "producer-03" follow the same script as the canonical five agents.
func RoleOf(id string) Role {
	prefix := id
	if i := strings.IndexByte(id, '-'); i >= 0 {
		prefix = id[:i]
	}
	switch prefix {
	case "producer":
		return RoleProducer
	case "consumer":
		return RoleConsumer
	case "worker":
		return RoleWorker
	case "trader":
		return RoleTrader
	default:
		return RoleUnknown
	}
}

// Heuristic is the scripted strategist: deterministic role scripts that
// keep an economy alive without an oracle.
type Heuristic struct{}

func (Heuristic) Plan(v engine.AgentView) []engine.Action {
	if v.Agent.ID == v.Operator {
		return []engine.Action{{Kind: engine.ActionMatchMarket, Agent: v.Agent.ID}}
	}
	switch RoleOf(v.Agent.ID) {
	case RoleProducer:
		return producerPlan(v)
	case RoleWorker:
		return workerPlan(v)
	case RoleTrader:
		return traderPlan(v)
	default:
		// Unknown roles at least keep themselves fed.
		return consumerPlan(v)
	}
}

// Producers grow stock, keep a personal buffer, sell the surplus a shade
// under market, and hire labor when it is on offer and affordable.
func producerPlan(v engine.AgentView) []engine.Action {
	id, food := v.Agent.ID, v.ReservedGood
	price := priceOr(v, food)

	plan := []engine.Action{{Kind: engine.ActionProduce, Agent: id, Good: food, Quantity: 2}}

	const keep = 3
	if surplus := v.Agent.Quantity(food) + 2 - keep; surplus > 0 {
		plan = append(plan, engine.Action{
			Kind: engine.ActionCreateOffer, Agent: id, Good: food,
			Quantity: surplus, Price: round2(price * 0.95),
		})
	}
	if offer, ok := cheapestOffer(v, v.LaborGood); ok && v.Agent.Currency >= offer.Price*float64(offer.Quantity) {
		plan = append(plan, engine.Action{Kind: engine.ActionHireLabor, Agent: id, Target: offer.ID})
	}
	return plan
}

// Consumers keep a small food buffer topped up through the market,
// bidding slightly over the going price so their requests match.
func consumerPlan(v engine.AgentView) []engine.Action {
	id, food := v.Agent.ID, v.ReservedGood
	price := priceOr(v, food)

	const target = 3
	need := target - v.Agent.Quantity(food)
	if need <= 0 {
		return nil
	}
	bid := round2(price * 1.1)
	if afford := int(v.Agent.Currency / bid); afford < need {
		need = afford
	}
	if need <= 0 {
		return nil
	}
	return []engine.Action{{
		Kind: engine.ActionCreateRequest, Agent: id, Good: food,
		Quantity: need, Price: bid,
	}}
}

// Workers sell labor at the going wage and spend the earnings on food.
func workerPlan(v engine.AgentView) []engine.Action {
	id, food := v.Agent.ID, v.ReservedGood
	var plan []engine.Action

	if units := v.Agent.AvailableLabor(); units > 0 {
		if units > 3 {
			units = 3
		}
		plan = append(plan, engine.Action{
			Kind: engine.ActionOfferLabor, Agent: id,
			Quantity: units, Price: round2(priceOr(v, v.LaborGood)),
		})
	}
	if v.Agent.Quantity(food) < 2 {
		bid := round2(priceOr(v, food) * 1.05)
		if v.Agent.Currency >= bid {
			plan = append(plan, engine.Action{
				Kind: engine.ActionCreateRequest, Agent: id, Good: food,
				Quantity: 1, Price: bid,
			})
		}
	}
	return plan
}

// Traders buy visibly cheap offers outright, relist surplus above market,
// and keep one meal secured.
func traderPlan(v engine.AgentView) []engine.Action {
	id, food := v.Agent.ID, v.ReservedGood
	price := priceOr(v, food)
	var plan []engine.Action

	if o, ok := cheapestOffer(v, food); ok && o.Price <= price*0.8 {
		if v.Agent.Currency >= o.Price*float64(o.Quantity) {
			plan = append(plan, engine.Action{Kind: engine.ActionAcceptOffer, Agent: id, Target: o.ID})
		}
	}
	if hold := v.Agent.Quantity(food); hold > 2 {
		plan = append(plan, engine.Action{
			Kind: engine.ActionCreateOffer, Agent: id, Good: food,
			Quantity: hold - 2, Price: round2(price * 1.08),
		})
	}
	if v.Agent.Quantity(food) == 0 && v.Agent.Currency >= price {
		plan = append(plan, engine.Action{
			Kind: engine.ActionCreateRequest, Agent: id, Good: food,
			Quantity: 1, Price: round2(price),
		})
	}
	return plan
}

// priceOr quotes a good's price from the view, defaulting to unit price
// for goods the market has never seen.
func priceOr(v engine.AgentView, good string) float64 {
	if p, ok := v.Prices[good]; ok && p > 0 {
		return p
	}
	return 1.0
}

// cheapestOffer finds the lowest-priced live offer for a good from
// another agent. Ties keep book order.
func cheapestOffer(v engine.AgentView, good string) (economy.Offer, bool) {
	var best economy.Offer
	found := false
	for _, o := range v.Offers {
		if o.Good != good || o.SellerID == v.Agent.ID || o.Quantity <= 0 {
			continue
		}
		if !found || o.Price < best.Price {
			best, found = o, true
		}
	}
	return best, found
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
