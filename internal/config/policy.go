package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/talgya/econsim/internal/economy"
)

// Policy is the tunable constant table for one economy. Every rate and
// threshold the engine applies comes from here, so sweeps only need a
// different file, not a rebuild.
type Policy struct {
	ReservedGood string                       `yaml:"reserved_good"`
	Agent        economy.AgentDefaults        `yaml:"agent"`
	Market       MarketPolicy                 `yaml:"market"`
	Health       HealthPolicy                 `yaml:"health"`
	Labor        LaborPolicy                  `yaml:"labor"`
	Welfare      WelfarePolicy                `yaml:"welfare"`
	Goods        map[string]economy.PriceBand `yaml:"goods"`
}

// MarketPolicy tunes the batch matcher and price movement.
type MarketPolicy struct {
	Operator    string  `yaml:"operator"`
	FeeRate     float64 `yaml:"fee_rate"`
	MoveCap     float64 `yaml:"move_cap"`
	DemandNudge float64 `yaml:"demand_nudge"`
	SupplyNudge float64 `yaml:"supply_nudge"`
}

// HealthPolicy tunes health deltas. Penalties are magnitudes; the engine
// subtracts them.
type HealthPolicy struct {
	ConsumeBonus           int `yaml:"consume_bonus"`
	MissingGoodsPenalty    int `yaml:"missing_goods_penalty"`
	MissingCurrencyPenalty int `yaml:"missing_currency_penalty"`
	StarvationPenalty      int `yaml:"starvation_penalty"`
	Regen                  int `yaml:"regen"`
}

// LaborPolicy tunes the labor subsystem.
type LaborPolicy struct {
	Good      string  `yaml:"good"`
	Capacity  int     `yaml:"capacity"`
	BoostRate float64 `yaml:"boost_rate"`
}

// WelfarePolicy tunes cycle-end redistribution and the emergency subsidy.
type WelfarePolicy struct {
	TaxRate            float64 `yaml:"tax_rate"`
	HealthBelow        int     `yaml:"health_below"`
	CurrencyBelow      float64 `yaml:"currency_below"`
	SubsidyHealthBelow int     `yaml:"subsidy_health_below"`
	SubsidyUnits       int     `yaml:"subsidy_units"`
}

// DefaultPolicy returns the canonical micro-economy policy.
func DefaultPolicy() Policy {
	return Policy{
		ReservedGood: "food",
		Agent:        economy.StandardDefaults(),
		Market: MarketPolicy{
			Operator:    "market",
			FeeRate:     0.05,
			MoveCap:     0.20,
			DemandNudge: 1.05,
			SupplyNudge: 0.95,
		},
		Health: HealthPolicy{
			ConsumeBonus:           5,
			MissingGoodsPenalty:    10,
			MissingCurrencyPenalty: 15,
			StarvationPenalty:      15,
			Regen:                  2,
		},
		Labor: LaborPolicy{
			Good:      "labor",
			Capacity:  5,
			BoostRate: 0.5,
		},
		Welfare: WelfarePolicy{
			TaxRate:            0.05,
			HealthBelow:        50,
			CurrencyBelow:      5.0,
			SubsidyHealthBelow: 20,
			SubsidyUnits:       1,
		},
		Goods: map[string]economy.PriceBand{
			"food":  {Base: 1.5, Min: 0.5, Max: 3.0},
			"labor": {Base: 0.8, Min: 0.6, Max: 1.2},
		},
	}
}

// LoadPolicy reads a YAML policy file layered over the defaults, so a file
// only needs the fields it changes.
func LoadPolicy(path string) (Policy, error) {
	pol := DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return pol, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return pol, fmt.Errorf("parse policy: %w", err)
	}
	if err := pol.Validate(); err != nil {
		return pol, fmt.Errorf("policy %s: %w", path, err)
	}
	return pol, nil
}

// Write renders the policy as YAML at path.
func (p Policy) Write(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	return nil
}

// Validate rejects policies the engine cannot run safely.
func (p Policy) Validate() error {
	if p.ReservedGood == "" {
		return fmt.Errorf("reserved_good must be set")
	}
	if p.Market.Operator == "" {
		return fmt.Errorf("market.operator must be set")
	}
	if p.Market.FeeRate < 0 || p.Market.FeeRate >= 1 {
		return fmt.Errorf("market.fee_rate %.2f outside [0, 1)", p.Market.FeeRate)
	}
	if p.Market.MoveCap <= 0 || p.Market.MoveCap > 1 {
		return fmt.Errorf("market.move_cap %.2f outside (0, 1]", p.Market.MoveCap)
	}
	if p.Market.DemandNudge < 1 {
		return fmt.Errorf("market.demand_nudge %.2f must be >= 1", p.Market.DemandNudge)
	}
	if p.Market.SupplyNudge <= 0 || p.Market.SupplyNudge > 1 {
		return fmt.Errorf("market.supply_nudge %.2f outside (0, 1]", p.Market.SupplyNudge)
	}
	if p.Health.StarvationPenalty < 8 || p.Health.StarvationPenalty > 15 {
		return fmt.Errorf("health.starvation_penalty %d outside [8, 15]", p.Health.StarvationPenalty)
	}
	if p.Labor.Capacity <= 0 {
		return fmt.Errorf("labor.capacity %d must be positive", p.Labor.Capacity)
	}
	if p.Labor.BoostRate < 0 {
		return fmt.Errorf("labor.boost_rate %.2f must not be negative", p.Labor.BoostRate)
	}
	if p.Welfare.TaxRate < 0 || p.Welfare.TaxRate >= 1 {
		return fmt.Errorf("welfare.tax_rate %.2f outside [0, 1)", p.Welfare.TaxRate)
	}
	for good, band := range p.Goods {
		if band.Min > band.Base || band.Base > band.Max {
			return fmt.Errorf("goods.%s band [%.2f, %.2f] does not contain base %.2f", good, band.Min, band.Max, band.Base)
		}
	}
	if _, ok := p.Goods[p.ReservedGood]; !ok {
		return fmt.Errorf("goods must include reserved good %q", p.ReservedGood)
	}
	return nil
}
