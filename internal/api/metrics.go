// Prometheus collectors for the simulation. Every closure reads through
// StatsSnapshot, so a scrape takes the simulation lock briefly per series.
package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/talgya/econsim/internal/engine"
)

// RegisterMetrics exposes simulation counters and gauges on the default
// Prometheus registry. Call once at startup; the /metrics route serves
// whatever is registered.
func RegisterMetrics(sim *engine.Simulation) {
	prometheus.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "econsim_cycles_completed_total",
			Help: "Simulation cycles completed.",
		}, func() float64 { return float64(sim.StatsSnapshot().CyclesCompleted) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "econsim_actions_applied_total",
			Help: "Agent actions accepted by the ledger.",
		}, func() float64 { return float64(sim.StatsSnapshot().ActionsApplied) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "econsim_actions_refused_total",
			Help: "Agent actions refused with an error.",
		}, func() float64 { return float64(sim.StatsSnapshot().ActionsRefused) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "econsim_trades_total",
			Help: "Trades executed, matched and direct.",
		}, func() float64 { return float64(sim.StatsSnapshot().TradesExecuted) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "econsim_fees_collected_total",
			Help: "Matching fees paid to the market operator.",
		}, func() float64 { return sim.StatsSnapshot().FeesCollected }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "econsim_agents",
			Help: "Agents on the ledger, market operator included.",
		}, func() float64 { return float64(sim.StatsSnapshot().Agents) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "econsim_avg_health",
			Help: "Mean health across trading agents.",
		}, func() float64 { return sim.StatsSnapshot().AvgHealth }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "econsim_total_currency",
			Help: "Currency held by agents plus open reservations.",
		}, func() float64 { return sim.StatsSnapshot().TotalCurrency }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "econsim_reserved_currency",
			Help: "Currency locked in open purchase requests.",
		}, func() float64 { return sim.StatsSnapshot().ReservedCurrency }),
	)
}
