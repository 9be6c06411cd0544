// Package decision hosts the strategists that plan each agent's cycle.
// The engine applies whatever a strategist returns; how the plan was made
// never matters to it.
package decision

import (
	"log/slog"

	"github.com/talgya/econsim/internal/engine"
)

// Strategist plans one agent's actions for the coming cycle from a
// read-only view.
type Strategist interface {
	Plan(view engine.AgentView) []engine.Action
}

// Planner consults the oracle when one is configured and falls back to the
// scripted heuristic when it is absent or failing.
type Planner struct {
	Oracle   *Oracle
	Fallback Strategist
}

func (p Planner) Plan(view engine.AgentView) []engine.Action {
	if p.Oracle.Enabled() {
		actions, err := p.Oracle.Plan(view)
		if err == nil {
			return actions
		}
		slog.Warn("oracle plan failed, using heuristic", "agent", view.Agent.ID, "error", err)
	}
	if p.Fallback != nil {
		return p.Fallback.Plan(view)
	}
	return Heuristic{}.Plan(view)
}
