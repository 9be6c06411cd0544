package decision_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/econsim/internal/decision"
	"github.com/talgya/econsim/internal/engine"
)

type stubStrategist struct {
	plan []engine.Action
}

func (s stubStrategist) Plan(engine.AgentView) []engine.Action { return s.plan }

func TestNewOracleDisabledWithoutEndpoint(t *testing.T) {
	assert.Nil(t, decision.NewOracle("", "key"))

	var o *decision.Oracle
	assert.False(t, o.Enabled())
}

func TestOraclePlanRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer seekrit", r.Header.Get("Authorization"))

		var view engine.AgentView
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&view))
		assert.Equal(t, "producer-01", view.Agent.ID)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"actions":[
			{"kind":"produce","good_name":"food","quantity":2},
			{"kind":"teleport","quantity":9},
			{"kind":"accept_offer","target":"offer-4"}
		]}`))
	}))
	defer srv.Close()

	oracle := decision.NewOracle(srv.URL, "seekrit")
	require.True(t, oracle.Enabled())

	plan, err := oracle.Plan(viewFor("producer-01"))
	require.NoError(t, err)

	// The teleport line has no matching engine action and is dropped.
	require.Len(t, plan, 2)
	assert.Equal(t, engine.ActionProduce, plan[0].Kind)
	assert.Equal(t, "food", plan[0].Good)
	assert.Equal(t, 2, plan[0].Quantity)
	assert.Equal(t, engine.ActionAcceptOffer, plan[1].Kind)
	assert.Equal(t, "offer-4", plan[1].Target)

	// The service cannot plan on anyone else's behalf.
	for _, a := range plan {
		assert.Equal(t, "producer-01", a.Agent)
	}
}

func TestOraclePlanServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	oracle := decision.NewOracle(srv.URL, "")
	_, err := oracle.Plan(viewFor("consumer-01"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "plan error 500")
}

func TestOraclePlanRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"actions":[]}`))
	}))
	defer srv.Close()

	oracle := decision.NewOracle(srv.URL, "")
	view := viewFor("consumer-01")
	for i := 0; i < 60; i++ {
		_, err := oracle.Plan(view)
		require.NoError(t, err)
	}

	_, err := oracle.Plan(view)
	require.Error(t, err)
	assert.ErrorContains(t, err, "rate limit exceeded")
}

func TestPlannerPrefersOracle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"actions":[{"kind":"view_market"}]}`))
	}))
	defer srv.Close()

	p := decision.Planner{
		Oracle:   decision.NewOracle(srv.URL, ""),
		Fallback: stubStrategist{plan: []engine.Action{{Kind: engine.ActionProduce}}},
	}

	plan := p.Plan(viewFor("trader-01"))
	require.Len(t, plan, 1)
	assert.Equal(t, engine.ActionViewMarket, plan[0].Kind)
}

func TestPlannerFallsBackOnOracleError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	want := []engine.Action{{Kind: engine.ActionConsume, Agent: "trader-01", Good: "food", Quantity: 1}}
	p := decision.Planner{
		Oracle:   decision.NewOracle(srv.URL, ""),
		Fallback: stubStrategist{plan: want},
	}

	assert.Equal(t, want, p.Plan(viewFor("trader-01")))
}

func TestPlannerHeuristicWithoutOracle(t *testing.T) {
	var p decision.Planner

	plan := p.Plan(viewFor("market"))
	require.Len(t, plan, 1)
	assert.Equal(t, engine.ActionMatchMarket, plan[0].Kind)
}
