// Package watch reads the simulation API and renders operator reports.
// Observation goes through the public GET endpoints; control goes through
// the bearer-authenticated Admin client.
package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EconomySnapshot holds all data collected during one observation pass.
type EconomySnapshot struct {
	Status       StatusInfo        `json:"status"`
	Agents       []AgentInfo       `json:"agents"`
	Market       MarketInfo        `json:"market"`
	Transactions []TransactionInfo `json:"transactions"`
	Events       []EventInfo       `json:"events"`
}

// StatusInfo mirrors GET /api/v1/status.
type StatusInfo struct {
	Cycle        uint64             `json:"cycle"`
	Phase        string             `json:"phase"`
	Agents       int                `json:"agents"`
	OpenOffers   int                `json:"open_offers"`
	OpenRequests int                `json:"open_requests"`
	Transactions int                `json:"transactions"`
	Prices       map[string]float64 `json:"market_prices"`
	Stats        StatsInfo          `json:"stats"`
}

// StatsInfo mirrors the stats block inside the status payload.
type StatsInfo struct {
	CyclesCompleted  uint64  `json:"cycles_completed"`
	ActionsApplied   uint64  `json:"actions_applied"`
	ActionsRefused   uint64  `json:"actions_refused"`
	TradesExecuted   uint64  `json:"trades_executed"`
	FeesCollected    float64 `json:"fees_collected"`
	Agents           int     `json:"agents"`
	AvgHealth        float64 `json:"avg_health"`
	TotalCurrency    float64 `json:"total_currency"`
	ReservedCurrency float64 `json:"reserved_currency"`
}

// AgentInfo mirrors items from GET /api/v1/agents.
type AgentInfo struct {
	ID               string         `json:"agent_id"`
	Inventory        map[string]int `json:"inventory"`
	Currency         float64        `json:"currency"`
	Health           int            `json:"health"`
	LaborCapacity    int            `json:"labor_capacity"`
	LaborUsed        int            `json:"labor_used"`
	FailedFoodCycles int            `json:"failed_food_cycles"`
}

// MarketInfo mirrors GET /api/v1/market.
type MarketInfo struct {
	Offers   []OfferInfo        `json:"offers"`
	Requests []RequestInfo      `json:"requests"`
	Prices   map[string]float64 `json:"market_prices"`
}

// OfferInfo is one open sell order.
type OfferInfo struct {
	ID       string  `json:"offer_id"`
	SellerID string  `json:"seller_id"`
	Good     string  `json:"good_name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// RequestInfo is one open buy order.
type RequestInfo struct {
	ID       string  `json:"request_id"`
	BuyerID  string  `json:"buyer_id"`
	Good     string  `json:"good_name"`
	Quantity int     `json:"quantity"`
	MaxPrice float64 `json:"max_price"`
}

// TransactionInfo mirrors items from GET /api/v1/transactions.
type TransactionInfo struct {
	ID        string  `json:"transaction_id"`
	SellerID  string  `json:"seller_id"`
	BuyerID   string  `json:"buyer_id"`
	Good      string  `json:"good_name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	ViaMarket bool    `json:"facilitated_by_market"`
}

// EventInfo mirrors items from GET /api/v1/events.
type EventInfo struct {
	Cycle       uint64 `json:"cycle"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Observer fetches economy state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches the public endpoints and returns an EconomySnapshot.
func (o *Observer) Observe() (*EconomySnapshot, error) {
	snap := &EconomySnapshot{}

	if err := o.fetchJSON("/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if err := o.fetchJSON("/api/v1/agents", &snap.Agents); err != nil {
		return nil, fmt.Errorf("fetch agents: %w", err)
	}
	if err := o.fetchJSON("/api/v1/market", &snap.Market); err != nil {
		return nil, fmt.Errorf("fetch market: %w", err)
	}
	if err := o.fetchJSON("/api/v1/transactions", &snap.Transactions); err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	if err := o.fetchJSON("/api/v1/events?limit=20", &snap.Events); err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	return snap, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(path string, target any) error {
	resp, err := o.HTTPClient.Get(o.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
