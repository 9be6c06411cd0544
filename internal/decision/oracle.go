package decision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/talgya/econsim/internal/engine"
)

// Oracle consults an external planning service: it posts the agent view
// and converts the returned action list into engine actions. The engine
// lock is never held across a call; callers plan on view copies and apply
// afterwards.
type Oracle struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client

	// Rate limiting: max calls per minute.
	mu        sync.Mutex
	callCount int
	resetAt   time.Time
	maxPerMin int
}

// NewOracle creates a client for the planning endpoint.
// Returns nil if endpoint is empty (oracle disabled).
func NewOracle(endpoint, apiKey string) *Oracle {
	if endpoint == "" {
		return nil
	}
	return &Oracle{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxPerMin: 60,
	}
}

// Enabled returns true if the oracle is configured.
func (o *Oracle) Enabled() bool {
	return o != nil && o.endpoint != ""
}

// plannedAction is one action line in the service's reply.
type plannedAction struct {
	Kind     string  `json:"kind"`
	Good     string  `json:"good_name,omitempty"`
	Quantity int     `json:"quantity,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Target   string  `json:"target,omitempty"`
}

// planResponse is the service's reply body.
type planResponse struct {
	Actions []plannedAction `json:"actions"`
}

// Plan posts the agent view and returns the service's plan. Unknown action
// kinds in the reply are dropped rather than failing the whole plan, and
// every returned action is forced onto the viewed agent.
func (o *Oracle) Plan(view engine.AgentView) ([]engine.Action, error) {
	if !o.Enabled() {
		return nil, fmt.Errorf("oracle not configured")
	}

	// Rate limiting.
	o.mu.Lock()
	now := time.Now()
	if now.After(o.resetAt) {
		o.callCount = 0
		o.resetAt = now.Add(time.Minute)
	}
	if o.callCount >= o.maxPerMin {
		o.mu.Unlock()
		return nil, fmt.Errorf("rate limit exceeded (%d calls/min)", o.maxPerMin)
	}
	o.callCount++
	o.mu.Unlock()

	body, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("marshal view: %w", err)
	}

	httpReq, err := http.NewRequest("POST", o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("plan call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plan error %d: %s", resp.StatusCode, string(respBody))
	}

	var reply planResponse
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	actions := make([]engine.Action, 0, len(reply.Actions))
	for _, pa := range reply.Actions {
		kind, ok := engine.ParseActionKind(pa.Kind)
		if !ok {
			slog.Debug("oracle returned unknown action", "agent", view.Agent.ID, "kind", pa.Kind)
			continue
		}
		actions = append(actions, engine.Action{
			Kind:     kind,
			Agent:    view.Agent.ID,
			Good:     pa.Good,
			Quantity: pa.Quantity,
			Price:    pa.Price,
			Target:   pa.Target,
		})
	}
	return actions, nil
}
