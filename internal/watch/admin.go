package watch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Admin drives the control-plane endpoints with bearer auth.
type Admin struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewAdmin creates an Admin targeting the given API base URL.
func NewAdmin(baseURL, adminKey string) *Admin {
	return &Admin{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Pause suspends the runner.
func (a *Admin) Pause() (map[string]any, error) {
	return a.post("/api/v1/pause", nil)
}

// Resume continues a paused runner.
func (a *Admin) Resume() (map[string]any, error) {
	return a.post("/api/v1/resume", nil)
}

// Step dispatches exactly one cycle.
func (a *Admin) Step() (map[string]any, error) {
	return a.post("/api/v1/step", nil)
}

// Snapshot forces a ledger save.
func (a *Admin) Snapshot() (map[string]any, error) {
	return a.post("/api/v1/snapshot", nil)
}

// SetSpeed changes the runner speed multiplier.
func (a *Admin) SetSpeed(speed float64) (map[string]any, error) {
	return a.post("/api/v1/speed", map[string]float64{"speed": speed})
}

// post sends an authenticated POST and decodes the JSON reply.
func (a *Admin) post(path string, payload any) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest("POST", a.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("POST %s failed (%d): %s", path, resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}
