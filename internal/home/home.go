// Package home wraps the Home Assistant REST API for smart-light control.
package home

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type State struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// Lights returns the states of all light entities.
func (c *Client) Lights(ctx context.Context) ([]State, error) {
	body, err := c.get(ctx, "/api/states")
	if err != nil {
		return nil, err
	}
	var states []State
	if err := json.Unmarshal(body, &states); err != nil {
		return nil, fmt.Errorf("parsing states response: %w", err)
	}
	var lights []State
	for _, s := range states {
		if strings.HasPrefix(s.EntityID, "light.") {
			lights = append(lights, s)
		}
	}
	return lights, nil
}

// ControlLight turns a light (or light group) on or off, optionally nudging
// brightness and color temperature by percentage points.
func (c *Client) ControlLight(ctx context.Context, entityID string, on bool, brightnessStep, coldnessStep *int) error {
	service := "turn_off"
	payload := map[string]any{"entity_id": entityID}
	if on {
		service = "turn_on"
		if brightnessStep != nil {
			payload["brightness_step_pct"] = *brightnessStep
		}
		if coldnessStep != nil {
			payload["color_temp"] = *coldnessStep
		}
	}
	return c.callService(ctx, "light/"+service, payload)
}

// ResetLight returns a light to its stored default scene.
func (c *Client) ResetLight(ctx context.Context, entityID string) error {
	return c.callService(ctx, "light/turn_on", map[string]any{
		"entity_id": entityID,
		"profile":   "default",
	})
}

func (c *Client) callService(ctx context.Context, service string, payload map[string]any) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/services/"+service, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating service request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("service request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("home assistant: %s %s", resp.Status, string(b))
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("home assistant request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("home assistant: %s %s", resp.Status, string(body))
	}
	return body, nil
}
