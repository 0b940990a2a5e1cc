// Package planera wraps the Planera ticket API, which backs the shopping
// list.
package planera

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

type Ticket struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// FilterOpen selects only tickets that haven't been closed.
const FilterOpen = "Open"

type Client struct {
	http     *http.Client
	baseURL  string
	username string
	token    string
}

func NewClient(baseURL, username, token string) *Client {
	return &Client{
		http:     &http.Client{Timeout: 15 * time.Second},
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		token:    token,
	}
}

// Tickets lists the tickets in a project, optionally filtered.
func (c *Client) Tickets(ctx context.Context, projectSlug, filter string) ([]Ticket, error) {
	u := fmt.Sprintf("%s/api/tickets/%s/%s", c.baseURL, c.username, projectSlug)
	if filter != "" {
		u += "?filter=" + filter
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating tickets request: %w", err)
	}
	req.Header.Set("Authorization", "Pat "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tickets request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tickets response: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("planera api: %s %s", resp.Status, string(body))
	}

	var parsed struct {
		Tickets []Ticket `json:"tickets"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing tickets response: %w", err)
	}
	return parsed.Tickets, nil
}

// CreateTicket adds a ticket to a project and returns its ID.
func (c *Client) CreateTicket(ctx context.Context, projectSlug, title, description string) (int, error) {
	payload, _ := json.Marshal(map[string]any{
		"title":       title,
		"description": description,
	})
	u := fmt.Sprintf("%s/api/tickets/%s", c.baseURL, projectSlug)
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("creating ticket request: %w", err)
	}
	req.Header.Set("Authorization", "Pat "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ticket request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("reading ticket response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("planera api: %s %s", resp.Status, string(body))
	}

	var ticket Ticket
	if err := json.Unmarshal(body, &ticket); err != nil {
		return 0, fmt.Errorf("parsing ticket response: %w", err)
	}
	return ticket.ID, nil
}
