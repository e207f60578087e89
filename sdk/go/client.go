// Package turnstilesdk is a minimal client for the local terminal API.
package turnstilesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one running terminal.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Badge is one badge entity held by a participant.
type Badge struct {
	EntityID    string `json:"entity_id"`
	BadgeTypeID string `json:"badge_type_id"`
	IsUsed      bool   `json:"is_used"`
}

// Participant is the list-view participant model.
type Participant struct {
	UserID    string  `json:"user_id"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     string  `json:"email,omitempty"`
	Badges    []Badge `json:"badges"`
}

// Outcome is the result of one scan.
type Outcome struct {
	Kind        string       `json:"kind"`
	Participant *Participant `json:"participant,omitempty"`
	EntityID    string       `json:"badge_entity_id,omitempty"`
	Candidates  []string     `json:"candidate_entity_ids,omitempty"`
}

// Stats are the session counters.
type Stats struct {
	TotalBadges    int `json:"total_badges"`
	RedeemedBadges int `json:"redeemed_badges"`
	PendingPush    int `json:"pending_push"`
}

// Status is the terminal status view.
type Status struct {
	Alive      bool     `json:"alive"`
	Stats      Stats    `json:"stats"`
	LastScan   *Outcome `json:"last_scan,omitempty"`
	LastSynced string   `json:"last_synced,omitempty"`
	Watermark  int64    `json:"watermark,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Scan resolves a scanned identifier.
func (c *Client) Scan(ctx context.Context, identifier string) (Outcome, error) {
	var resp Outcome
	err := c.do(ctx, http.MethodPost, "v0/scan", map[string]any{"identifier": identifier}, &resp)
	return resp, err
}

// ConfirmSelection redeems the chosen badges after a needs_selection scan.
func (c *Client) ConfirmSelection(ctx context.Context, userID string, entityIDs []string) ([]string, error) {
	var resp struct {
		Marked []string `json:"marked_entity_ids"`
	}
	err := c.do(ctx, http.MethodPost, "v0/selection", map[string]any{
		"user_id":    userID,
		"entity_ids": entityIDs,
	}, &resp)
	return resp.Marked, err
}

// Participants returns the filtered list view.
func (c *Client) Participants(ctx context.Context, query string) ([]Participant, error) {
	var resp struct {
		Items []Participant `json:"items"`
	}
	endpoint := "v0/participants"
	if query != "" {
		endpoint += "?q=" + url.QueryEscape(query)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Status returns counters and sync freshness.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "v0/status", nil, &resp)
	return resp, err
}

// ClearLastScan dismisses the last-scan indicator.
func (c *Client) ClearLastScan(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "v0/last-scan", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
