// Package hub is the HTTP client for the event-hub backend: OTP login,
// catalog/session init, roster bootstrap, and the delta-sync feed.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"turnstile/internal/domain"
)

const rosterPageSize = 100

// Client is a minimal hub API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hub error: status=%d body=%s", e.StatusCode, e.Body)
}

// Credentials is the OTP verification result.
type Credentials struct {
	Token     string
	UserID    string
	FirstName string
	Expires   time.Time
}

// SyncRequest is one delta-sync round: locally redeemed entity ids plus the
// watermark of the last consumed redemption event.
type SyncRequest struct {
	ChangedEntityIDs []string
	ScanTerminal     string
	BadgeTypeIDs     []string
	Watermark        int64 // unix milliseconds
}

// SyncResponse carries redemption events from any terminal since the request
// watermark, and the new watermark to resume from.
type SyncResponse struct {
	Events    []domain.RosterRow
	Watermark int64
}

// SendCode asks the hub to text an OTP code to the given phone number.
func (c *Client) SendCode(ctx context.Context, countryCode, phone string) error {
	return c.workflow(ctx, "SendCode", params{
		"phoneCountryCode": countryCode,
		"phoneNumber":      phone,
	}, nil)
}

// VerifyCode exchanges an OTP code for a bearer token and expiry.
func (c *Client) VerifyCode(ctx context.Context, countryCode, phone, code string) (Credentials, error) {
	var resp verifyResponse
	err := c.workflow(ctx, "VerifyCode", params{
		"phoneCountryCode": countryCode,
		"phoneNumber":      phone,
		"code":             code,
	}, &resp)
	if err != nil {
		return Credentials{}, err
	}
	if resp.Token == "" {
		return Credentials{}, fmt.Errorf("verify: empty token in response")
	}
	return Credentials{
		Token:     resp.Token,
		UserID:    resp.UserID,
		FirstName: resp.UserFirstName,
		Expires:   time.Unix(resp.Expires, 0),
	}, nil
}

// EventInit resolves the selection catalog. With no arguments it returns the
// volunteer's orgs; with an org it returns events; with an event it returns
// badge types and the assigned scan terminal id.
func (c *Client) EventInit(ctx context.Context, orgID, eventID string) (domain.Catalog, error) {
	p := params{}
	if orgID != "" {
		p["orgId"] = orgID
	}
	if eventID != "" {
		p["eventId"] = eventID
	}
	var resp eventInitResponse
	if err := c.workflow(ctx, "EventInit", p, &resp); err != nil {
		return domain.Catalog{}, err
	}
	return resp.toDomain(), nil
}

// FetchRoster pulls the full badge-entity roster for the chosen badge types,
// paging through the feed in fixed-size batches.
func (c *Client) FetchRoster(ctx context.Context, badgeTypeIDs []string) ([]domain.RosterRow, error) {
	ids, err := json.Marshal(badgeTypeIDs)
	if err != nil {
		return nil, err
	}
	var rows []domain.RosterRow
	for cursor := 0; ; cursor += rosterPageSize {
		var resp rosterPageResponse
		err := c.workflow(ctx, "SelectedBadges", params{
			"badgeTypeIds": string(ids),
			"cursor":       strconv.Itoa(cursor),
		}, &resp)
		if err != nil {
			return nil, err
		}
		page, err := decodeRecords(resp.Participants)
		if err != nil {
			return nil, err
		}
		rows = append(rows, page...)
		if resp.Remaining <= 0 || len(resp.Participants) == 0 {
			return rows, nil
		}
	}
}

// ParticipantListUpdate pushes locally redeemed entity ids and pulls
// redemption events recorded since the watermark.
func (c *Client) ParticipantListUpdate(ctx context.Context, req SyncRequest) (SyncResponse, error) {
	changed, err := json.Marshal(req.ChangedEntityIDs)
	if err != nil {
		return SyncResponse{}, err
	}
	badgeTypes, err := json.Marshal(req.BadgeTypeIDs)
	if err != nil {
		return SyncResponse{}, err
	}
	var resp listUpdateResponse
	err = c.workflow(ctx, "ParticipantListUpdate", params{
		"changedBadgeEntities": string(changed),
		"scanTerminal":         req.ScanTerminal,
		"badgeTypes":           string(badgeTypes),
		"watermark":            strconv.FormatInt(req.Watermark, 10),
	}, &resp)
	if err != nil {
		return SyncResponse{}, err
	}
	events, err := decodeRecords(resp.ParticipantsUpdate)
	if err != nil {
		return SyncResponse{}, err
	}
	return SyncResponse{Events: events, Watermark: resp.Watermark}, nil
}

type params map[string]string

// workflow posts a multipart form to a hub workflow endpoint and unwraps the
// {status, response} envelope into out.
func (c *Client) workflow(ctx context.Context, name string, p params, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for key, value := range p {
		if err := mw.WriteField(key, value); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/api/1.1/wf/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s envelope: %w", name, err)
	}
	if env.Status != "" && env.Status != "success" {
		return fmt.Errorf("%s: hub status %q", name, env.Status)
	}
	if out != nil {
		if err := json.Unmarshal(env.Response, out); err != nil {
			return fmt.Errorf("decode %s response: %w", name, err)
		}
	}
	return nil
}
