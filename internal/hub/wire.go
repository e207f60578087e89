package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"turnstile/internal/domain"
)

// The hub speaks the legacy workflow wire format: every response is wrapped
// in a {status, response} envelope, participant records travel as
// stringified JSON, and booleans arrive as truthy string tokens. All of that
// is normalized here so nothing above this package sees it.

type envelope struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// truthy accepts native booleans as well as the hub's string tokens.
type truthy bool

func (t *truthy) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty boolean")
	}
	if data[0] != '"' {
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*t = truthy(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "1":
		*t = true
	default:
		*t = false
	}
	return nil
}

type wireOrg struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Icon string `json:"logo,omitempty"`
}

type wireEvent struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Icon string `json:"main_picture,omitempty"`
}

type wireBadgeType struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	MaxSupply int    `json:"max_supply,omitempty"`
}

type eventInitResponse struct {
	Orgs         []wireOrg       `json:"orgs,omitempty"`
	Events       []wireEvent     `json:"events,omitempty"`
	BadgeTypes   []wireBadgeType `json:"badges,omitempty"`
	ScanTerminal string          `json:"scanTerminal,omitempty"`
}

type rosterPageResponse struct {
	Participants []string `json:"participants"`
	Remaining    int      `json:"remaining"`
}

type listUpdateResponse struct {
	ParticipantsUpdate []string `json:"participantsUpdate"`
	Watermark          int64    `json:"LastQueryUnixTimeStamp"`
}

type verifyResponse struct {
	UserFirstName string `json:"userFirstName"`
	Token         string `json:"token"`
	UserID        string `json:"user_id"`
	Expires       int64  `json:"expires"`
}

// wireRecord is one badge-entity row, used both for the roster bootstrap and
// for delta-sync redemption events.
type wireRecord struct {
	UserID      string `json:"userId"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email,omitempty"`
	EntityID    string `json:"badgeEntityId"`
	BadgeTypeID string `json:"badgeId"`
	IsUsed      truthy `json:"isUsed"`
}

func (w wireRecord) toDomain() domain.RosterRow {
	return domain.RosterRow{
		UserID:      w.UserID,
		FirstName:   w.FirstName,
		LastName:    w.LastName,
		Email:       w.Email,
		EntityID:    w.EntityID,
		BadgeTypeID: w.BadgeTypeID,
		IsUsed:      bool(w.IsUsed),
	}
}

func decodeRecords(raw []string) ([]domain.RosterRow, error) {
	rows := make([]domain.RosterRow, 0, len(raw))
	for i, s := range raw {
		var rec wireRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decode participant record %d: %w", i, err)
		}
		rows = append(rows, rec.toDomain())
	}
	return rows, nil
}

func (c wireBadgeType) toDomain() domain.BadgeType {
	return domain.BadgeType{ID: c.ID, Name: c.Name, Icon: c.Icon, MaxSupply: c.MaxSupply}
}

func (r eventInitResponse) toDomain() domain.Catalog {
	cat := domain.Catalog{ScanTerminal: r.ScanTerminal}
	for _, o := range r.Orgs {
		cat.Orgs = append(cat.Orgs, domain.Org{ID: o.ID, Name: o.Name, Icon: o.Icon})
	}
	for _, e := range r.Events {
		cat.Events = append(cat.Events, domain.Event{ID: e.ID, Name: e.Name, Icon: e.Icon})
	}
	for _, b := range r.BadgeTypes {
		cat.BadgeTypes = append(cat.BadgeTypes, b.toDomain())
	}
	return cat
}
