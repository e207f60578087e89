package domain

// BadgeType is a category of badge (ticket tier, staff pass). Immutable for
// the duration of a scanning session.
type BadgeType struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	MaxSupply int    `json:"max_supply,omitempty"`
}

// BadgeEntity is one issued instance of a BadgeType held by one participant.
// IsUsed is the only mutable field and transitions false->true exactly once
// per session.
type BadgeEntity struct {
	EntityID    string `json:"badge_entity_id"`
	BadgeTypeID string `json:"badge_type_id"`
	IsUsed      bool   `json:"is_used"`
}

// Participant holds the badges assigned to one attendee. UserID doubles as
// the QR-code payload.
type Participant struct {
	UserID    string        `json:"user_id"`
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name"`
	Email     string        `json:"email,omitempty"`
	Badges    []BadgeEntity `json:"badges"`
}

// UnusedEntityIDs returns the entity ids of badges not yet redeemed, in badge order.
func (p Participant) UnusedEntityIDs() []string {
	var ids []string
	for _, b := range p.Badges {
		if !b.IsUsed {
			ids = append(ids, b.EntityID)
		}
	}
	return ids
}

// RosterRow is the flat wire shape the hub returns: one row per badge entity.
// The same shape carries delta-sync redemption events.
type RosterRow struct {
	UserID      string `json:"user_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email,omitempty"`
	EntityID    string `json:"badge_entity_id"`
	BadgeTypeID string `json:"badge_type_id"`
	IsUsed      bool   `json:"is_used"`
}

type Org struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

type Event struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// Catalog is the session-init response: the orgs/events/badge types the
// logged-in volunteer may scan for, plus the terminal id the hub assigned.
type Catalog struct {
	Orgs         []Org       `json:"orgs,omitempty"`
	Events       []Event     `json:"events,omitempty"`
	BadgeTypes   []BadgeType `json:"badge_types,omitempty"`
	ScanTerminal string      `json:"scan_terminal,omitempty"`
}
