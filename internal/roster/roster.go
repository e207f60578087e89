package roster

import (
	"fmt"

	"turnstile/internal/domain"
)

// MalformedRowError rejects a bootstrap batch that is missing required keys.
// The whole batch is refused; a partially loaded roster would present
// inconsistent counts to the scanning UI.
type MalformedRowError struct {
	Index int
	Field string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("roster row %d: missing %s", e.Index, e.Field)
}

// Roster is the in-memory session state: participants keyed by user id with
// running badge counters. It is not safe for concurrent use; the session
// serializes all access.
type Roster struct {
	participants map[string]*domain.Participant
	order        []string
	owner        map[string]string // entity id -> user id

	totalBadges    int
	redeemedBadges int
}

// Load groups the flat one-row-per-badge-entity feed into participants in
// first-seen order. Repeated user ids append to the existing participant's
// badge list rather than creating a duplicate.
func Load(rows []domain.RosterRow) (*Roster, error) {
	r := &Roster{
		participants: make(map[string]*domain.Participant),
		owner:        make(map[string]string),
	}
	for i, row := range rows {
		switch {
		case row.UserID == "":
			return nil, &MalformedRowError{Index: i, Field: "user_id"}
		case row.EntityID == "":
			return nil, &MalformedRowError{Index: i, Field: "badge_entity_id"}
		case row.BadgeTypeID == "":
			return nil, &MalformedRowError{Index: i, Field: "badge_type_id"}
		}
		p, ok := r.participants[row.UserID]
		if !ok {
			p = &domain.Participant{
				UserID:    row.UserID,
				FirstName: row.FirstName,
				LastName:  row.LastName,
				Email:     row.Email,
			}
			r.participants[row.UserID] = p
			r.order = append(r.order, row.UserID)
		}
		p.Badges = append(p.Badges, domain.BadgeEntity{
			EntityID:    row.EntityID,
			BadgeTypeID: row.BadgeTypeID,
			IsUsed:      row.IsUsed,
		})
		r.owner[row.EntityID] = row.UserID
		r.totalBadges++
		if row.IsUsed {
			r.redeemedBadges++
		}
	}
	return r, nil
}

// MarkRedeemed flips a badge entity to used. It reports whether the call
// changed anything: already-used entities and entity ids outside the loaded
// roster (other terminals may scan disjoint badge-type subsets) are no-ops.
func (r *Roster) MarkRedeemed(entityID string) bool {
	userID, ok := r.owner[entityID]
	if !ok {
		return false
	}
	p := r.participants[userID]
	for i := range p.Badges {
		if p.Badges[i].EntityID != entityID {
			continue
		}
		if p.Badges[i].IsUsed {
			return false
		}
		p.Badges[i].IsUsed = true
		r.redeemedBadges++
		return true
	}
	return false
}

// Participant returns a copy of the participant with the given user id.
func (r *Roster) Participant(userID string) (domain.Participant, bool) {
	p, ok := r.participants[userID]
	if !ok {
		return domain.Participant{}, false
	}
	return copyParticipant(p), true
}

// Participants returns all participants in load order.
func (r *Roster) Participants() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, copyParticipant(r.participants[id]))
	}
	return out
}

// TotalBadges is the number of badge entities loaded for the session.
func (r *Roster) TotalBadges() int { return r.totalBadges }

// RedeemedBadges is the number of badge entities marked used, locally or via
// sync. Incremented only by MarkRedeemed so it always matches a recount.
func (r *Roster) RedeemedBadges() int { return r.redeemedBadges }

func copyParticipant(p *domain.Participant) domain.Participant {
	cp := *p
	cp.Badges = make([]domain.BadgeEntity, len(p.Badges))
	copy(cp.Badges, p.Badges)
	return cp
}
