package mockhub

import (
	"encoding/json"

	"turnstile/internal/domain"
)

// The legacy format ships participant records as stringified JSON with
// booleans spelled as "yes"/"no".

type record struct {
	UserID      string `json:"userId"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email,omitempty"`
	EntityID    string `json:"badgeEntityId"`
	BadgeTypeID string `json:"badgeId"`
	IsUsed      string `json:"isUsed"`
}

func encodeRecords(rows []domain.RosterRow) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		used := "no"
		if row.IsUsed {
			used = "yes"
		}
		b, _ := json.Marshal(record{
			UserID:      row.UserID,
			FirstName:   row.FirstName,
			LastName:    row.LastName,
			Email:       row.Email,
			EntityID:    row.EntityID,
			BadgeTypeID: row.BadgeTypeID,
			IsUsed:      used,
		})
		out = append(out, string(b))
	}
	return out
}
