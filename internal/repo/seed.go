package repo

import (
	"context"
	"database/sql"

	"turnstile/internal/domain"
)

// Seed helpers for the development hub fixtures.

func (r Repo) InsertOrg(ctx context.Context, tx *sql.Tx, o domain.Org) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO orgs(id,name,logo) VALUES (?,?,?)`, o.ID, o.Name, o.Icon)
	return err
}

func (r Repo) InsertEvent(ctx context.Context, tx *sql.Tx, orgID string, e domain.Event) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO events(id,org_id,name,main_picture) VALUES (?,?,?,?)`,
		e.ID, orgID, e.Name, e.Icon)
	return err
}

func (r Repo) InsertBadgeType(ctx context.Context, tx *sql.Tx, eventID string, b domain.BadgeType) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO badge_types(id,event_id,name,icon,max_supply) VALUES (?,?,?,?,?)`,
		b.ID, eventID, b.Name, b.Icon, b.MaxSupply)
	return err
}

func (r Repo) InsertTerminal(ctx context.Context, tx *sql.Tx, id, eventID, name string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO terminals(id,event_id,name) VALUES (?,?,?)`, id, eventID, name)
	return err
}

func (r Repo) InsertVolunteer(ctx context.Context, tx *sql.Tx, v Volunteer, orgIDs []string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO volunteers(user_id,first_name,phone_country_code,phone_number) VALUES (?,?,?,?)`,
		v.UserID, v.FirstName, v.PhoneCountryCode, v.PhoneNumber)
	if err != nil {
		return err
	}
	for _, orgID := range orgIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO volunteer_orgs(org_id,user_id) VALUES (?,?)`, orgID, v.UserID); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) InsertParticipant(ctx context.Context, tx *sql.Tx, userID, firstName, lastName, email string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO participants(user_id,first_name,last_name,email) VALUES (?,?,?,?)`,
		userID, firstName, lastName, email)
	return err
}

func (r Repo) InsertBadgeEntity(ctx context.Context, tx *sql.Tx, entityID, badgeTypeID, userID string, used bool) error {
	u := 0
	if used {
		u = 1
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO badge_entities(id,badge_type_id,user_id,is_used) VALUES (?,?,?,?)`,
		entityID, badgeTypeID, userID, u)
	return err
}
