// Package repo holds the SQL queries behind the development hub.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"turnstile/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Repo struct {
	DB *sql.DB
}

func New(db *sql.DB) Repo {
	return Repo{DB: db}
}

// Volunteer is a hub account allowed to run scan terminals.
type Volunteer struct {
	UserID           string
	FirstName        string
	PhoneCountryCode string
	PhoneNumber      string
}

func phoneKey(countryCode, number string) string {
	return countryCode + number
}

// UpsertOTP stores the one-time code for a phone, replacing any prior code.
func (r Repo) UpsertOTP(ctx context.Context, countryCode, number, code string, expiresMs int64) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO otp_codes(phone, code, expires_ms) VALUES (?,?,?)
		 ON CONFLICT(phone) DO UPDATE SET code=excluded.code, expires_ms=excluded.expires_ms`,
		phoneKey(countryCode, number), code, expiresMs)
	return err
}

// ConsumeOTP verifies and deletes the code, returning the matching volunteer.
func (r Repo) ConsumeOTP(ctx context.Context, countryCode, number, code string, nowMs int64) (Volunteer, error) {
	var stored string
	var expires int64
	err := r.DB.QueryRowContext(ctx,
		`SELECT code, expires_ms FROM otp_codes WHERE phone=?`,
		phoneKey(countryCode, number)).Scan(&stored, &expires)
	if err == sql.ErrNoRows {
		return Volunteer{}, ErrNotFound
	}
	if err != nil {
		return Volunteer{}, err
	}
	if stored != code || nowMs > expires {
		return Volunteer{}, fmt.Errorf("invalid or expired code")
	}
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM otp_codes WHERE phone=?`, phoneKey(countryCode, number)); err != nil {
		return Volunteer{}, err
	}
	return r.VolunteerByPhone(ctx, countryCode, number)
}

// VolunteerByPhone looks up the account registered for a phone number.
func (r Repo) VolunteerByPhone(ctx context.Context, countryCode, number string) (Volunteer, error) {
	var v Volunteer
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id, first_name, phone_country_code, phone_number
		 FROM volunteers WHERE phone_country_code=? AND phone_number=?`,
		countryCode, number).Scan(&v.UserID, &v.FirstName, &v.PhoneCountryCode, &v.PhoneNumber)
	if err == sql.ErrNoRows {
		return Volunteer{}, ErrNotFound
	}
	return v, err
}

// OrgsForVolunteer lists the orgs the volunteer belongs to.
func (r Repo) OrgsForVolunteer(ctx context.Context, userID string) ([]domain.Org, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT o.id, o.name, o.logo FROM orgs o
		 JOIN volunteer_orgs vo ON vo.org_id = o.id
		 WHERE vo.user_id = ? ORDER BY o.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orgs []domain.Org
	for rows.Next() {
		var o domain.Org
		if err := rows.Scan(&o.ID, &o.Name, &o.Icon); err != nil {
			return nil, err
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// EventsForOrg lists the org's events.
func (r Repo) EventsForOrg(ctx context.Context, orgID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, name, main_picture FROM events WHERE org_id=? ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.Name, &e.Icon); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// BadgeTypesForEvent lists the badge types scannable at an event.
func (r Repo) BadgeTypesForEvent(ctx context.Context, eventID string) ([]domain.BadgeType, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, name, icon, max_supply FROM badge_types WHERE event_id=? ORDER BY name`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var types []domain.BadgeType
	for rows.Next() {
		var b domain.BadgeType
		if err := rows.Scan(&b.ID, &b.Name, &b.Icon, &b.MaxSupply); err != nil {
			return nil, err
		}
		types = append(types, b)
	}
	return types, rows.Err()
}

// TerminalForEvent returns the terminal id assigned to the event.
func (r Repo) TerminalForEvent(ctx context.Context, eventID string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx,
		`SELECT id FROM terminals WHERE event_id=? ORDER BY id LIMIT 1`, eventID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

const rosterSelect = `SELECT p.user_id, p.first_name, p.last_name, p.email,
       be.id, be.badge_type_id, be.is_used
  FROM badge_entities be
  JOIN participants p ON p.user_id = be.user_id`

func scanRosterRows(rows *sql.Rows) ([]domain.RosterRow, error) {
	defer rows.Close()
	var out []domain.RosterRow
	for rows.Next() {
		var row domain.RosterRow
		var used int
		if err := rows.Scan(&row.UserID, &row.FirstName, &row.LastName, &row.Email,
			&row.EntityID, &row.BadgeTypeID, &used); err != nil {
			return nil, err
		}
		row.IsUsed = used != 0
		out = append(out, row)
	}
	return out, rows.Err()
}

func inClause(n int) string {
	return strings.TrimRight(strings.Repeat("?,", n), ",")
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// RosterPage returns one page of badge-entity rows for the given badge types
// plus the count of rows remaining after the page.
func (r Repo) RosterPage(ctx context.Context, badgeTypeIDs []string, offset, limit int) ([]domain.RosterRow, int, error) {
	if len(badgeTypeIDs) == 0 {
		return nil, 0, nil
	}
	in := inClause(len(badgeTypeIDs))
	query := rosterSelect + ` WHERE be.badge_type_id IN (` + in + `)
	 ORDER BY be.id LIMIT ? OFFSET ?`
	args := append(idArgs(badgeTypeIDs), limit, offset)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	page, err := scanRosterRows(rows)
	if err != nil {
		return nil, 0, err
	}
	var total int
	err = r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM badge_entities WHERE badge_type_id IN (`+in+`)`,
		idArgs(badgeTypeIDs)...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	remaining := total - offset - len(page)
	if remaining < 0 {
		remaining = 0
	}
	return page, remaining, nil
}

// MarkScanned flips a badge entity to used. Returns false without error when
// the entity was already used, so duplicate pushes from retrying terminals
// stay silent.
func (r Repo) MarkScanned(ctx context.Context, tx *sql.Tx, entityID, terminal string, tsMs int64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE badge_entities SET is_used=1, used_at_ms=?, used_by=? WHERE id=? AND is_used=0`,
		tsMs, terminal, entityID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// EntityExists reports whether a badge entity id is known.
func (r Repo) EntityExists(ctx context.Context, entityID string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM badge_entities WHERE id=?`, entityID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// EventsSince returns the roster rows touched by scan events at or after
// sinceMs, restricted to the given badge types, plus the timestamp of the
// newest event returned. The feed is append-only, so the same range can be
// replayed safely.
func (r Repo) EventsSince(ctx context.Context, badgeTypeIDs []string, sinceMs int64) ([]domain.RosterRow, int64, error) {
	if len(badgeTypeIDs) == 0 {
		return nil, 0, nil
	}
	in := inClause(len(badgeTypeIDs))
	query := `SELECT p.user_id, p.first_name, p.last_name, p.email,
	       be.id, be.badge_type_id, be.is_used, se.ts_ms
	  FROM scan_events se
	  JOIN badge_entities be ON be.id = se.entity_id
	  JOIN participants p ON p.user_id = be.user_id
	 WHERE se.ts_ms >= ? AND be.badge_type_id IN (` + in + `)
	 ORDER BY se.ts_ms, se.id`
	args := append([]any{sinceMs}, idArgs(badgeTypeIDs)...)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []domain.RosterRow
	var maxTs int64
	for rows.Next() {
		var row domain.RosterRow
		var used int
		var ts int64
		if err := rows.Scan(&row.UserID, &row.FirstName, &row.LastName, &row.Email,
			&row.EntityID, &row.BadgeTypeID, &used, &ts); err != nil {
			return nil, 0, err
		}
		row.IsUsed = used != 0
		out = append(out, row)
		if ts > maxTs {
			maxTs = ts
		}
	}
	return out, maxTs, rows.Err()
}
