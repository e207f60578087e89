// Package events appends to the scan_events log, the replayable feed every
// terminal pulls redemption deltas from.
package events

import (
	"context"
	"database/sql"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append records one redemption at the current unix-ms timestamp and returns
// that timestamp. Events are never updated or deleted; replaying a range is
// always safe because consumers merge idempotently.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, entityID, terminal string) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UnixMilli()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO scan_events(ts_ms, entity_id, terminal, is_used) VALUES (?,?,?,1)`,
		ts, entityID, terminal)
	return ts, err
}
