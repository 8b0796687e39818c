package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/types"
)

// Handoffs carries work context across a context-exhaustion boundary:
// ending a session for that reason emits one row; the next session
// start surfaces unacknowledged rows and acknowledges them as soon as
// they are read.
type Handoffs struct{ db *DB }

func (d *DB) Handoffs() *Handoffs { return &Handoffs{db: d} }

// Emit records a handoff for sessionID.
func (r *Handoffs) Emit(ctx context.Context, sessionID, summary string) error {
	id := newID("handoff")
	_, err := r.db.sql.ExecContext(ctx,
		`INSERT INTO handoffs(id, session_id, created_at, summary) VALUES (?, ?, ?, ?)`,
		id, sessionID, nowISO(), summary,
	)
	if err != nil {
		return fmt.Errorf("emitting handoff for session %s: %w", sessionID, err)
	}
	return nil
}

// TakePending returns every unacknowledged handoff and marks it
// acknowledged in the same call: read is acknowledge, matching the
// broadcast read-receipt idiom.
func (r *Handoffs) TakePending(ctx context.Context) ([]*types.Handoff, error) {
	var out []*types.Handoff
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, session_id, created_at, summary, acknowledged_at FROM handoffs WHERE acknowledged_at IS NULL`)
		if err != nil {
			return fmt.Errorf("listing pending handoffs: %w", err)
		}
		var ids []string
		for rows.Next() {
			var h types.Handoff
			var ack sql.NullString
			if err := rows.Scan(&h.ID, &h.SessionID, &h.CreatedAt, &h.Summary, &ack); err != nil {
				rows.Close()
				return fmt.Errorf("scanning handoff: %w", err)
			}
			out = append(out, &h)
			ids = append(ids, h.ID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		ts := nowISO()
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE handoffs SET acknowledged_at = ? WHERE id = ?`, ts, id); err != nil {
				return fmt.Errorf("acknowledging handoff %s: %w", id, err)
			}
		}
		return nil
	})
	return out, err
}
