package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/types"
)

// SessionBytesRepo backs the context pressure detector's byte accumulator
// (level 2 signal): input/output bytes and tool-call counts, additive
// per session.
type SessionBytesRepo struct{ db *DB }

func (d *DB) SessionBytesRepo() *SessionBytesRepo { return &SessionBytesRepo{db: d} }

// Track adds inputBytes/outputBytes to the session's running total and
// increments tool_calls by one, upserting the row if it doesn't exist.
func (r *SessionBytesRepo) Track(ctx context.Context, sessionID string, inputBytes, outputBytes int64) (*types.SessionBytes, error) {
	_, err := r.db.sql.ExecContext(ctx,
		`INSERT INTO session_bytes(session_id, input_bytes, output_bytes, tool_calls, updated_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			input_bytes = session_bytes.input_bytes + excluded.input_bytes,
			output_bytes = session_bytes.output_bytes + excluded.output_bytes,
			tool_calls = session_bytes.tool_calls + 1,
			updated_at = excluded.updated_at`,
		sessionID, inputBytes, outputBytes, nowISO(),
	)
	if err != nil {
		return nil, fmt.Errorf("tracking context bytes for session %s: %w", sessionID, err)
	}
	return r.Get(ctx, sessionID)
}

// Get returns the accumulated bytes for a session, or nil if untracked.
func (r *SessionBytesRepo) Get(ctx context.Context, sessionID string) (*types.SessionBytes, error) {
	var sb types.SessionBytes
	err := r.db.sql.QueryRowContext(ctx,
		`SELECT session_id, input_bytes, output_bytes, tool_calls, updated_at FROM session_bytes WHERE session_id = ?`, sessionID,
	).Scan(&sb.SessionID, &sb.InputBytes, &sb.OutputBytes, &sb.ToolCalls, &sb.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting context bytes for session %s: %w", sessionID, err)
	}
	return &sb, nil
}
