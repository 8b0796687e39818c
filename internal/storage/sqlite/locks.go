package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/types"
)

// FileLocks is the repository for advisory, time-bounded file
// reservations. Expiry is wall-clock based so a crashed holder never
// pins a path forever.
type FileLocks struct{ db *DB }

func (d *DB) FileLocks() *FileLocks { return &FileLocks{db: d} }

// DefaultSoftLockMinutes is the TTL applied when a note-write quietly
// acquires a lock without the caller specifying one.
const DefaultSoftLockMinutes = 15

// Acquire upserts an advisory lock for path held by agentID, expiring
// timeoutMin minutes from now. Expired locks are purged first so a dead
// holder's entry never blocks the upsert path.
func (r *FileLocks) Acquire(ctx context.Context, path, agentID, reason string, timeoutMin int) (*types.FileLock, error) {
	if timeoutMin <= 0 {
		timeoutMin = DefaultSoftLockMinutes
	}
	path = normalizePath(path)
	now := nowMS()
	expires := now + int64(timeoutMin)*60_000

	var out *types.FileLock
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_locks WHERE expires_at <= ?`, now); err != nil {
			return fmt.Errorf("purging expired locks: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO file_locks(file_path, agent_id, reason, locked_at, expires_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(file_path) DO UPDATE SET
				agent_id = excluded.agent_id,
				reason = excluded.reason,
				locked_at = excluded.locked_at,
				expires_at = excluded.expires_at`,
			path, agentID, nullIfEmpty(reason), now, expires,
		); err != nil {
			return fmt.Errorf("acquiring lock on %s: %w", path, err)
		}
		out = &types.FileLock{FilePath: path, AgentID: agentID, LockedAt: now, ExpiresAt: expires}
		if reason != "" {
			out.Reason = &reason
		}
		return nil
	})
	return out, err
}

// GetActive returns the lock on path if one exists and has not expired.
func (r *FileLocks) GetActive(ctx context.Context, path string) (*types.FileLock, error) {
	row := r.db.sql.QueryRowContext(ctx,
		`SELECT file_path, agent_id, reason, locked_at, expires_at FROM file_locks WHERE file_path = ? AND expires_at > ?`,
		normalizePath(path), nowMS())
	var l types.FileLock
	var reason sql.NullString
	err := row.Scan(&l.FilePath, &l.AgentID, &reason, &l.LockedAt, &l.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting lock on %s: %w", path, err)
	}
	l.Reason = ptrOrNil(reason)
	return &l, nil
}

// ListActive returns every unexpired lock, soonest-to-expire last.
func (r *FileLocks) ListActive(ctx context.Context) ([]*types.FileLock, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT file_path, agent_id, reason, locked_at, expires_at FROM file_locks WHERE expires_at > ? ORDER BY expires_at DESC`,
		nowMS())
	if err != nil {
		return nil, fmt.Errorf("listing locks: %w", err)
	}
	defer rows.Close()

	var out []*types.FileLock
	for rows.Next() {
		var l types.FileLock
		var reason sql.NullString
		if err := rows.Scan(&l.FilePath, &l.AgentID, &reason, &l.LockedAt, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning lock: %w", err)
		}
		l.Reason = ptrOrNil(reason)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// Release deletes the lock on path if held by agentID.
func (r *FileLocks) Release(ctx context.Context, path, agentID string) error {
	_, err := r.db.sql.ExecContext(ctx,
		`DELETE FROM file_locks WHERE file_path = ? AND agent_id = ?`, normalizePath(path), agentID)
	if err != nil {
		return fmt.Errorf("releasing lock on %s: %w", path, err)
	}
	return nil
}
