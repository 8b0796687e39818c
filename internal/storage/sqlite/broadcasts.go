package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/keggan-std/engramd/internal/types"
)

// Broadcasts is the repository for inter-agent messages with read
// receipts. Visibility rules: a broadcast is shown to an agent when it
// has not expired, targets that agent (or nobody in particular), and
// the agent is not already in read_by.
type Broadcasts struct{ db *DB }

func (d *DB) Broadcasts() *Broadcasts { return &Broadcasts{db: d} }

// Create records a broadcast from fromAgent. expiresInMin == 0 means
// the broadcast never expires; targetAgent == "" means untargeted.
func (r *Broadcasts) Create(ctx context.Context, fromAgent, message, targetAgent string, expiresInMin int) (*types.Broadcast, error) {
	id := newID("broadcast")
	now := nowMS()
	var expires sql.NullInt64
	if expiresInMin > 0 {
		expires = sql.NullInt64{Int64: now + int64(expiresInMin)*60_000, Valid: true}
	}
	_, err := r.db.sql.ExecContext(ctx,
		`INSERT INTO broadcasts(id, from_agent, message, created_at, expires_at, read_by, target_agent) VALUES (?, ?, ?, ?, ?, '[]', ?)`,
		id, fromAgent, message, now, expires, nullIfEmpty(targetAgent),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting broadcast: %w", err)
	}
	b := &types.Broadcast{ID: id, FromAgent: fromAgent, Message: message, CreatedAt: now, ReadBy: []string{}}
	if expires.Valid {
		b.ExpiresAt = &expires.Int64
	}
	if targetAgent != "" {
		b.TargetAgent = &targetAgent
	}
	return b, nil
}

// takeUnreadForAgentTx returns every broadcast visible to agentID and
// marks each one read in the same transaction. Mark-read is a set
// insertion into the read_by JSON array, so repeated delivery attempts
// are idempotent.
func takeUnreadForAgentTx(ctx context.Context, tx *sql.Tx, agentID string) ([]*types.Broadcast, error) {
	now := nowMS()
	rows, err := tx.QueryContext(ctx,
		`SELECT id, from_agent, message, created_at, expires_at, read_by, target_agent FROM broadcasts
		 WHERE (expires_at IS NULL OR expires_at > ?)
		   AND (target_agent IS NULL OR target_agent = ?)
		 ORDER BY created_at ASC`,
		now, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing broadcasts: %w", err)
	}

	var visible []*types.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if containsString(b.ReadBy, agentID) {
			continue
		}
		visible = append(visible, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, b := range visible {
		b.ReadBy = append(b.ReadBy, agentID)
		if _, err := tx.ExecContext(ctx,
			`UPDATE broadcasts SET read_by = ? WHERE id = ?`, encodeArray(b.ReadBy), b.ID); err != nil {
			return nil, fmt.Errorf("marking broadcast %s read: %w", b.ID, err)
		}
	}
	return visible, nil
}

func scanBroadcast(rows *sql.Rows) (*types.Broadcast, error) {
	var b types.Broadcast
	var expires sql.NullInt64
	var target sql.NullString
	var readBy string
	if err := rows.Scan(&b.ID, &b.FromAgent, &b.Message, &b.CreatedAt, &expires, &readBy, &target); err != nil {
		return nil, fmt.Errorf("scanning broadcast: %w", err)
	}
	b.ExpiresAt = int64PtrOrNil(expires)
	b.TargetAgent = ptrOrNil(target)
	b.ReadBy = decodeArray(readBy)
	if b.ReadBy == nil {
		b.ReadBy = []string{}
	}
	return &b, nil
}

func containsString(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
