package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CompactOptions tunes one compaction run.
type CompactOptions struct {
	KeepSessions int  // completed sessions to leave untouched; default 50
	MaxAgeDays   int  // additionally restrict to sessions older than this; 0 = no age bound
	DryRun       bool // report counts only, change nothing
}

// CompactReport summarizes what a run did (or would do, for dry runs).
type CompactReport struct {
	SessionsCompacted int    `json:"sessions_compacted"`
	ChangesCollapsed  int    `json:"changes_collapsed"`
	DryRun            bool   `json:"dry_run"`
	SafetyBackup      string `json:"safety_backup,omitempty"`
	DbSizeKBBefore    int64  `json:"db_size_kb_before"`
	DbSizeKBAfter     int64  `json:"db_size_kb_after,omitempty"`
}

// compactedDescriptionLimit bounds the synthetic change's description.
const compactedDescriptionLimit = 2000

// Compact collapses the change rows of old completed sessions into one
// synthetic "(compacted)" record per session, then deletes the
// originals. A safety backup always lands first, and VACUUM runs after
// the transaction commits to actually reclaim the pages.
func (e *Engine) Compact(ctx context.Context, opts CompactOptions) (*CompactReport, error) {
	if opts.KeepSessions <= 0 {
		opts.KeepSessions = 50
	}

	report := &CompactReport{DryRun: opts.DryRun}
	if kb, err := e.db.SizeKB(); err == nil {
		report.DbSizeKBBefore = kb
	}

	sessionIDs, err := e.compactableSessions(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(sessionIDs) == 0 {
		return report, nil
	}

	if opts.DryRun {
		for _, id := range sessionIDs {
			var n int
			if err := e.db.Raw().QueryRowContext(ctx,
				`SELECT count(*) FROM changes WHERE session_id = ? AND file_path != '(compacted)'`, id).Scan(&n); err != nil {
				return nil, fmt.Errorf("counting changes for session %s: %w", id, err)
			}
			if n > 0 {
				report.SessionsCompacted++
				report.ChangesCollapsed += n
			}
		}
		return report, nil
	}

	backup, err := e.Backup(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("safety backup before compaction: %w", err)
	}
	report.SafetyBackup = backup

	err = e.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range sessionIDs {
			collapsed, err := compactSessionTx(ctx, tx, id)
			if err != nil {
				return err
			}
			if collapsed > 0 {
				report.SessionsCompacted++
				report.ChangesCollapsed += collapsed
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// VACUUM cannot run inside a transaction.
	if _, err := e.db.Raw().ExecContext(ctx, `VACUUM`); err != nil {
		return nil, fmt.Errorf("vacuum after compaction: %w", err)
	}
	if kb, err := e.db.SizeKB(); err == nil {
		report.DbSizeKBAfter = kb
	}
	return report, nil
}

// compactableSessions selects completed sessions older than the
// keep-threshold, newest first, optionally age-bounded.
func (e *Engine) compactableSessions(ctx context.Context, opts CompactOptions) ([]string, error) {
	query := `SELECT id FROM sessions WHERE ended_at IS NOT NULL`
	var args []any
	if opts.MaxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -opts.MaxAgeDays).Format(time.RFC3339Nano)
		query += ` AND ended_at < ?`
		args = append(args, cutoff)
	}
	query += ` ORDER BY ended_at DESC LIMIT -1 OFFSET ?`
	args = append(args, opts.KeepSessions)

	rows, err := e.db.Raw().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting compactable sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// compactSessionTx collapses one session's changes into a synthetic
// record and deletes the originals. Returns how many rows collapsed;
// zero means the session had nothing left to compact.
func compactSessionTx(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT change_type, file_path, description FROM changes
		 WHERE session_id = ? AND file_path != '(compacted)' ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("reading changes of session %s: %w", sessionID, err)
	}

	var parts []string
	count := 0
	for rows.Next() {
		var changeType, filePath, description string
		if err := rows.Scan(&changeType, &filePath, &description); err != nil {
			rows.Close()
			return 0, err
		}
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", changeType, filePath, description))
		count++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	summary := strings.Join(parts, "; ")
	if len(summary) > compactedDescriptionLimit {
		summary = summary[:compactedDescriptionLimit]
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM changes WHERE session_id = ? AND file_path != '(compacted)'`, sessionID); err != nil {
		return 0, fmt.Errorf("deleting compacted changes of session %s: %w", sessionID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO changes(id, session_id, timestamp, file_path, change_type, description, impact_scope)
		 VALUES (?, ?, ?, '(compacted)', 'modified', ?, 'local')`,
		fmt.Sprintf("change_compacted_%s", sessionID), sessionID,
		time.Now().UTC().Format(time.RFC3339Nano), summary); err != nil {
		return 0, fmt.Errorf("inserting synthetic change for session %s: %w", sessionID, err)
	}
	return count, nil
}
