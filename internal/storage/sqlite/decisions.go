package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/keggan-std/engramd/internal/apperr"
	"github.com/keggan-std/engramd/internal/types"
)

// Decisions is the repository for the decision entity. Supersession
// forms a DAG: superseding a decision flips its status and records the
// successor atomically.
type Decisions struct{ db *DB }

func (d *DB) Decisions() *Decisions { return &Decisions{db: d} }

// DecisionInput is one decision as supplied by record_decision(s).
type DecisionInput struct {
	Decision      string
	Rationale     string
	AffectedFiles []string
	Tags          []string
	DependsOn     []string
	Supersedes    string // id of a decision this one supersedes, if any
}

// CreateBatch inserts every decision in items atomically, applying any
// requested supersede relationship for each item.
func (r *Decisions) CreateBatch(ctx context.Context, items []DecisionInput, sessionID string) ([]*types.Decision, error) {
	var out []*types.Decision
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, item := range items {
			d, err := r.createTx(ctx, tx, item, sessionID)
			if err != nil {
				return err
			}
			if item.Supersedes != "" {
				if err := r.supersedeTx(ctx, tx, item.Supersedes, d.ID); err != nil {
					return err
				}
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

// Create inserts a single decision, optionally superseding a prior one.
func (r *Decisions) Create(ctx context.Context, item DecisionInput, sessionID string) (*types.Decision, error) {
	var d *types.Decision
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		created, err := r.createTx(ctx, tx, item, sessionID)
		if err != nil {
			return err
		}
		if item.Supersedes != "" {
			if err := r.supersedeTx(ctx, tx, item.Supersedes, created.ID); err != nil {
				return err
			}
		}
		d = created
		return nil
	})
	return d, err
}

func (r *Decisions) createTx(ctx context.Context, tx *sql.Tx, item DecisionInput, sessionID string) (*types.Decision, error) {
	id := newID("decision")
	ts := nowISO()
	var sid sql.NullString
	if sessionID != "" {
		sid = sql.NullString{String: sessionID, Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO decisions(id, session_id, timestamp, decision, rationale, affected_files, tags, status, depends_on)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'active', ?)`,
		id, sid, ts, item.Decision, nullIfEmpty(item.Rationale), encodeArray(item.AffectedFiles), encodeArray(item.Tags), encodeArray(item.DependsOn),
	); err != nil {
		return nil, fmt.Errorf("inserting decision: %w", err)
	}
	d := &types.Decision{
		ID: id, Timestamp: ts, Decision: item.Decision,
		AffectedFiles: item.AffectedFiles, Tags: item.Tags, DependsOn: item.DependsOn,
		Status: types.DecisionActive,
	}
	if item.Rationale != "" {
		d.Rationale = &item.Rationale
	}
	if sessionID != "" {
		d.SessionID = &sessionID
	}
	return d, nil
}

// Supersede sets oldID's status to superseded and records newID as its
// successor, atomically. Dependents of oldID are left untouched;
// "review required" is a read-time annotation, not stored state.
func (r *Decisions) Supersede(ctx context.Context, oldID, newID string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error { return r.supersedeTx(ctx, tx, oldID, newID) })
}

func (r *Decisions) supersedeTx(ctx context.Context, tx *sql.Tx, oldID, newIDStr string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE decisions SET status = 'superseded', superseded_by = ? WHERE id = ?`, newIDStr, oldID)
	if err != nil {
		return fmt.Errorf("superseding decision %s: %w", oldID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("decision %s not found", oldID)
	}
	return nil
}

// UpdateStatus applies an explicit status change to one decision.
func (r *Decisions) UpdateStatus(ctx context.Context, id, status string) error {
	switch status {
	case types.DecisionActive, types.DecisionExperimental, types.DecisionSuperseded, types.DecisionDeprecated:
	default:
		return apperr.Validation("invalid decision status %q", status)
	}
	res, err := r.db.sql.ExecContext(ctx, `UPDATE decisions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating decision %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("decision %s not found", id)
	}
	return nil
}

// DecisionFilter narrows GetFiltered.
type DecisionFilter struct {
	Status string
	Limit  int
}

// GetFiltered returns decisions matching filter, newest first.
func (r *Decisions) GetFiltered(ctx context.Context, f DecisionFilter) ([]*types.Decision, error) {
	limit := clampLimit(f.Limit, 20)
	query := `SELECT id, session_id, timestamp, decision, rationale, affected_files, tags, status, superseded_by, depends_on FROM decisions`
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// FindSimilar returns active decisions sharing at least two significant
// (>3 char) tokens with text, using Levenshtein distance for near-match
// token comparison so minor wording differences still count as overlap.
func (r *Decisions) FindSimilar(ctx context.Context, text string) ([]*types.Decision, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT id, session_id, timestamp, decision, rationale, affected_files, tags, status, superseded_by, depends_on
		 FROM decisions WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("scanning active decisions: %w", err)
	}
	defer rows.Close()
	all, err := scanDecisions(rows)
	if err != nil {
		return nil, err
	}

	queryTokens := significantTokens(text)
	var out []*types.Decision
	for _, d := range all {
		if countTokenOverlap(queryTokens, significantTokens(d.Decision)) >= 2 {
			out = append(out, d)
		}
	}
	return out, nil
}

func significantTokens(text string) []string {
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?()[]{}\"'")
		if len(tok) > 3 {
			out = append(out, tok)
		}
	}
	return out
}

// countTokenOverlap counts tokens from a that match a token in b either
// exactly or within a small Levenshtein distance (typo-tolerant match).
func countTokenOverlap(a, b []string) int {
	count := 0
	for _, ta := range a {
		for _, tb := range b {
			if ta == tb || levenshtein.ComputeDistance(ta, tb) <= 1 {
				count++
				break
			}
		}
	}
	return count
}

func scanDecisions(rows *sql.Rows) ([]*types.Decision, error) {
	var out []*types.Decision
	for rows.Next() {
		var d types.Decision
		var sid, rationale, supersededBy sql.NullString
		var affectedFiles, tags, dependsOn string
		if err := rows.Scan(&d.ID, &sid, &d.Timestamp, &d.Decision, &rationale, &affectedFiles, &tags, &d.Status, &supersededBy, &dependsOn); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		d.SessionID = ptrOrNil(sid)
		d.Rationale = ptrOrNil(rationale)
		d.SupersededBy = ptrOrNil(supersededBy)
		d.AffectedFiles = decodeArray(affectedFiles)
		d.Tags = decodeArray(tags)
		d.DependsOn = decodeArray(dependsOn)
		out = append(out, &d)
	}
	return out, rows.Err()
}
