package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/keggan-std/engramd/internal/apperr"
	"github.com/keggan-std/engramd/internal/types"
)

// ScheduledEvents is the repository for the deferred-event state
// machine: pending → triggered → acknowledged → executed, with lateral
// transitions to cancelled and snoozed. Trigger sweeps are plain
// conditional UPDATEs so each sweep is one statement.
type ScheduledEvents struct{ db *DB }

func (d *DB) ScheduledEvents() *ScheduledEvents { return &ScheduledEvents{db: d} }

// EventInput is the set of fields accepted by schedule_event.
type EventInput struct {
	Title            string
	Description      string
	TriggerType      string
	TriggerValue     string
	RequiresApproval bool
	ActionSummary    string
	ActionData       string
	Priority         string
	Tags             []string
	Recurrence       string
}

// Create inserts a pending event.
func (r *ScheduledEvents) Create(ctx context.Context, in EventInput, sessionID string) (*types.ScheduledEvent, error) {
	switch in.TriggerType {
	case types.TriggerNextSession, types.TriggerDatetime, types.TriggerTaskComplete, types.TriggerManual:
	default:
		return nil, apperr.Validation("invalid trigger_type %q", in.TriggerType)
	}
	id := newID("event")
	ts := nowISO()
	priority := in.Priority
	if priority == "" {
		priority = types.PriorityMedium
	}
	var sid sql.NullString
	if sessionID != "" {
		sid = sql.NullString{String: sessionID, Valid: true}
	}
	_, err := r.db.sql.ExecContext(ctx,
		`INSERT INTO scheduled_events(id, session_id, created_at, title, description, trigger_type, trigger_value,
			status, requires_approval, action_summary, action_data, priority, tags, recurrence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?, ?, ?, ?)`,
		id, sid, ts, in.Title, nullIfEmpty(in.Description), in.TriggerType, nullIfEmpty(in.TriggerValue),
		boolToInt(in.RequiresApproval), nullIfEmpty(in.ActionSummary), nullIfEmpty(in.ActionData),
		priority, encodeArray(in.Tags), nullIfEmpty(in.Recurrence),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting scheduled event: %w", err)
	}
	return r.Get(ctx, id)
}

// Get returns one event by id, or nil.
func (r *ScheduledEvents) Get(ctx context.Context, id string) (*types.ScheduledEvent, error) {
	row := r.db.sql.QueryRowContext(ctx, eventSelectQuery+` WHERE id = ?`, id)
	return scanEvent(row)
}

const eventSelectQuery = `SELECT id, session_id, created_at, title, description, trigger_type, trigger_value,
	status, triggered_at, acknowledged_at, requires_approval, action_summary, action_data, priority, tags, recurrence
	FROM scheduled_events`

// eventListOrder implements the listing order from the scheduler
// design: triggered events first, then priority critical→low, then
// creation time.
const eventListOrder = ` ORDER BY
	CASE status WHEN 'triggered' THEN 0 WHEN 'pending' THEN 1 WHEN 'snoozed' THEN 2 WHEN 'acknowledged' THEN 3 ELSE 4 END,
	CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END,
	created_at ASC`

// EventFilter narrows GetFiltered.
type EventFilter struct {
	Status      string
	TriggerType string
	Limit       int
}

// GetFiltered lists events in the scheduler's canonical order.
func (r *ScheduledEvents) GetFiltered(ctx context.Context, f EventFilter) ([]*types.ScheduledEvent, error) {
	limit := clampLimit(f.Limit, 20)
	query := eventSelectQuery + ` WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.TriggerType != "" {
		query += ` AND trigger_type = ?`
		args = append(args, f.TriggerType)
	}
	query += eventListOrder + ` LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing scheduled events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// UpdateStatus applies an explicit lateral transition (cancel, snooze,
// executed, or back to pending) to one event.
func (r *ScheduledEvents) UpdateStatus(ctx context.Context, id, status string) (*types.ScheduledEvent, error) {
	switch status {
	case types.EventPending, types.EventTriggered, types.EventAcknowledged, types.EventExecuted, types.EventCancelled, types.EventSnoozed:
	default:
		return nil, apperr.Validation("invalid event status %q", status)
	}
	res, err := r.db.sql.ExecContext(ctx, `UPDATE scheduled_events SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return nil, fmt.Errorf("updating event %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, apperr.NotFound("scheduled event %s not found", id)
	}
	return r.Get(ctx, id)
}

// TriggerNextSession transitions every pending next_session event to
// triggered. Called from the session-start sweep.
func (r *ScheduledEvents) TriggerNextSession(ctx context.Context) (int, error) {
	return r.sweep(ctx, `UPDATE scheduled_events SET status = 'triggered', triggered_at = ?
		WHERE status = 'pending' AND trigger_type = 'next_session'`, nowISO())
}

// TriggerExpiredDatetime transitions pending datetime events whose
// trigger_value is at or before now (ISO comparison) to triggered.
func (r *ScheduledEvents) TriggerExpiredDatetime(ctx context.Context, now string) (int, error) {
	return r.sweep(ctx, `UPDATE scheduled_events SET status = 'triggered', triggered_at = ?
		WHERE status = 'pending' AND trigger_type = 'datetime' AND trigger_value IS NOT NULL AND trigger_value <= ?`,
		nowISO(), now)
}

// TriggerTaskComplete transitions pending task_complete events whose
// trigger_value names taskID to triggered. Called when a task reaches
// status done.
func (r *ScheduledEvents) TriggerTaskComplete(ctx context.Context, taskID string) (int, error) {
	return r.sweep(ctx, `UPDATE scheduled_events SET status = 'triggered', triggered_at = ?
		WHERE status = 'pending' AND trigger_type = 'task_complete' AND trigger_value = ?`, nowISO(), taskID)
}

func (r *ScheduledEvents) sweep(ctx context.Context, query string, args ...any) (int, error) {
	res, err := r.db.sql.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("trigger sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Acknowledge resolves a triggered event. approved=true moves it to
// acknowledged and, for recurring events, clones a fresh pending
// instance with the next trigger_value. approved=false snoozes the
// event back to pending; cancellation is a separate explicit update.
func (r *ScheduledEvents) Acknowledge(ctx context.Context, id string, approved bool) (*types.ScheduledEvent, error) {
	var out *types.ScheduledEvent
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, eventSelectQuery+` WHERE id = ?`, id)
		ev, err := scanEvent(row)
		if err != nil {
			return err
		}
		if ev == nil {
			return apperr.NotFound("scheduled event %s not found", id)
		}

		if !approved {
			if _, err := tx.ExecContext(ctx, `UPDATE scheduled_events SET status = 'pending' WHERE id = ?`, id); err != nil {
				return fmt.Errorf("snoozing event %s: %w", id, err)
			}
			ev.Status = types.EventPending
			out = ev
			return nil
		}

		ts := nowISO()
		if _, err := tx.ExecContext(ctx,
			`UPDATE scheduled_events SET status = 'acknowledged', acknowledged_at = ? WHERE id = ?`, ts, id); err != nil {
			return fmt.Errorf("acknowledging event %s: %w", id, err)
		}
		ev.Status = types.EventAcknowledged
		ev.AcknowledgedAt = &ts

		if ev.Recurrence != nil {
			switch *ev.Recurrence {
			case types.RecurrenceDaily, types.RecurrenceWeekly, types.RecurrenceEverySession:
				if err := cloneRecurringEventTx(ctx, tx, ev); err != nil {
					return err
				}
			}
		}
		out = ev
		return nil
	})
	return out, err
}

// cloneRecurringEventTx inserts a fresh pending copy of ev with the
// next trigger_value: datetime recurrence advances one day or week,
// every_session keeps the value unchanged.
func cloneRecurringEventTx(ctx context.Context, tx *sql.Tx, ev *types.ScheduledEvent) error {
	nextValue := ev.TriggerValue
	if ev.TriggerType == types.TriggerDatetime && ev.TriggerValue != nil {
		if t, err := time.Parse(time.RFC3339, *ev.TriggerValue); err == nil {
			var next time.Time
			if *ev.Recurrence == types.RecurrenceWeekly {
				next = t.AddDate(0, 0, 7)
			} else {
				next = t.AddDate(0, 0, 1)
			}
			v := next.Format(time.RFC3339)
			nextValue = &v
		}
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO scheduled_events(id, session_id, created_at, title, description, trigger_type, trigger_value,
			status, requires_approval, action_summary, action_data, priority, tags, recurrence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?, ?, ?, ?)`,
		newID("event"), nullString(ev.SessionID), nowISO(), ev.Title, nullString(ev.Description),
		ev.TriggerType, nullString(nextValue), boolToInt(ev.RequiresApproval),
		nullString(ev.ActionSummary), nullString(ev.ActionData), ev.Priority, encodeArray(ev.Tags), nullString(ev.Recurrence),
	)
	if err != nil {
		return fmt.Errorf("cloning recurring event %s: %w", ev.ID, err)
	}
	return nil
}

func scanEvent(row rowScanner) (*types.ScheduledEvent, error) {
	var ev types.ScheduledEvent
	var sid, description, triggerValue, triggeredAt, acknowledgedAt, actionSummary, actionData, recurrence sql.NullString
	var requiresApproval int
	var tags string
	err := row.Scan(&ev.ID, &sid, &ev.CreatedAt, &ev.Title, &description, &ev.TriggerType, &triggerValue,
		&ev.Status, &triggeredAt, &acknowledgedAt, &requiresApproval, &actionSummary, &actionData, &ev.Priority, &tags, &recurrence)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning scheduled event: %w", err)
	}
	ev.SessionID = ptrOrNil(sid)
	ev.Description = ptrOrNil(description)
	ev.TriggerValue = ptrOrNil(triggerValue)
	ev.TriggeredAt = ptrOrNil(triggeredAt)
	ev.AcknowledgedAt = ptrOrNil(acknowledgedAt)
	ev.RequiresApproval = requiresApproval != 0
	ev.ActionSummary = ptrOrNil(actionSummary)
	ev.ActionData = ptrOrNil(actionData)
	ev.Tags = decodeArray(tags)
	ev.Recurrence = ptrOrNil(recurrence)
	return &ev, nil
}

func scanEvents(rows *sql.Rows) ([]*types.ScheduledEvent, error) {
	var out []*types.ScheduledEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
