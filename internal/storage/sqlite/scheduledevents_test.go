package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/keggan-std/engramd/internal/types"
)

func TestTriggerSweeps(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	nextSession, err := db.ScheduledEvents().Create(ctx, EventInput{
		Title: "review PR", TriggerType: types.TriggerNextSession,
	}, "")
	if err != nil {
		t.Fatalf("creating next_session event: %v", err)
	}
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	expiredDatetime, err := db.ScheduledEvents().Create(ctx, EventInput{
		Title: "rotate key", TriggerType: types.TriggerDatetime, TriggerValue: past,
	}, "")
	if err != nil {
		t.Fatalf("creating datetime event: %v", err)
	}
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	futureDatetime, err := db.ScheduledEvents().Create(ctx, EventInput{
		Title: "later", TriggerType: types.TriggerDatetime, TriggerValue: future,
	}, "")
	if err != nil {
		t.Fatalf("creating future event: %v", err)
	}
	manual, err := db.ScheduledEvents().Create(ctx, EventInput{
		Title: "manual", TriggerType: types.TriggerManual,
	}, "")
	if err != nil {
		t.Fatalf("creating manual event: %v", err)
	}

	if n, err := db.ScheduledEvents().TriggerNextSession(ctx); err != nil || n != 1 {
		t.Fatalf("next_session sweep = (%d, %v), want (1, nil)", n, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if n, err := db.ScheduledEvents().TriggerExpiredDatetime(ctx, now); err != nil || n != 1 {
		t.Fatalf("datetime sweep = (%d, %v), want (1, nil)", n, err)
	}

	for _, tc := range []struct {
		id   string
		want string
	}{
		{nextSession.ID, types.EventTriggered},
		{expiredDatetime.ID, types.EventTriggered},
		{futureDatetime.ID, types.EventPending},
		{manual.ID, types.EventPending},
	} {
		ev, err := db.ScheduledEvents().Get(ctx, tc.id)
		if err != nil {
			t.Fatalf("reading event: %v", err)
		}
		if ev.Status != tc.want {
			t.Errorf("event %s status = %s, want %s", ev.Title, ev.Status, tc.want)
		}
	}
}

func TestTaskCompleteTrigger(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := createTask(t, db, "ship it", nil)
	ev, err := db.ScheduledEvents().Create(ctx, EventInput{
		Title: "announce release", TriggerType: types.TriggerTaskComplete, TriggerValue: task.ID,
	}, "")
	if err != nil {
		t.Fatalf("creating event: %v", err)
	}

	if n, err := db.ScheduledEvents().TriggerTaskComplete(ctx, task.ID); err != nil || n != 1 {
		t.Fatalf("task_complete sweep = (%d, %v), want (1, nil)", n, err)
	}
	got, err := db.ScheduledEvents().Get(ctx, ev.ID)
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if got.Status != types.EventTriggered {
		t.Fatalf("status = %s, want triggered", got.Status)
	}
}

func TestAcknowledgeRecurrenceClone(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ev, err := db.ScheduledEvents().Create(ctx, EventInput{
		Title: "standing review", TriggerType: types.TriggerNextSession, Recurrence: types.RecurrenceEverySession,
	}, "")
	if err != nil {
		t.Fatalf("creating event: %v", err)
	}
	if _, err := db.ScheduledEvents().TriggerNextSession(ctx); err != nil {
		t.Fatalf("sweeping: %v", err)
	}

	acked, err := db.ScheduledEvents().Acknowledge(ctx, ev.ID, true)
	if err != nil {
		t.Fatalf("acknowledging: %v", err)
	}
	if acked.Status != types.EventAcknowledged {
		t.Fatalf("status = %s, want acknowledged", acked.Status)
	}

	pending, err := db.ScheduledEvents().GetFiltered(ctx, EventFilter{Status: types.EventPending})
	if err != nil {
		t.Fatalf("listing pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("found %d pending clones, want 1", len(pending))
	}
	clone := pending[0]
	if clone.ID == ev.ID {
		t.Fatal("clone reused the original id")
	}
	if clone.Title != ev.Title || clone.TriggerType != ev.TriggerType {
		t.Fatalf("clone fields diverge: %+v", clone)
	}
	if clone.Recurrence == nil || *clone.Recurrence != types.RecurrenceEverySession {
		t.Fatalf("clone recurrence = %v, want every_session", clone.Recurrence)
	}
}

func TestAcknowledgeDatetimeRecurrenceAdvances(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	ev, err := db.ScheduledEvents().Create(ctx, EventInput{
		Title: "daily sweep", TriggerType: types.TriggerDatetime,
		TriggerValue: base.Format(time.RFC3339), Recurrence: types.RecurrenceDaily,
	}, "")
	if err != nil {
		t.Fatalf("creating event: %v", err)
	}
	if _, err := db.ScheduledEvents().TriggerExpiredDatetime(ctx, time.Now().UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("sweeping: %v", err)
	}
	if _, err := db.ScheduledEvents().Acknowledge(ctx, ev.ID, true); err != nil {
		t.Fatalf("acknowledging: %v", err)
	}

	pending, err := db.ScheduledEvents().GetFiltered(ctx, EventFilter{Status: types.EventPending})
	if err != nil {
		t.Fatalf("listing pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("found %d pending clones, want 1", len(pending))
	}
	want := base.AddDate(0, 0, 1).Format(time.RFC3339)
	if pending[0].TriggerValue == nil || *pending[0].TriggerValue != want {
		t.Fatalf("clone trigger_value = %v, want %s", pending[0].TriggerValue, want)
	}
}

func TestAcknowledgeRejectedSnoozes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ev, err := db.ScheduledEvents().Create(ctx, EventInput{
		Title: "maybe later", TriggerType: types.TriggerNextSession, Recurrence: types.RecurrenceEverySession,
	}, "")
	if err != nil {
		t.Fatalf("creating event: %v", err)
	}
	if _, err := db.ScheduledEvents().TriggerNextSession(ctx); err != nil {
		t.Fatalf("sweeping: %v", err)
	}

	snoozed, err := db.ScheduledEvents().Acknowledge(ctx, ev.ID, false)
	if err != nil {
		t.Fatalf("rejecting: %v", err)
	}
	if snoozed.Status != types.EventPending {
		t.Fatalf("status = %s, want pending (snoozed back)", snoozed.Status)
	}

	// No clone on rejection.
	all, err := db.ScheduledEvents().GetFiltered(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("found %d events after rejection, want 1", len(all))
	}
}

func TestEventListingOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	lowPending, err := db.ScheduledEvents().Create(ctx, EventInput{
		Title: "low pending", TriggerType: types.TriggerManual, Priority: types.PriorityLow,
	}, "")
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	criticalTriggered, err := db.ScheduledEvents().Create(ctx, EventInput{
		Title: "critical triggered", TriggerType: types.TriggerNextSession, Priority: types.PriorityCritical,
	}, "")
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	mediumTriggered, err := db.ScheduledEvents().Create(ctx, EventInput{
		Title: "medium triggered", TriggerType: types.TriggerNextSession, Priority: types.PriorityMedium,
	}, "")
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	if _, err := db.ScheduledEvents().TriggerNextSession(ctx); err != nil {
		t.Fatalf("sweeping: %v", err)
	}

	events, err := db.ScheduledEvents().GetFiltered(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("listed %d events, want 3", len(events))
	}
	wantOrder := []string{criticalTriggered.ID, mediumTriggered.ID, lowPending.ID}
	for i, want := range wantOrder {
		if events[i].ID != want {
			t.Fatalf("position %d = %s, want %s", i, events[i].Title, want)
		}
	}
}
