package sqlite

import (
	"context"
	"sync"
	"testing"

	"github.com/keggan-std/engramd/internal/types"
)

func createTask(t *testing.T, db *DB, title string, tags []string) *types.Task {
	t.Helper()
	task, err := db.Tasks().Create(context.Background(), TaskInput{Title: title, Tags: tags}, "")
	if err != nil {
		t.Fatalf("creating task: %v", err)
	}
	return task
}

func TestAtomicClaim(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	task := createTask(t, db, "wire the parser", nil)

	const agents = 8
	var wg sync.WaitGroup
	wins := make(chan string, agents)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			agentID := string(rune('a' + n))
			if _, err := db.Tasks().ClaimTask(ctx, task.ID, agentID); err == nil {
				wins <- agentID
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("%d agents won the claim, want exactly 1", len(winners))
	}

	claimed, err := db.Tasks().Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("reading task: %v", err)
	}
	if claimed.ClaimedBy == nil || *claimed.ClaimedBy != winners[0] {
		t.Fatalf("claimed_by = %v, want %s", claimed.ClaimedBy, winners[0])
	}
}

func TestClaimErrors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.Tasks().ClaimTask(ctx, "task_missing", "a"); err == nil {
		t.Fatal("claiming a missing task should fail")
	}

	task := createTask(t, db, "done task", nil)
	if _, err := db.Tasks().Update(ctx, task.ID, TaskPatch{Status: types.TaskDone}); err != nil {
		t.Fatalf("completing task: %v", err)
	}
	if _, err := db.Tasks().ClaimTask(ctx, task.ID, "a"); err == nil {
		t.Fatal("claiming a done task should fail")
	}

	open := createTask(t, db, "open task", nil)
	if _, err := db.Tasks().ClaimTask(ctx, open.ID, "a"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := db.Tasks().ClaimTask(ctx, open.ID, "b")
	if err == nil {
		t.Fatal("second claim should fail")
	}
}

func TestClaimSpecializationScore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.Agents().Sync(ctx, "a", "agent-a", types.AgentIdle, nil, []string{"go", "sql"}); err != nil {
		t.Fatalf("syncing agent: %v", err)
	}
	task := createTask(t, db, "storage work", []string{"go", "sql", "perf", "docs"})

	claim, err := db.Tasks().ClaimTask(ctx, task.ID, "a")
	if err != nil {
		t.Fatalf("claiming: %v", err)
	}
	if claim.MatchPct != 50 {
		t.Fatalf("match_pct = %d, want 50", claim.MatchPct)
	}
	if claim.Warning != "" {
		t.Fatalf("unexpected warning with nonzero overlap: %s", claim.Warning)
	}

	mismatched := createTask(t, db, "frontend work", []string{"css"})
	claim, err = db.Tasks().ClaimTask(ctx, mismatched.ID, "a")
	if err != nil {
		t.Fatalf("claiming mismatched: %v", err)
	}
	if claim.Warning == "" {
		t.Fatal("zero overlap should produce an advisory warning")
	}
}

func TestRelease(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	task := createTask(t, db, "to release", nil)

	if _, err := db.Tasks().ClaimTask(ctx, task.ID, "a"); err != nil {
		t.Fatalf("claiming: %v", err)
	}

	// Wrong agent, no force: conflict.
	if err := db.Tasks().ReleaseTask(ctx, task.ID, "b", false); err == nil {
		t.Fatal("release by non-holder should fail without force")
	}

	// Wrong agent, force: allowed.
	if err := db.Tasks().ReleaseTask(ctx, task.ID, "b", true); err != nil {
		t.Fatalf("forced release: %v", err)
	}
	released, err := db.Tasks().Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("reading task: %v", err)
	}
	if released.ClaimedBy != nil {
		t.Fatalf("claim not cleared: %v", *released.ClaimedBy)
	}
}

func TestDoneClearsClaim(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	task := createTask(t, db, "finishing", nil)

	if _, err := db.Tasks().ClaimTask(ctx, task.ID, "a"); err != nil {
		t.Fatalf("claiming: %v", err)
	}
	done, err := db.Tasks().Update(ctx, task.ID, TaskPatch{Status: types.TaskDone})
	if err != nil {
		t.Fatalf("completing: %v", err)
	}
	if done.ClaimedBy != nil {
		t.Fatal("done status must clear the claim")
	}
	if done.CompletedAt == nil {
		t.Fatal("done status must stamp completed_at")
	}
}

func TestStaleAgentRecovery(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	task := createTask(t, db, "held by zombie", nil)

	if _, err := db.Agents().Sync(ctx, "zombie", "zombie", types.AgentWorking, nil, nil); err != nil {
		t.Fatalf("syncing zombie: %v", err)
	}
	if _, err := db.Tasks().ClaimTask(ctx, task.ID, "zombie"); err != nil {
		t.Fatalf("zombie claiming: %v", err)
	}

	// Backdate the zombie's heartbeat past the stale timeout.
	backdated := nowMS() - StaleTimeoutMS - 60_000
	if _, err := db.Raw().ExecContext(ctx, `UPDATE agents SET last_seen = ? WHERE id = 'zombie'`, backdated); err != nil {
		t.Fatalf("backdating: %v", err)
	}

	sync, err := db.Agents().Sync(ctx, "fresh", "fresh", types.AgentIdle, nil, nil)
	if err != nil {
		t.Fatalf("fresh agent syncing: %v", err)
	}
	if len(sync.StaleAgents) != 1 || sync.StaleAgents[0] != "zombie" {
		t.Fatalf("stale_agents = %v, want [zombie]", sync.StaleAgents)
	}
	if len(sync.FreedTasks) != 1 || sync.FreedTasks[0] != task.ID {
		t.Fatalf("freed_tasks = %v, want [%s]", sync.FreedTasks, task.ID)
	}

	zombie, err := db.Agents().Get(ctx, "zombie")
	if err != nil {
		t.Fatalf("reading zombie: %v", err)
	}
	if zombie.Status != types.AgentStale {
		t.Fatalf("zombie status = %s, want stale", zombie.Status)
	}
	freed, err := db.Tasks().Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("reading task: %v", err)
	}
	if freed.ClaimedBy != nil {
		t.Fatal("stale agent's claim not cleared")
	}
}

func TestBroadcastVisibility(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.Broadcasts().Create(ctx, "sender", "for everyone", "", 0); err != nil {
		t.Fatalf("creating broadcast: %v", err)
	}
	if _, err := db.Broadcasts().Create(ctx, "sender", "only for x", "x", 0); err != nil {
		t.Fatalf("creating targeted broadcast: %v", err)
	}
	// Already expired.
	expired, err := db.Broadcasts().Create(ctx, "sender", "too late", "", 1)
	if err != nil {
		t.Fatalf("creating expiring broadcast: %v", err)
	}
	if _, err := db.Raw().ExecContext(ctx, `UPDATE broadcasts SET expires_at = ? WHERE id = ?`, nowMS()-1, expired.ID); err != nil {
		t.Fatalf("expiring broadcast: %v", err)
	}

	syncY, err := db.Agents().Sync(ctx, "y", "y", types.AgentIdle, nil, nil)
	if err != nil {
		t.Fatalf("syncing y: %v", err)
	}
	if len(syncY.Broadcasts) != 1 || syncY.Broadcasts[0].Message != "for everyone" {
		t.Fatalf("agent y sees %d broadcasts, want just the untargeted one", len(syncY.Broadcasts))
	}

	syncX, err := db.Agents().Sync(ctx, "x", "x", types.AgentIdle, nil, nil)
	if err != nil {
		t.Fatalf("syncing x: %v", err)
	}
	if len(syncX.Broadcasts) != 2 {
		t.Fatalf("agent x sees %d broadcasts, want 2 (untargeted + targeted)", len(syncX.Broadcasts))
	}

	// Mark-read is idempotent: a second sync delivers nothing.
	again, err := db.Agents().Sync(ctx, "x", "x", types.AgentIdle, nil, nil)
	if err != nil {
		t.Fatalf("re-syncing x: %v", err)
	}
	if len(again.Broadcasts) != 0 {
		t.Fatalf("re-sync delivered %d broadcasts, want 0", len(again.Broadcasts))
	}
}

func TestRouteTaskPrefersSpecialization(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.Agents().Sync(ctx, "a", "a", types.AgentIdle, nil, []string{"db"}); err != nil {
		t.Fatalf("syncing agent: %v", err)
	}
	createTask(t, db, "frontend", []string{"css"})
	dbTask := createTask(t, db, "database", []string{"db"})

	suggestion, err := db.Tasks().RouteTask(ctx, "a")
	if err != nil {
		t.Fatalf("routing: %v", err)
	}
	if suggestion.Task.ID != dbTask.ID {
		t.Fatalf("routed to %s, want the db-tagged task", suggestion.Task.Title)
	}
	if suggestion.MatchPct != 100 {
		t.Fatalf("match_pct = %d, want 100", suggestion.MatchPct)
	}
}
