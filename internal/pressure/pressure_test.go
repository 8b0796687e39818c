package pressure

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/keggan-std/engramd/internal/storage/sqlite"
)

func setupDetector(t *testing.T) (*sqlite.DB, *Detector) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, New(db)
}

func TestAgentReportedBands(t *testing.T) {
	_, d := setupDetector(t)
	ctx := context.Background()

	// Window is the migration default, 200000 tokens. Thresholds:
	// notice 50, warning 70, urgent 85.
	cases := []struct {
		tokens       int64
		wantSeverity string // "" means no report
	}{
		{1, ""},
		{99_999, ""},
		{100_000, SeverityNotice},
		{139_999, SeverityNotice},
		{140_000, SeverityWarning},
		{169_999, SeverityWarning},
		{170_000, SeverityUrgent},
		{200_000, SeverityUrgent},
	}
	for _, tc := range cases {
		report, err := d.Check(ctx, "", tc.tokens)
		if err != nil {
			t.Fatalf("check(%d): %v", tc.tokens, err)
		}
		switch {
		case tc.wantSeverity == "" && report != nil:
			t.Errorf("check(%d) = %+v, want no report", tc.tokens, report)
		case tc.wantSeverity != "" && report == nil:
			t.Errorf("check(%d) = nil, want severity %s", tc.tokens, tc.wantSeverity)
		case tc.wantSeverity != "" && report.Severity != tc.wantSeverity:
			t.Errorf("check(%d) severity = %s, want %s", tc.tokens, report.Severity, tc.wantSeverity)
		}
	}
}

func TestByteAccumulatorLevel(t *testing.T) {
	db, d := setupDetector(t)
	ctx := context.Background()

	session, err := db.Sessions().Create(ctx, "agent-a", "/proj")
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	// 4 calls × 600000 bytes = 2.4MB ≈ 600000 tokens on a 200000
	// window: far past urgent.
	for i := 0; i < 4; i++ {
		if _, err := db.SessionBytesRepo().Track(ctx, session.ID, 100_000, 500_000); err != nil {
			t.Fatalf("tracking: %v", err)
		}
	}

	report, err := d.Check(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report == nil || report.Severity != SeverityUrgent {
		t.Fatalf("report = %+v, want urgent", report)
	}
	if report.Source != "byte_accumulator" {
		t.Fatalf("source = %s, want byte_accumulator", report.Source)
	}

	sb, err := db.SessionBytesRepo().Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("reading bytes: %v", err)
	}
	if sb.ToolCalls != 4 {
		t.Fatalf("tool_calls = %d, want 4", sb.ToolCalls)
	}
}

func TestInsufficientDataReturnsNone(t *testing.T) {
	_, d := setupDetector(t)
	report, err := d.Check(context.Background(), "session_untracked", 0)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report != nil {
		t.Fatalf("report = %+v, want nil for level-1 (no data)", report)
	}
}

func TestAgentReportPreferredOverBytes(t *testing.T) {
	db, d := setupDetector(t)
	ctx := context.Background()

	session, err := db.Sessions().Create(ctx, "agent-a", "/proj")
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}
	// Bytes say urgent, the agent says barely notice: the agent wins.
	if _, err := db.SessionBytesRepo().Track(ctx, session.ID, 1_000_000, 1_000_000); err != nil {
		t.Fatalf("tracking: %v", err)
	}
	report, err := d.Check(ctx, session.ID, 100_000)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report == nil || report.Severity != SeverityNotice || report.Source != "agent_reported" {
		t.Fatalf("report = %+v, want notice from agent_reported", report)
	}
}
