package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/keggan-std/engramd/internal/apperr"
	"github.com/keggan-std/engramd/internal/logging"
	"github.com/keggan-std/engramd/internal/maintenance"
	"github.com/keggan-std/engramd/internal/storage/sqlite"
	"github.com/keggan-std/engramd/internal/types"
)

// StartSessionArgs are the params for start_session.
type StartSessionArgs struct {
	AgentName  string `json:"agent_name"`
	ResumeTask string `json:"resume_task,omitempty"`
	Verbosity  string `json:"verbosity,omitempty"` // full | summary | minimal
}

// startContext is the structured payload start_session returns: enough
// memory for an agent to resume a project cold.
type startContext struct {
	Session          *types.Session          `json:"session"`
	PreviousSession  *types.Session          `json:"previous_session,omitempty"`
	ChangesSinceLast *changesSummary         `json:"changes_since_last,omitempty"`
	TriggeredEvents  []*types.ScheduledEvent `json:"triggered_events,omitempty"`
	HandoffPending   []*types.Handoff        `json:"handoff_pending,omitempty"`
	ResumedTask      *types.Task             `json:"resumed_task,omitempty"`
	Checkpoint       *types.Checkpoint       `json:"checkpoint,omitempty"`
	Decisions        []*types.Decision       `json:"decisions,omitempty"`
	Conventions      []*types.Convention     `json:"conventions,omitempty"`
	OpenTasks        []*types.Task           `json:"open_tasks,omitempty"`
}

type changesSummary struct {
	Count  int             `json:"count"`
	Recent []*types.Change `json:"recent,omitempty"`
}

// StartSession opens a new session (auto-closing any prior open one),
// runs the scheduler's session-start trigger sweep, surfaces pending
// handoffs, and assembles resume context at the requested verbosity.
// The auto-compact check runs last, best-effort.
func (s *Server) StartSession(ctx context.Context, raw json.RawMessage) Result {
	var args StartSessionArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.AgentName == "" {
		return errorResult(apperr.Validation("agent_name is required"))
	}
	verbosity := args.Verbosity
	if verbosity == "" {
		verbosity = "summary"
	}
	switch verbosity {
	case "full", "summary", "minimal":
	default:
		return errorResult(apperr.Validation("invalid verbosity %q", verbosity))
	}

	previous, err := s.db.Sessions().GetLastCompleted(ctx)
	if err != nil {
		return errorResult(err)
	}

	session, err := s.db.Sessions().Create(ctx, args.AgentName, s.cfg.ProjectRoot)
	if err != nil {
		return errorResult(err)
	}
	s.currentSessionID = session.ID

	out := &startContext{Session: session}

	// Session-start trigger sweep: next_session plus any datetime
	// triggers that expired while nobody was looking.
	if _, err := s.db.ScheduledEvents().TriggerNextSession(ctx); err != nil {
		logging.BestEffort(s.log, "trigger next_session sweep", err)
	}
	if _, err := s.db.ScheduledEvents().TriggerExpiredDatetime(ctx, time.Now().UTC().Format(time.RFC3339)); err != nil {
		logging.BestEffort(s.log, "trigger datetime sweep", err)
	}
	triggered, err := s.db.ScheduledEvents().GetFiltered(ctx, sqlite.EventFilter{Status: types.EventTriggered, Limit: 100})
	if err != nil {
		logging.BestEffort(s.log, "listing triggered events", err)
	}
	out.TriggeredEvents = triggered

	handoffs, err := s.db.Handoffs().TakePending(ctx)
	if err != nil {
		logging.BestEffort(s.log, "reading pending handoffs", err)
	}
	out.HandoffPending = handoffs

	if verbosity != "minimal" && previous != nil {
		out.PreviousSession = previous
		// Changes recorded during the previous session count too;
		// measure from its start.
		changes, err := s.db.Changes().GetSince(ctx, previous.StartedAt)
		if err == nil {
			summary := &changesSummary{Count: len(changes)}
			if n := len(changes); n > 0 {
				recent := changes
				if n > 10 {
					recent = changes[n-10:]
				}
				summary.Recent = recent
			}
			out.ChangesSinceLast = summary
		}
		if cp, err := s.db.Checkpoints().Get(ctx, previous.ID); err == nil && cp != nil {
			out.Checkpoint = cp
		}
	}

	if args.ResumeTask != "" {
		if task, err := s.db.Tasks().Get(ctx, args.ResumeTask); err == nil && task != nil {
			out.ResumedTask = task
		}
	}

	if verbosity == "full" {
		if decisions, err := s.db.Decisions().GetFiltered(ctx, sqlite.DecisionFilter{Status: types.DecisionActive}); err == nil {
			out.Decisions = decisions
		}
		if conventions, err := s.db.Conventions().GetFiltered(ctx, "", false, 0); err == nil {
			out.Conventions = conventions
		}
		if tasks, err := s.db.Tasks().GetFiltered(ctx, sqlite.TaskFilter{Status: types.TaskInProgress}); err == nil {
			out.OpenTasks = tasks
		}
	}

	s.autoCompactCheck(ctx)

	return jsonResult(out)
}

// EndSessionArgs are the params for end_session.
type EndSessionArgs struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// EndSession closes the current session. reason="context_exhaustion"
// additionally emits a handoff row for the next session to pick up.
func (s *Server) EndSession(ctx context.Context, raw json.RawMessage) Result {
	var args EndSessionArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.Summary == "" {
		return errorResult(apperr.Validation("summary is required"))
	}
	id := s.sessionID(ctx)
	if id == "" {
		return errorResult(apperr.NotFound("no open session to end"))
	}
	if err := s.db.Sessions().Close(ctx, id, args.Summary, args.Tags); err != nil {
		return errorResult(err)
	}
	if args.Reason == "context_exhaustion" {
		if err := s.db.Handoffs().Emit(ctx, id, args.Summary); err != nil {
			logging.BestEffort(s.log, "emitting handoff", err)
		}
	}
	s.currentSessionID = ""
	return jsonResult(map[string]any{"ended": id, "summary": args.Summary})
}

// SessionHistoryArgs are the params for get_session_history.
type SessionHistoryArgs struct {
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
}

// GetSessionHistory lists sessions newest-first.
func (s *Server) GetSessionHistory(ctx context.Context, raw json.RawMessage) Result {
	var args SessionHistoryArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	sessions, err := s.db.Sessions().List(ctx, args.Limit, args.Offset, args.AgentName)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"sessions": sessions, "count": len(sessions)})
}

// autoCompactCheck runs compaction with defaults when the session count
// crosses the configured threshold. Errors are logged, never fatal:
// session start must succeed even when compaction can't.
func (s *Server) autoCompactCheck(ctx context.Context) {
	cfg := s.db.Config()
	if !cfg.GetBool(ctx, "auto_compact", true) {
		return
	}
	threshold := cfg.GetInt(ctx, "compact_threshold", 50)

	var count int
	if err := s.db.Raw().QueryRowContext(ctx, `SELECT count(*) FROM sessions`).Scan(&count); err != nil {
		logging.BestEffort(s.log, "auto-compact session count", err)
		return
	}
	if count <= threshold {
		return
	}
	if _, err := s.engine.Compact(ctx, maintenance.CompactOptions{KeepSessions: threshold}); err != nil {
		logging.BestEffort(s.log, "auto-compact", err)
	}
}
