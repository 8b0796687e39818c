package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keggan-std/engramd/internal/apperr"
	"github.com/keggan-std/engramd/internal/dump"
	"github.com/keggan-std/engramd/internal/logging"
	"github.com/keggan-std/engramd/internal/schedule"
	"github.com/keggan-std/engramd/internal/storage/sqlite"
	"github.com/keggan-std/engramd/internal/types"
)

// Memory routes one memory(action, params) call. The action set is a
// closed enum; anything else is an unknown-method error.
func (s *Server) Memory(ctx context.Context, action string, raw json.RawMessage) Result {
	switch action {
	case "get_file_notes":
		return s.getFileNotes(ctx, raw)
	case "set_file_notes":
		return s.setFileNotes(ctx, raw)
	case "set_file_notes_batch":
		return s.setFileNotesBatch(ctx, raw)
	case "record_change":
		return s.recordChange(ctx, raw)
	case "get_file_history":
		return s.getFileHistory(ctx, raw)
	case "begin_work":
		return s.beginWork(ctx, raw)
	case "record_decision":
		return s.recordDecision(ctx, raw)
	case "record_decisions_batch":
		return s.recordDecisionsBatch(ctx, raw)
	case "get_decisions":
		return s.getDecisions(ctx, raw)
	case "update_decision":
		return s.updateDecision(ctx, raw)
	case "add_convention":
		return s.addConvention(ctx, raw)
	case "get_conventions":
		return s.getConventions(ctx, raw)
	case "toggle_convention":
		return s.toggleConvention(ctx, raw)
	case "create_task":
		return s.createTask(ctx, raw)
	case "update_task":
		return s.updateTask(ctx, raw)
	case "get_tasks":
		return s.getTasks(ctx, raw)
	case "checkpoint":
		return s.setCheckpoint(ctx, raw)
	case "get_checkpoint":
		return s.getCheckpoint(ctx, raw)
	case "search":
		return s.search(ctx, raw)
	case "what_changed":
		return s.whatChanged(ctx, raw)
	case "get_dependency_map":
		return s.getDependencyMap(ctx, raw)
	case "record_milestone":
		return s.recordMilestone(ctx, raw)
	case "get_milestones":
		return s.getMilestones(ctx, raw)
	case "schedule_event":
		return s.scheduleEvent(ctx, raw)
	case "get_scheduled_events":
		return s.getScheduledEvents(ctx, raw)
	case "update_scheduled_event":
		return s.updateScheduledEvent(ctx, raw)
	case "acknowledge_event":
		return s.acknowledgeEvent(ctx, raw)
	case "check_events":
		return s.checkEvents(ctx, raw)
	case "track_context":
		return s.trackContext(ctx, raw)
	case "dump":
		return s.dumpText(ctx, raw)
	case "claim_task":
		return s.claimTask(ctx, raw)
	case "release_task":
		return s.releaseTask(ctx, raw)
	case "agent_sync":
		return s.agentSync(ctx, raw)
	case "get_agents":
		return s.getAgents(ctx, raw)
	case "broadcast":
		return s.broadcastMessage(ctx, raw)
	case "route_task":
		return s.routeTask(ctx, raw)
	default:
		return errorResult(apperr.Validation("Unknown method: %s", action))
	}
}

// ---- file notes ----

type fileNotesArgs struct {
	FilePath         string   `json:"file_path"`
	AgentID          string   `json:"agent_id,omitempty"`
	Purpose          *string  `json:"purpose,omitempty"`
	Dependencies     []string `json:"dependencies,omitempty"`
	Dependents       []string `json:"dependents,omitempty"`
	Layer            *string  `json:"layer,omitempty"`
	Notes            *string  `json:"notes,omitempty"`
	Complexity       *string  `json:"complexity,omitempty"`
	ExecutiveSummary *string  `json:"executive_summary,omitempty"`
}

func (s *Server) getFileNotes(ctx context.Context, raw json.RawMessage) Result {
	var args fileNotesArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.FilePath == "" {
		return errorResult(apperr.Validation("file_path is required"))
	}
	note, err := s.db.FileNotes().Get(ctx, s.cfg.ProjectRoot, args.FilePath)
	if err != nil {
		return errorResult(err)
	}
	if note == nil {
		return errorResult(apperr.NotFound("no notes for %s", args.FilePath))
	}
	return jsonResult(note)
}

func (s *Server) setFileNotes(ctx context.Context, raw json.RawMessage) Result {
	var args fileNotesArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.FilePath == "" {
		return errorResult(apperr.Validation("file_path is required"))
	}

	note, err := s.db.FileNotes().Upsert(ctx, args.FilePath, s.sessionID(ctx), s.fileNotePatch(args))
	if err != nil {
		return errorResult(err)
	}

	// A note-write quietly reserves the file so two agents annotating
	// the same path see each other.
	agent := args.AgentID
	if agent == "" {
		agent = "unknown"
	}
	if _, err := s.db.FileLocks().Acquire(ctx, args.FilePath, agent, "soft-lock: set_file_notes", sqlite.DefaultSoftLockMinutes); err != nil {
		logging.BestEffort(s.log, "soft lock on note write", err)
	}
	return jsonResult(note)
}

// fileNotePatch builds the repository patch, probing the filesystem for
// the staleness signals (mtime, content hash, branch). The probes are
// best-effort: a missing file leaves those fields nil and the stored
// note still lands.
func (s *Server) fileNotePatch(args fileNotesArgs) sqlite.FileNotePatch {
	patch := sqlite.FileNotePatch{
		Purpose:          args.Purpose,
		Layer:            args.Layer,
		Notes:            args.Notes,
		Complexity:       args.Complexity,
		ExecutiveSummary: args.ExecutiveSummary,
	}
	if args.Dependencies != nil {
		patch.Dependencies = args.Dependencies
		patch.HasDependencies = true
	}
	if args.Dependents != nil {
		patch.Dependents = args.Dependents
		patch.HasDependents = true
	}

	fullPath := filepath.Join(s.cfg.ProjectRoot, args.FilePath)
	if info, err := os.Stat(fullPath); err == nil {
		mtime := info.ModTime().UTC().UnixMilli()
		patch.FileMtime = &mtime
		if hash, err := sqlite.HashFileContents(fullPath); err == nil {
			patch.ContentHash = &hash
		}
	}
	if branch := sqlite.CurrentGitBranch(s.cfg.ProjectRoot); branch != "" {
		patch.GitBranch = &branch
	}
	return patch
}

type fileNotesBatchArgs struct {
	Notes   []fileNotesArgs `json:"notes"`
	AgentID string          `json:"agent_id,omitempty"`
}

func (s *Server) setFileNotesBatch(ctx context.Context, raw json.RawMessage) Result {
	var args fileNotesBatchArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if len(args.Notes) == 0 {
		return errorResult(apperr.Validation("notes must not be empty"))
	}
	patches := map[string]sqlite.FileNotePatch{}
	for _, n := range args.Notes {
		if n.FilePath == "" {
			return errorResult(apperr.Validation("every note needs a file_path"))
		}
		patches[n.FilePath] = s.fileNotePatch(n)
	}
	notes, err := s.db.FileNotes().UpsertBatch(ctx, s.sessionID(ctx), patches)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"updated": len(notes), "notes": notes})
}

// ---- changes ----

type recordChangeArgs struct {
	Changes []sqlite.ChangeInput `json:"changes,omitempty"`
	// Single-change shorthand.
	FilePath    string `json:"file_path,omitempty"`
	ChangeType  string `json:"change_type,omitempty"`
	Description string `json:"description,omitempty"`
	DiffSummary string `json:"diff_summary,omitempty"`
	ImpactScope string `json:"impact_scope,omitempty"`
}

func (s *Server) recordChange(ctx context.Context, raw json.RawMessage) Result {
	var args recordChangeArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	items := args.Changes
	if len(items) == 0 && args.FilePath != "" {
		items = []sqlite.ChangeInput{{
			FilePath: args.FilePath, ChangeType: args.ChangeType,
			Description: args.Description, DiffSummary: args.DiffSummary, ImpactScope: args.ImpactScope,
		}}
	}
	if len(items) == 0 {
		return errorResult(apperr.Validation("record_change requires changes or file_path"))
	}
	for i, item := range items {
		if item.FilePath == "" || item.ChangeType == "" || item.Description == "" {
			return errorResult(apperr.Validation("change %d: file_path, change_type and description are required", i))
		}
		if !validChangeType(item.ChangeType) {
			return errorResult(apperr.Validation("change %d: invalid change_type %q", i, item.ChangeType))
		}
	}
	inserted, err := s.db.Changes().RecordBulk(ctx, items, s.sessionID(ctx))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"recorded": len(inserted), "changes": inserted})
}

func validChangeType(t string) bool {
	switch t {
	case types.ChangeCreated, types.ChangeModified, types.ChangeDeleted,
		types.ChangeRefactored, types.ChangeRenamed, types.ChangeMoved, types.ChangeConfigChange:
		return true
	}
	return false
}

type fileHistoryArgs struct {
	FilePath string `json:"file_path"`
	Limit    int    `json:"limit,omitempty"`
}

func (s *Server) getFileHistory(ctx context.Context, raw json.RawMessage) Result {
	var args fileHistoryArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.FilePath == "" {
		return errorResult(apperr.Validation("file_path is required"))
	}
	changes, err := s.db.Changes().GetByFile(ctx, args.FilePath, args.Limit)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"file_path": args.FilePath, "changes": changes})
}

type beginWorkArgs struct {
	AgentID     string   `json:"agent_id"`
	Description string   `json:"description"`
	Files       []string `json:"files"`
}

func (s *Server) beginWork(ctx context.Context, raw json.RawMessage) Result {
	var args beginWorkArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.AgentID == "" || args.Description == "" {
		return errorResult(apperr.Validation("agent_id and description are required"))
	}
	work, err := s.db.PendingWork().Begin(ctx, args.AgentID, s.sessionID(ctx), args.Description, args.Files)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(work)
}

// ---- decisions ----

type decisionArgs struct {
	Decision      string   `json:"decision"`
	Rationale     string   `json:"rationale,omitempty"`
	AffectedFiles []string `json:"affected_files,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	DependsOn     []string `json:"depends_on,omitempty"`
	Supersedes    string   `json:"supersedes,omitempty"`
}

func (a decisionArgs) input() sqlite.DecisionInput {
	return sqlite.DecisionInput{
		Decision: a.Decision, Rationale: a.Rationale, AffectedFiles: a.AffectedFiles,
		Tags: a.Tags, DependsOn: a.DependsOn, Supersedes: a.Supersedes,
	}
}

func (s *Server) recordDecision(ctx context.Context, raw json.RawMessage) Result {
	var args decisionArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.Decision == "" {
		return errorResult(apperr.Validation("decision is required"))
	}

	// Advisory: surface near-duplicates before writing so the agent can
	// supersede instead of fork.
	similar, err := s.db.Decisions().FindSimilar(ctx, args.Decision)
	if err != nil {
		logging.BestEffort(s.log, "finding similar decisions", err)
	}

	d, err := s.db.Decisions().Create(ctx, args.input(), s.sessionID(ctx))
	if err != nil {
		return errorResult(err)
	}
	out := map[string]any{"decision": d}
	if args.Supersedes != "" {
		out["supersedes"] = args.Supersedes
	}
	if len(similar) > 0 {
		out["similar"] = similar
	}
	return jsonResult(out)
}

type decisionsBatchArgs struct {
	Decisions []decisionArgs `json:"decisions"`
}

func (s *Server) recordDecisionsBatch(ctx context.Context, raw json.RawMessage) Result {
	var args decisionsBatchArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if len(args.Decisions) == 0 {
		return errorResult(apperr.Validation("decisions must not be empty"))
	}
	inputs := make([]sqlite.DecisionInput, 0, len(args.Decisions))
	for i, d := range args.Decisions {
		if d.Decision == "" {
			return errorResult(apperr.Validation("decision %d: decision text is required", i))
		}
		inputs = append(inputs, d.input())
	}
	created, err := s.db.Decisions().CreateBatch(ctx, inputs, s.sessionID(ctx))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"recorded": len(created), "decisions": created})
}

type getDecisionsArgs struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (s *Server) getDecisions(ctx context.Context, raw json.RawMessage) Result {
	var args getDecisionsArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	decisions, err := s.db.Decisions().GetFiltered(ctx, sqlite.DecisionFilter{Status: args.Status, Limit: args.Limit})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"decisions": decisions, "count": len(decisions)})
}

type updateDecisionArgs struct {
	ID           string `json:"id"`
	Status       string `json:"status,omitempty"`
	SupersededBy string `json:"superseded_by,omitempty"`
}

func (s *Server) updateDecision(ctx context.Context, raw json.RawMessage) Result {
	var args updateDecisionArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.ID == "" {
		return errorResult(apperr.Validation("id is required"))
	}
	switch {
	case args.SupersededBy != "":
		if err := s.db.Decisions().Supersede(ctx, args.ID, args.SupersededBy); err != nil {
			return errorResult(err)
		}
	case args.Status != "":
		if err := s.db.Decisions().UpdateStatus(ctx, args.ID, args.Status); err != nil {
			return errorResult(err)
		}
	default:
		return errorResult(apperr.Validation("update_decision needs status or superseded_by"))
	}
	return textResult(fmt.Sprintf("decision %s updated", args.ID))
}

// ---- conventions ----

type conventionArgs struct {
	Category string   `json:"category"`
	Rule     string   `json:"rule"`
	Examples []string `json:"examples,omitempty"`
	Enforced *bool    `json:"enforced,omitempty"`
}

func (s *Server) addConvention(ctx context.Context, raw json.RawMessage) Result {
	var args conventionArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.Category == "" || args.Rule == "" {
		return errorResult(apperr.Validation("category and rule are required"))
	}
	enforced := true
	if args.Enforced != nil {
		enforced = *args.Enforced
	}
	c, err := s.db.Conventions().Create(ctx, args.Category, args.Rule, args.Examples, enforced, s.sessionID(ctx))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(c)
}

type getConventionsArgs struct {
	Category        string `json:"category,omitempty"`
	IncludeDisabled bool   `json:"include_disabled,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}

func (s *Server) getConventions(ctx context.Context, raw json.RawMessage) Result {
	var args getConventionsArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	conventions, err := s.db.Conventions().GetFiltered(ctx, args.Category, args.IncludeDisabled, args.Limit)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"conventions": conventions, "count": len(conventions)})
}

type toggleConventionArgs struct {
	ID       string `json:"id"`
	Enforced bool   `json:"enforced"`
}

func (s *Server) toggleConvention(ctx context.Context, raw json.RawMessage) Result {
	var args toggleConventionArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.ID == "" {
		return errorResult(apperr.Validation("id is required"))
	}
	if err := s.db.Conventions().Toggle(ctx, args.ID, args.Enforced); err != nil {
		return errorResult(err)
	}
	return textResult(fmt.Sprintf("convention %s enforced=%v", args.ID, args.Enforced))
}

// ---- tasks ----

type createTaskArgs struct {
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	AssignedFiles []string `json:"assigned_files,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	BlockedBy     []string `json:"blocked_by,omitempty"`
}

func (s *Server) createTask(ctx context.Context, raw json.RawMessage) Result {
	var args createTaskArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.Title == "" {
		return errorResult(apperr.Validation("title is required"))
	}
	t, err := s.db.Tasks().Create(ctx, sqlite.TaskInput{
		Title: args.Title, Description: args.Description, Priority: args.Priority,
		AssignedFiles: args.AssignedFiles, Tags: args.Tags, BlockedBy: args.BlockedBy,
	}, s.sessionID(ctx))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(t)
}

type updateTaskArgs struct {
	ID            string   `json:"id"`
	Title         *string  `json:"title,omitempty"`
	Description   *string  `json:"description,omitempty"`
	Status        string   `json:"status,omitempty"`
	Priority      *string  `json:"priority,omitempty"`
	AssignedFiles []string `json:"assigned_files,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	BlockedBy     []string `json:"blocked_by,omitempty"`
}

func (s *Server) updateTask(ctx context.Context, raw json.RawMessage) Result {
	var args updateTaskArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.ID == "" {
		return errorResult(apperr.Validation("id is required"))
	}
	t, err := s.db.Tasks().Update(ctx, args.ID, sqlite.TaskPatch{
		Title: args.Title, Description: args.Description, Status: args.Status,
		Priority: args.Priority, AssignedFiles: args.AssignedFiles, Tags: args.Tags, BlockedBy: args.BlockedBy,
	})
	if err != nil {
		return errorResult(err)
	}

	// A task reaching done fires its task_complete events.
	if t.Status == types.TaskDone {
		if _, err := s.db.ScheduledEvents().TriggerTaskComplete(ctx, t.ID); err != nil {
			logging.BestEffort(s.log, "task_complete trigger sweep", err)
		}
	}
	return jsonResult(t)
}

type getTasksArgs struct {
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

func (s *Server) getTasks(ctx context.Context, raw json.RawMessage) Result {
	var args getTasksArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	tasks, err := s.db.Tasks().GetFiltered(ctx, sqlite.TaskFilter{Status: args.Status, Priority: args.Priority, Limit: args.Limit})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"tasks": tasks, "count": len(tasks)})
}

// ---- checkpoints ----

type checkpointArgs struct {
	AgentName            string   `json:"agent_name,omitempty"`
	CurrentUnderstanding string   `json:"current_understanding"`
	Progress             string   `json:"progress"`
	RelevantFiles        []string `json:"relevant_files,omitempty"`
}

func (s *Server) setCheckpoint(ctx context.Context, raw json.RawMessage) Result {
	var args checkpointArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.CurrentUnderstanding == "" || args.Progress == "" {
		return errorResult(apperr.Validation("current_understanding and progress are required"))
	}
	cp, err := s.db.Checkpoints().Set(ctx, s.sessionID(ctx), args.AgentName, args.CurrentUnderstanding, args.Progress, args.RelevantFiles)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(cp)
}

func (s *Server) getCheckpoint(ctx context.Context, raw json.RawMessage) Result {
	sessionID := s.sessionID(ctx)
	cp, err := s.db.Checkpoints().Get(ctx, sessionID)
	if err != nil {
		return errorResult(err)
	}
	if cp == nil {
		if prev, err := s.db.Sessions().GetLastCompleted(ctx); err == nil && prev != nil {
			cp, _ = s.db.Checkpoints().Get(ctx, prev.ID)
		}
	}
	if cp == nil {
		return errorResult(apperr.NotFound("no checkpoint recorded"))
	}
	return jsonResult(cp)
}

// ---- search & summaries ----

type searchArgs struct {
	Query        string   `json:"query"`
	Scopes       []string `json:"scopes,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	ContextChars int      `json:"context_chars,omitempty"`
}

func (s *Server) search(ctx context.Context, raw json.RawMessage) Result {
	var args searchArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	grouped, err := s.db.Search().Run(ctx, sqlite.SearchParams{
		Query: args.Query, Scopes: args.Scopes, Limit: args.Limit,
		ContextChars: args.ContextChars, ProjectRoot: s.cfg.ProjectRoot,
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"query": args.Query, "results": grouped})
}

type whatChangedArgs struct {
	Since string `json:"since,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) whatChanged(ctx context.Context, raw json.RawMessage) Result {
	var args whatChangedArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	since := args.Since
	if since == "" {
		prev, err := s.db.Sessions().GetLastCompleted(ctx)
		if err != nil {
			return errorResult(err)
		}
		if prev == nil {
			return jsonResult(map[string]any{"changes": []any{}, "count": 0})
		}
		since = prev.StartedAt
	}
	changes, err := s.db.Changes().GetSince(ctx, since)
	if err != nil {
		return errorResult(err)
	}
	byType := map[string]int{}
	byFile := map[string]int{}
	for _, c := range changes {
		byType[c.ChangeType]++
		byFile[c.FilePath]++
	}
	return jsonResult(map[string]any{
		"since": since, "count": len(changes), "by_type": byType, "by_file": byFile, "changes": changes,
	})
}

func (s *Server) getDependencyMap(ctx context.Context, raw json.RawMessage) Result {
	depMap, err := s.db.FileNotes().DependencyMap(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(depMap)
}

// ---- milestones ----

type milestoneArgs struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Version     string   `json:"version,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func (s *Server) recordMilestone(ctx context.Context, raw json.RawMessage) Result {
	var args milestoneArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.Title == "" {
		return errorResult(apperr.Validation("title is required"))
	}
	m, err := s.db.Milestones().Create(ctx, args.Title, args.Description, args.Version, args.Tags, s.sessionID(ctx))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(m)
}

type getMilestonesArgs struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) getMilestones(ctx context.Context, raw json.RawMessage) Result {
	var args getMilestonesArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	milestones, err := s.db.Milestones().GetFiltered(ctx, args.Limit)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"milestones": milestones, "count": len(milestones)})
}

// ---- scheduled events ----

type scheduleEventArgs struct {
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	TriggerType      string   `json:"trigger_type"`
	TriggerValue     string   `json:"trigger_value,omitempty"`
	RequiresApproval bool     `json:"requires_approval,omitempty"`
	ActionSummary    string   `json:"action_summary,omitempty"`
	ActionData       string   `json:"action_data,omitempty"`
	Priority         string   `json:"priority,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	Recurrence       string   `json:"recurrence,omitempty"`
}

func (s *Server) scheduleEvent(ctx context.Context, raw json.RawMessage) Result {
	var args scheduleEventArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.Title == "" || args.TriggerType == "" {
		return errorResult(apperr.Validation("title and trigger_type are required"))
	}
	triggerValue := args.TriggerValue
	if args.TriggerType == types.TriggerDatetime {
		parsed, err := schedule.ParseTriggerValue(triggerValue, time.Now())
		if err != nil {
			return errorResult(apperr.Validation("%v", err))
		}
		triggerValue = parsed
	}
	ev, err := s.db.ScheduledEvents().Create(ctx, sqlite.EventInput{
		Title: args.Title, Description: args.Description, TriggerType: args.TriggerType,
		TriggerValue: triggerValue, RequiresApproval: args.RequiresApproval,
		ActionSummary: args.ActionSummary, ActionData: args.ActionData,
		Priority: args.Priority, Tags: args.Tags, Recurrence: args.Recurrence,
	}, s.sessionID(ctx))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(ev)
}

type getScheduledEventsArgs struct {
	Status      string `json:"status,omitempty"`
	TriggerType string `json:"trigger_type,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

func (s *Server) getScheduledEvents(ctx context.Context, raw json.RawMessage) Result {
	var args getScheduledEventsArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	events, err := s.db.ScheduledEvents().GetFiltered(ctx, sqlite.EventFilter{
		Status: args.Status, TriggerType: args.TriggerType, Limit: args.Limit,
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"events": events, "count": len(events)})
}

type updateScheduledEventArgs struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *Server) updateScheduledEvent(ctx context.Context, raw json.RawMessage) Result {
	var args updateScheduledEventArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.ID == "" || args.Status == "" {
		return errorResult(apperr.Validation("id and status are required"))
	}
	ev, err := s.db.ScheduledEvents().UpdateStatus(ctx, args.ID, args.Status)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(ev)
}

type acknowledgeEventArgs struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
}

func (s *Server) acknowledgeEvent(ctx context.Context, raw json.RawMessage) Result {
	var args acknowledgeEventArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.ID == "" {
		return errorResult(apperr.Validation("id is required"))
	}
	ev, err := s.db.ScheduledEvents().Acknowledge(ctx, args.ID, args.Approved)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(ev)
}

type checkEventsArgs struct {
	ReportedTokens int64 `json:"reported_tokens,omitempty"`
}

// checkEvents sweeps expired datetime triggers, lists everything now
// triggered, and attaches a context-pressure report when usage crosses
// the notice band.
func (s *Server) checkEvents(ctx context.Context, raw json.RawMessage) Result {
	var args checkEventsArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if _, err := s.db.ScheduledEvents().TriggerExpiredDatetime(ctx, time.Now().UTC().Format(time.RFC3339)); err != nil {
		logging.BestEffort(s.log, "datetime trigger sweep", err)
	}
	triggered, err := s.db.ScheduledEvents().GetFiltered(ctx, sqlite.EventFilter{Status: types.EventTriggered, Limit: 100})
	if err != nil {
		return errorResult(err)
	}
	out := map[string]any{"triggered_events": triggered, "count": len(triggered)}
	if report, err := s.detector.Check(ctx, s.sessionID(ctx), args.ReportedTokens); err == nil && report != nil {
		out["context_pressure"] = report
	}
	return jsonResult(out)
}

type trackContextArgs struct {
	InputBytes  int64 `json:"input_bytes"`
	OutputBytes int64 `json:"output_bytes"`
}

func (s *Server) trackContext(ctx context.Context, raw json.RawMessage) Result {
	var args trackContextArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	sessionID := s.sessionID(ctx)
	if sessionID == "" {
		return errorResult(apperr.Validation("no open session to track against"))
	}
	sb, err := s.db.SessionBytesRepo().Track(ctx, sessionID, args.InputBytes, args.OutputBytes)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(sb)
}

// ---- dump ----

type dumpArgs struct {
	Text string `json:"text"`
	Hint string `json:"hint,omitempty"`
}

// dumpText classifies free text and stores it under the winning
// category. Findings land as knowledge notes (file_notes rows under the
// synthetic knowledge/ namespace), never as change rows.
func (s *Server) dumpText(ctx context.Context, raw json.RawMessage) Result {
	var args dumpArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if strings.TrimSpace(args.Text) == "" {
		return errorResult(apperr.Validation("text is required"))
	}

	verdict := dump.Classify(args.Text, args.Hint)
	sessionID := s.sessionID(ctx)

	var storedID string
	switch verdict.Type {
	case dump.TypeDecision:
		d, err := s.db.Decisions().Create(ctx, sqlite.DecisionInput{Decision: args.Text}, sessionID)
		if err != nil {
			return errorResult(err)
		}
		storedID = d.ID
	case dump.TypeTask:
		t, err := s.db.Tasks().Create(ctx, sqlite.TaskInput{Title: firstLine(args.Text), Description: args.Text}, sessionID)
		if err != nil {
			return errorResult(err)
		}
		storedID = t.ID
	case dump.TypeConvention:
		c, err := s.db.Conventions().Create(ctx, "general", args.Text, nil, true, sessionID)
		if err != nil {
			return errorResult(err)
		}
		storedID = c.ID
	default: // finding
		path := "knowledge/" + sqlite.NewKnowledgeID()
		text := args.Text
		if _, err := s.db.FileNotes().Upsert(ctx, path, sessionID, sqlite.FileNotePatch{Notes: &text}); err != nil {
			return errorResult(err)
		}
		storedID = path
	}

	return jsonResult(map[string]any{
		"type": verdict.Type, "confidence": verdict.Confidence,
		"scores": verdict.Scores, "stored_id": storedID,
	})
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i > 0 {
		text = text[:i]
	}
	if len(text) > 120 {
		text = text[:120]
	}
	return strings.TrimSpace(text)
}

// ---- coordination ----

type claimTaskArgs struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
}

func (s *Server) claimTask(ctx context.Context, raw json.RawMessage) Result {
	var args claimTaskArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.TaskID == "" || args.AgentID == "" {
		return errorResult(apperr.Validation("task_id and agent_id are required"))
	}
	claim, err := s.db.Tasks().ClaimTask(ctx, args.TaskID, args.AgentID)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(claim)
}

type releaseTaskArgs struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Force   bool   `json:"force,omitempty"`
}

func (s *Server) releaseTask(ctx context.Context, raw json.RawMessage) Result {
	var args releaseTaskArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.TaskID == "" || args.AgentID == "" {
		return errorResult(apperr.Validation("task_id and agent_id are required"))
	}
	if err := s.db.Tasks().ReleaseTask(ctx, args.TaskID, args.AgentID, args.Force); err != nil {
		return errorResult(err)
	}
	return textResult(fmt.Sprintf("task %s released", args.TaskID))
}

type agentSyncArgs struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Status          string   `json:"status,omitempty"`
	CurrentTaskID   *string  `json:"current_task_id,omitempty"`
	Specializations []string `json:"specializations,omitempty"`
}

func (s *Server) agentSync(ctx context.Context, raw json.RawMessage) Result {
	var args agentSyncArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.ID == "" {
		return errorResult(apperr.Validation("id is required"))
	}
	if args.Name == "" {
		args.Name = args.ID
	}
	sync, err := s.db.Agents().Sync(ctx, args.ID, args.Name, args.Status, args.CurrentTaskID, args.Specializations)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(sync)
}

func (s *Server) getAgents(ctx context.Context, raw json.RawMessage) Result {
	agents, err := s.db.Agents().List(ctx)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"agents": agents, "count": len(agents)})
}

type broadcastArgs struct {
	FromAgent    string `json:"from_agent"`
	Message      string `json:"message"`
	TargetAgent  string `json:"target_agent,omitempty"`
	ExpiresInMin int    `json:"expires_in_min,omitempty"`
}

func (s *Server) broadcastMessage(ctx context.Context, raw json.RawMessage) Result {
	var args broadcastArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.FromAgent == "" || args.Message == "" {
		return errorResult(apperr.Validation("from_agent and message are required"))
	}
	b, err := s.db.Broadcasts().Create(ctx, args.FromAgent, args.Message, args.TargetAgent, args.ExpiresInMin)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(b)
}

type routeTaskArgs struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) routeTask(ctx context.Context, raw json.RawMessage) Result {
	var args routeTaskArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.AgentID == "" {
		return errorResult(apperr.Validation("agent_id is required"))
	}
	suggestion, err := s.db.Tasks().RouteTask(ctx, args.AgentID)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(suggestion)
}
