// Package types defines the entity model shared by the storage and
// dispatch layers: sessions, changes, decisions, conventions, tasks,
// file notes, milestones, scheduled events, agents, broadcasts, file
// locks, pending work, checkpoints, and the smaller bookkeeping rows.
package types

// Status enums. Kept as plain strings (not a Go enum type) because every
// value round-trips through SQLite TEXT columns and JSON verbatim.
const (
	ChangeCreated      = "created"
	ChangeModified     = "modified"
	ChangeDeleted      = "deleted"
	ChangeRefactored   = "refactored"
	ChangeRenamed      = "renamed"
	ChangeMoved        = "moved"
	ChangeConfigChange = "config_changed"
)

const (
	ImpactLocal       = "local"
	ImpactModule      = "module"
	ImpactCrossModule = "cross_module"
	ImpactGlobal      = "global"
)

const (
	DecisionActive       = "active"
	DecisionExperimental = "experimental"
	DecisionSuperseded   = "superseded"
	DecisionDeprecated   = "deprecated"
)

const (
	TaskBacklog    = "backlog"
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskBlocked    = "blocked"
	TaskDone       = "done"
	TaskCancelled  = "cancelled"
)

const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
	ComplexityUnknown  = "unknown"
)

const (
	TriggerNextSession  = "next_session"
	TriggerDatetime     = "datetime"
	TriggerTaskComplete = "task_complete"
	TriggerManual       = "manual"
)

const (
	EventPending      = "pending"
	EventTriggered    = "triggered"
	EventAcknowledged = "acknowledged"
	EventExecuted     = "executed"
	EventCancelled    = "cancelled"
	EventSnoozed      = "snoozed"
)

const (
	RecurrenceOnce         = "once"
	RecurrenceEverySession = "every_session"
	RecurrenceDaily        = "daily"
	RecurrenceWeekly       = "weekly"
)

const (
	AgentIdle    = "idle"
	AgentWorking = "working"
	AgentDone    = "done"
	AgentStale   = "stale"
)

const (
	PendingWorkPending   = "pending"
	PendingWorkCompleted = "completed"
	PendingWorkAbandoned = "abandoned"
)

const (
	StalenessHigh    = "high"
	StalenessMedium  = "medium"
	StalenessStale   = "stale"
	StalenessUnknown = "unknown"
)

// Session is a bounded span of an agent's work on one project.
type Session struct {
	ID          string   `json:"id"`
	StartedAt   string   `json:"started_at"`
	EndedAt     *string  `json:"ended_at,omitempty"`
	Summary     *string  `json:"summary,omitempty"`
	AgentName   string   `json:"agent_name"`
	ProjectRoot string   `json:"project_root"`
	Tags        []string `json:"tags,omitempty"`
}

// Change is an agent-recorded, session-attributed record that a file was altered.
type Change struct {
	ID          string  `json:"id"`
	SessionID   *string `json:"session_id,omitempty"`
	Timestamp   string  `json:"timestamp"`
	FilePath    string  `json:"file_path"`
	ChangeType  string  `json:"change_type"`
	Description string  `json:"description"`
	DiffSummary *string `json:"diff_summary,omitempty"`
	ImpactScope string  `json:"impact_scope"`
}

// Decision is a durable architectural/design choice, with supersede chains.
type Decision struct {
	ID            string   `json:"id"`
	SessionID     *string  `json:"session_id,omitempty"`
	Timestamp     string   `json:"timestamp"`
	Decision      string   `json:"decision"`
	Rationale     *string  `json:"rationale,omitempty"`
	AffectedFiles []string `json:"affected_files,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Status        string   `json:"status"`
	SupersededBy  *string  `json:"superseded_by,omitempty"`
	DependsOn     []string `json:"depends_on,omitempty"`
}

// Convention is a repo-wide rule whose enforcement can be toggled.
type Convention struct {
	ID        string   `json:"id"`
	SessionID *string  `json:"session_id,omitempty"`
	Timestamp string   `json:"timestamp"`
	Category  string   `json:"category"`
	Rule      string   `json:"rule"`
	Examples  []string `json:"examples,omitempty"`
	Enforced  bool     `json:"enforced"`
}

// Task is a unit of work that can be claimed exclusively by one agent.
type Task struct {
	ID            string   `json:"id"`
	SessionID     *string  `json:"session_id,omitempty"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
	Title         string   `json:"title"`
	Description   *string  `json:"description,omitempty"`
	Status        string   `json:"status"`
	Priority      string   `json:"priority"`
	AssignedFiles []string `json:"assigned_files,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	CompletedAt   *string  `json:"completed_at,omitempty"`
	BlockedBy     []string `json:"blocked_by,omitempty"`
	ClaimedBy     *string  `json:"claimed_by,omitempty"`
	ClaimedAt     *int64   `json:"claimed_at,omitempty"`
}

// FileNote is per-file metadata cached to avoid re-reading the file,
// guarded by staleness signals computed on read (never stored).
type FileNote struct {
	FilePath            string   `json:"file_path"`
	Purpose             *string  `json:"purpose,omitempty"`
	Dependencies        []string `json:"dependencies,omitempty"`
	Dependents          []string `json:"dependents,omitempty"`
	Layer               *string  `json:"layer,omitempty"`
	LastReviewed        string   `json:"last_reviewed"`
	LastModifiedSession *string  `json:"last_modified_session,omitempty"`
	Notes               *string  `json:"notes,omitempty"`
	Complexity          *string  `json:"complexity,omitempty"`
	FileMtime           *int64   `json:"file_mtime,omitempty"`
	ContentHash         *string  `json:"content_hash,omitempty"`
	GitBranch           *string  `json:"git_branch,omitempty"`
	ExecutiveSummary    *string  `json:"executive_summary,omitempty"`

	// Derived on read, never persisted.
	Confidence     string  `json:"confidence,omitempty"`
	StalenessHours float64 `json:"staleness_hours,omitempty"`
	BranchWarning  string  `json:"branch_warning,omitempty"`
}

// Milestone marks a notable point in project history.
type Milestone struct {
	ID          string   `json:"id"`
	SessionID   *string  `json:"session_id,omitempty"`
	Timestamp   string   `json:"timestamp"`
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Version     *string  `json:"version,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ScheduledEvent is a deferred action driven by one of four trigger kinds.
type ScheduledEvent struct {
	ID               string   `json:"id"`
	SessionID        *string  `json:"session_id,omitempty"`
	CreatedAt        string   `json:"created_at"`
	Title            string   `json:"title"`
	Description      *string  `json:"description,omitempty"`
	TriggerType      string   `json:"trigger_type"`
	TriggerValue     *string  `json:"trigger_value,omitempty"`
	Status           string   `json:"status"`
	TriggeredAt      *string  `json:"triggered_at,omitempty"`
	AcknowledgedAt   *string  `json:"acknowledged_at,omitempty"`
	RequiresApproval bool     `json:"requires_approval"`
	ActionSummary    *string  `json:"action_summary,omitempty"`
	ActionData       *string  `json:"action_data,omitempty"`
	Priority         string   `json:"priority"`
	Tags             []string `json:"tags,omitempty"`
	Recurrence       *string  `json:"recurrence,omitempty"`
}

// Agent is a live process identity participating in coordination.
type Agent struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	LastSeen        int64    `json:"last_seen"`
	CurrentTaskID   *string  `json:"current_task_id,omitempty"`
	Status          string   `json:"status"`
	Specializations []string `json:"specializations,omitempty"`
}

// Broadcast is a message from one agent, optionally targeted, with read receipts.
type Broadcast struct {
	ID          string   `json:"id"`
	FromAgent   string   `json:"from_agent"`
	Message     string   `json:"message"`
	CreatedAt   int64    `json:"created_at"`
	ExpiresAt   *int64   `json:"expires_at,omitempty"`
	ReadBy      []string `json:"read_by"`
	TargetAgent *string  `json:"target_agent,omitempty"`
}

// FileLock is a time-bounded, advisory file reservation.
type FileLock struct {
	FilePath  string  `json:"file_path"`
	AgentID   string  `json:"agent_id"`
	Reason    *string `json:"reason,omitempty"`
	LockedAt  int64   `json:"locked_at"`
	ExpiresAt int64   `json:"expires_at"`
}

// PendingWork tracks in-flight work an agent has announced via begin_work.
type PendingWork struct {
	ID          string   `json:"id"`
	AgentID     string   `json:"agent_id"`
	SessionID   *string  `json:"session_id,omitempty"`
	Description string   `json:"description"`
	Files       []string `json:"files"`
	StartedAt   int64    `json:"started_at"`
	Status      string   `json:"status"`
}

// Checkpoint is the last-wins snapshot of an agent's in-progress understanding.
type Checkpoint struct {
	ID                   string   `json:"id"`
	SessionID            *string  `json:"session_id,omitempty"`
	AgentName            *string  `json:"agent_name,omitempty"`
	CreatedAt            string   `json:"created_at"`
	CurrentUnderstanding string   `json:"current_understanding"`
	Progress             string   `json:"progress"`
	RelevantFiles        []string `json:"relevant_files,omitempty"`
}

// SessionBytes accumulates context-pressure signal per session.
type SessionBytes struct {
	SessionID   string `json:"session_id"`
	InputBytes  int64  `json:"input_bytes"`
	OutputBytes int64  `json:"output_bytes"`
	ToolCalls   int64  `json:"tool_calls"`
	UpdatedAt   string `json:"updated_at"`
}

// SnapshotCache is a keyed, TTL-bounded JSON blob stored back in the database.
type SnapshotCache struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	UpdatedAt  string `json:"updated_at"`
	TTLMinutes int    `json:"ttl_minutes"`
}

// Handoff records one unacknowledged context-exhaustion handoff between sessions.
type Handoff struct {
	ID             string  `json:"id"`
	SessionID      string  `json:"session_id"`
	CreatedAt      string  `json:"created_at"`
	Summary        string  `json:"summary"`
	AcknowledgedAt *string `json:"acknowledged_at,omitempty"`
}
