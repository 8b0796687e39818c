package sqlite

// baselineSchema is migration v1: the core entities that exist from the
// first day of a project's memory database. Everything added later
// (FTS tables, coordination tables, scheduler, handoffs) arrives as a
// numbered migration in migrations.go so that `schema_meta.version`
// always reflects exactly what DDL has been applied.
const baselineSchema = `
CREATE TABLE IF NOT EXISTS schema_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    summary TEXT,
    agent_name TEXT NOT NULL,
    project_root TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);

CREATE TABLE IF NOT EXISTS changes (
    id TEXT PRIMARY KEY,
    session_id TEXT REFERENCES sessions(id),
    timestamp TEXT NOT NULL,
    file_path TEXT NOT NULL,
    change_type TEXT NOT NULL,
    description TEXT NOT NULL,
    diff_summary TEXT,
    impact_scope TEXT NOT NULL DEFAULT 'local'
);

CREATE INDEX IF NOT EXISTS idx_changes_file_path ON changes(file_path);
CREATE INDEX IF NOT EXISTS idx_changes_timestamp ON changes(timestamp);
CREATE INDEX IF NOT EXISTS idx_changes_session ON changes(session_id);

CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    session_id TEXT REFERENCES sessions(id),
    timestamp TEXT NOT NULL,
    decision TEXT NOT NULL,
    rationale TEXT,
    affected_files TEXT NOT NULL DEFAULT '[]',
    tags TEXT NOT NULL DEFAULT '[]',
    status TEXT NOT NULL DEFAULT 'active',
    superseded_by TEXT
);

CREATE INDEX IF NOT EXISTS idx_decisions_status ON decisions(status);
CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp);

CREATE TABLE IF NOT EXISTS conventions (
    id TEXT PRIMARY KEY,
    session_id TEXT REFERENCES sessions(id),
    timestamp TEXT NOT NULL,
    category TEXT NOT NULL,
    rule TEXT NOT NULL,
    examples TEXT NOT NULL DEFAULT '[]',
    enforced INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conventions_rule ON conventions(rule);
CREATE INDEX IF NOT EXISTS idx_conventions_category ON conventions(category);

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    session_id TEXT REFERENCES sessions(id),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'backlog',
    priority TEXT NOT NULL DEFAULT 'medium',
    assigned_files TEXT NOT NULL DEFAULT '[]',
    tags TEXT NOT NULL DEFAULT '[]',
    completed_at TEXT,
    blocked_by TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);

CREATE TABLE IF NOT EXISTS file_notes (
    file_path TEXT PRIMARY KEY,
    purpose TEXT,
    dependencies TEXT NOT NULL DEFAULT '[]',
    dependents TEXT NOT NULL DEFAULT '[]',
    layer TEXT,
    last_reviewed TEXT NOT NULL,
    last_modified_session TEXT,
    notes TEXT,
    complexity TEXT,
    executive_summary TEXT
);

CREATE TABLE IF NOT EXISTS milestones (
    id TEXT PRIMARY KEY,
    session_id TEXT REFERENCES sessions(id),
    timestamp TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    version TEXT,
    tags TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_milestones_timestamp ON milestones(timestamp);

CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
`
