package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
)

// Migration is one ordered, versioned, idempotent schema upgrade.
// Versions are append-only and never reused, per the migration runner
// design: schema_meta.version records the highest version applied.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrationsList is the ordered set of migrations beyond the v1
// baseline schema: FTS sync (v2), config defaults (v3),
// scheduled_events (v4), file_notes staleness columns (v5),
// agents/broadcasts/claims (v6), file_locks/pending_work (v7),
// session_bytes/context-pressure defaults (v8), git_branch/depends_on
// (v9), handoffs (v10).
var migrationsList = []Migration{
	{1, "baseline schema", func(tx *sql.Tx) error {
		_, err := tx.Exec(baselineSchema)
		return err
	}},
	{2, "FTS virtual tables + sync triggers", migrateFTS},
	{3, "config table defaults + composite indexes", migrateConfigDefaults},
	{4, "scheduled_events table + FTS", migrateScheduledEvents},
	{5, "file_notes staleness columns + focused task index", migrateFileNoteStaleness},
	{6, "agents + broadcasts + task claim columns", migrateCoordination},
	{7, "file_locks + pending_work", migrateLocksAndPendingWork},
	{8, "session_bytes + context-pressure config defaults", migrateContextPressure},
	{9, "file_notes.git_branch + decisions.depends_on", migrateBranchAndDependsOn},
	{10, "handoffs table", migrateHandoffs},
}

// LatestVersion returns the highest registered migration version.
func LatestVersion() int {
	v := 0
	for _, m := range migrationsList {
		if m.Version > v {
			v = m.Version
		}
	}
	return v
}

// RunMigrations applies every migration with version greater than the
// version currently recorded in schema_meta, in a single wrapping
// transaction per the Migration Runner design. It is a no-op if the
// database is already at the latest version (migration monotonicity).
func RunMigrations(db *sql.DB) error {
	current, err := readSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if current >= LatestVersion() {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("ensuring schema_meta: %w", err)
	}

	for _, m := range migrationsList {
		if m.Version <= current {
			continue
		}
		if err := m.Up(tx); err != nil {
			return fmt.Errorf("migration v%d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_meta(key, value) VALUES ('version', ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			fmt.Sprintf("%d", m.Version),
		); err != nil {
			return fmt.Errorf("recording schema version v%d: %w", m.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migrations: %w", err)
	}
	committed = true
	return nil
}

func readSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_meta'`).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}
	var value string
	err = db.QueryRow(`SELECT value FROM schema_meta WHERE key = 'version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int
	if _, err := fmt.Sscanf(value, "%d", &v); err != nil {
		return 0, fmt.Errorf("parsing schema version %q: %w", value, err)
	}
	return v, nil
}

func migrateFTS(tx *sql.Tx) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS sessions_fts USING fts5(id UNINDEXED, summary, agent_name, content='sessions', content_rowid='rowid')`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS changes_fts USING fts5(id UNINDEXED, file_path, description, content='changes', content_rowid='rowid')`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS decisions_fts USING fts5(id UNINDEXED, decision, rationale, content='decisions', content_rowid='rowid')`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS conventions_fts USING fts5(id UNINDEXED, rule, category, content='conventions', content_rowid='rowid')`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS tasks_fts USING fts5(id UNINDEXED, title, description, content='tasks', content_rowid='rowid')`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS file_notes_fts USING fts5(file_path UNINDEXED, purpose, notes, content='file_notes', content_rowid='rowid')`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return ftsSyncTriggers(tx)
}

// ftsSyncTriggers installs AFTER INSERT/UPDATE/DELETE triggers keeping
// each *_fts shadow table synchronized with its content table. The
// external-content delete form requires replaying the old column values
// alongside the 'delete' command.
func ftsSyncTriggers(tx *sql.Tx) error {
	type sync struct {
		table, fts string
		cols       []string
	}
	tables := []sync{
		{"sessions", "sessions_fts", []string{"id", "summary", "agent_name"}},
		{"changes", "changes_fts", []string{"id", "file_path", "description"}},
		{"decisions", "decisions_fts", []string{"id", "decision", "rationale"}},
		{"conventions", "conventions_fts", []string{"id", "rule", "category"}},
		{"tasks", "tasks_fts", []string{"id", "title", "description"}},
		{"file_notes", "file_notes_fts", []string{"file_path", "purpose", "notes"}},
	}
	for _, s := range tables {
		colList := strings.Join(s.cols, ", ")
		newVals := "new." + strings.Join(s.cols, ", new.")
		oldVals := "old." + strings.Join(s.cols, ", old.")
		stmts := []string{
			fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_ai AFTER INSERT ON %s BEGIN
				INSERT INTO %s(rowid, %s) VALUES (new.rowid, %s);
			END`, s.table, s.table, s.fts, colList, newVals),
			fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_ad AFTER DELETE ON %s BEGIN
				INSERT INTO %s(%s, rowid, %s) VALUES('delete', old.rowid, %s);
			END`, s.table, s.table, s.fts, s.fts, colList, oldVals),
			fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_au AFTER UPDATE ON %s BEGIN
				INSERT INTO %s(%s, rowid, %s) VALUES('delete', old.rowid, %s);
				INSERT INTO %s(rowid, %s) VALUES (new.rowid, %s);
			END`, s.table, s.table, s.fts, s.fts, colList, oldVals, s.fts, colList, newVals),
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

func migrateConfigDefaults(tx *sql.Tx) error {
	defaults := [][2]string{
		{"auto_compact", "true"},
		{"compact_threshold", "50"},
		{"retention_days", "90"},
		{"max_backups", "10"},
	}
	for _, d := range defaults {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO config(key, value) VALUES (?, ?)`, d[0], d[1]); err != nil {
			return err
		}
	}
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_changes_session_timestamp ON changes(session_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_priority ON tasks(status, priority)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func migrateScheduledEvents(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scheduled_events (
			id TEXT PRIMARY KEY,
			session_id TEXT REFERENCES sessions(id),
			created_at TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			trigger_type TEXT NOT NULL,
			trigger_value TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			triggered_at TEXT,
			acknowledged_at TEXT,
			requires_approval INTEGER NOT NULL DEFAULT 0,
			action_summary TEXT,
			action_data TEXT,
			priority TEXT NOT NULL DEFAULT 'medium',
			tags TEXT NOT NULL DEFAULT '[]',
			recurrence TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sched_events_status ON scheduled_events(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sched_events_trigger ON scheduled_events(trigger_type, trigger_value)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS scheduled_events_fts USING fts5(id UNINDEXED, title, description, content='scheduled_events', content_rowid='rowid')`,
		`CREATE TRIGGER IF NOT EXISTS scheduled_events_ai AFTER INSERT ON scheduled_events BEGIN
			INSERT INTO scheduled_events_fts(rowid, id, title, description) VALUES (new.rowid, new.id, new.title, new.description);
		END`,
		`CREATE TRIGGER IF NOT EXISTS scheduled_events_ad AFTER DELETE ON scheduled_events BEGIN
			INSERT INTO scheduled_events_fts(scheduled_events_fts, rowid, id, title, description) VALUES('delete', old.rowid, old.id, old.title, old.description);
		END`,
		`CREATE TRIGGER IF NOT EXISTS scheduled_events_au AFTER UPDATE ON scheduled_events BEGIN
			INSERT INTO scheduled_events_fts(scheduled_events_fts, rowid, id, title, description) VALUES('delete', old.rowid, old.id, old.title, old.description);
			INSERT INTO scheduled_events_fts(rowid, id, title, description) VALUES (new.rowid, new.id, new.title, new.description);
		END`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func migrateFileNoteStaleness(tx *sql.Tx) error {
	stmts := []string{
		`ALTER TABLE file_notes ADD COLUMN file_mtime INTEGER`,
		`ALTER TABLE file_notes ADD COLUMN content_hash TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_focused ON tasks(status) WHERE status = 'in_progress'`,
	}
	return execIgnoringDuplicateColumn(tx, stmts)
}

func migrateCoordination(tx *sql.Tx) error {
	stmts := []string{
		`ALTER TABLE tasks ADD COLUMN claimed_by TEXT`,
		`ALTER TABLE tasks ADD COLUMN claimed_at INTEGER`,
	}
	if err := execIgnoringDuplicateColumn(tx, stmts); err != nil {
		return err
	}
	more := []string{
		`CREATE INDEX IF NOT EXISTS idx_tasks_claimed_by ON tasks(claimed_by)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			last_seen INTEGER NOT NULL,
			current_task_id TEXT,
			status TEXT NOT NULL DEFAULT 'idle',
			specializations TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)`,
		`CREATE TABLE IF NOT EXISTS broadcasts (
			id TEXT PRIMARY KEY,
			from_agent TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER,
			read_by TEXT NOT NULL DEFAULT '[]',
			target_agent TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_broadcasts_target ON broadcasts(target_agent)`,
	}
	for _, s := range more {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func migrateLocksAndPendingWork(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS file_locks (
			file_path TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			reason TEXT,
			locked_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_file_locks_expires ON file_locks(expires_at)`,
		`CREATE TABLE IF NOT EXISTS pending_work (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			session_id TEXT REFERENCES sessions(id),
			description TEXT NOT NULL,
			files TEXT NOT NULL DEFAULT '[]',
			started_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_work_status ON pending_work(status)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func migrateContextPressure(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_bytes (
			session_id TEXT PRIMARY KEY,
			input_bytes INTEGER NOT NULL DEFAULT 0,
			output_bytes INTEGER NOT NULL DEFAULT 0,
			tool_calls INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshot_cache (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			ttl_minutes INTEGER NOT NULL DEFAULT 60
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			session_id TEXT REFERENCES sessions(id),
			agent_name TEXT,
			created_at TEXT NOT NULL,
			current_understanding TEXT NOT NULL,
			progress TEXT NOT NULL,
			relevant_files TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	defaults := [][2]string{
		{"context_pressure_notice_pct", "50"},
		{"context_pressure_warning_pct", "70"},
		{"context_pressure_urgent_pct", "85"},
		{"context_window_size", "200000"},
	}
	for _, d := range defaults {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO config(key, value) VALUES (?, ?)`, d[0], d[1]); err != nil {
			return err
		}
	}
	return nil
}

func migrateBranchAndDependsOn(tx *sql.Tx) error {
	stmts := []string{
		`ALTER TABLE file_notes ADD COLUMN git_branch TEXT`,
		`ALTER TABLE decisions ADD COLUMN depends_on TEXT NOT NULL DEFAULT '[]'`,
	}
	return execIgnoringDuplicateColumn(tx, stmts)
}

func migrateHandoffs(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS handoffs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			created_at TEXT NOT NULL,
			summary TEXT NOT NULL,
			acknowledged_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_handoffs_ack ON handoffs(acknowledged_at)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// execIgnoringDuplicateColumn runs ALTER TABLE ADD COLUMN statements,
// tolerating "duplicate column" so migrations stay idempotent across
// databases that already carry the column from a prior partial run.
func execIgnoringDuplicateColumn(tx *sql.Tx, stmts []string) error {
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			if isDuplicateColumnErr(err) {
				continue
			}
			return err
		}
	}
	return nil
}
