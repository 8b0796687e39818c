package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/keggan-std/engramd/internal/apperr"
	"github.com/keggan-std/engramd/internal/logging"
	"github.com/keggan-std/engramd/internal/maintenance"
	"github.com/keggan-std/engramd/internal/storage/sqlite"
	"github.com/keggan-std/engramd/internal/types"
)

// Admin routes one admin(action, params) call.
func (s *Server) Admin(ctx context.Context, action string, raw json.RawMessage) Result {
	switch action {
	case "backup":
		return s.adminBackup(ctx, raw)
	case "restore":
		return s.adminRestore(ctx, raw)
	case "list_backups":
		return s.adminListBackups(ctx, raw)
	case "export":
		return s.adminExport(ctx, raw)
	case "import":
		return s.adminImport(ctx, raw)
	case "compact":
		return s.adminCompact(ctx, raw)
	case "clear":
		return s.adminClear(ctx, raw)
	case "stats":
		return s.adminStats(ctx, raw)
	case "health":
		return s.adminHealth(ctx, raw)
	case "config":
		return s.adminConfig(ctx, raw)
	case "scan_project":
		return s.adminScanProject(ctx, raw)
	case "install_hooks":
		return s.adminInstallHooks(ctx, raw)
	case "remove_hooks":
		return s.adminRemoveHooks(ctx, raw)
	case "generate_report":
		return s.adminGenerateReport(ctx, raw)
	case "get_global_knowledge":
		return s.adminGlobalKnowledge(ctx, raw)
	default:
		return errorResult(apperr.Validation("Unknown method: %s", action))
	}
}

type backupArgs struct {
	Path string `json:"path,omitempty"`
}

func (s *Server) adminBackup(ctx context.Context, raw json.RawMessage) Result {
	var args backupArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	path, err := s.engine.Backup(ctx, args.Path)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]string{"backup": path})
}

type restoreArgs struct {
	Path    string `json:"path"`
	Confirm string `json:"confirm"`
}

func (s *Server) adminRestore(ctx context.Context, raw json.RawMessage) Result {
	var args restoreArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.Path == "" {
		return errorResult(apperr.Validation("path is required"))
	}
	safety, err := s.engine.Restore(ctx, args.Path, args.Confirm)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]string{
		"restored_from": args.Path,
		"safety_backup": safety,
		"note":          "restart the server to load the restored database",
	})
}

func (s *Server) adminListBackups(ctx context.Context, raw json.RawMessage) Result {
	backups, err := s.engine.ListBackups()
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"backups": backups, "count": len(backups)})
}

type exportArgs struct {
	Path string `json:"path,omitempty"`
}

func (s *Server) adminExport(ctx context.Context, raw json.RawMessage) Result {
	var args exportArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	dest := args.Path
	if dest == "" {
		dest = filepath.Join(s.cfg.EngramDir(), "export.json")
	}
	counts, err := s.engine.Export(ctx, dest)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"exported_to": dest, "counts": counts})
}

type importArgs struct {
	Path string `json:"path"`
}

func (s *Server) adminImport(ctx context.Context, raw json.RawMessage) Result {
	var args importArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.Path == "" {
		return errorResult(apperr.Validation("path is required"))
	}
	counts, err := s.engine.Import(ctx, args.Path)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"imported_from": args.Path, "counts": counts})
}

type compactArgs struct {
	KeepSessions int  `json:"keep_sessions,omitempty"`
	MaxAgeDays   int  `json:"max_age_days,omitempty"`
	DryRun       bool `json:"dry_run,omitempty"`
}

func (s *Server) adminCompact(ctx context.Context, raw json.RawMessage) Result {
	var args compactArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	report, err := s.engine.Compact(ctx, maintenance.CompactOptions{
		KeepSessions: args.KeepSessions, MaxAgeDays: args.MaxAgeDays, DryRun: args.DryRun,
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(report)
}

type clearArgs struct {
	Confirm string `json:"confirm"`
}

// adminClear wipes every entity table after a safety backup. Guarded by
// the same style of confirmation token as restore.
func (s *Server) adminClear(ctx context.Context, raw json.RawMessage) Result {
	var args clearArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	if args.Confirm != "yes-clear" {
		return errorResult(apperr.Validation(`clear requires confirm="yes-clear"`))
	}
	safety, err := s.engine.Backup(ctx, "")
	if err != nil {
		return errorResult(err)
	}
	if err := s.db.ClearAllData(ctx); err != nil {
		return errorResult(err)
	}
	s.currentSessionID = ""
	return jsonResult(map[string]string{"cleared": "all", "safety_backup": safety})
}

func (s *Server) adminStats(ctx context.Context, raw json.RawMessage) Result {
	stats, err := s.db.Stats(ctx)
	if err != nil {
		return errorResult(err)
	}
	if kb, err := s.db.SizeKB(); err == nil {
		stats["db_size_kb"] = kb
	}
	stats["schema_version"] = sqlite.LatestVersion()
	return jsonResult(stats)
}

// adminHealth runs an integrity check and reports schema and binary
// version skew. The previously-seen binary version is kept in the
// config table; a semver downgrade is worth shouting about because an
// older binary may not understand newer schema rows.
func (s *Server) adminHealth(ctx context.Context, raw json.RawMessage) Result {
	out := map[string]any{"status": "ok", "version": s.version}

	var integrity string
	if err := s.db.Raw().QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&integrity); err != nil {
		out["status"] = "error"
		out["integrity"] = err.Error()
	} else {
		out["integrity"] = integrity
		if integrity != "ok" {
			out["status"] = "corrupt"
		}
	}

	out["schema_version"] = sqlite.LatestVersion()

	lastVersion, err := s.db.Config().Get(ctx, "server_version")
	if err == nil {
		cur := normalizeSemver(s.version)
		prev := normalizeSemver(lastVersion)
		if semver.IsValid(cur) && semver.IsValid(prev) && semver.Compare(cur, prev) < 0 {
			out["version_skew"] = fmt.Sprintf("running %s but database last touched by %s", s.version, lastVersion)
		}
	}
	if err := s.db.Config().Set(ctx, "server_version", s.version); err != nil {
		logging.BestEffort(s.log, "recording server version", err)
	}

	if kb, err := s.db.SizeKB(); err == nil {
		out["db_size_kb"] = kb
	}
	return jsonResult(out)
}

func normalizeSemver(v string) string {
	if v == "" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

type configArgs struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
}

// adminConfig gets, sets, or lists database-resident tunables: key
// alone reads, key+value writes, neither lists everything.
func (s *Server) adminConfig(ctx context.Context, raw json.RawMessage) Result {
	var args configArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	switch {
	case args.Key != "" && args.Value != "":
		if err := s.db.Config().Set(ctx, args.Key, args.Value); err != nil {
			return errorResult(err)
		}
		return jsonResult(map[string]string{args.Key: args.Value})
	case args.Key != "":
		v, err := s.db.Config().Get(ctx, args.Key)
		if err != nil {
			return errorResult(err)
		}
		if v == "" {
			return errorResult(apperr.NotFound("config key %s not set", args.Key))
		}
		return jsonResult(map[string]string{args.Key: v})
	default:
		all, err := s.db.Config().GetAll(ctx)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(all)
	}
}

type scanProjectArgs struct {
	MaxFiles int `json:"max_files,omitempty"`
}

// adminScanProject walks the project tree and seeds file_notes with
// staleness baselines (mtime, content hash) for source files that have
// no note yet. The scan is bounded and skips VCS/dependency
// directories.
func (s *Server) adminScanProject(ctx context.Context, raw json.RawMessage) Result {
	var args scanProjectArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	maxFiles := args.MaxFiles
	if maxFiles <= 0 || maxFiles > 2000 {
		maxFiles = 500
	}

	skipDirs := map[string]bool{
		".git": true, "node_modules": true, "vendor": true, ".engram": true,
		"dist": true, "build": true, "target": true, "__pycache__": true,
	}

	scanned := 0
	patches := map[string]sqlite.FileNotePatch{}
	root := s.cfg.ProjectRoot
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree: skip, never fail the scan
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if scanned >= maxFiles {
			return filepath.SkipAll
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if existing, err := s.db.FileNotes().Get(ctx, root, filepath.ToSlash(rel)); err != nil || existing != nil {
			return nil // already noted (or unreadable): keep its baseline
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		mtime := info.ModTime().UTC().UnixMilli()
		patch := sqlite.FileNotePatch{FileMtime: &mtime}
		if hash, err := sqlite.HashFileContents(path); err == nil {
			patch.ContentHash = &hash
		}
		patches[filepath.ToSlash(rel)] = patch
		scanned++
		return nil
	})
	if err != nil {
		return errorResult(err)
	}

	if len(patches) > 0 {
		if _, err := s.db.FileNotes().UpsertBatch(ctx, s.sessionID(ctx), patches); err != nil {
			return errorResult(err)
		}
	}
	return jsonResult(map[string]any{"scanned": scanned})
}

// postCommitHook appends commit records to the engram change log so
// out-of-band commits still leave a trace an agent can import later.
const postCommitHook = `#!/bin/sh
# engramd post-commit hook
echo "$(git log -1 --format='%H %cI %s')" >> "$(git rev-parse --show-toplevel)/.engram/git-changes.log"
`

func (s *Server) adminInstallHooks(ctx context.Context, raw json.RawMessage) Result {
	hooksDir := filepath.Join(s.cfg.ProjectRoot, ".git", "hooks")
	if _, err := os.Stat(filepath.Join(s.cfg.ProjectRoot, ".git")); err != nil {
		return errorResult(apperr.Validation("%s is not a git repository", s.cfg.ProjectRoot))
	}
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return errorResult(fmt.Errorf("creating hooks directory: %w", err))
	}
	hookPath := filepath.Join(hooksDir, "post-commit")
	if existing, err := os.ReadFile(hookPath); err == nil && !strings.Contains(string(existing), "engramd post-commit hook") {
		return errorResult(apperr.Conflict("a foreign post-commit hook already exists at %s", hookPath))
	}
	if err := os.WriteFile(hookPath, []byte(postCommitHook), 0o755); err != nil {
		return errorResult(fmt.Errorf("writing post-commit hook: %w", err))
	}
	return jsonResult(map[string]string{"installed": hookPath})
}

func (s *Server) adminRemoveHooks(ctx context.Context, raw json.RawMessage) Result {
	hookPath := filepath.Join(s.cfg.ProjectRoot, ".git", "hooks", "post-commit")
	existing, err := os.ReadFile(hookPath)
	if os.IsNotExist(err) {
		return textResult("no post-commit hook installed")
	}
	if err != nil {
		return errorResult(err)
	}
	if !strings.Contains(string(existing), "engramd post-commit hook") {
		return errorResult(apperr.Conflict("post-commit hook at %s was not installed by engramd", hookPath))
	}
	if err := os.Remove(hookPath); err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]string{"removed": hookPath})
}

type reportArgs struct {
	Limit int `json:"limit,omitempty"`
}

// adminGenerateReport assembles a project-memory digest: recent
// sessions, milestones, active decisions, and the most-churned files.
func (s *Server) adminGenerateReport(ctx context.Context, raw json.RawMessage) Result {
	var args reportArgs
	if err := decodeParams(raw, &args); err != nil {
		return errorResult(err)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}

	out := map[string]any{}
	if sessions, err := s.db.Sessions().List(ctx, limit, 0, ""); err == nil {
		out["recent_sessions"] = sessions
	}
	if milestones, err := s.db.Milestones().GetFiltered(ctx, limit); err == nil {
		out["milestones"] = milestones
	}
	if decisions, err := s.db.Decisions().GetFiltered(ctx, sqlite.DecisionFilter{Status: types.DecisionActive, Limit: limit}); err == nil {
		out["active_decisions"] = decisions
	}
	if churn, err := s.db.Changes().GetMostChanged(ctx, limit); err == nil {
		out["most_changed_files"] = churn
	}
	if stats, err := s.db.Stats(ctx); err == nil {
		out["totals"] = stats
	}
	return jsonResult(out)
}

// adminGlobalKnowledge returns the durable, session-independent layer
// of memory: enforced conventions, active decisions, and milestones.
func (s *Server) adminGlobalKnowledge(ctx context.Context, raw json.RawMessage) Result {
	out := map[string]any{}
	if conventions, err := s.db.Conventions().GetFiltered(ctx, "", false, 100); err == nil {
		out["conventions"] = conventions
	}
	if decisions, err := s.db.Decisions().GetFiltered(ctx, sqlite.DecisionFilter{Status: types.DecisionActive, Limit: 100}); err == nil {
		out["decisions"] = decisions
	}
	if milestones, err := s.db.Milestones().GetFiltered(ctx, 100); err == nil {
		out["milestones"] = milestones
	}
	return jsonResult(out)
}
