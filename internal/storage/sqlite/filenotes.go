package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/keggan-std/engramd/internal/types"
)

// FileNotes is the repository for per-file metadata, keyed by path.
// Upserts use SQL COALESCE semantics: a null input field preserves the
// prior stored value rather than overwriting it. The merge stays in
// SQL so concurrent writers can't lose each other's fields.
type FileNotes struct{ db *DB }

func (d *DB) FileNotes() *FileNotes { return &FileNotes{db: d} }

// FileNotePatch carries optional fields; nil means "leave unchanged".
type FileNotePatch struct {
	Purpose          *string
	Dependencies     []string
	HasDependencies  bool
	Dependents       []string
	HasDependents    bool
	Layer            *string
	Notes            *string
	Complexity       *string
	FileMtime        *int64
	ContentHash      *string
	GitBranch        *string
	ExecutiveSummary *string
}

// Upsert applies patch to the file_notes row for path, creating it if
// absent, inside one transaction.
func (r *FileNotes) Upsert(ctx context.Context, path, sessionID string, patch FileNotePatch) (*types.FileNote, error) {
	var out *types.FileNote
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		n, err := upsertFileNoteTx(ctx, tx, path, sessionID, patch)
		if err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

// UpsertBatch applies a patch per path atomically in a single transaction.
func (r *FileNotes) UpsertBatch(ctx context.Context, sessionID string, patches map[string]FileNotePatch) ([]*types.FileNote, error) {
	var out []*types.FileNote
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for path, patch := range patches {
			n, err := upsertFileNoteTx(ctx, tx, path, sessionID, patch)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

func upsertFileNoteTx(ctx context.Context, tx *sql.Tx, path, sessionID string, patch FileNotePatch) (*types.FileNote, error) {
	path = normalizePath(path)
	ts := nowISO()

	var dependencies, dependents any
	if patch.HasDependencies {
		dependencies = encodeArray(patch.Dependencies)
	}
	if patch.HasDependents {
		dependents = encodeArray(patch.Dependents)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO file_notes (file_path, purpose, dependencies, dependents, layer, last_reviewed,
			last_modified_session, notes, complexity, file_mtime, content_hash, git_branch, executive_summary)
		 VALUES (?, ?, COALESCE(?, '[]'), COALESCE(?, '[]'), ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(file_path) DO UPDATE SET
			purpose = COALESCE(excluded.purpose, file_notes.purpose),
			dependencies = COALESCE(?, file_notes.dependencies),
			dependents = COALESCE(?, file_notes.dependents),
			layer = COALESCE(excluded.layer, file_notes.layer),
			last_reviewed = excluded.last_reviewed,
			last_modified_session = COALESCE(excluded.last_modified_session, file_notes.last_modified_session),
			notes = COALESCE(excluded.notes, file_notes.notes),
			complexity = COALESCE(excluded.complexity, file_notes.complexity),
			file_mtime = COALESCE(excluded.file_mtime, file_notes.file_mtime),
			content_hash = COALESCE(excluded.content_hash, file_notes.content_hash),
			git_branch = COALESCE(excluded.git_branch, file_notes.git_branch),
			executive_summary = COALESCE(excluded.executive_summary, file_notes.executive_summary)`,
		path, patch.Purpose, dependencies, dependents, patch.Layer, ts,
		nullIfEmpty(sessionID), patch.Notes, patch.Complexity, patch.FileMtime, patch.ContentHash, patch.GitBranch, patch.ExecutiveSummary,
		dependencies, dependents,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting file note %s: %w", path, err)
	}
	return getFileNoteTx(ctx, tx, path)
}

func getFileNoteTx(ctx context.Context, tx *sql.Tx, path string) (*types.FileNote, error) {
	row := tx.QueryRowContext(ctx, fileNoteSelectQuery+` WHERE file_path = ?`, path)
	return scanFileNote(row)
}

const fileNoteSelectQuery = `SELECT file_path, purpose, dependencies, dependents, layer, last_reviewed,
	last_modified_session, notes, complexity, file_mtime, content_hash, git_branch, executive_summary FROM file_notes`

// Get returns a file note enriched with staleness, comparing the
// stored mtime/hash against the file's current state relative to
// projectRoot. Returns nil if no note is stored for path.
func (r *FileNotes) Get(ctx context.Context, projectRoot, path string) (*types.FileNote, error) {
	row := r.db.sql.QueryRowContext(ctx, fileNoteSelectQuery+` WHERE file_path = ?`, normalizePath(path))
	n, err := scanFileNote(row)
	if err != nil || n == nil {
		return n, err
	}
	enrichStaleness(n, projectRoot, currentGitBranch(projectRoot))
	return n, nil
}

// enrichStaleness computes Confidence/StalenessHours/BranchWarning per
// the staleness enrichment rules. It never writes back to storage;
// staleness is a derived value, computed fresh on every read.
func enrichStaleness(n *types.FileNote, projectRoot, currentBranch string) {
	fullPath := filepath.Join(projectRoot, n.FilePath)
	info, err := os.Stat(fullPath)
	if err != nil {
		n.Confidence = types.StalenessUnknown
		return
	}
	if n.FileMtime == nil {
		n.Confidence = types.StalenessUnknown
	} else {
		currentMtime := info.ModTime().UTC().UnixMilli()
		stored := *n.FileMtime
		switch {
		case currentMtime <= stored:
			if n.ContentHash != nil {
				hash, hashErr := hashFile(fullPath)
				if hashErr == nil && hash != *n.ContentHash {
					n.Confidence = types.StalenessStale
					n.StalenessHours = 0
				} else {
					n.Confidence = types.StalenessHigh
				}
			} else {
				n.Confidence = types.StalenessHigh
			}
		default:
			driftHours := float64(currentMtime-stored) / (1000 * 60 * 60)
			n.StalenessHours = driftHours
			if driftHours > 24 {
				n.Confidence = types.StalenessStale
			} else {
				n.Confidence = types.StalenessMedium
			}
		}
	}

	if n.GitBranch != nil && currentBranch != "" && *n.GitBranch != currentBranch {
		n.BranchWarning = fmt.Sprintf("note recorded on branch %q, currently on %q", *n.GitBranch, currentBranch)
	}
}

func hashFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return contentHashOf(b), nil
}

// HashFileContents exposes the staleness content hash to the dispatch
// layer, which records it at note-write time.
func HashFileContents(path string) (string, error) { return hashFile(path) }

// CurrentGitBranch exposes the best-effort branch probe.
func CurrentGitBranch(projectRoot string) string { return currentGitBranch(projectRoot) }

// NewKnowledgeID mints an id for knowledge notes stored under the
// synthetic knowledge/ path namespace.
func NewKnowledgeID() string { return uuid.NewString() }

// DependencyMap folds every file note's dependencies and dependents
// into a single adjacency view keyed by path.
func (r *FileNotes) DependencyMap(ctx context.Context) (map[string]map[string][]string, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		`SELECT file_path, dependencies, dependents FROM file_notes
		 WHERE dependencies != '[]' OR dependents != '[]'`)
	if err != nil {
		return nil, fmt.Errorf("reading dependency map: %w", err)
	}
	defer rows.Close()

	out := map[string]map[string][]string{}
	for rows.Next() {
		var path, deps, dependents string
		if err := rows.Scan(&path, &deps, &dependents); err != nil {
			return nil, fmt.Errorf("scanning dependency row: %w", err)
		}
		entry := map[string][]string{}
		if d := decodeArray(deps); d != nil {
			entry["dependencies"] = d
		}
		if d := decodeArray(dependents); d != nil {
			entry["dependents"] = d
		}
		if len(entry) > 0 {
			out[path] = entry
		}
	}
	return out, rows.Err()
}

// currentGitBranch best-effort reads the checked-out branch name. It
// never errors the caller; an empty string disables the branch check.
func currentGitBranch(projectRoot string) string {
	head, err := os.ReadFile(filepath.Join(projectRoot, ".git", "HEAD"))
	if err != nil {
		return ""
	}
	const prefix = "ref: refs/heads/"
	s := string(head)
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		end := len(s)
		for i := len(prefix); i < len(s); i++ {
			if s[i] == '\n' {
				end = i
				break
			}
		}
		return s[len(prefix):end]
	}
	return ""
}

func scanFileNote(row rowScanner) (*types.FileNote, error) {
	var n types.FileNote
	var purpose, layer, lastModSession, notes, complexity, contentHash, gitBranch, execSummary sql.NullString
	var fileMtime sql.NullInt64
	var dependencies, dependents string
	err := row.Scan(&n.FilePath, &purpose, &dependencies, &dependents, &layer, &n.LastReviewed,
		&lastModSession, &notes, &complexity, &fileMtime, &contentHash, &gitBranch, &execSummary)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning file note: %w", err)
	}
	n.Purpose = ptrOrNil(purpose)
	n.Dependencies = decodeArray(dependencies)
	n.Dependents = decodeArray(dependents)
	n.Layer = ptrOrNil(layer)
	n.LastModifiedSession = ptrOrNil(lastModSession)
	n.Notes = ptrOrNil(notes)
	n.Complexity = ptrOrNil(complexity)
	n.FileMtime = int64PtrOrNil(fileMtime)
	n.ContentHash = ptrOrNil(contentHash)
	n.GitBranch = ptrOrNil(gitBranch)
	n.ExecutiveSummary = ptrOrNil(execSummary)
	return &n, nil
}
