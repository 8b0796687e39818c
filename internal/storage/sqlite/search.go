package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/keggan-std/engramd/internal/apperr"
	"github.com/keggan-std/engramd/internal/types"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Search implements ranked full-text search across the indexed scopes.
// When the FTS virtual tables exist, each scope runs its own rank-ordered
// query and the pools merge; when they don't (a database restored from a
// build without fts5), the fallback is a LIKE scan with fuzzy ordering.
type Search struct{ db *DB }

func (d *DB) Search() *Search { return &Search{db: d} }

// SearchScopes is the set of searchable entity kinds.
var SearchScopes = []string{"sessions", "changes", "decisions", "conventions", "tasks", "file_notes"}

// SearchParams narrows a search call.
type SearchParams struct {
	Query        string
	Scopes       []string
	Limit        int
	ContextChars int
	ProjectRoot  string
}

// SearchHit is one ranked row in the merged pool.
type SearchHit struct {
	Source  string         `json:"source"`
	Rank    float64        `json:"rank"`
	Row     map[string]any `json:"row"`
	Snippet string         `json:"snippet,omitempty"`
}

// scopeSpec describes how to search one entity table: the FTS shadow
// table and its match columns, the LIKE fallback columns, the canonical
// text columns used for snippets, and the default fallback ordering.
type scopeSpec struct {
	table        string
	fts          string
	selectCols   string
	likeCols     []string
	snippetCols  []string
	fallbackSort string
}

var scopeSpecs = map[string]scopeSpec{
	"sessions": {
		table: "sessions", fts: "sessions_fts",
		selectCols:   "id, started_at, ended_at, summary, agent_name, tags",
		likeCols:     []string{"summary", "agent_name"},
		snippetCols:  []string{"summary"},
		fallbackSort: "rowid DESC",
	},
	"changes": {
		table: "changes", fts: "changes_fts",
		selectCols:   "id, session_id, timestamp, file_path, change_type, description, impact_scope",
		likeCols:     []string{"file_path", "description"},
		snippetCols:  []string{"file_path", "description"},
		fallbackSort: "timestamp DESC",
	},
	"decisions": {
		table: "decisions", fts: "decisions_fts",
		selectCols:   "id, session_id, timestamp, decision, rationale, status",
		likeCols:     []string{"decision", "rationale"},
		snippetCols:  []string{"decision", "rationale"},
		fallbackSort: "timestamp DESC",
	},
	"conventions": {
		table: "conventions", fts: "conventions_fts",
		selectCols:   "id, timestamp, category, rule, enforced",
		likeCols:     []string{"rule", "category"},
		snippetCols:  []string{"rule"},
		fallbackSort: "timestamp DESC",
	},
	"tasks": {
		table: "tasks", fts: "tasks_fts",
		selectCols:   "id, created_at, title, description, status, priority",
		likeCols:     []string{"title", "description"},
		snippetCols:  []string{"title", "description"},
		fallbackSort: "created_at DESC",
	},
	"file_notes": {
		table: "file_notes", fts: "file_notes_fts",
		selectCols:   "file_path, purpose, layer, notes, complexity, file_mtime, content_hash, git_branch",
		likeCols:     []string{"file_path", "purpose", "notes"},
		snippetCols:  []string{"purpose", "notes"},
		fallbackSort: "last_reviewed DESC",
	},
}

// escapeFTSQuery splits the query on whitespace and quotes each token,
// which neutralizes the fts5 query grammar (NEAR, AND, column filters)
// so user text can never inject operators.
func escapeFTSQuery(q string) string {
	fields := strings.Fields(q)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// Run executes the search algorithm: per-scope rank-ordered FTS queries
// merged into one pool, top limit kept, grouped by source table.
func (s *Search) Run(ctx context.Context, p SearchParams) (map[string][]*SearchHit, error) {
	if strings.TrimSpace(p.Query) == "" {
		return nil, apperr.Validation("search query must not be empty")
	}
	limit := clampLimit(p.Limit, 20)
	scopes := p.Scopes
	if len(scopes) == 0 {
		scopes = SearchScopes
	}

	hasFTS, err := s.hasFTS(ctx)
	if err != nil {
		return nil, err
	}

	var pool []*SearchHit
	for _, scope := range scopes {
		spec, ok := scopeSpecs[scope]
		if !ok {
			return nil, apperr.Validation("unknown search scope %q", scope)
		}
		var hits []*SearchHit
		if hasFTS {
			hits, err = s.searchFTS(ctx, spec, p.Query, limit)
		} else {
			hits, err = s.searchLike(ctx, spec, p.Query, limit)
		}
		if err != nil {
			return nil, err
		}
		pool = append(pool, hits...)
	}

	// Merged pool: rank ascending, more negative is better.
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Rank < pool[j].Rank })
	if len(pool) > limit {
		pool = pool[:limit]
	}

	grouped := map[string][]*SearchHit{}
	for _, h := range pool {
		if p.ContextChars > 0 {
			h.Snippet = buildSnippet(h, p.ContextChars)
		}
		if h.Source == "file_notes" && p.ProjectRoot != "" {
			enrichHitStaleness(h, p.ProjectRoot)
		}
		grouped[h.Source] = append(grouped[h.Source], h)
	}
	return grouped, nil
}

func (s *Search) hasFTS(ctx context.Context) (bool, error) {
	var n int
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='sessions_fts'`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("probing for FTS tables: %w", err)
	}
	return n > 0, nil
}

func (s *Search) searchFTS(ctx context.Context, spec scopeSpec, query string, limit int) ([]*SearchHit, error) {
	ftsLimit := 2 * limit
	if ftsLimit > 100 {
		ftsLimit = 100
	}
	q := fmt.Sprintf(
		`SELECT %s, %s.rank AS rank FROM %s JOIN %s t ON t.rowid = %s.rowid WHERE %s MATCH ? ORDER BY %s.rank ASC LIMIT ?`,
		prefixCols(spec.selectCols, "t"), spec.fts, spec.fts, spec.table, spec.fts, spec.fts, spec.fts)
	rows, err := s.db.sql.QueryContext(ctx, q, escapeFTSQuery(query), ftsLimit)
	if err != nil {
		return nil, fmt.Errorf("FTS query on %s: %w", spec.table, err)
	}
	defer rows.Close()
	return scanHits(rows, spec.table)
}

// searchLike is the fallback for databases without fts5: LIKE '%q%'
// across the scope's indexed columns. Rows are rank-scored with a fuzzy
// match against their snippet text so the merged pool still has a
// meaningful order; an unmatchable row keeps rank 0.
func (s *Search) searchLike(ctx context.Context, spec scopeSpec, query string, limit int) ([]*SearchHit, error) {
	conds := make([]string, 0, len(spec.likeCols))
	args := make([]any, 0, len(spec.likeCols)+1)
	for _, c := range spec.likeCols {
		conds = append(conds, c+` LIKE ?`)
		args = append(args, "%"+query+"%")
	}
	q := fmt.Sprintf(`SELECT %s, 0.0 AS rank FROM %s WHERE %s ORDER BY %s LIMIT ?`,
		spec.selectCols, spec.table, strings.Join(conds, " OR "), spec.fallbackSort)
	args = append(args, limit)

	rows, err := s.db.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("LIKE fallback on %s: %w", spec.table, err)
	}
	defer rows.Close()
	hits, err := scanHits(rows, spec.table)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		text := snippetText(h, spec)
		if d := fuzzy.RankMatchNormalizedFold(query, text); d >= 0 {
			h.Rank = float64(d) - 1000 // matched rows sort ahead of rank-0 leftovers
		}
	}
	return hits, nil
}

func prefixCols(cols, alias string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanHits(rows interface {
	Next() bool
	Scan(...any) error
	Columns() ([]string, error)
	Err() error
}, source string) ([]*SearchHit, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []*SearchHit
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s search hit: %w", source, err)
		}
		hit := &SearchHit{Source: source, Row: map[string]any{}}
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			if c == "rank" {
				if f, ok := v.(float64); ok {
					hit.Rank = f
				}
				continue
			}
			hit.Row[c] = v
		}
		out = append(out, hit)
	}
	return out, rows.Err()
}

// buildSnippet composes the scope's canonical textual columns into a
// single string truncated at contextChars.
func buildSnippet(h *SearchHit, contextChars int) string {
	spec := scopeSpecs[h.Source]
	text := snippetText(h, spec)
	if len(text) > contextChars {
		text = text[:contextChars]
	}
	return text
}

func snippetText(h *SearchHit, spec scopeSpec) string {
	var parts []string
	for _, c := range spec.snippetCols {
		if v, ok := h.Row[c].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " | ")
}

// enrichHitStaleness attaches staleness fields to a file_notes hit by
// reusing the note enrichment path on a synthetic note row.
func enrichHitStaleness(h *SearchHit, projectRoot string) {
	path, _ := h.Row["file_path"].(string)
	if path == "" {
		return
	}
	n := noteFromHitRow(h.Row, path)
	enrichStaleness(n, projectRoot, currentGitBranch(projectRoot))
	h.Row["confidence"] = n.Confidence
	if n.StalenessHours > 0 {
		h.Row["staleness_hours"] = n.StalenessHours
	}
	if n.BranchWarning != "" {
		h.Row["branch_warning"] = n.BranchWarning
	}
}

// noteFromHitRow reconstructs just the staleness-relevant fields of a
// file note from a raw search row.
func noteFromHitRow(row map[string]any, path string) *types.FileNote {
	n := &types.FileNote{FilePath: path}
	if mt, ok := row["file_mtime"].(int64); ok {
		n.FileMtime = &mt
	}
	if h, ok := row["content_hash"].(string); ok && h != "" {
		n.ContentHash = &h
	}
	if b, ok := row["git_branch"].(string); ok && b != "" {
		n.GitBranch = &b
	}
	return n
}
