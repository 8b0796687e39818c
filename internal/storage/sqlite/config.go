package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// ConfigRepo accesses the database-resident tunables table: auto_compact,
// compact_threshold, retention_days, max_backups, context_pressure_*_pct,
// context_window_size. Process-level startup flags live in internal/config
// instead.
type ConfigRepo struct{ db *DB }

func (d *DB) Config() *ConfigRepo { return &ConfigRepo{db: d} }

// Get returns a config value, or "" if unset.
func (r *ConfigRepo) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := r.db.sql.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// Set upserts a config value.
func (r *ConfigRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.sql.ExecContext(ctx,
		`INSERT INTO config(key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowISO(),
	)
	if err != nil {
		return fmt.Errorf("setting config %s: %w", key, err)
	}
	return nil
}

// GetInt returns a config value parsed as int, or def if unset/invalid.
func (r *ConfigRepo) GetInt(ctx context.Context, key string, def int) int {
	v, err := r.Get(ctx, key)
	if err != nil || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetBool returns a config value parsed as bool, or def if unset/invalid.
func (r *ConfigRepo) GetBool(ctx context.Context, key string, def bool) bool {
	v, err := r.Get(ctx, key)
	if err != nil || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetAll returns every config key/value pair.
func (r *ConfigRepo) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.sql.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("listing config: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
