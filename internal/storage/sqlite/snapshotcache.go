package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/keggan-std/engramd/internal/types"
)

// SnapshotCache is a keyed, TTL-bounded JSON blob stored back in the
// database. All state lives in the database; there are no ambient
// in-process caches to invalidate.
type SnapshotCache struct{ db *DB }

func (d *DB) SnapshotCache() *SnapshotCache { return &SnapshotCache{db: d} }

// Set upserts a cache entry with the given TTL in minutes.
func (r *SnapshotCache) Set(ctx context.Context, key, value string, ttlMinutes int) error {
	_, err := r.db.sql.ExecContext(ctx,
		`INSERT INTO snapshot_cache(key, value, updated_at, ttl_minutes) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at, ttl_minutes = excluded.ttl_minutes`,
		key, value, nowISO(), ttlMinutes,
	)
	if err != nil {
		return fmt.Errorf("setting snapshot cache %s: %w", key, err)
	}
	return nil
}

// Get returns a cache entry if present and not expired according to its
// ttl_minutes, else nil.
func (r *SnapshotCache) Get(ctx context.Context, key string) (*types.SnapshotCache, error) {
	var sc types.SnapshotCache
	err := r.db.sql.QueryRowContext(ctx,
		`SELECT key, value, updated_at, ttl_minutes FROM snapshot_cache WHERE key = ?`, key,
	).Scan(&sc.Key, &sc.Value, &sc.UpdatedAt, &sc.TTLMinutes)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot cache %s: %w", key, err)
	}

	updated, err := time.Parse(time.RFC3339Nano, sc.UpdatedAt)
	if err == nil && time.Since(updated) > time.Duration(sc.TTLMinutes)*time.Minute {
		return nil, nil
	}
	return &sc, nil
}
