package sqlite

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// contentHashOf returns a stable hex digest of a file's contents, used
// to detect in-place edits that don't change mtime (e.g. touch -d).
func contentHashOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// newID returns a fresh random identifier. Entities are prefixed by kind
// so ids are recognizable in logs and responses without a join.
func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// nowISO returns the current time as an ISO-8601 string in UTC,
// the timestamp format used by every textual timestamp column.
func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// nowMS returns the current time as epoch milliseconds, the format used
// by columns documented "epoch-ms integer" in the data model.
func nowMS() int64 {
	return time.Now().UTC().UnixMilli()
}

// encodeArray JSON-encodes a string slice for storage in a TEXT column.
// A nil slice encodes as "[]" so every array column round-trips without
// a null special case.
func encodeArray(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeArray decodes a JSON array column back into a string slice.
// An empty or malformed value decodes to nil rather than erroring,
// since array columns are never load-bearing for control flow.
func decodeArray(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizePath canonicalizes a file path column per the data model:
// forward slashes, no leading "./", no trailing slash.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimSuffix(p, "/")
	return p
}

func isDuplicateColumnErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column")
}

// nullString converts an optional string pointer into a sql.NullString.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrOrNil(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func int64PtrOrNil(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}
