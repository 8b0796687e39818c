package dispatch

import (
	"context"
	"log/slog"

	"github.com/keggan-std/engramd/internal/config"
	"github.com/keggan-std/engramd/internal/maintenance"
	"github.com/keggan-std/engramd/internal/pressure"
	"github.com/keggan-std/engramd/internal/storage/sqlite"
)

// Server owns the process-wide state: the database handle, the resolved
// configuration, and the current session id. All of it is threaded
// explicitly into handlers rather than living in package globals.
type Server struct {
	db       *sqlite.DB
	cfg      *config.Config
	log      *slog.Logger
	engine   *maintenance.Engine
	detector *pressure.Detector
	version  string

	// currentSessionID is the one open session this process attributes
	// writes to. The database enforces at-most-one-open globally; this
	// field just avoids a query per write.
	currentSessionID string
}

// NewServer wires a server over an already-open, already-migrated
// database.
func NewServer(db *sqlite.DB, cfg *config.Config, log *slog.Logger, version string) *Server {
	s := &Server{
		db:       db,
		cfg:      cfg,
		log:      log,
		engine:   maintenance.New(db, cfg.BackupDir()),
		detector: pressure.New(db),
		version:  version,
	}
	return s
}

// DB exposes the database handle for the CLI's pretty-printing paths.
func (s *Server) DB() *sqlite.DB { return s.db }

// sessionID returns the session to attribute a write to: the cached
// current session, refreshed from the database if another process (or
// an earlier run) left one open.
func (s *Server) sessionID(ctx context.Context) string {
	if s.currentSessionID != "" {
		return s.currentSessionID
	}
	id, err := s.db.Sessions().GetOpenSessionID(ctx)
	if err == nil && id != "" {
		s.currentSessionID = id
	}
	return s.currentSessionID
}
