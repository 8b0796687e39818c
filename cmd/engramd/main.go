// Command engramd is the per-project persistent memory server. It owns
// one SQLite file under <project_root>/.engram and answers the memory
// and admin dispatcher calls plus the session lifecycle calls over
// line-delimited JSON on stdio.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/keggan-std/engramd/internal/config"
	"github.com/keggan-std/engramd/internal/dispatch"
	"github.com/keggan-std/engramd/internal/logging"
	"github.com/keggan-std/engramd/internal/schedule"
	"github.com/keggan-std/engramd/internal/storage/sqlite"
)

// Version is stamped by the release build; dev builds carry the default.
var Version = "0.1.0"

var (
	flagProjectRoot string
	flagIDE         string
	flagMode        string
)

func main() {
	root := &cobra.Command{
		Use:           "engramd",
		Short:         "per-project persistent memory server for AI coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	root.PersistentFlags().StringVar(&flagProjectRoot, "project-root", "", "project root directory (required for serve)")
	root.PersistentFlags().StringVar(&flagIDE, "ide", "", "IDE shard key; uses memory-<key>.db")
	root.PersistentFlags().StringVar(&flagMode, "mode", "", "startup mode marker (no behavioral effect)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "run the memory server on stdio",
			RunE:  func(cmd *cobra.Command, args []string) error { return runServe() },
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "apply pending schema migrations and exit",
			RunE:  func(cmd *cobra.Command, args []string) error { return runMigrate() },
		},
		&cobra.Command{
			Use:   "stats",
			Short: "print per-table row counts",
			RunE:  func(cmd *cobra.Command, args []string) error { return runAdminPretty("stats") },
		},
		&cobra.Command{
			Use:   "health",
			Short: "run an integrity check and report version skew",
			RunE:  func(cmd *cobra.Command, args []string) error { return runAdminPretty("health") },
		},
		&cobra.Command{
			Use:   "version",
			Short: "print the engramd version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println("engramd", Version)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "engramd:", err)
		os.Exit(1)
	}
}

// openServer resolves config, takes the per-shard process lock, opens
// the database (running migrations), and wires the dispatcher. Fatal
// errors here exit 1; request handlers never do.
func openServer(ctx context.Context) (*dispatch.Server, *flock.Flock, error) {
	cfg, err := config.Load(flagProjectRoot, flagIDE, flagMode)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving configuration: %w", err)
	}
	log := logging.New(cfg.ProjectRoot)

	// One engramd per shard: two processes racing migrations on the
	// same file is the only startup hazard WAL doesn't already cover.
	if err := os.MkdirAll(cfg.EngramDir(), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", cfg.EngramDir(), err)
	}
	lockName := "engramd.lock"
	if cfg.IDE != "" {
		lockName = "engramd-" + cfg.IDE + ".lock"
	}
	lock := flock.New(filepath.Join(cfg.EngramDir(), lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, nil, fmt.Errorf("acquiring process lock: %w", err)
	}
	if !locked {
		return nil, nil, fmt.Errorf("another engramd is already serving this shard (lock %s held)", lock.Path())
	}

	db, err := sqlite.Open(ctx, cfg.DBPath())
	if err != nil {
		lock.Unlock()
		return nil, nil, err
	}
	return dispatch.NewServer(db, cfg, log, Version), lock, nil
}

// request is one line of the stdio protocol.
type request struct {
	ID     any             `json:"id,omitempty"`
	Tool   string          `json:"tool"`
	Action string          `json:"action,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     any             `json:"id,omitempty"`
	Result dispatch.Result `json:"result"`
}

func runServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, lock, err := openServer(ctx)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	defer server.DB().Close()

	// Best-effort wakeups for datetime triggers while idle.
	nudger := schedule.NewNudger(filepath.Dir(server.DB().Path()), time.Minute, func() {
		sweepCtx, sweepCancel := context.WithTimeout(ctx, 10*time.Second)
		defer sweepCancel()
		server.Memory(sweepCtx, "check_events", nil)
	})
	go nudger.Run(ctx)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = encoder.Encode(response{Result: dispatch.ErrorText(fmt.Sprintf("invalid request: %v", err))})
			continue
		}
		result := dispatchOne(ctx, server, req)
		if err := encoder.Encode(response{ID: req.ID, Result: result}); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	return scanner.Err()
}

func dispatchOne(ctx context.Context, server *dispatch.Server, req request) dispatch.Result {
	switch req.Tool {
	case "memory":
		return server.Memory(ctx, req.Action, req.Params)
	case "admin":
		return server.Admin(ctx, req.Action, req.Params)
	case "start_session":
		return server.StartSession(ctx, req.Params)
	case "end_session":
		return server.EndSession(ctx, req.Params)
	case "get_session_history":
		return server.GetSessionHistory(ctx, req.Params)
	default:
		return dispatch.ErrorText(fmt.Sprintf("Unknown tool: %s", req.Tool))
	}
}

func runMigrate() error {
	ctx := context.Background()
	server, lock, err := openServer(ctx)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	defer server.DB().Close()
	// Open already ran migrations; reaching here means they applied.
	fmt.Printf("schema at v%d\n", sqlite.LatestVersion())
	return nil
}

func runAdminPretty(action string) error {
	ctx := context.Background()
	server, lock, err := openServer(ctx)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	defer server.DB().Close()

	result := server.Admin(ctx, action, nil)
	return renderResult(os.Stdout, result)
}
