package schedule

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Nudger wakes a long-lived process so expired datetime triggers fire
// between requests instead of waiting for the next call. It combines a
// coarse ticker with a filesystem watch on the database directory
// (another process committing writes is a good moment to re-sweep).
// Strictly best-effort: correctness never depends on it, because every
// check_events and session start re-runs the sweep anyway.
type Nudger struct {
	interval time.Duration
	dir      string
	fire     func()
}

// NewNudger builds a nudger calling fire on every tick or watch event.
func NewNudger(dir string, interval time.Duration, fire func()) *Nudger {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Nudger{interval: interval, dir: dir, fire: fire}
}

// Run blocks until ctx is done. The watcher is optional: if the
// platform or directory refuses a watch, the ticker alone carries on.
func (n *Nudger) Run(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(n.dir); err == nil {
			events = watcher.Events
		}
		defer watcher.Close()
	}

	// Debounce watch events: WAL commits arrive in bursts.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.fire()
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if pending == nil {
				pending = time.After(2 * time.Second)
			}
		case <-pending:
			pending = nil
			n.fire()
		}
	}
}
