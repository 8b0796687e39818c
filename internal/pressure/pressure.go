// Package pressure implements the three-tier context usage estimator:
// agent-reported tokens when available, the byte accumulator otherwise,
// and nothing when neither signal exists. Severity bands come from the
// config table so operators can tune them without a rebuild.
package pressure

import (
	"context"
	"fmt"

	"github.com/keggan-std/engramd/internal/storage/sqlite"
)

// Severity levels, in escalation order.
const (
	SeverityNotice  = "notice"
	SeverityWarning = "warning"
	SeverityUrgent  = "urgent"
)

// Report is the detector's output when usage crosses the notice band.
type Report struct {
	Severity    string   `json:"severity"`
	PctUsed     float64  `json:"pct_used"`
	Source      string   `json:"source"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
}

// Detector reads severity bands from config and usage from session_bytes.
type Detector struct {
	config *sqlite.ConfigRepo
	bytes  *sqlite.SessionBytesRepo
}

// New builds a detector over the given database.
func New(db *sqlite.DB) *Detector {
	return &Detector{config: db.Config(), bytes: db.SessionBytesRepo()}
}

// Check computes pct_used with the most accurate available signal.
// reportedTokens > 0 is level 3 (agent-reported); otherwise the byte
// accumulator for sessionID is level 2; with neither, returns nil.
// A nil report also means usage is below the notice threshold.
func (d *Detector) Check(ctx context.Context, sessionID string, reportedTokens int64) (*Report, error) {
	windowTotal := d.config.GetInt(ctx, "context_window_size", 200000)
	if windowTotal <= 0 {
		return nil, nil
	}

	var pct float64
	var source string
	switch {
	case reportedTokens > 0:
		pct = float64(reportedTokens) / float64(windowTotal) * 100
		source = "agent_reported"
	default:
		if sessionID == "" {
			return nil, nil
		}
		sb, err := d.bytes.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sb == nil {
			return nil, nil
		}
		estimatedTokens := float64(sb.InputBytes+sb.OutputBytes) / 4
		pct = estimatedTokens / float64(windowTotal) * 100
		source = "byte_accumulator"
	}

	noticePct := d.config.GetInt(ctx, "context_pressure_notice_pct", 50)
	warningPct := d.config.GetInt(ctx, "context_pressure_warning_pct", 70)
	urgentPct := d.config.GetInt(ctx, "context_pressure_urgent_pct", 85)

	if pct < float64(noticePct) {
		return nil, nil
	}

	r := &Report{PctUsed: pct, Source: source}
	switch {
	case pct >= float64(urgentPct):
		r.Severity = SeverityUrgent
		r.Suggestions = []string{
			"checkpoint current understanding now",
			"end_session with a handoff summary and resume in a fresh session",
		}
	case pct >= float64(warningPct):
		r.Severity = SeverityWarning
		r.Suggestions = []string{
			"checkpoint current understanding",
			"prefer summary-mode reads over full listings",
		}
	default:
		r.Severity = SeverityNotice
		r.Suggestions = []string{"consider checkpointing before starting new work"}
	}
	r.Message = fmt.Sprintf("context window %.0f%% used (%s)", pct, source)
	return r, nil
}
