// Package schedule holds the scheduler's time handling: trigger-value
// parsing (ISO-8601 or natural language) and the best-effort filesystem
// nudge that lets a long-lived process notice expired datetime events
// between requests.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseTriggerValue normalizes a datetime trigger value: an ISO-8601
// string passes through re-formatted, anything else goes through the
// natural-language parser ("tomorrow 9am", "in 2 hours"). The returned
// value is always RFC3339 in UTC so string comparison orders correctly.
func ParseTriggerValue(value string, now time.Time) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("datetime trigger requires a trigger_value")
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
	}

	r, err := parser.Parse(value, now)
	if err != nil {
		return "", fmt.Errorf("parsing trigger datetime %q: %w", value, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized trigger datetime %q", value)
	}
	return r.Time.UTC().Format(time.RFC3339), nil
}
