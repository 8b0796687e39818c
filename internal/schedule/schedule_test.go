package schedule

import (
	"testing"
	"time"
)

func TestParseTriggerValueISO(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		in   string
		want string
	}{
		{"2026-08-01T09:00:00Z", "2026-08-01T09:00:00Z"},
		{"2026-08-01T09:00:00+02:00", "2026-08-01T07:00:00Z"},
		{"2026-08-01", "2026-08-01T00:00:00Z"},
		{"2026-08-01 09:30", "2026-08-01T09:30:00Z"},
	}
	for _, tc := range cases {
		got, err := ParseTriggerValue(tc.in, now)
		if err != nil {
			t.Fatalf("ParseTriggerValue(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseTriggerValue(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseTriggerValueNaturalLanguage(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	got, err := ParseTriggerValue("tomorrow at 9am", now)
	if err != nil {
		t.Fatalf("parsing natural language: %v", err)
	}
	parsed, err := time.Parse(time.RFC3339, got)
	if err != nil {
		t.Fatalf("result %q is not RFC3339: %v", got, err)
	}
	if !parsed.After(now) {
		t.Fatalf("parsed time %s not after now", got)
	}
}

func TestParseTriggerValueRejectsGarbage(t *testing.T) {
	now := time.Now()
	if _, err := ParseTriggerValue("", now); err == nil {
		t.Fatal("empty value should error")
	}
	if _, err := ParseTriggerValue("xyzzy plugh", now); err == nil {
		t.Fatal("unparseable value should error")
	}
}
