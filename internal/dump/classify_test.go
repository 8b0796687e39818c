package dump

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		text string
		hint string
		want string
	}{
		{"decision", "We decided to use sqlite instead of postgres because it's embedded", "", TypeDecision},
		{"task", "TODO: need to add retry logic to the importer", "", TypeTask},
		{"convention", "Always name test files with a _test suffix in this repo", "", TypeConvention},
		{"finding", "Turns out the driver silently retries on SQLITE_BUSY, surprising", "", TypeFinding},
		{"zero score falls through", "lorem ipsum dolor sit amet", "", TypeFinding},
		{"hint breaks ties", "prefer rationale", "convention", TypeConvention},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.text, tc.hint)
			if got.Type != tc.want {
				t.Fatalf("Classify(%q) = %s (scores %v), want %s", tc.text, got.Type, got.Scores, tc.want)
			}
		})
	}
}

func TestConfidenceBands(t *testing.T) {
	low := Classify("lorem ipsum", "")
	if low.Confidence != ConfidenceLow {
		t.Fatalf("zero-score confidence = %s, want low", low.Confidence)
	}

	high := Classify("We decided to go with WAL, chose it over rollback journal, settled on it because of concurrency", "")
	if high.Type != TypeDecision {
		t.Fatalf("type = %s, want decision", high.Type)
	}
	if high.Confidence != ConfidenceHigh {
		t.Fatalf("stacked-keyword confidence = %s, want high", high.Confidence)
	}
}

func TestScoresExposed(t *testing.T) {
	r := Classify("We decided to use X. TODO: need to migrate callers.", "")
	if r.Scores[TypeDecision] == 0 || r.Scores[TypeTask] == 0 {
		t.Fatalf("expected both decision and task to score, got %v", r.Scores)
	}
}
