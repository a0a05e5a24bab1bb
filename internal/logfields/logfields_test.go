package logfields

import (
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"RunID", KeyRunID, "r1", RunID("r1")},
		{"Entry", KeyEntry, "images/a.jpg", Entry("images/a.jpg")},
		{"Source", KeySource, "images/originals/a.jpg", Source("images/originals/a.jpg")},
		{"Destination", KeyDestination, "images/wm/a.jpg", Destination("images/wm/a.jpg")},
		{"Strategy", KeyStrategy, "exact", Strategy("exact")},
		{"State", KeyState, "built", State("built")},
		{"Stage", KeyStage, "resolve", Stage("resolve")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"Trigger", KeyTrigger, "watch", Trigger("watch")},
		{"Schedule", KeySchedule, "0 * * * *", Schedule("0 * * * *")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

// TestNumericHelpers verifies keys for numeric & float helpers.
func TestNumericHelpers(t *testing.T) {
	if v := Workers(4); v.Key != KeyWorkers {
		t.Fatalf("Workers key mismatch: %s", v.Key)
	}
	if v := DurationMS(12.5); v.Key != KeyDurationMS {
		t.Fatalf("DurationMS key mismatch: %s", v.Key)
	}
	if v := Elapsed(1500 * time.Microsecond); v.Value.Float64() != 1.5 {
		t.Fatalf("Elapsed value mismatch: %v", v.Value)
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError {
		t.Fatalf("Error key mismatch: %s", attr.Key)
	}
	if attr.Value.String() != "" {
		t.Fatalf("Expected empty error string, got %s", attr.Value.String())
	}
	attr = Error(errTest{})
	if attr.Value.String() != "err-test" {
		t.Fatalf("Expected 'err-test', got %s", attr.Value.String())
	}
}

type errTest struct{}

func (e errTest) Error() string { return "err-test" }
