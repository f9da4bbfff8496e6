package degraded

import (
	"testing"
	"time"
)

// TestErrorRate_Empty verifies that ErrorRate returns (0, 0) when no
// events have been recorded within the time window.
func TestErrorRate_Empty(t *testing.T) {
	Reset()
	errors, total := ErrorRate(1 * time.Minute)
	if errors != 0 || total != 0 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 0)", errors, total)
	}
}

// TestRecordSuccess_AndError_ErrorRate verifies that RecordSuccess and RecordError
// correctly track events and ErrorRate returns accurate counts.
func TestRecordSuccess_AndError_ErrorRate(t *testing.T) {
	Reset()
	RecordSuccess()
	RecordSuccess()
	RecordError()
	errors, total := ErrorRate(1 * time.Minute)
	if errors != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errors, total)
	}
}

// TestErrorRate_ExpiresOutsideWindow verifies that ErrorRate excludes events
// that occurred outside the specified time window.
func TestErrorRate_ExpiresOutsideWindow(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return now }
	tr.RecordError()
	tr.RecordSuccess()

	now = now.Add(10 * time.Minute)
	tr.RecordSuccess()

	errors, total := tr.ErrorRate(5 * time.Minute)
	if errors != 0 || total != 1 {
		t.Errorf("ErrorRate(5m) = (%d, %d), want (0, 1)", errors, total)
	}
}

func TestPrune_DropsOldOutcomes(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return now }
	tr.RecordError()
	now = now.Add(2 * maxAge)
	tr.RecordSuccess()

	if len(tr.errorTimes) != 0 {
		t.Errorf("errorTimes len = %d, want 0 after prune", len(tr.errorTimes))
	}
}

func TestIsDegraded(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		errors    int
		threshold int
		want      bool
	}{
		{"no outcomes", 0, 0, 50, false},
		{"below threshold", 3, 1, 50, false},
		{"at threshold", 2, 2, 50, true},
		{"all failing", 0, 5, 50, true},
		{"threshold disabled", 0, 5, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			for i := 0; i < tt.successes; i++ {
				tr.RecordSuccess()
			}
			for i := 0; i < tt.errors; i++ {
				tr.RecordError()
			}
			if got := tr.IsDegraded(time.Minute, tt.threshold); got != tt.want {
				t.Errorf("IsDegraded() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestReset verifies that Reset clears all recorded error and success events,
// resetting error rate tracking to zero.
func TestReset(t *testing.T) {
	Reset()
	RecordError()
	RecordSuccess()
	Reset()
	errors, total := ErrorRate(1 * time.Minute)
	if errors != 0 || total != 0 {
		t.Errorf("After Reset, ErrorRate() = (%d, %d), want (0, 0)", errors, total)
	}
}
