package flightcat

import (
	"testing"
	"time"

	"github.com/kjstillabower/metar-led-map/internal/models"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestParse(t *testing.T) {
	tests := []struct {
		token string
		want  Category
	}{
		{"VFR", VFR},
		{"mvfr", MVFR},
		{" IFR ", IFR},
		{"LIFR", LIFR},
		{"", Unknown},
		{"UNK", Unknown},
		{"garbage", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			if got := Parse(tt.token); got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.token, got, tt.want)
			}
		})
	}
}

// TestClassify_MissingOrStaleIsUnknown verifies that a never-observed or stale
// observation is Unknown regardless of its raw token.
func TestClassify_MissingOrStaleIsUnknown(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	for _, token := range []string{"VFR", "MVFR", "IFR", "LIFR", ""} {
		obs := models.Observation{Station: "KXYZ", Category: token, ObservedAt: now.Add(-3 * time.Hour)}
		if got := Classify(obs, false, now, 2*time.Hour); got != Unknown {
			t.Errorf("missing %q: got %s, want UNKNOWN", token, got)
		}
		if got := Classify(obs, true, now, 2*time.Hour); got != Unknown {
			t.Errorf("stale %q: got %s, want UNKNOWN", token, got)
		}
	}
}

func TestClassify_Fresh(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	obs := models.Observation{Station: "KXYZ", Category: "IFR", ObservedAt: now.Add(-30 * time.Minute)}
	if got := Classify(obs, true, now, 2*time.Hour); got != IFR {
		t.Errorf("Classify() = %s, want IFR", got)
	}
	// Zero threshold disables staleness.
	old := models.Observation{Station: "KXYZ", Category: "VFR", ObservedAt: now.Add(-48 * time.Hour)}
	if got := Classify(old, true, now, 0); got != VFR {
		t.Errorf("Classify() with staleness disabled = %s, want VFR", got)
	}
}

func TestFromConditions(t *testing.T) {
	tests := []struct {
		name string
		ceil *int
		vis  *float64
		want Category
	}{
		{"clear and unrestricted", nil, nil, VFR},
		{"high ceiling good vis", intp(5000), floatp(10), VFR},
		{"ceiling 3000", intp(3000), floatp(10), MVFR},
		{"ceiling 1000", intp(1000), nil, MVFR},
		{"ceiling 999", intp(999), nil, IFR},
		{"ceiling 500", intp(500), nil, IFR},
		{"ceiling 499", intp(499), nil, LIFR},
		{"vis 5", nil, floatp(5), MVFR},
		{"vis 2.5", intp(8000), floatp(2.5), IFR},
		{"vis 0.5", nil, floatp(0.5), LIFR},
		{"worst of both", intp(2000), floatp(0.25), LIFR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromConditions(tt.ceil, tt.vis); got != tt.want {
				t.Errorf("FromConditions() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCeiling(t *testing.T) {
	layers := []CloudLayer{
		{Cover: "FEW", Base: intp(800)},
		{Cover: "SCT", Base: intp(1200)},
		{Cover: "BKN", Base: intp(2500)},
		{Cover: "OVC", Base: intp(1800)},
		{Cover: "CLR"},
	}
	got := Ceiling(layers)
	if got == nil || *got != 1800 {
		t.Fatalf("Ceiling() = %v, want 1800", got)
	}
	if Ceiling([]CloudLayer{{Cover: "FEW", Base: intp(300)}}) != nil {
		t.Error("Ceiling() with only FEW layers should be nil")
	}
}
