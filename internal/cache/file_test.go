package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kjstillabower/metar-led-map/internal/models"
)

func floatp(f float64) *float64 { return &f }

// TestFileStore_RoundTrip verifies that saving then loading reproduces the
// same station to observation mapping.
func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "latest_metars.json")
	s := NewFileStore(path, "MAP-0001")
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}

	want := map[string]models.Observation{
		"KSEA": {
			Station:    "KSEA",
			Category:   "VFR",
			ObservedAt: t0,
			FetchedAt:  t0.Add(time.Minute),
			Latitude:   floatp(47.449),
			Longitude:  floatp(-122.309),
			Raw:        "KSEA 171753Z 10SM FEW050",
		},
		"KBFI": {Station: "KBFI", Category: "IFR", ObservedAt: t0.Add(-30 * time.Minute)},
	}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Load() len = %d, want %d", len(got), len(want))
	}
	for id, w := range want {
		g, ok := got[id]
		if !ok {
			t.Fatalf("missing %s", id)
		}
		if g.Station != w.Station || g.Category != w.Category || g.Raw != w.Raw {
			t.Errorf("%s = %+v, want %+v", id, g, w)
		}
		if !g.ObservedAt.Equal(w.ObservedAt) || !g.FetchedAt.Equal(w.FetchedAt) {
			t.Errorf("%s timestamps = %v/%v, want %v/%v", id, g.ObservedAt, g.FetchedAt, w.ObservedAt, w.FetchedAt)
		}
		if (g.Latitude == nil) != (w.Latitude == nil) || (g.Latitude != nil && *g.Latitude != *w.Latitude) {
			t.Errorf("%s latitude = %v, want %v", id, g.Latitude, w.Latitude)
		}
	}
}

func TestFileStore_Load_Missing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "none.json"), "")
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load() len = %d, want 0", len(got))
	}
}

func TestFileStore_Load_Corrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"truncated", `{"version":1,"observations":{"KSEA":`},
		{"not json", "garbage"},
		{"wrong version", `{"version":99,"observations":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "latest_metars.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := NewFileStore(path, "").Load(context.Background())
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("Load() error = %v, want ErrCorrupt", err)
			}
		})
	}
}

// TestFileStore_Save_Replaces verifies a second save replaces the first and
// leaves no temp files behind.
func TestFileStore_Save_Replaces(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "latest_metars.json")
	s := NewFileStore(path, "")

	if err := s.Save(ctx, map[string]models.Observation{"KSEA": obsAt("KSEA", "VFR", t0)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, map[string]models.Observation{"KBFI": obsAt("KBFI", "IFR", t0)}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["KSEA"]; ok || len(got) != 1 {
		t.Errorf("Load() = %v, want only KBFI", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory entries = %v, want only the cache file", names)
	}
}

func TestFileStore_Save_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "latest_metars.json")
	if err := NewFileStore(path, "").Save(context.Background(), nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("cache file not created: %v", err)
	}
}
