package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/metar-led-map/internal/models"
)

var t0 = time.Date(2026, 10, 17, 18, 0, 0, 0, time.UTC)

func obsAt(station, cat string, at time.Time) models.Observation {
	return models.Observation{Station: station, Category: cat, ObservedAt: at}
}

// TestWeatherCache_Apply_MonotonicFreshness verifies an older observation never
// replaces a newer cached one, while equal or newer timestamps do.
func TestWeatherCache_Apply_MonotonicFreshness(t *testing.T) {
	c := NewWeatherCache()

	if !c.Apply(obsAt("KSEA", "VFR", t0)) {
		t.Fatal("Apply() into empty cache = false, want true")
	}
	if c.Apply(obsAt("KSEA", "IFR", t0.Add(-time.Hour))) {
		t.Error("Apply(older) = true, want false")
	}
	if got, _ := c.Get("KSEA"); got.Category != "VFR" {
		t.Errorf("after older apply category = %q, want VFR", got.Category)
	}

	if !c.Apply(obsAt("KSEA", "MVFR", t0)) {
		t.Error("Apply(same timestamp) = false, want true")
	}
	if !c.Apply(obsAt("KSEA", "LIFR", t0.Add(time.Hour))) {
		t.Error("Apply(newer) = false, want true")
	}
	if got, _ := c.Get("KSEA"); got.Category != "LIFR" {
		t.Errorf("category = %q, want LIFR", got.Category)
	}
}

func TestWeatherCache_Get_Miss(t *testing.T) {
	c := NewWeatherCache()
	if _, ok := c.Get("KSEA"); ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

func TestWeatherCache_SnapshotIsCopy(t *testing.T) {
	c := NewWeatherCache()
	c.Apply(obsAt("KSEA", "VFR", t0))

	snap := c.Snapshot()
	snap["KSEA"] = obsAt("KSEA", "IFR", t0.Add(time.Hour))
	delete(snap, "KSEA")

	if got, ok := c.Get("KSEA"); !ok || got.Category != "VFR" {
		t.Errorf("cache mutated through snapshot: %+v, %v", got, ok)
	}
}

func TestWeatherCache_LoadAndRetain(t *testing.T) {
	c := NewWeatherCache()
	c.Load(map[string]models.Observation{
		"KSEA": obsAt("KSEA", "VFR", t0),
		"KBFI": obsAt("KBFI", "IFR", t0),
		"KOLD": obsAt("KOLD", "LIFR", t0),
	})
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}

	if removed := c.Retain([]string{"KSEA", "KBFI", "KNEW"}); removed != 1 {
		t.Errorf("Retain() removed = %d, want 1", removed)
	}
	if _, ok := c.Get("KOLD"); ok {
		t.Error("KOLD should have been dropped")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestWeatherCache_ConcurrentAccess(t *testing.T) {
	c := NewWeatherCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Apply(obsAt("KSEA", "VFR", t0.Add(time.Duration(i)*time.Minute)))
		}(i)
		go func() {
			defer wg.Done()
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	got, _ := c.Get("KSEA")
	if !got.ObservedAt.Equal(t0.Add(7 * time.Minute)) {
		t.Errorf("ObservedAt = %v, want newest", got.ObservedAt)
	}
}
