// Package led turns cached observations into LED frames and pushes them to hardware.
package led

import (
	"time"

	"github.com/kjstillabower/metar-led-map/internal/colors"
	"github.com/kjstillabower/metar-led-map/internal/flightcat"
	"github.com/kjstillabower/metar-led-map/internal/models"
)

// Frame is one color per physical LED, index 0 first.
type Frame []colors.Color

// NewFrame returns an all-off frame of n LEDs.
func NewFrame(n int) Frame {
	if n < 0 {
		n = 0
	}
	return make(Frame, n)
}

// Assignment is the resolved state of one airport for a single frame.
type Assignment struct {
	Airport     models.Airport
	Category    flightcat.Category
	Color       colors.Color
	Observation models.Observation
	Observed    bool
	Stale       bool
}

// Assign classifies and colors each airport. It has no side effects.
func Assign(airports []models.Airport, obs map[string]models.Observation, palette colors.Palette, isNight bool, now time.Time, staleAfter time.Duration) []Assignment {
	out := make([]Assignment, 0, len(airports))
	for _, a := range airports {
		if a.ID == "" {
			continue
		}
		o, ok := obs[a.ID]
		cat := flightcat.Classify(o, ok, now, staleAfter)
		out = append(out, Assignment{
			Airport:     a,
			Category:    cat,
			Color:       palette.ColorFor(cat, isNight),
			Observation: o,
			Observed:    ok,
			Stale:       ok && o.IsStale(now, staleAfter),
		})
	}
	return out
}

// Compose places assignments at their LED indices. Indices without an
// assignment, and assignments outside [0, numLEDs), are left off.
func Compose(numLEDs int, assignments []Assignment) Frame {
	frame := NewFrame(numLEDs)
	for _, a := range assignments {
		if a.Airport.LED < 0 || a.Airport.LED >= len(frame) {
			continue
		}
		frame[a.Airport.LED] = a.Color
	}
	return frame
}

// Render builds the frame for airports from the observation map.
// len(result) == numLEDs always.
func Render(numLEDs int, airports []models.Airport, obs map[string]models.Observation, palette colors.Palette, isNight bool, now time.Time, staleAfter time.Duration) Frame {
	return Compose(numLEDs, Assign(airports, obs, palette, isNight, now, staleAfter))
}
