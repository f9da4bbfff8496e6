// Package flightcat normalizes upstream weather data into the fixed flight-category taxonomy.
package flightcat

import (
	"strings"
	"time"

	"github.com/kjstillabower/metar-led-map/internal/models"
)

// Category is a coarse classification of flying conditions.
type Category string

const (
	VFR     Category = "VFR"
	MVFR    Category = "MVFR"
	IFR     Category = "IFR"
	LIFR    Category = "LIFR"
	Unknown Category = "UNKNOWN"
)

// All lists every category in display order, Unknown last.
var All = []Category{VFR, MVFR, IFR, LIFR, Unknown}

// Parse maps a raw token to a Category. Anything unrecognized is Unknown.
func Parse(token string) Category {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "VFR":
		return VFR
	case "MVFR":
		return MVFR
	case "IFR":
		return IFR
	case "LIFR":
		return LIFR
	default:
		return Unknown
	}
}

// Classify returns the category used for coloring. ok=false means the station
// has never been observed. Stale observations are Unknown whatever their token.
func Classify(obs models.Observation, ok bool, now time.Time, staleAfter time.Duration) Category {
	if !ok {
		return Unknown
	}
	if obs.IsStale(now, staleAfter) {
		return Unknown
	}
	return Parse(obs.Category)
}

// FromConditions derives a category from ceiling (feet AGL) and prevailing
// visibility (statute miles). A nil value means "not restricting".
func FromConditions(ceilingFt *int, visibilitySM *float64) Category {
	ceil := func(lt int) bool { return ceilingFt != nil && *ceilingFt < lt }
	vis := func(lt float64) bool { return visibilitySM != nil && *visibilitySM < lt }

	switch {
	case ceil(500) || vis(1):
		return LIFR
	case ceil(1000) || vis(3):
		return IFR
	case (ceilingFt != nil && *ceilingFt <= 3000) || (visibilitySM != nil && *visibilitySM <= 5):
		return MVFR
	default:
		return VFR
	}
}

// Ceiling returns the lowest broken, overcast or obscured layer base, or nil.
func Ceiling(layers []CloudLayer) *int {
	var lowest *int
	for _, l := range layers {
		if l.Base == nil {
			continue
		}
		switch strings.ToUpper(l.Cover) {
		case "BKN", "OVC", "OVX", "VV":
		default:
			continue
		}
		if lowest == nil || *l.Base < *lowest {
			b := *l.Base
			lowest = &b
		}
	}
	return lowest
}

// CloudLayer is one reported sky-condition group.
type CloudLayer struct {
	Cover string `json:"cover"`
	Base  *int   `json:"base"`
}
