// Package solar decides whether it is night at a fixed location.
package solar

import (
	"fmt"
	"math"
	"time"

	"github.com/nathan-osman/go-sunrise"
	gocache "github.com/patrickmn/go-cache"
)

// IsNight reports whether t falls outside every sunrise-to-sunset interval at
// (lat, lon). Intervals for the UTC day before and after are checked too, since
// for far east/west longitudes a local day straddles two UTC dates.
//
// When the sun neither rises nor sets on t's date (polar day or polar night),
// the result is decided by season: always-day when the sun stays up, always-night
// when it stays down.
func IsNight(lat, lon float64, t time.Time) bool {
	t = t.UTC()
	rise, set := sunrise.SunriseSunset(lat, lon, t.Year(), t.Month(), t.Day())
	if rise.IsZero() || set.IsZero() {
		return !polarDay(lat, t)
	}
	for _, offset := range []int{-1, 0, 1} {
		d := t.AddDate(0, 0, offset)
		rise, set := sunrise.SunriseSunset(lat, lon, d.Year(), d.Month(), d.Day())
		if rise.IsZero() || set.IsZero() {
			continue
		}
		if !t.Before(rise) && !t.After(set) {
			return false
		}
	}
	return true
}

// polarDay reports whether the hemisphere of lat is in its summer half at t,
// using the approximate solar declination for the day of year.
func polarDay(lat float64, t time.Time) bool {
	decl := -23.44 * math.Cos(2*math.Pi/365*float64(t.YearDay()+10))
	return (lat >= 0) == (decl >= 0)
}

// Calculator caches IsNight results for a short window; solar transitions move
// slowly relative to the polling interval.
type Calculator struct {
	window time.Duration
	cache  *gocache.Cache
}

// NewCalculator returns a Calculator that reuses a result for up to window.
// A window <= 0 disables caching.
func NewCalculator(window time.Duration) *Calculator {
	c := &Calculator{window: window}
	if window > 0 {
		c.cache = gocache.New(window, 2*window)
	}
	return c
}

// IsNight is the cached form of the package-level IsNight.
func (c *Calculator) IsNight(lat, lon float64, t time.Time) bool {
	if c.cache == nil {
		return IsNight(lat, lon, t)
	}
	key := fmt.Sprintf("%.4f,%.4f,%d", lat, lon, t.Truncate(c.window).Unix())
	if v, ok := c.cache.Get(key); ok {
		return v.(bool)
	}
	night := IsNight(lat, lon, t)
	c.cache.SetDefault(key, night)
	return night
}
