package models

import "time"

// Observation is the most recent METAR-derived report for one station.
type Observation struct {
	Station    string    `json:"station"`
	Category   string    `json:"category"` // raw flight-category token, e.g. "VFR"; may be empty
	ObservedAt time.Time `json:"observedAt"`
	FetchedAt  time.Time `json:"fetchedAt,omitempty"`
	Latitude   *float64  `json:"lat,omitempty"`
	Longitude  *float64  `json:"lon,omitempty"`
	Raw        string    `json:"raw,omitempty"`
}

// Age returns how long ago the observation was issued.
func (o Observation) Age(now time.Time) time.Duration {
	return now.Sub(o.ObservedAt)
}

// IsStale reports whether the observation is older than staleAfter.
// A zero staleAfter disables the check.
func (o Observation) IsStale(now time.Time, staleAfter time.Duration) bool {
	if staleAfter <= 0 {
		return false
	}
	if o.ObservedAt.IsZero() {
		return true
	}
	return o.Age(now) > staleAfter
}

// NewerThan reports whether o was issued strictly after other.
func (o Observation) NewerThan(other Observation) bool {
	return o.ObservedAt.After(other.ObservedAt)
}
