package control

import (
	"sync"
	"time"

	"github.com/kjstillabower/metar-led-map/internal/led"
)

// AirportStatus is the rendered state of one airport in the last cycle.
type AirportStatus struct {
	ID         string     `json:"id"`
	LED        int        `json:"led"`
	Category   string     `json:"category"`
	Color      string     `json:"color"`
	ObservedAt *time.Time `json:"observedAt,omitempty"`
	AgeSeconds *int64     `json:"ageSeconds,omitempty"`
	Stale      bool       `json:"stale"`
	Raw        string     `json:"raw,omitempty"`
}

// Snapshot describes the most recent completed cycle.
type Snapshot struct {
	CycleID        string          `json:"cycleId,omitempty"`
	CompletedAt    time.Time       `json:"completedAt"`
	Cycles         int             `json:"cycles"`
	Night          bool            `json:"night"`
	FailedAirports []string        `json:"failedAirports,omitempty"`
	WriteError     string          `json:"writeError,omitempty"`
	Airports       []AirportStatus `json:"airports"`
}

// StatusBoard holds the last Snapshot for readers outside the loop.
type StatusBoard struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{}
}

func (b *StatusBoard) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.snap
	s.Airports = append([]AirportStatus(nil), b.snap.Airports...)
	s.FailedAirports = append([]string(nil), b.snap.FailedAirports...)
	return s
}

func (b *StatusBoard) publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s.Cycles = b.snap.Cycles + 1
	b.snap = s
}

func airportStatuses(assignments []led.Assignment, now time.Time) []AirportStatus {
	out := make([]AirportStatus, 0, len(assignments))
	for _, a := range assignments {
		st := AirportStatus{
			ID:       a.Airport.ID,
			LED:      a.Airport.LED,
			Category: string(a.Category),
			Color:    a.Color.String(),
			Stale:    a.Stale,
		}
		if a.Observed {
			at := a.Observation.ObservedAt
			age := int64(a.Observation.Age(now).Seconds())
			st.ObservedAt = &at
			st.AgeSeconds = &age
			st.Raw = a.Observation.Raw
		}
		out = append(out, st)
	}
	return out
}
