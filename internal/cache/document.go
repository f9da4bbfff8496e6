package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kjstillabower/metar-led-map/internal/models"
)

const documentVersion = 1

// document is the serialized form shared by every Store backend.
type document struct {
	Version      int                           `json:"version"`
	Serial       string                        `json:"serial,omitempty"`
	SavedAt      time.Time                     `json:"saved_at"`
	Observations map[string]models.Observation `json:"observations"`
}

func encodeDocument(serial string, entries map[string]models.Observation, now time.Time) ([]byte, error) {
	if entries == nil {
		entries = map[string]models.Observation{}
	}
	raw, err := json.MarshalIndent(document{
		Version:      documentVersion,
		Serial:       serial,
		SavedAt:      now.UTC(),
		Observations: entries,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode cache: %w", err)
	}
	return raw, nil
}

func decodeDocument(raw []byte) (map[string]models.Observation, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Version != documentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, doc.Version)
	}
	out := make(map[string]models.Observation, len(doc.Observations))
	for id, obs := range doc.Observations {
		if obs.Station == "" {
			obs.Station = id
		}
		out[id] = obs
	}
	return out, nil
}
