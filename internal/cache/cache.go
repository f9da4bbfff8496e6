package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/kjstillabower/metar-led-map/internal/models"
)

// ErrCorrupt is returned by a Store whose durable document cannot be decoded.
var ErrCorrupt = errors.New("weather cache corrupt")

// Store persists the full observation map. Load returns an empty map, not an
// error, when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (map[string]models.Observation, error)
	Save(ctx context.Context, entries map[string]models.Observation) error
}

// WeatherCache holds the last known observation per station. Safe for
// concurrent use; the status server reads while the control loop writes.
type WeatherCache struct {
	mu      sync.RWMutex
	entries map[string]models.Observation
}

func NewWeatherCache() *WeatherCache {
	return &WeatherCache{entries: make(map[string]models.Observation)}
}

// Get returns the cached observation for station, if any.
func (c *WeatherCache) Get(station string) (models.Observation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obs, ok := c.entries[station]
	return obs, ok
}

// Snapshot returns a copy of all entries.
func (c *WeatherCache) Snapshot() map[string]models.Observation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.Observation, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

func (c *WeatherCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Apply stores obs unless the cached entry for the same station is newer.
// An observation with the same timestamp replaces the cached one. Returns
// true when the entry was written.
func (c *WeatherCache) Apply(obs models.Observation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[obs.Station]; ok && cur.NewerThan(obs) {
		return false
	}
	c.entries[obs.Station] = obs
	return true
}

// Load replaces the whole cache, typically with the durable copy at startup.
func (c *WeatherCache) Load(entries map[string]models.Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]models.Observation, len(entries))
	for k, v := range entries {
		c.entries[k] = v
	}
}

// Retain drops every station not in ids and returns how many were removed.
// This is the only deletion path: entries leave the cache only when the
// configured airport list no longer names them.
func (c *WeatherCache) Retain(ids []string) int {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k := range c.entries {
		if _, ok := keep[k]; !ok {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
