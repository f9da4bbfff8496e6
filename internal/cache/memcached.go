package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/metar-led-map/internal/models"
)

const keyPrefix = "metarmap:"

// MemcachedStore keeps the cache document in memcached under a key derived
// from the device serial, so several map units can share one server.
type MemcachedStore struct {
	client *memcache.Client
	serial string
	now    func() time.Time
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedStore(addrs, serial string, timeout time.Duration, maxIdleConns int) *MemcachedStore {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client, serial: serial, now: time.Now}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key is memcached-safe: no whitespace or control characters.
func (s *MemcachedStore) key() string {
	serial := strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, s.serial)
	if serial == "" {
		serial = "default"
	}
	return keyPrefix + serial + ":cache"
}

// Load implements Store.Load. A cache miss yields an empty map.
func (s *MemcachedStore) Load(ctx context.Context) (map[string]models.Observation, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	item, err := s.client.Get(s.key())
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return map[string]models.Observation{}, nil
		}
		return nil, err
	}
	return decodeDocument(item.Value)
}

// Save implements Store.Save. The item never expires.
func (s *MemcachedStore) Save(ctx context.Context, entries map[string]models.Observation) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := encodeDocument(s.serial, entries, s.now())
	if err != nil {
		return err
	}
	return s.client.Set(&memcache.Item{Key: s.key(), Value: raw})
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
