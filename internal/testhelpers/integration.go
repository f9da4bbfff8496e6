//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/metar-led-map/internal/cache"
	"github.com/kjstillabower/metar-led-map/internal/client"
	"github.com/kjstillabower/metar-led-map/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIURL        string
	CacheBackend  string // "file" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if METARMAP_LIVE_API is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("METARMAP_LIVE_API") == "" {
		t.Skip("METARMAP_LIVE_API not set, skipping integration test")
	}

	apiURL := os.Getenv("METARMAP_API_URL")
	if apiURL == "" {
		apiURL = client.DefaultAPIURL
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationRefresher wires a live client to a fresh weather cache and
// durable store. Falls back to a file store when memcached is unreachable.
func SetupIntegrationRefresher(t *testing.T, cfg IntegrationTestConfig) (*service.Refresher, *cache.WeatherCache, cache.Store) {
	t.Helper()
	metar, err := client.NewAviationWeatherClient(cfg.APIURL, "metarmap-integration-test", 10*time.Second)
	if err != nil {
		t.Fatalf("NewAviationWeatherClient() error = %v", err)
	}

	var store cache.Store = cache.NewFileStore(t.TempDir()+"/latest_metars.json", "integration")
	if cfg.CacheBackend == "memcached" {
		mc := cache.NewMemcachedStore(cfg.MemcachedAddr, "integration-"+time.Now().Format("150405.000"), 500*time.Millisecond, 2)
		if err := mc.Ping(); err == nil {
			store = mc
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("Using Memcached store at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using file store", err)
		}
	}

	wc := cache.NewWeatherCache()
	r := service.NewRefresher(metar, wc, store, service.Options{
		MaxAttempts: 2,
		Backoff:     client.Backoff{BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second},
		FetchBudget: 30 * time.Second,
	}, zaptest.NewLogger(t))
	return r, wc, store
}
