package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/metar-led-map/internal/cache"
	"github.com/kjstillabower/metar-led-map/internal/client"
	"github.com/kjstillabower/metar-led-map/internal/models"
	"github.com/kjstillabower/metar-led-map/internal/observability"
)

var t0 = time.Date(2026, 10, 17, 18, 0, 0, 0, time.UTC)

// fakeClient answers each call from respond and records the requested batches.
type fakeClient struct {
	mu       sync.Mutex
	calls    [][]string
	inFlight int
	peak     int
	respond  func(call int, stations []string) (map[string]models.Observation, error)
}

func (f *fakeClient) FetchObservations(ctx context.Context, stations []string) (map[string]models.Observation, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, append([]string(nil), stations...))
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(time.Millisecond)
	obs, err := f.respond(call, stations)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return obs, err
}

// memStore is an in-memory cache.Store counting saves.
type memStore struct {
	mu    sync.Mutex
	saves int
	saved map[string]models.Observation
	err   error
}

func (s *memStore) Load(ctx context.Context) (map[string]models.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved, s.err
}

func (s *memStore) Save(ctx context.Context, entries map[string]models.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves++
	s.saved = entries
	return nil
}

func obs(station, cat string, at time.Time) models.Observation {
	return models.Observation{Station: station, Category: cat, ObservedAt: at}
}

func newTestRefresher(t *testing.T, c client.MetarClient, wc *cache.WeatherCache, store cache.Store, opts Options) (*Refresher, *[]time.Duration) {
	t.Helper()
	r := NewRefresher(c, wc, store, opts, zaptest.NewLogger(t))
	var delays []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return r, &delays
}

// TestRefresh_PartialSuccessIsolation verifies a station missing from every
// response keeps its prior cache entry while the reported one is updated, and
// only the missing station is re-requested.
func TestRefresh_PartialSuccessIsolation(t *testing.T) {
	wc := cache.NewWeatherCache()
	wc.Apply(obs("KAAA", "IFR", t0.Add(-time.Hour)))
	wc.Apply(obs("KBBB", "IFR", t0.Add(-time.Hour)))

	fc := &fakeClient{respond: func(call int, stations []string) (map[string]models.Observation, error) {
		out := map[string]models.Observation{}
		for _, s := range stations {
			if s == "KBBB" {
				out[s] = obs(s, "VFR", t0)
			}
		}
		return out, nil
	}}
	store := &memStore{}
	r, delays := newTestRefresher(t, fc, wc, store, Options{
		MaxAttempts: 3,
		Backoff:     client.Backoff{BaseDelay: time.Second, MaxDelay: 10 * time.Second},
	})

	res := r.Refresh(context.Background(), []string{"KAAA", "KBBB"})

	if res.Airports["KBBB"].Status != StatusUpdated {
		t.Errorf("KBBB status = %s, want updated", res.Airports["KBBB"].Status)
	}
	a := res.Airports["KAAA"]
	if a.Status != StatusFailed || !errors.Is(a.Err, client.ErrStationMissing) {
		t.Errorf("KAAA = %s/%v, want failed/ErrStationMissing", a.Status, a.Err)
	}
	if got, _ := wc.Get("KAAA"); got.Category != "IFR" || !got.ObservedAt.Equal(t0.Add(-time.Hour)) {
		t.Errorf("KAAA cache entry changed: %+v", got)
	}
	if got, _ := wc.Get("KBBB"); got.Category != "VFR" {
		t.Errorf("KBBB cache entry = %+v, want VFR", got)
	}

	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if len(fc.calls) != 3 || strings.Join(fc.calls[1], ",") != "KAAA" || strings.Join(fc.calls[2], ",") != "KAAA" {
		t.Errorf("calls = %v, want retries for KAAA only", fc.calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*delays) != 2 || (*delays)[0] != want[0] || (*delays)[1] != want[1] {
		t.Errorf("delays = %v, want %v", *delays, want)
	}
	if !res.Persisted || store.saves != 1 {
		t.Errorf("Persisted = %v saves = %d, want true/1", res.Persisted, store.saves)
	}
}

// TestRefresh_AllAttemptsFail verifies that exhausting the retry budget leaves
// the cache unchanged and skips persistence.
func TestRefresh_AllAttemptsFail(t *testing.T) {
	wc := cache.NewWeatherCache()
	wc.Apply(obs("KAAA", "VFR", t0))
	wc.Apply(obs("KBBB", "MVFR", t0))
	before := wc.Snapshot()

	fc := &fakeClient{respond: func(int, []string) (map[string]models.Observation, error) {
		return nil, fmt.Errorf("%w: HTTP 503", client.ErrUpstreamFailure)
	}}
	store := &memStore{}
	r, _ := newTestRefresher(t, fc, wc, store, Options{MaxAttempts: 3})

	retriesBefore := testutil.ToFloat64(observability.WeatherAPIRetriesTotal)
	failuresBefore := testutil.ToFloat64(observability.FetchFailuresTotal.WithLabelValues("upstream_5xx"))

	res := r.Refresh(context.Background(), []string{"KAAA", "KBBB"})

	if !res.AllFailed() {
		t.Fatalf("AllFailed() = false, result = %+v", res)
	}
	if res.Attempts != 3 || len(fc.calls) != 3 {
		t.Errorf("Attempts = %d calls = %d, want 3/3", res.Attempts, len(fc.calls))
	}
	after := wc.Snapshot()
	for id, o := range before {
		if after[id] != o {
			t.Errorf("%s changed: %+v -> %+v", id, o, after[id])
		}
	}
	if store.saves != 0 || res.Persisted {
		t.Errorf("saves = %d, want no persistence when nothing changed", store.saves)
	}
	if got := testutil.ToFloat64(observability.WeatherAPIRetriesTotal) - retriesBefore; got != 2 {
		t.Errorf("retries metric delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(observability.FetchFailuresTotal.WithLabelValues("upstream_5xx")) - failuresBefore; got != 2 {
		t.Errorf("fetch failures delta = %v, want 2", got)
	}
	if res.Airports["KAAA"].Observation.Category != "VFR" {
		t.Errorf("failed result should carry cached observation, got %+v", res.Airports["KAAA"].Observation)
	}
}

// TestRefresh_MonotonicFreshness verifies an older observation from the
// upstream does not regress the cache.
func TestRefresh_MonotonicFreshness(t *testing.T) {
	wc := cache.NewWeatherCache()
	wc.Apply(obs("KAAA", "VFR", t0))

	fc := &fakeClient{respond: func(int, []string) (map[string]models.Observation, error) {
		return map[string]models.Observation{"KAAA": obs("KAAA", "LIFR", t0.Add(-10*time.Minute))}, nil
	}}
	store := &memStore{}
	r, _ := newTestRefresher(t, fc, wc, store, Options{})

	res := r.Refresh(context.Background(), []string{"KAAA"})

	if res.Airports["KAAA"].Status != StatusUnchanged {
		t.Errorf("status = %s, want unchanged", res.Airports["KAAA"].Status)
	}
	if got, _ := wc.Get("KAAA"); got.Category != "VFR" {
		t.Errorf("cache regressed to %+v", got)
	}
	if store.saves != 0 {
		t.Errorf("saves = %d, want 0", store.saves)
	}
}

func TestRefresh_RetryRecovers(t *testing.T) {
	wc := cache.NewWeatherCache()
	fc := &fakeClient{respond: func(call int, stations []string) (map[string]models.Observation, error) {
		if call == 0 {
			return nil, client.ErrRateLimited
		}
		return map[string]models.Observation{"KAAA": obs("KAAA", "MVFR", t0)}, nil
	}}
	r, delays := newTestRefresher(t, fc, wc, nil, Options{
		MaxAttempts: 3,
		Backoff:     client.Backoff{BaseDelay: 500 * time.Millisecond, MaxDelay: time.Second},
	})

	res := r.Refresh(context.Background(), []string{"KAAA"})

	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if res.Airports["KAAA"].Status != StatusUpdated {
		t.Errorf("status = %s, want updated", res.Airports["KAAA"].Status)
	}
	if len(*delays) != 1 || (*delays)[0] != 500*time.Millisecond {
		t.Errorf("delays = %v", *delays)
	}
}

func TestRefresh_NonRetryableStopsEarly(t *testing.T) {
	fc := &fakeClient{respond: func(int, []string) (map[string]models.Observation, error) {
		return nil, fmt.Errorf("%w: HTTP 400", client.ErrBadRequest)
	}}
	r, delays := newTestRefresher(t, fc, cache.NewWeatherCache(), nil, Options{MaxAttempts: 5})

	res := r.Refresh(context.Background(), []string{"KAAA"})

	if res.Attempts != 1 || len(fc.calls) != 1 || len(*delays) != 0 {
		t.Errorf("Attempts = %d calls = %d delays = %v, want a single attempt", res.Attempts, len(fc.calls), *delays)
	}
	if !errors.Is(res.Airports["KAAA"].Err, client.ErrBadRequest) {
		t.Errorf("Err = %v, want ErrBadRequest", res.Airports["KAAA"].Err)
	}
}

// TestRefresh_BatchesWithBoundedParallelism verifies stations are split into
// batches, every batch is joined, and concurrency stays within MaxParallel.
func TestRefresh_BatchesWithBoundedParallelism(t *testing.T) {
	ids := []string{"KAAA", "KBBB", "KCCC", "KDDD", "KEEE"}
	fc := &fakeClient{respond: func(_ int, stations []string) (map[string]models.Observation, error) {
		out := map[string]models.Observation{}
		for _, s := range stations {
			out[s] = obs(s, "VFR", t0)
		}
		return out, nil
	}}
	wc := cache.NewWeatherCache()
	r, _ := newTestRefresher(t, fc, wc, nil, Options{BatchSize: 2, MaxParallel: 2})

	res := r.Refresh(context.Background(), append(ids, "KAAA"))

	if len(fc.calls) != 3 {
		t.Fatalf("calls = %v, want 3 batches", fc.calls)
	}
	var requested []string
	for _, c := range fc.calls {
		if len(c) > 2 {
			t.Errorf("batch %v larger than 2", c)
		}
		requested = append(requested, c...)
	}
	sort.Strings(requested)
	if strings.Join(requested, ",") != strings.Join(ids, ",") {
		t.Errorf("requested = %v, want each station once", requested)
	}
	if fc.peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", fc.peak)
	}
	if res.Count(StatusUpdated) != 5 || wc.Len() != 5 {
		t.Errorf("updated = %d cache = %d, want 5/5", res.Count(StatusUpdated), wc.Len())
	}
}

// TestRefresh_FailedBatchDoesNotAffectSiblings verifies one batch failing
// leaves results from other batches intact.
func TestRefresh_FailedBatchDoesNotAffectSiblings(t *testing.T) {
	fc := &fakeClient{respond: func(_ int, stations []string) (map[string]models.Observation, error) {
		if stations[0] == "KAAA" {
			return nil, client.ErrUpstreamFailure
		}
		out := map[string]models.Observation{}
		for _, s := range stations {
			out[s] = obs(s, "IFR", t0)
		}
		return out, nil
	}}
	r, _ := newTestRefresher(t, fc, cache.NewWeatherCache(), nil, Options{MaxAttempts: 1, BatchSize: 1})

	res := r.Refresh(context.Background(), []string{"KAAA", "KBBB"})

	if got := res.Failed(); len(got) != 1 || got[0] != "KAAA" {
		t.Errorf("Failed() = %v, want [KAAA]", got)
	}
	if res.Airports["KBBB"].Status != StatusUpdated {
		t.Errorf("KBBB status = %s", res.Airports["KBBB"].Status)
	}
}

func TestRefresh_FetchBudgetBoundsSequence(t *testing.T) {
	fc := &fakeClient{respond: func(int, []string) (map[string]models.Observation, error) {
		return nil, client.ErrUpstreamFailure
	}}
	r := NewRefresher(fc, cache.NewWeatherCache(), nil, Options{
		MaxAttempts: 10,
		Backoff:     client.Backoff{BaseDelay: time.Hour, MaxDelay: time.Hour},
		FetchBudget: 20 * time.Millisecond,
	}, zap.NewNop())

	start := time.Now()
	res := r.Refresh(context.Background(), []string{"KAAA"})

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Refresh took %v, want bounded by fetch budget", elapsed)
	}
	if !res.AllFailed() {
		t.Errorf("AllFailed() = false")
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
}

func TestRefresh_PersistErrorReported(t *testing.T) {
	fc := &fakeClient{respond: func(int, []string) (map[string]models.Observation, error) {
		return map[string]models.Observation{"KAAA": obs("KAAA", "VFR", t0)}, nil
	}}
	store := &memStore{err: errors.New("disk full")}
	r, _ := newTestRefresher(t, fc, cache.NewWeatherCache(), store, Options{})

	res := r.Refresh(context.Background(), []string{"KAAA"})

	if res.Persisted || res.PersistErr == nil {
		t.Errorf("Persisted = %v PersistErr = %v, want false/error", res.Persisted, res.PersistErr)
	}
	if res.Airports["KAAA"].Status != StatusUpdated {
		t.Errorf("status = %s, want updated despite persist error", res.Airports["KAAA"].Status)
	}
}

func TestLoadCache(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip through file store", func(t *testing.T) {
		store := cache.NewFileStore(filepath.Join(t.TempDir(), "latest_metars.json"), "MAP-1")
		if err := store.Save(ctx, map[string]models.Observation{"KAAA": obs("KAAA", "VFR", t0)}); err != nil {
			t.Fatal(err)
		}
		wc := cache.NewWeatherCache()
		if err := LoadCache(ctx, wc, store, zap.NewNop()); err != nil {
			t.Fatalf("LoadCache() error = %v", err)
		}
		if got, ok := wc.Get("KAAA"); !ok || got.Category != "VFR" {
			t.Errorf("Get(KAAA) = %+v, %v", got, ok)
		}
	})

	t.Run("corrupt store starts empty", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		wc := cache.NewWeatherCache()
		store := &memStore{err: fmt.Errorf("%w: bad json", cache.ErrCorrupt)}
		if err := LoadCache(ctx, wc, store, zap.New(core)); err != nil {
			t.Fatalf("LoadCache() error = %v, want nil for corrupt cache", err)
		}
		if wc.Len() != 0 {
			t.Errorf("Len() = %d, want 0", wc.Len())
		}
		if logs.FilterMessage("durable weather cache unreadable, starting empty").Len() != 1 {
			t.Errorf("expected corruption warning, got %v", logs.All())
		}
	})

	t.Run("other errors returned", func(t *testing.T) {
		store := &memStore{err: errors.New("connection refused")}
		if err := LoadCache(ctx, cache.NewWeatherCache(), store, zap.NewNop()); err == nil {
			t.Error("LoadCache() error = nil, want error")
		}
	})
}
