package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/metar-led-map/internal/cache"
	"github.com/kjstillabower/metar-led-map/internal/client"
	"github.com/kjstillabower/metar-led-map/internal/degraded"
	"github.com/kjstillabower/metar-led-map/internal/models"
	"github.com/kjstillabower/metar-led-map/internal/observability"
)

// Status is the per-airport outcome of one refresh.
type Status int

const (
	// StatusUpdated means a new observation was written to the cache.
	StatusUpdated Status = iota
	// StatusUnchanged means an observation arrived but was not newer than the cached one.
	StatusUnchanged
	// StatusFailed means no observation arrived after all attempts; the cached entry is kept.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUpdated:
		return "updated"
	case StatusUnchanged:
		return "unchanged"
	default:
		return "failed"
	}
}

type AirportResult struct {
	Status      Status
	Observation models.Observation
	Err         error
}

// RefreshResult records the outcome of one Refresh call.
type RefreshResult struct {
	Airports   map[string]AirportResult
	Attempts   int
	Persisted  bool
	PersistErr error
}

// Failed returns the failed station ids, sorted.
func (r RefreshResult) Failed() []string {
	var out []string
	for id, a := range r.Airports {
		if a.Status == StatusFailed {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// AllFailed is true when at least one airport was requested and none got data.
func (r RefreshResult) AllFailed() bool {
	return len(r.Airports) > 0 && len(r.Failed()) == len(r.Airports)
}

// Count returns how many airports ended with status s.
func (r RefreshResult) Count(s Status) int {
	n := 0
	for _, a := range r.Airports {
		if a.Status == s {
			n++
		}
	}
	return n
}

// Options tunes Refresher. Zero values fall back to package defaults.
type Options struct {
	MaxAttempts int
	Backoff     client.Backoff
	BatchSize   int
	MaxParallel int
	// FetchBudget bounds the whole attempt and retry sequence.
	FetchBudget time.Duration
}

const (
	defaultMaxAttempts = 3
	defaultBatchSize   = 100
	defaultMaxParallel = 2
)

// Refresher fetches observations for the configured stations, retries
// stations that did not arrive, and folds results into the weather cache.
type Refresher struct {
	client client.MetarClient
	cache  *cache.WeatherCache
	store  cache.Store
	opts   Options
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRefresher creates a Refresher. store may be nil to skip persistence.
func NewRefresher(c client.MetarClient, wc *cache.WeatherCache, store cache.Store, opts Options, logger *zap.Logger) *Refresher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = defaultMaxParallel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		client: c,
		cache:  wc,
		store:  store,
		opts:   opts,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Refresh runs one bounded fetch sequence for ids. It never returns an error:
// failures are reported per airport and the cache keeps prior entries.
func (r *Refresher) Refresh(ctx context.Context, ids []string) RefreshResult {
	ids = dedupe(ids)
	result := RefreshResult{Airports: make(map[string]AirportResult, len(ids))}
	if len(ids) == 0 {
		return result
	}

	fetchCtx := ctx
	if r.opts.FetchBudget > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.opts.FetchBudget)
		defer cancel()
	}

	received := make(map[string]models.Observation, len(ids))
	lastErr := make(map[string]error, len(ids))
	pending := ids

	for attempt := 1; attempt <= r.opts.MaxAttempts && len(pending) > 0; attempt++ {
		if attempt > 1 {
			delay := r.opts.Backoff.Delay(attempt - 1)
			observability.WeatherAPIRetriesTotal.Inc()
			r.logger.Warn("retrying metar fetch",
				zap.Int("attempt", attempt),
				zap.Int("pending", len(pending)),
				zap.Duration("delay", delay),
			)
			if err := r.sleep(fetchCtx, delay); err != nil {
				for _, id := range pending {
					lastErr[id] = fmt.Errorf("retry wait: %w", err)
				}
				break
			}
		}
		result.Attempts = attempt

		got, batchErr := r.fetchAll(fetchCtx, pending)

		var next []string
		for _, id := range pending {
			if obs, ok := got[id]; ok {
				received[id] = obs
				delete(lastErr, id)
				continue
			}
			err := batchErr[id]
			if err == nil {
				err = client.ErrStationMissing
			}
			lastErr[id] = err
			if client.IsRetryable(err) {
				next = append(next, id)
			}
		}
		pending = next
		if fetchCtx.Err() != nil {
			break
		}
	}

	changed := false
	for _, id := range ids {
		if obs, ok := received[id]; ok {
			degraded.RecordSuccess()
			if r.cache.Apply(obs) {
				changed = true
				result.Airports[id] = AirportResult{Status: StatusUpdated, Observation: obs}
				continue
			}
			cached, _ := r.cache.Get(id)
			result.Airports[id] = AirportResult{Status: StatusUnchanged, Observation: cached}
			continue
		}

		err := lastErr[id]
		if err == nil {
			err = client.ErrStationMissing
		}
		degraded.RecordError()
		observability.FetchFailuresTotal.WithLabelValues(string(client.CategorizeError(err))).Inc()
		cached, _ := r.cache.Get(id)
		result.Airports[id] = AirportResult{Status: StatusFailed, Observation: cached, Err: err}
	}

	if failed := result.Failed(); len(failed) > 0 {
		r.logger.Warn("airports kept cached observation",
			zap.Strings("airports", failed),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Airports[failed[0]].Err),
		)
	}

	if changed && r.store != nil {
		result.PersistErr = r.persist(context.WithoutCancel(ctx))
		result.Persisted = result.PersistErr == nil
	}
	return result
}

// fetchAll splits ids into batches and runs them with bounded parallelism,
// joining every batch before returning. A failed batch records its error
// against each of its stations and does not cancel its siblings.
func (r *Refresher) fetchAll(ctx context.Context, ids []string) (map[string]models.Observation, map[string]error) {
	var (
		mu   sync.Mutex
		got  = make(map[string]models.Observation, len(ids))
		errs = make(map[string]error)
	)

	var g errgroup.Group
	g.SetLimit(r.opts.MaxParallel)
	for start := 0; start < len(ids); start += r.opts.BatchSize {
		end := min(start+r.opts.BatchSize, len(ids))
		batch := ids[start:end]
		g.Go(func() error {
			obs, err := r.client.FetchObservations(ctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				r.logger.Warn("metar batch fetch failed",
					zap.Strings("airports", batch),
					zap.String("reason", string(client.CategorizeError(err))),
					zap.Error(err),
				)
				for _, id := range batch {
					errs[id] = err
				}
				return nil
			}
			for id, o := range obs {
				got[id] = o
			}
			return nil
		})
	}
	_ = g.Wait()
	return got, errs
}

func (r *Refresher) persist(ctx context.Context) error {
	if err := r.store.Save(ctx, r.cache.Snapshot()); err != nil {
		observability.CachePersistTotal.WithLabelValues("error").Inc()
		r.logger.Error("persist weather cache failed", zap.Error(err))
		return err
	}
	observability.CachePersistTotal.WithLabelValues("success").Inc()
	return nil
}

// LoadCache fills wc from store. A corrupt document is logged and the cache
// starts empty; other errors are returned.
func LoadCache(ctx context.Context, wc *cache.WeatherCache, store cache.Store, logger *zap.Logger) error {
	if store == nil {
		return nil
	}
	entries, err := store.Load(ctx)
	if errors.Is(err, cache.ErrCorrupt) {
		logger.Warn("durable weather cache unreadable, starting empty", zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load weather cache: %w", err)
	}
	wc.Load(entries)
	logger.Info("weather cache loaded", zap.Int("airports", len(entries)))
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
