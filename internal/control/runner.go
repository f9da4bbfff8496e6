// Package control drives the LED map: the NORMAL refresh-and-render loop and
// the two operator diagnostics.
package control

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/metar-led-map/internal/cache"
	"github.com/kjstillabower/metar-led-map/internal/colors"
	"github.com/kjstillabower/metar-led-map/internal/flightcat"
	"github.com/kjstillabower/metar-led-map/internal/led"
	"github.com/kjstillabower/metar-led-map/internal/models"
	"github.com/kjstillabower/metar-led-map/internal/observability"
	"github.com/kjstillabower/metar-led-map/internal/service"
)

// Refresher is the weather fetch step of a cycle.
type Refresher interface {
	Refresh(ctx context.Context, ids []string) service.RefreshResult
}

// FrameWriter is the exclusively owned LED output. *led.Strip implements it.
type FrameWriter interface {
	Write(frame led.Frame) error
	Clear() error
	Len() int
}

// Options holds loop and diagnostic timing.
type Options struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	CycleDwell  time.Duration
	CycleLoop   bool
	StepOnEnter bool
	TestHold    time.Duration
}

// Runner owns the LED output for the life of the process. Only one of Run,
// CycleAirports or TestDisplay may be active at a time.
type Runner struct {
	airports  []models.Airport
	ids       []string
	refresher Refresher
	cache     *cache.WeatherCache
	palette   colors.Palette
	out       FrameWriter
	night     func(time.Time) bool
	opts      Options
	logger    *zap.Logger
	status    *StatusBoard

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	input io.Reader

	lineOnce sync.Once
	lines    chan struct{}

	lastNight *bool
}

// NewRunner creates a Runner. night may be nil when day/night coloring is
// disabled; status may be nil.
func NewRunner(airports []models.Airport, refresher Refresher, wc *cache.WeatherCache, palette colors.Palette, out FrameWriter, night func(time.Time) bool, opts Options, status *StatusBoard, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if status == nil {
		status = NewStatusBoard()
	}
	return &Runner{
		airports:  airports,
		ids:       models.StationIDs(airports),
		refresher: refresher,
		cache:     wc,
		palette:   palette,
		out:       out,
		night:     night,
		opts:      opts,
		logger:    logger,
		status:    status,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// SetInput sets the operator input used by CycleAirports when stepping on Enter.
func (r *Runner) SetInput(in io.Reader) {
	r.input = in
}

// Status returns the board the NORMAL loop publishes to.
func (r *Runner) Status() *StatusBoard {
	return r.status
}

// CycleReport is the outcome of one NORMAL cycle.
type CycleReport struct {
	ID          string
	Refresh     service.RefreshResult
	Night       bool
	Assignments []led.Assignment
	Frame       led.Frame
	WriteErr    error
}

// Run repeats RunCycle until ctx is cancelled, then turns the LEDs off. Each
// sleep is interval minus the cycle's elapsed time, floored at zero, so slow
// cycles do not accumulate drift.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("control loop started",
		zap.Int("airports", len(r.ids)),
		zap.Int("leds", r.out.Len()),
		zap.Duration("interval", r.opts.Interval),
	)
	defer r.clear()

	for {
		start := r.now()
		r.RunCycle(ctx)
		if ctx.Err() != nil {
			break
		}
		wait := r.opts.Interval - r.now().Sub(start)
		if wait < 0 {
			wait = 0
		}
		if err := r.sleep(ctx, wait); err != nil {
			break
		}
	}
	r.logger.Info("control loop stopped")
	return nil
}

// RunCycle performs refresh, day/night, classify, color, render and write
// once. A write failure is logged and reported, never returned as fatal.
func (r *Runner) RunCycle(ctx context.Context) CycleReport {
	start := time.Now()
	rep := CycleReport{ID: uuid.NewString()}
	logger := r.logger.With(zap.String("cycle_id", rep.ID))

	rep.Refresh = r.refresher.Refresh(ctx, r.ids)
	if rep.Refresh.AllFailed() {
		logger.Warn("fetch failed for every airport, rendering from cache",
			zap.Int("attempts", rep.Refresh.Attempts),
		)
	}

	now := r.now()
	rep.Night = r.isNight(now, logger)
	rep.Assignments = led.Assign(r.airports, r.cache.Snapshot(), r.palette, rep.Night, now, r.opts.StaleAfter)
	rep.Frame = led.Compose(r.out.Len(), rep.Assignments)

	outcome := "ok"
	if rep.Refresh.AllFailed() {
		outcome = "fetch_failed"
	}
	if err := r.out.Write(rep.Frame); err != nil {
		rep.WriteErr = err
		outcome = "write_failed"
		logger.Error("led write failed, continuing", zap.Error(err))
	}

	r.record(rep, now)
	observability.CyclesTotal.WithLabelValues(outcome).Inc()
	observability.CycleDurationSeconds.Observe(time.Since(start).Seconds())
	logger.Info("cycle complete",
		zap.Int("updated", rep.Refresh.Count(service.StatusUpdated)),
		zap.Int("unchanged", rep.Refresh.Count(service.StatusUnchanged)),
		zap.Int("failed", rep.Refresh.Count(service.StatusFailed)),
		zap.Bool("night", rep.Night),
		zap.Duration("duration", time.Since(start)),
	)
	return rep
}

func (r *Runner) isNight(now time.Time, logger *zap.Logger) bool {
	if r.night == nil {
		return false
	}
	night := r.night(now)
	if r.lastNight == nil || *r.lastNight != night {
		logger.Info("day/night changed", zap.Bool("night", night))
	}
	r.lastNight = &night
	return night
}

func (r *Runner) record(rep CycleReport, now time.Time) {
	counts := make(map[flightcat.Category]int, len(flightcat.All))
	stale := 0
	for _, a := range rep.Assignments {
		counts[a.Category]++
		if a.Stale {
			stale++
		}
	}
	for _, c := range flightcat.All {
		observability.AirportsByCategory.WithLabelValues(string(c)).Set(float64(counts[c]))
	}
	observability.StaleAirports.Set(float64(stale))
	observability.SetNightMode(rep.Night)

	snap := Snapshot{
		CycleID:        rep.ID,
		CompletedAt:    now,
		Night:          rep.Night,
		FailedAirports: rep.Refresh.Failed(),
		Airports:       airportStatuses(rep.Assignments, now),
	}
	if rep.WriteErr != nil {
		snap.WriteError = rep.WriteErr.Error()
	}
	r.status.publish(snap)
}

// clear turns the LEDs off on the way out of any mode.
func (r *Runner) clear() {
	if err := r.out.Clear(); err != nil {
		r.logger.Error("clear leds failed", zap.Error(err))
	}
}

// physicalOrder returns airports sorted by LED index.
func (r *Runner) physicalOrder() []models.Airport {
	out := make([]models.Airport, 0, len(r.airports))
	for _, a := range r.airports {
		if a.ID != "" && a.LED >= 0 && a.LED < r.out.Len() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LED < out[j].LED })
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
