package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/metar-led-map/internal/cache"
	"github.com/kjstillabower/metar-led-map/internal/circuitbreaker"
	"github.com/kjstillabower/metar-led-map/internal/client"
	"github.com/kjstillabower/metar-led-map/internal/config"
	"github.com/kjstillabower/metar-led-map/internal/control"
	httphandler "github.com/kjstillabower/metar-led-map/internal/http"
	"github.com/kjstillabower/metar-led-map/internal/led"
	"github.com/kjstillabower/metar-led-map/internal/lifecycle"
	"github.com/kjstillabower/metar-led-map/internal/models"
	"github.com/kjstillabower/metar-led-map/internal/observability"
	"github.com/kjstillabower/metar-led-map/internal/service"
	"github.com/kjstillabower/metar-led-map/internal/solar"
)

const usage = `Usage: metarmap [flags]

Drives an addressable LED string as a map of airport flight categories.
With no mode flag the map refreshes METAR data every loop.interval until
SIGINT or SIGTERM, then turns the LEDs off.

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stderr))
}

func run(args []string, stdin io.Reader, stderr io.Writer) int {
	fs := flag.NewFlagSet("metarmap", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cycleAirports := fs.Bool("cycle-airports", false, "light each airport's LED in turn and print the LED/airport pairs")
	testDisplays := fs.Bool("test-displays", false, "show every category color in day, night and side-by-side frames")
	dryRun := fs.Bool("dry-run", false, "log frames instead of driving the LED hardware")
	configPath := fs.String("config", "", "config file (default $METARMAP_CONFIG or config/$ENV_NAME.yaml)")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	mode, err := control.SelectMode(*cycleAirports, *testDisplays)
	if err != nil {
		fmt.Fprintf(stderr, "metarmap: %v\n", err)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "metarmap: config: %v\n", err)
		return 1
	}

	logger, err := observability.NewLogger(observability.LogOptions{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})
	if err != nil {
		fmt.Fprintf(stderr, "metarmap: logger: %v\n", err)
		return 1
	}
	defer func() {
		if err := observability.FlushTelemetry(logger); err != nil {
			fmt.Fprintf(stderr, "metarmap: %v\n", err)
		}
	}()
	logger = logger.With(zap.String("serial", cfg.Serial))
	lifecycle.SetMode(mode.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		lifecycle.SetShuttingDown(true)
	}()

	app, err := build(ctx, cfg, *dryRun, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}
	defer app.close()

	runner := app.runner
	runner.SetInput(stdin)

	switch mode {
	case control.ModeCycleAirports:
		reports, err := runner.CycleAirports(ctx)
		for _, rep := range reports {
			fmt.Fprintf(stderr, "%3d  %s\n", rep.LED, rep.Airport)
		}
		if err != nil {
			logger.Error("airport cycle aborted", zap.Error(err))
			return 1
		}
	case control.ModeTestDisplay:
		if err := runner.TestDisplay(ctx); err != nil {
			logger.Error("test display aborted", zap.Error(err))
			return 1
		}
	default:
		if err := runner.Run(ctx); err != nil {
			logger.Error("control loop", zap.Error(err))
			return 1
		}
	}
	logger.Info("shutdown complete", zap.String("mode", mode.String()))
	return 0
}

type app struct {
	runner  *control.Runner
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build wires every component from cfg. On error, whatever was already opened
// is released.
func build(ctx context.Context, cfg *config.Config, dryRun bool, logger *zap.Logger) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	var store cache.Store
	var cachePing func() error
	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.Serial, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		a.closers = append(a.closers, func() {
			if err := mc.Close(); err != nil {
				logger.Warn("memcached close", zap.Error(err))
			}
		})
		store, cachePing = mc, mc.Ping
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		fileStore := cache.NewFileStore(cfg.CachePath, cfg.Serial)
		store = fileStore
		logger.Info("cache backend: file", zap.String("path", fileStore.Path()))
	}
	weather := cache.NewWeatherCache()
	if err := service.LoadCache(ctx, weather, store, logger); err != nil {
		logger.Warn("cache load failed, starting empty", zap.Error(err))
	}
	if dropped := weather.Retain(models.StationIDs(cfg.Airports)); dropped > 0 {
		logger.Info("dropped cached stations no longer configured", zap.Int("count", dropped))
	}

	metar, err := client.NewAviationWeatherClient(cfg.WeatherURL, cfg.UserAgent, cfg.WeatherTimeout)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	if cfg.RateLimitRPS > 0 {
		metar.SetRateLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1))
	}
	if cfg.BreakerEnabled {
		metar.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				logger.Warn("circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
				observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String(), int(to))
			},
		}))
		observability.CircuitBreakerState.WithLabelValues("weather_api").Set(0)
	}

	night, err := nightFunc(ctx, cfg, metar, logger)
	if err != nil {
		return nil, err
	}

	refresher := service.NewRefresher(metar, weather, store, service.Options{
		MaxAttempts: cfg.RetryAttempts,
		Backoff:     client.Backoff{BaseDelay: cfg.RetryBaseDelay, MaxDelay: cfg.RetryMaxDelay, Jitter: 0.1},
		BatchSize:   cfg.BatchSize,
		MaxParallel: cfg.MaxParallel,
		FetchBudget: cfg.FetchBudget,
	}, logger)

	strip, err := openStrip(cfg, dryRun, logger, a)
	if err != nil {
		return nil, err
	}

	status := control.NewStatusBoard()
	a.runner = control.NewRunner(cfg.Airports, refresher, weather, cfg.Palette(), strip, night, control.Options{
		Interval:    cfg.Interval,
		StaleAfter:  cfg.StaleAfter,
		CycleDwell:  cfg.CycleDwell,
		CycleLoop:   cfg.CycleLoop,
		StepOnEnter: cfg.StepOnEnter,
		TestHold:    cfg.TestHold,
	}, status, logger)

	if cfg.StatusAddr != "" {
		h := httphandler.NewHandler(status, &httphandler.HealthConfig{
			DegradedWindow:   cfg.DegradedWindow,
			DegradedErrorPct: cfg.DegradedErrorPct,
			StallAfter:       3*cfg.Interval + cfg.FetchBudget,
			StartTime:        time.Now(),
			CachePing:        cachePing,
		}, logger)
		limiter := rate.NewLimiter(rate.Limit(cfg.StatusRateLimitRPS), cfg.StatusRateLimitBurst)
		srv := httphandler.NewServer(cfg.StatusAddr, httphandler.NewRouter(h, limiter, observability.MetricsHandler(), logger), logger)
		if _, err := srv.Start(); err != nil {
			return nil, fmt.Errorf("status server: %w", err)
		}
		a.closers = append(a.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown", zap.Error(err))
			}
		})
	}
	return a, nil
}

// openStrip selects the console sink for dry runs and the SPI string otherwise.
func openStrip(cfg *config.Config, dryRun bool, logger *zap.Logger, a *app) (*led.Strip, error) {
	var sink led.Sink
	if dryRun || cfg.Driver == "console" {
		sink = led.NewConsoleSink(logger)
		logger.Info("led driver: console", zap.Int("leds", cfg.NumLEDs))
	} else {
		spi, err := led.OpenSPI(cfg.SPIPort, cfg.NumLEDs)
		if err != nil {
			return nil, fmt.Errorf("led driver: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := spi.Close(); err != nil {
				logger.Warn("spi close", zap.Error(err))
			}
		})
		sink = spi
		logger.Info("led driver: spi", zap.String("port", cfg.SPIPort), zap.Int("leds", cfg.NumLEDs))
	}
	strip, err := led.NewStrip(sink, cfg.NumLEDs, cfg.ChannelOrder, cfg.Brightness)
	if err != nil {
		return nil, fmt.Errorf("led strip: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := strip.Close(); err != nil {
			logger.Warn("led strip close", zap.Error(err))
		}
	})
	return strip, nil
}

// nightFunc returns the day/night predicate for the home airport, or nil when
// night coloring is off. Missing coordinates are looked up once; a failed
// lookup is fatal.
func nightFunc(ctx context.Context, cfg *config.Config, metar *client.AviationWeatherClient, logger *zap.Logger) (func(time.Time) bool, error) {
	if !cfg.NightEnabled {
		return nil, nil
	}
	home, _ := cfg.HomeAirport()
	var lat, lon float64
	if home.HasCoordinates() {
		lat, lon = *home.Latitude, *home.Longitude
	} else {
		lookupCtx, cancel := context.WithTimeout(ctx, cfg.FetchBudget)
		defer cancel()
		var err error
		lat, lon, err = metar.LookupCoordinates(lookupCtx, home.ID)
		if err != nil {
			return nil, fmt.Errorf("home coordinates: %w", err)
		}
		logger.Info("home coordinates looked up", zap.String("airport", home.ID), zap.Float64("lat", lat), zap.Float64("lon", lon))
	}
	calc := solar.NewCalculator(cfg.SolarCacheWindow)
	return func(t time.Time) bool { return calc.IsNight(lat, lon, t) }, nil
}
