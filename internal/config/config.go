package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/metar-led-map/internal/colors"
	"github.com/kjstillabower/metar-led-map/internal/flightcat"
	"github.com/kjstillabower/metar-led-map/internal/models"
	"github.com/kjstillabower/metar-led-map/internal/validation"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// skipID reserves an LED position with no airport.
const skipID = "SKIP"

// Config holds map configuration loaded from YAML and env.
type Config struct {
	Serial string

	NumLEDs      int    `validate:"gt=0"`
	Driver       string `validate:"oneof=spi console"`
	SPIPort      string
	Brightness   uint8
	ChannelOrder colors.ChannelOrder

	// Airports in physical order, reserved slots removed.
	Airports []models.Airport `validate:"min=1"`

	WeatherURL     string        `validate:"required,url"`
	WeatherTimeout time.Duration `validate:"gt=0"`
	FetchBudget    time.Duration `validate:"gt=0"`
	BatchSize      int           `validate:"gt=0"`
	MaxParallel    int           `validate:"gt=0"`
	RateLimitRPS   float64       `validate:"gte=0"`
	StaleAfter     time.Duration `validate:"gte=0"`
	UserAgent      string

	RetryAttempts  int `validate:"gt=0"`
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	CacheBackend          string `validate:"oneof=file memcached"`
	CachePath             string
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	NightEnabled          bool
	LookupHomeCoordinates bool
	SolarCacheWindow      time.Duration

	Interval time.Duration `validate:"gt=0"`

	Colors map[flightcat.Category]colors.Override

	CycleDwell  time.Duration
	CycleLoop   bool
	StepOnEnter bool
	TestHold    time.Duration

	StatusAddr           string
	StatusRateLimitRPS   int
	StatusRateLimitBurst int
	DegradedWindow       time.Duration
	DegradedErrorPct     int `validate:"gte=0,lte=100"`

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

// HomeAirport returns the airport flagged home, if any.
func (c *Config) HomeAirport() (models.Airport, bool) {
	for _, a := range c.Airports {
		if a.Home {
			return a, true
		}
	}
	return models.Airport{}, false
}

// Palette returns the color map with overrides merged over defaults.
func (c *Config) Palette() colors.Palette {
	return colors.NewPalette(c.Colors)
}

type fileAirport struct {
	ID   string   `yaml:"id"`
	LED  *int     `yaml:"led"`
	Home bool     `yaml:"home"`
	Lat  *float64 `yaml:"lat"`
	Lon  *float64 `yaml:"lon"`
}

type fileColor struct {
	Day   []int `yaml:"day"`
	Night []int `yaml:"night"`
}

type fileConfig struct {
	Device struct {
		Serial string `yaml:"serial"`
	} `yaml:"device"`

	LEDs struct {
		Count        int    `yaml:"count"`
		Driver       string `yaml:"driver"`
		SPIPort      string `yaml:"spi_port"`
		Brightness   *int   `yaml:"brightness"`
		ChannelOrder string `yaml:"channel_order"`
	} `yaml:"leds"`

	Airports []fileAirport `yaml:"airports"`

	Weather struct {
		URL          string   `yaml:"url"`
		Timeout      string   `yaml:"timeout"`
		FetchBudget  string   `yaml:"fetch_budget"`
		BatchSize    int      `yaml:"batch_size"`
		MaxParallel  int      `yaml:"max_parallel"`
		RateLimitRPS *float64 `yaml:"rate_limit_rps"`
		StaleAfter   string   `yaml:"stale_after"`
		UserAgent    string   `yaml:"user_agent"`
	} `yaml:"weather"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Cache struct {
		Backend   string `yaml:"backend"`
		Path      string `yaml:"path"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Night struct {
		Enabled               *bool  `yaml:"enabled"`
		LookupHomeCoordinates bool   `yaml:"lookup_home_coordinates"`
		CacheWindow           string `yaml:"cache_window"`
	} `yaml:"night"`

	Loop struct {
		Interval string `yaml:"interval"`
	} `yaml:"loop"`

	Colors map[string]fileColor `yaml:"colors"`

	Diagnostics struct {
		CycleDwell  string `yaml:"cycle_dwell"`
		CycleLoop   bool   `yaml:"cycle_loop"`
		StepOnEnter bool   `yaml:"step_on_enter"`
		TestHold    string `yaml:"test_hold"`
	} `yaml:"diagnostics"`

	Status struct {
		Addr             string `yaml:"addr"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"status"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   *bool  `yaml:"compress"`
	} `yaml:"logging"`
}

// ResolvePath picks the config file: the explicit path if given, else
// METARMAP_CONFIG, else config/{ENV_NAME}.yaml (default dev) under the
// working directory.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := strings.TrimSpace(os.Getenv("METARMAP_CONFIG")); p != "" {
		return p, nil
	}
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config: get working directory: %w", err)
	}
	return filepath.Join(cwd, "config", env+".yaml"), nil
}

// Load reads .env from the working directory if present, resolves the config
// path and loads it.
func Load(explicitPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile parses and validates the YAML document at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from a YAML document, applying env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{
		Serial:  strings.TrimSpace(fc.Device.Serial),
		NumLEDs: fc.LEDs.Count,
		Driver:  strings.ToLower(strings.TrimSpace(fc.LEDs.Driver)),
		SPIPort: fc.LEDs.SPIPort,
	}
	if cfg.Driver == "" {
		cfg.Driver = "spi"
	}

	cfg.Brightness = 255
	if b := fc.LEDs.Brightness; b != nil {
		if *b < 0 || *b > 255 {
			return nil, fmt.Errorf("%w: leds.brightness must be 0..255, got %d", ErrInvalidConfig, *b)
		}
		cfg.Brightness = uint8(*b)
	}
	order := fc.LEDs.ChannelOrder
	if strings.TrimSpace(order) == "" {
		order = string(colors.GRB)
	}
	co, err := colors.ParseChannelOrder(order)
	if err != nil {
		return nil, fmt.Errorf("%w: leds.channel_order: %v", ErrInvalidConfig, err)
	}
	cfg.ChannelOrder = co

	cfg.WeatherURL = strings.TrimSpace(fc.Weather.URL)
	if cfg.WeatherURL == "" {
		cfg.WeatherURL = "https://aviationweather.gov/api/data/metar"
	}
	cfg.WeatherTimeout = parseDuration(fc.Weather.Timeout, 15*time.Second)
	cfg.FetchBudget = parseDuration(fc.Weather.FetchBudget, 45*time.Second)
	cfg.BatchSize = fc.Weather.BatchSize
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	cfg.MaxParallel = fc.Weather.MaxParallel
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 2
	}
	// An explicit 0 disables upstream pacing.
	cfg.RateLimitRPS = 2
	if r := fc.Weather.RateLimitRPS; r != nil {
		cfg.RateLimitRPS = *r
	}
	cfg.StaleAfter = parseDurationOrZero(fc.Weather.StaleAfter, 2*time.Hour)
	cfg.UserAgent = fc.Weather.UserAgent
	if cfg.UserAgent == "" {
		cfg.UserAgent = "metar-led-map"
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, time.Second)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 10*time.Second)
	cb := fc.Reliability.CircuitBreaker
	cfg.BreakerEnabled = cb.Enabled == nil || *cb.Enabled
	cfg.BreakerFailureThreshold = cb.FailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 1
	}
	cfg.BreakerTimeout = parseDuration(cb.Timeout, 5*time.Minute)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("METARMAP_CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "file"
	}
	cfg.CachePath = fc.Cache.Path
	if cfg.CachePath == "" {
		cfg.CachePath = "latest_metars.json"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.NightEnabled = fc.Night.Enabled == nil || *fc.Night.Enabled
	cfg.LookupHomeCoordinates = fc.Night.LookupHomeCoordinates
	cfg.SolarCacheWindow = parseDuration(fc.Night.CacheWindow, 2*time.Minute)

	cfg.Interval = parseDuration(fc.Loop.Interval, 60*time.Second)

	cfg.Colors, err = parseColors(fc.Colors)
	if err != nil {
		return nil, err
	}

	cfg.CycleDwell = parseDuration(fc.Diagnostics.CycleDwell, 3*time.Second)
	cfg.CycleLoop = fc.Diagnostics.CycleLoop
	cfg.StepOnEnter = fc.Diagnostics.StepOnEnter
	cfg.TestHold = parseDuration(fc.Diagnostics.TestHold, 10*time.Second)

	cfg.StatusAddr = strings.TrimSpace(os.Getenv("METARMAP_STATUS_ADDR"))
	if cfg.StatusAddr == "" {
		cfg.StatusAddr = strings.TrimSpace(fc.Status.Addr)
	}
	cfg.StatusRateLimitRPS = fc.Status.RateLimitRPS
	if cfg.StatusRateLimitRPS <= 0 {
		cfg.StatusRateLimitRPS = 5
	}
	cfg.StatusRateLimitBurst = fc.Status.RateLimitBurst
	if cfg.StatusRateLimitBurst <= 0 {
		cfg.StatusRateLimitBurst = 10
	}
	cfg.DegradedWindow = parseDuration(fc.Status.DegradedWindow, 15*time.Minute)
	cfg.DegradedErrorPct = fc.Status.DegradedErrorPct
	if cfg.DegradedErrorPct == 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.LogLevel = fc.Logging.Level
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogFile = fc.Logging.File
	cfg.LogMaxSizeMB = fc.Logging.MaxSizeMB
	if cfg.LogMaxSizeMB <= 0 {
		cfg.LogMaxSizeMB = 10
	}
	cfg.LogMaxBackups = fc.Logging.MaxBackups
	if cfg.LogMaxBackups <= 0 {
		cfg.LogMaxBackups = 3
	}
	cfg.LogMaxAgeDays = fc.Logging.MaxAgeDays
	if cfg.LogMaxAgeDays <= 0 {
		cfg.LogMaxAgeDays = 14
	}
	cfg.LogCompress = fc.Logging.Compress == nil || *fc.Logging.Compress

	cfg.Airports, err = parseAirports(fc.Airports, cfg.NumLEDs)
	if err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseAirports assigns LED indices: list position unless `led` is given.
// SKIP or empty ids reserve their position.
func parseAirports(in []fileAirport, numLEDs int) ([]models.Airport, error) {
	if numLEDs > 0 && len(in) > numLEDs {
		return nil, fmt.Errorf("%w: %d airport slots but leds.count is %d", ErrInvalidConfig, len(in), numLEDs)
	}
	used := make(map[int]string, len(in))
	out := make([]models.Airport, 0, len(in))
	for i, fa := range in {
		raw := strings.TrimSpace(fa.ID)
		if raw == "" || strings.EqualFold(raw, skipID) {
			continue
		}
		id, err := validation.ValidateStation(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: airports[%d] %q: %v", ErrInvalidConfig, i, fa.ID, err)
		}
		idx := i
		if fa.LED != nil {
			idx = *fa.LED
		}
		if idx < 0 || (numLEDs > 0 && idx >= numLEDs) {
			return nil, fmt.Errorf("%w: airports[%d] %s led %d outside 0..%d", ErrInvalidConfig, i, id, idx, numLEDs-1)
		}
		if prev, ok := used[idx]; ok {
			return nil, fmt.Errorf("%w: led %d assigned to both %s and %s", ErrInvalidConfig, idx, prev, id)
		}
		used[idx] = id
		out = append(out, models.Airport{
			ID:        id,
			LED:       idx,
			Home:      fa.Home,
			Latitude:  fa.Lat,
			Longitude: fa.Lon,
		})
	}
	return out, nil
}

func parseColors(in map[string]fileColor) (map[flightcat.Category]colors.Override, error) {
	out := make(map[flightcat.Category]colors.Override, len(in))
	for key, fcol := range in {
		cat := flightcat.Category(strings.ToUpper(strings.TrimSpace(key)))
		if cat != flightcat.Unknown && flightcat.Parse(string(cat)) == flightcat.Unknown {
			return nil, fmt.Errorf("%w: colors: unknown category %q", ErrInvalidConfig, key)
		}
		var ov colors.Override
		var err error
		if ov.Day, err = parseRGB(fcol.Day); err != nil {
			return nil, fmt.Errorf("%w: colors.%s.day: %v", ErrInvalidConfig, key, err)
		}
		if ov.Night, err = parseRGB(fcol.Night); err != nil {
			return nil, fmt.Errorf("%w: colors.%s.night: %v", ErrInvalidConfig, key, err)
		}
		out[cat] = ov
	}
	return out, nil
}

func parseRGB(v []int) (*colors.Color, error) {
	if v == nil {
		return nil, nil
	}
	if len(v) != 3 {
		return nil, fmt.Errorf("want [r, g, b], got %d values", len(v))
	}
	for _, c := range v {
		if c < 0 || c > 255 {
			return nil, fmt.Errorf("channel %d outside 0..255", c)
		}
	}
	return &colors.Color{R: uint8(v[0]), G: uint8(v[1]), B: uint8(v[2])}, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

var structValidator = validator.New()

// validate runs field rules, then the cross-field rules tags cannot express.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfig, fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	if cfg.FetchBudget < cfg.WeatherTimeout {
		cfg.FetchBudget = cfg.WeatherTimeout
	}

	homes := 0
	var home models.Airport
	for _, a := range cfg.Airports {
		if a.Home {
			homes++
			home = a
		}
		if (a.Latitude == nil) != (a.Longitude == nil) {
			return fmt.Errorf("%w: airport %s needs both lat and lon", ErrInvalidConfig, a.ID)
		}
	}
	if homes > 1 {
		return fmt.Errorf("%w: %d airports marked home, want exactly one", ErrInvalidConfig, homes)
	}
	if cfg.NightEnabled {
		if homes == 0 {
			return fmt.Errorf("%w: night coloring enabled but no airport marked home", ErrInvalidConfig)
		}
		if !home.HasCoordinates() && !cfg.LookupHomeCoordinates {
			return fmt.Errorf("%w: home airport %s has no lat/lon (set them or night.lookup_home_coordinates)", ErrInvalidConfig, home.ID)
		}
	}
	return nil
}
