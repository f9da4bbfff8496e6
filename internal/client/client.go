package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kjstillabower/metar-led-map/internal/circuitbreaker"
	"github.com/kjstillabower/metar-led-map/internal/flightcat"
	"github.com/kjstillabower/metar-led-map/internal/models"
	"github.com/kjstillabower/metar-led-map/internal/observability"
)

// MetarClient fetches current observations for a batch of stations. Stations
// absent from the returned map were not reported by the upstream.
type MetarClient interface {
	FetchObservations(ctx context.Context, stations []string) (map[string]models.Observation, error)
}

var (
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrBadRequest        = errors.New("bad request")
	ErrMalformedResponse = errors.New("malformed response")
	ErrStationMissing    = errors.New("station missing from response")
)

const DefaultAPIURL = "https://aviationweather.gov/api/data/metar"

// AviationWeatherClient talks to the aviationweather.gov data API. Each call is
// a single attempt; retry policy belongs to the caller.
type AviationWeatherClient struct {
	apiURL    string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *circuitbreaker.CircuitBreaker
	now       func() time.Time
}

func NewAviationWeatherClient(apiURL, userAgent string, timeout time.Duration) (*AviationWeatherClient, error) {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	return &AviationWeatherClient{
		apiURL:    apiURL,
		userAgent: userAgent,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
	}, nil
}

// SetCircuitBreaker routes every request through cb.
func (c *AviationWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// SetRateLimiter paces outbound requests; nil disables pacing.
func (c *AviationWeatherClient) SetRateLimiter(l *rate.Limiter) {
	c.limiter = l
}

type metarReport struct {
	ICAO       string                 `json:"icaoId"`
	ObsTime    int64                  `json:"obsTime"`
	ReportTime string                 `json:"reportTime"`
	FltCat     string                 `json:"fltCat"`
	Visib      visibility             `json:"visib"`
	Clouds     []flightcat.CloudLayer `json:"clouds"`
	Lat        *float64               `json:"lat"`
	Lon        *float64               `json:"lon"`
	RawOb      string                 `json:"rawOb"`
}

// FetchObservations issues one batched request for stations.
func (c *AviationWeatherClient) FetchObservations(ctx context.Context, stations []string) (map[string]models.Observation, error) {
	if len(stations) == 0 {
		return map[string]models.Observation{}, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
	}

	var reports []metarReport
	err := c.breaker.Call(func() error {
		var callErr error
		reports, callErr = c.callAPI(ctx, stations)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return c.mapReports(reports, stations), nil
}

func (c *AviationWeatherClient) callAPI(ctx context.Context, stations []string) ([]metarReport, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, stations)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return decodeReports(body)
}

// decodeReports accepts either a bare JSON array or an object with a "data" array.
func decodeReports(body []byte) ([]metarReport, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var reports []metarReport
	if body[0] == '{' {
		var wrapped struct {
			Data []metarReport `json:"data"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return wrapped.Data, nil
	}
	if err := json.Unmarshal(body, &reports); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return reports, nil
}

func (c *AviationWeatherClient) buildRequest(ctx context.Context, stations []string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("ids", strings.Join(stations, ","))
	params.Set("format", "json")
	params.Set("taf", "false")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: HTTP %d", ErrBadRequest, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

// mapReports keeps only requested stations, newest report per station.
// Reports without a usable timestamp are dropped.
func (c *AviationWeatherClient) mapReports(reports []metarReport, stations []string) map[string]models.Observation {
	wanted := make(map[string]struct{}, len(stations))
	for _, s := range stations {
		wanted[strings.ToUpper(s)] = struct{}{}
	}
	fetchedAt := c.now().UTC()

	out := make(map[string]models.Observation, len(stations))
	for _, r := range reports {
		id := strings.ToUpper(strings.TrimSpace(r.ICAO))
		if _, ok := wanted[id]; !ok {
			continue
		}
		observedAt, ok := r.observedAt()
		if !ok {
			continue
		}
		obs := models.Observation{
			Station:    id,
			Category:   string(r.category()),
			ObservedAt: observedAt,
			FetchedAt:  fetchedAt,
			Latitude:   r.Lat,
			Longitude:  r.Lon,
			Raw:        r.RawOb,
		}
		if prev, ok := out[id]; ok && !obs.NewerThan(prev) {
			continue
		}
		out[id] = obs
	}
	return out
}

func (r metarReport) category() flightcat.Category {
	if cat := flightcat.Parse(r.FltCat); cat != flightcat.Unknown {
		return cat
	}
	return flightcat.FromConditions(flightcat.Ceiling(r.Clouds), r.Visib.miles)
}

func (r metarReport) observedAt() (time.Time, bool) {
	if r.ObsTime > 0 {
		return time.Unix(r.ObsTime, 0).UTC(), true
	}
	s := strings.TrimSpace(r.ReportTime)
	for _, layout := range []string{time.DateTime, "2006-01-02T15:04:05.999Z", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// LookupCoordinates returns the reported position of a single station.
func (c *AviationWeatherClient) LookupCoordinates(ctx context.Context, station string) (lat, lon float64, err error) {
	obs, err := c.FetchObservations(ctx, []string{station})
	if err != nil {
		return 0, 0, fmt.Errorf("lookup %s: %w", station, err)
	}
	o, ok := obs[strings.ToUpper(station)]
	if !ok || o.Latitude == nil || o.Longitude == nil {
		return 0, 0, fmt.Errorf("lookup %s: %w", station, ErrStationMissing)
	}
	return *o.Latitude, *o.Longitude, nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
