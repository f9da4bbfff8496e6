package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/metar-led-map/internal/control"
	"github.com/kjstillabower/metar-led-map/internal/degraded"
	"github.com/kjstillabower/metar-led-map/internal/lifecycle"
	"github.com/kjstillabower/metar-led-map/internal/validation"
)

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// StallAfter marks the loop stalled when no cycle completed within it.
	// 0 disables; ignored outside the normal mode.
	StallAfter time.Duration
	StartTime  time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// StatusSource is the read side of the control loop.
type StatusSource interface {
	Snapshot() control.Snapshot
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	status           StatusSource
	healthConfig     *HealthConfig
	logger           *zap.Logger
	now              func() time.Time
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(status StatusSource, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		status:       status,
		healthConfig: healthConfig,
		logger:       logger,
		now:          time.Now,
	}
}

// NewRouter wires the status routes and middleware.
func NewRouter(h *Handler, limiter *rate.Limiter, metrics http.Handler, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(RateLimitMiddleware(limiter))
	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.HandleFunc("/airports", h.GetAirports).Methods(http.MethodGet)
	r.HandleFunc("/airports/{id}", h.GetAirport).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return r
}

// GetAirports handles GET /airports with the last rendered cycle.
func (h *Handler) GetAirports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Snapshot())
}

// GetAirport handles GET /airports/{id}.
func (h *Handler) GetAirport(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ValidateStation(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_STATION", err.Error())
		return
	}
	for _, a := range h.status.Snapshot().Airports {
		if a.ID == id {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}
	writeError(w, r, http.StatusNotFound, "UNKNOWN_STATION", "station "+id+" is not on this map")
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.reason == "error_rate_breach" {
		checks["weatherApi"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	snap := h.status.Snapshot()
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "metar-led-map",
		"mode":      lifecycle.Mode(),
		"cycles":    snap.Cycles,
		"checks":    checks,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	if !snap.CompletedAt.IsZero() {
		resp["lastCycle"] = snap.CompletedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > stalled > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	// Diagnostic modes never complete a refresh cycle.
	if mode := lifecycle.Mode(); h.healthConfig.StallAfter > 0 && (mode == "" || mode == control.ModeNormal.String()) {
		last := h.status.Snapshot().CompletedAt
		if last.IsZero() {
			last = h.healthConfig.StartTime
		}
		if !last.IsZero() && h.now().Sub(last) > h.healthConfig.StallAfter {
			return healthResult{"stalled", http.StatusServiceUnavailable, "no_recent_cycle"}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 &&
		degraded.IsDegraded(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r),
		},
	})
}
