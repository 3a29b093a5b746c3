// Package http exposes the dashboard API: weather lookups, alert CRUD,
// favorites, history, the SSE stream and operational endpoints.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/atmosdeck/weather-dashboard-service/internal/geocode"
	"github.com/atmosdeck/weather-dashboard-service/internal/models"
	"github.com/atmosdeck/weather-dashboard-service/internal/provider"
	"github.com/atmosdeck/weather-dashboard-service/internal/service"
	"github.com/atmosdeck/weather-dashboard-service/internal/sse"
	"github.com/atmosdeck/weather-dashboard-service/internal/store"
	"github.com/atmosdeck/weather-dashboard-service/internal/validation"
)

// defaultUserID stands in when the caller sends no X-User-ID header. The
// gateway in front of this service injects real user identities.
const defaultUserID = "default"

// maxActiveAlerts caps active alert definitions per user.
const maxActiveAlerts = 20

// EngineStatus reports whether the background alert loop is alive. The
// health handler consumes it.
type EngineStatus interface {
	Running() bool
}

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	weather   *service.WeatherService
	geocoder  geocode.Geocoder
	alerts    store.AlertStore
	history   store.HistoryStore
	favorites store.FavoriteStore
	hub       *sse.Hub
	engine    EngineStatus
	cachePing func() error
	breakers  func() map[string]string
	logger    *zap.Logger
	version   string
	startTime time.Time
}

// NewHandler returns a new Handler. cachePing and breakers feed the health
// endpoint's component checks; either may be nil.
func NewHandler(
	weather *service.WeatherService,
	geocoder geocode.Geocoder,
	alerts store.AlertStore,
	history store.HistoryStore,
	favorites store.FavoriteStore,
	hub *sse.Hub,
	engine EngineStatus,
	cachePing func() error,
	breakers func() map[string]string,
	logger *zap.Logger,
	version string,
) *Handler {
	return &Handler{
		weather:   weather,
		geocoder:  geocoder,
		alerts:    alerts,
		history:   history,
		favorites: favorites,
		hub:       hub,
		engine:    engine,
		cachePing: cachePing,
		breakers:  breakers,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

func userID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id
	}
	return defaultUserID
}

func unitsParam(r *http.Request) (models.Units, bool) {
	raw := r.URL.Query().Get("units")
	if raw == "" {
		return models.UnitsMetric, true
	}
	u := models.Units(strings.ToLower(raw))
	return u, u.Valid()
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// GetWeather handles GET /api/weather/{city}. Query params: units
// (metric|imperial), refresh (bypass the cache read).
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	units, ok := unitsParam(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNITS", "units must be metric or imperial")
		return
	}
	force := r.URL.Query().Get("refresh") == "true"

	result, err := h.weather.Current(r.Context(), userID(r), city, units, force)
	if err != nil {
		writeWeatherError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"weather":  result.Weather,
		"source":   result.Source,
		"degraded": result.Degraded,
	})
}

// GetForecast handles GET /api/forecast/{city}. Query params: days, units.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	units, ok := unitsParam(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNITS", "units must be metric or imperial")
		return
	}

	result, err := h.weather.Forecast(r.Context(), city, intParam(r, "days", 7), units)
	if err != nil {
		writeWeatherError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"location": result.Place.City,
		"forecast": result.Days,
		"source":   result.Source,
	})
}

// GetHourly handles GET /api/hourly/{city}. Query params: hours, units.
func (h *Handler) GetHourly(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	units, ok := unitsParam(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNITS", "units must be metric or imperial")
		return
	}

	result, err := h.weather.Hourly(r.Context(), city, intParam(r, "hours", 24), units)
	if err != nil {
		writeWeatherError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"location": result.Place.City,
		"hourly":   result.Hours,
		"source":   result.Source,
	})
}

// GetHistoricalWeather handles GET /api/historical/{city}. Query params:
// days, units.
func (h *Handler) GetHistoricalWeather(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	units, ok := unitsParam(r)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNITS", "units must be metric or imperial")
		return
	}

	result, err := h.weather.Historical(r.Context(), city, intParam(r, "days", 7), units)
	if err != nil {
		writeWeatherError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"location":   result.Place.City,
		"historical": result.Days,
		"source":     result.Source,
	})
}

// GetQueryHistory handles GET /api/history/queries.
func (h *Handler) GetQueryHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.history.ListQueries(r.Context(), userID(r), intParam(r, "limit", 50))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "failed to load query history")
		return
	}
	if records == nil {
		records = []models.QueryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queries": records})
}

// StreamEvents handles GET /api/stream, holding the connection open for SSE.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeStream(w, r, userID(r))
}

// GetHealth handles GET /health with per-component checks.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	statusCode := http.StatusOK
	checks := make(map[string]string)

	if h.cachePing != nil {
		if err := h.cachePing(); err == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "degraded"
			status = "degraded"
		}
	}

	if h.breakers != nil {
		open := false
		for op, state := range h.breakers() {
			checks["provider:"+op] = state
			if state == "open" {
				open = true
			}
		}
		if open {
			status = "degraded"
		}
	}

	if h.engine != nil {
		if h.engine.Running() {
			checks["alertEngine"] = "running"
		} else {
			checks["alertEngine"] = "stopped"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"status":    status,
		"service":   "weather-dashboard-service",
		"version":   h.version,
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with code, message and the
// request correlation ID when present.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeWeatherError maps service-layer failures onto API error responses.
func writeWeatherError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, geocode.ErrCityNotFound):
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "no matching city")
	case errors.Is(err, provider.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED", "weather provider rate limit hit")
	default:
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "unable to fetch weather data")
		if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
			logger.Debug("upstream error", zap.Error(err))
		}
	}
}
