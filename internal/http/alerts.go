package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/atmosdeck/weather-dashboard-service/internal/geocode"
	"github.com/atmosdeck/weather-dashboard-service/internal/models"
	"github.com/atmosdeck/weather-dashboard-service/internal/store"
	"github.com/atmosdeck/weather-dashboard-service/internal/validation"
)

// createAlertRequest is the POST /api/alerts payload.
type createAlertRequest struct {
	Name       string  `json:"name" validate:"required,min=1,max=100"`
	Metric     string  `json:"type" validate:"required,oneof=temperature humidity wind_speed precipitation"`
	Threshold  float64 `json:"thresholdValue" validate:"gte=-200,lte=10000"`
	Comparison string  `json:"comparison" validate:"required,oneof=greater_than less_than equals"`
	Location   string  `json:"location" validate:"required,min=1,max=100"`
	Severity   string  `json:"severity" validate:"omitempty,oneof=info warning critical"`
}

// updateAlertRequest is the PUT /api/alerts/{id} payload. All fields are
// optional; absent fields stay unchanged.
type updateAlertRequest struct {
	Name      *string  `json:"name" validate:"omitempty,min=1,max=100"`
	Threshold *float64 `json:"thresholdValue" validate:"omitempty,gte=-200,lte=10000"`
	Active    *bool    `json:"active"`
}

// ListAlerts handles GET /api/alerts. Query param: active=true filters to
// active definitions.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	alerts, err := h.alerts.ListByUser(r.Context(), userID(r), activeOnly)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "failed to load alerts")
		return
	}
	if alerts == nil {
		alerts = []models.AlertDefinition{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

// CreateAlert handles POST /api/alerts. The location is geocoded once at
// creation; the evaluation engine uses the stored coordinates from then on.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ALERT", err.Error())
		return
	}
	city, err := validation.ValidateCity(req.Location)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	uid := userID(r)
	count, err := h.alerts.CountActive(r.Context(), uid)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "failed to count alerts")
		return
	}
	if count >= maxActiveAlerts {
		writeError(w, r, http.StatusConflict, "ALERT_LIMIT_REACHED", "maximum number of active alerts reached")
		return
	}

	place, err := h.geocoder.Resolve(r.Context(), city)
	if err != nil {
		if errors.Is(err, geocode.ErrCityNotFound) {
			writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "no matching city")
			return
		}
		writeError(w, r, http.StatusServiceUnavailable, "GEOCODE_UNAVAILABLE", "unable to resolve location")
		return
	}

	severity := req.Severity
	if severity == "" {
		severity = "warning"
	}
	alert := models.AlertDefinition{
		ID:         uuid.NewString(),
		UserID:     uid,
		Name:       req.Name,
		Metric:     models.Metric(req.Metric),
		Threshold:  req.Threshold,
		Comparison: models.Comparison(req.Comparison),
		Location:   place.City,
		Latitude:   place.Lat,
		Longitude:  place.Lon,
		Severity:   severity,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.alerts.Create(r.Context(), alert); err != nil {
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "failed to create alert")
		return
	}

	h.logger.Info("alert created",
		zap.String("alertId", alert.ID),
		zap.String("userId", uid),
		zap.String("location", alert.Location))
	writeJSON(w, http.StatusCreated, alert)
}

// UpdateAlert handles PUT /api/alerts/{id}.
func (h *Handler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	var req updateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ALERT", err.Error())
		return
	}

	update := store.AlertUpdate{Name: req.Name, Threshold: req.Threshold, Active: req.Active}
	alert, err := h.alerts.Update(r.Context(), userID(r), mux.Vars(r)["id"], update)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "ALERT_NOT_FOUND", "alert not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "failed to update alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// DeleteAlert handles DELETE /api/alerts/{id}.
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	err := h.alerts.Delete(r.Context(), userID(r), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "ALERT_NOT_FOUND", "alert not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "failed to delete alert")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAlertHistory handles GET /api/alerts/history, listing trigger events
// newest first.
func (h *Handler) GetAlertHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.history.ListTriggers(r.Context(), userID(r), intParam(r, "limit", 50))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "STORE_ERROR", "failed to load alert history")
		return
	}
	if events == nil {
		events = []models.TriggerEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": events})
}
