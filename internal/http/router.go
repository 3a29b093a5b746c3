package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atmosdeck/weather-dashboard-service/internal/observability"
)

// NewRouter builds the full route table. Weather routes get the rate limiter
// and per-request timeout; the SSE stream stays outside the timeout because
// it holds the connection open indefinitely.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(limiter))

	api.HandleFunc("/stream", h.StreamEvents).Methods("GET")

	timed := api.NewRoute().Subrouter()
	timed.Use(TimeoutMiddleware(requestTimeout))

	timed.HandleFunc("/weather/{city}", h.GetWeather).Methods("GET")
	timed.HandleFunc("/forecast/{city}", h.GetForecast).Methods("GET")
	timed.HandleFunc("/hourly/{city}", h.GetHourly).Methods("GET")
	timed.HandleFunc("/historical/{city}", h.GetHistoricalWeather).Methods("GET")

	timed.HandleFunc("/alerts", h.ListAlerts).Methods("GET")
	timed.HandleFunc("/alerts", h.CreateAlert).Methods("POST")
	timed.HandleFunc("/alerts/history", h.GetAlertHistory).Methods("GET")
	timed.HandleFunc("/alerts/{id}", h.UpdateAlert).Methods("PUT")
	timed.HandleFunc("/alerts/{id}", h.DeleteAlert).Methods("DELETE")

	timed.HandleFunc("/favorites", h.ListFavorites).Methods("GET")
	timed.HandleFunc("/favorites", h.AddFavorite).Methods("POST")
	timed.HandleFunc("/favorites/{id}", h.RemoveFavorite).Methods("DELETE")

	timed.HandleFunc("/history/queries", h.GetQueryHistory).Methods("GET")

	return router
}
