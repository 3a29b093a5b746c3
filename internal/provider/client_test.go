package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atmosdeck/weather-dashboard-service/internal/circuitbreaker"
	"github.com/atmosdeck/weather-dashboard-service/internal/models"
)

const currentWeatherBody = `{
	"current": {
		"temperature_2m": 15.5,
		"relative_humidity_2m": 65,
		"apparent_temperature": 14.2,
		"precipitation": 0.0,
		"weather_code": 2,
		"pressure_msl": 1013.2,
		"wind_speed_10m": 3.2,
		"wind_direction_10m": 270,
		"is_day": 1,
		"visibility": 24000
	},
	"daily": {
		"sunrise": ["2026-08-23T06:12"],
		"sunset": ["2026-08-23T20:05"],
		"uv_index_max": [5.4]
	}
}`

// fastTestConfig keeps retry/backoff delays negligible in tests.
func fastTestConfig(forecastURL, aqiURL, archiveURL string) Config {
	return Config{
		ForecastURL:    forecastURL,
		AirQualityURL:  aqiURL,
		ArchiveURL:     archiveURL,
		Timeout:        2 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
}

func TestClient_FetchCurrent_Success(t *testing.T) {
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("temperature_unit") != "celsius" {
			t.Errorf("temperature_unit = %q, want celsius", q.Get("temperature_unit"))
		}
		if q.Get("latitude") != "47.6062" {
			t.Errorf("latitude = %q, want 47.6062", q.Get("latitude"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(currentWeatherBody))
	}))
	defer forecast.Close()

	aqi := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current":{"us_aqi":37}}`))
	}))
	defer aqi.Close()

	c := NewClient(fastTestConfig(forecast.URL, aqi.URL, ""))

	got, err := c.FetchCurrent(context.Background(), 47.6062, -122.3321, models.UnitsMetric)
	if err != nil {
		t.Fatalf("FetchCurrent() error = %v", err)
	}
	if got.Temperature != 15.5 {
		t.Errorf("Temperature = %v, want 15.5", got.Temperature)
	}
	if got.Condition != "Partly cloudy" {
		t.Errorf("Condition = %q, want Partly cloudy", got.Condition)
	}
	if got.AirQuality != 37 {
		t.Errorf("AirQuality = %v, want 37", got.AirQuality)
	}
	if got.Visibility != 24.0 {
		t.Errorf("Visibility = %v km, want 24.0", got.Visibility)
	}
}

func TestClient_FetchCurrent_AirQualityFailureDegrades(t *testing.T) {
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(currentWeatherBody))
	}))
	defer forecast.Close()

	aqi := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer aqi.Close()

	c := NewClient(fastTestConfig(forecast.URL, aqi.URL, ""))

	got, err := c.FetchCurrent(context.Background(), 47.6, -122.3, models.UnitsMetric)
	if err != nil {
		t.Fatalf("FetchCurrent() error = %v, want degraded success", err)
	}
	if got.AirQuality != defaultAirQuality {
		t.Errorf("AirQuality = %v, want default %d on air-quality failure", got.AirQuality, defaultAirQuality)
	}
}

func TestClient_FetchCurrent_ForecastFailureIsFatal(t *testing.T) {
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer forecast.Close()

	aqi := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"current":{"us_aqi":10}}`))
	}))
	defer aqi.Close()

	c := NewClient(fastTestConfig(forecast.URL, aqi.URL, ""))

	_, err := c.FetchCurrent(context.Background(), 47.6, -122.3, models.UnitsMetric)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("FetchCurrent() error = %v, want ErrUpstream", err)
	}
}

func TestClient_Retry_TransientThenSuccess(t *testing.T) {
	var calls int32
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"daily":{"time":["2026-08-23"],"weather_code":[0],"temperature_2m_max":[20],"temperature_2m_min":[10]}}`))
	}))
	defer forecast.Close()

	c := NewClient(fastTestConfig(forecast.URL, "", ""))

	got, err := c.FetchForecast(context.Background(), 1, 2, 7, models.UnitsMetric)
	if err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("upstream calls = %d, want 3 (two retries)", n)
	}
}

func TestClient_Retry_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer forecast.Close()

	c := NewClient(fastTestConfig(forecast.URL, "", ""))

	_, err := c.FetchForecast(context.Background(), 1, 2, 7, models.UnitsMetric)
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("FetchForecast() error = %v, want ErrBadRequest", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("upstream calls = %d, want 1 (a rejected request is not retried)", n)
	}
}

func TestClient_FetchHourly_ClampsHours(t *testing.T) {
	var gotDays string
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDays = r.URL.Query().Get("forecast_days")
		_, _ = w.Write([]byte(`{"hourly":{"time":[]}}`))
	}))
	defer forecast.Close()

	c := NewClient(fastTestConfig(forecast.URL, "", ""))

	if _, err := c.FetchHourly(context.Background(), 1, 2, 100000, models.UnitsMetric); err != nil {
		t.Fatalf("FetchHourly() error = %v", err)
	}
	if gotDays != "16" {
		t.Errorf("forecast_days = %q, want clamped 16", gotDays)
	}

	if _, err := c.FetchHourly(context.Background(), 1, 2, 0, models.UnitsMetric); err != nil {
		t.Fatalf("FetchHourly() error = %v", err)
	}
	if gotDays != "2" {
		t.Errorf("forecast_days = %q, want 2 for the default 24h window", gotDays)
	}
}

func TestClient_FetchForecast_ClampsDays(t *testing.T) {
	var gotDays string
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDays = r.URL.Query().Get("forecast_days")
		_, _ = w.Write([]byte(`{"daily":{"time":[]}}`))
	}))
	defer forecast.Close()

	c := NewClient(fastTestConfig(forecast.URL, "", ""))

	if _, err := c.FetchForecast(context.Background(), 1, 2, 99, models.UnitsMetric); err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if gotDays != "16" {
		t.Errorf("forecast_days = %q, want clamped 16", gotDays)
	}

	if _, err := c.FetchForecast(context.Background(), 1, 2, 0, models.UnitsMetric); err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if gotDays != "1" {
		t.Errorf("forecast_days = %q, want clamped 1", gotDays)
	}
}

func TestClient_FetchHistorical_DegradesToEmpty(t *testing.T) {
	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer archive.Close()

	c := NewClient(fastTestConfig("", "", archive.URL))

	got, err := c.FetchHistorical(context.Background(), 1, 2, 30, models.UnitsMetric)
	if err != nil {
		t.Fatalf("FetchHistorical() error = %v, want degrade-to-empty", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestClient_CircuitBreaker_OpensAndFailsFast(t *testing.T) {
	var calls int32
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer forecast.Close()

	cfg := fastTestConfig(forecast.URL, "", "")
	cfg.RetryAttempts = 1 // one upstream call per breaker call
	cfg.BreakerThreshold = 5
	cfg.BreakerTimeout = time.Minute
	c := NewClient(cfg)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := c.FetchForecast(ctx, 1, 2, 7, models.UnitsMetric); !errors.Is(err, ErrUpstream) {
			t.Fatalf("call %d error = %v, want ErrUpstream", i, err)
		}
	}
	if st := c.BreakerState(opForecast); st != circuitbreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", st)
	}

	before := atomic.LoadInt32(&calls)
	_, err := c.FetchForecast(ctx, 1, 2, 7, models.UnitsMetric)
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if after := atomic.LoadInt32(&calls); after != before {
		t.Errorf("upstream was called while circuit open (%d -> %d)", before, after)
	}
}

func TestClient_BreakersAreIndependentPerOperation(t *testing.T) {
	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("hourly") != "" {
			_, _ = w.Write([]byte(`{"hourly":{"time":[]}}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer forecast.Close()

	cfg := fastTestConfig(forecast.URL, "", "")
	cfg.RetryAttempts = 1
	cfg.BreakerThreshold = 2
	c := NewClient(cfg)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _ = c.FetchForecast(ctx, 1, 2, 7, models.UnitsMetric)
	}
	if st := c.BreakerState(opForecast); st != circuitbreaker.StateOpen {
		t.Fatalf("forecast breaker = %v, want open", st)
	}

	// Hourly still works: its breaker is separate.
	if _, err := c.FetchHourly(ctx, 1, 2, 24, models.UnitsMetric); err != nil {
		t.Errorf("FetchHourly() error = %v, want success", err)
	}
}
