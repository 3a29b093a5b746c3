package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atmosdeck/weather-dashboard-service/internal/circuitbreaker"
	"github.com/atmosdeck/weather-dashboard-service/internal/models"
	"github.com/atmosdeck/weather-dashboard-service/internal/observability"
)

// WeatherClient is implemented by the Open-Meteo client. The service layer
// and the alert engine depend on this interface, not the concrete client.
type WeatherClient interface {
	FetchCurrent(ctx context.Context, lat, lon float64, units models.Units) (models.CurrentConditions, error)
	FetchForecast(ctx context.Context, lat, lon float64, days int, units models.Units) ([]models.DailyConditions, error)
	FetchHourly(ctx context.Context, lat, lon float64, hours int, units models.Units) ([]models.HourlyConditions, error)
	FetchHistorical(ctx context.Context, lat, lon float64, days int, units models.Units) ([]models.DailyConditions, error)
}

var (
	// ErrUpstream marks a transient provider failure (network, 5xx); retryable.
	ErrUpstream = errors.New("upstream failure")
	// ErrRateLimited marks a 429 from the provider; retryable.
	ErrRateLimited = errors.New("rate limited")
	// ErrBadRequest marks a non-429 4xx from the provider. The request itself
	// is wrong, so retrying the same request is never attempted.
	ErrBadRequest = errors.New("upstream rejected request")
)

// Operation names, used as circuit-breaker components and metric labels.
const (
	opCurrent    = "current"
	opForecast   = "forecast"
	opHourly     = "hourly"
	opHistorical = "historical"
)

const (
	minForecastDays   = 1
	maxForecastDays   = 16
	minHistoricalDays = 1
	maxHistoricalDays = 90

	defaultHourlyHours = 24
	maxHourlyHours     = maxForecastDays * 24

	// defaultAirQuality is reported when the air-quality upstream fails but
	// the forecast call succeeded.
	defaultAirQuality = 1
)

// Client fetches weather data from the Open-Meteo APIs. Every operation is
// wrapped in retry-with-backoff and a per-operation circuit breaker. The
// client itself never caches.
type Client struct {
	forecastURL   string
	airQualityURL string
	archiveURL    string

	client         *http.Client
	timeout        time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration

	breakers map[string]*circuitbreaker.CircuitBreaker
}

// Config holds provider client parameters. Zero fields use defaults matching
// the upstream contract: 10s per-call timeout, 3 attempts, 1s base backoff
// capped at 10s, breaker opens after 5 consecutive failures for 60s.
type Config struct {
	ForecastURL   string
	AirQualityURL string
	ArchiveURL    string

	Timeout          time.Duration
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// NewClient creates a Client with per-operation circuit breakers whose state
// transitions feed the circuit-breaker metrics.
func NewClient(cfg Config) *Client {
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = "https://api.open-meteo.com/v1/forecast"
	}
	if cfg.AirQualityURL == "" {
		cfg.AirQualityURL = "https://air-quality-api.open-meteo.com/v1/air-quality"
	}
	if cfg.ArchiveURL == "" {
		cfg.ArchiveURL = "https://archive-api.open-meteo.com/v1/archive"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 60 * time.Second
	}

	breakers := make(map[string]*circuitbreaker.CircuitBreaker, 4)
	for _, op := range []string{opCurrent, opForecast, opHourly, opHistorical} {
		op := op
		breakers[op] = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerThreshold,
			Timeout:          cfg.BreakerTimeout,
			Component:        "weather_api_" + op,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("weather_api_"+op, from.String(), to.String(), int(to))
			},
		})
	}

	return &Client{
		forecastURL:    cfg.ForecastURL,
		airQualityURL:  cfg.AirQualityURL,
		archiveURL:     cfg.ArchiveURL,
		timeout:        cfg.Timeout,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		client:         &http.Client{Timeout: cfg.Timeout},
		breakers:       breakers,
	}
}

// BreakerState returns the named operation's breaker state for health checks.
func (c *Client) BreakerState(op string) circuitbreaker.State {
	if cb, ok := c.breakers[op]; ok {
		return cb.State()
	}
	return circuitbreaker.StateClosed
}

// BreakerStates reports every operation's breaker state. The health endpoint
// surfaces these as component checks.
func (c *Client) BreakerStates() map[string]string {
	out := make(map[string]string, len(c.breakers))
	for op, cb := range c.breakers {
		out[op] = cb.State().String()
	}
	return out
}

// FetchCurrent fetches current conditions plus today's daily extremes and
// air quality for the coordinates. The forecast and air-quality requests run
// concurrently; a forecast failure fails the call, an air-quality failure
// degrades to the default AQI instead.
func (c *Client) FetchCurrent(ctx context.Context, lat, lon float64, units models.Units) (models.CurrentConditions, error) {
	var result models.CurrentConditions

	err := c.do(ctx, opCurrent, func() error {
		weatherParams := url.Values{}
		weatherParams.Set("latitude", formatCoord(lat))
		weatherParams.Set("longitude", formatCoord(lon))
		weatherParams.Set("current", "temperature_2m,relative_humidity_2m,apparent_temperature,precipitation,weather_code,cloud_cover,pressure_msl,wind_speed_10m,wind_direction_10m,is_day,visibility")
		weatherParams.Set("daily", "sunrise,sunset,uv_index_max")
		weatherParams.Set("timezone", "auto")
		setUnitParams(weatherParams, units)

		aqiParams := url.Values{}
		aqiParams.Set("latitude", formatCoord(lat))
		aqiParams.Set("longitude", formatCoord(lon))
		aqiParams.Set("current", "us_aqi,european_aqi")

		var (
			wg         sync.WaitGroup
			weather    forecastResponse
			aqi        airQualityResponse
			weatherErr error
			aqiErr     error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			weatherErr = c.getJSON(ctx, opCurrent, c.forecastURL, weatherParams, &weather)
		}()
		go func() {
			defer wg.Done()
			aqiErr = c.getJSON(ctx, opCurrent, c.airQualityURL, aqiParams, &aqi)
		}()
		wg.Wait()

		if weatherErr != nil {
			return weatherErr
		}
		airQuality := float64(defaultAirQuality)
		if aqiErr == nil && aqi.Current.USAQI != nil {
			airQuality = *aqi.Current.USAQI
		}
		result = transformCurrent(weather, airQuality, lat, lon)
		return nil
	})
	if err != nil {
		return models.CurrentConditions{}, err
	}
	return result, nil
}

// FetchForecast fetches a daily forecast. days is clamped to [1,16].
func (c *Client) FetchForecast(ctx context.Context, lat, lon float64, days int, units models.Units) ([]models.DailyConditions, error) {
	days = clamp(days, minForecastDays, maxForecastDays)

	var result []models.DailyConditions
	err := c.do(ctx, opForecast, func() error {
		params := url.Values{}
		params.Set("latitude", formatCoord(lat))
		params.Set("longitude", formatCoord(lon))
		params.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min,sunrise,sunset,uv_index_max,precipitation_sum,precipitation_probability_max,wind_speed_10m_max")
		params.Set("timezone", "auto")
		params.Set("forecast_days", strconv.Itoa(days))
		setUnitParams(params, units)

		var resp dailyResponse
		if err := c.getJSON(ctx, opForecast, c.forecastURL, params, &resp); err != nil {
			return err
		}
		result = transformForecast(resp, days)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FetchHourly fetches an hourly forecast covering the next hours hours,
// clamped to the 16-day window the forecast endpoint serves.
func (c *Client) FetchHourly(ctx context.Context, lat, lon float64, hours int, units models.Units) ([]models.HourlyConditions, error) {
	if hours <= 0 {
		hours = defaultHourlyHours
	}
	if hours > maxHourlyHours {
		hours = maxHourlyHours
	}

	var result []models.HourlyConditions
	err := c.do(ctx, opHourly, func() error {
		params := url.Values{}
		params.Set("latitude", formatCoord(lat))
		params.Set("longitude", formatCoord(lon))
		params.Set("hourly", "temperature_2m,weather_code,precipitation,precipitation_probability,wind_speed_10m,relative_humidity_2m")
		params.Set("timezone", "auto")
		params.Set("forecast_days", strconv.Itoa(clamp(hours/24+1, minForecastDays, maxForecastDays)))
		setUnitParams(params, units)

		var resp hourlyResponse
		if err := c.getJSON(ctx, opHourly, c.forecastURL, params, &resp); err != nil {
			return err
		}
		result = transformHourly(resp, hours)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FetchHistorical fetches daily archive data for the last days days, clamped
// to [1,90]. Any failure degrades to an empty slice by policy: dashboards
// render an empty history panel rather than erroring the whole page.
func (c *Client) FetchHistorical(ctx context.Context, lat, lon float64, days int, units models.Units) ([]models.DailyConditions, error) {
	days = clamp(days, minHistoricalDays, maxHistoricalDays)

	var result []models.DailyConditions
	err := c.do(ctx, opHistorical, func() error {
		end := time.Now().UTC()
		start := end.AddDate(0, 0, -days)

		params := url.Values{}
		params.Set("latitude", formatCoord(lat))
		params.Set("longitude", formatCoord(lon))
		params.Set("start_date", start.Format("2006-01-02"))
		params.Set("end_date", end.Format("2006-01-02"))
		params.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum,wind_speed_10m_max,wind_direction_10m_dominant")
		params.Set("timezone", "auto")
		setUnitParams(params, units)

		var resp dailyResponse
		if err := c.getJSON(ctx, opHistorical, c.archiveURL, params, &resp); err != nil {
			return err
		}
		result = transformHistorical(resp)
		return nil
	})
	if err != nil {
		return []models.DailyConditions{}, nil
	}
	return result, nil
}

// do wraps fn in the operation's circuit breaker around the retry loop, so
// one exhausted retry sequence counts as one breaker failure.
func (c *Client) do(ctx context.Context, op string, fn func() error) error {
	cb := c.breakers[op]
	return cb.Call(ctx, func() error {
		return c.retry(ctx, op, fn)
	})
}

// retry runs fn up to retryAttempts times with exponential backoff, retrying
// only transient failure classes (network, timeout, 5xx, 429).
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.ProviderRetriesTotal.WithLabelValues(op).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstream) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "context deadline exceeded")
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

// getJSON issues one GET against baseURL with params and decodes the JSON
// body into out. Per-call timeout applies on top of the caller's context.
func (c *Client) getJSON(ctx context.Context, op, baseURL string, params url.Values, out interface{}) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid API URL: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		category := string(CategorizeError(err))
		observability.ProviderCallsTotal.WithLabelValues(op, category).Inc()
		observability.ProviderCallDuration.WithLabelValues(op, category).Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.ProviderCallsTotal.WithLabelValues(op, status).Inc()
	observability.ProviderCallDuration.WithLabelValues(op, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: HTTP %d", ErrBadRequest, resp.StatusCode)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUpstream, resp.StatusCode)
	}
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

func setUnitParams(params url.Values, units models.Units) {
	if units == models.UnitsImperial {
		params.Set("temperature_unit", "fahrenheit")
		params.Set("wind_speed_unit", "mph")
		return
	}
	params.Set("temperature_unit", "celsius")
	params.Set("wind_speed_unit", "kmh")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
