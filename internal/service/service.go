// Package service orchestrates weather retrieval: geocoding, the tiered
// cache, the upstream provider and query-history recording.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atmosdeck/weather-dashboard-service/internal/cache"
	"github.com/atmosdeck/weather-dashboard-service/internal/geocode"
	"github.com/atmosdeck/weather-dashboard-service/internal/models"
	"github.com/atmosdeck/weather-dashboard-service/internal/provider"
	"github.com/atmosdeck/weather-dashboard-service/internal/store"
)

// Source labels where a response payload came from.
const (
	SourceCache = "cache"
	SourceAPI   = "api"
)

// queryHistoryTTL is how long a recorded lookup stays in query history
// before the purge job removes it.
const queryHistoryTTL = 7 * 24 * time.Hour

// TTLs per payload kind. Current conditions go stale fastest; historical
// data never changes but the window it covers shifts daily.
type TTLConfig struct {
	Current    time.Duration
	Forecast   time.Duration
	Hourly     time.Duration
	Historical time.Duration
}

// DefaultTTLs returns the cache lifetimes used when config does not override
// them.
func DefaultTTLs() TTLConfig {
	return TTLConfig{
		Current:    5 * time.Minute,
		Forecast:   30 * time.Minute,
		Hourly:     10 * time.Minute,
		Historical: 6 * time.Hour,
	}
}

// CurrentResult is a current-conditions payload plus provenance. Degraded
// marks a live fetch forced by a cache infrastructure failure rather than a
// plain miss.
type CurrentResult struct {
	Weather  models.CurrentConditions
	Place    geocode.Result
	Source   string
	Degraded bool
}

// ForecastResult is a multi-day forecast plus provenance.
type ForecastResult struct {
	Days   []models.DailyConditions
	Place  geocode.Result
	Source string
}

// HourlyResult is an hour-by-hour forecast plus provenance.
type HourlyResult struct {
	Hours  []models.HourlyConditions
	Place  geocode.Result
	Source string
}

// WeatherService implements cache-aside retrieval: geocode the city, check
// the tiered cache, fall back to the provider, populate the cache on
// success. Every lookup is recorded to query history asynchronously.
type WeatherService struct {
	geocoder  geocode.Geocoder
	provider  provider.WeatherClient
	cache     *cache.TieredCache
	history   store.HistoryStore
	logger    *zap.Logger
	ttl       TTLConfig
	coalescer *requestCoalescer
}

// NewWeatherService creates the orchestration layer. coalesceTimeout of 0
// disables request coalescing.
func NewWeatherService(g geocode.Geocoder, p provider.WeatherClient, c *cache.TieredCache, history store.HistoryStore, logger *zap.Logger, ttl TTLConfig, coalesceTimeout time.Duration) *WeatherService {
	var coalescer *requestCoalescer
	if coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	if ttl == (TTLConfig{}) {
		ttl = DefaultTTLs()
	}
	return &WeatherService{
		geocoder:  g,
		provider:  p,
		cache:     c,
		history:   history,
		logger:    logger,
		ttl:       ttl,
		coalescer: coalescer,
	}
}

// Current returns current conditions for a city. force bypasses the cache
// read (the refreshed payload still repopulates it). The canonical geocoded
// name is stamped onto the payload whether it came from cache or upstream.
func (s *WeatherService) Current(ctx context.Context, userID, city string, units models.Units, force bool) (CurrentResult, error) {
	place, err := s.geocoder.Resolve(ctx, city)
	if err != nil {
		return CurrentResult{}, err
	}

	key := cache.Key(place.Lat, place.Lon, units, "current")

	degraded := false
	if !force {
		lookup := s.cache.Get(ctx, key)
		if lookup.Found {
			var cached models.CurrentConditions
			if err := json.Unmarshal(lookup.Value, &cached); err == nil {
				cached.Location = place.City
				s.recordQuery(userID, place, cached, "current")
				return CurrentResult{Weather: cached, Place: place, Source: SourceCache}, nil
			}
			s.cache.Delete(ctx, key)
		}
		// A degraded miss means cache infrastructure failed, not that the
		// entry was absent. The live fetch covers it; the flag survives onto
		// the response.
		degraded = lookup.Degraded
	}

	fetch := func() (models.CurrentConditions, error) {
		return s.provider.FetchCurrent(ctx, place.Lat, place.Lon, units)
	}

	var conditions models.CurrentConditions
	if s.coalescer != nil {
		conditions, err = s.coalescer.GetOrDo(ctx, key, fetch)
	} else {
		conditions, err = fetch()
	}
	if err != nil {
		return CurrentResult{}, fmt.Errorf("fetch current weather for %s: %w", place.City, err)
	}

	conditions.Location = place.City
	if raw, err := json.Marshal(conditions); err == nil {
		s.cache.Set(ctx, key, raw, s.ttl.Current)
	}

	s.recordQuery(userID, place, conditions, "current")
	return CurrentResult{Weather: conditions, Place: place, Source: SourceAPI, Degraded: degraded}, nil
}

// Forecast returns a multi-day forecast for a city.
func (s *WeatherService) Forecast(ctx context.Context, city string, days int, units models.Units) (ForecastResult, error) {
	place, err := s.geocoder.Resolve(ctx, city)
	if err != nil {
		return ForecastResult{}, err
	}

	key := cache.Key(place.Lat, place.Lon, units, fmt.Sprintf("forecast:%d", days))
	if lookup := s.cache.Get(ctx, key); lookup.Found {
		var cached []models.DailyConditions
		if err := json.Unmarshal(lookup.Value, &cached); err == nil {
			return ForecastResult{Days: cached, Place: place, Source: SourceCache}, nil
		}
		s.cache.Delete(ctx, key)
	}

	forecast, err := s.provider.FetchForecast(ctx, place.Lat, place.Lon, days, units)
	if err != nil {
		return ForecastResult{}, fmt.Errorf("fetch forecast for %s: %w", place.City, err)
	}
	if raw, err := json.Marshal(forecast); err == nil {
		s.cache.Set(ctx, key, raw, s.ttl.Forecast)
	}
	return ForecastResult{Days: forecast, Place: place, Source: SourceAPI}, nil
}

// Hourly returns an hour-by-hour forecast for a city.
func (s *WeatherService) Hourly(ctx context.Context, city string, hours int, units models.Units) (HourlyResult, error) {
	place, err := s.geocoder.Resolve(ctx, city)
	if err != nil {
		return HourlyResult{}, err
	}

	key := cache.Key(place.Lat, place.Lon, units, fmt.Sprintf("hourly:%d", hours))
	if lookup := s.cache.Get(ctx, key); lookup.Found {
		var cached []models.HourlyConditions
		if err := json.Unmarshal(lookup.Value, &cached); err == nil {
			return HourlyResult{Hours: cached, Place: place, Source: SourceCache}, nil
		}
		s.cache.Delete(ctx, key)
	}

	hourly, err := s.provider.FetchHourly(ctx, place.Lat, place.Lon, hours, units)
	if err != nil {
		return HourlyResult{}, fmt.Errorf("fetch hourly forecast for %s: %w", place.City, err)
	}
	if raw, err := json.Marshal(hourly); err == nil {
		s.cache.Set(ctx, key, raw, s.ttl.Hourly)
	}
	return HourlyResult{Hours: hourly, Place: place, Source: SourceAPI}, nil
}

// Historical returns past daily conditions for a city.
func (s *WeatherService) Historical(ctx context.Context, city string, days int, units models.Units) (ForecastResult, error) {
	place, err := s.geocoder.Resolve(ctx, city)
	if err != nil {
		return ForecastResult{}, err
	}

	key := cache.Key(place.Lat, place.Lon, units, fmt.Sprintf("historical:%d", days))
	if lookup := s.cache.Get(ctx, key); lookup.Found {
		var cached []models.DailyConditions
		if err := json.Unmarshal(lookup.Value, &cached); err == nil {
			return ForecastResult{Days: cached, Place: place, Source: SourceCache}, nil
		}
		s.cache.Delete(ctx, key)
	}

	historical, err := s.provider.FetchHistorical(ctx, place.Lat, place.Lon, days, units)
	if err != nil {
		return ForecastResult{}, fmt.Errorf("fetch historical weather for %s: %w", place.City, err)
	}
	if len(historical) > 0 {
		if raw, err := json.Marshal(historical); err == nil {
			s.cache.Set(ctx, key, raw, s.ttl.Historical)
		}
	}
	return ForecastResult{Days: historical, Place: place, Source: SourceAPI}, nil
}

// Warm pre-populates the current-conditions cache for a location. Used by
// the scheduled cache-warming job for favorite cities.
func (s *WeatherService) Warm(ctx context.Context, place geocode.Result, units models.Units) error {
	conditions, err := s.provider.FetchCurrent(ctx, place.Lat, place.Lon, units)
	if err != nil {
		return err
	}
	conditions.Location = place.City
	raw, err := json.Marshal(conditions)
	if err != nil {
		return err
	}
	s.cache.Set(ctx, cache.Key(place.Lat, place.Lon, units, "current"), raw, s.ttl.Current)
	return nil
}

// recordQuery appends the lookup to query history on a detached goroutine.
// History is best effort; a slow or failing store must not delay responses.
func (s *WeatherService) recordQuery(userID string, place geocode.Result, weather models.CurrentConditions, queryType string) {
	if userID == "" || s.history == nil {
		return
	}
	now := time.Now()
	record := models.QueryRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		City:      place.City,
		Country:   place.Country,
		Latitude:  place.Lat,
		Longitude: place.Lon,
		Weather:   weather,
		QueryType: queryType,
		QueriedAt: now,
		ExpiresAt: now.Add(queryHistoryTTL),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.history.RecordQuery(ctx, record); err != nil {
			s.logger.Warn("failed to record query history",
				zap.String("userId", userID),
				zap.String("city", place.City),
				zap.Error(err))
		}
	}()
}
