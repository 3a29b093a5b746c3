package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atmosdeck/weather-dashboard-service/internal/cache"
	"github.com/atmosdeck/weather-dashboard-service/internal/geocode"
	"github.com/atmosdeck/weather-dashboard-service/internal/models"
	"github.com/atmosdeck/weather-dashboard-service/internal/service"
	"github.com/atmosdeck/weather-dashboard-service/internal/store"
)

type stubGeocoder struct{}

func (stubGeocoder) Resolve(ctx context.Context, city string) (geocode.Result, error) {
	return geocode.Result{City: city}, nil
}

type countingProvider struct {
	calls int32
}

func (p *countingProvider) FetchCurrent(ctx context.Context, lat, lon float64, units models.Units) (models.CurrentConditions, error) {
	atomic.AddInt32(&p.calls, 1)
	return models.CurrentConditions{Temperature: 15}, nil
}

func (p *countingProvider) FetchForecast(ctx context.Context, lat, lon float64, days int, units models.Units) ([]models.DailyConditions, error) {
	return nil, nil
}

func (p *countingProvider) FetchHourly(ctx context.Context, lat, lon float64, hours int, units models.Units) ([]models.HourlyConditions, error) {
	return nil, nil
}

func (p *countingProvider) FetchHistorical(ctx context.Context, lat, lon float64, days int, units models.Units) ([]models.DailyConditions, error) {
	return nil, nil
}

func newTestScheduler(t *testing.T, memStore *store.MemoryStore, provider *countingProvider) *Scheduler {
	t.Helper()
	logger := zap.NewNop()
	tiered := cache.NewTieredCache(cache.NewMemoryTier(), logger)
	weather := service.NewWeatherService(stubGeocoder{}, provider, tiered, nil, logger, service.DefaultTTLs(), 0)
	return New(weather, memStore, memStore, logger, time.Hour, time.Hour)
}

func TestScheduler_PurgeExpiredQueries(t *testing.T) {
	memStore := store.NewMemoryStore()
	now := time.Now()
	records := []models.QueryRecord{
		{ID: "old", UserID: "u1", ExpiresAt: now.Add(-time.Hour)},
		{ID: "fresh", UserID: "u1", ExpiresAt: now.Add(time.Hour)},
	}
	for _, rec := range records {
		if err := memStore.RecordQuery(context.Background(), rec); err != nil {
			t.Fatalf("RecordQuery() error = %v", err)
		}
	}

	s := newTestScheduler(t, memStore, &countingProvider{})
	s.purgeExpiredQueries()

	left, err := memStore.ListQueries(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("ListQueries() error = %v", err)
	}
	if len(left) != 1 || left[0].ID != "fresh" {
		t.Errorf("remaining = %+v, want only fresh", left)
	}
}

func TestScheduler_WarmFavoritesDeduplicatesCities(t *testing.T) {
	memStore := store.NewMemoryStore()
	ctx := context.Background()
	favorites := []models.Favorite{
		{ID: "f1", UserID: "u1", City: "Seattle", Latitude: 47.6, Longitude: -122.3, CreatedAt: time.Now()},
		{ID: "f2", UserID: "u2", City: "Seattle", Latitude: 47.6, Longitude: -122.3, CreatedAt: time.Now()},
		{ID: "f3", UserID: "u1", City: "Denver", Latitude: 39.7, Longitude: -105.0, CreatedAt: time.Now()},
	}
	for _, f := range favorites {
		if err := memStore.Add(ctx, f); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	provider := &countingProvider{}
	s := newTestScheduler(t, memStore, provider)
	s.warmFavorites()

	if n := atomic.LoadInt32(&provider.calls); n != 2 {
		t.Errorf("warm fetches = %d, want 2 (Seattle deduplicated)", n)
	}
}

func TestScheduler_WarmFavoritesNoFavoritesIsNoop(t *testing.T) {
	provider := &countingProvider{}
	s := newTestScheduler(t, store.NewMemoryStore(), provider)
	s.warmFavorites()
	if n := atomic.LoadInt32(&provider.calls); n != 0 {
		t.Errorf("warm fetches = %d, want 0", n)
	}
}
