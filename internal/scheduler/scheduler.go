// Package scheduler runs the periodic maintenance jobs: purging expired
// query history and keeping favorite locations warm in the cache.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/atmosdeck/weather-dashboard-service/internal/geocode"
	"github.com/atmosdeck/weather-dashboard-service/internal/models"
	"github.com/atmosdeck/weather-dashboard-service/internal/service"
	"github.com/atmosdeck/weather-dashboard-service/internal/store"
)

// jobTimeout bounds a single job run.
const jobTimeout = 30 * time.Second

// Scheduler owns the gocron instance and the job implementations.
type Scheduler struct {
	scheduler *gocron.Scheduler
	weather   *service.WeatherService
	history   store.HistoryStore
	favorites store.FavoriteStore
	logger    *zap.Logger

	purgeInterval time.Duration
	warmInterval  time.Duration
}

// New creates a scheduler. A zero purgeInterval or warmInterval disables
// that job.
func New(weather *service.WeatherService, history store.HistoryStore, favorites store.FavoriteStore, logger *zap.Logger, purgeInterval, warmInterval time.Duration) *Scheduler {
	return &Scheduler{
		scheduler:     gocron.NewScheduler(time.UTC),
		weather:       weather,
		history:       history,
		favorites:     favorites,
		logger:        logger,
		purgeInterval: purgeInterval,
		warmInterval:  warmInterval,
	}
}

// Start registers the enabled jobs and starts the scheduler asynchronously.
func (s *Scheduler) Start() error {
	if s.purgeInterval > 0 {
		if _, err := s.scheduler.Every(s.purgeInterval).Do(s.purgeExpiredQueries); err != nil {
			return err
		}
		s.logger.Info("query history purge scheduled", zap.Duration("interval", s.purgeInterval))
	}
	if s.warmInterval > 0 {
		if _, err := s.scheduler.Every(s.warmInterval).Do(s.warmFavorites); err != nil {
			return err
		}
		s.logger.Info("favorite cache warming scheduled", zap.Duration("interval", s.warmInterval))
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) purgeExpiredQueries() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	purged, err := s.history.PurgeExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("query history purge failed", zap.Error(err))
		return
	}
	if purged > 0 {
		s.logger.Info("purged expired query history", zap.Int("removed", purged))
	}
}

func (s *Scheduler) warmFavorites() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	favorites, err := s.favorites.ListAll(ctx)
	if err != nil {
		s.logger.Error("cache warming: failed to list favorites", zap.Error(err))
		return
	}
	if len(favorites) == 0 {
		return
	}

	// Multiple users favoriting the same city share one warm fetch.
	seen := make(map[string]struct{}, len(favorites))
	warmed := 0
	for _, fav := range favorites {
		if _, ok := seen[fav.City]; ok {
			continue
		}
		seen[fav.City] = struct{}{}

		place := geocode.Result{
			City:    fav.City,
			Country: fav.Country,
			Lat:     fav.Latitude,
			Lon:     fav.Longitude,
		}
		if err := s.weather.Warm(ctx, place, models.UnitsMetric); err != nil {
			s.logger.Warn("cache warming fetch failed",
				zap.String("city", fav.City), zap.Error(err))
			continue
		}
		warmed++
	}
	s.logger.Debug("cache warming cycle complete",
		zap.Int("favorites", len(favorites)), zap.Int("warmed", warmed))
}
