// Package alerts runs the background evaluation loop that checks active
// alert definitions against live weather and fires notifications.
package alerts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atmosdeck/weather-dashboard-service/internal/models"
	"github.com/atmosdeck/weather-dashboard-service/internal/observability"
	"github.com/atmosdeck/weather-dashboard-service/internal/provider"
	"github.com/atmosdeck/weather-dashboard-service/internal/sse"
	"github.com/atmosdeck/weather-dashboard-service/internal/store"
)

const (
	// defaultInterval is the spacing between evaluation cycles. Cycles never
	// overlap: the next one is scheduled only after the current one returns.
	defaultInterval = 15 * time.Minute

	// errorRetryDelay replaces the normal interval after a cycle that could
	// not load its work list.
	errorRetryDelay = 60 * time.Second

	// cooldown suppresses repeat triggers of the same alert. A condition that
	// stays true fires at most once per window.
	cooldown = 24 * time.Hour
)

// Engine evaluates active alerts on a fixed interval. Weather for evaluation
// is always fetched live from the provider so that a trigger decision never
// rides on stale cached data.
type Engine struct {
	alerts   store.AlertStore
	history  store.HistoryStore
	weather  provider.WeatherClient
	notifier sse.Notifier
	logger   *zap.Logger

	interval   time.Duration
	retryDelay time.Duration
	cooldown   time.Duration
	now        func() time.Time

	done chan struct{}
}

// Option adjusts engine timing, used by tests to shrink the intervals.
type Option func(*Engine)

// WithInterval overrides the evaluation interval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithErrorRetryDelay overrides the post-error retry delay.
func WithErrorRetryDelay(d time.Duration) Option {
	return func(e *Engine) { e.retryDelay = d }
}

// WithCooldown overrides the repeat-trigger suppression window.
func WithCooldown(d time.Duration) Option {
	return func(e *Engine) { e.cooldown = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an evaluation engine. Run must be called to start it.
func NewEngine(alerts store.AlertStore, history store.HistoryStore, weather provider.WeatherClient, notifier sse.Notifier, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		alerts:     alerts,
		history:    history,
		weather:    weather,
		notifier:   notifier,
		logger:     logger,
		interval:   defaultInterval,
		retryDelay: errorRetryDelay,
		cooldown:   cooldown,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes evaluation cycles until ctx is cancelled. It blocks; start it
// on its own goroutine. The first cycle runs immediately.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	e.logger.Info("alert engine started", zap.Duration("interval", e.interval))

	for {
		delay := e.interval
		if err := e.runCycle(ctx); err != nil {
			observability.AlertCyclesTotal.WithLabelValues("error").Inc()
			e.logger.Error("alert cycle failed", zap.Error(err))
			delay = e.retryDelay
		} else {
			observability.AlertCyclesTotal.WithLabelValues("ok").Inc()
		}

		select {
		case <-ctx.Done():
			e.logger.Info("alert engine stopped")
			return
		case <-time.After(delay):
		}
	}
}

// Done is closed once Run has returned. Shutdown waits on it.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Running reports whether the engine loop is still active.
func (e *Engine) Running() bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// runCycle evaluates every active alert once. A failure to load the work
// list fails the cycle; a failure on an individual alert is logged and the
// cycle moves on.
func (e *Engine) runCycle(ctx context.Context) error {
	active, err := e.alerts.Active(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	e.logger.Info("evaluating alerts", zap.Int("count", len(active)))

	for _, alert := range active {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		observability.AlertsEvaluatedTotal.Inc()
		if err := e.evaluate(ctx, alert); err != nil {
			e.logger.Error("alert evaluation failed",
				zap.String("alertId", alert.ID),
				zap.String("location", alert.Location),
				zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) evaluate(ctx context.Context, alert models.AlertDefinition) error {
	conditions, err := e.weather.FetchCurrent(ctx, alert.Latitude, alert.Longitude, models.UnitsMetric)
	if err != nil {
		return err
	}

	observed := MetricValue(conditions, alert.Metric)
	if !ConditionMet(observed, alert.Threshold, alert.Comparison) {
		return nil
	}

	now := e.now()
	if alert.LastTriggered != nil && now.Sub(*alert.LastTriggered) < e.cooldown {
		observability.AlertCooldownSkipsTotal.Inc()
		e.logger.Debug("alert in cooldown",
			zap.String("alertId", alert.ID),
			zap.Time("lastTriggered", *alert.LastTriggered))
		return nil
	}

	return e.fire(ctx, alert, observed, now)
}

func (e *Engine) fire(ctx context.Context, alert models.AlertDefinition, observed float64, at time.Time) error {
	if err := e.alerts.MarkTriggered(ctx, alert.ID, at); err != nil {
		return err
	}

	event := models.TriggerEvent{
		ID:          uuid.NewString(),
		AlertID:     alert.ID,
		UserID:      alert.UserID,
		AlertName:   alert.Name,
		Location:    alert.Location,
		Observed:    observed,
		Threshold:   alert.Threshold,
		TriggeredAt: at,
	}
	if err := e.history.AppendTrigger(ctx, event); err != nil {
		// The trigger already counted; a history write failure should not
		// suppress the notification.
		e.logger.Error("failed to record trigger event",
			zap.String("alertId", alert.ID), zap.Error(err))
	}

	observability.AlertTriggersTotal.Inc()
	e.logger.Info("alert triggered",
		zap.String("alertId", alert.ID),
		zap.String("alertName", alert.Name),
		zap.String("location", alert.Location),
		zap.Float64("observed", observed),
		zap.Float64("threshold", alert.Threshold))

	e.notifier.Push(alert.UserID, "alert_triggered", event)
	return nil
}

// MetricValue extracts the monitored quantity from current conditions.
// Unknown metrics read as 0 so that a malformed definition cannot crash a
// cycle.
func MetricValue(c models.CurrentConditions, metric models.Metric) float64 {
	switch metric {
	case models.MetricTemperature:
		return c.Temperature
	case models.MetricHumidity:
		return c.Humidity
	case models.MetricWindSpeed:
		return c.WindSpeed
	case models.MetricPrecipitation:
		return c.Precipitation
	default:
		return 0
	}
}

// ConditionMet applies the comparison operator. Equality is exact float
// equality; thresholds are user-entered literals, not computed values.
func ConditionMet(observed, threshold float64, cmp models.Comparison) bool {
	switch cmp {
	case models.ComparisonGreaterThan:
		return observed > threshold
	case models.ComparisonLessThan:
		return observed < threshold
	case models.ComparisonEquals:
		return observed == threshold
	default:
		return false
	}
}
