package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atmosdeck/weather-dashboard-service/internal/models"
	"github.com/atmosdeck/weather-dashboard-service/internal/store"
)

type stubWeather struct {
	mu         sync.Mutex
	conditions map[string]models.CurrentConditions
	errors     map[string]error
	calls      int
}

func (s *stubWeather) FetchCurrent(ctx context.Context, lat, lon float64, units models.Units) (models.CurrentConditions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	k := fetchKey(lat, lon)
	if err, ok := s.errors[k]; ok {
		return models.CurrentConditions{}, err
	}
	return s.conditions[k], nil
}

func (s *stubWeather) FetchForecast(ctx context.Context, lat, lon float64, days int, units models.Units) ([]models.DailyConditions, error) {
	return nil, nil
}

func (s *stubWeather) FetchHourly(ctx context.Context, lat, lon float64, hours int, units models.Units) ([]models.HourlyConditions, error) {
	return nil, nil
}

func (s *stubWeather) FetchHistorical(ctx context.Context, lat, lon float64, days int, units models.Units) ([]models.DailyConditions, error) {
	return nil, nil
}

func fetchKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f/%.4f", lat, lon)
}

type recordingNotifier struct {
	mu     sync.Mutex
	pushes []pushedEvent
}

type pushedEvent struct {
	userID    string
	eventType string
	payload   interface{}
}

func (n *recordingNotifier) Push(userID, eventType string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes = append(n.pushes, pushedEvent{userID, eventType, payload})
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pushes)
}

func newEngineFixture(t *testing.T, conditions models.CurrentConditions, alert models.AlertDefinition) (*Engine, *store.MemoryStore, *recordingNotifier, *stubWeather) {
	t.Helper()
	s := store.NewMemoryStore()
	if err := s.Create(context.Background(), alert); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	weather := &stubWeather{
		conditions: map[string]models.CurrentConditions{
			fetchKey(alert.Latitude, alert.Longitude): conditions,
		},
		errors: map[string]error{},
	}
	notifier := &recordingNotifier{}
	engine := NewEngine(s, s, weather, notifier, zap.NewNop())
	return engine, s, notifier, weather
}

func baseAlert() models.AlertDefinition {
	return models.AlertDefinition{
		ID:         "a1",
		UserID:     "u1",
		Name:       "Hot in Phoenix",
		Metric:     models.MetricTemperature,
		Threshold:  40,
		Comparison: models.ComparisonGreaterThan,
		Location:   "Phoenix",
		Latitude:   33.4484,
		Longitude:  -112.074,
		Active:     true,
		CreatedAt:  time.Now(),
	}
}

func TestEngine_CycleFiresWhenConditionMet(t *testing.T) {
	engine, s, notifier, _ := newEngineFixture(t,
		models.CurrentConditions{Temperature: 42.5}, baseAlert())

	if err := engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	a, err := s.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if a.TriggerCount != 1 {
		t.Errorf("TriggerCount = %d, want 1", a.TriggerCount)
	}
	if a.LastTriggered == nil {
		t.Error("LastTriggered not set")
	}

	triggers, err := s.ListTriggers(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("ListTriggers() error = %v", err)
	}
	if len(triggers) != 1 {
		t.Fatalf("trigger events = %d, want 1", len(triggers))
	}
	if triggers[0].Observed != 42.5 || triggers[0].Threshold != 40 {
		t.Errorf("trigger = observed %v threshold %v", triggers[0].Observed, triggers[0].Threshold)
	}

	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
	if notifier.pushes[0].userID != "u1" || notifier.pushes[0].eventType != "alert_triggered" {
		t.Errorf("notification = %+v", notifier.pushes[0])
	}
}

func TestEngine_CooldownSuppressesRepeatTrigger(t *testing.T) {
	engine, s, notifier, _ := newEngineFixture(t,
		models.CurrentConditions{Temperature: 42.5}, baseAlert())

	ctx := context.Background()
	if err := engine.runCycle(ctx); err != nil {
		t.Fatalf("first runCycle() error = %v", err)
	}
	if err := engine.runCycle(ctx); err != nil {
		t.Fatalf("second runCycle() error = %v", err)
	}

	a, _ := s.Get(ctx, "a1")
	if a.TriggerCount != 1 {
		t.Errorf("TriggerCount = %d, want 1 (second cycle inside cooldown)", a.TriggerCount)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
}

func TestEngine_FiresAgainAfterCooldownExpires(t *testing.T) {
	now := time.Now()
	engine, s, notifier, _ := newEngineFixture(t,
		models.CurrentConditions{Temperature: 42.5}, baseAlert())
	engine.now = func() time.Time { return now }

	ctx := context.Background()
	if err := engine.runCycle(ctx); err != nil {
		t.Fatalf("first runCycle() error = %v", err)
	}

	now = now.Add(25 * time.Hour)
	if err := engine.runCycle(ctx); err != nil {
		t.Fatalf("second runCycle() error = %v", err)
	}

	a, _ := s.Get(ctx, "a1")
	if a.TriggerCount != 2 {
		t.Errorf("TriggerCount = %d, want 2 (cooldown elapsed)", a.TriggerCount)
	}
	if notifier.count() != 2 {
		t.Errorf("notifications = %d, want 2", notifier.count())
	}
}

func TestEngine_ConditionNotMetDoesNotTrigger(t *testing.T) {
	engine, s, notifier, _ := newEngineFixture(t,
		models.CurrentConditions{Temperature: 39.9}, baseAlert())

	if err := engine.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle() error = %v", err)
	}

	a, _ := s.Get(context.Background(), "a1")
	if a.TriggerCount != 0 {
		t.Errorf("TriggerCount = %d, want 0", a.TriggerCount)
	}
	if notifier.count() != 0 {
		t.Errorf("notifications = %d, want 0", notifier.count())
	}
}

func TestEngine_CycleContinuesAfterPerAlertFailure(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	failing := baseAlert()
	failing.ID = "a-fail"
	failing.Latitude, failing.Longitude = 1, 1
	healthy := baseAlert()
	healthy.ID = "a-ok"
	// Created later so it sorts first and the failing alert cannot mask it
	// by ordering.
	healthy.CreatedAt = failing.CreatedAt.Add(time.Minute)

	for _, a := range []models.AlertDefinition{failing, healthy} {
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	weather := &stubWeather{
		conditions: map[string]models.CurrentConditions{
			fetchKey(healthy.Latitude, healthy.Longitude): {Temperature: 45},
		},
		errors: map[string]error{
			fetchKey(1, 1): errors.New("upstream down"),
		},
	}
	notifier := &recordingNotifier{}
	engine := NewEngine(s, s, weather, notifier, zap.NewNop())

	if err := engine.runCycle(ctx); err != nil {
		t.Fatalf("runCycle() error = %v, want nil (per-alert errors are tolerated)", err)
	}

	a, _ := s.Get(ctx, "a-ok")
	if a.TriggerCount != 1 {
		t.Errorf("healthy alert TriggerCount = %d, want 1", a.TriggerCount)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
}

func TestEngine_RunUsesErrorRetryDelayWhenLoadFails(t *testing.T) {
	weather := &stubWeather{conditions: map[string]models.CurrentConditions{}, errors: map[string]error{}}
	notifier := &recordingNotifier{}
	failingStore := &failingAlertStore{}
	engine := NewEngine(failingStore, store.NewMemoryStore(), weather, notifier, zap.NewNop(),
		WithInterval(time.Hour),
		WithErrorRetryDelay(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)

	// With the hour-long interval, more than one Active call within the test
	// window proves the short error delay was used instead.
	deadline := time.After(2 * time.Second)
	for failingStore.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatal("engine did not retry after a failed cycle")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancel")
	}
	if engine.Running() {
		t.Error("Running() = true after shutdown")
	}
}

type failingAlertStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingAlertStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *failingAlertStore) Active(ctx context.Context) ([]models.AlertDefinition, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, errors.New("store unavailable")
}

func (f *failingAlertStore) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]models.AlertDefinition, error) {
	return nil, nil
}

func (f *failingAlertStore) Get(ctx context.Context, id string) (models.AlertDefinition, error) {
	return models.AlertDefinition{}, store.ErrNotFound
}

func (f *failingAlertStore) Create(ctx context.Context, alert models.AlertDefinition) error {
	return nil
}

func (f *failingAlertStore) Update(ctx context.Context, userID, id string, update store.AlertUpdate) (models.AlertDefinition, error) {
	return models.AlertDefinition{}, store.ErrNotFound
}

func (f *failingAlertStore) Delete(ctx context.Context, userID, id string) error { return nil }

func (f *failingAlertStore) CountActive(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

func (f *failingAlertStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	return nil
}

func TestMetricValue(t *testing.T) {
	c := models.CurrentConditions{
		Temperature:   21.5,
		Humidity:      64,
		WindSpeed:     13.2,
		Precipitation: 0.4,
	}
	tests := []struct {
		metric models.Metric
		want   float64
	}{
		{models.MetricTemperature, 21.5},
		{models.MetricHumidity, 64},
		{models.MetricWindSpeed, 13.2},
		{models.MetricPrecipitation, 0.4},
		{models.Metric("dew_point"), 0},
	}
	for _, tt := range tests {
		if got := MetricValue(c, tt.metric); got != tt.want {
			t.Errorf("MetricValue(%q) = %v, want %v", tt.metric, got, tt.want)
		}
	}
}

func TestConditionMet(t *testing.T) {
	tests := []struct {
		name      string
		observed  float64
		threshold float64
		cmp       models.Comparison
		want      bool
	}{
		{"greater true", 41, 40, models.ComparisonGreaterThan, true},
		{"greater boundary", 40, 40, models.ComparisonGreaterThan, false},
		{"less true", 39, 40, models.ComparisonLessThan, true},
		{"less boundary", 40, 40, models.ComparisonLessThan, false},
		{"equals exact", 40, 40, models.ComparisonEquals, true},
		{"equals near miss", 40.0001, 40, models.ComparisonEquals, false},
		{"unknown operator", 40, 40, models.Comparison("between"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConditionMet(tt.observed, tt.threshold, tt.cmp); got != tt.want {
				t.Errorf("ConditionMet(%v, %v, %q) = %v, want %v", tt.observed, tt.threshold, tt.cmp, got, tt.want)
			}
		})
	}
}
