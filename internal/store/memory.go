package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/atmosdeck/weather-dashboard-service/internal/models"
)

// MemoryStore is a mutex-guarded in-memory backend implementing AlertStore,
// HistoryStore and FavoriteStore. Default backend for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	alerts    map[string]models.AlertDefinition
	triggers  []models.TriggerEvent
	queries   map[string]models.QueryRecord
	favorites map[string]models.Favorite
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:    make(map[string]models.AlertDefinition),
		queries:   make(map[string]models.QueryRecord),
		favorites: make(map[string]models.Favorite),
	}
}

// Active implements AlertStore.
func (s *MemoryStore) Active(ctx context.Context) ([]models.AlertDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AlertDefinition
	for _, a := range s.alerts {
		if a.Active {
			out = append(out, a)
		}
	}
	sortAlerts(out)
	return out, nil
}

// ListByUser implements AlertStore.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]models.AlertDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AlertDefinition
	for _, a := range s.alerts {
		if a.UserID != userID {
			continue
		}
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, a)
	}
	sortAlerts(out)
	return out, nil
}

// Get implements AlertStore.
func (s *MemoryStore) Get(ctx context.Context, id string) (models.AlertDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return models.AlertDefinition{}, ErrNotFound
	}
	return a, nil
}

// Create implements AlertStore.
func (s *MemoryStore) Create(ctx context.Context, alert models.AlertDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = alert
	return nil
}

// Update implements AlertStore. Only the fields a user owns are writable.
func (s *MemoryStore) Update(ctx context.Context, userID, id string, update AlertUpdate) (models.AlertDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.UserID != userID {
		return models.AlertDefinition{}, ErrNotFound
	}
	if update.Name != nil {
		a.Name = *update.Name
	}
	if update.Threshold != nil {
		a.Threshold = *update.Threshold
	}
	if update.Active != nil {
		a.Active = *update.Active
	}
	s.alerts[id] = a
	return a, nil
}

// Delete implements AlertStore.
func (s *MemoryStore) Delete(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.UserID != userID {
		return ErrNotFound
	}
	delete(s.alerts, id)
	return nil
}

// CountActive implements AlertStore.
func (s *MemoryStore) CountActive(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.alerts {
		if a.UserID == userID && a.Active {
			n++
		}
	}
	return n, nil
}

// MarkTriggered implements AlertStore.
func (s *MemoryStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return ErrNotFound
	}
	a.LastTriggered = &at
	a.TriggerCount++
	s.alerts[id] = a
	return nil
}

// AppendTrigger implements HistoryStore.
func (s *MemoryStore) AppendTrigger(ctx context.Context, event models.TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, event)
	return nil
}

// ListTriggers implements HistoryStore, newest first.
func (s *MemoryStore) ListTriggers(ctx context.Context, userID string, limit int) ([]models.TriggerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TriggerEvent
	for _, ev := range s.triggers {
		if ev.UserID == userID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordQuery implements HistoryStore.
func (s *MemoryStore) RecordQuery(ctx context.Context, record models.QueryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[record.ID] = record
	return nil
}

// ListQueries implements HistoryStore, newest first.
func (s *MemoryStore) ListQueries(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.QueryRecord
	for _, q := range s.queries {
		if q.UserID == userID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueriedAt.After(out[j].QueriedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeExpired implements HistoryStore, returning the number removed.
func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, q := range s.queries {
		if now.After(q.ExpiresAt) {
			delete(s.queries, id)
			n++
		}
	}
	return n, nil
}

// List implements FavoriteStore.
func (s *MemoryStore) List(ctx context.Context, userID string) ([]models.Favorite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Favorite
	for _, f := range s.favorites {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Add implements FavoriteStore.
func (s *MemoryStore) Add(ctx context.Context, favorite models.Favorite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.favorites[favorite.ID] = favorite
	return nil
}

// ListAll implements FavoriteStore.
func (s *MemoryStore) ListAll(ctx context.Context) ([]models.Favorite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Favorite, 0, len(s.favorites))
	for _, f := range s.favorites {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Remove implements FavoriteStore.
func (s *MemoryStore) Remove(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.favorites[id]
	if !ok || f.UserID != userID {
		return ErrNotFound
	}
	delete(s.favorites, id)
	return nil
}

func sortAlerts(alerts []models.AlertDefinition) {
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.After(alerts[j].CreatedAt) })
}
