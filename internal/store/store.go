// Package store defines the document-store contracts the handlers and the
// alert engine consume, with in-memory and Postgres backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atmosdeck/weather-dashboard-service/internal/models"
)

// ErrNotFound is returned when the requested document does not exist or is
// not owned by the requesting user.
var ErrNotFound = errors.New("not found")

// AlertUpdate carries the fields a user may change on an existing alert.
// Nil means leave unchanged. Trigger bookkeeping (lastTriggered,
// triggerCount) is deliberately absent: only MarkTriggered writes those.
type AlertUpdate struct {
	Name      *string
	Threshold *float64
	Active    *bool
}

// AlertStore persists alert definitions.
type AlertStore interface {
	// Active returns every alert with active=true, across all users.
	// The evaluation engine loads its work list through this.
	Active(ctx context.Context) ([]models.AlertDefinition, error)

	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]models.AlertDefinition, error)
	Get(ctx context.Context, id string) (models.AlertDefinition, error)
	Create(ctx context.Context, alert models.AlertDefinition) error
	Update(ctx context.Context, userID, id string, update AlertUpdate) (models.AlertDefinition, error)
	Delete(ctx context.Context, userID, id string) error
	CountActive(ctx context.Context, userID string) (int, error)

	// MarkTriggered sets lastTriggered and atomically increments
	// triggerCount. The only mutation the alert engine performs.
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

// HistoryStore persists the append-only trigger history and per-user query
// history. Trigger events are never updated or deleted here; query records
// expire and are reaped by PurgeExpired.
type HistoryStore interface {
	AppendTrigger(ctx context.Context, event models.TriggerEvent) error
	ListTriggers(ctx context.Context, userID string, limit int) ([]models.TriggerEvent, error)

	RecordQuery(ctx context.Context, record models.QueryRecord) error
	ListQueries(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// FavoriteStore persists user-saved locations.
type FavoriteStore interface {
	List(ctx context.Context, userID string) ([]models.Favorite, error)
	Add(ctx context.Context, favorite models.Favorite) error
	Remove(ctx context.Context, userID, id string) error

	// ListAll returns favorites across all users. The cache-warming job
	// uses it to decide which locations to keep hot.
	ListAll(ctx context.Context) ([]models.Favorite, error)
}
