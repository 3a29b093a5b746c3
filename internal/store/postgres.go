package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/atmosdeck/weather-dashboard-service/internal/models"
)

// PostgresStore implements AlertStore, HistoryStore and FavoriteStore on
// Postgres. Weather payloads inside query records are stored as JSONB.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to Postgres using a lib/pq DSN
// (e.g. "host=... port=... user=... password=... dbname=... sslmode=disable"),
// verifies connectivity and ensures the schema exists.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying pool. Call during shutdown.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			metric TEXT NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			comparison TEXT NOT NULL,
			location TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			severity TEXT NOT NULL DEFAULT 'warning',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			last_triggered TIMESTAMPTZ,
			trigger_count INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS alerts_user_idx ON alerts (user_id);`,
		`CREATE INDEX IF NOT EXISTS alerts_active_idx ON alerts (active);`,
		`CREATE TABLE IF NOT EXISTS alert_history (
			id TEXT PRIMARY KEY,
			alert_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			alert_name TEXT NOT NULL,
			location TEXT NOT NULL,
			observed DOUBLE PRECISION NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			triggered_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS alert_history_user_idx ON alert_history (user_id);`,
		`CREATE TABLE IF NOT EXISTS query_history (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			city TEXT NOT NULL,
			country TEXT,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			weather JSONB NOT NULL,
			query_type TEXT NOT NULL,
			queried_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS query_history_user_idx ON query_history (user_id);`,
		`CREATE INDEX IF NOT EXISTS query_history_expires_idx ON query_history (expires_at);`,
		`CREATE TABLE IF NOT EXISTS favorites (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			city TEXT NOT NULL,
			country TEXT,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS favorites_user_idx ON favorites (user_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const alertColumns = `id, user_id, name, metric, threshold, comparison, location,
	latitude, longitude, severity, active, created_at, last_triggered, trigger_count`

func scanAlert(row interface{ Scan(...interface{}) error }) (models.AlertDefinition, error) {
	var a models.AlertDefinition
	var lastTriggered sql.NullTime
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Metric, &a.Threshold, &a.Comparison,
		&a.Location, &a.Latitude, &a.Longitude, &a.Severity, &a.Active, &a.CreatedAt,
		&lastTriggered, &a.TriggerCount)
	if err != nil {
		return models.AlertDefinition{}, err
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		a.LastTriggered = &t
	}
	return a, nil
}

func (s *PostgresStore) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]models.AlertDefinition, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AlertDefinition
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Active implements AlertStore.
func (s *PostgresStore) Active(ctx context.Context) ([]models.AlertDefinition, error) {
	return s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE active ORDER BY created_at DESC`)
}

// ListByUser implements AlertStore.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]models.AlertDefinition, error) {
	if activeOnly {
		return s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE user_id = $1 AND active ORDER BY created_at DESC`, userID)
	}
	return s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// Get implements AlertStore.
func (s *PostgresStore) Get(ctx context.Context, id string) (models.AlertDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return models.AlertDefinition{}, ErrNotFound
	}
	return a, err
}

// Create implements AlertStore.
func (s *PostgresStore) Create(ctx context.Context, a models.AlertDefinition) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		a.ID, a.UserID, a.Name, a.Metric, a.Threshold, a.Comparison, a.Location,
		a.Latitude, a.Longitude, a.Severity, a.Active, a.CreatedAt, a.LastTriggered, a.TriggerCount)
	return err
}

// Update implements AlertStore.
func (s *PostgresStore) Update(ctx context.Context, userID, id string, update AlertUpdate) (models.AlertDefinition, error) {
	row := s.db.QueryRowContext(ctx, `UPDATE alerts SET
			name = COALESCE($3, name),
			threshold = COALESCE($4, threshold),
			active = COALESCE($5, active)
		WHERE id = $1 AND user_id = $2
		RETURNING `+alertColumns,
		id, userID, update.Name, update.Threshold, update.Active)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return models.AlertDefinition{}, ErrNotFound
	}
	return a, err
}

// Delete implements AlertStore.
func (s *PostgresStore) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActive implements AlertStore.
func (s *PostgresStore) CountActive(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE user_id = $1 AND active`, userID).Scan(&n)
	return n, err
}

// MarkTriggered implements AlertStore with an atomic trigger_count increment.
func (s *PostgresStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET last_triggered = $2, trigger_count = trigger_count + 1 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTrigger implements HistoryStore.
func (s *PostgresStore) AppendTrigger(ctx context.Context, ev models.TriggerEvent) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO alert_history
		(id, alert_id, user_id, alert_name, location, observed, threshold, triggered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ev.ID, ev.AlertID, ev.UserID, ev.AlertName, ev.Location, ev.Observed, ev.Threshold, ev.TriggeredAt)
	return err
}

// ListTriggers implements HistoryStore.
func (s *PostgresStore) ListTriggers(ctx context.Context, userID string, limit int) ([]models.TriggerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, alert_id, user_id, alert_name, location,
		observed, threshold, triggered_at FROM alert_history
		WHERE user_id = $1 ORDER BY triggered_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TriggerEvent
	for rows.Next() {
		var ev models.TriggerEvent
		if err := rows.Scan(&ev.ID, &ev.AlertID, &ev.UserID, &ev.AlertName, &ev.Location,
			&ev.Observed, &ev.Threshold, &ev.TriggeredAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RecordQuery implements HistoryStore.
func (s *PostgresStore) RecordQuery(ctx context.Context, rec models.QueryRecord) error {
	weather, err := json.Marshal(rec.Weather)
	if err != nil {
		return fmt.Errorf("marshal weather payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO query_history
		(id, user_id, city, country, latitude, longitude, weather, query_type, queried_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.UserID, rec.City, rec.Country, rec.Latitude, rec.Longitude,
		weather, rec.QueryType, rec.QueriedAt, rec.ExpiresAt)
	return err
}

// ListQueries implements HistoryStore.
func (s *PostgresStore) ListQueries(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, city, country, latitude, longitude,
		weather, query_type, queried_at, expires_at FROM query_history
		WHERE user_id = $1 ORDER BY queried_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueryRecord
	for rows.Next() {
		var rec models.QueryRecord
		var weather []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.City, &rec.Country, &rec.Latitude,
			&rec.Longitude, &weather, &rec.QueryType, &rec.QueriedAt, &rec.ExpiresAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(weather, &rec.Weather); err != nil {
			return nil, fmt.Errorf("unmarshal weather payload: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PurgeExpired implements HistoryStore.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM query_history WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// List implements FavoriteStore.
func (s *PostgresStore) List(ctx context.Context, userID string) ([]models.Favorite, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, city, country, latitude, longitude, created_at
		FROM favorites WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Favorite
	for rows.Next() {
		var f models.Favorite
		if err := rows.Scan(&f.ID, &f.UserID, &f.City, &f.Country, &f.Latitude, &f.Longitude, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Add implements FavoriteStore.
func (s *PostgresStore) Add(ctx context.Context, f models.Favorite) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO favorites
		(id, user_id, city, country, latitude, longitude, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		f.ID, f.UserID, f.City, f.Country, f.Latitude, f.Longitude, f.CreatedAt)
	return err
}

// ListAll implements FavoriteStore.
func (s *PostgresStore) ListAll(ctx context.Context) ([]models.Favorite, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, city, country, latitude, longitude, created_at
		FROM favorites ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Favorite
	for rows.Next() {
		var f models.Favorite
		if err := rows.Scan(&f.ID, &f.UserID, &f.City, &f.Country, &f.Latitude, &f.Longitude, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Remove implements FavoriteStore.
func (s *PostgresStore) Remove(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM favorites WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
