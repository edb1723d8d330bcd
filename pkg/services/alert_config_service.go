package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/pkg/models"
)

// AlertConfigService owns alert configurations and the firing ledger that
// backs alert idempotency.
type AlertConfigService struct {
	db *sql.DB
}

// NewAlertConfigService creates a new AlertConfigService.
func NewAlertConfigService(db *sql.DB) *AlertConfigService {
	if db == nil {
		panic("NewAlertConfigService: db must not be nil")
	}
	return &AlertConfigService{db: db}
}

// Create validates and stores a new configuration. The id and timestamps
// are assigned here; notification method defaults to in_app.
func (s *AlertConfigService) Create(ctx context.Context, cfg models.AlertConfiguration) (models.AlertConfiguration, error) {
	if cfg.UserID == "" {
		return models.AlertConfiguration{}, NewValidationError("user_id", "alert configuration requires a user")
	}
	if cfg.AlertType == "" {
		return models.AlertConfiguration{}, NewValidationError("alert_type", "alert type is required")
	}
	if !cfg.ThresholdValue.IsPositive() {
		return models.AlertConfiguration{}, NewValidationError("threshold_value", "threshold must be positive")
	}
	if !cfg.ThresholdPeriod.Valid() {
		return models.AlertConfiguration{}, NewValidationError("threshold_period", fmt.Sprintf("unknown period '%s'", cfg.ThresholdPeriod))
	}
	if cfg.NotificationMethod == "" {
		cfg.NotificationMethod = "in_app"
	}

	cfg.ID = uuid.New().String()
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	cfg.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_configurations (id, user_id, alert_type, threshold_value, threshold_period, notification_method, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cfg.ID, cfg.UserID, cfg.AlertType, cfg.ThresholdValue, string(cfg.ThresholdPeriod),
		cfg.NotificationMethod, cfg.Active, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return models.AlertConfiguration{}, fmt.Errorf("failed to create alert configuration: %w", err)
	}
	return cfg, nil
}

// List returns all configurations for a user, newest first.
func (s *AlertConfigService) List(ctx context.Context, userID string) ([]models.AlertConfiguration, error) {
	return s.query(ctx, `
		SELECT id, user_id, alert_type, threshold_value, threshold_period, notification_method, active, created_at, updated_at
		FROM alert_configurations
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
}

// ListActive returns every active configuration across all users, the input
// of one evaluation sweep.
func (s *AlertConfigService) ListActive(ctx context.Context) ([]models.AlertConfiguration, error) {
	return s.query(ctx, `
		SELECT id, user_id, alert_type, threshold_value, threshold_period, notification_method, active, created_at, updated_at
		FROM alert_configurations
		WHERE active = TRUE
		ORDER BY user_id, created_at`)
}

// SetActive toggles a configuration. Configurations are never deleted.
func (s *AlertConfigService) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_configurations SET active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update alert configuration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimFiring records that the configuration fired for the period starting
// at periodStart. Returns false when the pair already fired; the unique
// constraint makes the claim race-free across replicas.
func (s *AlertConfigService) ClaimFiring(ctx context.Context, configID string, periodStart time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_firings (config_id, period_start)
		VALUES ($1, $2)
		ON CONFLICT (config_id, period_start) DO NOTHING`,
		configID, periodStart)
	if err != nil {
		return false, fmt.Errorf("failed to claim alert firing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// AttachFiringInsight links the persisted alert insight to its firing.
func (s *AlertConfigService) AttachFiringInsight(ctx context.Context, configID string, periodStart time.Time, insightID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE alert_firings SET insight_id = $3 WHERE config_id = $1 AND period_start = $2`,
		configID, periodStart, insightID)
	if err != nil {
		return fmt.Errorf("failed to attach firing insight: %w", err)
	}
	return nil
}

// ReleaseFiring undoes a claim whose insight could not be persisted, so the
// next sweep may retry the period.
func (s *AlertConfigService) ReleaseFiring(ctx context.Context, configID string, periodStart time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM alert_firings WHERE config_id = $1 AND period_start = $2 AND insight_id IS NULL`,
		configID, periodStart)
	if err != nil {
		return fmt.Errorf("failed to release alert firing: %w", err)
	}
	return nil
}

func (s *AlertConfigService) query(ctx context.Context, query string, args ...any) ([]models.AlertConfiguration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert configurations: %w", err)
	}
	defer rows.Close()

	configs := []models.AlertConfiguration{}
	for rows.Next() {
		var (
			cfg    models.AlertConfiguration
			period string
		)
		if err := rows.Scan(&cfg.ID, &cfg.UserID, &cfg.AlertType, &cfg.ThresholdValue, &period,
			&cfg.NotificationMethod, &cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert configuration: %w", err)
		}
		cfg.ThresholdPeriod = models.ThresholdPeriod(period)
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}
