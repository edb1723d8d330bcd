package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/pkg/models"
)

// PreferenceService owns per-user preference state. Merges are atomic per
// user: each category key in a patch replaces its stored sub-object
// entirely, categories absent from the patch are untouched.
type PreferenceService struct {
	db *sql.DB
}

// NewPreferenceService creates a new PreferenceService.
func NewPreferenceService(db *sql.DB) *PreferenceService {
	if db == nil {
		panic("NewPreferenceService: db must not be nil")
	}
	return &PreferenceService{db: db}
}

// Get returns the stored preference for the user. An unknown user yields
// the empty default, never an error.
func (s *PreferenceService) Get(ctx context.Context, userID string) (models.UserPreference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, enabled, threshold
		FROM user_preferences
		WHERE user_id = $1`, userID)
	if err != nil {
		return models.UserPreference{}, fmt.Errorf("failed to load preferences: %w", err)
	}
	defer rows.Close()

	pref := models.EmptyPreference(userID)
	for rows.Next() {
		var (
			category  string
			enabled   bool
			threshold decimal.Decimal
		)
		if err := rows.Scan(&category, &enabled, &threshold); err != nil {
			return models.UserPreference{}, fmt.Errorf("failed to scan preference: %w", err)
		}
		pref.Categories[category] = models.CategoryPreference{Enabled: enabled, Threshold: threshold}
	}
	return pref, rows.Err()
}

// Merge applies the patch in one transaction and returns the merged result.
// Concurrent merges for the same user serialize on the row upserts, so
// non-overlapping patches commute.
func (s *PreferenceService) Merge(ctx context.Context, userID string, patch models.UserPreference) (models.UserPreference, error) {
	if len(patch.Categories) == 0 {
		return models.UserPreference{}, NewValidationError("categories", "patch must contain at least one category")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.UserPreference{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for category, cp := range patch.Categories {
		if category == "" {
			return models.UserPreference{}, NewValidationError("categories", "category key must not be empty")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_preferences (user_id, category, enabled, threshold, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, category)
			DO UPDATE SET enabled = EXCLUDED.enabled, threshold = EXCLUDED.threshold, updated_at = EXCLUDED.updated_at`,
			userID, category, cp.Enabled, cp.Threshold, now)
		if err != nil {
			return models.UserPreference{}, fmt.Errorf("failed to upsert preference: %w", err)
		}
	}

	merged := models.EmptyPreference(userID)
	rows, err := tx.QueryContext(ctx, `
		SELECT category, enabled, threshold
		FROM user_preferences
		WHERE user_id = $1`, userID)
	if err != nil {
		return models.UserPreference{}, fmt.Errorf("failed to reload preferences: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			category  string
			enabled   bool
			threshold decimal.Decimal
		)
		if err := rows.Scan(&category, &enabled, &threshold); err != nil {
			return models.UserPreference{}, fmt.Errorf("failed to scan preference: %w", err)
		}
		merged.Categories[category] = models.CategoryPreference{Enabled: enabled, Threshold: threshold}
	}
	if err := rows.Err(); err != nil {
		return models.UserPreference{}, err
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return models.UserPreference{}, fmt.Errorf("failed to commit merge: %w", err)
	}
	return merged, nil
}

// MergeCategories is the pure merge rule: patch keys replace base keys
// wholesale, everything else is untouched. The stored merge implements this
// same rule; non-overlapping patches are order-independent.
func MergeCategories(base, patch models.UserPreference) models.UserPreference {
	out := models.EmptyPreference(base.UserID)
	for k, v := range base.Categories {
		out.Categories[k] = v
	}
	for k, v := range patch.Categories {
		out.Categories[k] = v
	}
	return out
}
