package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/finsight-ai/finsight/pkg/models"
)

// InteractionService appends to the per-user interaction log. Entries are
// never updated or deleted.
type InteractionService struct {
	db *sql.DB
}

// NewInteractionService creates a new InteractionService.
func NewInteractionService(db *sql.DB) *InteractionService {
	if db == nil {
		panic("NewInteractionService: db must not be nil")
	}
	return &InteractionService{db: db}
}

// Record appends one interaction event.
func (s *InteractionService) Record(ctx context.Context, interaction models.Interaction) error {
	if interaction.UserID == "" {
		return NewValidationError("user_id", "interaction requires a user")
	}
	if interaction.EventType == "" {
		return NewValidationError("event_type", "interaction requires an event type")
	}

	var payload []byte
	if interaction.Payload != nil {
		var err error
		payload, err = json.Marshal(interaction.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal interaction payload: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_interactions (user_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		interaction.UserID, interaction.EventType, nullableBytes(payload), interaction.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	return nil
}

// ListRecent returns the newest events for a user, most recent first.
func (s *InteractionService) ListRecent(ctx context.Context, userID string, limit int) ([]models.Interaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, event_type, payload, created_at
		FROM user_interactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	defer rows.Close()

	events := []models.Interaction{}
	for rows.Next() {
		var (
			ev      models.Interaction
			payload []byte
		)
		if err := rows.Scan(&ev.UserID, &ev.EventType, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal interaction payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
