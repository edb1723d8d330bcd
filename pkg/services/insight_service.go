package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/finsight-ai/finsight/pkg/models"
)

// InsightService owns insight persistence: creation under the per-user
// retention cap, listing, the read flag, and the expiry sweep.
type InsightService struct {
	db         *sql.DB
	maxPerUser int
}

// NewInsightService creates a new InsightService.
func NewInsightService(db *sql.DB, maxPerUser int) *InsightService {
	if db == nil {
		panic("NewInsightService: db must not be nil")
	}
	if maxPerUser <= 0 {
		panic("NewInsightService: maxPerUser must be positive")
	}
	return &InsightService{db: db, maxPerUser: maxPerUser}
}

// Save persists the insights and enforces the retention cap for every user
// touched, evicting oldest entries first. Each affected user's insight set
// is serialized with a per-user advisory transaction lock before the
// inserts; without it two READ COMMITTED writers for one user would each
// evict against only the committed rows and overshoot the cap.
func (s *InsightService) Save(ctx context.Context, insights []models.Insight) error {
	if len(insights) == 0 {
		return nil
	}

	users := make(map[string]struct{})
	for _, in := range insights {
		if in.UserID == "" {
			return NewValidationError("user_id", "insight requires a user")
		}
		if !in.Kind.Valid() {
			return NewValidationError("kind", fmt.Sprintf("unknown insight kind '%s'", in.Kind))
		}
		users[in.UserID] = struct{}{}
	}
	userIDs := make([]string, 0, len(users))
	for userID := range users {
		userIDs = append(userIDs, userID)
	}
	// Deterministic lock order keeps multi-user batches deadlock-free.
	sort.Strings(userIDs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, userID := range userIDs {
		_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID)
		if err != nil {
			return fmt.Errorf("failed to lock user insight set: %w", err)
		}
	}

	for _, in := range insights {
		var viz []byte
		if in.Visualization != nil {
			viz, err = json.Marshal(in.Visualization)
			if err != nil {
				return fmt.Errorf("failed to marshal visualization: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO ai_insights (id, user_id, kind, title, content, confidence, visualization, created_at, expires_at, read)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			in.ID, in.UserID, string(in.Kind), in.Title, in.Content, in.Confidence,
			nullableBytes(viz), in.CreatedAt, in.ExpiresAt, in.Read)
		if err != nil {
			return fmt.Errorf("failed to insert insight: %w", err)
		}
	}

	for _, userID := range userIDs {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM ai_insights
			WHERE user_id = $1 AND id NOT IN (
				SELECT id FROM ai_insights
				WHERE user_id = $1
				ORDER BY created_at DESC, id DESC
				LIMIT $2
			)`, userID, s.maxPerUser)
		if err != nil {
			return fmt.Errorf("failed to evict insights over cap: %w", err)
		}
	}

	return tx.Commit()
}

// List returns the user's insights, newest first, optionally unread only.
func (s *InsightService) List(ctx context.Context, userID string, unreadOnly bool) ([]models.Insight, error) {
	query := `
		SELECT id, user_id, kind, title, content, confidence, visualization, created_at, expires_at, read
		FROM ai_insights
		WHERE user_id = $1`
	if unreadOnly {
		query += " AND read = FALSE"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights: %w", err)
	}
	defer rows.Close()

	insights := []models.Insight{}
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, in)
	}
	return insights, rows.Err()
}

// MarkRead flips the read flag on one insight. Returns ErrNotFound for an
// unknown id.
func (s *InsightService) MarkRead(ctx context.Context, insightID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_insights SET read = TRUE WHERE id = $1`, insightID)
	if err != nil {
		return fmt.Errorf("failed to mark insight read: %w", err)
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

// DeleteExpired removes insights whose expiry has passed. Used by the
// cleanup sweep; returns the number of rows removed.
func (s *InsightService) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ai_insights WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired insights: %w", err)
	}
	return res.RowsAffected()
}

func scanInsight(rows *sql.Rows) (models.Insight, error) {
	var (
		in   models.Insight
		kind string
		viz  []byte
	)
	if err := rows.Scan(&in.ID, &in.UserID, &kind, &in.Title, &in.Content,
		&in.Confidence, &viz, &in.CreatedAt, &in.ExpiresAt, &in.Read); err != nil {
		return models.Insight{}, fmt.Errorf("failed to scan insight: %w", err)
	}
	in.Kind = models.InsightKind(kind)
	if len(viz) > 0 {
		spec := &models.VisualizationSpec{}
		if err := json.Unmarshal(viz, spec); err != nil {
			return models.Insight{}, fmt.Errorf("failed to unmarshal visualization: %w", err)
		}
		in.Visualization = spec
	}
	return in, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
