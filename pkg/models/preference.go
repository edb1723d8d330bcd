package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryPreference is the per-category sub-object of a user preference.
// A merge replaces the whole sub-object for its category key.
type CategoryPreference struct {
	Enabled   bool            `json:"enabled"`
	Threshold decimal.Decimal `json:"threshold"`
}

// UserPreference maps spending categories to the user's settings for them.
// Absence of a stored preference is a valid default state: reads for unknown
// users return an empty map, never an error.
type UserPreference struct {
	UserID     string                        `json:"user_id"`
	Categories map[string]CategoryPreference `json:"categories"`
}

// EmptyPreference returns the default preference object for a user.
func EmptyPreference(userID string) UserPreference {
	return UserPreference{UserID: userID, Categories: map[string]CategoryPreference{}}
}

// Interaction is one entry of the append-only per-user event log that feeds
// personalization. Entries are never mutated.
type Interaction struct {
	UserID    string         `json:"user_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Recommendation is a personalization suggestion derived from the user's
// interaction history and stored preferences.
type Recommendation struct {
	Category string  `json:"category"`
	Action   string  `json:"action"` // "track_category" or "set_alert"
	Reason   string  `json:"reason"`
	Score    float64 `json:"score"`
}
