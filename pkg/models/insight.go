// Package models contains the domain types shared across the pipeline,
// services, and API layers.
package models

import (
	"time"
)

// InsightKind classifies a synthesized insight.
type InsightKind string

const (
	InsightKindTrend          InsightKind = "trend"
	InsightKindAnomaly        InsightKind = "anomaly"
	InsightKindRecommendation InsightKind = "recommendation"
	InsightKindAlert          InsightKind = "alert"
)

// Valid reports whether the kind is one of the known values.
func (k InsightKind) Valid() bool {
	switch k {
	case InsightKindTrend, InsightKindAnomaly, InsightKindRecommendation, InsightKindAlert:
		return true
	}
	return false
}

// VisualizationSpec is the abstract chart description produced by the
// visualization stage. Rendering is the caller's concern.
type VisualizationSpec struct {
	ChartType string `json:"chart_type"` // "line", "bar" or "pie"
	XAxis     string `json:"x_axis,omitempty"`
	YAxis     string `json:"y_axis,omitempty"`
	DataKey   string `json:"data_key,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Insight is a user-facing finding produced by the pipeline or the alert
// evaluator. ExpiresAt is always CreatedAt plus the configured retention
// window; the cleanup service removes expired rows.
type Insight struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	Kind          InsightKind        `json:"kind"`
	Title         string             `json:"title"`
	Content       string             `json:"content"`
	Confidence    float64            `json:"confidence_score"`
	Visualization *VisualizationSpec `json:"visualization_spec,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	ExpiresAt     time.Time          `json:"expires_at"`
	Read          bool               `json:"read"`
}
