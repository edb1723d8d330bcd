package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/pkg/models"
)

// QueryRequest is the body of POST /api/v1/query.
type QueryRequest struct {
	Text string `json:"text" binding:"required"`
}

// HandleQuery runs the full pipeline for a natural-language query.
func (s *Server) HandleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.deps.Pipeline.Handle(c.Request.Context(), req.Text, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListInsights handles GET /api/v1/insights?unread_only=true.
func (s *Server) ListInsights(c *gin.Context) {
	unreadOnly := c.Query("unread_only") == "true"
	insights, err := s.deps.Pipeline.GetInsights(c.Request.Context(), currentUser(c), unreadOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": insights})
}

// GenerateDailyInsights handles POST /api/v1/insights/generate.
func (s *Server) GenerateDailyInsights(c *gin.Context) {
	insights, err := s.deps.Pipeline.GenerateDailyInsights(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": insights})
}

// MarkInsightRead handles POST /api/v1/insights/:id/read.
func (s *Server) MarkInsightRead(c *gin.Context) {
	if err := s.deps.Insights.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

// GetPreferences handles GET /api/v1/preferences.
func (s *Server) GetPreferences(c *gin.Context) {
	pref, err := s.deps.Preferences.Get(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

// GetRecommendations handles GET /api/v1/recommendations.
func (s *Server) GetRecommendations(c *gin.Context) {
	recs, err := s.deps.Preferences.Recommendations(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}

// PreferencePatch is the body of POST /api/v1/preferences: a category-wise
// merge, never a full replace.
type PreferencePatch struct {
	Categories map[string]CategoryPatch `json:"categories" binding:"required"`
}

// CategoryPatch is one category sub-object of a preference patch.
type CategoryPatch struct {
	Enabled   bool            `json:"enabled"`
	Threshold decimal.Decimal `json:"threshold"`
}

// SetPreferences handles POST /api/v1/preferences.
func (s *Server) SetPreferences(c *gin.Context) {
	var req PreferencePatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := currentUser(c)
	patch := models.EmptyPreference(userID)
	for category, cp := range req.Categories {
		patch.Categories[category] = models.CategoryPreference{Enabled: cp.Enabled, Threshold: cp.Threshold}
	}

	merged, err := s.deps.Preferences.Merge(c.Request.Context(), userID, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, merged)
}

// CreateAlertRequest is the body of POST /api/v1/alerts.
type CreateAlertRequest struct {
	AlertType          string          `json:"alert_type" binding:"required"`
	ThresholdValue     decimal.Decimal `json:"threshold_value"`
	ThresholdPeriod    string          `json:"threshold_period" binding:"required"`
	NotificationMethod string          `json:"notification_method"`
}

// CreateAlert handles POST /api/v1/alerts.
func (s *Server) CreateAlert(c *gin.Context) {
	var req CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.deps.Alerts.Create(c.Request.Context(), models.AlertConfiguration{
		UserID:             currentUser(c),
		AlertType:          req.AlertType,
		ThresholdValue:     req.ThresholdValue,
		ThresholdPeriod:    models.ThresholdPeriod(req.ThresholdPeriod),
		NotificationMethod: req.NotificationMethod,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// ListAlerts handles GET /api/v1/alerts.
func (s *Server) ListAlerts(c *gin.Context) {
	configs, err := s.deps.Alerts.List(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert_configurations": configs})
}

// SetAlertActiveRequest is the body of POST /api/v1/alerts/:id/active.
// Alert configurations are never deleted, only deactivated.
type SetAlertActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetAlertActive handles POST /api/v1/alerts/:id/active.
func (s *Server) SetAlertActive(c *gin.Context) {
	var req SetAlertActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Alerts.SetActive(c.Request.Context(), c.Param("id"), *req.Active); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "active": *req.Active})
}

// InteractionRequest is the body of POST /api/v1/interactions.
type InteractionRequest struct {
	EventType string         `json:"event_type" binding:"required"`
	Payload   map[string]any `json:"payload"`
}

// RecordInteraction handles POST /api/v1/interactions.
func (s *Server) RecordInteraction(c *gin.Context) {
	var req InteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.deps.Preferences.RecordInteraction(c.Request.Context(), models.Interaction{
		UserID:    currentUser(c),
		EventType: req.EventType,
		Payload:   req.Payload,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

// GetDashboard handles GET /api/v1/dashboard.
func (s *Server) GetDashboard(c *gin.Context) {
	data, err := s.deps.Pipeline.Dashboard(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}
