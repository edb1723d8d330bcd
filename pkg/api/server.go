// Package api exposes the HTTP surface that drives the orchestrator:
// the query pipeline, insight listing, preferences, alert configurations,
// and health probes.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/orchestrator"
)

// Version is stamped at build time.
var Version = "dev"

// Pipeline is the orchestrator surface the handlers drive.
type Pipeline interface {
	Handle(ctx context.Context, queryText, userID string) (orchestrator.Response, error)
	GenerateDailyInsights(ctx context.Context, userID string) ([]models.Insight, error)
	GetInsights(ctx context.Context, userID string, unreadOnly bool) ([]models.Insight, error)
	Dashboard(ctx context.Context, userID string) (orchestrator.DashboardData, error)
}

// InsightWriter covers the insight mutations the API performs directly.
type InsightWriter interface {
	MarkRead(ctx context.Context, insightID string) error
}

// PreferenceAccess covers preference reads, merges, and interaction logging.
type PreferenceAccess interface {
	Get(ctx context.Context, userID string) (models.UserPreference, error)
	Merge(ctx context.Context, userID string, patch models.UserPreference) (models.UserPreference, error)
	RecordInteraction(ctx context.Context, interaction models.Interaction) error
	Recommendations(ctx context.Context, userID string) ([]models.Recommendation, error)
}

// AlertConfigAccess covers alert configuration management.
type AlertConfigAccess interface {
	Create(ctx context.Context, cfg models.AlertConfiguration) (models.AlertConfiguration, error)
	List(ctx context.Context, userID string) ([]models.AlertConfiguration, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// HealthChecker reports readiness of the database collaborator.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps bundles the server's collaborators.
type Deps struct {
	Pipeline    Pipeline
	Insights    InsightWriter
	Preferences PreferenceAccess
	Alerts      AlertConfigAccess
	Health      HealthChecker
	Auth        TokenValidator
}

// Server is the HTTP server.
type Server struct {
	deps   Deps
	logger *slog.Logger
	engine *gin.Engine
	http   *http.Server
}

// NewServer creates the API server and wires the routes.
func NewServer(deps Deps, port string, logger *slog.Logger) *Server {
	if deps.Pipeline == nil || deps.Insights == nil || deps.Preferences == nil ||
		deps.Alerts == nil || deps.Health == nil || deps.Auth == nil {
		panic("api.NewServer: all collaborators are required")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		deps:   deps,
		logger: logger.With("component", "api"),
		engine: engine,
		http: &http.Server{
			Addr:              ":" + port,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthy", s.Healthy)
	s.engine.GET("/ready", s.Ready)
	s.engine.GET("/version", s.GetVersion)

	v1 := s.engine.Group("/api/v1", AuthMiddleware(s.deps.Auth))
	v1.POST("/query", s.HandleQuery)
	v1.GET("/insights", s.ListInsights)
	v1.POST("/insights/generate", s.GenerateDailyInsights)
	v1.POST("/insights/:id/read", s.MarkInsightRead)
	v1.GET("/preferences", s.GetPreferences)
	v1.POST("/preferences", s.SetPreferences)
	v1.GET("/recommendations", s.GetRecommendations)
	v1.GET("/alerts", s.ListAlerts)
	v1.POST("/alerts", s.CreateAlert)
	v1.POST("/alerts/:id/active", s.SetAlertActive)
	v1.POST("/interactions", s.RecordInteraction)
	v1.GET("/dashboard", s.GetDashboard)
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP server started", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Healthy is the liveness probe.
func (s *Server) Healthy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ready is the readiness probe; it checks the database collaborator.
func (s *Server) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.deps.Health.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// GetVersion reports the build version.
func (s *Server) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": Version})
}
