package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/orchestrator"
	"github.com/finsight-ai/finsight/pkg/services"
)

type fakePipeline struct {
	response  orchestrator.Response
	insights  []models.Insight
	dashboard orchestrator.DashboardData
	err       error
}

func (f *fakePipeline) Handle(ctx context.Context, queryText, userID string) (orchestrator.Response, error) {
	if f.err != nil {
		return orchestrator.Response{}, f.err
	}
	return f.response, nil
}

func (f *fakePipeline) GenerateDailyInsights(ctx context.Context, userID string) ([]models.Insight, error) {
	return f.insights, f.err
}

func (f *fakePipeline) GetInsights(ctx context.Context, userID string, unreadOnly bool) ([]models.Insight, error) {
	return f.insights, f.err
}

func (f *fakePipeline) Dashboard(ctx context.Context, userID string) (orchestrator.DashboardData, error) {
	return f.dashboard, f.err
}

type fakeInsightWriter struct{ err error }

func (f *fakeInsightWriter) MarkRead(ctx context.Context, insightID string) error { return f.err }

type fakePreferenceAccess struct {
	pref models.UserPreference
	recs []models.Recommendation
	err  error
}

func (f *fakePreferenceAccess) Get(ctx context.Context, userID string) (models.UserPreference, error) {
	return f.pref, f.err
}

func (f *fakePreferenceAccess) Merge(ctx context.Context, userID string, patch models.UserPreference) (models.UserPreference, error) {
	if f.err != nil {
		return models.UserPreference{}, f.err
	}
	return patch, nil
}

func (f *fakePreferenceAccess) RecordInteraction(ctx context.Context, interaction models.Interaction) error {
	return f.err
}

func (f *fakePreferenceAccess) Recommendations(ctx context.Context, userID string) ([]models.Recommendation, error) {
	return f.recs, f.err
}

type fakeAlertAccess struct {
	configs     []models.AlertConfiguration
	deactivated []string
	err         error
}

func (f *fakeAlertAccess) Create(ctx context.Context, cfg models.AlertConfiguration) (models.AlertConfiguration, error) {
	if f.err != nil {
		return models.AlertConfiguration{}, f.err
	}
	cfg.ID = "created"
	return cfg, nil
}

func (f *fakeAlertAccess) List(ctx context.Context, userID string) ([]models.AlertConfiguration, error) {
	return f.configs, f.err
}

func (f *fakeAlertAccess) SetActive(ctx context.Context, id string, active bool) error {
	if f.err != nil {
		return f.err
	}
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeHealth struct{ err error }

func (f *fakeHealth) Health(ctx context.Context) error { return f.err }

// staticAuth authenticates every request as the configured user.
type staticAuth struct{ user string }

func (a *staticAuth) Validate(token string) (string, error) {
	if a.user == "" {
		return "", errors.New("no user")
	}
	return a.user, nil
}

type serverFixture struct {
	pipeline *fakePipeline
	insights *fakeInsightWriter
	prefs    *fakePreferenceAccess
	alerts   *fakeAlertAccess
	health   *fakeHealth
	server   *Server
}

func newServerFixture() *serverFixture {
	f := &serverFixture{
		pipeline: &fakePipeline{},
		insights: &fakeInsightWriter{},
		prefs:    &fakePreferenceAccess{pref: models.EmptyPreference("alice")},
		alerts:   &fakeAlertAccess{},
		health:   &fakeHealth{},
	}
	f.server = NewServer(Deps{
		Pipeline:    f.pipeline,
		Insights:    f.insights,
		Preferences: f.prefs,
		Alerts:      f.alerts,
		Health:      f.health,
		Auth:        &staticAuth{user: "alice"},
	}, "0", slog.Default())
	return f
}

func (f *serverFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHandleQuery_Success(t *testing.T) {
	f := newServerFixture()
	f.pipeline.response = orchestrator.Response{
		Insights:           []models.Insight{{ID: "i1", Content: "You spent $63.40"}},
		QueryResultSummary: orchestrator.ResultSummary{RowCount: 1},
	}

	rec := f.do(http.MethodPost, "/api/v1/query", QueryRequest{Text: "coffee this month"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "$63.40")
}

func TestHandleQuery_MissingTextRejected(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodPost, "/api/v1/query", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQuery_IntentParseMapsToBadRequest(t *testing.T) {
	f := newServerFixture()
	f.pipeline.err = agent.NewError(agent.ErrorKindIntentParse, "understanding", errors.New("bad json"))

	rec := f.do(http.MethodPost, "/api/v1/query", QueryRequest{Text: "???"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "intent_parse")
}

func TestHandleQuery_TransientFailureMapsToServiceUnavailable(t *testing.T) {
	f := newServerFixture()
	f.pipeline.err = agent.NewError(agent.ErrorKindModelTimeout, "planning", errors.New("deadline"))

	rec := f.do(http.MethodPost, "/api/v1/query", QueryRequest{Text: "coffee"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestHandleQuery_UnsafeQueryMapsToUnprocessable(t *testing.T) {
	f := newServerFixture()
	f.pipeline.err = agent.NewError(agent.ErrorKindUnsafeQuery, "planning", errors.New("forbidden keyword"))

	rec := f.do(http.MethodPost, "/api/v1/query", QueryRequest{Text: "drop my data"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListInsights(t *testing.T) {
	f := newServerFixture()
	f.pipeline.insights = []models.Insight{{ID: "i1", UserID: "alice"}}

	rec := f.do(http.MethodGet, "/api/v1/insights?unread_only=true", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "i1")
}

func TestMarkInsightRead_NotFound(t *testing.T) {
	f := newServerFixture()
	f.insights.err = services.ErrNotFound

	rec := f.do(http.MethodPost, "/api/v1/insights/unknown/read", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetPreferences_Merges(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodPost, "/api/v1/preferences", PreferencePatch{
		Categories: map[string]CategoryPatch{
			"coffee": {Enabled: true, Threshold: decimal.NewFromFloat(50)},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coffee")
}

func TestGetRecommendations(t *testing.T) {
	f := newServerFixture()
	f.prefs.recs = []models.Recommendation{{
		Category: "coffee",
		Action:   "track_category",
		Reason:   "You asked about coffee 5 times recently. Set a budget threshold to track it.",
		Score:    0.25,
	}}

	rec := f.do(http.MethodGet, "/api/v1/recommendations", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "track_category")
	assert.Contains(t, rec.Body.String(), "coffee")
}

func TestCreateAlert(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodPost, "/api/v1/alerts", CreateAlertRequest{
		AlertType:       "spending_threshold",
		ThresholdValue:  decimal.NewFromFloat(20),
		ThresholdPeriod: "daily",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "created")
}

func TestCreateAlert_ValidationErrorMapsToBadRequest(t *testing.T) {
	f := newServerFixture()
	f.alerts.err = services.NewValidationError("threshold_period", "unknown period")

	rec := f.do(http.MethodPost, "/api/v1/alerts", CreateAlertRequest{
		AlertType:       "spending_threshold",
		ThresholdValue:  decimal.NewFromFloat(20),
		ThresholdPeriod: "fortnightly",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetAlertActive(t *testing.T) {
	f := newServerFixture()
	inactive := false

	rec := f.do(http.MethodPost, "/api/v1/alerts/a1/active", SetAlertActiveRequest{Active: &inactive})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1"}, f.alerts.deactivated)
}

func TestSetAlertActive_UnknownIDMapsToNotFound(t *testing.T) {
	f := newServerFixture()
	f.alerts.err = services.ErrNotFound
	active := true

	rec := f.do(http.MethodPost, "/api/v1/alerts/missing/active", SetAlertActiveRequest{Active: &active})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordInteraction(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodPost, "/api/v1/interactions", InteractionRequest{
		EventType: "insight_viewed",
		Payload:   map[string]any{"insight_id": "i1"},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGetDashboard(t *testing.T) {
	f := newServerFixture()
	f.pipeline.dashboard = orchestrator.DashboardData{
		Insights:      []models.Insight{{ID: "i1"}},
		Preferences:   models.EmptyPreference("alice"),
		InsightsShown: 1,
	}

	rec := f.do(http.MethodGet, "/api/v1/dashboard", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "insights_shown")
}

func TestReady_UnhealthyDatabase(t *testing.T) {
	f := newServerFixture()
	f.health.err = errors.New("connection refused")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthyAndVersion(t *testing.T) {
	f := newServerFixture()

	for _, path := range []string{"/healthy", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		f.server.Engine().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
