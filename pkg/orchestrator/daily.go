package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/models"
)

// dailySummaryWindowDays is how far back the canned daily-summary pipeline
// looks.
const dailySummaryWindowDays = 30

// dashboardActivityLimit caps the interaction events shown on the dashboard.
const dashboardActivityLimit = 10

var centsPerDollar = decimal.NewFromInt(100)

// GenerateDailyInsights runs the canned daily-summary pipeline: aggregate
// the recent window through the fixed analyst queries, classify against the
// historical baseline, and fold in the improvement analysis over the window
// halves. It persists and returns the produced insights.
func (o *Orchestrator) GenerateDailyInsights(ctx context.Context, userID string) ([]models.Insight, error) {
	ctx, cancel := context.WithTimeout(ctx, o.requestTimeout)
	defer cancel()

	requestID := uuid.NewString()
	logger := o.logger.With("request_id", requestID, "user_id", userID, "pipeline", "daily_summary")

	now := o.now().UTC()
	end := now.Truncate(24 * time.Hour).AddDate(0, 0, 1)
	window := models.DateRange{Start: end.AddDate(0, 0, -dailySummaryWindowDays), End: end}
	intent := models.Intent{
		RawText:            "daily summary",
		Metric:             models.MetricTrend,
		DateRange:          window,
		NeedsVisualization: false,
	}

	var (
		aggregate agent.Aggregate
		baseline  agent.Baseline
	)
	err := o.runStage(ctx, logger, "executing", func(stageCtx context.Context) error {
		agg, err := o.analyst.AggregateSpending(stageCtx, userID, window, "")
		if err != nil {
			return err
		}
		aggregate = agg
		return nil
	})
	if err != nil {
		logger.Error("daily summary failed", "error", err)
		return nil, err
	}

	if b, err := o.analyst.HistoricalBaseline(ctx, userID, window, ""); err != nil {
		logger.Warn("baseline computation failed, classifying without it", "error", err)
	} else {
		baseline = b
	}

	result := aggregateResult(aggregate)

	var insights []models.Insight
	err = o.runStage(ctx, logger, "synthesizing", func(stageCtx context.Context) error {
		out, err := o.synthesizer.Synthesize(stageCtx, result, intent, baseline, userID)
		if err != nil {
			return err
		}
		insights = out
		return nil
	})
	if err != nil {
		logger.Error("daily summary synthesis failed", "error", err)
		return nil, err
	}

	// Improvement analysis over the window halves, best-effort.
	mid := window.Start.Add(window.Duration() / 2)
	earlier, errA := o.analyst.AggregateSpending(ctx, userID, models.DateRange{Start: window.Start, End: mid}, "")
	later, errB := o.analyst.AggregateSpending(ctx, userID, models.DateRange{Start: mid, End: window.End}, "")
	if errA != nil || errB != nil {
		logger.Warn("improvement analysis skipped", "error_first", errA, "error_second", errB)
	} else if in := o.synthesizer.Improvement(ctx, earlier, later, userID); in != nil {
		insights = append(insights, *in)
	}

	if ctx.Err() != nil {
		return nil, agent.NewError(agent.ErrorKindModelTimeout, "synthesizing",
			fmt.Errorf("request deadline exceeded: %w", ctx.Err()))
	}
	if err := o.insights.Save(ctx, insights); err != nil {
		return nil, agent.NewError(agent.ErrorKindInternal, "persisting", err)
	}

	o.recordInteraction(ctx, logger, userID, "daily_summary", map[string]any{"request_id": requestID})
	logger.Info("daily summary completed", "insights", len(insights))
	return insights, nil
}

// GetInsights returns the user's stored insights.
func (o *Orchestrator) GetInsights(ctx context.Context, userID string, unreadOnly bool) ([]models.Insight, error) {
	return o.insights.List(ctx, userID, unreadOnly)
}

// Dashboard assembles the combined user view: recent unread insights,
// preferences, and alert configurations.
func (o *Orchestrator) Dashboard(ctx context.Context, userID string) (DashboardData, error) {
	insights, err := o.insights.List(ctx, userID, true)
	if err != nil {
		return DashboardData{}, fmt.Errorf("failed to load insights: %w", err)
	}
	pref, err := o.preferences.Get(ctx, userID)
	if err != nil {
		return DashboardData{}, fmt.Errorf("failed to load preferences: %w", err)
	}
	configs, err := o.alerts.List(ctx, userID)
	if err != nil {
		return DashboardData{}, fmt.Errorf("failed to load alert configurations: %w", err)
	}
	activity, err := o.preferences.RecentInteractions(ctx, userID, dashboardActivityLimit)
	if err != nil {
		return DashboardData{}, fmt.Errorf("failed to load recent activity: %w", err)
	}
	return DashboardData{
		Insights:       insights,
		Preferences:    pref,
		AlertConfigs:   configs,
		RecentActivity: activity,
		GeneratedAt:    o.now().UTC(),
		UnreadOnly:     true,
		InsightsShown:  len(insights),
	}, nil
}

// aggregateResult shapes a fixed aggregate as a single-row query result so
// the synthesizer sees the same columns the generated plans produce.
func aggregateResult(agg agent.Aggregate) models.QueryResult {
	cents := agg.Total.Mul(centsPerDollar).IntPart()
	return models.QueryResult{
		Rows:     []models.Row{{"total_cents": cents, "txn_count": int64(agg.Count)}},
		RowCount: 1,
	}
}
